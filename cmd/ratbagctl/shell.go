package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/niltonperimneto/libratbag/internal/client"
)

var shellCompleter = readline.NewPrefixCompleter(
	readline.PcItem("list"),
	readline.PcItem("info"),
	readline.PcItem("commit"),
	readline.PcItem("saved"),
	readline.PcItem("history"),
	readline.PcItem("profile"),
	readline.PcItem("resolution"),
	readline.PcItem("button"),
	readline.PcItem("led"),
	readline.PcItem("test",
		readline.PcItem("load"),
		readline.PcItem("reset"),
	),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

func historyFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ratbagctl_history")
}

// runShell reads commands until EOF, quit or ctx is cancelled. Command errors
// are printed and the loop continues.
func runShell(ctx context.Context, c *client.Client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ratbag> ",
		HistoryFile:     historyFile(),
		AutoComplete:    shellCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, `Type "help" for commands, "quit" to leave.`)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		quit, err := shellLine(ctx, c, out, line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
		if quit {
			return nil
		}
	}
}

// shellLine runs one shell input line and reports whether the shell should
// exit.
func shellLine(ctx context.Context, c *client.Client, w io.Writer, line string) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	switch args[0] {
	case "quit", "exit", "q":
		return true, nil
	case "shell":
		return false, fmt.Errorf("already in a shell")
	}
	return false, run(ctx, c, w, args)
}
