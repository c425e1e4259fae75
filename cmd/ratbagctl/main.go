// Command ratbagctl inspects and configures mice through a running ratbagd.
//
// Usage:
//
//	ratbagctl [flags] <command> [args...]
//
// Flags:
//
//	-url string      daemon address (default $RATBAGD_URL or http://127.0.0.1:8080)
//	-api-key string  API key (default $RATBAGD_API_KEY)
//
// Run "ratbagctl help" for the command list, or "ratbagctl shell" for an
// interactive prompt.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/niltonperimneto/libratbag/internal/client"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	addr := flag.String("url", envOr("RATBAGD_URL", "http://127.0.0.1:8080"), "daemon address")
	apiKey := flag.String("api-key", os.Getenv("RATBAGD_API_KEY"), "API key")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ratbagctl [flags] <command> [args...]\n\n")
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output())
		printHelp(flag.CommandLine.Output())
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.New(*addr, client.WithAPIKey(*apiKey))

	var err error
	if flag.Arg(0) == "shell" {
		err = runShell(ctx, c)
	} else {
		err = run(ctx, c, os.Stdout, flag.Args())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ratbagctl:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
