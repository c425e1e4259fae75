//go:build !no_dev_hooks

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/niltonperimneto/libratbag/internal/client"
	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/manager"
	"github.com/niltonperimneto/libratbag/internal/web"
)

const mouseSpec = `{"profiles": [
  {"is_active": true, "name": "work",
   "resolutions": [
     {"xres": 800, "is_active": true, "is_default": true},
     {"xres": 1600, "is_active": false, "is_default": false}
   ],
   "buttons": [{"action_type": "button", "button": 1}],
   "leds": [{"mode": 1, "color": [255, 0, 0]}]}
]}`

func newTestCLI(t *testing.T) *client.Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := manager.New(nil, nil, nil, manager.NewEventBus(logger), manager.Config{}, logger)
	t.Cleanup(mgr.Stop)
	srv := web.NewServer(mgr, logger)
	t.Cleanup(srv.Stop)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return client.New(ts.URL)
}

func runCmd(t *testing.T, c *client.Client, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), c, &out, strings.Fields(line))
	return out.String(), err
}

func loadSpec(t *testing.T, c *client.Client) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mouse.json")
	if err := os.WriteFile(path, []byte(mouseSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCmd(t, c, "test load "+path)
	if err != nil {
		t.Fatal(err)
	}
	return client.DeviceID(strings.TrimSpace(out))
}

func TestCLIList(t *testing.T) {
	c := newTestCLI(t)

	out, err := runCmd(t, c, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no devices") {
		t.Errorf("empty list = %q", out)
	}

	id := loadSpec(t, c)
	out, err = runCmd(t, c, "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "test:0000:0000:0") {
		t.Errorf("list = %q", out)
	}
}

func TestCLIInfo(t *testing.T) {
	c := newTestCLI(t)
	id := loadSpec(t, c)

	out, err := runCmd(t, c, "info /api/devices/"+id)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`profile 0 "work" (active)`,
		"resolution 0: 800 dpi (active, default)",
		"resolution 1: 1600 dpi",
		"button 0: button 1",
		"led 0: solid color ff0000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("info missing %q:\n%s", want, out)
		}
	}
}

func TestCLISetters(t *testing.T) {
	c := newTestCLI(t)
	id := loadSpec(t, c)

	steps := []struct {
		line string
		want string
	}{
		{"profile " + id + " 0 name gaming mode", `profile 0 "gaming mode" (active, dirty)`},
		{"resolution " + id + " 0 1 active", "resolution 1: 1600 dpi (active)"},
		{"resolution " + id + " 0 0 set 1200", "resolution 0: 1200 dpi (default)"},
		{"button " + id + " 0 0 key 30", "button 0: key 30"},
		{"button " + id + " 0 0 macro 30:10,31:10", "button 0: macro 30:10,31:10"},
		{"led " + id + " 0 0 color 00ff00", "color 00ff00"},
		{"led " + id + " 0 0 mode breathing", "led 0: breathing"},
		{"led " + id + " 0 0 brightness 300", "brightness 255"},
	}
	for _, s := range steps {
		out, err := runCmd(t, c, s.line)
		if err != nil {
			t.Fatalf("%s: %v", s.line, err)
		}
		if !strings.Contains(out, s.want) {
			t.Errorf("%s: output %q, want %q", s.line, out, s.want)
		}
	}
}

func TestCLICommitNoDriver(t *testing.T) {
	c := newTestCLI(t)
	id := loadSpec(t, c)

	out, err := runCmd(t, c, "commit "+id)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "no driver") {
		t.Errorf("commit = %q", out)
	}
}

func TestCLIErrors(t *testing.T) {
	c := newTestCLI(t)
	id := loadSpec(t, c)

	if _, err := runCmd(t, c, "frobnicate"); !errors.Is(err, errUsage) {
		t.Errorf("unknown command err = %v", err)
	}
	if _, err := runCmd(t, c, "profile "+id+" x"); !errors.Is(err, errUsage) {
		t.Errorf("bad index err = %v", err)
	}
	if _, err := runCmd(t, c, "info nope"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("unknown device err = %v", err)
	}
	if _, err := runCmd(t, c, "resolution "+id+" 0 5"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("stale resolution err = %v", err)
	}
	if _, err := runCmd(t, c, "led "+id+" 0 0 mode 99"); !errors.Is(err, device.ErrInvalidArgument) {
		t.Errorf("bad mode err = %v", err)
	}
}

func TestCLITestReset(t *testing.T) {
	c := newTestCLI(t)
	id := loadSpec(t, c)

	if _, err := runCmd(t, c, "test reset"); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, c, "info "+id); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestShellLine(t *testing.T) {
	c := newTestCLI(t)
	var out bytes.Buffer

	quit, err := shellLine(context.Background(), c, &out, "   ")
	if quit || err != nil {
		t.Errorf("blank line: quit=%v err=%v", quit, err)
	}
	quit, err = shellLine(context.Background(), c, &out, "list")
	if quit || err != nil {
		t.Errorf("list: quit=%v err=%v", quit, err)
	}
	if _, err := shellLine(context.Background(), c, &out, "shell"); err == nil {
		t.Error("nested shell should fail")
	}
	if quit, _ := shellLine(context.Background(), c, &out, "quit"); !quit {
		t.Error("quit should end the shell")
	}
}
