package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/niltonperimneto/libratbag/internal/client"
	"github.com/niltonperimneto/libratbag/internal/device"
)

var errUsage = errors.New("usage")

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Commands:
  list                                   list devices
  info <dev>                             show the device tree
  commit <dev>                           write dirty profiles to the device
  saved <dev>                            show the last committed snapshot
  history <dev> [n]                      list recent commits

  profile <dev> <p>                      show a profile
  profile <dev> <p> active               make the profile active
  profile <dev> <p> name <name>
  profile <dev> <p> enable|disable
  profile <dev> <p> rate <hz>
  profile <dev> <p> angle-snapping <n>
  profile <dev> <p> debounce <ms>

  resolution <dev> <p> <r>               show a resolution
  resolution <dev> <p> <r> active|default
  resolution <dev> <p> <r> set <dpi>|<x>x<y>
  resolution <dev> <p> <r> enable|disable

  button <dev> <p> <b>                   show a button
  button <dev> <p> <b> none
  button <dev> <p> <b> button|special|key <code>
  button <dev> <p> <b> macro <key>:<ms>[,<key>:<ms>...]

  led <dev> <p> <l>                      show an LED
  led <dev> <p> <l> mode <name|n>
  led <dev> <p> <l> color|secondary|tertiary <rrggbb>|<r>,<g>,<b>
  led <dev> <p> <l> brightness <0-255>
  led <dev> <p> <l> duration <ms>

  test load <file|->                     inject a synthetic device
  test reset                             remove the synthetic device

  shell                                  interactive prompt

<dev> is a device id or handle.
`)
}

// run executes one command and writes its output to w.
func run(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	if len(args) == 0 {
		return usagef("no command")
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "help", "?":
		printHelp(w)
		return nil
	case "list", "ls":
		return cmdList(ctx, c, w)
	case "info":
		if len(args) != 1 {
			return usagef("info <dev>")
		}
		return cmdInfo(ctx, c, w, client.DeviceID(args[0]))
	case "commit":
		if len(args) != 1 {
			return usagef("commit <dev>")
		}
		return cmdCommit(ctx, c, w, client.DeviceID(args[0]))
	case "saved":
		if len(args) != 1 {
			return usagef("saved <dev>")
		}
		return cmdSaved(ctx, c, w, client.DeviceID(args[0]))
	case "history":
		return cmdHistory(ctx, c, w, args)
	case "profile":
		return cmdProfile(ctx, c, w, args)
	case "resolution", "res":
		return cmdResolution(ctx, c, w, args)
	case "button":
		return cmdButton(ctx, c, w, args)
	case "led":
		return cmdLed(ctx, c, w, args)
	case "test":
		return cmdTest(ctx, c, w, args)
	default:
		return usagef("unknown command %q", cmd)
	}
}

func cmdList(ctx context.Context, c *client.Client, w io.Writer) error {
	devs, err := c.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "no devices")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODEL\tPROFILES")
	for _, d := range devs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.ID, d.Name, d.Model, len(d.Profiles))
	}
	return tw.Flush()
}

func cmdInfo(ctx context.Context, c *client.Client, w io.Writer, id string) error {
	info, err := c.Device(ctx, id)
	if err != nil {
		return err
	}
	printDevice(w, info)
	return nil
}

func cmdCommit(ctx context.Context, c *client.Client, w io.Writer, id string) error {
	res, err := c.Commit(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: written %v, failed %v\n", statusName(res.Status), res.Written, res.Failed)
	if res.Error != "" {
		fmt.Fprintln(w, "  ", res.Error)
	}
	if res.Status == device.StatusPartialFailure || res.Status == device.StatusFailure {
		return fmt.Errorf("commit %s", statusName(res.Status))
	}
	return nil
}

func statusName(s int) string {
	switch s {
	case device.StatusSuccess:
		return "success"
	case device.StatusNoDriver:
		return "no driver"
	case device.StatusPartialFailure:
		return "partial failure"
	case device.StatusFailure:
		return "failure"
	}
	return fmt.Sprintf("status %d", s)
}

func cmdSaved(ctx context.Context, c *client.Client, w io.Writer, id string) error {
	snap, err := c.Saved(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "commit %s at %s (%s), written %v\n",
		snap.CommitID, snap.CommittedAt.Format("2006-01-02 15:04:05"), statusName(snap.Status), snap.Written)
	printDevice(w, &device.DeviceInfo{
		ID:              snap.DeviceID,
		Name:            snap.Name,
		Model:           snap.Model,
		FirmwareVersion: snap.FirmwareVersion,
		Profiles:        snap.Profiles,
	})
	return nil
}

func cmdHistory(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usagef("history <dev> [n]")
	}
	limit := 10
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return usagef("history count must be a positive integer")
		}
		limit = n
	}
	snaps, err := c.History(ctx, client.DeviceID(args[0]), limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMMIT\tTIME\tSTATUS\tWRITTEN")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", s.CommitID, s.CommittedAt.Format("2006-01-02 15:04:05"), statusName(s.Status), s.Written)
	}
	return tw.Flush()
}

// indices parses n positional indices after the device argument.
func indices(args []string, n int, usage string) (string, []int, []string, error) {
	if len(args) < n+1 {
		return "", nil, nil, usagef("%s", usage)
	}
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(args[i+1])
		if err != nil || v < 0 {
			return "", nil, nil, usagef("index %q is not a non-negative integer", args[i+1])
		}
		idx[i] = v
	}
	return client.DeviceID(args[0]), idx, args[n+1:], nil
}

func cmdProfile(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	id, idx, rest, err := indices(args, 1, "profile <dev> <p> [action]")
	if err != nil {
		return err
	}
	p := idx[0]

	var prof *client.Profile
	if len(rest) == 0 {
		prof, err = c.Profile(ctx, id, p)
	} else {
		var patch client.ProfilePatch
		switch {
		case rest[0] == "active" && len(rest) == 1:
			prof, err = c.ActivateProfile(ctx, id, p)
		case rest[0] == "name" && len(rest) >= 2:
			name := strings.Join(rest[1:], " ")
			patch.Name = &name
		case (rest[0] == "enable" || rest[0] == "disable") && len(rest) == 1:
			disabled := rest[0] == "disable"
			patch.Disabled = &disabled
		case rest[0] == "rate" && len(rest) == 2:
			v, perr := strconv.ParseUint(rest[1], 10, 32)
			if perr != nil {
				return usagef("rate %q", rest[1])
			}
			rate := uint32(v)
			patch.ReportRate = &rate
		case (rest[0] == "angle-snapping" || rest[0] == "debounce") && len(rest) == 2:
			v, perr := strconv.ParseInt(rest[1], 10, 32)
			if perr != nil {
				return usagef("%s %q", rest[0], rest[1])
			}
			n := int32(v)
			if rest[0] == "debounce" {
				patch.Debounce = &n
			} else {
				patch.AngleSnapping = &n
			}
		default:
			return usagef("profile action %q", strings.Join(rest, " "))
		}
		if prof == nil && err == nil {
			prof, err = c.PatchProfile(ctx, id, p, patch)
		}
	}
	if err != nil {
		return err
	}
	printProfile(w, prof)
	return nil
}

func cmdResolution(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	id, idx, rest, err := indices(args, 2, "resolution <dev> <p> <r> [action]")
	if err != nil {
		return err
	}
	p, r := idx[0], idx[1]

	var res *device.ResolutionInfo
	switch {
	case len(rest) == 0:
		res, err = c.Resolution(ctx, id, p, r)
	case rest[0] == "active" && len(rest) == 1:
		res, err = c.ActivateResolution(ctx, id, p, r)
	case rest[0] == "default" && len(rest) == 1:
		res, err = c.DefaultResolution(ctx, id, p, r)
	case rest[0] == "set" && len(rest) == 2:
		dpi, perr := parseDpi(rest[1])
		if perr != nil {
			return perr
		}
		res, err = c.PatchResolution(ctx, id, p, r, client.ResolutionPatch{Resolution: &dpi})
	case (rest[0] == "enable" || rest[0] == "disable") && len(rest) == 1:
		disabled := rest[0] == "disable"
		res, err = c.PatchResolution(ctx, id, p, r, client.ResolutionPatch{IsDisabled: &disabled})
	default:
		return usagef("resolution action %q", strings.Join(rest, " "))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatResolution(*res))
	return nil
}

func cmdButton(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	id, idx, rest, err := indices(args, 2, "button <dev> <p> <b> [mapping]")
	if err != nil {
		return err
	}
	p, b := idx[0], idx[1]

	var btn *device.ButtonInfo
	if len(rest) == 0 {
		btn, err = c.Button(ctx, id, p, b)
	} else {
		a, perr := parseAction(rest)
		if perr != nil {
			return perr
		}
		btn, err = c.SetMapping(ctx, id, p, b, a)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatButton(*btn))
	return nil
}

func cmdLed(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	id, idx, rest, err := indices(args, 2, "led <dev> <p> <l> [action]")
	if err != nil {
		return err
	}
	p, l := idx[0], idx[1]

	var led *device.LedInfo
	if len(rest) == 0 {
		led, err = c.Led(ctx, id, p, l)
	} else {
		if len(rest) != 2 {
			return usagef("led action %q", strings.Join(rest, " "))
		}
		var patch client.LedPatch
		switch rest[0] {
		case "mode":
			m, perr := device.ParseLedMode(rest[1])
			if perr != nil {
				return perr
			}
			patch.Mode = &m
		case "color", "secondary", "tertiary":
			col, perr := parseColor(rest[1])
			if perr != nil {
				return perr
			}
			switch rest[0] {
			case "color":
				patch.Color = &col
			case "secondary":
				patch.SecondaryColor = &col
			default:
				patch.TertiaryColor = &col
			}
		case "brightness", "duration":
			v, perr := strconv.ParseUint(rest[1], 10, 32)
			if perr != nil {
				return usagef("%s %q", rest[0], rest[1])
			}
			n := uint32(v)
			if rest[0] == "brightness" {
				patch.Brightness = &n
			} else {
				patch.EffectDuration = &n
			}
		default:
			return usagef("led action %q", rest[0])
		}
		led, err = c.PatchLed(ctx, id, p, l, patch)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatLed(*led))
	return nil
}

func cmdTest(ctx context.Context, c *client.Client, w io.Writer, args []string) error {
	switch {
	case len(args) == 2 && args[0] == "load":
		var spec []byte
		var err error
		if args[1] == "-" {
			spec, err = io.ReadAll(os.Stdin)
		} else {
			spec, err = os.ReadFile(args[1])
		}
		if err != nil {
			return err
		}
		handle, err := c.LoadTestDevice(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, handle)
		return nil
	case len(args) == 1 && args[0] == "reset":
		return c.ResetTestDevice(ctx)
	}
	return usagef("test load <file|-> | test reset")
}

// parseDpi accepts "800" or "800x600".
func parseDpi(s string) (device.Dpi, error) {
	if x, y, ok := strings.Cut(s, "x"); ok {
		xv, err1 := strconv.ParseUint(x, 10, 32)
		yv, err2 := strconv.ParseUint(y, 10, 32)
		if err1 != nil || err2 != nil {
			return device.Dpi{}, usagef("resolution %q", s)
		}
		return device.SeparateDpi(uint32(xv), uint32(yv)), nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return device.Dpi{}, usagef("resolution %q", s)
	}
	return device.Unified(uint32(v)), nil
}

// parseColor accepts "rrggbb", "#rrggbb" or "r,g,b".
func parseColor(s string) (device.Color, error) {
	if parts := strings.Split(s, ","); len(parts) == 3 {
		var ch [3]uint32
		for i, part := range parts {
			v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				return device.Color{}, usagef("color %q", s)
			}
			ch[i] = uint32(v)
		}
		return device.NewColor(ch[0], ch[1], ch[2])
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return device.Color{}, usagef("color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return device.Color{}, usagef("color %q", s)
	}
	return device.NewColor(uint32(v>>16), uint32(v>>8&0xff), uint32(v&0xff))
}

// parseAction turns "none", "key 30" or "macro 30:10,31:10" into a mapping.
func parseAction(args []string) (device.Action, error) {
	t, err := device.ParseActionType(args[0])
	if err != nil {
		return nil, err
	}
	switch t {
	case device.ActionNone:
		if len(args) != 1 {
			return nil, usagef("none takes no value")
		}
		return device.NoneAction{}, nil
	case device.ActionMacro:
		if len(args) < 2 {
			return nil, usagef("macro <key>:<ms>[,<key>:<ms>...]")
		}
		var events []device.MacroEvent
		for _, step := range strings.Split(strings.Join(args[1:], ","), ",") {
			step = strings.TrimSpace(step)
			if step == "" {
				continue
			}
			k, d, ok := strings.Cut(step, ":")
			kv, err1 := strconv.ParseUint(k, 10, 32)
			dv, err2 := strconv.ParseUint(d, 10, 32)
			if !ok || err1 != nil || err2 != nil {
				return nil, usagef("macro step %q", step)
			}
			events = append(events, device.MacroEvent{Keycode: uint32(kv), Duration: uint32(dv)})
		}
		return device.NewMacro(events), nil
	}
	if len(args) != 2 {
		return nil, usagef("%s <code>", t)
	}
	code, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return nil, usagef("code %q", args[1])
	}
	return device.NewAction(t, uint32(code))
}
