package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/niltonperimneto/libratbag/internal/client"
	"github.com/niltonperimneto/libratbag/internal/device"
)

func flags(pairs ...any) string {
	var out []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1].(bool) {
			out = append(out, pairs[i].(string))
		}
	}
	if len(out) == 0 {
		return ""
	}
	return " (" + strings.Join(out, ", ") + ")"
}

func printDevice(w io.Writer, info *device.DeviceInfo) {
	fmt.Fprintf(w, "%s: %s\n", info.ID, info.Name)
	fmt.Fprintf(w, "  model: %s\n", info.Model)
	if info.FirmwareVersion != "" {
		fmt.Fprintf(w, "  firmware: %s\n", info.FirmwareVersion)
	}
	for _, p := range info.Profiles {
		name := ""
		if p.Name != "" {
			name = fmt.Sprintf(" %q", p.Name)
		}
		fmt.Fprintf(w, "  profile %d%s%s\n", p.Index, name,
			flags("active", p.IsActive, "disabled", p.Disabled, "dirty", p.IsDirty))
		fmt.Fprintf(w, "    report rate: %d Hz %v\n", p.ReportRate, p.ReportRates)
		if p.AngleSnapping >= 0 {
			fmt.Fprintf(w, "    angle snapping: %d\n", p.AngleSnapping)
		}
		if p.Debounce >= 0 {
			fmt.Fprintf(w, "    debounce: %d ms %v\n", p.Debounce, p.Debounces)
		}
		for _, r := range p.Resolutions {
			fmt.Fprintf(w, "    %s\n", formatResolution(r))
		}
		for _, b := range p.Buttons {
			fmt.Fprintf(w, "    %s\n", formatButton(b))
		}
		for _, l := range p.Leds {
			fmt.Fprintf(w, "    %s\n", formatLed(l))
		}
	}
}

func printProfile(w io.Writer, p *client.Profile) {
	name := ""
	if p.Name != "" {
		name = fmt.Sprintf(" %q", p.Name)
	}
	fmt.Fprintf(w, "profile %d%s%s\n", p.Index, name,
		flags("active", p.IsActive, "disabled", p.Disabled, "dirty", p.IsDirty))
	fmt.Fprintf(w, "  report rate: %d Hz %v\n", p.ReportRate, p.ReportRates)
	fmt.Fprintf(w, "  angle snapping: %d\n", p.AngleSnapping)
	fmt.Fprintf(w, "  debounce: %d %v\n", p.Debounce, p.Debounces)
	fmt.Fprintf(w, "  resolutions: %d, buttons: %d, leds: %d\n", len(p.Resolutions), len(p.Buttons), len(p.Leds))
}

func formatResolution(r device.ResolutionInfo) string {
	return fmt.Sprintf("resolution %d: %s dpi%s", r.Index, r.Resolution,
		flags("active", r.IsActive, "default", r.IsDefault, "disabled", r.IsDisabled))
}

func formatButton(b device.ButtonInfo) string {
	return fmt.Sprintf("button %d: %s", b.Index, formatAction(b.Mapping))
}

func formatAction(a device.Action) string {
	switch v := a.(type) {
	case nil, device.NoneAction:
		return "none"
	case device.MacroAction:
		steps := make([]string, len(v.Events))
		for i, ev := range v.Events {
			steps[i] = fmt.Sprintf("%d:%d", ev.Keycode, ev.Duration)
		}
		return "macro " + strings.Join(steps, ",")
	default:
		return fmt.Sprintf("%s %d", a.Type(), device.Code(a))
	}
}

func formatLed(l device.LedInfo) string {
	s := fmt.Sprintf("led %d: %s", l.Index, l.Mode)
	if l.Mode != device.LedOff {
		s += fmt.Sprintf(" color %s brightness %d", l.Color, l.Brightness)
	}
	if l.EffectDuration > 0 {
		s += fmt.Sprintf(" duration %d ms", l.EffectDuration)
	}
	return s
}
