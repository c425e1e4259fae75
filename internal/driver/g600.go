package driver

import (
	"context"
	"fmt"
	"slices"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/hid"
)

// Logitech G600: 3 profiles, 4 DPI slots, 20 buttons (plus 20 G-Shift
// buttons that are preserved but not exposed) and one RGB LED.
const (
	g600NumProfiles = 3
	g600NumButtons  = 20
	g600NumDpi      = 4

	g600DpiMin  = 200
	g600DpiMax  = 8200
	g600DpiStep = 50

	g600ReportActive     = 0xF0
	g600ReportActiveSize = 4
	g600ReportSize       = 154
)

var g600ProfileReports = [g600NumProfiles]byte{0xF3, 0xF4, 0xF5}

// Profile report offsets.
const (
	g600OffRed        = 1
	g600OffEffect     = 4
	g600OffDuration   = 5
	g600OffFrequency  = 11
	g600OffDpiDefault = 13
	g600OffDpi        = 14
	g600OffButtons    = 31
)

// LED effect bytes.
const (
	g600LedSolid   = 0x00
	g600LedBreathe = 0x01
	g600LedCycle   = 0x02
)

// Button action codes.
const (
	g600CodeMouse    = 0x00
	g600CodeKey      = 0x01
	g600CodeGShift   = 0x02
	g600CodeDisabled = 0x0f
)

// Special functions carried in the key byte of a mouse-code button. The
// values double as the Special payload exposed for them.
const (
	G600SpecialResolutionUp        = 0x11
	G600SpecialResolutionDown      = 0x12
	G600SpecialResolutionCycleUp   = 0x13
	G600SpecialProfileCycleUp      = 0x14
	G600SpecialResolutionAlternate = 0x15
	G600SpecialSecondMode          = 0x17
)

var (
	g600ReportRates = []uint32{125, 250, 500, 1000}
	g600LedModes    = []device.LedMode{device.LedSolid, device.LedBreathing, device.LedCycle}
	g600ActionTypes = []device.ActionType{device.ActionNone, device.ActionButton, device.ActionSpecial, device.ActionKey}
)

// G600 is the Logitech G600 driver. It caches the raw profile reports so
// bytes it does not model survive a write.
type G600 struct {
	reports [g600NumProfiles][]byte
	active  byte
}

func NewG600() *G600 { return &G600{} }

func (g *G600) Name() string { return "Logitech G600" }

func (g *G600) Probe(ctx context.Context, t hid.Transport) error {
	buf, err := getReport(t, g600ReportActive, g600ReportActiveSize)
	if err != nil {
		return err
	}
	g.active = buf[1]
	return nil
}

func (g *G600) activeProfile() int    { return int(g.active>>4) & 0x0f }
func (g *G600) activeResolution() int { return int(g.active>>1) & 0x03 }

func (g *G600) Load(ctx context.Context, t hid.Transport, info *device.DeviceInfo) error {
	activeProfile := g.activeProfile()
	if activeProfile >= g600NumProfiles {
		return fmt.Errorf("active profile %d out of range: %w", activeProfile, ErrProtocol)
	}
	info.Profiles = info.Profiles[:0]
	for i, id := range g600ProfileReports {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, err := getReport(t, id, g600ReportSize)
		if err != nil {
			return err
		}
		g.reports[i] = buf
		info.Profiles = append(info.Profiles, g.decodeProfile(i, buf, i == activeProfile))
	}
	if info.Name == "" {
		info.Name = g.Name()
	}
	return nil
}

func (g *G600) decodeProfile(idx int, buf []byte, active bool) device.ProfileInfo {
	p := device.ProfileInfo{
		Index:         idx,
		IsActive:      active,
		ReportRate:    g600RawToHz(buf[g600OffFrequency]),
		ReportRates:   slices.Clone(g600ReportRates),
		AngleSnapping: -1,
		Debounce:      -1,
		Debounces:     []uint32{},
	}

	var dpiList []uint32
	for v := uint32(g600DpiMin); v <= g600DpiMax; v += g600DpiStep {
		dpiList = append(dpiList, v)
	}
	def := int(buf[g600OffDpiDefault]) - 1
	if def < 0 || def >= g600NumDpi {
		def = 0
	}
	act := def
	if active && g.activeResolution() < g600NumDpi {
		act = g.activeResolution()
	}
	for i := 0; i < g600NumDpi; i++ {
		raw := buf[g600OffDpi+i]
		p.Resolutions = append(p.Resolutions, device.ResolutionInfo{
			Index:        i,
			Resolution:   device.Unified(uint32(raw) * g600DpiStep),
			Resolutions:  slices.Clone(dpiList),
			Capabilities: []uint32{device.CapDisable},
			IsActive:     i == act,
			IsDefault:    i == def,
			IsDisabled:   raw == 0,
		})
	}

	for i := 0; i < g600NumButtons; i++ {
		off := g600OffButtons + 3*i
		p.Buttons = append(p.Buttons, device.ButtonInfo{
			Index:       i,
			Mapping:     g600DecodeButton(buf[off], buf[off+2]),
			ActionTypes: slices.Clone(g600ActionTypes),
		})
	}

	led := device.LedInfo{
		Modes:          slices.Clone(g600LedModes),
		Color:          device.Color{Red: buf[g600OffRed], Green: buf[g600OffRed+1], Blue: buf[g600OffRed+2]},
		ColorDepth:     device.ColorDepthRGB888,
		Brightness:     device.MaxBrightness,
		EffectDuration: device.ClampEffectDuration(uint32(buf[g600OffDuration]) * 1000),
	}
	switch buf[g600OffEffect] {
	case g600LedBreathe:
		led.Mode = device.LedBreathing
	case g600LedCycle:
		led.Mode = device.LedCycle
	default:
		led.Mode = device.LedSolid
	}
	p.Leds = []device.LedInfo{led}
	return p
}

func g600DecodeButton(code, key byte) device.Action {
	switch code {
	case g600CodeMouse:
		switch {
		case key == 0:
			return device.NoneAction{}
		case key >= G600SpecialResolutionUp:
			return device.SpecialAction{Special: uint32(key)}
		default:
			return device.ButtonAction{Button: uint32(key)}
		}
	case g600CodeKey:
		return device.KeyAction{Key: uint32(key)}
	case g600CodeGShift:
		return device.SpecialAction{Special: G600SpecialSecondMode}
	default:
		return device.NoneAction{}
	}
}

func (g *G600) WriteProfile(ctx context.Context, t hid.Transport, p device.ProfileInfo) error {
	if p.Index < 0 || p.Index >= g600NumProfiles || g.reports[p.Index] == nil {
		return fmt.Errorf("profile %d not loaded: %w", p.Index, ErrProtocol)
	}
	buf, err := g600EncodeProfile(p, g.reports[p.Index])
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sendReport(t, buf); err != nil {
		return err
	}
	g.reports[p.Index] = buf

	if !p.IsActive {
		return nil
	}
	if err := sendReport(t, []byte{g600ReportActive, 0x80 | byte(p.Index)<<4, 0, 0}); err != nil {
		return fmt.Errorf("set active profile: %w", err)
	}
	if r := p.ActiveResolution(); r >= 0 {
		if err := sendReport(t, []byte{g600ReportActive, 0x40 | byte(r)<<1, 0, 0}); err != nil {
			return fmt.Errorf("set active resolution: %w", err)
		}
	}
	g.active = byte(p.Index)<<4 | byte(max(p.ActiveResolution(), 0))<<1
	return nil
}

// g600EncodeProfile patches the modelled fields of p into a copy of base.
func g600EncodeProfile(p device.ProfileInfo, base []byte) ([]byte, error) {
	if len(base) != g600ReportSize {
		return nil, fmt.Errorf("cached report has %d bytes: %w", len(base), ErrProtocol)
	}
	buf := slices.Clone(base)
	buf[0] = g600ProfileReports[p.Index]

	if len(p.Leds) > 0 {
		led := p.Leds[0]
		buf[g600OffRed] = led.Color.Red
		buf[g600OffRed+1] = led.Color.Green
		buf[g600OffRed+2] = led.Color.Blue
		switch led.Mode {
		case device.LedSolid:
			buf[g600OffEffect] = g600LedSolid
		case device.LedBreathing:
			buf[g600OffEffect] = g600LedBreathe
		case device.LedCycle:
			buf[g600OffEffect] = g600LedCycle
		default:
			return nil, fmt.Errorf("led mode %s: %w", led.Mode, device.ErrInvalidArgument)
		}
		buf[g600OffDuration] = byte(min(led.EffectDuration/1000, 0x0f))
	}

	raw, err := g600HzToRaw(p.ReportRate)
	if err != nil {
		return nil, err
	}
	buf[g600OffFrequency] = raw

	if len(p.Resolutions) != g600NumDpi {
		return nil, fmt.Errorf("%d resolutions, want %d: %w", len(p.Resolutions), g600NumDpi, device.ErrInvalidArgument)
	}
	for i, r := range p.Resolutions {
		if r.IsDisabled {
			buf[g600OffDpi+i] = 0
			continue
		}
		raw, err := g600DpiToRaw(r.Resolution)
		if err != nil {
			return nil, fmt.Errorf("resolution %d: %w", i, err)
		}
		buf[g600OffDpi+i] = raw
	}
	if def := p.DefaultResolution(); def >= 0 {
		buf[g600OffDpiDefault] = byte(def + 1)
	}

	for i, b := range p.Buttons {
		if i >= g600NumButtons {
			break
		}
		off := g600OffButtons + 3*i
		code, mod, key, err := g600EncodeButton(b.Mapping, buf[off+1], buf[off+2])
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", i, err)
		}
		buf[off], buf[off+1], buf[off+2] = code, mod, key
	}
	return buf, nil
}

// g600EncodeButton keeps the cached modifier when a key mapping is unchanged.
func g600EncodeButton(a device.Action, oldMod, oldKey byte) (code, mod, key byte, err error) {
	switch v := a.(type) {
	case device.NoneAction:
		return g600CodeDisabled, 0, 0, nil
	case device.ButtonAction:
		if v.Button == 0 || v.Button >= G600SpecialResolutionUp {
			return 0, 0, 0, fmt.Errorf("button %d: %w", v.Button, device.ErrInvalidArgument)
		}
		return g600CodeMouse, 0, byte(v.Button), nil
	case device.SpecialAction:
		switch v.Special {
		case G600SpecialSecondMode:
			return g600CodeGShift, 0, 0, nil
		case G600SpecialResolutionUp, G600SpecialResolutionDown, G600SpecialResolutionCycleUp,
			G600SpecialProfileCycleUp, G600SpecialResolutionAlternate:
			return g600CodeMouse, 0, byte(v.Special), nil
		}
		return 0, 0, 0, fmt.Errorf("special 0x%x: %w", v.Special, device.ErrInvalidArgument)
	case device.KeyAction:
		if v.Key > 0xff {
			return 0, 0, 0, fmt.Errorf("key %d: %w", v.Key, device.ErrInvalidArgument)
		}
		if byte(v.Key) == oldKey {
			return g600CodeKey, oldMod, oldKey, nil
		}
		return g600CodeKey, 0, byte(v.Key), nil
	default:
		return 0, 0, 0, fmt.Errorf("action %s: %w", a.Type(), device.ErrInvalidArgument)
	}
}

func g600RawToHz(raw byte) uint32 {
	return 1000 / (uint32(raw) + 1)
}

func g600HzToRaw(hz uint32) (byte, error) {
	if !slices.Contains(g600ReportRates, hz) {
		return 0, fmt.Errorf("report rate %d: %w", hz, device.ErrInvalidArgument)
	}
	return byte(1000/hz - 1), nil
}

func g600DpiToRaw(d device.Dpi) (byte, error) {
	if d.Separate || d.X < g600DpiMin || d.X > g600DpiMax || d.X%g600DpiStep != 0 {
		return 0, fmt.Errorf("dpi %s: %w", d, device.ErrInvalidArgument)
	}
	return byte(d.X / g600DpiStep), nil
}
