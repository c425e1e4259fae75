// Package testdevice builds synthetic devices from a JSON description so the
// daemon can be exercised without hardware.
package testdevice

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/niltonperimneto/libratbag/internal/device"
)

// Model is the model string of every synthetic device.
const Model = "test:0000:0000:0"

const (
	defaultRate       = 1000
	defaultDpi        = 1000
	defaultBrightness = 100
	dpiStep           = 100
)

var (
	defaultReportRates = []uint32{125, 250, 500, 1000}
	defaultLedModes    = []device.LedMode{
		device.LedOff, device.LedSolid, device.LedCycle, device.LedColorWave, device.LedBreathing,
	}
)

// Spec is the injection payload. Every field is optional.
type Spec struct {
	Profiles []ProfileSpec `json:"profiles"`
}

type ProfileSpec struct {
	Name          string           `json:"name"`
	IsActive      *bool            `json:"is_active"`
	IsDisabled    bool             `json:"is_disabled"`
	Rate          *uint32          `json:"rate"`
	ReportRates   []uint32         `json:"report_rates"`
	AngleSnapping *int32           `json:"angle_snapping"`
	Debounce      *int32           `json:"debounce"`
	Debounces     []uint32         `json:"debounces"`
	Resolutions   []ResolutionSpec `json:"resolutions"`
	Buttons       []ButtonSpec     `json:"buttons"`
	Leds          []LedSpec        `json:"leds"`
}

type ResolutionSpec struct {
	Xres         *uint32  `json:"xres"`
	Yres         *uint32  `json:"yres"`
	DpiMin       *uint32  `json:"dpi_min"`
	DpiMax       *uint32  `json:"dpi_max"`
	IsActive     *bool    `json:"is_active"`
	IsDefault    *bool    `json:"is_default"`
	IsDisabled   bool     `json:"is_disabled"`
	Capabilities []uint32 `json:"capabilities"`
}

type ButtonSpec struct {
	ActionType  string     `json:"action_type"`
	Button      uint32     `json:"button"`
	Key         uint32     `json:"key"`
	Special     uint32     `json:"special"`
	Macro       [][]uint32 `json:"macro"`
	ActionTypes []string   `json:"action_types"`
}

type LedSpec struct {
	Mode           uint32   `json:"mode"`
	Modes          []uint32 `json:"modes"`
	Color          []uint32 `json:"color"`
	SecondaryColor []uint32 `json:"secondary_color"`
	TertiaryColor  []uint32 `json:"tertiary_color"`
	Brightness     *uint32  `json:"brightness"`
	Duration       uint32   `json:"duration"`
}

// Parse decodes a spec. Blank input is the empty spec.
func Parse(data string) (Spec, error) {
	var s Spec
	if strings.TrimSpace(data) == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Spec{}, fmt.Errorf("test device spec: %v: %w", err, device.ErrInvalidArgument)
	}
	return s, nil
}

// New parses data and builds an actor-less device named after sysname.
func New(sysname, data string) (*device.Device, error) {
	spec, err := Parse(data)
	if err != nil {
		return nil, err
	}
	info, err := Build(sysname, spec)
	if err != nil {
		return nil, err
	}
	return device.New(info, nil)
}

// Build turns a spec into a consistent device tree. Under-specified or
// contradictory active/default flags are corrected rather than rejected.
func Build(sysname string, spec Spec) (device.DeviceInfo, error) {
	info := device.DeviceInfo{
		ID:    sysname,
		Name:  fmt.Sprintf("Test Device (%s)", sysname),
		Model: Model,
	}
	profiles := spec.Profiles
	if len(profiles) == 0 {
		profiles = []ProfileSpec{{}}
	}

	active := make([]*bool, len(profiles))
	for i, ps := range profiles {
		p, err := buildProfile(i, ps)
		if err != nil {
			return device.DeviceInfo{}, fmt.Errorf("profile %d: %w", i, err)
		}
		info.Profiles = append(info.Profiles, p)
		active[i] = ps.IsActive
	}
	for i, on := range pickOne(active) {
		info.Profiles[i].IsActive = on
	}
	return info, nil
}

func buildProfile(idx int, ps ProfileSpec) (device.ProfileInfo, error) {
	p := device.ProfileInfo{
		Index:         idx,
		Name:          ps.Name,
		Disabled:      ps.IsDisabled,
		ReportRate:    valueOr(ps.Rate, defaultRate),
		ReportRates:   ps.ReportRates,
		AngleSnapping: valueOr(ps.AngleSnapping, -1),
		Debounce:      valueOr(ps.Debounce, -1),
		Debounces:     ps.Debounces,
	}
	if p.ReportRates == nil {
		p.ReportRates = slices.Clone(defaultReportRates)
	}
	if p.Debounces == nil {
		p.Debounces = []uint32{}
	}

	resolutions := ps.Resolutions
	if len(resolutions) == 0 {
		resolutions = []ResolutionSpec{{}}
	}
	res, err := buildResolutions(resolutions)
	if err != nil {
		return p, err
	}
	p.Resolutions = res

	buttons := ps.Buttons
	if len(buttons) == 0 {
		buttons = []ButtonSpec{{}}
	}
	for i, bs := range buttons {
		b, err := buildButton(i, bs)
		if err != nil {
			return p, fmt.Errorf("button %d: %w", i, err)
		}
		p.Buttons = append(p.Buttons, b)
	}

	p.Leds = []device.LedInfo{}
	for i, ls := range ps.Leds {
		l, err := buildLed(i, ls)
		if err != nil {
			return p, fmt.Errorf("led %d: %w", i, err)
		}
		p.Leds = append(p.Leds, l)
	}
	return p, nil
}

func buildResolutions(specs []ResolutionSpec) ([]device.ResolutionInfo, error) {
	type xy struct{ x, y uint32 }
	values := make([]xy, len(specs))
	separate := false
	for i, rs := range specs {
		x := valueOr(rs.Xres, defaultDpi)
		y := valueOr(rs.Yres, x)
		values[i] = xy{x, y}
		if x != y {
			separate = true
		}
	}

	out := make([]device.ResolutionInfo, len(specs))
	active := make([]*bool, len(specs))
	def := make([]*bool, len(specs))
	for i, rs := range specs {
		list, err := dpiList(rs, values[i].x)
		if err != nil {
			return nil, fmt.Errorf("resolution %d: %w", i, err)
		}
		r := device.ResolutionInfo{
			Index:        i,
			Resolution:   device.Unified(values[i].x),
			Resolutions:  list,
			Capabilities: slices.Clone(rs.Capabilities),
			IsDisabled:   rs.IsDisabled,
		}
		if r.Capabilities == nil {
			r.Capabilities = []uint32{}
		}
		if separate {
			r.Resolution = device.SeparateDpi(values[i].x, values[i].y)
			if !slices.Contains(r.Capabilities, device.CapSeparateXY) {
				r.Capabilities = append(r.Capabilities, device.CapSeparateXY)
			}
		}
		out[i] = r
		active[i], def[i] = rs.IsActive, rs.IsDefault
	}
	for i, on := range pickOne(active) {
		out[i].IsActive = on
	}
	for i, on := range pickOne(def) {
		out[i].IsDefault = on
	}
	return out, nil
}

func dpiList(rs ResolutionSpec, xres uint32) ([]uint32, error) {
	if rs.DpiMin == nil || rs.DpiMax == nil {
		return []uint32{xres}, nil
	}
	lo, hi := *rs.DpiMin, *rs.DpiMax
	if hi < lo {
		return nil, fmt.Errorf("dpi_min %d above dpi_max %d: %w", lo, hi, device.ErrInvalidArgument)
	}
	if lo == hi {
		return []uint32{lo}, nil
	}
	var list []uint32
	for v := lo; ; v += dpiStep {
		list = append(list, v)
		if hi-v < dpiStep {
			break
		}
	}
	return list, nil
}

func buildButton(idx int, bs ButtonSpec) (device.ButtonInfo, error) {
	b := device.ButtonInfo{Index: idx, ActionTypes: slices.Clone(device.AllActionTypes)}
	if len(bs.ActionTypes) > 0 {
		b.ActionTypes = b.ActionTypes[:0]
		for _, name := range bs.ActionTypes {
			t, err := device.ParseActionType(name)
			if err != nil {
				return b, err
			}
			b.ActionTypes = append(b.ActionTypes, t)
		}
	}

	name := bs.ActionType
	if name == "" {
		name = "button"
	}
	t, err := device.ParseActionType(name)
	if err != nil {
		return b, err
	}
	switch t {
	case device.ActionMacro:
		m, err := device.MacroFromPairs(bs.Macro)
		if err != nil {
			return b, fmt.Errorf("button %d: %w", idx, err)
		}
		b.Mapping = m
	case device.ActionKey:
		b.Mapping = device.KeyAction{Key: bs.Key}
	case device.ActionSpecial:
		b.Mapping = device.SpecialAction{Special: bs.Special}
	case device.ActionButton:
		b.Mapping = device.ButtonAction{Button: bs.Button}
	default:
		b.Mapping = device.NoneAction{}
	}
	if !slices.Contains(b.ActionTypes, t) {
		return b, fmt.Errorf("action type %s not in action_types: %w", t, device.ErrInvalidArgument)
	}
	return b, nil
}

func buildLed(idx int, ls LedSpec) (device.LedInfo, error) {
	l := device.LedInfo{
		Index:          idx,
		Mode:           device.LedMode(ls.Mode),
		Modes:          slices.Clone(defaultLedModes),
		ColorDepth:     device.ColorDepthRGB888,
		Brightness:     device.ClampBrightness(valueOr(ls.Brightness, defaultBrightness)),
		EffectDuration: device.ClampEffectDuration(ls.Duration),
	}
	if len(ls.Modes) > 0 {
		l.Modes = l.Modes[:0]
		for _, m := range ls.Modes {
			l.Modes = append(l.Modes, device.LedMode(m))
		}
	}
	if !slices.Contains(l.Modes, l.Mode) {
		return l, fmt.Errorf("mode %s not supported: %w", l.Mode, device.ErrInvalidArgument)
	}
	var err error
	if l.Color, err = color(ls.Color); err != nil {
		return l, err
	}
	if l.SecondaryColor, err = color(ls.SecondaryColor); err != nil {
		return l, err
	}
	if l.TertiaryColor, err = color(ls.TertiaryColor); err != nil {
		return l, err
	}
	return l, nil
}

func color(rgb []uint32) (device.Color, error) {
	if rgb == nil {
		return device.Color{}, nil
	}
	if len(rgb) != 3 {
		return device.Color{}, fmt.Errorf("color needs 3 channels, got %d: %w", len(rgb), device.ErrInvalidArgument)
	}
	return device.NewColor(rgb[0], rgb[1], rgb[2])
}

// pickOne resolves a group of optional flags to exactly one true entry.
// Unset flags default to true for the first element and false after it; if
// the result is not exactly one true entry, index 0 wins.
func pickOne(flags []*bool) []bool {
	out := make([]bool, len(flags))
	count := 0
	for i, f := range flags {
		out[i] = i == 0
		if f != nil {
			out[i] = *f
		}
		if out[i] {
			count++
		}
	}
	if count != 1 {
		for i := range out {
			out[i] = i == 0
		}
	}
	return out
}

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
