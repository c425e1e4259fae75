package device

import (
	"encoding/json"
	"slices"
)

// DeviceInfo is a detached copy of a device tree. Drivers and the test
// factory build one to create a Device; readers receive one as a snapshot.
type DeviceInfo struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Model           string        `json:"model"`
	FirmwareVersion string        `json:"firmware_version"`
	Profiles        []ProfileInfo `json:"profiles"`
}

// ProfileInfo is one stored configuration profile.
type ProfileInfo struct {
	Index         int              `json:"index"`
	Name          string           `json:"name"`
	IsActive      bool             `json:"is_active"`
	Disabled      bool             `json:"disabled"`
	IsDirty       bool             `json:"is_dirty"`
	ReportRate    uint32           `json:"report_rate"`
	ReportRates   []uint32         `json:"report_rates"`
	AngleSnapping int32            `json:"angle_snapping"`
	Debounce      int32            `json:"debounce"`
	Debounces     []uint32         `json:"debounces"`
	Resolutions   []ResolutionInfo `json:"resolutions"`
	Buttons       []ButtonInfo     `json:"buttons"`
	Leds          []LedInfo        `json:"leds"`
}

// ResolutionInfo is one DPI slot.
type ResolutionInfo struct {
	Index        int      `json:"index"`
	Resolution   Dpi      `json:"resolution"`
	Resolutions  []uint32 `json:"resolutions"`
	Capabilities []uint32 `json:"capabilities"`
	IsActive     bool     `json:"is_active"`
	IsDefault    bool     `json:"is_default"`
	IsDisabled   bool     `json:"is_disabled"`
}

// ButtonInfo is one physical button and its mapping.
type ButtonInfo struct {
	Index       int
	Mapping     Action
	ActionTypes []ActionType
}

type buttonWire struct {
	Index       int             `json:"index"`
	Mapping     json.RawMessage `json:"mapping"`
	ActionTypes []ActionType    `json:"action_types"`
}

func (b ButtonInfo) MarshalJSON() ([]byte, error) {
	m, err := MarshalAction(b.Mapping)
	if err != nil {
		return nil, err
	}
	return json.Marshal(buttonWire{Index: b.Index, Mapping: m, ActionTypes: b.ActionTypes})
}

func (b *ButtonInfo) UnmarshalJSON(data []byte) error {
	var w buttonWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Index, b.ActionTypes = w.Index, w.ActionTypes
	b.Mapping = NoneAction{}
	if len(w.Mapping) > 0 {
		a, err := UnmarshalAction(w.Mapping)
		if err != nil {
			return err
		}
		b.Mapping = a
	}
	return nil
}

// LedInfo is one LED's illumination state.
type LedInfo struct {
	Index          int       `json:"index"`
	Mode           LedMode   `json:"mode"`
	Modes          []LedMode `json:"modes"`
	Color          Color     `json:"color"`
	SecondaryColor Color     `json:"secondary_color"`
	TertiaryColor  Color     `json:"tertiary_color"`
	ColorDepth     uint32    `json:"color_depth"`
	Brightness     uint32    `json:"brightness"`
	EffectDuration uint32    `json:"effect_duration"`
}

// ActiveProfile returns the index of the active profile, or -1.
func (d *DeviceInfo) ActiveProfile() int {
	for i := range d.Profiles {
		if d.Profiles[i].IsActive {
			return i
		}
	}
	return -1
}

// ActiveResolution returns the index of the active resolution, or -1.
func (p *ProfileInfo) ActiveResolution() int {
	for i := range p.Resolutions {
		if p.Resolutions[i].IsActive {
			return i
		}
	}
	return -1
}

// DefaultResolution returns the index of the default resolution, or -1.
func (p *ProfileInfo) DefaultResolution() int {
	for i := range p.Resolutions {
		if p.Resolutions[i].IsDefault {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (d DeviceInfo) Clone() DeviceInfo {
	out := d
	out.Profiles = make([]ProfileInfo, len(d.Profiles))
	for i := range d.Profiles {
		out.Profiles[i] = d.Profiles[i].Clone()
	}
	return out
}

// Clone returns a deep copy.
func (p ProfileInfo) Clone() ProfileInfo {
	out := p
	out.ReportRates = slices.Clone(p.ReportRates)
	out.Debounces = slices.Clone(p.Debounces)
	out.Resolutions = make([]ResolutionInfo, len(p.Resolutions))
	for i, r := range p.Resolutions {
		out.Resolutions[i] = r.Clone()
	}
	out.Buttons = make([]ButtonInfo, len(p.Buttons))
	for i, b := range p.Buttons {
		out.Buttons[i] = b.Clone()
	}
	out.Leds = make([]LedInfo, len(p.Leds))
	for i, l := range p.Leds {
		out.Leds[i] = l.Clone()
	}
	return out
}

func (r ResolutionInfo) Clone() ResolutionInfo {
	r.Resolutions = slices.Clone(r.Resolutions)
	r.Capabilities = slices.Clone(r.Capabilities)
	return r
}

func (b ButtonInfo) Clone() ButtonInfo {
	b.Mapping = cloneAction(b.Mapping)
	b.ActionTypes = slices.Clone(b.ActionTypes)
	return b
}

func (l LedInfo) Clone() LedInfo {
	l.Modes = slices.Clone(l.Modes)
	return l
}

// validate checks the structural invariants a Device is built on and
// renumbers indices densely from zero.
func (d *DeviceInfo) validate() error {
	if d.ID == "" {
		return invalidf("device id is empty")
	}
	if len(d.Profiles) == 0 {
		return invalidf("device %s has no profiles", d.ID)
	}
	active := 0
	for i := range d.Profiles {
		p := &d.Profiles[i]
		p.Index = i
		if p.IsActive {
			active++
		}
		if len(p.Resolutions) == 0 {
			return invalidf("profile %d has no resolutions", i)
		}
		var act, def int
		separate := p.Resolutions[0].Resolution.Separate
		for j := range p.Resolutions {
			r := &p.Resolutions[j]
			r.Index = j
			if r.IsActive {
				act++
			}
			if r.IsDefault {
				def++
			}
			if r.Resolution.Separate != separate {
				return invalidf("profile %d mixes unified and separate resolutions", i)
			}
		}
		if act != 1 || def != 1 {
			return invalidf("profile %d has %d active and %d default resolutions", i, act, def)
		}
		for j := range p.Buttons {
			b := &p.Buttons[j]
			b.Index = j
			if b.Mapping == nil {
				b.Mapping = NoneAction{}
			}
		}
		for j := range p.Leds {
			p.Leds[j].Index = j
		}
	}
	if active != 1 {
		return invalidf("device %s has %d active profiles", d.ID, active)
	}
	return nil
}
