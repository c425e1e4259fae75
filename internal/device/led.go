package device

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// LedMode is an illumination effect.
type LedMode uint32

const (
	LedOff       LedMode = 0
	LedSolid     LedMode = 1
	LedCycle     LedMode = 3
	LedColorWave LedMode = 4
	LedBreathing LedMode = 10
)

var ledModeNames = map[LedMode]string{
	LedOff:       "off",
	LedSolid:     "solid",
	LedCycle:     "cycle",
	LedColorWave: "colorwave",
	LedBreathing: "breathing",
}

func (m LedMode) String() string {
	if s, ok := ledModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// ParseLedMode accepts a mode name or its numeric value.
func ParseLedMode(s string) (LedMode, error) {
	for m, name := range ledModeNames {
		if name == s {
			return m, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		return LedMode(n), nil
	}
	return 0, invalidf("led mode %q", s)
}

// Color depths reported by LEDs.
const (
	ColorDepthMonochrome uint32 = 0
	ColorDepthRGB888     uint32 = 1
	ColorDepthRGB111     uint32 = 2
)

const (
	MaxBrightness     = 255
	MaxEffectDuration = 10000
)

// Color is an RGB triple.
type Color struct {
	Red, Green, Blue uint8
}

// NewColor rejects channels above 255 instead of truncating them.
func NewColor(r, g, b uint32) (Color, error) {
	if r > 255 || g > 255 || b > 255 {
		return Color{}, invalidf("color (%d, %d, %d) out of range 0-255", r, g, b)
	}
	return Color{Red: uint8(r), Green: uint8(g), Blue: uint8(b)}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("%02x%02x%02x", c.Red, c.Green, c.Blue)
}

// MarshalJSON encodes a color as [r, g, b].
func (c Color) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]uint32{uint32(c.Red), uint32(c.Green), uint32(c.Blue)})
}

func (c *Color) UnmarshalJSON(data []byte) error {
	var rgb []uint32
	if err := json.Unmarshal(data, &rgb); err != nil {
		return invalidf("color: %v", err)
	}
	if len(rgb) != 3 {
		return invalidf("color needs 3 channels, got %d", len(rgb))
	}
	v, err := NewColor(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ClampBrightness and ClampEffectDuration implement the LED clamping rules.
func ClampBrightness(v uint32) uint32 {
	return min(v, MaxBrightness)
}

func ClampEffectDuration(v uint32) uint32 {
	return min(v, MaxEffectDuration)
}
