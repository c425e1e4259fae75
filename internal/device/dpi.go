package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Resolution capability flags.
const (
	CapSeparateXY uint32 = 1
	CapDisable    uint32 = 2
)

// Dpi is a resolution value. A unified value applies to both axes; a
// separate one carries independent X and Y.
type Dpi struct {
	X, Y     uint32
	Separate bool
}

func Unified(v uint32) Dpi { return Dpi{X: v, Y: v} }

func SeparateDpi(x, y uint32) Dpi { return Dpi{X: x, Y: y, Separate: true} }

func (d Dpi) String() string {
	if d.Separate {
		return fmt.Sprintf("%dx%d", d.X, d.Y)
	}
	return fmt.Sprintf("%d", d.X)
}

// MarshalJSON encodes a unified value as a number and a separate one as [x, y].
func (d Dpi) MarshalJSON() ([]byte, error) {
	if d.Separate {
		return json.Marshal([2]uint32{d.X, d.Y})
	}
	return json.Marshal(d.X)
}

func (d *Dpi) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var xy []uint32
		if err := json.Unmarshal(data, &xy); err != nil {
			return invalidf("resolution: %v", err)
		}
		if len(xy) != 2 {
			return invalidf("resolution pair needs 2 values, got %d", len(xy))
		}
		*d = SeparateDpi(xy[0], xy[1])
		return nil
	}
	var v uint32
	if err := json.Unmarshal(data, &v); err != nil {
		return invalidf("resolution: %v", err)
	}
	*d = Unified(v)
	return nil
}
