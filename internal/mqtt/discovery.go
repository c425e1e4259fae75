//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strconv"

	"github.com/niltonperimneto/libratbag/internal/device"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/select/ratbag_usb-046d-c24a/profile/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Options           []string `json:"options,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// discoveryComponents lists every entity a device may publish, for removal.
var discoveryComponents = []struct{ comp, obj string }{
	{"select", "profile"},
	{"sensor", "dpi"},
	{"button", "commit"},
}

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(id string) string {
	return "ratbag_" + id
}

// buildDiscovery generates HA discovery messages for a device: a select for
// the active profile, a sensor for the active DPI and a commit button.
func buildDiscovery(info device.DeviceInfo, prefix string) []discoveryMsg {
	if len(info.Profiles) == 0 {
		return nil
	}

	avail := prefix + "/bridge/state"
	stateTopic := stateTopic(prefix, info.ID)
	cmdTopic := commandTopic(prefix, info.ID)
	nodeID := deviceIdentifier(info.ID)

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Model:       info.Model,
		Name:        info.Name,
		SWVersion:   info.FirmwareVersion,
	}

	options := make([]string, len(info.Profiles))
	for i := range info.Profiles {
		options[i] = strconv.Itoa(i)
	}

	return []discoveryMsg{
		{
			Topic: fmt.Sprintf("homeassistant/select/%s/profile/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              info.Name + " Profile",
				UniqueID:          nodeID + "_profile",
				StateTopic:        stateTopic,
				CommandTopic:      cmdTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.active_profile }}",
				CommandTemplate:   `{"profile": {{ value }}}`,
				Options:           options,
				Icon:              "mdi:mouse",
				Device:            haDev,
			}),
		},
		{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/dpi/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              info.Name + " DPI",
				UniqueID:          nodeID + "_dpi",
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json.dpi }}",
				UnitOfMeasurement: "dpi",
				StateClass:        "measurement",
				Device:            haDev,
			}),
		},
		{
			Topic: fmt.Sprintf("homeassistant/button/%s/commit/config", nodeID),
			Payload: mustJSON(haDiscovery{
				Name:              info.Name + " Commit",
				UniqueID:          nodeID + "_commit",
				CommandTopic:      cmdTopic,
				AvailabilityTopic: avail,
				PayloadPress:      `{"commit": true}`,
				Icon:              "mdi:content-save",
				Device:            haDev,
			}),
		},
	}
}

// buildRemoveDiscovery generates empty retained messages to remove a device from HA.
func buildRemoveDiscovery(id string) []discoveryMsg {
	nodeID := deviceIdentifier(id)
	msgs := make([]discoveryMsg, 0, len(discoveryComponents))
	for _, c := range discoveryComponents {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
		})
	}
	return msgs
}
