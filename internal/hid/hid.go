// Package hid gives drivers report-level access to HID devices.
package hid

import (
	"errors"
	"fmt"
)

// ErrUnavailable is returned when the binary was built without HID support.
var ErrUnavailable = errors.New("hid support not compiled in")

// Transport is what a driver needs from an open device.
type Transport interface {
	// SendFeatureReport writes p; p[0] is the report id.
	SendFeatureReport(p []byte) (int, error)
	// GetFeatureReport reads into p; the caller sets p[0] to the report id.
	GetFeatureReport(p []byte) (int, error)
	Close() error
}

// DeviceInfo describes one enumerated HID interface.
type DeviceInfo struct {
	Path         string `json:"path"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	Serial       string `json:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Interface    int    `json:"interface"`
	UsagePage    uint16 `json:"usage_page"`
	Usage        uint16 `json:"usage"`
}

// MatchKey is the device database key, e.g. "usb:046d:c24a".
func (d DeviceInfo) MatchKey() string {
	return fmt.Sprintf("usb:%04x:%04x", d.VendorID, d.ProductID)
}

// Model is the model string exposed for hardware devices.
func (d DeviceInfo) Model() string {
	return d.MatchKey() + ":0"
}

// Bus enumerates and opens devices. System is the real implementation.
type Bus interface {
	Enumerate() ([]DeviceInfo, error)
	Open(path string) (Transport, error)
}
