//go:build no_hid

package hid

// System is a Bus with no devices when HID support is compiled out.
type System struct{}

// SystemBus returns nil: there is no hardware to attach.
func SystemBus() Bus { return nil }

func Init() error { return nil }

func Exit() error { return nil }

func (System) Enumerate() ([]DeviceInfo, error) { return nil, nil }

func (System) Open(path string) (Transport, error) { return nil, ErrUnavailable }
