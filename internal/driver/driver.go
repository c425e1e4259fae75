// Package driver defines the hardware protocol drivers and the actor that
// serializes all I/O to one device.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/hid"
)

// ErrProtocol marks a device reply the driver could not make sense of.
var ErrProtocol = errors.New("protocol error")

// Driver speaks one vendor protocol. A Driver value belongs to exactly one
// device and is only ever called from that device's actor goroutine.
type Driver interface {
	Name() string
	// Probe checks that the device answers the protocol.
	Probe(ctx context.Context, t hid.Transport) error
	// Load reads the device configuration into info.Profiles.
	Load(ctx context.Context, t hid.Transport, info *device.DeviceInfo) error
	// WriteProfile writes the full state of one profile.
	WriteProfile(ctx context.Context, t hid.Transport, p device.ProfileInfo) error
}

// Factory creates a fresh driver instance for one device.
type Factory func() Driver

var factories = map[string]Factory{
	"logitech_g600": func() Driver { return NewG600() },
}

// New returns a driver instance by its device database name.
func New(name string) (Driver, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("driver %q: %w", name, device.ErrUnsupported)
	}
	return f(), nil
}

// Names lists the known driver names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// BufferError reports a short read or write.
type BufferError struct {
	Report   byte
	Expected int
	Actual   int
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("report 0x%02X: expected %d bytes, got %d", e.Report, e.Expected, e.Actual)
}

func (e *BufferError) Unwrap() error { return ErrProtocol }

func getReport(t hid.Transport, id byte, size int) ([]byte, error) {
	buf := make([]byte, size)
	buf[0] = id
	n, err := t.GetFeatureReport(buf)
	if err != nil {
		return nil, fmt.Errorf("get report 0x%02X: %w", id, err)
	}
	if n < size {
		return nil, &BufferError{Report: id, Expected: size, Actual: n}
	}
	return buf, nil
}

func sendReport(t hid.Transport, buf []byte) error {
	n, err := t.SendFeatureReport(buf)
	if err != nil {
		return fmt.Errorf("send report 0x%02X: %w", buf[0], err)
	}
	if n < len(buf) {
		return &BufferError{Report: buf[0], Expected: len(buf), Actual: n}
	}
	return nil
}
