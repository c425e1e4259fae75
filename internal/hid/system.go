//go:build !no_hid

package hid

import (
	"fmt"

	gohid "github.com/sstallion/go-hid"
)

// System is the hidapi-backed Bus.
type System struct{}

// SystemBus returns the bus the daemon attaches hardware through.
func SystemBus() Bus { return System{} }

// Init initializes hidapi. Call once before using System.
func Init() error {
	if err := gohid.Init(); err != nil {
		return fmt.Errorf("hid init: %w", err)
	}
	return nil
}

// Exit releases hidapi resources.
func Exit() error {
	return gohid.Exit()
}

func (System) Enumerate() ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := gohid.Enumerate(0, 0, func(info *gohid.DeviceInfo) error {
		out = append(out, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			Interface:    info.InterfaceNbr,
			UsagePage:    info.UsagePage,
			Usage:        info.Usage,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hid enumerate: %w", err)
	}
	return out, nil
}

func (System) Open(path string) (Transport, error) {
	dev, err := gohid.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return dev, nil
}
