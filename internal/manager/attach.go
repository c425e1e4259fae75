package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/driver"
	"github.com/niltonperimneto/libratbag/internal/hid"
)

// Scan enumerates HID devices once and attaches every one the device
// database knows. Failures are logged per device; the returned error only
// reports a failed enumeration.
func (m *Manager) Scan(ctx context.Context) (int, error) {
	if m.bus == nil {
		return 0, nil
	}
	infos, err := m.bus.Enumerate()
	if err != nil {
		return 0, fmt.Errorf("enumerate: %w", err)
	}

	attached := 0
	for _, info := range infos {
		if ctx.Err() != nil {
			return attached, ctx.Err()
		}
		entry := m.db.Lookup(info.MatchKey())
		if entry == nil || info.Interface != entry.Interface {
			continue
		}
		if _, err := m.Attach(ctx, info, *entry); err != nil {
			m.logger.Warn("attach failed", "path", info.Path, "match", info.MatchKey(), "driver", entry.Driver, "err", err)
			continue
		}
		attached++
	}
	m.logger.Info("scan complete", "found", len(infos), "attached", attached)
	return attached, nil
}

// Attach opens a HID device, loads its configuration through the entry's
// driver and registers it.
func (m *Manager) Attach(ctx context.Context, info hid.DeviceInfo, entry Entry) (*device.Device, error) {
	if m.bus == nil {
		return nil, fmt.Errorf("attach: %w", hid.ErrUnavailable)
	}
	drv, err := driver.New(entry.Driver)
	if err != nil {
		return nil, err
	}
	t, err := m.bus.Open(info.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.Path, err)
	}

	devInfo := device.DeviceInfo{
		ID:    m.hardwareID(info),
		Name:  entry.Name,
		Model: info.Model(),
	}
	actor, err := driver.Start(ctx, drv, t, &devInfo, m.config.DriverTimeout, m.root)
	if err != nil {
		return nil, errors.Join(device.ErrHardware, err)
	}
	d, err := device.New(devInfo, actor)
	if err != nil {
		actor.Close()
		return nil, fmt.Errorf("%s: %w", entry.Driver, err)
	}

	m.mu.Lock()
	m.actors[devInfo.ID] = actor
	m.mu.Unlock()
	if err := m.add(d); err != nil {
		m.mu.Lock()
		delete(m.actors, devInfo.ID)
		m.mu.Unlock()
		actor.Close()
		return nil, err
	}
	return d, nil
}

// hardwareID derives a stable id from vendor and product, adding a numeric
// suffix for identical devices.
func (m *Manager) hardwareID(info hid.DeviceInfo) string {
	base := fmt.Sprintf("usb-%04x-%04x", info.VendorID, info.ProductID)
	id := base
	for n := 1; ; n++ {
		if _, err := m.registry.Get(id); err != nil {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}
