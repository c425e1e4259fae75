//go:build !no_dev_hooks

package manager

import (
	"github.com/google/uuid"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/testdevice"
)

const devHooks = true

// LoadTestDevice builds a synthetic device from a JSON spec and registers it
// under a fresh "test-<uuid>" id, replacing the previous synthetic device.
// It returns the new device handle.
func (m *Manager) LoadTestDevice(spec string) (string, error) {
	m.testMu.Lock()
	defer m.testMu.Unlock()

	id := "test-" + uuid.NewString()
	d, err := testdevice.New(id, spec)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	prev := m.testID
	m.mu.Unlock()
	if prev != "" {
		if err := m.Remove(prev); err != nil {
			m.logger.Debug("replace test device", "device", prev, "err", err)
		}
	}

	if err := m.add(d); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.testID = id
	m.mu.Unlock()
	return device.DeviceKey(id).Path(), nil
}

// ResetTestDevice removes the synthetic device. It is a no-op when none is
// loaded.
func (m *Manager) ResetTestDevice() error {
	m.testMu.Lock()
	defer m.testMu.Unlock()

	m.mu.Lock()
	id := m.testID
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.Remove(id)
}
