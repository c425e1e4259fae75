//go:build no_dev_hooks

package manager

import (
	"fmt"

	"github.com/niltonperimneto/libratbag/internal/device"
)

const devHooks = false

func (m *Manager) LoadTestDevice(spec string) (string, error) {
	return "", fmt.Errorf("LoadTestDevice: %w", device.ErrUnsupported)
}

func (m *Manager) ResetTestDevice() error {
	return fmt.Errorf("ResetTestDevice: %w", device.ErrUnsupported)
}
