package device

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer that talks to the device tree.
// Callers classify with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("unsupported")
	ErrHardware        = errors.New("hardware failure")
)

// HardwareError reports an actor failure scoped to one profile.
type HardwareError struct {
	Profile int
	Err     error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("profile %d: %v: %v", e.Profile, ErrHardware, e.Err)
}

// Unwrap exposes both ErrHardware and the driver error.
func (e *HardwareError) Unwrap() []error {
	return []error{ErrHardware, e.Err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
