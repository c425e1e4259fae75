package store

import (
	"time"

	"github.com/niltonperimneto/libratbag/internal/device"
)

// Snapshot is the state of a device as written by one commit.
type Snapshot struct {
	DeviceID        string               `json:"device_id"`
	CommitID        string               `json:"commit_id"`
	Name            string               `json:"name"`
	Model           string               `json:"model"`
	FirmwareVersion string               `json:"firmware_version,omitempty"`
	Status          int                  `json:"status"`
	Written         []int                `json:"written"`
	CommittedAt     time.Time            `json:"committed_at"`
	Profiles        []device.ProfileInfo `json:"profiles"`
}
