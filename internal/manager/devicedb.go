package manager

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Entry describes one supported device model.
type Entry struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	// Matches holds "usb:vid:pid" keys in lowercase hex.
	Matches []string `json:"matches"`
	// Interface is the HID interface number the driver talks to.
	Interface int `json:"interface"`
}

// DeviceDB maps match keys to device entries.
type DeviceDB struct {
	entries map[string]*Entry
}

func NewDeviceDB() *DeviceDB {
	return &DeviceDB{entries: make(map[string]*Entry)}
}

// BuiltinDeviceDB holds the devices the daemon supports out of the box.
func BuiltinDeviceDB() *DeviceDB {
	db := NewDeviceDB()
	db.Add(Entry{
		Name:      "Logitech G600",
		Driver:    "logitech_g600",
		Matches:   []string{"usb:046d:c24a"},
		Interface: 1,
	})
	return db
}

// Add registers e under each of its match keys.
func (db *DeviceDB) Add(e Entry) {
	cp := e
	cp.Matches = append([]string(nil), e.Matches...)
	for _, m := range cp.Matches {
		db.entries[strings.ToLower(m)] = &cp
	}
}

// Lookup finds the entry for a match key such as "usb:046d:c24a".
func (db *DeviceDB) Lookup(key string) *Entry {
	return db.entries[strings.ToLower(key)]
}

// Len returns the number of match keys.
func (db *DeviceDB) Len() int {
	return len(db.entries)
}

// deviceFile is the JSON structure of files in the device database directory.
type deviceFile struct {
	Devices []Entry `json:"devices"`
}

// LoadDeviceDir reads every *.json file in dir. A missing or empty directory
// yields the built-in database.
func LoadDeviceDir(dir string, logger *slog.Logger) (*DeviceDB, error) {
	if dir == "" {
		return BuiltinDeviceDB(), nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return BuiltinDeviceDB(), fmt.Errorf("glob device dir: %w", err)
	}
	if len(matches) == 0 {
		logger.Info("no device files found, using built-in database", "dir", dir)
		return BuiltinDeviceDB(), nil
	}

	db := NewDeviceDB()
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return db, fmt.Errorf("read %s: %w", path, err)
		}
		var df deviceFile
		if err := json.Unmarshal(data, &df); err != nil {
			return db, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range df.Devices {
			if e.Driver == "" || len(e.Matches) == 0 {
				logger.Warn("skipping device entry", "path", filepath.Base(path), "name", e.Name)
				continue
			}
			db.Add(e)
		}
		logger.Info("loaded device file", "path", filepath.Base(path), "devices", len(df.Devices))
	}
	logger.Info("device database loaded", "files", len(matches), "keys", db.Len())
	return db, nil
}
