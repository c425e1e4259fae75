package manager

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDeviceDBLookup(t *testing.T) {
	db := NewDeviceDB()
	db.Add(Entry{Name: "Mouse", Driver: "logitech_g600", Matches: []string{"usb:046d:C24A", "usb:046d:c24b"}})

	if db.Len() != 2 {
		t.Fatalf("len = %d, want 2", db.Len())
	}
	if e := db.Lookup("usb:046d:c24a"); e == nil || e.Name != "Mouse" {
		t.Errorf("lookup = %+v", e)
	}
	if e := db.Lookup("USB:046D:C24B"); e == nil {
		t.Error("lookup should be case-insensitive")
	}
	if db.Lookup("usb:0000:0000") != nil {
		t.Error("expected nil for unknown device")
	}
}

func TestBuiltinDeviceDB(t *testing.T) {
	e := BuiltinDeviceDB().Lookup("usb:046d:c24a")
	if e == nil || e.Driver != "logitech_g600" {
		t.Fatalf("builtin G600 entry = %+v", e)
	}
}

func TestLoadDeviceDir(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "logitech.json"), []byte(`{
		"devices": [
			{"name": "G600", "driver": "logitech_g600", "matches": ["usb:046d:c24a"], "interface": 1},
			{"name": "broken", "driver": "", "matches": ["usb:1111:2222"]}
		]
	}`), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	db, err := LoadDeviceDir(dir, testLogger())
	if err != nil {
		t.Fatalf("LoadDeviceDir: %v", err)
	}
	if db.Len() != 1 {
		t.Errorf("len = %d, want 1", db.Len())
	}
	e := db.Lookup("usb:046d:c24a")
	if e == nil || e.Interface != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestLoadDeviceDirEmpty(t *testing.T) {
	db, err := LoadDeviceDir(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if db.Lookup("usb:046d:c24a") == nil {
		t.Error("empty dir should fall back to the built-in database")
	}
}

func TestLoadDeviceDirBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{`), 0o644)
	if _, err := LoadDeviceDir(dir, testLogger()); err == nil {
		t.Error("expected parse error")
	}
}
