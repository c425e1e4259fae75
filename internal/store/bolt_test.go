package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/niltonperimneto/libratbag/internal/device"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(id, commit string) *Snapshot {
	return &Snapshot{
		DeviceID:    id,
		CommitID:    commit,
		Name:        "Logitech G600",
		Model:       "usb:046d:c24a:0",
		Written:     []int{0},
		CommittedAt: time.Now().Truncate(time.Millisecond),
		Profiles: []device.ProfileInfo{{
			Index:       0,
			Name:        "Gaming",
			IsActive:    true,
			ReportRate:  500,
			ReportRates: []uint32{125, 250, 500, 1000},
			Resolutions: []device.ResolutionInfo{
				{Resolution: device.Unified(1200), IsActive: true, IsDefault: true},
			},
			Buttons: []device.ButtonInfo{
				{Mapping: device.KeyAction{Key: 30}, ActionTypes: []device.ActionType{device.ActionKey}},
			},
			Leds: []device.LedInfo{
				{Mode: device.LedBreathing, Color: device.Color{Red: 10, Green: 20, Blue: 30}, Brightness: 255},
			},
		}},
	}
}

func TestSaveAndGetSnapshot(t *testing.T) {
	s := newTestStore(t)
	snap := testSnapshot("usb-046d-c24a", "c1")

	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSnapshot(snap.DeviceID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommitID != "c1" || got.Model != snap.Model {
		t.Errorf("snapshot = %+v", got)
	}
	if !got.CommittedAt.Equal(snap.CommittedAt) {
		t.Errorf("committed_at = %v, want %v", got.CommittedAt, snap.CommittedAt)
	}
	if len(got.Profiles) != 1 {
		t.Fatalf("profiles = %d, want 1", len(got.Profiles))
	}
	p := got.Profiles[0]
	if p.Name != "Gaming" || p.ReportRate != 500 {
		t.Errorf("profile = %+v", p)
	}
	if p.Buttons[0].Mapping != (device.KeyAction{Key: 30}) {
		t.Errorf("mapping = %#v, want key 30", p.Buttons[0].Mapping)
	}
	if p.Leds[0].Color != (device.Color{Red: 10, Green: 20, Blue: 30}) {
		t.Errorf("color = %v", p.Leds[0].Color)
	}
	if p.Resolutions[0].Resolution != device.Unified(1200) {
		t.Errorf("resolution = %v", p.Resolutions[0].Resolution)
	}
}

func TestGetSnapshotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSnapshot("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotOverwrite(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSnapshot(testSnapshot("dev", "c1"))
	_ = s.SaveSnapshot(testSnapshot("dev", "c2"))

	got, err := s.GetSnapshot("dev")
	if err != nil {
		t.Fatal(err)
	}
	if got.CommitID != "c2" {
		t.Errorf("commit = %q, want c2", got.CommitID)
	}
	list, err := s.ListSnapshots()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list count = %d, want 1", len(list))
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		if err := s.SaveSnapshot(testSnapshot("dev", fmt.Sprintf("c%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.History("dev", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].CommitID != "c3" || hist[1].CommitID != "c2" {
		t.Errorf("history = %v", commitIDs(hist))
	}

	if _, err := s.History("other", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown device err = %v, want ErrNotFound", err)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < maxHistory+5; i++ {
		if err := s.SaveSnapshot(testSnapshot("dev", fmt.Sprintf("c%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.History("dev", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != maxHistory {
		t.Fatalf("history len = %d, want %d", len(hist), maxHistory)
	}
	if last := hist[len(hist)-1].CommitID; last != "c5" {
		t.Errorf("oldest kept = %q, want c5", last)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSnapshot(testSnapshot("dev", "c1"))

	if err := s.DeleteSnapshot("dev"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSnapshot("dev"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.History("dev", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("history after delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSnapshot("never-saved"); err != nil {
		t.Errorf("delete unknown: %v", err)
	}
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s1, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = s1.SaveSnapshot(testSnapshot("dev", "c1"))
	s1.Close()

	s2, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.GetSnapshot("dev")
	if err != nil {
		t.Fatal(err)
	}
	if got.CommitID != "c1" {
		t.Errorf("commit = %q, want c1", got.CommitID)
	}
}

func commitIDs(snaps []*Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.CommitID
	}
	return out
}
