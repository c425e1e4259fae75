// Package manager owns the device registry and everything that changes its
// membership: hardware attach and detach, synthetic test devices and commit
// bookkeeping.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/driver"
	"github.com/niltonperimneto/libratbag/internal/hid"
	"github.com/niltonperimneto/libratbag/internal/store"
)

// APIVersion is the version of the object surface.
const APIVersion = 2

// Feature names reported by Features.
const (
	FeatureTestDevice = "test-device"
	FeatureHardware   = "hardware"
	FeatureSnapshots  = "snapshots"
)

// Config holds manager configuration.
type Config struct {
	// DriverTimeout bounds each hardware request.
	DriverTimeout time.Duration
}

// Manager is the daemon root object.
type Manager struct {
	registry *device.Registry
	db       *DeviceDB
	store    store.Store
	bus      hid.Bus
	events   *EventBus
	config   Config
	logger   *slog.Logger
	// root is handed to actors, which tag their own component.
	root *slog.Logger

	mu     sync.Mutex
	actors map[string]*driver.Actor
	testID string

	// testMu serializes LoadTestDevice and ResetTestDevice.
	testMu sync.Mutex
}

// New creates a manager. st and bus may be nil: without a store commits are
// not recorded, without a bus Scan finds nothing.
func New(st store.Store, db *DeviceDB, bus hid.Bus, events *EventBus, cfg Config, logger *slog.Logger) *Manager {
	if db == nil {
		db = BuiltinDeviceDB()
	}
	return &Manager{
		registry: device.NewRegistry(),
		db:       db,
		store:    st,
		bus:      bus,
		events:   events,
		config:   cfg,
		logger:   logger.With("component", "manager"),
		root:     logger,
		actors:   make(map[string]*driver.Actor),
	}
}

// APIVersion returns the object surface version.
func (m *Manager) APIVersion() int { return APIVersion }

// Features lists the optional capabilities of this build, so callers do not
// have to probe verbs for ErrUnsupported.
func (m *Manager) Features() []string {
	var out []string
	if devHooks {
		out = append(out, FeatureTestDevice)
	}
	if m.bus != nil {
		out = append(out, FeatureHardware)
	}
	if m.store != nil {
		out = append(out, FeatureSnapshots)
	}
	return out
}

// Devices returns device handles in attach order.
func (m *Manager) Devices() []string {
	ids := m.registry.List()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = device.DeviceKey(id).Path()
	}
	return out
}

// Registry returns the device registry.
func (m *Manager) Registry() *device.Registry { return m.registry }

// Events returns the event bus.
func (m *Manager) Events() *EventBus { return m.events }

// Store returns the snapshot store, or nil.
func (m *Manager) Store() store.Store { return m.store }

// DeviceDB returns the device database.
func (m *Manager) DeviceDB() *DeviceDB { return m.db }

// Device looks a device up by id.
func (m *Manager) Device(id string) (*device.Device, error) {
	return m.registry.Get(id)
}

// Resolve maps a handle to its device and key.
func (m *Manager) Resolve(path string) (*device.Device, device.Key, error) {
	return m.registry.Resolve(path)
}

// Commit commits a device and records the written state.
func (m *Manager) Commit(ctx context.Context, id string) (device.CommitResult, error) {
	d, err := m.registry.Get(id)
	if err != nil {
		return device.CommitResult{}, err
	}
	res, err := d.Commit(ctx)
	if err != nil {
		return res, err
	}

	log := m.logger.With("device", id, "status", res.Status)
	switch res.Status {
	case device.StatusSuccess:
		log.Info("commit", "written", res.Written)
	case device.StatusNoDriver:
		log.Debug("commit without driver")
	default:
		log.Warn("commit failed", "written", res.Written, "failed", res.Failed, "err", res.Err)
	}

	if len(res.Written) > 0 {
		m.saveSnapshot(d, res)
	}
	m.emit(Event{Type: EventCommitted, Data: CommitEvent{
		Device: id, Status: res.Status, Written: res.Written, Failed: res.Failed,
	}})
	return res, nil
}

func (m *Manager) saveSnapshot(d *device.Device, res device.CommitResult) {
	if m.store == nil {
		return
	}
	info, err := d.Info()
	if err != nil {
		return
	}
	// Profiles come from the commit itself; edits made since are not committed.
	snap := &store.Snapshot{
		DeviceID:        info.ID,
		CommitID:        uuid.NewString(),
		Name:            info.Name,
		Model:           info.Model,
		FirmwareVersion: info.FirmwareVersion,
		Status:          res.Status,
		Written:         res.Written,
		Profiles:        res.Profiles,
		CommittedAt:     time.Now().UTC(),
	}
	if err := m.store.SaveSnapshot(snap); err != nil {
		m.logger.Error("save snapshot", "device", info.ID, "err", err)
	}
}

// Saved returns the last committed snapshot of a device.
func (m *Manager) Saved(id string) (*store.Snapshot, error) {
	if m.store == nil {
		return nil, fmt.Errorf("snapshots: %w", device.ErrUnsupported)
	}
	s, err := m.store.GetSnapshot(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("snapshot of %s: %w", id, device.ErrNotFound)
	}
	return s, err
}

// History returns up to limit snapshots of a device, newest first.
func (m *Manager) History(id string, limit int) ([]*store.Snapshot, error) {
	if m.store == nil {
		return nil, fmt.Errorf("snapshots: %w", device.ErrUnsupported)
	}
	return m.store.History(id, limit)
}

// add registers d and starts forwarding its changes to the bus.
func (m *Manager) add(d *device.Device) error {
	d.SetObserver(func(c device.Change) { m.emit(changeEvent(c)) })
	if err := m.registry.Register(d); err != nil {
		return err
	}
	info, _ := d.Info()
	m.logger.Info("device added", "device", d.ID(), "name", info.Name, "model", info.Model)
	m.emit(Event{Type: EventDeviceAdded, Data: DeviceEvent{Device: d.ID(), Name: info.Name, Model: info.Model}})
	return nil
}

// Remove unregisters a device and closes its actor. Handles under it resolve
// to NotFound afterwards.
func (m *Manager) Remove(id string) error {
	if _, err := m.registry.Unregister(id); err != nil {
		return err
	}
	m.mu.Lock()
	a := m.actors[id]
	delete(m.actors, id)
	if m.testID == id {
		m.testID = ""
	}
	m.mu.Unlock()

	if a != nil {
		if err := a.Close(); err != nil {
			m.logger.Warn("close actor", "device", id, "err", err)
		}
	}
	m.logger.Info("device removed", "device", id)
	m.emit(Event{Type: EventDeviceRemoved, Data: DeviceEvent{Device: id}})
	return nil
}

// Stop removes every device.
func (m *Manager) Stop() {
	for _, id := range m.registry.List() {
		if err := m.Remove(id); err != nil {
			m.logger.Debug("remove on stop", "device", id, "err", err)
		}
	}
}

func (m *Manager) emit(e Event) {
	if m.events != nil {
		m.events.Emit(e)
	}
}
