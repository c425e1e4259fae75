//go:build !no_dev_hooks

package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/manager"
	"github.com/niltonperimneto/libratbag/internal/store"
	"github.com/niltonperimneto/libratbag/internal/web"
)

const mouseSpec = `{"profiles": [
  {"is_active": true, "name": "work",
   "resolutions": [
     {"xres": 800, "is_active": true, "is_default": true},
     {"xres": 1600, "is_active": false, "is_default": false}
   ],
   "buttons": [{"action_type": "button", "button": 1}],
   "leds": [{"mode": 1, "color": [255, 0, 0]}]},
  {"is_active": false}
]}`

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "ratbag.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := manager.New(st, nil, nil, manager.NewEventBus(logger), manager.Config{}, logger)
	t.Cleanup(mgr.Stop)

	srv := web.NewServer(mgr, logger, web.WithAPIKey("secret"))
	t.Cleanup(srv.Stop)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", opts...)
}

func loadMouse(t *testing.T, c *Client) string {
	t.Helper()
	handle, err := c.LoadTestDevice(context.Background(), []byte(mouseSpec))
	if err != nil {
		t.Fatal(err)
	}
	return DeviceID(handle)
}

func TestClientAPIKey(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Manager(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestClientDeviceTree(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))
	id := loadMouse(t, c)

	info, err := c.Manager(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.APIVersion != manager.APIVersion || len(info.Devices) != 1 {
		t.Errorf("manager = %+v", info)
	}

	devs, err := c.Devices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 || devs[0].ID != id {
		t.Fatalf("devices = %+v", devs)
	}

	dev, err := c.Device(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(dev.Profiles) != 2 || dev.Profiles[0].Name != "work" {
		t.Fatalf("profiles = %+v", dev.Profiles)
	}
	if got := dev.Profiles[0].Resolutions[1].Resolution; got != device.Unified(1600) {
		t.Errorf("resolution 1 = %v, want 1600", got)
	}
	if got := dev.Profiles[0].Buttons[0].Mapping; got != (device.ButtonAction{Button: 1}) {
		t.Errorf("mapping = %#v", got)
	}
}

func TestClientSetters(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))
	id := loadMouse(t, c)

	name := "game"
	p, err := c.PatchProfile(ctx, id, 0, ProfilePatch{Name: &name})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "game" || !p.IsDirty {
		t.Errorf("profile = %+v", p)
	}

	r, err := c.ActivateResolution(ctx, id, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsActive {
		t.Error("resolution 1 not active")
	}

	dpi := device.Unified(1200)
	r, err = c.PatchResolution(ctx, id, 0, 0, ResolutionPatch{Resolution: &dpi})
	if err != nil {
		t.Fatal(err)
	}
	if r.Resolution != dpi {
		t.Errorf("resolution = %v, want %v", r.Resolution, dpi)
	}

	b, err := c.SetMapping(ctx, id, 0, 0, device.KeyAction{Key: 30})
	if err != nil {
		t.Fatal(err)
	}
	if b.Mapping != (device.KeyAction{Key: 30}) {
		t.Errorf("mapping = %#v", b.Mapping)
	}

	mode := device.LedBreathing
	bright := uint32(1000)
	l, err := c.PatchLed(ctx, id, 0, 0, LedPatch{Mode: &mode, Brightness: &bright})
	if err != nil {
		t.Fatal(err)
	}
	if l.Mode != device.LedBreathing || l.Brightness != device.MaxBrightness {
		t.Errorf("led = %+v", l)
	}

	prof, err := c.ActivateProfile(ctx, id, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !prof.IsActive {
		t.Error("profile 1 not active")
	}
}

func TestClientCommitWithoutDriver(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))
	id := loadMouse(t, c)

	res, err := c.Commit(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != device.StatusNoDriver {
		t.Errorf("status = %d, want %d", res.Status, device.StatusNoDriver)
	}
	if _, err := c.Saved(ctx, id); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("saved err = %v, want not found", err)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))
	id := loadMouse(t, c)

	if _, err := c.Device(ctx, "nope"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("unknown device err = %v, want not found", err)
	}
	if _, err := c.Resolution(ctx, id, 0, 9); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("resolution err = %v, want not found", err)
	}
	mode := device.LedColorWave
	if _, err := c.PatchLed(ctx, id, 0, 0, LedPatch{Mode: &mode}); err != nil {
		t.Fatalf("colorwave is a default mode: %v", err)
	}
	mode = device.LedMode(99)
	if _, err := c.PatchLed(ctx, id, 0, 0, LedPatch{Mode: &mode}); !errors.Is(err, device.ErrInvalidArgument) {
		t.Errorf("bad mode err = %v, want invalid argument", err)
	}
}

func TestClientResetTestDevice(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))
	id := loadMouse(t, c)

	if err := c.ResetTestDevice(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Device(ctx, id); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestClientLoadBlankSpec(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, WithAPIKey("secret"))

	for _, spec := range []string{"", "  \n"} {
		handle, err := c.LoadTestDevice(ctx, []byte(spec))
		if err != nil {
			t.Fatalf("LoadTestDevice(%q): %v", spec, err)
		}
		info, err := c.Device(ctx, DeviceID(handle))
		if err != nil {
			t.Fatal(err)
		}
		if len(info.Profiles) != 1 {
			t.Errorf("spec %q: profiles = %d, want 1", spec, len(info.Profiles))
		}
	}

	// Malformed specs reach the daemon and come back as its error.
	_, err := c.LoadTestDevice(ctx, []byte("{"))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, device.ErrInvalidArgument) {
		t.Errorf("malformed spec err = %v, want a 400 from the daemon", err)
	}
}

func TestDeviceID(t *testing.T) {
	tests := map[string]string{
		"usb-046d-c24a":                         "usb-046d-c24a",
		"/api/devices/usb-046d-c24a":            "usb-046d-c24a",
		"/devices/test-1/profiles/0":            "test-1",
		"/api/devices/test-1/profiles/0/leds/0": "test-1",
	}
	for in, want := range tests {
		if got := DeviceID(in); got != want {
			t.Errorf("DeviceID(%q) = %q, want %q", in, got, want)
		}
	}
}
