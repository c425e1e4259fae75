package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/hid"
)

// fakeTransport serves feature reports from memory and records writes.
type fakeTransport struct {
	mu       sync.Mutex
	reports  map[byte][]byte
	sent     [][]byte
	failSend int
	closed   bool
}

func (f *fakeTransport) SendFeatureReport(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend > 0 {
		f.failSend--
		return 0, errors.New("broken pipe")
	}
	f.sent = append(f.sent, append([]byte(nil), p...))
	if p[0] != g600ReportActive {
		f.reports[p[0]] = append([]byte(nil), p...)
	}
	return len(p), nil
}

func (f *fakeTransport) GetFeatureReport(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[p[0]]
	if !ok {
		return 0, errors.New("no such report")
	}
	return copy(p, r), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var _ hid.Transport = (*fakeTransport)(nil)

func newG600Transport() *fakeTransport {
	f := &fakeTransport{reports: map[byte][]byte{
		// profile 1 active, resolution 2 active
		g600ReportActive: {g600ReportActive, 1<<4 | 2<<1, 0, 0},
	}}
	for i, id := range g600ProfileReports {
		buf := make([]byte, g600ReportSize)
		buf[0] = id
		buf[g600OffRed], buf[g600OffRed+1], buf[g600OffRed+2] = 0xff, 0x20, byte(i)
		buf[g600OffEffect] = g600LedBreathe
		buf[g600OffDuration] = 4
		buf[g600OffFrequency] = 1 // 500 Hz
		buf[g600OffDpiDefault] = 2
		copy(buf[g600OffDpi:], []byte{16, 24, 32, 0}) // 800, 1200, 1600, disabled
		// button 0: left click, button 1: key 'a' with shift, button 2: dpi up,
		// button 3: g-shift, button 4: disabled
		copy(buf[g600OffButtons:], []byte{
			g600CodeMouse, 0, 1,
			g600CodeKey, 0x02, 0x04,
			g600CodeMouse, 0, G600SpecialResolutionUp,
			g600CodeGShift, 0, 0,
			g600CodeDisabled, 0, 0,
		})
		buf[100] = 0xAB // unmodelled g-shift area
		f.reports[id] = buf
	}
	return f
}

func loadG600(t *testing.T) (*G600, *fakeTransport, device.DeviceInfo) {
	t.Helper()
	g := NewG600()
	f := newG600Transport()
	info := device.DeviceInfo{ID: "usb-046d-c24a"}
	ctx := context.Background()
	if err := g.Probe(ctx, f); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if err := g.Load(ctx, f, &info); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return g, f, info
}

func TestG600Load(t *testing.T) {
	_, _, info := loadG600(t)

	if info.Name != "Logitech G600" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Profiles) != 3 {
		t.Fatalf("profiles = %d, want 3", len(info.Profiles))
	}
	if got := info.ActiveProfile(); got != 1 {
		t.Errorf("active profile = %d, want 1", got)
	}

	p := info.Profiles[1]
	if p.ReportRate != 500 {
		t.Errorf("ReportRate = %d, want 500", p.ReportRate)
	}
	if len(p.Resolutions) != 4 {
		t.Fatalf("resolutions = %d, want 4", len(p.Resolutions))
	}
	if p.Resolutions[0].Resolution != device.Unified(800) {
		t.Errorf("resolution 0 = %v, want 800", p.Resolutions[0].Resolution)
	}
	if !p.Resolutions[3].IsDisabled {
		t.Error("resolution 3 should be disabled")
	}
	if got := p.ActiveResolution(); got != 2 {
		t.Errorf("active resolution = %d, want 2", got)
	}
	if got := p.DefaultResolution(); got != 1 {
		t.Errorf("default resolution = %d, want 1", got)
	}
	// inactive profiles start on their default resolution
	if got := info.Profiles[0].ActiveResolution(); got != 1 {
		t.Errorf("profile 0 active resolution = %d, want 1", got)
	}

	if len(p.Buttons) != g600NumButtons {
		t.Fatalf("buttons = %d, want %d", len(p.Buttons), g600NumButtons)
	}
	want := []device.Action{
		device.ButtonAction{Button: 1},
		device.KeyAction{Key: 0x04},
		device.SpecialAction{Special: G600SpecialResolutionUp},
		device.SpecialAction{Special: G600SpecialSecondMode},
		device.NoneAction{},
	}
	for i, w := range want {
		if got := p.Buttons[i].Mapping; got != w {
			t.Errorf("button %d = %#v, want %#v", i, got, w)
		}
	}

	led := p.Leds[0]
	if led.Mode != device.LedBreathing {
		t.Errorf("led mode = %v, want breathing", led.Mode)
	}
	if led.Color != (device.Color{Red: 0xff, Green: 0x20, Blue: 1}) {
		t.Errorf("led color = %v", led.Color)
	}
	if led.EffectDuration != 4000 {
		t.Errorf("EffectDuration = %d, want 4000", led.EffectDuration)
	}
}

func TestG600WriteRoundTrip(t *testing.T) {
	g, f, info := loadG600(t)
	p := info.Profiles[0]
	p.ReportRate = 1000
	p.Resolutions[0].Resolution = device.Unified(3200)
	p.Resolutions[3].IsDisabled = false
	p.Resolutions[3].Resolution = device.Unified(8200)
	p.Buttons[5].Mapping = device.ButtonAction{Button: 3}
	p.Leds[0].Mode = device.LedCycle
	p.Leds[0].Color = device.Color{Red: 1, Green: 2, Blue: 3}

	if err := g.WriteProfile(context.Background(), f, p); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	// inactive profile: only the profile report is sent
	if n := f.sentCount(); n != 1 {
		t.Errorf("sent %d reports, want 1", n)
	}
	raw := f.reports[0xF3]
	if raw[100] != 0xAB {
		t.Errorf("unmodelled byte = 0x%02x, want 0xab", raw[100])
	}
	if raw[g600OffButtons+4] != 0x02 {
		t.Errorf("key modifier = 0x%02x, want 0x02", raw[g600OffButtons+4])
	}

	var reloaded device.DeviceInfo
	g2 := NewG600()
	if err := g2.Probe(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	if err := g2.Load(context.Background(), f, &reloaded); err != nil {
		t.Fatal(err)
	}
	got := reloaded.Profiles[0]
	if got.ReportRate != 1000 {
		t.Errorf("ReportRate = %d, want 1000", got.ReportRate)
	}
	if got.Resolutions[0].Resolution != device.Unified(3200) {
		t.Errorf("resolution 0 = %v", got.Resolutions[0].Resolution)
	}
	if got.Resolutions[3].IsDisabled || got.Resolutions[3].Resolution != device.Unified(8200) {
		t.Errorf("resolution 3 = %+v", got.Resolutions[3])
	}
	if got.Buttons[5].Mapping != (device.ButtonAction{Button: 3}) {
		t.Errorf("button 5 = %#v", got.Buttons[5].Mapping)
	}
	if got.Leds[0].Mode != device.LedCycle || got.Leds[0].Color != (device.Color{Red: 1, Green: 2, Blue: 3}) {
		t.Errorf("led = %+v", got.Leds[0])
	}
}

func TestG600WriteActiveProfile(t *testing.T) {
	g, f, info := loadG600(t)
	p := info.Profiles[1]

	if err := g.WriteProfile(context.Background(), f, p); err != nil {
		t.Fatalf("WriteProfile: %v", err)
	}
	if len(f.sent) != 3 {
		t.Fatalf("sent %d reports, want 3", len(f.sent))
	}
	if got := f.sent[1][1]; got != 0x80|1<<4 {
		t.Errorf("set profile byte = 0x%02x", got)
	}
	if got := f.sent[2][1]; got != 0x40|2<<1 {
		t.Errorf("set resolution byte = 0x%02x", got)
	}
}

func TestG600WriteRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *device.ProfileInfo)
	}{
		{"dpi step", func(p *device.ProfileInfo) { p.Resolutions[0].Resolution = device.Unified(825) }},
		{"dpi range", func(p *device.ProfileInfo) { p.Resolutions[0].Resolution = device.Unified(9000) }},
		{"separate dpi", func(p *device.ProfileInfo) { p.Resolutions[0].Resolution = device.SeparateDpi(800, 400) }},
		{"report rate", func(p *device.ProfileInfo) { p.ReportRate = 333 }},
		{"led mode", func(p *device.ProfileInfo) { p.Leds[0].Mode = device.LedColorWave }},
		{"macro", func(p *device.ProfileInfo) { p.Buttons[0].Mapping = device.NewMacro(nil) }},
		{"special", func(p *device.ProfileInfo) { p.Buttons[0].Mapping = device.SpecialAction{Special: 0x99} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, f, info := loadG600(t)
			p := info.Profiles[0].Clone()
			tt.mutate(&p)
			err := g.WriteProfile(context.Background(), f, p)
			if !errors.Is(err, device.ErrInvalidArgument) {
				t.Errorf("err = %v, want ErrInvalidArgument", err)
			}
			if n := f.sentCount(); n != 0 {
				t.Errorf("sent %d reports after rejection", n)
			}
		})
	}
}

func TestG600ShortRead(t *testing.T) {
	f := newG600Transport()
	f.reports[0xF4] = f.reports[0xF4][:10]
	g := NewG600()
	var info device.DeviceInfo
	if err := g.Probe(context.Background(), f); err != nil {
		t.Fatal(err)
	}
	err := g.Load(context.Background(), f, &info)
	var be *BufferError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BufferError", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Error("BufferError should unwrap to ErrProtocol")
	}
}

func TestNew(t *testing.T) {
	if _, err := New("logitech_g600"); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New("nope"); !errors.Is(err, device.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if names := Names(); len(names) == 0 || names[0] != "logitech_g600" {
		t.Errorf("Names = %v", names)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestActorRetries(t *testing.T) {
	f := newG600Transport()
	var info device.DeviceInfo
	a, err := Start(context.Background(), NewG600(), f, &info, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Close()

	f.mu.Lock()
	f.failSend = maxAttempts - 1
	f.mu.Unlock()
	if err := a.WriteProfile(context.Background(), info.Profiles[0]); err != nil {
		t.Fatalf("WriteProfile after transient failures: %v", err)
	}

	f.mu.Lock()
	f.failSend = maxAttempts
	f.mu.Unlock()
	if err := a.WriteProfile(context.Background(), info.Profiles[0]); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestActorNoRetryOnInvalid(t *testing.T) {
	f := newG600Transport()
	var info device.DeviceInfo
	a, err := Start(context.Background(), NewG600(), f, &info, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Close()

	p := info.Profiles[0]
	p.ReportRate = 7
	if err := a.WriteProfile(context.Background(), p); !errors.Is(err, device.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestActorClose(t *testing.T) {
	f := newG600Transport()
	var info device.DeviceInfo
	a, err := Start(context.Background(), NewG600(), f, &info, time.Second, discardLogger())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.closed {
		t.Error("transport not closed")
	}
	if err := a.WriteProfile(context.Background(), info.Profiles[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	// idempotent
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStartClosesOnProbeFailure(t *testing.T) {
	f := &fakeTransport{reports: map[byte][]byte{}}
	var info device.DeviceInfo
	if _, err := Start(context.Background(), NewG600(), f, &info, time.Second, discardLogger()); err == nil {
		t.Fatal("expected probe failure")
	}
	if !f.closed {
		t.Error("transport not closed after failed probe")
	}
}
