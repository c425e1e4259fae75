package manager

import (
	"testing"

	"github.com/niltonperimneto/libratbag/internal/device"
)

func TestEventBusOnAndUnsubscribe(t *testing.T) {
	eb := NewEventBus(testLogger())

	var got []string
	unsub := eb.On(EventCommitted, func(e Event) { got = append(got, e.Type) })
	eb.Emit(Event{Type: EventCommitted})
	eb.Emit(Event{Type: EventDeviceAdded})
	unsub()
	eb.Emit(Event{Type: EventCommitted})

	if len(got) != 1 {
		t.Errorf("handler calls = %d, want 1", len(got))
	}
}

func TestEventBusOnAll(t *testing.T) {
	eb := NewEventBus(testLogger())
	count := 0
	eb.OnAll(func(Event) { count++ })
	eb.Emit(Event{Type: EventDeviceAdded})
	eb.Emit(Event{Type: EventLedChanged})
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestEventBusRecoversPanic(t *testing.T) {
	eb := NewEventBus(testLogger())
	called := false
	eb.On(EventCommitted, func(Event) { panic("boom") })
	eb.OnAll(func(Event) { called = true })
	eb.Emit(Event{Type: EventCommitted})
	if !called {
		t.Error("second handler not called after panic")
	}
}

func TestChangeEventType(t *testing.T) {
	tests := []struct {
		key  device.Key
		want string
	}{
		{device.ProfileKey("d", 1), EventProfileChanged},
		{device.ResolutionKey("d", 1, 2), EventResolutionChanged},
		{device.ButtonKey("d", 0, 4), EventButtonChanged},
		{device.LedKey("d", 2, 0), EventLedChanged},
	}
	for _, tt := range tests {
		e := changeEvent(device.Change{Key: tt.key, Property: "X"})
		if e.Type != tt.want {
			t.Errorf("changeEvent(%s).Type = %q, want %q", tt.key, e.Type, tt.want)
		}
		if ce := e.Data.(ChangeEvent); ce.Path != tt.key.Path() {
			t.Errorf("Path = %q, want %q", ce.Path, tt.key.Path())
		}
	}
}
