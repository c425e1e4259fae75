package manager

import (
	"log/slog"
	"sync"

	"github.com/niltonperimneto/libratbag/internal/device"
)

// Event types
const (
	EventDeviceAdded       = "device_added"
	EventDeviceRemoved     = "device_removed"
	EventProfileChanged    = "profile_changed"
	EventResolutionChanged = "resolution_changed"
	EventButtonChanged     = "button_changed"
	EventLedChanged        = "led_changed"
	EventCommitted         = "committed"
)

// Event is published on the bus and forwarded to websocket clients, the MQTT
// bridge and automation scripts.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// DeviceEvent is the payload of device_added and device_removed.
type DeviceEvent struct {
	Device string `json:"device"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
}

// ChangeEvent is the payload of the *_changed events.
type ChangeEvent struct {
	Device   string `json:"device"`
	Path     string `json:"path"`
	Profile  int    `json:"profile"`
	Index    int    `json:"index"`
	Property string `json:"property"`
}

// CommitEvent is the payload of committed.
type CommitEvent struct {
	Device  string `json:"device"`
	Status  int    `json:"status"`
	Written []int  `json:"written"`
	Failed  []int  `json:"failed"`
}

// changeEvent maps a device mutation to its bus event.
func changeEvent(c device.Change) Event {
	var typ string
	switch c.Key.Kind {
	case device.KindResolution:
		typ = EventResolutionChanged
	case device.KindButton:
		typ = EventButtonChanged
	case device.KindLed:
		typ = EventLedChanged
	default:
		typ = EventProfileChanged
	}
	return Event{Type: typ, Data: ChangeEvent{
		Device:   c.Key.Device,
		Path:     c.Key.Path(),
		Profile:  c.Key.Profile,
		Index:    c.Key.Index,
		Property: c.Property,
	}}
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus provides pub/sub for manager events.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]EventHandler
	allHandlers map[uint64]EventHandler
	nextID      uint64
	logger      *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:    make(map[string]map[uint64]EventHandler),
		allHandlers: make(map[uint64]EventHandler),
		logger:      logger,
	}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	if eb.handlers[eventType] == nil {
		eb.handlers[eventType] = make(map[uint64]EventHandler)
	}
	eb.handlers[eventType][id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	id := eb.nextID
	eb.nextID++
	eb.allHandlers[id] = handler
	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		delete(eb.allHandlers, id)
	}
}

// Emit calls the matching handlers synchronously. A panicking handler is
// logged and does not stop delivery to the others.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, h := range eb.handlers[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range eb.allHandlers {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
