//go:build !no_mqtt

// Package mqtt mirrors device state to an MQTT broker and accepts profile,
// resolution and commit commands, with Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/niltonperimneto/libratbag/internal/device"
	"github.com/niltonperimneto/libratbag/internal/manager"
)

const commitTimeout = 10 * time.Second

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// client is the subset of pahomqtt.Client the bridge uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge connects the device manager to MQTT with HA autodiscovery.
type Bridge struct {
	client client
	mgr    *manager.Manager
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	subscribed map[string]bool // device id -> command topic subscribed
}

// State is the retained payload of <prefix>/<device>/state.
type State struct {
	Name             string      `json:"name"`
	ActiveProfile    int         `json:"active_profile"`
	ActiveResolution int         `json:"active_resolution"`
	Dpi              *device.Dpi `json:"dpi"`
	DirtyProfiles    []int       `json:"dirty_profiles"`
}

// Command is the payload accepted on <prefix>/<device>/set. Fields are
// applied in declaration order.
type Command struct {
	Profile    *int `json:"profile"`
	Resolution *int `json:"resolution"`
	Commit     bool `json:"commit"`
}

func newBridge(mgr *manager.Manager, c client, prefix string, logger *slog.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		client:     c,
		mgr:        mgr,
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		ctx:        ctx,
		cancel:     cancel,
		subscribed: make(map[string]bool),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(mgr *manager.Manager, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(mgr, nil, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ratbagd"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.resync()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
			b.mu.Lock()
			clear(b.subscribed)
			b.mu.Unlock()
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c := pahomqtt.NewClient(opts)
	b.client = c
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to manager events and publishes every known device.
func (b *Bridge) Start() {
	b.unsub = b.mgr.Events().OnAll(b.handleEvent)
	b.resync()
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event manager.Event) {
	switch event.Type {
	case manager.EventDeviceAdded:
		if data, ok := event.Data.(manager.DeviceEvent); ok {
			b.publishDevice(data.Device)
		}
	case manager.EventDeviceRemoved:
		if data, ok := event.Data.(manager.DeviceEvent); ok {
			b.removeDevice(data.Device)
		}
	case manager.EventProfileChanged, manager.EventResolutionChanged,
		manager.EventButtonChanged, manager.EventLedChanged:
		if data, ok := event.Data.(manager.ChangeEvent); ok {
			b.publishState(data.Device)
		}
	case manager.EventCommitted:
		if data, ok := event.Data.(manager.CommitEvent); ok {
			b.publishState(data.Device)
		}
	}
}

// resync republishes discovery, state and command subscriptions for every
// registered device.
func (b *Bridge) resync() {
	for _, d := range b.mgr.Registry().Devices() {
		b.publishDevice(d.ID())
	}
}

func (b *Bridge) publishDevice(id string) {
	d, err := b.mgr.Device(id)
	if err != nil {
		return
	}
	info, err := d.Info()
	if err != nil {
		return
	}
	for _, msg := range buildDiscovery(info, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publish(stateTopic(b.prefix, id), mustJSON(deviceState(info)), true)
	b.subscribeCommands(id)
	b.logger.Info("published HA discovery", "device", id, "name", info.Name)
}

func (b *Bridge) removeDevice(id string) {
	for _, msg := range buildRemoveDiscovery(id) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	// An empty retained message clears the broker's copy.
	b.publish(stateTopic(b.prefix, id), nil, true)

	b.mu.Lock()
	was := b.subscribed[id]
	delete(b.subscribed, id)
	b.mu.Unlock()
	if was {
		b.client.Unsubscribe(commandTopic(b.prefix, id))
	}
}

func (b *Bridge) publishState(id string) {
	d, err := b.mgr.Device(id)
	if err != nil {
		return
	}
	info, err := d.Info()
	if err != nil {
		return
	}
	b.publish(stateTopic(b.prefix, id), mustJSON(deviceState(info)), true)
}

// deviceState summarizes the active profile of a device tree.
func deviceState(info device.DeviceInfo) State {
	s := State{
		Name:             info.Name,
		ActiveProfile:    info.ActiveProfile(),
		ActiveResolution: -1,
		DirtyProfiles:    []int{},
	}
	for i := range info.Profiles {
		if info.Profiles[i].IsDirty {
			s.DirtyProfiles = append(s.DirtyProfiles, i)
		}
	}
	if s.ActiveProfile >= 0 {
		p := &info.Profiles[s.ActiveProfile]
		if r := p.ActiveResolution(); r >= 0 {
			s.ActiveResolution = r
			dpi := p.Resolutions[r].Resolution
			s.Dpi = &dpi
		}
	}
	return s
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands(id string) {
	b.mu.Lock()
	if b.subscribed[id] {
		b.mu.Unlock()
		return
	}
	b.subscribed[id] = true
	b.mu.Unlock()

	b.client.Subscribe(commandTopic(b.prefix, id), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(id, msg.Payload())
	})
}

// handleCommand applies a set command. The first failing field stops the
// rest.
func (b *Bridge) handleCommand(id string, payload []byte) {
	d, err := b.mgr.Device(id)
	if err != nil {
		b.logger.Warn("command for unknown device", "device", id)
		return
	}

	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "device", id, "err", err)
		return
	}

	if cmd.Profile != nil {
		if err := d.SetActiveProfile(*cmd.Profile); err != nil {
			b.logger.Warn("set profile failed", "device", id, "profile", *cmd.Profile, "err", err)
			return
		}
	}
	if cmd.Resolution != nil {
		info, err := d.Info()
		if err != nil {
			return
		}
		p := info.ActiveProfile()
		if err := d.SetActiveResolution(p, *cmd.Resolution); err != nil {
			b.logger.Warn("set resolution failed", "device", id, "resolution", *cmd.Resolution, "err", err)
			return
		}
	}
	if cmd.Commit {
		ctx, cancel := context.WithTimeout(b.ctx, commitTimeout)
		defer cancel()
		if _, err := b.mgr.Commit(ctx, id); err != nil {
			b.logger.Warn("commit failed", "device", id, "err", err)
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func stateTopic(prefix, id string) string   { return prefix + "/" + id + "/state" }
func commandTopic(prefix, id string) string { return prefix + "/" + id + "/set" }

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
