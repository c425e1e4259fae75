package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/niltonperimneto/libratbag/internal/manager"
)

const (
	wsEventQueue   = 256
	wsClientQueue  = 64
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4096
)

// wsHello is the first message on every connection.
const wsHello = "hello"

// WSHub fans manager events out to websocket subscribers. Membership changes
// and deliveries all happen on the Run goroutine; Broadcast only queues.
type WSHub struct {
	mu     sync.RWMutex
	subs   map[*wsClient]struct{}
	logger *slog.Logger

	join   chan *wsClient
	leave  chan *wsClient
	events chan manager.Event

	done     chan struct{}
	stopOnce sync.Once
}

// wsFilter narrows the events a subscriber receives. Empty fields match all.
// Clients replace it at any time by sending {"types": [...], "device": "..."}.
type wsFilter struct {
	Types  []string `json:"types"`
	Device string   `json:"device"`
}

func (f wsFilter) matches(e manager.Event) bool {
	if f.Device != "" && eventDevice(e) != f.Device {
		return false
	}
	return len(f.Types) == 0 || slices.Contains(f.Types, e.Type)
}

type wsClient struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte

	filterMu sync.Mutex
	filter   wsFilter
}

func newWSClient(conn *websocket.Conn, remote string) *wsClient {
	return &wsClient{conn: conn, remote: remote, send: make(chan []byte, wsClientQueue)}
}

func (c *wsClient) setFilter(f wsFilter) {
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

func (c *wsClient) wants(e manager.Event) bool {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	return c.filter.matches(e)
}

// offer queues data without blocking and reports whether it fit.
func (c *wsClient) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// eventDevice returns the device id an event concerns.
func eventDevice(e manager.Event) string {
	switch d := e.Data.(type) {
	case manager.DeviceEvent:
		return d.Device
	case manager.ChangeEvent:
		return d.Device
	case manager.CommitEvent:
		return d.Device
	}
	return ""
}

func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		subs:   make(map[*wsClient]struct{}),
		logger: logger,
		join:   make(chan *wsClient),
		leave:  make(chan *wsClient),
		events: make(chan manager.Event, wsEventQueue),
		done:   make(chan struct{}),
	}
}

// Run processes joins, leaves and events until Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.dropAll()
			return
		case c := <-h.join:
			h.add(c)
		case c := <-h.leave:
			h.drop(c, "disconnected")
		case e := <-h.events:
			h.fanout(e)
		}
	}
}

// Stop shuts the hub down and closes every subscriber. Safe to call more
// than once.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event. When the queue is full the event is dropped.
func (h *WSHub) Broadcast(e manager.Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("ws event queue full, dropping event", "type", e.Type)
	}
}

func (h *WSHub) add(c *wsClient) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.logger.Debug("ws client joined", "remote", c.remote, "total", n)
}

// drop removes c and closes its queue, which ends its writer.
func (h *WSHub) drop(c *wsClient, reason string) {
	h.mu.Lock()
	_, ok := h.subs[c]
	if ok {
		delete(h.subs, c)
		close(c.send)
	}
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("ws client left", "remote", c.remote, "reason", reason, "total", n)
	}
}

func (h *WSHub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		delete(h.subs, c)
		close(c.send)
	}
}

// fanout encodes e once and offers it to every interested subscriber.
// Subscribers whose queue is full are evicted.
func (h *WSHub) fanout(e manager.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("ws marshal", "type", e.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs {
		if !c.wants(e) || c.offer(data) {
			continue
		}
		delete(h.subs, c)
		close(c.send)
		h.logger.Warn("ws client evicted, queue full", "remote", c.remote, "type", e.Type)
	}
}

// hello lists the current device handles so a new subscriber can start
// from a known state.
func (s *Server) hello() []byte {
	paths := s.mgr.Devices()
	handles := make([]string, len(paths))
	for i, p := range paths {
		handles[i] = handlePrefix + p
	}
	data, _ := json.Marshal(manager.Event{Type: wsHello, Data: map[string]any{
		"api_version": s.mgr.APIVersion(),
		"devices":     handles,
	}})
	return data
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	c := newWSClient(conn, r.RemoteAddr)
	if dev := r.URL.Query().Get("device"); dev != "" {
		c.setFilter(wsFilter{Device: dev})
	}
	c.offer(s.hello())

	select {
	case s.wsHub.join <- c:
	case <-s.wsHub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWriter(c)
	s.wsReader(c)
}

// wsWriter drains the client's queue until the hub closes it.
func (s *Server) wsWriter(c *wsClient) {
	for data := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// wsReader applies filter updates until the connection or the hub closes.
func (s *Server) wsReader(c *wsClient) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.wsHub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		select {
		case s.wsHub.leave <- c:
		case <-s.wsHub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var f wsFilter
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("ws bad filter", "remote", c.remote, "err", err)
			continue
		}
		c.setFilter(f)
	}
}
