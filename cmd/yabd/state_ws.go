package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket
// ============================================================================
//
// Read-only stream of controller state for monitors and dashboards.
//
//   - Frames are JSON text messages: {type, ts, data}.
//   - On connect the client gets "state_init" with a full StateSnapshot.
//   - Afterwards "state_changed" carries a full snapshot whenever something
//     other than the brightness moved, and "brightness_changed" carries ramp
//     progress, coalesced to at most one frame per wsBrightnessCoalesceWindow.
//   - A client whose send queue fills up is disconnected.
//
// ============================================================================

// WS message types
const (
	wsTypeStateInit         = "state_init"
	wsTypeStateChanged      = "state_changed"
	wsTypeBrightnessChanged = "brightness_changed"
)

// wsBrightnessData is the payload of "brightness_changed".
type wsBrightnessData struct {
	Brightness int     `json:"brightness"`
	Percent    float64 `json:"percent"`
	Ramping    bool    `json:"ramping"`
	Target     *int    `json:"target,omitempty"`
}

// envelope is the wire format for WS messages.
type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func marshalEnvelope(typ string, ts time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: raw})
}

// ============================================================================
// Hub
// ============================================================================

// Hub tracks connected clients and fans frames out to them.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	SendBuf      int // per-client queue; default 32
	BroadcastBuf int // hub inbound queue; default 128
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes queues a serialized frame for every client. It never blocks;
// the frame is dropped if the hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn

	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// closeSend closes the send queue once; writePump exits when it sees the close.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsBrightnessCoalesceWindow bounds how often ramp progress is broadcast.
const wsBrightnessCoalesceWindow = 50 * time.Millisecond

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue into the connection and keeps it alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is read-only. It exists to
// process control frames and notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

// StateServer serves the state websocket.
type StateServer struct {
	logger *slog.Logger
	hub    *Hub

	// Initial snapshots are requested through the daemon loop.
	events chan<- Event
}

func NewStateServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StateServer {
	return &StateServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

func (s *StateServer) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	s.hub.register <- client

	// The pumps outlive the handler; net/http cancels r.Context() on return.
	go client.writePump()
	go client.readPump()

	snap, err := requestSnapshot(r.Context(), s.events)
	if err != nil {
		s.logger.Warn("ws snapshot request failed", "error", err)
		return
	}
	msg, err := marshalEnvelope(wsTypeStateInit, snap.At, snap)
	if err != nil {
		s.logger.Warn("ws marshal failed", "error", err, "type", wsTypeStateInit)
		return
	}
	select {
	case client.send <- msg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// onlyBrightnessMoved reports whether next differs from prev only in the
// fields a ramp tick touches.
func onlyBrightnessMoved(prev, next StateSnapshot) bool {
	a, b := prev, next
	a.KnownBrightness, b.KnownBrightness = 0, 0
	a.BrightnessKnown, b.BrightnessKnown = false, false
	a.Ramping, b.Ramping = false, false
	a.Target, b.Target = nil, nil
	a.At, b.At = time.Time{}, time.Time{}
	a.AmbientAtLoss, b.AmbientAtLoss = nil, nil
	return a == b && ptrEqual(prev.AmbientAtLoss, next.AmbientAtLoss)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// RunBroadcaster turns controller snapshots into WS frames. Ramp progress is
// rate limited latest-wins; any other change flushes pending progress and is
// sent immediately. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateSnapshot, logger *slog.Logger) {
	var (
		prev       StateSnapshot
		havePrev   bool
		pending    *StateSnapshot
		flushTimer *time.Timer
		flushC     <-chan time.Time
	)

	send := func(typ string, snap StateSnapshot, data any) {
		msg, err := marshalEnvelope(typ, snap.At, data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", typ)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flush := func() {
		if pending == nil {
			return
		}
		p := *pending
		pending = nil
		send(wsTypeBrightnessChanged, p, wsBrightnessData{
			Brightness: p.KnownBrightness,
			Percent:    p.BrightnessPercent(),
			Ramping:    p.Ramping,
			Target:     p.Target,
		})
	}

	stopTimer := func() {
		if flushTimer != nil {
			flushTimer.Stop()
		}
		flushTimer, flushC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-flushC:
			stopTimer()
			if pending != nil {
				flush()
				// Keep pacing while progress keeps arriving.
				flushTimer = time.NewTimer(wsBrightnessCoalesceWindow)
				flushC = flushTimer.C
			}

		case snap, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			if havePrev && onlyBrightnessMoved(prev, snap) {
				prev = snap
				s := snap
				pending = &s
				if flushTimer == nil {
					flushTimer = time.NewTimer(wsBrightnessCoalesceWindow)
					flushC = flushTimer.C
				}
				continue
			}

			prev, havePrev = snap, true
			pending = nil
			stopTimer()
			send(wsTypeStateChanged, snap, snap)
		}
	}
}
