package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// Frame types sent by the daemon's state websocket.
const (
	frameStateInit         = "state_init"
	frameStateChanged      = "state_changed"
	frameBrightnessChanged = "brightness_changed"
)

const (
	feedHandshakeTimeout = 5 * time.Second
	feedPongWait         = 60 * time.Second
	feedPingPeriod       = 30 * time.Second
	feedInitialBackoff   = 500 * time.Millisecond
	feedMaxBackoff       = 10 * time.Second
)

var errFeedClosed = errors.New("state feed closed by daemon")

// stateMsg carries a full snapshot.
type stateMsg struct {
	snap snapshot
}

// brightnessMsg carries a ramp progress update.
type brightnessMsg struct {
	Brightness int     `json:"brightness"`
	Percent    float64 `json:"percent"`
	Ramping    bool    `json:"ramping"`
	Target     *int    `json:"target,omitempty"`
}

// connStatusMsg reports the websocket connection state.
type connStatusMsg struct {
	connected bool
	err       error
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// decodeFrame turns a websocket frame into a tea message. Unknown frame
// types decode to nil.
func decodeFrame(data []byte) (tea.Msg, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case frameStateInit, frameStateChanged:
		var s snapshot
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return stateMsg{snap: s}, nil

	case frameBrightnessChanged:
		var b brightnessMsg
		if err := json.Unmarshal(f.Data, &b); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type, err)
		}
		return b, nil

	default:
		return nil, nil
	}
}

// runStateFeed keeps a websocket connection to the daemon open until ctx is
// canceled, reconnecting with exponential backoff.
func runStateFeed(ctx context.Context, wsURL string, send func(tea.Msg), logger *slog.Logger) {
	backoff := feedInitialBackoff
	for {
		connected, err := streamState(ctx, wsURL, send, logger)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = feedInitialBackoff
		}
		logger.Warn("state feed disconnected", "url", wsURL, "error", err, "retry_in", backoff)
		send(connStatusMsg{err: err})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, feedMaxBackoff)
	}
}

// streamState runs one connection. connected reports whether the dial succeeded.
func streamState(ctx context.Context, wsURL string, send func(tea.Msg), logger *slog.Logger) (connected bool, err error) {
	d := websocket.Dialer{HandshakeTimeout: feedHandshakeTimeout}
	conn, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	logger.Info("state feed connected", "url", wsURL)
	send(connStatusMsg{connected: true})

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					logger.Debug("ping failed", "error", err)
					return
				}
			}
		}
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return true, fmt.Errorf("read: %w", err)
			}
			return true, errFeedClosed
		}
		if typ != websocket.TextMessage {
			continue
		}

		msg, err := decodeFrame(data)
		if err != nil {
			logger.Debug("skipping bad frame", "error", err)
			continue
		}
		if msg != nil {
			send(msg)
		}
	}
}
