package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
)

var errNoMQTTReading = errors.New("no lux reading received on mqtt yet")

// MQTTSensor takes ambient readings published by another device, for example
// a room sensor behind a home automation bridge. Payloads are a bare number
// or {"lux": n}.
type MQTTSensor struct {
	pub    mqttPubSub
	topic  string
	logger *slog.Logger

	mu         sync.Mutex
	last       float64
	haveLast   bool
	subscribed context.Context

	// notify wakes the delivery loop; capacity 1, latest reading wins.
	notify chan struct{}
}

func newMQTTSensor(pub mqttPubSub, topic string, logger *slog.Logger) *MQTTSensor {
	return &MQTTSensor{pub: pub, topic: topic, logger: logger, notify: make(chan struct{}, 1)}
}

// ClaimLight subscribes to the sensor topic. Readings arriving before
// Subscribe are kept for ReadCurrent.
func (s *MQTTSensor) ClaimLight(ctx context.Context) error {
	if err := s.pub.Subscribe(s.topic, s.handleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	return nil
}

// Subscribe delivers readings from its own goroutine, so the MQTT message
// handler never waits on onChange. Readings that arrive while onChange is
// busy collapse into the latest one.
func (s *MQTTSensor) Subscribe(ctx context.Context, onChange func(lux float64)) error {
	s.mu.Lock()
	s.subscribed = ctx
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				s.mu.Lock()
				lux := s.last
				s.mu.Unlock()
				onChange(lux)
			}
		}
	}()
	return nil
}

func (s *MQTTSensor) ReadCurrent(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLast {
		return 0, errNoMQTTReading
	}
	return s.last, nil
}

func (s *MQTTSensor) Close() error {
	return s.pub.Unsubscribe(s.topic)
}

func (s *MQTTSensor) handleMessage(topic string, payload []byte) error {
	lux, err := parseLuxPayload(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.last, s.haveLast = lux, true
	ctx := s.subscribed
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return nil
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// parseLuxPayload accepts `123.4` or `{"lux": 123.4}`.
func parseLuxPayload(payload []byte) (float64, error) {
	p := bytes.TrimSpace(payload)
	if len(p) == 0 {
		return 0, errors.New("empty lux payload")
	}

	var lux float64
	if p[0] == '{' {
		var msg struct {
			Lux *float64 `json:"lux"`
		}
		if err := json.Unmarshal(p, &msg); err != nil {
			return 0, fmt.Errorf("decode lux payload: %w", err)
		}
		if msg.Lux == nil {
			return 0, errors.New(`lux payload has no "lux" field`)
		}
		lux = *msg.Lux
	} else {
		v, err := strconv.ParseFloat(string(p), 64)
		if err != nil {
			return 0, fmt.Errorf("decode lux payload: %w", err)
		}
		lux = v
	}

	if math.IsNaN(lux) || math.IsInf(lux, 0) || lux < 0 {
		return 0, fmt.Errorf("invalid lux value %v", lux)
	}
	return lux, nil
}
