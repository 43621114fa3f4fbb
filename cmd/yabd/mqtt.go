package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT connection limits
const (
	mqttConnectTimeout    = 10 * time.Second
	mqttPublishTimeout    = 5 * time.Second
	mqttDisconnectQuiesce = 1000 // milliseconds
	mqttKeepAlive         = 60 * time.Second
	mqttMaxReconnect      = 60 * time.Second
)

var (
	errMQTTNotConnected    = errors.New("mqtt: client not connected")
	errMQTTConnectFailed   = errors.New("mqtt: connection failed")
	errMQTTPublishFailed   = errors.New("mqtt: publish failed")
	errMQTTSubscribeFailed = errors.New("mqtt: subscribe failed")
)

// mqttMessageHandler is called for every message on a subscribed topic.
// A returned error is logged.
type mqttMessageHandler func(topic string, payload []byte) error

// mqttPubSub is the part of the MQTT client the bridge and sensor use.
type mqttPubSub interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqttMessageHandler) error
	Unsubscribe(topic string) error
}

// mqttTopics builds the daemon's topic names under a prefix.
type mqttTopics struct {
	prefix string
}

// Status carries "online", or the "offline" last will.
func (t mqttTopics) Status() string { return t.prefix + "/status" }

// State carries the retained StateSnapshot.
func (t mqttTopics) State() string { return t.prefix + "/state" }

// Command accepts command envelopes, same format as IPC.
func (t mqttTopics) Command() string { return t.prefix + "/command" }

func (t mqttTopics) CommandResult() string { return t.prefix + "/command/result" }

// mqttClient wraps paho with reconnect-safe subscriptions and handler panic
// recovery.
type mqttClient struct {
	client pahomqtt.Client
	cfg    MQTTConfig
	topics mqttTopics
	logger *slog.Logger

	subMu         sync.RWMutex
	subscriptions map[string]mqttMessageHandler
}

// connectMQTT connects to the broker, with a retained "offline" last will on
// the status topic.
func connectMQTT(cfg MQTTConfig, logger *slog.Logger) (*mqttClient, error) {
	c := &mqttClient{
		cfg:           cfg,
		topics:        mqttTopics{prefix: cfg.TopicPrefix},
		logger:        logger,
		subscriptions: make(map[string]mqttMessageHandler),
	}

	opts := buildMQTTOptions(cfg)
	opts.SetWill(c.topics.Status(), "offline", byte(cfg.QoS), true)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", errMQTTConnectFailed, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", errMQTTConnectFailed, err)
	}
	logger.Info("mqtt connected", "host", cfg.Broker.Host, "port", cfg.Broker.Port)
	return c, nil
}

func buildMQTTOptions(cfg MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Handlers run on their own goroutines and may publish.
	opts.SetOrderMatters(false)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(mqttMaxReconnect)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	return opts
}

// handleConnect runs on every (re)connect: restore subscriptions, announce online.
func (c *mqttClient) handleConnect() {
	c.subMu.RLock()
	for topic, h := range c.subscriptions {
		c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrapHandler(h))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, "online")
}

func (c *mqttClient) wrapHandler(h mqttMessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

func (c *mqttClient) Publish(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		return errMQTTNotConnected
	}
	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", errMQTTPublishFailed, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", errMQTTPublishFailed, err)
	}
	return nil
}

func (c *mqttClient) Subscribe(topic string, handler mqttMessageHandler) error {
	if topic == "" || handler == nil {
		return fmt.Errorf("%w: empty topic or nil handler", errMQTTSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrapHandler(handler))
	if !token.WaitTimeout(mqttPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", errMQTTSubscribeFailed, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", errMQTTSubscribeFailed, err)
	}
	return nil
}

func (c *mqttClient) Unsubscribe(topic string) error {
	c.forget(topic)
	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("mqtt: unsubscribe %s timed out", topic)
	}
	return token.Error()
}

func (c *mqttClient) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// Close announces a graceful "offline" and disconnects.
func (c *mqttClient) Close() error {
	if c.client == nil {
		return nil
	}
	if c.client.IsConnected() {
		token := c.client.Publish(c.topics.Status(), byte(c.cfg.QoS), true, "offline")
		token.WaitTimeout(mqttPublishTimeout)
	}
	c.client.Disconnect(mqttDisconnectQuiesce)
	return nil
}

// ============================================================================
// Bridge
// ============================================================================

// mqttBridge publishes state and accepts commands over MQTT.
type mqttBridge struct {
	ctx    context.Context
	pub    mqttPubSub
	topics mqttTopics
	events chan<- Event
	logger *slog.Logger
}

func newMQTTBridge(ctx context.Context, pub mqttPubSub, topics mqttTopics, events chan<- Event, logger *slog.Logger) *mqttBridge {
	return &mqttBridge{ctx: ctx, pub: pub, topics: topics, events: events, logger: logger}
}

// Start subscribes to the command topic.
func (b *mqttBridge) Start() error {
	return b.pub.Subscribe(b.topics.Command(), b.handleCommand)
}

// PublishSnapshot implements SnapshotSink. State is retained so new
// subscribers see it immediately.
func (b *mqttBridge) PublishSnapshot(ctx context.Context, snap StateSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logger.Warn("mqtt state marshal failed", "error", err)
		return
	}
	if err := b.pub.Publish(b.topics.State(), payload, true); err != nil {
		b.logger.Debug("mqtt state publish failed", "error", err)
	}
}

// handleCommand hands the envelope to runCommand and returns at once; the
// paho handler must not wait for the daemon loop or for a PUBACK.
func (b *mqttBridge) handleCommand(topic string, payload []byte) error {
	go b.runCommand(bytes.Clone(payload))
	return nil
}

// runCommand executes a command envelope and publishes the IPC-style response.
func (b *mqttBridge) runCommand(payload []byte) {
	resp := handleIPCRequest(b.ctx, payload, b.events)

	out, err := json.Marshal(resp)
	if err != nil {
		b.logger.Warn("mqtt command result marshal failed", "error", err)
		return
	}
	if err := b.pub.Publish(b.topics.CommandResult(), out, false); err != nil {
		b.logger.Warn("mqtt command result publish failed", "error", err)
	}
}
