package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/thingy-control/internal/buildinfo"
	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/source"
)

// ErrNotConnected is returned by Notify while the broker is
// unreachable.
var ErrNotConnected = errors.New("mqtt not connected")

// Client manages the broker connection, routes inbound queue messages
// to their QueueSource, publishes field notifications and keeps HA
// discovery and diagnostics current.
type Client struct {
	cfg        config.MQTTConfig
	dev        config.DeviceConfig
	instanceID string
	device     DeviceInfo
	counter    *DailyTransitions
	logger     *slog.Logger
	bus        *events.Bus

	queues  map[string]*QueueSource
	monitor *messageRateMonitor

	cm        *autopaho.ConnectionManager
	runCtx    context.Context
	connected atomic.Bool

	mu      sync.Mutex
	pending map[control.FieldID][]byte

	connectTimeout time.Duration
}

// New creates a Client but does not connect. Register queue consumers
// with [Client.AddQueue] before calling [Client.Start].
func New(cfg config.MQTTConfig, dev config.DeviceConfig, instanceID string, counter *DailyTransitions, logger *slog.Logger, bus *events.Bus) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	limit := int64(cfg.RateWarnPerMinute)
	if limit <= 0 {
		limit = 6000
	}
	return &Client{
		cfg:        cfg,
		dev:        dev,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName, dev.ID),
		counter:    counter,
		logger:     logger,
		bus:        bus,
		queues:     make(map[string]*QueueSource),
		monitor:    newMessageRateMonitor(limit, time.Minute, logger),
		pending:    make(map[control.FieldID][]byte),

		connectTimeout: 30 * time.Second,
	}
}

// AddQueue registers a consumer for the queue bridging u and returns
// it. The caller runs the returned source.
func (c *Client) AddQueue(u source.Updater) *QueueSource {
	topic := QueueName(c.dev.ID, c.dev.Service, u.ID())
	q := newQueueSource(topic, u, c.logger, c.bus)
	c.queues[topic] = q
	return q
}

// AddQueues registers one consumer per binding.
func (c *Client) AddQueues(us []source.Updater) []source.Source {
	out := make([]source.Source, 0, len(us))
	for _, u := range us {
		out = append(out, c.AddQueue(u))
	}
	return out
}

// Topics returns every registered queue.
func (c *Client) Topics() []string {
	out := make([]string, 0, len(c.queues))
	for t := range c.queues {
		out = append(out, t)
	}
	return out
}

// Start connects to the broker and runs the diagnostics loop. It
// blocks until ctx is cancelled. Failing to reach the broker within
// the connect timeout is an error.
func (c *Client) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}
	c.runCtx = ctx

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   c.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.connected.Store(true)
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker)
			c.subscribe(ctx, cm)
			c.publishDiscovery(ctx, cm)
			c.publishAvailability(ctx, cm, "online")
			c.flushPending(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.connected.Store(false)
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID:          c.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){c.onPublish},
			OnClientError: func(err error) {
				c.connected.Store(false)
				c.logger.Warn("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.connected.Store(false)
				c.logger.Warn("mqtt server disconnect", "reason", d.ReasonCode)
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// cmCtx stops autopaho's retries when the first connect fails.
	cmCtx, cmCancel := context.WithCancel(ctx)
	cm, err := autopaho.NewConnection(cmCtx, pahoCfg)
	if err != nil {
		cmCancel()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm = cm

	go c.monitor.start(ctx)

	// The first connection must succeed; autopaho reconnects after
	// later drops.
	connCtx, connCancel := context.WithTimeout(ctx, c.connectTimeout)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		cmCancel()
		if ctx.Err() != nil {
			return nil
		}
		c.cm = nil
		return fmt.Errorf("mqtt connect to %s: %w", c.cfg.Broker, err)
	}

	c.runLoop(ctx)
	cmCancel()
	return nil
}

// Stop publishes "offline" and disconnects.
func (c *Client) Stop(ctx context.Context) error {
	if c.cm == nil {
		return nil
	}
	c.publishAvailability(ctx, c.cm, "offline")
	c.connected.Store(false)
	return c.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is established
// or ctx expires. Used as the connwatch health probe.
func (c *Client) AwaitConnection(ctx context.Context) error {
	if c.cm == nil {
		return errors.New("mqtt client not started")
	}
	return c.cm.AwaitConnection(ctx)
}

// Connected reports whether the broker connection is currently up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Notify publishes payload to the field's queue and its HA state
// topic. It returns ErrNotConnected while the broker is unreachable.
func (c *Client) Notify(ctx context.Context, f control.FieldID, payload []byte) error {
	if c.cm == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	topic := FieldQueue(c.dev.ID, c.dev.Service, f)
	if _, err := c.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(c.cfg.QoS),
		Retain:  true,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.publishFieldState(ctx, c.cm, f, payload)

	c.mu.Lock()
	delete(c.pending, f)
	c.mu.Unlock()
	return nil
}

// Set stores payload without notifying. Stored values are published
// retained on the next (re-)connect so the broker catches up.
func (c *Client) Set(f control.FieldID, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[f] = append([]byte(nil), payload...)
	return nil
}

// Pending returns the number of fields waiting for a reconnect.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// onPublish routes an inbound message to its queue consumer
// and blocks until the consumer has applied it. Returning lets paho
// send the acknowledgement.
func (c *Client) onPublish(pr paho.PublishReceived) (bool, error) {
	topic := pr.Packet.Topic
	// A flood is reported, never dropped.
	c.monitor.observe()
	q, ok := c.queues[topic]
	if !ok {
		logUnrouted(c.logger, topic, pr.Packet.Payload)
		return false, nil
	}
	ctx := c.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if !q.handle(ctx, pr.Packet.Payload) {
		c.logger.Debug("mqtt message abandoned at shutdown", "topic", topic)
	}
	return true, nil
}

// --- Topic helpers ---

func (c *Client) baseTopic() string {
	return "thingy/" + c.cfg.DeviceName
}

func (c *Client) availabilityTopic() string {
	return c.baseTopic() + "/availability"
}

func (c *Client) stateTopic(entity string) string {
	return c.baseTopic() + "/" + entity + "/state"
}

func (c *Client) discoveryTopic(component, entity string) string {
	return c.cfg.DiscoveryPrefix + "/" + component + "/" + c.cfg.DeviceName + "/" + entity + "/config"
}

// --- Subscriptions ---

func (c *Client) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if len(c.queues) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, 0, len(c.queues))
	for topic := range c.queues {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: byte(c.cfg.QoS)})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		c.logger.Error("mqtt subscribe failed", "queues", len(subs), "error", err)
		return
	}
	c.logger.Info("mqtt queues subscribed", "queues", len(subs), "qos", c.cfg.QoS)
}

// --- Discovery ---

type entityDef struct {
	component    string
	entitySuffix string
	config       SensorConfig
}

func (c *Client) entityDefinitions() []entityDef {
	avail := c.availabilityTopic()
	var defs []entityDef
	// Field states are only published alongside notifies.
	for _, f := range c.notifiedFields() {
		cfg := SensorConfig{
			Name:              f.String(),
			UniqueID:          c.instanceID + "_" + f.String(),
			StateTopic:        c.stateTopic(f.String()),
			AvailabilityTopic: avail,
			Device:            c.device,
		}
		component := "binary_sensor"
		if f.Kind() == control.KindTriState {
			component = "sensor"
			cfg.DeviceClass = "enum"
			cfg.Options = []string{f.Format(0), f.Format(1), f.Format(-1)}
			cfg.Icon = "mdi:gamepad"
		} else {
			cfg.PayloadOn = f.Format(1)
			cfg.PayloadOff = f.Format(0)
			cfg.Icon = "mdi:gamepad-circle"
		}
		defs = append(defs, entityDef{component: component, entitySuffix: f.String(), config: cfg})
	}

	defs = append(defs,
		entityDef{
			component:    "sensor",
			entitySuffix: "transitions_today",
			config: SensorConfig{
				Name:              "Transitions Today",
				UniqueID:          c.instanceID + "_transitions_today",
				StateTopic:        c.stateTopic("transitions_today"),
				AvailabilityTopic: avail,
				Device:            c.device,
				Icon:              "mdi:counter",
				StateClass:        "total_increasing",
				UnitOfMeasurement: "transitions",
			},
		},
		entityDef{
			component:    "sensor",
			entitySuffix: "uptime",
			config: SensorConfig{
				Name:              "Uptime",
				UniqueID:          c.instanceID + "_uptime",
				StateTopic:        c.stateTopic("uptime"),
				AvailabilityTopic: avail,
				Device:            c.device,
				Icon:              "mdi:clock-outline",
				EntityCategory:    "diagnostic",
			},
		},
		entityDef{
			component:    "sensor",
			entitySuffix: "version",
			config: SensorConfig{
				Name:              "Version",
				UniqueID:          c.instanceID + "_version",
				StateTopic:        c.stateTopic("version"),
				AvailabilityTopic: avail,
				Device:            c.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
	)
	return defs
}

func (c *Client) notifiedFields() []control.FieldID {
	if !c.cfg.Notify {
		return nil
	}
	return control.Fields()
}

func (c *Client) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, e := range c.entityDefinitions() {
		topic := c.discoveryTopic(e.component, e.entitySuffix)
		payload, err := json.Marshal(e.config)
		if err != nil {
			c.logger.Error("mqtt marshal discovery payload",
				"entity", e.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			c.logger.Warn("mqtt discovery publish failed",
				"entity", e.entitySuffix, "topic", topic, "error", err)
		} else {
			c.logger.Debug("mqtt discovery published",
				"entity", e.entitySuffix, "topic", topic)
		}
	}
}

func (c *Client) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		c.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		c.logger.Info("mqtt availability published", "status", status)
	}
}

// fieldStateText renders a wire payload as the HA state text.
func fieldStateText(f control.FieldID, payload []byte) (string, error) {
	v, err := control.Decode(f, payload)
	if err != nil {
		return "", err
	}
	return f.Format(v), nil
}

func (c *Client) publishFieldState(ctx context.Context, cm *autopaho.ConnectionManager, f control.FieldID, payload []byte) {
	text, err := fieldStateText(f, payload)
	if err != nil {
		c.logger.Debug("mqtt field state not publishable", "field", f.String(), "error", err)
		return
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   c.stateTopic(f.String()),
		Payload: []byte(text),
		QoS:     0,
		Retain:  true,
	}); err != nil {
		c.logger.Debug("mqtt field state publish failed", "field", f.String(), "error", err)
	}
}

// flushPending publishes values stored by Set while disconnected.
func (c *Client) flushPending(ctx context.Context, cm *autopaho.ConnectionManager) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[control.FieldID][]byte)
	c.mu.Unlock()

	for f, payload := range pending {
		topic := FieldQueue(c.dev.ID, c.dev.Service, f)
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     byte(c.cfg.QoS),
			Retain:  true,
		}); err != nil {
			c.logger.Warn("mqtt stored value publish failed", "field", f.String(), "error", err)
			_ = c.Set(f, payload)
			continue
		}
		c.publishFieldState(ctx, cm, f, payload)
		c.logger.Info("mqtt stored value published", "field", f.String(), "topic", topic)
	}
}

// --- Periodic diagnostics ---

func (c *Client) runLoop(ctx context.Context) {
	interval := time.Duration(c.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishStates(ctx)
		}
	}
}

func (c *Client) diagnosticStates() map[string]string {
	states := map[string]string{
		"uptime":  buildinfo.Uptime().String(),
		"version": buildinfo.Version,
	}
	if c.counter != nil {
		total, _ := c.counter.Snapshot()
		states["transitions_today"] = strconv.FormatInt(total, 10)
	}
	return states
}

func (c *Client) publishStates(ctx context.Context) {
	if c.cm == nil || !c.connected.Load() {
		return
	}

	states := c.diagnosticStates()
	for entity, value := range states {
		if _, err := c.cm.Publish(ctx, &paho.Publish{
			Topic:   c.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			c.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	c.logger.Debug("mqtt diagnostic states published", "entities", len(states))
}
