package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/source"
)

const (
	testDevice  = "DF:89:2B:DA:0B:CB"
	testService = "0000dad0-0000-0000-0000-000000000000"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.MQTTConfig{
		Broker:            "mqtt://localhost:1883",
		DeviceName:        "den-thingy",
		DiscoveryPrefix:   "homeassistant",
		QoS:               1,
		Notify:            true,
		RateWarnPerMinute: 100,
	}
	dev := config.DeviceConfig{ID: testDevice, Service: testService}
	return New(cfg, dev, "instance-123", NewDailyTransitions(time.UTC), discard(), nil)
}

func TestQueueName(t *testing.T) {
	got := QueueName(testDevice, testService, control.FieldLeftRight.UUID())
	want := "DF:89:2B:DA:0B:CB/0000dad0-0000-0000-0000-000000000000/0000dad0-0000-0000-0000-000000000001"
	if got != want {
		t.Errorf("QueueName() = %q, want %q", got, want)
	}
}

func TestClient_TopicPaths(t *testing.T) {
	c := testClient(t)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"baseTopic", c.baseTopic(), "thingy/den-thingy"},
		{"availabilityTopic", c.availabilityTopic(), "thingy/den-thingy/availability"},
		{"stateTopic", c.stateTopic("shoot"), "thingy/den-thingy/shoot/state"},
		{"discoveryTopic", c.discoveryTopic("binary_sensor", "shoot"), "homeassistant/binary_sensor/den-thingy/shoot/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestClient_EntityDefinitions(t *testing.T) {
	c := testClient(t)
	defs := c.entityDefinitions()

	if want := len(control.Fields()) + 3; len(defs) != want {
		t.Fatalf("got %d entities, want %d", len(defs), want)
	}

	byName := make(map[string]entityDef)
	for _, d := range defs {
		byName[d.entitySuffix] = d
		if d.config.AvailabilityTopic != "thingy/den-thingy/availability" {
			t.Errorf("%s availability = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
		if !strings.HasPrefix(d.config.UniqueID, "instance-123_") {
			t.Errorf("%s unique_id = %q", d.entitySuffix, d.config.UniqueID)
		}
	}

	lr := byName["left_right"]
	if lr.component != "sensor" || lr.config.DeviceClass != "enum" {
		t.Errorf("left_right = %s/%s, want sensor/enum", lr.component, lr.config.DeviceClass)
	}
	if len(lr.config.Options) != 3 {
		t.Errorf("left_right options = %v", lr.config.Options)
	}
	shoot := byName["shoot"]
	if shoot.component != "binary_sensor" || shoot.config.PayloadOn != "true" {
		t.Errorf("shoot = %s payload_on=%q", shoot.component, shoot.config.PayloadOn)
	}

	data, err := json.Marshal(shoot.config)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"connections":[["bluetooth","DF:89:2B:DA:0B:CB"]]`) {
		t.Errorf("discovery payload missing bluetooth connection: %s", data)
	}
}

func TestClient_EntityDefinitionsWithoutNotify(t *testing.T) {
	c := testClient(t)
	c.cfg.Notify = false

	defs := c.entityDefinitions()
	if len(defs) != 3 {
		t.Fatalf("got %d entities, want 3 diagnostics only", len(defs))
	}
	for _, d := range defs {
		if _, err := control.ParseField(d.entitySuffix); err == nil {
			t.Errorf("field entity %s announced without notify", d.entitySuffix)
		}
	}
}

func TestClient_NotifyNotConnected(t *testing.T) {
	c := testClient(t)
	err := c.Notify(context.Background(), control.FieldShoot, []byte{1})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Notify() error = %v, want ErrNotConnected", err)
	}

	if err := c.Set(control.FieldShoot, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(control.FieldShoot, []byte{0}); err != nil {
		t.Fatal(err)
	}
	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1 (latest value per field)", got)
	}
}

func TestClient_RoutesToQueue(t *testing.T) {
	c := testClient(t)
	state := control.NewState()
	bus := events.New()
	c.bus = bus
	sources := c.AddQueues(source.ControlFields(state))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.runCtx = ctx
	go func() { _ = source.RunAll(ctx, sources, discard()) }()

	topic := FieldQueue(testDevice, testService, control.FieldLeftRight)
	handled, err := c.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: topic, Payload: []byte{0x01}}})
	if err != nil || !handled {
		t.Fatalf("onPublish() = %v, %v, want true, nil", handled, err)
	}

	// onPublish returns only after the payload is applied.
	if got := state.Snapshot().LeftRight; got != control.Left {
		t.Errorf("LeftRight = %v, want Left", got)
	}
}

func TestClient_UnroutedTopic(t *testing.T) {
	c := testClient(t)
	handled, err := c.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: "elsewhere", Payload: []byte{1}}})
	if err != nil || handled {
		t.Errorf("onPublish() = %v, %v, want false, nil", handled, err)
	}
}

func TestClient_BadPayloadStillAcked(t *testing.T) {
	c := testClient(t)
	state := control.NewState()
	state.Replace(control.Control{Jump: true})
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)
	c.bus = bus
	sources := c.AddQueues(source.ControlFields(state))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.runCtx = ctx
	go func() { _ = source.RunAll(ctx, sources, discard()) }()

	topic := FieldQueue(testDevice, testService, control.FieldJump)
	handled, _ := c.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: topic, Payload: []byte{1, 2}}})
	if !handled {
		t.Error("malformed message should still be marked handled")
	}
	if !state.Snapshot().Jump {
		t.Error("malformed message must not change state")
	}
	select {
	case e := <-ch:
		if e.Kind != events.KindDecodeDropped || e.Source != events.SourceQueue {
			t.Errorf("event = %s/%s, want %s/%s", e.Source, e.Kind, events.SourceQueue, events.KindDecodeDropped)
		}
	case <-time.After(time.Second):
		t.Error("no decode_dropped event")
	}
}

func TestClient_ReplayOrder(t *testing.T) {
	c := testClient(t)
	state := control.NewState()
	sources := c.AddQueues(source.ControlFields(state))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.runCtx = ctx
	go func() { _ = source.RunAll(ctx, sources, discard()) }()

	topic := FieldQueue(testDevice, testService, control.FieldLeftRight)
	for _, b := range []byte{0x01, 0x00} {
		c.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: topic, Payload: []byte{b}}})
	}
	if got := state.Snapshot().LeftRight; got != control.LeftRightNone {
		t.Errorf("LeftRight = %v, want None after replay", got)
	}
}

func TestClient_OverRateStillApplied(t *testing.T) {
	c := testClient(t)
	c.monitor = newMessageRateMonitor(1, time.Minute, discard())
	state := control.NewState()
	sources := c.AddQueues(source.ControlFields(state))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.runCtx = ctx
	go func() { _ = source.RunAll(ctx, sources, discard()) }()

	topic := FieldQueue(testDevice, testService, control.FieldLeftRight)
	for _, b := range []byte{0x01, 0x00} {
		handled, err := c.onPublish(paho.PublishReceived{Packet: &paho.Publish{Topic: topic, Payload: []byte{b}}})
		if err != nil || !handled {
			t.Fatalf("onPublish(0x%02x) = %v, %v, want true, nil", b, handled, err)
		}
	}
	if got := state.Snapshot().LeftRight; got != control.LeftRightNone {
		t.Errorf("LeftRight = %v after 0x01,0x00 over the rate limit, want None", got)
	}
	if excess := c.monitor.excess.Load(); excess != 1 {
		t.Errorf("over-limit count = %d, want 1", excess)
	}
}

func TestClient_StartFailsWithoutBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := testClient(t)
	c.cfg.Broker = "mqtt://" + addr
	c.connectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = c.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "mqtt connect to") {
		t.Fatalf("Start() error = %v, want connect failure", err)
	}
	if ctx.Err() != nil {
		t.Fatal("Start() returned only after the test deadline")
	}
	if c.Connected() {
		t.Error("Connected() = true after failed start")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after failed start = %v, want nil", err)
	}
}

func TestQueueSource_HandleCancelled(t *testing.T) {
	q := newQueueSource("t", source.ControlField{State: control.NewState(), Field: control.FieldShoot}, discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.handle(ctx, []byte{1}) {
		t.Error("handle() = true with no consumer and a cancelled context")
	}
}

func TestFieldStateText(t *testing.T) {
	tests := []struct {
		field   control.FieldID
		payload []byte
		want    string
	}{
		{control.FieldLeftRight, []byte{0x01}, "Left"},
		{control.FieldLeftRight, []byte{0xff}, "Right"},
		{control.FieldUpDown, []byte{0xff}, "Up"},
		{control.FieldSpin, []byte{0x07}, "true"},
	}
	for _, tt := range tests {
		got, err := fieldStateText(tt.field, tt.payload)
		if err != nil {
			t.Errorf("fieldStateText(%s, %v) error = %v", tt.field, tt.payload, err)
			continue
		}
		if got != tt.want {
			t.Errorf("fieldStateText(%s, %v) = %q, want %q", tt.field, tt.payload, got, tt.want)
		}
	}
}

func TestDiagnosticStates(t *testing.T) {
	c := testClient(t)
	_ = c.counter.Emit(context.Background(), control.Transition{Field: control.FieldShoot, Old: 0, New: 1})

	states := c.diagnosticStates()
	if states["transitions_today"] != "1" {
		t.Errorf("transitions_today = %q, want 1", states["transitions_today"])
	}
	if states["version"] == "" {
		t.Error("version state missing")
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}
