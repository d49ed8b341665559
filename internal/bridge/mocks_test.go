package bridge

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]mqtt.MessageHandler
	connected  bool
	publishErr error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

// PublishedTo returns messages published to topic, oldest first.
func (m *MockMQTTClient) PublishedTo(topic string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler subscribed with pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return handler(topic, payload)
}

// MockGateway implements Gateway. Scheduled devices are held until Flush.
type MockGateway struct {
	mu          sync.Mutex
	scheduled   []cm11.Device
	listeners   []x10.EventListener
	sink        cm11.StatusSink
	stats       cm11.Stats
	scheduleErr error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{stats: cm11.Stats{Connected: true}}
}

func (g *MockGateway) ScheduleHardwareUpdate(d cm11.Device) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.scheduleErr != nil {
		return g.scheduleErr
	}
	for _, s := range g.scheduled {
		if s.ID() == d.ID() {
			return nil
		}
	}
	g.scheduled = append(g.scheduled, d)
	return nil
}

func (g *MockGateway) AddInboundListener(l x10.EventListener) {
	g.mu.Lock()
	g.listeners = append(g.listeners, l)
	g.mu.Unlock()
}

func (g *MockGateway) SetStatusSink(s cm11.StatusSink) {
	g.mu.Lock()
	g.sink = s
	g.mu.Unlock()
}

func (g *MockGateway) Stats() cm11.Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *MockGateway) SetConnected(v bool) {
	g.mu.Lock()
	g.stats.Connected = v
	g.mu.Unlock()
}

// Flush runs UpdateHardware for every scheduled device against tx, the way
// the gateway worker does.
func (g *MockGateway) Flush(tx cm11.Transmitter) []error {
	g.mu.Lock()
	devices := g.scheduled
	g.scheduled = nil
	g.mu.Unlock()

	var errs []error
	for _, d := range devices {
		errs = append(errs, d.UpdateHardware(tx))
	}
	return errs
}

func (g *MockGateway) Emit(ev x10.Event) {
	g.mu.Lock()
	listeners := append([]x10.EventListener(nil), g.listeners...)
	g.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(ev)
	}
}

// mockTransmitter records sends and returns err for each.
type mockTransmitter struct {
	mu    sync.Mutex
	sends []sentFunction
	err   error
	// onSend runs during the send, before it returns.
	onSend func()
}

type sentFunction struct {
	Address  string
	Function x10.Function
	Dims     int
}

func (t *mockTransmitter) SendFunction(address string, fn x10.Function, dims int) error {
	t.mu.Lock()
	t.sends = append(t.sends, sentFunction{address, fn, dims})
	hook := t.onSend
	err := t.err
	t.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (t *mockTransmitter) Sends() []sentFunction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sentFunction(nil), t.sends...)
}

type mockRecorder struct {
	mu     sync.Mutex
	events []x10.Event
}

func (r *mockRecorder) RecordEvent(ev x10.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type mockTelemetry struct {
	mu     sync.Mutex
	events []x10.Event
	stats  []cm11.Stats
}

func (m *mockTelemetry) WriteX10Event(ev x10.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteGatewayStats(_ string, s cm11.Stats) {
	m.mu.Lock()
	m.stats = append(m.stats, s)
	m.mu.Unlock()
}

func (m *mockTelemetry) statsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stats)
}

type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *mockLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *mockLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *mockLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// testBridgeConfig configures three devices, two of them sharing A1.
func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		ID: "x10-test",
		Devices: []config.DeviceConfig{
			{ID: "hall-lamp", Type: config.DeviceTypeLamp, Address: "A1"},
			{ID: "hall-lamp-2", Type: config.DeviceTypeDimmer, Address: "a1"},
			{ID: "pump", Type: config.DeviceTypeAppliance, Address: "B12"},
		},
	}
}

type testHarness struct {
	bridge    *Bridge
	mqtt      *MockMQTTClient
	gateway   *MockGateway
	recorder  *mockRecorder
	telemetry *mockTelemetry
}

func newTestBridge(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		mqtt:      NewMockMQTTClient(),
		gateway:   NewMockGateway(),
		recorder:  &mockRecorder{},
		telemetry: &mockTelemetry{},
	}
	b, err := New(Options{
		Config:     testBridgeConfig(),
		PortName:   "/dev/ttyUSB0",
		Version:    "test",
		MQTTClient: h.mqtt,
		Gateway:    h.gateway,
		Recorder:   h.recorder,
		Telemetry:  h.telemetry,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.bridge = b
	return h
}

// lastAck decodes the most recent ack for deviceID.
func (h *testHarness) lastAck(t *testing.T, deviceID string) AckMessage {
	t.Helper()
	acks := h.acks(t, deviceID)
	if len(acks) == 0 {
		t.Fatalf("no ack published for %s", deviceID)
	}
	return acks[len(acks)-1]
}

func (h *testHarness) acks(t *testing.T, deviceID string) []AckMessage {
	t.Helper()
	var out []AckMessage
	for _, p := range h.mqtt.PublishedTo(AckTopic(deviceID)) {
		var ack AckMessage
		if err := json.Unmarshal(p.Payload, &ack); err != nil {
			t.Fatalf("unmarshal ack: %v", err)
		}
		out = append(out, ack)
	}
	return out
}

func (h *testHarness) states(t *testing.T, addr string) []StateMessage {
	t.Helper()
	a, err := x10.ParseAddress(addr)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", addr, err)
	}
	var out []StateMessage
	for _, p := range h.mqtt.PublishedTo(StateTopic(a)) {
		if !p.Retained {
			t.Errorf("state for %s published without retain", addr)
		}
		var msg StateMessage
		if err := json.Unmarshal(p.Payload, &msg); err != nil {
			t.Fatalf("unmarshal state: %v", err)
		}
		out = append(out, msg)
	}
	return out
}
