package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func decodeHealth(t *testing.T, p mockPublish) HealthMessage {
	t.Helper()
	var msg HealthMessage
	if err := json.Unmarshal(p.Payload, &msg); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	return msg
}

func lastHealth(t *testing.T, m *MockMQTTClient) HealthMessage {
	t.Helper()
	msgs := m.PublishedTo(HealthTopic())
	if len(msgs) == 0 {
		t.Fatal("no health published")
	}
	last := msgs[len(msgs)-1]
	if !last.Retained || last.QoS != 1 {
		t.Errorf("health published with qos=%d retained=%v", last.QoS, last.Retained)
	}
	return decodeHealth(t, last)
}

func newTestReporter(m *MockMQTTClient, g *MockGateway) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:    "x10-test",
		Version:     "1.2.3",
		Port:        "/dev/ttyUSB0",
		Interval:    time.Hour,
		Publisher:   m,
		Gateway:     g,
		DeviceCount: 3,
	})
}

func TestHealthReporter_DetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		gatewayUp  bool
		reason     string
		wantStatus HealthStatus
		wantReason string
	}{
		{"all connected", true, true, "", HealthHealthy, ""},
		{"mqtt down", false, true, "", HealthDegraded, "MQTT disconnected"},
		{"gateway down", true, false, "", HealthDegraded, "gateway disconnected"},
		{"gateway down with reason", true, false, "port busy", HealthDegraded, "port busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockMQTTClient()
			m.SetConnected(tt.mqttUp)
			g := NewMockGateway()
			g.SetConnected(tt.gatewayUp)
			h := newTestReporter(m, g)
			h.lastReason = tt.reason

			status, reason := h.determineStatus()
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("determineStatus() = (%s, %q), want (%s, %q)",
					status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_StatusSinkTransitions(t *testing.T) {
	m := NewMockMQTTClient()
	g := NewMockGateway()
	h := newTestReporter(m, g)

	g.SetConnected(false)
	h.OnDisconnected("serial port not found")

	msg := lastHealth(t, m)
	if msg.Status != HealthDegraded || msg.Reason != "serial port not found" {
		t.Errorf("after disconnect: status=%s reason=%q", msg.Status, msg.Reason)
	}
	if msg.Connection == nil || msg.Connection.Status != "disconnected" || msg.Connection.ConnectedSince != nil {
		t.Errorf("connection = %+v, want disconnected", msg.Connection)
	}

	g.SetConnected(true)
	h.OnConnected()

	msg = lastHealth(t, m)
	if msg.Status != HealthHealthy || msg.Reason != "" {
		t.Errorf("after connect: status=%s reason=%q", msg.Status, msg.Reason)
	}
	if msg.Connection.Status != "connected" || msg.Connection.ConnectedSince == nil {
		t.Errorf("connection = %+v, want connected with since", msg.Connection)
	}
	if msg.Connection.Port != "/dev/ttyUSB0" || msg.Version != "1.2.3" || msg.DevicesManaged != 3 {
		t.Errorf("health = %+v", msg)
	}
}

func TestHealthReporter_StartStop(t *testing.T) {
	m := NewMockMQTTClient()
	g := NewMockGateway()
	tel := &mockTelemetry{}
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  "x10-test",
		Interval:  10 * time.Millisecond,
		Publisher: m,
		Gateway:   g,
		Telemetry: tel,
	})

	h.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for tel.statsCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tel.statsCount() < 2 {
		t.Error("gateway stats not written on ticks")
	}

	h.Stop()
	h.Stop() // idempotent

	if msg := lastHealth(t, m); msg.Status != HealthStopping {
		t.Errorf("final status = %s, want %s", msg.Status, HealthStopping)
	}
}

func TestHealthReporter_ContextCancelStopsLoop(t *testing.T) {
	m := NewMockMQTTClient()
	h := newTestReporter(m, NewMockGateway())

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after context cancel")
	}
}

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.interval, defaultHealthInterval)
	}
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() without publisher error: %v", err)
	}
}

func TestHealthReporter_LWTPayload(t *testing.T) {
	h := newTestReporter(NewMockMQTTClient(), NewMockGateway())

	payload, err := h.LWTPayload()
	if err != nil {
		t.Fatalf("LWTPayload() error: %v", err)
	}
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthOffline || msg.Bridge != "x10-test" || msg.Reason != "unexpected_disconnect" {
		t.Errorf("LWT = %+v", msg)
	}
}

func TestHealthReporter_QuietAfterStop(t *testing.T) {
	m := NewMockMQTTClient()
	g := NewMockGateway()
	h := newTestReporter(m, g)

	h.Stop()
	g.SetConnected(false)
	h.OnDisconnected("gateway stopped")

	if msg := lastHealth(t, m); msg.Status != HealthStopping {
		t.Errorf("last status = %s, want %s", msg.Status, HealthStopping)
	}
}
