package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
)

// defaultHealthInterval is used when the configured interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals and whenever
// the gateway connects or disconnects.
//
// HealthReporter implements cm11.StatusSink.
type HealthReporter struct {
	bridgeID    string
	version     string
	port        string
	startTime   time.Time
	interval    time.Duration
	publisher   HealthPublisher
	gateway     StatsSource
	telemetry   Telemetry
	deviceCount int

	// Connection tracking, updated by the gateway's status callbacks.
	connMu         sync.RWMutex
	connectedSince time.Time
	lastReason     string

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

var _ cm11.StatusSink = (*HealthReporter)(nil)

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// StatsSource provides gateway statistics.
type StatsSource interface {
	Stats() cm11.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Port is the serial port name reported in the connection block.
	Port string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Gateway provides connection statistics.
	Gateway StatsSource

	// Telemetry, if set, receives gateway statistics on every tick.
	Telemetry Telemetry

	// DeviceCount is the number of configured devices.
	DeviceCount int
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:    cfg.BridgeID,
		version:     cfg.Version,
		port:        cfg.Port,
		startTime:   time.Now(),
		interval:    interval,
		publisher:   cfg.Publisher,
		gateway:     cfg.Gateway,
		telemetry:   cfg.Telemetry,
		deviceCount: cfg.DeviceCount,
		done:        make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// OnConnected records the connection time and publishes immediately.
func (h *HealthReporter) OnConnected() {
	h.connMu.Lock()
	h.connectedSince = time.Now()
	h.lastReason = ""
	h.connMu.Unlock()

	h.logInfo("gateway connected")
	if h.stopped() {
		return
	}
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish health", err)
	}
}

// OnDisconnected records the reason and publishes immediately.
func (h *HealthReporter) OnDisconnected(reason string) {
	h.connMu.Lock()
	h.connectedSince = time.Time{}
	h.lastReason = reason
	h.connMu.Unlock()

	h.logWarn("gateway disconnected", "reason", reason)
	if h.stopped() {
		return
	}
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish health", err)
	}
}

// stopped reports whether Stop has been called. The final "stopping"
// status must stay the last one published.
func (h *HealthReporter) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// LWTPayload returns the Last Will and Testament message payload.
func (h *HealthReporter) LWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
			if h.telemetry != nil && h.gateway != nil {
				h.telemetry.WriteGatewayStats(h.bridgeID, h.gateway.Stats())
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.gateway == nil || !h.gateway.Stats().Connected {
		h.connMu.RLock()
		reason := h.lastReason
		h.connMu.RUnlock()
		if reason == "" {
			reason = "gateway disconnected"
		}
		return HealthDegraded, reason
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	var stats cm11.Stats
	if h.gateway != nil {
		stats = h.gateway.Stats()
	}

	h.connMu.RLock()
	since := h.connectedSince
	h.connMu.RUnlock()

	msg := NewHealthMessage(h.bridgeID, h.version, h.port, status, stats,
		since, h.deviceCount, h.startTime)
	msg.Reason = reason

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *HealthReporter) logInfo(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (h *HealthReporter) logWarn(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (h *HealthReporter) logError(msg string, err error) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
