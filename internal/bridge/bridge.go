package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Topic layout: graylogic/command/x10/{device_id}
const commandTopicParts = 4

// Source values carried by state messages.
const (
	SourcePowerline = "powerline"
	SourceCommand   = "command"
)

// Bridge translates between MQTT and the X10 gateway:
//   - commands on graylogic/command/x10/{device_id} become scheduled device updates
//   - decoded powerline events become retained state on graylogic/state/x10/{address}
//   - gateway connection transitions drive the health reporter
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       config.BridgeConfig
	mqtt      MQTTClient
	gateway   Gateway
	health    *HealthReporter
	recorder  Recorder  // optional
	telemetry Telemetry // optional

	// Built once in New and read-only afterwards.
	devices   map[string]*Device
	byAddress map[x10.Address][]string

	commandsRx     atomic.Uint64
	commandsFailed atomic.Uint64
	eventsRx       atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Gateway is the subset of *cm11.Gateway the bridge needs.
type Gateway interface {
	ScheduleHardwareUpdate(d cm11.Device) error
	AddInboundListener(l x10.EventListener)
	SetStatusSink(s cm11.StatusSink)
	Stats() cm11.Stats
}

// Recorder remembers addresses seen on the powerline.
// Satisfied by *AddressRecorder.
type Recorder interface {
	RecordEvent(ev x10.Event)
}

// Telemetry receives events and gateway statistics.
// Satisfied by *influxdb.Client.
type Telemetry interface {
	WriteX10Event(ev x10.Event)
	WriteGatewayStats(gatewayID string, stats cm11.Stats)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds everything needed to create a bridge.
type Options struct {
	// Config is the bridge section of config.yaml.
	Config config.BridgeConfig

	// PortName is reported in health messages.
	PortName string

	// Version is reported in health messages.
	Version string

	MQTTClient MQTTClient
	Gateway    Gateway

	// Recorder and Telemetry are optional. Leave them nil (not a typed nil
	// pointer) to disable.
	Recorder  Recorder
	Telemetry Telemetry

	Logger Logger
}

// New creates a bridge for the configured devices. Call Start to begin.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		gateway:   opts.Gateway,
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		devices:   make(map[string]*Device, len(opts.Config.Devices)),
		byAddress: make(map[x10.Address][]string),
		logger:    opts.Logger,
	}

	for _, dc := range opts.Config.Devices {
		if _, dup := b.devices[dc.ID]; dup {
			return nil, fmt.Errorf("device %s configured twice", dc.ID)
		}
		d, err := NewDevice(dc)
		if err != nil {
			return nil, err
		}
		d.onResult = b.handleResult
		b.devices[d.ID()] = d
		b.byAddress[d.Address()] = append(b.byAddress[d.Address()], d.ID())
	}
	for _, ids := range b.byAddress {
		sort.Strings(ids)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.Config.ID,
		Version:     opts.Version,
		Port:        opts.PortName,
		Interval:    time.Duration(opts.Config.HealthInterval) * time.Second,
		Publisher:   opts.MQTTClient,
		Gateway:     opts.Gateway,
		Telemetry:   opts.Telemetry,
		DeviceCount: len(b.devices),
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start wires the bridge to the gateway, subscribes to commands and starts
// health reporting. Calls after the first are no-ops.
func (b *Bridge) Start(ctx context.Context) error {
	var err error
	b.startOnce.Do(func() {
		err = b.start(ctx)
	})
	return err
}

func (b *Bridge) start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.gateway.SetStatusSink(b.health)
	b.gateway.AddInboundListener(x10.ListenerFunc(b.handleEvent))

	topic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(topic, 1, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.ID,
		"devices", len(b.devices))
	return nil
}

// Stop halts health reporting and publishes a final "stopping" status.
// The gateway is owned by the caller and is not touched.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// Health returns the reporter acting as the gateway's status sink.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Device returns a configured device by ID.
func (b *Bridge) Device(id string) (*Device, bool) {
	d, ok := b.devices[id]
	return d, ok
}

// handleMessage is the MQTT handler for command topics.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" || parts[3] == "" {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	topicDevice := parts[3]

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.commandsFailed.Add(1)
		b.publishAckError(CommandMessage{DeviceID: topicDevice}, "",
			ErrCodeInvalidParameters, "malformed command payload")
		return fmt.Errorf("parse command: %w", err)
	}

	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDevice
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.DeviceID != topicDevice {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, "", ErrCodeInvalidParameters,
			fmt.Sprintf("device_id %q does not match topic device %q", cmd.DeviceID, topicDevice))
		return nil
	}

	b.HandleCommand(cmd)
	return nil
}

// HandleCommand validates cmd, stores it on its device and schedules the
// device on the gateway. Every outcome is acknowledged on the ack topic.
func (b *Bridge) HandleCommand(cmd CommandMessage) {
	b.commandsRx.Add(1)
	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	dev, ok := b.devices[cmd.DeviceID]
	if !ok {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, "", ErrCodeNotConfigured,
			fmt.Sprintf("%v: %s", ErrUnknownDevice, cmd.DeviceID))
		return
	}
	address := dev.Address().String()

	fn, dims, code, msg := translateCommand(dev, cmd)
	if code != "" {
		b.commandsFailed.Add(1)
		b.publishAckError(cmd, address, code, msg)
		return
	}

	p := &pendingCommand{cmd: cmd, function: fn, dims: dims}
	dev.setPending(p)
	b.publishAck(cmd, address, AckQueued)

	if err := b.gateway.ScheduleHardwareUpdate(dev); err != nil {
		dev.clearPending(p)
		b.commandsFailed.Add(1)
		code := ErrCodeBridgeError
		if errors.Is(err, cm11.ErrQueueFull) {
			code = ErrCodeQueueFull
		}
		b.publishAckError(cmd, address, code, err.Error())
	}
}

// translateCommand maps a command to an X10 function. A non-empty code
// means the command was rejected.
func translateCommand(dev *Device, cmd CommandMessage) (fn x10.Function, dims int, code, msg string) {
	switch strings.ToLower(cmd.Command) {
	case "on":
		return x10.On, 0, "", ""
	case "off":
		return x10.Off, 0, "", ""
	case "status_request":
		return x10.StatusRequest, 0, "", ""
	case "dim", "bright":
		if !dev.Dimmable() {
			return 0, 0, ErrCodeInvalidCommand,
				fmt.Sprintf("%s module cannot %s", dev.Type(), cmd.Command)
		}
		steps, err := stepsParameter(cmd.Parameters)
		if err != nil {
			return 0, 0, ErrCodeInvalidParameters, err.Error()
		}
		fn = x10.Dim
		if strings.EqualFold(cmd.Command, "bright") {
			fn = x10.Bright
		}
		return fn, steps, "", ""
	default:
		return 0, 0, ErrCodeInvalidCommand, fmt.Sprintf("unknown command: %s", cmd.Command)
	}
}

// stepsParameter reads the "steps" parameter: a whole number 1-22.
func stepsParameter(params map[string]any) (int, error) {
	raw, ok := params["steps"]
	if !ok {
		return 0, fmt.Errorf("missing 'steps' parameter")
	}
	v, ok := raw.(float64)
	if !ok || v != math.Trunc(v) {
		return 0, fmt.Errorf("'steps' must be a whole number")
	}
	if v < 1 || v > x10.MaxDims {
		return 0, fmt.Errorf("'steps' must be 1-%d, got %v", x10.MaxDims, v)
	}
	return int(v), nil
}

// handleResult acknowledges the final outcome of a scheduled command.
func (b *Bridge) handleResult(d *Device, p *pendingCommand, err error) {
	address := d.Address().String()

	switch {
	case err == nil:
		b.publishAck(p.cmd, address, AckAccepted)
		if p.function != x10.StatusRequest {
			b.publishState(d.Address(), p.function, p.dims, SourceCommand, nowUTC())
		}
	case errors.Is(err, ErrSuperseded):
		b.publishAckError(p.cmd, address, ErrCodeSuperseded, err.Error())
	case errors.Is(err, cm11.ErrClosed):
		b.commandsFailed.Add(1)
		b.publishAckError(p.cmd, address, ErrCodeBridgeError, err.Error())
	default:
		b.commandsFailed.Add(1)
		b.publishAckError(p.cmd, address, ErrCodeProtocolError, err.Error())
	}
}

// handleEvent publishes, records and reports one decoded powerline event.
// It runs on the gateway's dispatcher goroutine.
func (b *Bridge) handleEvent(ev x10.Event) {
	b.eventsRx.Add(1)
	b.logDebug("powerline event",
		"addresses", x10.FormatAddresses(ev.Addresses),
		"function", ev.Function.String(),
		"dims", ev.Dims)

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	for _, addr := range ev.Addresses {
		b.publishState(addr, ev.Function, ev.Dims, SourcePowerline, ts)
	}

	if b.recorder != nil {
		b.recorder.RecordEvent(ev)
	}
	if b.telemetry != nil {
		b.telemetry.WriteX10Event(ev)
	}
}

// publishState publishes the retained state for one address.
func (b *Bridge) publishState(addr x10.Address, fn x10.Function, dims int, source string, ts time.Time) {
	msg := NewStateMessage(addr, fn, dims, b.byAddress[addr], source, ts)
	b.publishJSON(StateTopic(addr), msg, true)
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, address string, status AckStatus) {
	b.publishJSON(AckTopic(cmd.DeviceID), NewAckMessage(cmd, status, address), false)
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, address, code, message string) {
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"code", code,
		"reason", message)
	b.publishJSON(AckTopic(cmd.DeviceID), NewAckError(cmd, address, code, message), false)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to marshal message", err, "topic", topic)
		return
	}
	if err := b.mqtt.Publish(topic, payload, 1, retained); err != nil {
		b.logError("failed to publish", err, "topic", topic)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Metrics holds bridge counters.
type Metrics struct {
	CommandsReceived uint64
	CommandsFailed   uint64
	EventsReceived   uint64
	Devices          int
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		CommandsReceived: b.commandsRx.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		EventsReceived:   b.eventsRx.Load(),
		Devices:          len(b.devices),
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
