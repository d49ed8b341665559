package bridge

import (
	"time"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Protocol is the protocol segment of every bridge topic.
const Protocol = "x10"

// topicRoot is the first segment of every bridge topic. Topics follow
// graylogic/{category}/x10/{device_id or address}.
const topicRoot = "graylogic"

// MQTT message types exchanged between the controller and the X10 bridge.

// CommandMessage is sent by the controller to drive a configured device.
// Topic: graylogic/command/x10/{device_id}
type CommandMessage struct {
	// ID correlates acknowledgements. The bridge assigns one when empty.
	ID string `json:"id"`

	// DeviceID is the configured device identifier. Defaults to the topic's
	// last segment when empty.
	DeviceID string `json:"device_id"`

	// Command is one of "on", "off", "dim", "bright", "status_request".
	Command string `json:"command"`

	// Parameters carries command-specific values, e.g. {"steps": 11} for dim.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckQueued indicates the command was accepted and scheduled on the gateway.
	AckQueued AckStatus = "queued"

	// AckAccepted indicates the function was transmitted on the powerline.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: graylogic/ack/x10/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the X10 address of the device (e.g., "A1"), when known.
	Address string `json:"address,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodeSuperseded        = "SUPERSEDED"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage reports what was last seen for one X10 address.
// Topic: graylogic/state/x10/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Address   string    `json:"address"`
	Timestamp time.Time `json:"timestamp"`

	// DeviceIDs lists configured devices at this address (may be empty).
	DeviceIDs []string `json:"device_ids,omitempty"`

	// State is {"function": "on", "on": true} and similar; dim and bright
	// carry "dims".
	State map[string]any `json:"state"`

	// Source is "powerline" for decoded traffic, "command" for functions
	// this bridge transmitted.
	Source   string `json:"source"`
	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports operational status.
// Topic: graylogic/health/x10
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string             `json:"bridge"`
	Timestamp      time.Time          `json:"timestamp"`
	Status         HealthStatus       `json:"status"`
	Version        string             `json:"version,omitempty"`
	UptimeSeconds  int64              `json:"uptime_seconds"`
	Connection     *ConnectionStatus  `json:"connection,omitempty"`
	Statistics     *GatewayStatistics `json:"statistics,omitempty"`
	DevicesManaged int                `json:"devices_managed"`
	Reason         string             `json:"reason,omitempty"`
}

// ConnectionStatus describes the serial gateway connection.
type ConnectionStatus struct {
	Status         string     `json:"status"`
	Port           string     `json:"port,omitempty"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}

// GatewayStatistics mirrors the gateway counters.
type GatewayStatistics struct {
	CommandsSent    uint64 `json:"commands_sent"`
	EventsReceived  uint64 `json:"events_received"`
	EventsDropped   uint64 `json:"events_dropped"`
	ChecksumRetries uint64 `json:"checksum_retries"`
	Errors          uint64 `json:"errors"`
	Reconnects      uint64 `json:"reconnects"`
	QueueDepth      int    `json:"queue_depth"`
	QueueDropped    uint64 `json:"queue_dropped"`
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage builds the state report for one address.
func NewStateMessage(addr x10.Address, fn x10.Function, dims int, deviceIDs []string, source string, ts time.Time) StateMessage {
	state := map[string]any{"function": fn.String()}
	switch fn {
	case x10.On, x10.StatusOn:
		state["on"] = true
	case x10.Off, x10.StatusOff:
		state["on"] = false
	case x10.Dim, x10.Bright:
		state["dims"] = dims
	}

	return StateMessage{
		Address:   addr.String(),
		Timestamp: ts.UTC(),
		DeviceIDs: deviceIDs,
		State:     state,
		Source:    source,
		Protocol:  Protocol,
	}
}

// NewHealthMessage creates a health status message from gateway statistics.
func NewHealthMessage(bridgeID, version, port string, status HealthStatus, stats cm11.Stats,
	connectedSince time.Time, deviceCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: deviceCount,
		Connection:     &ConnectionStatus{Status: "disconnected", Port: port},
		Statistics: &GatewayStatistics{
			CommandsSent:    stats.CommandsTx,
			EventsReceived:  stats.EventsRx,
			EventsDropped:   stats.EventsDropped,
			ChecksumRetries: stats.ChecksumRetries,
			Errors:          stats.ErrorsTotal,
			Reconnects:      stats.ReconnectsTotal,
			QueueDepth:      stats.QueueDepth,
			QueueDropped:    stats.QueueDropped,
		},
	}

	if stats.Connected {
		msg.Connection.Status = "connected"
		if !connectedSince.IsZero() {
			since := connectedSince.UTC()
			msg.Connection.ConnectedSince = &since
		}
	}
	return msg
}

// NewLWTMessage is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// CommandSubscribeTopic returns the subscription pattern for all device commands.
// Example: graylogic/command/x10/+
func CommandSubscribeTopic() string {
	return topic("command", "+")
}

// AckTopic returns the topic for acknowledgements of a device's commands.
// Example: graylogic/ack/x10/hall-lamp
func AckTopic(deviceID string) string {
	return topic("ack", deviceID)
}

// StateTopic returns the topic for the state of an X10 address.
// Example: graylogic/state/x10/A1
func StateTopic(addr x10.Address) string {
	return topic("state", addr.String())
}

// HealthTopic returns the topic for bridge health.
// Example: graylogic/health/x10
func HealthTopic() string {
	return topicRoot + "/health/" + Protocol
}

func topic(category, last string) string {
	return topicRoot + "/" + category + "/" + Protocol + "/" + last
}
