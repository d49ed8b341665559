package cm11

import "github.com/nerrad567/gray-logic-x10/internal/x10"

// Transmitter sends X10 functions through the gateway. The gateway passes
// itself to Device.UpdateHardware.
type Transmitter interface {
	SendFunction(address string, fn x10.Function, dims int) error
}

// Device is a handle whose pending state can be pushed to the hardware.
//
// ID identifies the device in the command queue: scheduling a device whose
// ID is already queued replaces the stale entry.
type Device interface {
	ID() string
	UpdateHardware(tx Transmitter) error
}

// StatusSink is told about connection transitions.
type StatusSink interface {
	OnConnected()
	OnDisconnected(reason string)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
