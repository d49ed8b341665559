package bridge

import "errors"

var (
	// ErrSuperseded ends a command replaced by a newer one for the same
	// device before it reached the powerline.
	ErrSuperseded = errors.New("bridge: command superseded")

	// ErrUnknownDevice is returned for commands addressed to an unconfigured device.
	ErrUnknownDevice = errors.New("bridge: device not configured")

	// ErrInvalidTopic is returned for command topics outside graylogic/command/x10/{device_id}.
	ErrInvalidTopic = errors.New("bridge: invalid command topic")
)
