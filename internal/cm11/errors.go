package cm11

import "errors"

// Domain errors for the gateway driver.
var (
	// ErrMaxRetriesExceeded is returned when the gateway did not echo the
	// right checksum within the retry limit.
	ErrMaxRetriesExceeded = errors.New("cm11: checksum retries exceeded")

	// ErrTransport is returned for serial I/O failures.
	ErrTransport = errors.New("cm11: transport failure")

	// ErrReadTimeout is returned when the gateway did not answer within the
	// receive timeout. It also matches ErrTransport.
	ErrReadTimeout = &timeoutError{}

	// ErrPortConfiguration is returned when the port rejects the fixed
	// serial parameters or is not a serial port.
	ErrPortConfiguration = errors.New("cm11: unsupported port configuration")

	// ErrNotConnected is returned when no port is open.
	ErrNotConnected = errors.New("cm11: not connected")

	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("cm11: gateway closed")

	// ErrQueueFull is returned when the command queue is at capacity.
	ErrQueueFull = errors.New("cm11: command queue full")
)

// timeoutError lets ErrReadTimeout satisfy errors.Is(err, ErrTransport).
type timeoutError struct{}

func (*timeoutError) Error() string { return "cm11: read timeout" }

func (*timeoutError) Is(target error) bool { return target == ErrTransport }

// Timeout reports true so callers checking for net.Error-style timeouts
// see it as one.
func (*timeoutError) Timeout() bool { return true }
