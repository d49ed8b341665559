package cm11

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Serial parameters fixed by the gateway hardware.
const (
	baudRate = 4800
	dataBits = 8
)

// Port is the subset of serial.Port the driver uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// Ensure serial.Port satisfies Port.
var _ Port = serial.Port(nil)

// Opener opens a port with the given mode. It is replaced in tests.
type Opener func(name string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial port.
func OpenSerial(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// gatewayMode returns 4800 baud, 8 data bits, no parity, one stop bit.
// go.bug.st/serial does no hardware flow control unless asked to.
func gatewayMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// classifyOpenError maps a serial open/configure failure onto the driver's
// error taxonomy.
func classifyOpenError(err error) error {
	code, ok := portErrorCode(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	switch code {
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity,
		serial.InvalidStopBits, serial.InvalidTimeoutValue, serial.InvalidSerialPort,
		serial.FunctionNotImplemented:
		return fmt.Errorf("%w: %w", ErrPortConfiguration, err)
	default:
		// PortBusy, PortNotFound, PermissionDenied, PortClosed and the rest
		// may clear up on a later attempt.
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

// portErrorCode extracts the PortError code; the library returns both
// pointer and value forms depending on platform and call site.
func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}

// disconnectReason turns an error into the short human-readable text handed
// to the status sink.
func disconnectReason(err error) string {
	code, ok := portErrorCode(err)
	if !ok {
		return err.Error()
	}
	switch code {
	case serial.PortBusy:
		return "serial port busy"
	case serial.PortNotFound:
		return "serial port not found"
	case serial.PermissionDenied:
		return "permission denied opening serial port"
	case serial.InvalidSerialPort:
		return "not a serial port"
	case serial.InvalidSpeed, serial.InvalidDataBits, serial.InvalidParity, serial.InvalidStopBits:
		return "serial parameters not supported by port"
	default:
		return err.Error()
	}
}
