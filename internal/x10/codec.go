package x10

import (
	"fmt"
	"time"
)

// Header bits of the first byte of a transmission.
const (
	HeadBase     byte = 0x04 // always set
	HeadFunction byte = 0x02 // second byte is house|function rather than house|unit
	HeadExtended byte = 0x01 // extended transmission
)

// Handshake bytes exchanged with the gateway.
const (
	// Ack is sent by the host once the gateway echoed the right checksum.
	Ack byte = 0x00

	// Ready is sent by the gateway after the powerline relay completes.
	Ready byte = 0x55

	// ClockRequest is polled by the gateway after power loss until the
	// host answers with a clock-set frame.
	ClockRequest byte = 0xA5

	// ClockHeader is the first byte of a clock-set frame.
	ClockHeader byte = 0x9B

	// DataReady is polled by the gateway when it has an inbound buffer.
	DataReady byte = 0x5A

	// DataReadyAck is sent by the host to request the inbound buffer. It
	// also acknowledges a filter-fail notification.
	DataReadyAck byte = 0xC3

	// FilterFail is sent by the gateway when its powerline filter tripped.
	FilterFail byte = 0xF3
)

// Dim step limits and the raw delta range reported by the gateway.
const (
	MaxDims      = 22
	MaxRawDelta  = 210
	dimsShift    = 3
	clockFrameSz = 7
)

// Checksum returns the sum of the byte values modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// IsRequest reports whether b is one of the unsolicited requests the
// gateway may send at any time (clock request, data ready, filter fail).
func IsRequest(b byte) bool {
	return b == ClockRequest || b == DataReady || b == FilterFail
}

// EncodeAddress builds the address transmission [HEAD, house|unit].
func EncodeAddress(a Address) ([2]byte, error) {
	if !a.IsValid() {
		return [2]byte{}, fmt.Errorf("%w: %s", ErrInvalidAddress, a)
	}
	return [2]byte{HeadBase, a.Byte()}, nil
}

// EncodeFunction builds the function transmission
// [dims<<3 | HEAD | HEAD_FUNC, house|function].
//
// dims must be 0 for functions other than Dim and Bright, and 0-22 for
// those two.
func EncodeFunction(house byte, fn Function, dims int) ([2]byte, error) {
	if _, ok := houseIndex(house); !ok {
		return [2]byte{}, fmt.Errorf("%w: %q", ErrInvalidHouse, string(house))
	}
	if !fn.IsValid() {
		return [2]byte{}, fmt.Errorf("%w: 0x%02X", ErrInvalidFunction, byte(fn))
	}
	if dims < 0 || dims > MaxDims {
		return [2]byte{}, fmt.Errorf("%w: %d not in 0-%d", ErrInvalidDims, dims, MaxDims)
	}
	if !fn.TakesDims() && dims != 0 {
		return [2]byte{}, fmt.Errorf("%w: %s takes no dim steps", ErrInvalidDims, fn)
	}

	header := byte(dims)<<dimsShift | HeadBase | HeadFunction
	return [2]byte{header, HouseByte(house) | byte(fn)}, nil
}

// EncodeClockSet builds the 7-byte clock-set frame for t.
//
// Layout: header, seconds, minutes + 60 * (hour % 2), hour / 2, low byte of
// the zero-based day of year, bit 8 of the day of year in the top bit OR-ed
// with a one-hot weekday mask (Sunday = bit 0), and the monitored house code
// in the high nibble.
func EncodeClockSet(t time.Time, monitoredHouse byte) [clockFrameSz]byte {
	day := t.YearDay() - 1
	return [clockFrameSz]byte{
		ClockHeader,
		byte(t.Second()),
		byte(t.Minute() + 60*(t.Hour()%2)),
		byte(t.Hour() / 2),
		byte(day & 0xFF),
		byte((day>>8)&0x01)<<7 | 1<<uint(t.Weekday()),
		HouseByte(monitoredHouse),
	}
}

// ScaleDimDelta converts a raw 0-210 brightness delta reported by the
// gateway into 1-22 dim steps.
func ScaleDimDelta(raw byte) int {
	steps := int(raw) * MaxDims / MaxRawDelta
	switch {
	case steps < 1:
		return 1
	case steps > MaxDims:
		return MaxDims
	}
	return steps
}
