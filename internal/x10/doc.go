// Package x10 implements the X10 powerline protocol layer used by the CM11
// serial gateway.
//
// It is the pure, transport-free part of the driver: address and function
// encoding, the checksum/acknowledgement rules of the gateway handshake, the
// clock-set frame, and the decoder for buffers the gateway uploads when it has
// seen powerline traffic.
//
// # Addresses
//
// An X10 address is a house letter (A-P) and a unit number (1-16). On the
// wire both are 4-bit codes taken from fixed tables that are not in
// alphabetical or numerical order:
//
//	addr, err := x10.ParseAddress("A1")
//	if err != nil {
//	    return err
//	}
//	house, unit := addr.Encode() // 0x60, 0x06
//
// # Transmissions
//
// Every outbound command is two transmissions of two bytes each: a header
// byte followed by house|unit for the address, then a header byte followed by
// house|function for the function. Dim and Bright carry the step count (0-22)
// in the top five bits of the function header.
//
// # Inbound buffers
//
// When the gateway has heard traffic on the powerline it uploads a buffer of
// up to eight bytes plus a mask. A zero mask bit marks an address byte, a set
// bit marks a function byte. Addresses may arrive in an earlier buffer than
// the function that uses them, so FrameParser carries the last addresses it
// saw across calls.
//
// # Thread Safety
//
// Address and Function are immutable values. FrameParser is not safe for
// concurrent use; the gateway only calls it while holding its transport lock.
// ListenerRegistry is safe for concurrent use.
package x10
