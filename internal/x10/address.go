package x10

import (
	"fmt"
	"strconv"
	"strings"
)

// Address limits.
const (
	minAddressLen = 2
	maxAddressLen = 3

	minUnit = 1
	maxUnit = 16

	nibbleMask = 0x0F
)

// houseCodes maps house letters A-P (index 0-15) to their 4-bit wire code.
var houseCodes = [16]byte{
	0x6, 0xE, 0x2, 0xA, 0x1, 0x9, 0x5, 0xD,
	0x7, 0xF, 0x3, 0xB, 0x0, 0x8, 0x4, 0xC,
}

// unitCodes maps unit numbers 1-16 (index 0-15) to their 4-bit wire code.
// The table is the same shape as houseCodes: unit 1 shares A's code.
var unitCodes = [16]byte{
	0x6, 0xE, 0x2, 0xA, 0x1, 0x9, 0x5, 0xD,
	0x7, 0xF, 0x3, 0xB, 0x0, 0x8, 0x4, 0xC,
}

// houseByNibble is the reverse of houseCodes, indexed by wire code.
var houseByNibble = [16]byte{
	'M', 'E', 'C', 'K', 'O', 'G', 'A', 'I',
	'N', 'F', 'D', 'L', 'P', 'H', 'B', 'J',
}

// unitByNibble is the reverse of unitCodes, indexed by wire code.
var unitByNibble = [16]uint8{
	13, 5, 3, 11, 15, 7, 1, 9,
	14, 6, 4, 12, 16, 8, 2, 10,
}

// Address is an X10 house/unit address such as "A1" or "P16".
//
// The zero value is not a valid address; construct one with ParseAddress or
// DecodeAddress.
type Address struct {
	House byte  // 'A'-'P'
	Unit  uint8 // 1-16
}

// ParseAddress parses a 2-3 character address string.
//
// The house letter is case-insensitive. The unit must be a decimal number in
// the range 1-16 without sign or leading zeros beyond its natural width.
//
// Parameters:
//   - s: Address string (e.g., "A1", "p16")
//
// Returns:
//   - Address: Parsed address
//   - error: ErrInvalidAddress if parsing fails
func ParseAddress(s string) (Address, error) {
	if len(s) < minAddressLen || len(s) > maxAddressLen {
		return Address{}, fmt.Errorf("%w: %q must be a house letter and unit number", ErrInvalidAddress, s)
	}

	house := upper(s[0])
	if _, ok := houseIndex(house); !ok {
		return Address{}, fmt.Errorf("%w: house %q must be A-P", ErrInvalidAddress, s[:1])
	}

	digits := s[1:]
	if digits[0] < '1' || digits[0] > '9' {
		return Address{}, fmt.Errorf("%w: unit %q must be 1-16", ErrInvalidAddress, digits)
	}
	unit, err := strconv.ParseUint(digits, 10, 8)
	if err != nil || unit < minUnit || unit > maxUnit {
		return Address{}, fmt.Errorf("%w: unit %q must be 1-16", ErrInvalidAddress, digits)
	}

	return Address{House: house, Unit: uint8(unit)}, nil
}

// ValidAddress reports whether s parses as an address.
func ValidAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}

// DecodeAddress converts the house and unit wire codes of an inbound address
// byte into an Address. Only the low four bits of each argument are used, so
// every input decodes.
func DecodeAddress(houseNibble, unitNibble byte) Address {
	return Address{
		House: houseByNibble[houseNibble&nibbleMask],
		Unit:  unitByNibble[unitNibble&nibbleMask],
	}
}

// DecodeAddressByte splits an inbound address byte (house in the high
// nibble, unit in the low nibble) and decodes it.
func DecodeAddressByte(b byte) Address {
	return DecodeAddress(b>>4, b&nibbleMask)
}

// Encode returns the house code shifted into the high nibble and the unit
// code in the low nibble, ready to be OR-ed into a transmission byte.
// The address must already be validated; an out-of-range house or unit
// maps to 0, as in HouseByte.
func (a Address) Encode() (houseByte, unitByte byte) {
	if a.Unit >= minUnit && a.Unit <= maxUnit {
		unitByte = unitCodes[a.Unit-1]
	}
	return HouseByte(a.House), unitByte
}

// Byte returns the combined house|unit byte of an address transmission.
func (a Address) Byte() byte {
	h, u := a.Encode()
	return h | u
}

// IsValid reports whether the house and unit are within range.
func (a Address) IsValid() bool {
	_, ok := houseIndex(a.House)
	return ok && a.Unit >= minUnit && a.Unit <= maxUnit
}

// String returns the address in its canonical form, e.g. "A1".
func (a Address) String() string {
	return string(a.House) + strconv.Itoa(int(a.Unit))
}

// ParseHouse parses a single house letter (case-insensitive).
func ParseHouse(s string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHouse, s)
	}
	h := upper(s[0])
	if _, ok := houseIndex(h); !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHouse, s)
	}
	return h, nil
}

// HouseByte returns the wire code of a house letter in the high nibble.
// The house must already be validated; out-of-range letters map to 0.
func HouseByte(house byte) byte {
	i, ok := houseIndex(house)
	if !ok {
		return 0
	}
	return houseCodes[i] << 4
}

// FormatAddresses joins addresses for logging, e.g. "A1,A2".
func FormatAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func houseIndex(h byte) (int, bool) {
	if h < 'A' || h > 'P' {
		return 0, false
	}
	return int(h - 'A'), true
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
