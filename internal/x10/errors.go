package x10

import "errors"

// Domain errors for the X10 protocol package.
var (
	// ErrInvalidAddress is returned when a house/unit address string cannot
	// be parsed or is out of range.
	ErrInvalidAddress = errors.New("x10: invalid address")

	// ErrInvalidHouse is returned when a house letter is not A-P.
	ErrInvalidHouse = errors.New("x10: invalid house code")

	// ErrInvalidFunction is returned when a function name or code is unknown.
	ErrInvalidFunction = errors.New("x10: invalid function")

	// ErrInvalidDims is returned when a dim step count is outside 0-22.
	ErrInvalidDims = errors.New("x10: invalid dim steps")
)
