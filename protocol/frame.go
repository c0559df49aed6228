package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// FrameSize is the length of every TMC5160 SPI datagram.
const FrameSize = 5

// Frame is one 40-bit SPI datagram: an address/command byte followed by a
// 32-bit big-endian payload. Responses use the same layout with the SPI
// status byte in place of the address.
type Frame [FrameSize]byte

// Register is a 7-bit TMC5160 register address.
type Register uint8

// Direction selects read or write access in the command byte.
type Direction uint8

const (
	Read  Direction = 0x00
	Write Direction = 0x80
)

const (
	registerMask = 0x7F
	valueMin     = -1 << 31
	valueMax     = 1<<31 - 1
)

var (
	ErrAddressRange = errors.New("register address out of range")
	ErrValueRange   = errors.New("register value out of 32-bit signed range")
)

// EncodingError reports a register operation that cannot be represented in
// a frame. It is never produced by silent truncation.
type EncodingError struct {
	Register Register
	Value    int64
	Err      error
}

func (e *EncodingError) Error() string {
	if errors.Is(e.Err, ErrAddressRange) {
		return fmt.Sprintf("encode frame: %v: 0x%X", e.Err, uint8(e.Register))
	}
	return fmt.Sprintf("encode frame for register 0x%02X: %v: %d", uint8(e.Register), e.Err, e.Value)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// EncodeFrame builds the datagram for one register access. Reads carry a
// zero payload by convention but any in-range value is encoded as given.
func EncodeFrame(dir Direction, reg Register, value int64) (Frame, error) {
	var f Frame
	if reg > registerMask {
		return f, &EncodingError{Register: reg, Value: value, Err: ErrAddressRange}
	}
	if value < valueMin || value > valueMax {
		return f, &EncodingError{Register: reg, Value: value, Err: ErrValueRange}
	}

	f[0] = byte(dir&Write) | byte(reg)
	u := uint32(int32(value))
	f[1] = byte(u >> 24)
	f[2] = byte(u >> 16)
	f[3] = byte(u >> 8)
	f[4] = byte(u)
	return f, nil
}

// DecodeFrame splits a response datagram into the signed payload and the
// status flags. Every 5-byte input decodes.
func DecodeFrame(f Frame) (int32, StatusFlags) {
	u := uint32(f[1])<<24 | uint32(f[2])<<16 | uint32(f[3])<<8 | uint32(f[4])
	return int32(u), ParseStatus(f[0])
}

// Status byte bit positions
const (
	StatusResetFlag       = 0
	StatusDriverError     = 1
	StatusStallGuard      = 2
	StatusStandstill      = 3
	StatusVelocityReached = 4
	StatusPositionReached = 5
	StatusStopL           = 6
	StatusStopR           = 7
)

// StatusFlags is the decoded SPI status byte of a single transaction.
type StatusFlags struct {
	ResetOccurred   bool
	DriverError     bool
	StallDetected   bool
	Standstill      bool
	VelocityReached bool
	PositionReached bool
	StopLeft        bool
	StopRight       bool
}

// ParseStatus decodes a status byte, least significant bit first.
func ParseStatus(b byte) StatusFlags {
	bit := func(n uint) bool { return b&(1<<n) != 0 }
	return StatusFlags{
		ResetOccurred:   bit(StatusResetFlag),
		DriverError:     bit(StatusDriverError),
		StallDetected:   bit(StatusStallGuard),
		Standstill:      bit(StatusStandstill),
		VelocityReached: bit(StatusVelocityReached),
		PositionReached: bit(StatusPositionReached),
		StopLeft:        bit(StatusStopL),
		StopRight:       bit(StatusStopR),
	}
}

// Byte re-encodes the flags into the wire status byte.
func (s StatusFlags) Byte() byte {
	var b byte
	set := func(n uint, v bool) {
		if v {
			b |= 1 << n
		}
	}
	set(StatusResetFlag, s.ResetOccurred)
	set(StatusDriverError, s.DriverError)
	set(StatusStallGuard, s.StallDetected)
	set(StatusStandstill, s.Standstill)
	set(StatusVelocityReached, s.VelocityReached)
	set(StatusPositionReached, s.PositionReached)
	set(StatusStopL, s.StopLeft)
	set(StatusStopR, s.StopRight)
	return b
}

func (s StatusFlags) String() string {
	names := []struct {
		on   bool
		name string
	}{
		{s.ResetOccurred, "reset"},
		{s.DriverError, "driver_error"},
		{s.StallDetected, "stall"},
		{s.Standstill, "standstill"},
		{s.VelocityReached, "velocity_reached"},
		{s.PositionReached, "position_reached"},
		{s.StopLeft, "stop_l"},
		{s.StopRight, "stop_r"},
	}
	var set []string
	for _, n := range names {
		if n.on {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}
