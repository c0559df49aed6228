// Package serial opens the USB or UART link to a Klipper-protocol
// microcontroller.
package serial

import (
	"errors"
	"io"
	"time"
)

// ErrNoDevice is returned when no device path is configured.
var ErrNoDevice = errors.New("no serial device configured")

// Port is the byte stream used by protocol.HostTransport. Tests substitute
// pipes for it.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data the driver has buffered but not yet delivered.
	Flush() error
}

// Config holds serial port configuration.
type Config struct {
	Device string // e.g. /dev/ttyACM0
	Baud   int    // ignored by USB CDC devices

	// ReadTimeout bounds a single Read so the reader can notice shutdown.
	// Zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns the usual Klipper settings for device.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
