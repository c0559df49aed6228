//go:build !wasm

package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

type nativePort struct {
	*serial.Port
}

// Open opens a native serial port.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, ErrNoDevice
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	// drop whatever the MCU sent before we attached
	if err := p.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("flush serial port %s: %w", cfg.Device, err)
	}
	return nativePort{p}, nil
}
