package core

import (
	"errors"

	"tinygo.org/x/drivers"
)

var errLengthMismatch = errors.New("tx and rx buffer lengths must match")

// DriversSPI adapts a TinyGo SPI peripheral (machine.SPI or any
// drivers.SPI) to Transport.
type DriversSPI struct {
	SPI drivers.SPI
}

func (s DriversSPI) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errLengthMismatch
	}
	// Tx is full duplex when both buffers are given
	return s.SPI.Tx(tx, rx)
}

// PinSelect drives an active-low chip select through a TinyGo style setter
// such as machine.Pin.Set.
type PinSelect func(level bool)

func (p PinSelect) Select() error   { p(false); return nil }
func (p PinSelect) Deselect() error { p(true); return nil }
