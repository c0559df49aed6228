// Package spidev drives TMC5160 buses attached directly to a Linux SBC
// through periph.io.
package spidev

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"tmcgo/core"
)

var errLengthMismatch = errors.New("tx and rx buffer lengths must match")

// Init loads the periph host drivers. It is safe to call more than once.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph init: %w", err)
	}
	return nil
}

// Port is an open SPI port implementing core.Transport.
type Port struct {
	port spi.PortCloser
	conn spi.Conn
}

// Open opens the named port ("" for the first one, or e.g. "/dev/spidev0.0").
// With gpioCS the kernel chip select is left idle and chip select is
// expected to come from core.GPIOSelect.
func Open(name string, cfg core.SPIConfig, gpioCS bool) (*Port, error) {
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", name, err)
	}
	return NewPort(p, cfg, gpioCS)
}

// NewPort connects an already opened port. The port is closed on error.
func NewPort(p spi.PortCloser, cfg core.SPIConfig, gpioCS bool) (*Port, error) {
	mode := spi.Mode(cfg.Mode)
	if gpioCS {
		mode |= spi.NoCS
	}
	c, err := p.Connect(physic.Frequency(cfg.Rate)*physic.Hertz, mode, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("connect spi port %v: %w", p, err)
	}
	return &Port{port: p, conn: c}, nil
}

// Exchange implements core.Transport.
func (p *Port) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errLengthMismatch
	}
	return p.conn.Tx(tx, rx)
}

// Close releases the port.
func (p *Port) Close() error {
	return p.port.Close()
}
