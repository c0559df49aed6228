package core

import (
	"sync"

	"go.uber.org/multierr"
)

// Bus is one physical SPI bus shared by every device on it. Access is
// exclusive: a device holds the bus for a whole transaction so frames from
// different devices never interleave.
type Bus struct {
	mu        sync.Mutex
	transport Transport
	config    SPIConfig
}

// NewBus wraps an already configured transport.
func NewBus(t Transport, cfg SPIConfig) *Bus {
	return &Bus{transport: t, config: cfg}
}

// Config returns the clocking the bus was configured with.
func (b *Bus) Config() SPIConfig { return b.config }

// Device attaches a device with the given chip select to the bus.
func (b *Bus) Device(cs ChipSelect) *SPIDevice {
	if cs == nil {
		cs = NoSelect{}
	}
	return &SPIDevice{bus: b, cs: cs}
}

// Exchanger performs single chip-selected exchanges inside a transaction.
type Exchanger interface {
	Exchange(tx, rx []byte) error
}

// SPIDevice represents one chip on a Bus.
type SPIDevice struct {
	bus *Bus
	cs  ChipSelect
}

// Transaction holds the bus for the duration of fn. Each Exchange made
// through x asserts chip select for that exchange only.
func (d *SPIDevice) Transaction(fn func(x Exchanger) error) error {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	return fn(deviceExchanger{d})
}

// Exchange performs one chip-selected exchange as its own transaction.
func (d *SPIDevice) Exchange(tx, rx []byte) error {
	return d.Transaction(func(x Exchanger) error {
		return x.Exchange(tx, rx)
	})
}

type deviceExchanger struct{ d *SPIDevice }

// Exchange asserts chip select, transfers and always deasserts. A transport
// error is returned unchanged when deassert succeeds.
func (e deviceExchanger) Exchange(tx, rx []byte) (err error) {
	if err := e.d.cs.Select(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, e.d.cs.Deselect())
	}()
	return e.d.bus.transport.Exchange(tx, rx)
}
