package spidev

import (
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"tmcgo/core"
)

// PinDriver implements core.GPIODriver on top of the periph GPIO registry.
// Pins are looked up by their GPIO number.
type PinDriver struct {
	lookup func(name string) gpio.PinIO

	mu   sync.Mutex
	pins map[core.GPIOPin]gpio.PinIO
}

// NewPinDriver uses gpioreg.ByName. Call Init first.
func NewPinDriver() *PinDriver {
	return newPinDriver(gpioreg.ByName)
}

func newPinDriver(lookup func(string) gpio.PinIO) *PinDriver {
	return &PinDriver{lookup: lookup, pins: make(map[core.GPIOPin]gpio.PinIO)}
}

func (d *PinDriver) ConfigureOutput(pin core.GPIOPin) error {
	p := d.lookup(strconv.FormatUint(uint64(pin), 10))
	if p == nil {
		return fmt.Errorf("gpio %d: no such pin", pin)
	}
	if err := p.Out(gpio.High); err != nil {
		return fmt.Errorf("gpio %d: %w", pin, err)
	}
	d.mu.Lock()
	d.pins[pin] = p
	d.mu.Unlock()
	return nil
}

func (d *PinDriver) SetPin(pin core.GPIOPin, value bool) error {
	d.mu.Lock()
	p, ok := d.pins[pin]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("gpio %d: not configured as output", pin)
	}
	return p.Out(gpio.Level(value))
}
