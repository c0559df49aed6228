//go:build rp2040

package main

import (
	"fmt"
	"machine"

	"tmcgo/core"
)

// spiBus is one pin assignment of an RP2040 SPI controller.
type spiBus struct {
	spi  *machine.SPI
	sck  machine.Pin
	sdo  machine.Pin
	sdi  machine.Pin
	name string
}

// Bus numbering follows Klipper's RP2040 spi_bus enumeration.
var spiBuses = []spiBus{
	{machine.SPI0, machine.GPIO2, machine.GPIO3, machine.GPIO0, "spi0a"},
	{machine.SPI0, machine.GPIO6, machine.GPIO7, machine.GPIO4, "spi0b"},
	{machine.SPI0, machine.GPIO18, machine.GPIO19, machine.GPIO16, "spi0c"},
	{machine.SPI0, machine.GPIO22, machine.GPIO23, machine.GPIO20, "spi0d"},
	{machine.SPI0, machine.GPIO2, machine.GPIO3, machine.GPIO4, "spi0e"},
	{machine.SPI1, machine.GPIO10, machine.GPIO11, machine.GPIO8, "spi1a"},
	{machine.SPI1, machine.GPIO14, machine.GPIO15, machine.GPIO12, "spi1b"},
	{machine.SPI1, machine.GPIO26, machine.GPIO27, machine.GPIO24, "spi1c"},
	{machine.SPI1, machine.GPIO10, machine.GPIO11, machine.GPIO12, "spi1d"},
}

// openBus configures bus id and returns it as a shared core.Bus.
func openBus(id int, cfg core.SPIConfig) (*core.Bus, error) {
	if id < 0 || id >= len(spiBuses) {
		return nil, fmt.Errorf("invalid SPI bus %d", id)
	}
	if cfg.Mode > 3 {
		return nil, fmt.Errorf("invalid SPI mode %d", cfg.Mode)
	}
	b := spiBuses[id]
	err := b.spi.Configure(machine.SPIConfig{
		Frequency: cfg.Rate,
		SCK:       b.sck,
		SDO:       b.sdo,
		SDI:       b.sdi,
		Mode:      uint8(cfg.Mode),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.name, err)
	}
	return core.NewBus(core.DriversSPI{SPI: b.spi}, cfg), nil
}

// chipSelect configures pin as an idle-high output.
func chipSelect(pin machine.Pin) core.ChipSelect {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.High()
	return core.PinSelect(pin.Set)
}
