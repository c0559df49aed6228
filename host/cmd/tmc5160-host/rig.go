package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"tmcgo/core"
	"tmcgo/host/config"
	"tmcgo/host/mcu"
	"tmcgo/host/serial"
	"tmcgo/host/spidev"
)

// rig is the set of axes built from the configuration and whatever has to
// be closed when the tool exits.
type rig struct {
	axes    []*core.TMC5160
	mcu     *mcu.MCU
	closers []func() error
}

func (r *rig) axis(name string) (*core.TMC5160, error) {
	for _, a := range r.axes {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no axis %q", name)
}

func (r *rig) Close() error {
	var err error
	for i := len(r.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, r.closers[i]())
	}
	return err
}

func axisConfig(cfg *config.Config, a config.Axis, log logrus.FieldLogger) core.Config {
	return core.Config{
		Name:         a.Name,
		PollInterval: cfg.PollInterval,
		MoveTimeout:  cfg.MoveTimeout,
		Logger:       log,
	}
}

func openRig(cfg *config.Config, log logrus.FieldLogger) (*rig, error) {
	r := &rig{}
	var err error
	switch cfg.Transport {
	case config.TransportSPIDev:
		err = r.openSPIDev(cfg, log)
	case config.TransportMCU:
		err = r.openMCU(cfg, log)
	case config.TransportSim:
		r.openSim(cfg, log)
	default:
		err = fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, multierr.Append(err, r.Close())
	}
	return r, nil
}

func (r *rig) openSPIDev(cfg *config.Config, log logrus.FieldLogger) error {
	if err := spidev.Init(); err != nil {
		return err
	}
	gpioCS := false
	for _, a := range cfg.Axes {
		gpioCS = gpioCS || a.HasCS
	}
	port, err := spidev.Open(cfg.SPIPort, cfg.SPI, gpioCS)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, port.Close)

	bus := core.NewBus(port, cfg.SPI)
	pins := spidev.NewPinDriver()
	for _, a := range cfg.Axes {
		var cs core.ChipSelect
		if a.HasCS {
			sel, err := core.NewGPIOSelect(pins, core.GPIOPin(a.CS), false)
			if err != nil {
				return fmt.Errorf("axis %s: %w", a.Name, err)
			}
			cs = sel
		}
		r.axes = append(r.axes, core.NewTMC5160(bus.Device(cs), axisConfig(cfg, a, log)))
	}
	return nil
}

func (r *rig) openMCU(cfg *config.Config, log logrus.FieldLogger) error {
	sc := serial.DefaultConfig(cfg.SerialDevice)
	sc.Baud = cfg.SerialBaud
	m, err := mcu.ConnectWithConfig(sc, log)
	if err != nil {
		return err
	}
	r.mcu = m
	r.closers = append(r.closers, m.Close)

	if err := m.RetrieveDictionary(); err != nil {
		return err
	}
	bus := mcu.SPIBus{Bus: cfg.SPIBus, Config: cfg.SPI}
	for _, a := range cfg.Axes {
		bus.ChipSelects = append(bus.ChipSelects, a.CS)
	}
	br, err := m.ConfigureSPI(bus)
	if err != nil {
		return err
	}

	shared := core.NewBus(br, cfg.SPI)
	for i, a := range cfg.Axes {
		r.axes = append(r.axes, core.NewTMC5160(shared.Device(br.Device(i)), axisConfig(cfg, a, log)))
	}
	return nil
}

// openSim gives every axis its own simulated chip.
func (r *rig) openSim(cfg *config.Config, log logrus.FieldLogger) {
	for _, a := range cfg.Axes {
		bus := core.NewBus(core.NewSimTMC5160(cfg.SimStepsPerPoll), cfg.SPI)
		r.axes = append(r.axes, core.NewTMC5160(bus.Device(nil), axisConfig(cfg, a, log)))
	}
}
