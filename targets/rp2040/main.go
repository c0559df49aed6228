//go:build rp2040

// Firmware that drives two TMC5160 boards from the RP2040's own SPI
// controller: both axes share spi0c with separate chip selects.
package main

import (
	"context"
	"machine"
	"time"

	"github.com/sirupsen/logrus"

	"tmcgo/core"
)

const busID = 2 // spi0c: SCK GPIO18, SDO GPIO19, SDI GPIO16

var axes = []struct {
	name string
	cs   machine.Pin
}{
	{"x", machine.GPIO17},
	{"y", machine.GPIO21},
}

var profile = core.Profile{
	Speed:       102400,
	AccelTime:   250 * time.Millisecond,
	RunCurrent:  250,
	HoldCurrent: 125,
}

func main() {
	log := logrus.New()
	log.SetOutput(machine.Serial)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	core.SetLogger(log)

	// give the host a moment to open the USB console
	time.Sleep(2 * time.Second)

	bus, err := openBus(busID, core.DefaultSPIConfig)
	if err != nil {
		halt(log, err)
	}

	var motors []*core.TMC5160
	for _, a := range axes {
		m := core.NewTMC5160(bus.Device(chipSelect(a.cs)), core.Config{Name: a.name})
		if err := m.Setup(profile); err != nil {
			halt(log, err)
		}
		motors = append(motors, m)
	}
	log.Info("configured motors")

	ctx := context.Background()
	for _, m := range motors {
		for _, target := range []int32{102400, -51200} {
			res, err := m.MoveAbsolute(ctx, target, true)
			if err != nil {
				halt(log, err)
			}
			pos, _ := m.Position()
			log.WithFields(logrus.Fields{
				"axis":     m.Name(),
				"target":   target,
				"outcome":  res.Outcome.String(),
				"position": pos,
			}).Info("move finished")
		}
	}

	for {
		time.Sleep(time.Second)
	}
}

func halt(log logrus.FieldLogger, err error) {
	log.WithError(err).Error("stopped")
	for {
		time.Sleep(time.Second)
	}
}
