package spidev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi/spitest"

	"tmcgo/core"
)

func TestPortReadsPosition(t *testing.T) {
	pb := &spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x21, 0, 0, 0, 0}, R: []byte{0x00, 0, 0, 0, 0}},
				{W: []byte{0x21, 0, 0, 0, 0}, R: []byte{0x20, 0x00, 0x01, 0x90, 0x00}},
			},
		},
	}
	port, err := NewPort(pb, core.DefaultSPIConfig, false)
	require.NoError(t, err)

	m := core.NewTMC5160(core.NewBus(port, core.DefaultSPIConfig).Device(nil), core.Config{})
	pos, flags, err := m.Read(core.TMC5160_XACTUAL)
	require.NoError(t, err)
	assert.Equal(t, int32(102400), pos)
	assert.True(t, flags.PositionReached)

	assert.Error(t, port.Exchange(make([]byte, 5), make([]byte, 4)))
	require.NoError(t, port.Close())
}

func TestPinDriver(t *testing.T) {
	pins := map[string]*gpiotest.Pin{
		"17": {N: "GPIO17", Num: 17},
	}
	d := newPinDriver(func(name string) gpio.PinIO {
		if p, ok := pins[name]; ok {
			return p
		}
		return nil
	})

	cs, err := core.NewGPIOSelect(d, 17, false)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, pins["17"].L)

	require.NoError(t, cs.Select())
	assert.Equal(t, gpio.Low, pins["17"].L)
	require.NoError(t, cs.Deselect())
	assert.Equal(t, gpio.High, pins["17"].L)

	assert.Error(t, d.ConfigureOutput(4))
	assert.Error(t, d.SetPin(4, true))
}
