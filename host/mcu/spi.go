package mcu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"tmcgo/core"
	"tmcgo/protocol"
)

// ErrNoDeviceSelected is returned by an exchange made outside a device
// select.
var ErrNoDeviceSelected = errors.New("no SPI device selected")

// SPIBus describes the devices sharing one MCU SPI bus.
type SPIBus struct {
	Bus          uint32   // MCU bus number (spi_bus enumeration value)
	Config       core.SPIConfig
	ChipSelects  []uint32 // MCU pin of each device's chip select
	CSActiveHigh bool
}

// SPIBridge forwards exchanges to devices on an MCU SPI bus with
// spi_transfer. The MCU drives chip select, so each device is addressed
// through the ChipSelect returned by Device: selecting it routes the next
// exchanges to that device's object id.
type SPIBridge struct {
	mcu  *MCU
	oids []uint8

	mu     sync.Mutex
	active int
}

// ConfigureSPI allocates one object id per chip select, binds them to the
// bus and finalises the MCU configuration. It must be called once after
// RetrieveDictionary.
func (m *MCU) ConfigureSPI(bus SPIBus) (*SPIBridge, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	n := len(bus.ChipSelects)
	if n == 0 || n > 255 {
		return nil, fmt.Errorf("configure spi: %d chip selects", n)
	}

	var cfg []byte
	send := func(name string, args func([]byte) []byte) error {
		if err := m.SendCommand(name, args); err != nil {
			return err
		}
		// finalize_config reports a checksum of the configuration sent
		cfg = append(cfg, name...)
		cfg = append(cfg, args(nil)...)
		return nil
	}

	if err := send("allocate_oids", func(b []byte) []byte {
		return protocol.AppendVLQUint(b, uint32(n))
	}); err != nil {
		return nil, err
	}

	br := &SPIBridge{mcu: m, active: -1}
	activeHigh := uint32(0)
	if bus.CSActiveHigh {
		activeHigh = 1
	}
	for i, pin := range bus.ChipSelects {
		oid := uint32(i)
		if err := send("config_spi", func(b []byte) []byte {
			b = protocol.AppendVLQUint(b, oid)
			b = protocol.AppendVLQUint(b, pin)
			return protocol.AppendVLQUint(b, activeHigh)
		}); err != nil {
			return nil, err
		}
		if err := send("spi_set_bus", func(b []byte) []byte {
			b = protocol.AppendVLQUint(b, oid)
			b = protocol.AppendVLQUint(b, bus.Bus)
			b = protocol.AppendVLQUint(b, uint32(bus.Config.Mode))
			return protocol.AppendVLQUint(b, bus.Config.Rate)
		}); err != nil {
			return nil, err
		}
		br.oids = append(br.oids, uint8(i))
	}

	crc := uint32(protocol.CRC16(cfg))
	if err := m.SendCommand("finalize_config", func(b []byte) []byte {
		return protocol.AppendVLQUint(b, crc)
	}); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"bus":     bus.Bus,
		"devices": n,
		"rate":    bus.Config.Rate,
	}).Info("SPI configured")
	return br, nil
}

// Device returns the chip select for the i-th configured device.
func (b *SPIBridge) Device(i int) core.ChipSelect {
	return oidSelect{bridge: b, index: i}
}

// Devices reports how many devices were configured.
func (b *SPIBridge) Devices() int { return len(b.oids) }

type oidSelect struct {
	bridge *SPIBridge
	index  int
}

func (s oidSelect) Select() error {
	if s.index < 0 || s.index >= len(s.bridge.oids) {
		return fmt.Errorf("spi device %d not configured", s.index)
	}
	s.bridge.mu.Lock()
	s.bridge.active = s.index
	s.bridge.mu.Unlock()
	return nil
}

func (s oidSelect) Deselect() error {
	s.bridge.mu.Lock()
	s.bridge.active = -1
	s.bridge.mu.Unlock()
	return nil
}

// Exchange implements core.Transport with one spi_transfer round trip.
func (b *SPIBridge) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("spi_transfer: tx %d bytes, rx %d bytes", len(tx), len(rx))
	}
	b.mu.Lock()
	active := b.active
	b.mu.Unlock()
	if active < 0 {
		return ErrNoDeviceSelected
	}
	oid := uint32(b.oids[active])

	p, err := b.mcu.Query("spi_transfer", func(buf []byte) []byte {
		buf = protocol.AppendVLQUint(buf, oid)
		return protocol.AppendVLQBytes(buf, tx)
	}, "spi_transfer_response", func(p []byte) bool {
		got, err := protocol.DecodeVLQUint(&p)
		return err == nil && got == oid
	})
	if err != nil {
		return err
	}
	if _, err := protocol.DecodeVLQUint(&p); err != nil {
		return err
	}
	data, err := protocol.DecodeVLQBytes(&p)
	if err != nil {
		return fmt.Errorf("spi_transfer_response: %w", err)
	}
	if len(data) != len(rx) {
		return fmt.Errorf("spi_transfer_response: got %d bytes, want %d", len(data), len(rx))
	}
	copy(rx, data)
	return nil
}

// String is used in log output.
func (b *SPIBridge) String() string {
	return fmt.Sprintf("mcu spi oids %v", b.oids)
}
