package core

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the clocking parameters for a bus
type SPIConfig struct {
	Mode SPIMode // SPI mode (0-3)
	Rate uint32  // Clock rate in Hz
}

// DefaultSPIConfig is what the TMC5160 is driven with: mode 0 at 3 MHz.
var DefaultSPIConfig = SPIConfig{Mode: 0, Rate: 3_000_000}

// Transport performs the physical part of an SPI exchange.
// Platform-specific implementations own the bus hardware; locking and chip
// select are handled by Bus and SPIDevice.
type Transport interface {
	// Exchange clocks out tx while filling rx. len(tx) == len(rx).
	Exchange(tx, rx []byte) error
}

// ChipSelect brackets one exchange with a single device.
type ChipSelect interface {
	Select() error
	Deselect() error
}

// NoSelect is used when the transport asserts chip select itself
// (Linux spidev, or an MCU executing spi_transfer).
type NoSelect struct{}

func (NoSelect) Select() error   { return nil }
func (NoSelect) Deselect() error { return nil }
