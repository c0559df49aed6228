package core

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that chip selects use.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	ConfigureOutput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error
}

// GPIOSelect drives a chip select line through a GPIODriver.
type GPIOSelect struct {
	Driver     GPIODriver
	Pin        GPIOPin
	ActiveHigh bool // default is active low
}

// NewGPIOSelect configures pin as an output and leaves it deasserted.
func NewGPIOSelect(d GPIODriver, pin GPIOPin, activeHigh bool) (*GPIOSelect, error) {
	cs := &GPIOSelect{Driver: d, Pin: pin, ActiveHigh: activeHigh}
	if err := d.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	if err := cs.Deselect(); err != nil {
		return nil, err
	}
	return cs, nil
}

func (c *GPIOSelect) Select() error   { return c.Driver.SetPin(c.Pin, c.ActiveHigh) }
func (c *GPIOSelect) Deselect() error { return c.Driver.SetPin(c.Pin, !c.ActiveHigh) }
