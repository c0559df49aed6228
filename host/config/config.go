// Package config loads the settings of the tmc5160-host tool from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tmcgo/core"
)

// Transports understood by the host tool.
const (
	TransportSPIDev = "spidev"
	TransportMCU    = "mcu"
	TransportSim    = "sim"
)

var ErrInvalid = errors.New("invalid configuration")

// Axis is one driver on the bus.
type Axis struct {
	Name string
	// CS is the chip select pin: a GPIO number for spidev, an MCU pin for
	// the mcu transport. Without one, spidev uses the kernel chip select.
	CS    uint32
	HasCS bool
}

// Config is the complete host tool configuration.
type Config struct {
	Transport string

	SPIPort string
	SPI     core.SPIConfig

	SerialDevice string
	SerialBaud   int
	SPIBus       uint32

	SimStepsPerPoll int32

	Axes    []Axis
	Profile core.Profile

	PollInterval time.Duration
	MoveTimeout  time.Duration

	LogLevel string
}

// Load reads envFile if it exists and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	p := parser{}
	cfg := &Config{
		Transport:    strings.ToLower(getEnv("TMC_TRANSPORT", TransportSPIDev)),
		SPIPort:      getEnv("TMC_SPI_PORT", ""),
		SerialDevice: getEnv("TMC_SERIAL_DEVICE", "/dev/ttyACM0"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		SPI: core.SPIConfig{
			Mode: core.SPIMode(p.uint("TMC_SPI_MODE", uint64(core.DefaultSPIConfig.Mode), 3)),
			Rate: uint32(p.uint("TMC_SPI_HZ", uint64(core.DefaultSPIConfig.Rate), 1<<32-1)),
		},
		SerialBaud:      int(p.uint("TMC_SERIAL_BAUD", 250000, 1<<31-1)),
		SPIBus:          uint32(p.uint("TMC_SPI_BUS", 0, 1<<32-1)),
		SimStepsPerPoll: int32(p.uint("TMC_SIM_STEPS", 25600, 1<<31-1)),
		Profile: core.Profile{
			Speed:       p.float("TMC_SPEED", 102400),
			AccelTime:   p.duration("TMC_ACCEL_TIME", 250*time.Millisecond),
			RunCurrent:  p.float("TMC_RUN_CURRENT", 250),
			HoldCurrent: p.float("TMC_HOLD_CURRENT", 125),
		},
		PollInterval: p.duration("TMC_POLL_INTERVAL", core.DefaultPollInterval),
		MoveTimeout:  p.duration("TMC_MOVE_TIMEOUT", 0),
	}
	axes, err := ParseAxes(getEnv("TMC_AXES", "x=10,y=9"))
	p.add("TMC_AXES", err)
	cfg.Axes = axes

	switch cfg.Transport {
	case TransportSPIDev, TransportMCU, TransportSim:
	default:
		p.add("TMC_TRANSPORT", fmt.Errorf("unknown transport %q", cfg.Transport))
	}
	if cfg.Profile.AccelTime <= 0 {
		p.add("TMC_ACCEL_TIME", errors.New("must be positive"))
	}
	if cfg.PollInterval <= 0 {
		p.add("TMC_POLL_INTERVAL", errors.New("must be positive"))
	}
	if cfg.MoveTimeout < 0 {
		p.add("TMC_MOVE_TIMEOUT", errors.New("must not be negative"))
	}
	if cfg.SPI.Rate == 0 {
		p.add("TMC_SPI_HZ", errors.New("must be positive"))
	}
	if cfg.Transport == TransportSPIDev && len(cfg.Axes) > 1 {
		// a GPIO chip select on any axis turns the kernel one off
		for _, a := range cfg.Axes {
			if !a.HasCS {
				p.add("TMC_AXES", fmt.Errorf("axis %s needs a GPIO chip select when several axes share the port", a.Name))
			}
		}
	}
	if cfg.Transport == TransportMCU {
		for _, a := range cfg.Axes {
			if !a.HasCS {
				p.add("TMC_AXES", fmt.Errorf("axis %s needs a chip select pin for the mcu transport", a.Name))
			}
		}
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

// ParseAxes parses "name=cs,name=cs". A name without "=cs" has no chip
// select pin of its own.
func ParseAxes(s string) ([]Axis, error) {
	var axes []Axis
	seen := map[string]bool{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, pin, hasCS := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("axis %q has no name", item)
		}
		if seen[name] {
			return nil, fmt.Errorf("axis %s listed twice", name)
		}
		seen[name] = true
		a := Axis{Name: name, HasCS: hasCS}
		if hasCS {
			n, err := strconv.ParseUint(strings.TrimSpace(pin), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("axis %s: bad chip select %q", name, pin)
			}
			a.CS = uint32(n)
		}
		axes = append(axes, a)
	}
	if len(axes) == 0 {
		return nil, errors.New("no axes configured")
	}
	return axes, nil
}

// Axis returns the configured axis called name.
func (c *Config) Axis(name string) (Axis, bool) {
	for _, a := range c.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// parser collects every malformed variable instead of stopping at the
// first one.
type parser struct {
	errs []error
}

func (p *parser) add(key string, err error) {
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
	}
}

func (p *parser) uint(key string, fallback, limit uint64) uint64 {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err == nil && v > limit {
		err = fmt.Errorf("%d exceeds %d", v, limit)
	}
	if err != nil {
		p.add(key, err)
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.add(key, err)
		return fallback
	}
	return v
}

// duration accepts Go durations ("250ms") or plain seconds ("0.25").
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.add(key, fmt.Errorf("bad duration %q", s))
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}
