package core

import "tmcgo/protocol"

// TMC5160 Register Definitions
// Based on TMC5160 datasheet Rev. 1.17
// Only the registers the driver touches are listed.

// TMC5160 Register Addresses
const (
	// General Configuration Registers
	TMC5160_GCONF = protocol.Register(0x00) // Global configuration flags
	TMC5160_GSTAT = protocol.Register(0x01) // Global status flags

	// Velocity Dependent Driver Feature Control
	TMC5160_IHOLD_IRUN = protocol.Register(0x10) // Driver current control
	TMC5160_TPOWERDOWN = protocol.Register(0x11) // Delay after standstill before power down

	// Ramp Generator Motion Control
	TMC5160_RAMPMODE = protocol.Register(0x20) // Ramp mode (0=positioning)
	TMC5160_XACTUAL  = protocol.Register(0x21) // Actual motor position (signed, read/write)
	TMC5160_A1       = protocol.Register(0x24) // First acceleration between VSTART and V1
	TMC5160_V1       = protocol.Register(0x25) // First acceleration/deceleration phase threshold velocity
	TMC5160_AMAX     = protocol.Register(0x26) // Second acceleration between V1 and VMAX
	TMC5160_VMAX     = protocol.Register(0x27) // Maximum velocity (motion ramp)
	TMC5160_D1       = protocol.Register(0x2A) // Deceleration between V1 and VSTOP
	TMC5160_VSTOP    = protocol.Register(0x2B) // Motor stop velocity
	TMC5160_XTARGET  = protocol.Register(0x2D) // Target position (signed)

	// Encoder Registers
	TMC5160_X_ENC = protocol.Register(0x39) // Actual encoder position

	// Motor Driver Registers
	TMC5160_CHOPCONF = protocol.Register(0x6C) // Chopper configuration
	TMC5160_PWMCONF  = protocol.Register(0x70) // StealthChop PWM configuration
)

// TMC5160 Ramp Modes
const (
	TMC5160_MODE_POSITION = 0 // Positioning mode (uses XTARGET)
)

// Fixed driver profile. These are datasheet values chosen for the simplest
// working setup and are not user tunable.
const (
	// GCONF: all features at reset defaults
	TMC5160_GCONF_DEFAULT = 0

	// CHOPCONF: TOFF=5, HSTRT=5, HEND=3, TBL=2, CHM=0 (spreadCycle)
	TMC5160_CHOPCONF_PROFILE = 0x000101D5

	// PWMCONF: automatic tuning defaults
	TMC5160_PWMCONF_PROFILE = 0

	// TPOWERDOWN: delay before switching to hold current
	TMC5160_TPOWERDOWN_DEFAULT = 10

	// VSTOP: stop velocity at the end of a ramp
	TMC5160_VSTOP_DEFAULT = 10

	// IHOLD_IRUN bits 16-19: IHOLDDELAY=7
	TMC5160_IHOLDDELAY_FIELD = 0x070000
)

// Unit conversion constants for a breakout board with the internal 12 MHz
// clock and its fitted sense resistors.
const (
	// Run/hold current codes 1..31 span 0..3100 mA
	TMC5160_CURRENT_FULL_SCALE_MA = 3100
	TMC5160_CURRENT_CODE_MAX      = 31
	TMC5160_CURRENT_CODE_MIN      = 1

	// steps/s² to A1/AMAX/D1 units
	TMC5160_ACCEL_SCALE = 0.01527

	// steps/s to V1/VMAX units
	TMC5160_VELOCITY_SCALE = 1.3981
)
