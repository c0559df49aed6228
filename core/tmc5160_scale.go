package core

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidProfile is returned for motion profiles that cannot be
// converted to register values.
var ErrInvalidProfile = errors.New("invalid motion profile")

// roundHalfUp rounds to the nearest integer with halves going up.
func roundHalfUp(x float64) float64 {
	return math.Floor(x + 0.5)
}

// toRegister converts a rounded value to int64, rejecting values that
// cannot be represented. Range against the 32-bit register is checked by
// the frame encoder.
func toRegister(x float64) (int64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) >= 1<<62 {
		return 0, fmt.Errorf("%w: %v is not representable", ErrInvalidProfile, x)
	}
	return int64(x), nil
}

// CurrentCode converts a coil current in mA to the 5-bit IRUN/IHOLD code.
// The result is clamped to 1..31.
func CurrentCode(milliamps float64) uint8 {
	code := roundHalfUp(milliamps * TMC5160_CURRENT_CODE_MAX / TMC5160_CURRENT_FULL_SCALE_MA)
	switch {
	case math.IsNaN(code) || code < TMC5160_CURRENT_CODE_MIN:
		return TMC5160_CURRENT_CODE_MIN
	case code > TMC5160_CURRENT_CODE_MAX:
		return TMC5160_CURRENT_CODE_MAX
	}
	return uint8(code)
}

// HoldRunCurrent packs the IHOLD_IRUN register.
func HoldRunCurrent(run, hold uint8) int64 {
	return TMC5160_IHOLDDELAY_FIELD | int64(run)<<8 | int64(hold)
}

// AccelValue converts a speed in steps/s reached within accelTime to the
// A1/AMAX/D1 register value.
func AccelValue(speed float64, accelTime time.Duration) (int64, error) {
	if accelTime <= 0 {
		return 0, fmt.Errorf("%w: acceleration time must be positive, got %v", ErrInvalidProfile, accelTime)
	}
	return toRegister(roundHalfUp(speed / accelTime.Seconds() * TMC5160_ACCEL_SCALE))
}

// VelocityValue converts a speed in steps/s to the V1/VMAX register value.
func VelocityValue(speed float64) (int64, error) {
	return toRegister(roundHalfUp(speed * TMC5160_VELOCITY_SCALE))
}
