// Package core drives TMC5160 stepper controllers over a shared SPI bus.
//
// The TMC5160 answers every SPI datagram with the data requested by the
// previous datagram. A register read therefore takes two exchanges, and the
// status byte returned by any exchange describes the chip as it was before
// that exchange was processed. TMC5160 keeps that lag explicit: every
// transaction returns the StatusFlags it produced.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tmcgo/protocol"
)

// ErrMoveTimeout is returned by a blocking move that exceeds MoveTimeout.
var ErrMoveTimeout = errors.New("move did not complete before timeout")

// DefaultPollInterval is the pause between completion polls.
const DefaultPollInterval = 100 * time.Millisecond

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Name identifies the axis in log output.
	Name string
	// PollInterval separates completion polls in MoveAbsolute and WaitMoves.
	// Default 100 ms.
	PollInterval time.Duration
	// MoveTimeout bounds a blocking move. Zero polls until the position is
	// reached or the driver reports an error, however long that takes.
	MoveTimeout time.Duration
	// Logger defaults to the package logger.
	Logger logrus.FieldLogger
}

// Profile is the physical description of the single supported ramp.
type Profile struct {
	Speed       float64       // microsteps per second
	AccelTime   time.Duration // time to reach Speed from standstill
	RunCurrent  float64       // mA
	HoldCurrent float64       // mA
}

// AxisConfig holds the register values derived from a Profile by Setup.
type AxisConfig struct {
	RunCurrent  uint8 // IRUN code 1..31
	HoldCurrent uint8 // IHOLD code 1..31
	Accel       int64 // A1, AMAX, D1
	Velocity    int64 // V1, VMAX
}

// Derive computes the register values for p.
func (p Profile) Derive() (AxisConfig, error) {
	a, err := AccelValue(p.Speed, p.AccelTime)
	if err != nil {
		return AxisConfig{}, err
	}
	v, err := VelocityValue(p.Speed)
	if err != nil {
		return AxisConfig{}, err
	}
	return AxisConfig{
		RunCurrent:  CurrentCode(p.RunCurrent),
		HoldCurrent: CurrentCode(p.HoldCurrent),
		Accel:       a,
		Velocity:    v,
	}, nil
}

// MoveOutcome classifies the state of a positioning move.
type MoveOutcome uint8

const (
	MovePending     MoveOutcome = iota // still travelling, or not waited for
	MoveReached                        // position_reached observed
	MoveDriverError                    // driver_error observed first
)

func (o MoveOutcome) String() string {
	switch o {
	case MoveReached:
		return "reached"
	case MoveDriverError:
		return "driver_error"
	default:
		return "pending"
	}
}

// MoveResult describes how a move, or a single poll of it, ended.
type MoveResult struct {
	Outcome MoveOutcome
	Polls   int                  // completion polls performed
	Flags   protocol.StatusFlags // flags of the last transaction
}

// TMC5160 controls one axis. Moves on the same axis must not overlap;
// separate axes may share a Bus.
type TMC5160 struct {
	dev *SPIDevice
	cfg Config
	log logrus.FieldLogger

	mu         sync.Mutex
	flags      protocol.StatusFlags
	axis       AxisConfig
	configured bool
}

// NewTMC5160 creates a controller for the chip behind dev. It does not
// touch the device; call Setup before moving.
func NewTMC5160(dev *SPIDevice, cfg Config) *TMC5160 {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	l := cfg.Logger
	if l == nil {
		l = logger
	}
	if cfg.Name != "" {
		l = l.WithField("axis", cfg.Name)
	}
	return &TMC5160{dev: dev, cfg: cfg, log: l}
}

// Name returns the configured axis name.
func (m *TMC5160) Name() string { return m.cfg.Name }

// send performs one exchange of a request frame and decodes the reply.
func send(x Exchanger, dir protocol.Direction, reg protocol.Register, value int64) (int32, protocol.StatusFlags, error) {
	tx, err := protocol.EncodeFrame(dir, reg, value)
	if err != nil {
		return 0, protocol.StatusFlags{}, err
	}
	var rx protocol.Frame
	if err := x.Exchange(tx[:], rx[:]); err != nil {
		return 0, protocol.StatusFlags{}, err
	}
	v, flags := protocol.DecodeFrame(rx)
	return v, flags, nil
}

func (m *TMC5160) setFlags(f protocol.StatusFlags) {
	m.mu.Lock()
	m.flags = f
	m.mu.Unlock()
}

// exchange sends a single request frame as its own bus transaction.
func (m *TMC5160) exchange(dir protocol.Direction, reg protocol.Register, value int64) (protocol.StatusFlags, error) {
	var flags protocol.StatusFlags
	err := m.dev.Transaction(func(x Exchanger) error {
		var err error
		_, flags, err = send(x, dir, reg, value)
		return err
	})
	if err != nil {
		return protocol.StatusFlags{}, err
	}
	m.setFlags(flags)
	return flags, nil
}

// Write stores value in reg with a single exchange. The returned flags
// describe the chip before this write was applied.
func (m *TMC5160) Write(reg protocol.Register, value int64) (protocol.StatusFlags, error) {
	flags, err := m.exchange(protocol.Write, reg, value)
	if err != nil {
		return flags, err
	}
	m.log.WithFields(logrus.Fields{
		"reg":    fmt.Sprintf("0x%02X", uint8(reg)),
		"value":  value,
		"status": fmt.Sprintf("%08b", flags.Byte()),
	}).Debug("write")
	return flags, nil
}

// Read fetches reg. The request and the fetch are two exchanges made in a
// single bus transaction; value and flags come from the second.
func (m *TMC5160) Read(reg protocol.Register) (int32, protocol.StatusFlags, error) {
	var (
		value int32
		flags protocol.StatusFlags
	)
	err := m.dev.Transaction(func(x Exchanger) error {
		if _, _, err := send(x, protocol.Read, reg, 0); err != nil {
			return err
		}
		var err error
		value, flags, err = send(x, protocol.Read, reg, 0)
		return err
	})
	if err != nil {
		return 0, protocol.StatusFlags{}, err
	}
	m.setFlags(flags)
	m.log.WithFields(logrus.Fields{
		"reg":    fmt.Sprintf("0x%02X", uint8(reg)),
		"value":  value,
		"status": fmt.Sprintf("%08b", flags.Byte()),
	}).Debug("read")
	return value, flags, nil
}

// Flags returns the status of the most recent transaction.
func (m *TMC5160) Flags() protocol.StatusFlags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// AxisConfig returns the register values applied by the last successful
// Setup and whether the axis is configured.
func (m *TMC5160) AxisConfig() (AxisConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.axis, m.configured
}

type regWrite struct {
	reg   protocol.Register
	value int64
}

// Setup brings the chip from power-on to positioning mode with the fixed
// driver profile and the currents and ramp derived from p. It re-zeros
// the position and may be called again to apply a new profile.
func (m *TMC5160) Setup(p Profile) error {
	ac, err := p.Derive()
	if err != nil {
		return err
	}

	seq := []regWrite{
		{TMC5160_GCONF, TMC5160_GCONF_DEFAULT},
		{TMC5160_CHOPCONF, TMC5160_CHOPCONF_PROFILE},
		{TMC5160_IHOLD_IRUN, HoldRunCurrent(ac.RunCurrent, ac.HoldCurrent)},
		{TMC5160_TPOWERDOWN, TMC5160_TPOWERDOWN_DEFAULT},
		{TMC5160_PWMCONF, TMC5160_PWMCONF_PROFILE},
		{TMC5160_A1, ac.Accel},
		{TMC5160_V1, ac.Velocity},
		{TMC5160_AMAX, ac.Accel},
		{TMC5160_VMAX, ac.Velocity},
		{TMC5160_D1, ac.Accel}, // deceleration mirrors acceleration
		{TMC5160_VSTOP, TMC5160_VSTOP_DEFAULT},
		{TMC5160_RAMPMODE, TMC5160_MODE_POSITION},
		{TMC5160_XACTUAL, 0},
		{TMC5160_XTARGET, 0},
	}
	for _, w := range seq {
		if _, err := m.Write(w.reg, w.value); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.axis = ac
	m.configured = true
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"irun":  ac.RunCurrent,
		"ihold": ac.HoldCurrent,
		"accel": ac.Accel,
		"vmax":  ac.Velocity,
	}).Info("axis configured")
	return nil
}

// classify maps the flags of a poll to a move outcome. A driver error wins
// over position reached so a faulted move is never reported as complete.
func classify(f protocol.StatusFlags) MoveOutcome {
	switch {
	case f.DriverError:
		return MoveDriverError
	case f.PositionReached:
		return MoveReached
	}
	return MovePending
}

// Poll makes one completion check: a read request of XACTUAL whose status
// byte reflects the preceding transaction.
func (m *TMC5160) Poll() (MoveResult, error) {
	flags, err := m.exchange(protocol.Read, TMC5160_XACTUAL, 0)
	if err != nil {
		return MoveResult{}, err
	}
	return MoveResult{Outcome: classify(flags), Polls: 1, Flags: flags}, nil
}

// MoveAbsolute sets the target position. The first read request after the
// write flushes the write's stale status out of the pipeline.
//
// With blocking false it returns MovePending at once and the caller polls
// with Poll, Flags or Position. Otherwise it polls every PollInterval until
// position_reached (MoveReached) or driver_error (MoveDriverError). A driver
// error is reported in the result, not as an error; the actual position
// must then be read back. The wait ends early only through ctx or a
// configured MoveTimeout.
func (m *TMC5160) MoveAbsolute(ctx context.Context, target int32, blocking bool) (MoveResult, error) {
	if _, err := m.Write(TMC5160_XTARGET, int64(target)); err != nil {
		return MoveResult{}, err
	}
	flags, err := m.exchange(protocol.Read, TMC5160_XACTUAL, 0)
	if err != nil {
		return MoveResult{}, err
	}
	res := MoveResult{Outcome: MovePending, Flags: flags}
	if !blocking {
		return res, nil
	}

	wait := ctx
	if m.cfg.MoveTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, m.cfg.MoveTimeout)
		defer cancel()
	}

	for {
		p, err := m.Poll()
		if err != nil {
			return res, err
		}
		res.Polls++
		res.Flags = p.Flags
		res.Outcome = p.Outcome

		switch p.Outcome {
		case MoveReached:
			return res, nil
		case MoveDriverError:
			m.log.WithField("target", target).WithField("status", p.Flags.String()).Warn("driver error")
			return res, nil
		}

		if err := sleepCtx(wait, m.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("%w: target %d after %d polls", ErrMoveTimeout, target, res.Polls)
		}
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Position reads XACTUAL.
func (m *TMC5160) Position() (int32, error) {
	v, _, err := m.Read(TMC5160_XACTUAL)
	return v, err
}

// SetPosition resets both XACTUAL and XTARGET to zero. The argument is
// currently ignored: the driver has only ever supported re-zeroing, and
// callers relying on that are kept working.
func (m *TMC5160) SetPosition(x int32) error {
	if x != 0 {
		m.log.WithField("requested", x).Warn("SetPosition ignores its argument; position reset to 0")
	}
	if _, err := m.Write(TMC5160_XACTUAL, 0); err != nil {
		return err
	}
	_, err := m.Write(TMC5160_XTARGET, 0)
	return err
}

// ReadEncoder reads X_ENC. Without an encoder wired to the chip the value
// is whatever the counter holds; no error is reported.
func (m *TMC5160) ReadEncoder() (int32, error) {
	v, _, err := m.Read(TMC5160_X_ENC)
	return v, err
}

// SetEncoder loads the encoder counter with x rounded to the nearest count.
func (m *TMC5160) SetEncoder(x float64) error {
	v, err := toRegister(roundHalfUp(x))
	if err != nil {
		return err
	}
	_, err = m.Write(TMC5160_X_ENC, v)
	return err
}

// GlobalStatus reads GSTAT (reset, drv_err, uv_cp).
func (m *TMC5160) GlobalStatus() (int32, error) {
	v, _, err := m.Read(TMC5160_GSTAT)
	return v, err
}
