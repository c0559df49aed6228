package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmcgo/protocol"
)

// scriptedTransport records request frames and answers with queued replies.
// Once the queue is empty it answers with zeros.
type scriptedTransport struct {
	mu      sync.Mutex
	sent    []protocol.Frame
	replies []protocol.Frame
	err     error
}

func (s *scriptedTransport) Exchange(tx, rx []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	var f protocol.Frame
	copy(f[:], tx)
	s.sent = append(s.sent, f)
	clear(rx)
	if len(s.replies) > 0 {
		copy(rx, s.replies[0][:])
		s.replies = s.replies[1:]
	}
	return nil
}

func (s *scriptedTransport) queue(status byte, value uint32) {
	s.replies = append(s.replies, protocol.Frame{status, byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value)})
}

// recordingSelect tracks chip select state.
type recordingSelect struct {
	asserted bool
	selects  int
}

func (c *recordingSelect) Select() error   { c.asserted = true; c.selects++; return nil }
func (c *recordingSelect) Deselect() error { c.asserted = false; return nil }

func newTestAxis(t *testing.T, tr Transport, cfg Config) (*TMC5160, *test.Hook) {
	t.Helper()
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	cfg.Logger = l
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	bus := NewBus(tr, DefaultSPIConfig)
	return NewTMC5160(bus.Device(nil), cfg), hook
}

var demoProfile = Profile{
	Speed:       102400,
	AccelTime:   250 * time.Millisecond,
	RunCurrent:  250,
	HoldCurrent: 125,
}

func TestSetupSequence(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{Name: "x"})

	_, ok := m.AxisConfig()
	require.False(t, ok)
	require.NoError(t, m.Setup(demoProfile))

	want := []protocol.Frame{
		{0x80, 0x00, 0x00, 0x00, 0x00}, // GCONF
		{0xEC, 0x00, 0x01, 0x01, 0xD5}, // CHOPCONF
		{0x90, 0x00, 0x07, 0x03, 0x01}, // IHOLD_IRUN
		{0x91, 0x00, 0x00, 0x00, 0x0A}, // TPOWERDOWN
		{0xF0, 0x00, 0x00, 0x00, 0x00}, // PWMCONF
		{0xA4, 0x00, 0x00, 0x18, 0x6F}, // A1
		{0xA5, 0x00, 0x02, 0x2F, 0x3D}, // V1
		{0xA6, 0x00, 0x00, 0x18, 0x6F}, // AMAX
		{0xA7, 0x00, 0x02, 0x2F, 0x3D}, // VMAX
		{0xAA, 0x00, 0x00, 0x18, 0x6F}, // D1
		{0xAB, 0x00, 0x00, 0x00, 0x0A}, // VSTOP
		{0xA0, 0x00, 0x00, 0x00, 0x00}, // RAMPMODE
		{0xA1, 0x00, 0x00, 0x00, 0x00}, // XACTUAL
		{0xAD, 0x00, 0x00, 0x00, 0x00}, // XTARGET
	}
	assert.Equal(t, want, tr.sent)

	ac, ok := m.AxisConfig()
	require.True(t, ok)
	assert.Equal(t, AxisConfig{RunCurrent: 3, HoldCurrent: 1, Accel: 6255, Velocity: 143165}, ac)
}

func TestSetupRejectsZeroAccelTime(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{})

	p := demoProfile
	p.AccelTime = 0
	err := m.Setup(p)
	require.ErrorIs(t, err, ErrInvalidProfile)
	assert.Empty(t, tr.sent)
}

func TestSetupStopsAtFirstError(t *testing.T) {
	errBus := errors.New("bus fault")
	tr := &scriptedTransport{err: errBus}
	m, _ := newTestAxis(t, tr, Config{})

	err := m.Setup(demoProfile)
	require.ErrorIs(t, err, errBus)
	_, ok := m.AxisConfig()
	assert.False(t, ok)
}

func TestWriteReturnsPriorStatus(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0b00100001, 0xDEADBEEF)
	m, _ := newTestAxis(t, tr, Config{})

	flags, err := m.Write(TMC5160_XTARGET, -1)
	require.NoError(t, err)
	assert.True(t, flags.ResetOccurred)
	assert.True(t, flags.PositionReached)
	assert.False(t, flags.StallDetected)
	assert.Equal(t, flags, m.Flags())
	assert.Equal(t, []protocol.Frame{{0xAD, 0xFF, 0xFF, 0xFF, 0xFF}}, tr.sent)
}

func TestWriteEncodingError(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{})

	_, err := m.Write(0x80, 0)
	require.ErrorIs(t, err, protocol.ErrAddressRange)

	_, err = m.Write(TMC5160_XTARGET, 1<<31)
	require.ErrorIs(t, err, protocol.ErrValueRange)
	var encErr *protocol.EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, int64(1<<31), encErr.Value)

	assert.Empty(t, tr.sent, "nothing may reach the bus")
}

func TestReadUsesSecondExchange(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0x01, 0x12345678) // stale data from an earlier request
	tr.queue(0x20, 1000)
	m, _ := newTestAxis(t, tr, Config{})

	v, flags, err := m.Read(TMC5160_XACTUAL)
	require.NoError(t, err)
	assert.Equal(t, int32(1000), v)
	assert.True(t, flags.PositionReached)
	assert.False(t, flags.ResetOccurred)
	assert.Equal(t, []protocol.Frame{
		{0x21, 0, 0, 0, 0},
		{0x21, 0, 0, 0, 0},
	}, tr.sent)
}

func TestReadNegative(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0, 0)
	tr.queue(0, 0xFFFF3800) // -51200
	m, _ := newTestAxis(t, tr, Config{})

	v, err := m.Position()
	require.NoError(t, err)
	assert.Equal(t, int32(-51200), v)
}

func TestMoveAbsoluteBlocking(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0x20, 0) // XTARGET write: reached from the previous move
	tr.queue(0x00, 0) // read request primes the pipeline
	tr.queue(0x00, 0) // poll 1
	tr.queue(0x10, 0) // poll 2
	tr.queue(0x28, 0) // poll 3: position reached
	m, _ := newTestAxis(t, tr, Config{})

	res, err := m.MoveAbsolute(context.Background(), 102400, true)
	require.NoError(t, err)
	assert.Equal(t, MoveReached, res.Outcome)
	assert.Equal(t, 3, res.Polls)
	assert.True(t, res.Flags.Standstill)

	require.Len(t, tr.sent, 5)
	assert.Equal(t, protocol.Frame{0xAD, 0x00, 0x01, 0x90, 0x00}, tr.sent[0])
	for _, f := range tr.sent[1:] {
		assert.Equal(t, protocol.Frame{0x21, 0, 0, 0, 0}, f)
	}
}

func TestMoveAbsoluteNonBlocking(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0x20, 0)
	tr.queue(0x00, 0)
	m, _ := newTestAxis(t, tr, Config{})

	res, err := m.MoveAbsolute(context.Background(), -51200, false)
	require.NoError(t, err)
	assert.Equal(t, MovePending, res.Outcome)
	assert.Zero(t, res.Polls)
	assert.Equal(t, []protocol.Frame{
		{0xAD, 0xFF, 0xFF, 0x38, 0x00},
		{0x21, 0, 0, 0, 0},
	}, tr.sent)
}

func TestMoveAbsoluteDriverError(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0x00, 0)
	tr.queue(0x00, 0)
	tr.queue(0x02, 0) // poll 1: driver error
	m, hook := newTestAxis(t, tr, Config{Name: "y"})

	res, err := m.MoveAbsolute(context.Background(), 500, true)
	require.NoError(t, err, "a driver error ends the move without an error value")
	assert.Equal(t, MoveDriverError, res.Outcome)
	assert.Equal(t, 1, res.Polls)
	assert.Len(t, tr.sent, 3)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "y", entry.Data["axis"])
}

func TestMoveAbsoluteDriverErrorWinsOverReached(t *testing.T) {
	tr := &scriptedTransport{}
	tr.queue(0x00, 0)
	tr.queue(0x00, 0)
	tr.queue(0x22, 0)
	m, _ := newTestAxis(t, tr, Config{})

	res, err := m.MoveAbsolute(context.Background(), 500, true)
	require.NoError(t, err)
	assert.Equal(t, MoveDriverError, res.Outcome)
}

func TestMoveAbsoluteTimeout(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{PollInterval: 2 * time.Millisecond, MoveTimeout: 20 * time.Millisecond})

	res, err := m.MoveAbsolute(context.Background(), 500, true)
	require.ErrorIs(t, err, ErrMoveTimeout)
	assert.Equal(t, MovePending, res.Outcome)
	assert.Positive(t, res.Polls)
}

func TestMoveAbsoluteCancel(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := m.MoveAbsolute(ctx, 500, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Polls, "the first poll is immediate")
}

func TestMoveAbsoluteTransportError(t *testing.T) {
	errBus := errors.New("bus fault")
	tr := &scriptedTransport{err: errBus}
	m, _ := newTestAxis(t, tr, Config{})

	_, err := m.MoveAbsolute(context.Background(), 1, true)
	require.ErrorIs(t, err, errBus)
}

func TestSetPositionZeroes(t *testing.T) {
	tr := &scriptedTransport{}
	m, hook := newTestAxis(t, tr, Config{})

	require.NoError(t, m.SetPosition(12345))
	assert.Equal(t, []protocol.Frame{
		{0xA1, 0, 0, 0, 0},
		{0xAD, 0, 0, 0, 0},
	}, tr.sent)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, int32(12345), e.Data["requested"])
		}
	}
	assert.True(t, warned)
}

func TestSetPositionZeroArgumentDoesNotWarn(t *testing.T) {
	tr := &scriptedTransport{}
	m, hook := newTestAxis(t, tr, Config{})

	require.NoError(t, m.SetPosition(0))
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestEncoder(t *testing.T) {
	tests := []struct {
		in   float64
		want protocol.Frame
	}{
		{12.5, protocol.Frame{0xB9, 0, 0, 0, 13}},
		{12.4, protocol.Frame{0xB9, 0, 0, 0, 12}},
		{-2.5, protocol.Frame{0xB9, 0xFF, 0xFF, 0xFF, 0xFE}},
		{0, protocol.Frame{0xB9, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		tr := &scriptedTransport{}
		m, _ := newTestAxis(t, tr, Config{})
		require.NoError(t, m.SetEncoder(tt.in))
		assert.Equal(t, []protocol.Frame{tt.want}, tr.sent, "SetEncoder(%v)", tt.in)
	}

	tr := &scriptedTransport{}
	tr.queue(0, 0)
	tr.queue(0, 4096)
	m, _ := newTestAxis(t, tr, Config{})
	v, err := m.ReadEncoder()
	require.NoError(t, err)
	assert.Equal(t, int32(4096), v)
	assert.Equal(t, protocol.Frame{0x39, 0, 0, 0, 0}, tr.sent[0])
}

func TestSetEncoderOutOfRange(t *testing.T) {
	tr := &scriptedTransport{}
	m, _ := newTestAxis(t, tr, Config{})
	require.ErrorIs(t, m.SetEncoder(1e10), protocol.ErrValueRange)
	assert.Empty(t, tr.sent)
}

func TestChipSelectReleasedOnError(t *testing.T) {
	errBus := errors.New("bus fault")
	tr := &scriptedTransport{err: errBus}
	cs := &recordingSelect{}
	m := NewTMC5160(NewBus(tr, DefaultSPIConfig).Device(cs), Config{})

	_, err := m.Write(TMC5160_GCONF, 0)
	require.ErrorIs(t, err, errBus)
	assert.Equal(t, 1, cs.selects)
	assert.False(t, cs.asserted)
}

func TestChipSelectPerExchange(t *testing.T) {
	tr := &scriptedTransport{}
	cs := &recordingSelect{}
	m := NewTMC5160(NewBus(tr, DefaultSPIConfig).Device(cs), Config{})

	_, _, err := m.Read(TMC5160_XACTUAL)
	require.NoError(t, err)
	assert.Equal(t, 2, cs.selects, "each exchange is bracketed separately")
	assert.False(t, cs.asserted)
}

func TestSimulatedMove(t *testing.T) {
	sim := NewSimTMC5160(25600)
	m, _ := newTestAxis(t, sim, Config{})

	g, err := m.GlobalStatus()
	require.NoError(t, err)
	assert.Equal(t, int32(1), g, "reset flag after power-on")
	assert.True(t, m.Flags().ResetOccurred, "status is sampled before the flag clears")

	require.NoError(t, m.Setup(demoProfile))
	assert.Equal(t, int32(143165), sim.Register(TMC5160_VMAX))

	res, err := m.MoveAbsolute(context.Background(), 102400, true)
	require.NoError(t, err)
	assert.Equal(t, MoveReached, res.Outcome)
	pos, err := m.Position()
	require.NoError(t, err)
	assert.Equal(t, int32(102400), pos)

	res, err = m.MoveAbsolute(context.Background(), -51200, true)
	require.NoError(t, err)
	assert.Equal(t, MoveReached, res.Outcome)
	pos, err = m.Position()
	require.NoError(t, err)
	assert.Equal(t, int32(-51200), pos)

	sim.SetFault(true)
	res, err = m.MoveAbsolute(context.Background(), 0, true)
	require.NoError(t, err)
	assert.Equal(t, MoveDriverError, res.Outcome)
}
