package core

import (
	"sync"

	"tmcgo/protocol"
)

// SimTMC5160 emulates the SPI side of a single TMC5160 closely enough to
// run the controller without hardware: registers are stored, reads are
// answered one exchange late, and every XACTUAL read request moves the
// position towards XTARGET.
type SimTMC5160 struct {
	// StepsPerPoll is how far the position advances per XACTUAL read
	// request. Zero completes any move at once.
	StepsPerPoll int32

	mu      sync.Mutex
	regs    map[protocol.Register]int32
	pending protocol.Register
	fault   bool
	reset   bool
	frames  []protocol.Frame
}

// NewSimTMC5160 returns a chip in its power-on state with the reset flag
// raised.
func NewSimTMC5160(stepsPerPoll int32) *SimTMC5160 {
	return &SimTMC5160{
		StepsPerPoll: stepsPerPoll,
		regs:         make(map[protocol.Register]int32),
		reset:        true,
	}
}

// SetFault raises or clears the driver error flag.
func (s *SimTMC5160) SetFault(on bool) {
	s.mu.Lock()
	s.fault = on
	s.mu.Unlock()
}

// Register returns the stored value of reg.
func (s *SimTMC5160) Register(reg protocol.Register) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

// Frames returns every request frame received so far.
func (s *SimTMC5160) Frames() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *SimTMC5160) status() protocol.StatusFlags {
	actual, target := s.regs[TMC5160_XACTUAL], s.regs[TMC5160_XTARGET]
	return protocol.StatusFlags{
		ResetOccurred:   s.reset,
		DriverError:     s.fault,
		Standstill:      actual == target,
		VelocityReached: actual == target,
		PositionReached: actual == target && !s.fault,
	}
}

// Exchange implements Transport.
func (s *SimTMC5160) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return errLengthMismatch
	}
	if len(tx) != protocol.FrameSize {
		// not a datagram this chip understands; shift out zeros
		clear(rx)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var req protocol.Frame
	copy(req[:], tx)
	s.frames = append(s.frames, req)

	// The reply carries the status before this request and the data
	// requested by the previous one.
	u := uint32(s.regs[s.pending])
	if s.pending == TMC5160_GSTAT {
		u = 0
		if s.reset {
			u |= 1
		}
		if s.fault {
			u |= 2
		}
	}
	reply := protocol.Frame{s.status().Byte(), byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
	if s.pending == TMC5160_GSTAT {
		s.reset = false // GSTAT clears on read
	}
	copy(rx, reply[:])

	value, _ := protocol.DecodeFrame(req)
	reg := protocol.Register(req[0] & 0x7F)
	if req[0]&byte(protocol.Write) != 0 {
		s.regs[reg] = value
		s.pending = 0
		return nil
	}
	s.pending = reg
	if reg == TMC5160_XACTUAL && !s.fault {
		s.advance()
	}
	return nil
}

func (s *SimTMC5160) advance() {
	actual, target := s.regs[TMC5160_XACTUAL], s.regs[TMC5160_XTARGET]
	if s.StepsPerPoll <= 0 {
		s.regs[TMC5160_XACTUAL] = target
		return
	}
	d := int64(target) - int64(actual)
	step := int64(s.StepsPerPoll)
	switch {
	case d > step:
		d = step
	case d < -step:
		d = -step
	}
	s.regs[TMC5160_XACTUAL] = int32(int64(actual) + d)
}
