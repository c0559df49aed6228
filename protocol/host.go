package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrAckTimeout      = errors.New("ack timeout")
	ErrResponseTimeout = errors.New("response timeout")
)

// DefaultAckTimeout bounds SendCommand.
const DefaultAckTimeout = 2 * time.Second

// HostTransport speaks the message block protocol from the host side: it
// sends commands, waits for the MCU to acknowledge them and queues the
// responses it receives.
type HostTransport struct {
	port io.ReadWriteCloser
	log  logrus.FieldLogger

	// sendMu serialises commands; seq is only touched while holding it.
	sendMu sync.Mutex
	seq    uint8

	acks      chan uint8
	responses chan *Message

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewHostTransport starts reading from port. A nil logger uses the logrus
// standard logger.
func NewHostTransport(port io.ReadWriteCloser, log logrus.FieldLogger) *HostTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &HostTransport{
		port:      port,
		log:       log,
		seq:       MessageDest,
		acks:      make(chan uint8, 8),
		responses: make(chan *Message, 32),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits for its acknowledgement. args
// appends the encoded parameters to the payload.
func (t *HostTransport) SendCommand(cmdID uint16, args func(b []byte) []byte) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout is SendCommand with a custom acknowledgement timeout.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(b []byte) []byte, timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	payload := AppendVLQUint(nil, uint32(cmdID))
	if args != nil {
		payload = args(payload)
	}
	block, err := EncodeBlock(t.seq, payload)
	if err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}

	// acks left over from earlier exchanges must not complete this one
	for len(t.acks) > 0 {
		<-t.acks
	}
	if err := t.write(block); err != nil {
		return fmt.Errorf("command %d: %w", cmdID, err)
	}

	expect := NextSequence(t.seq)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case seq := <-t.acks:
			if seq != expect {
				t.log.WithFields(logrus.Fields{"expect": expect, "got": seq}).Debug("ignoring out of sequence ack")
				continue
			}
			t.seq = expect
			return nil
		case <-timer.C:
			return fmt.Errorf("command %d: %w after %v", cmdID, ErrAckTimeout, timeout)
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

func (t *HostTransport) write(block []byte) error {
	n, err := t.port.Write(block)
	if err != nil {
		return err
	}
	if n != len(block) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(block))
	}
	return nil
}

// ReceiveResponse returns the next message that carried a payload.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-t.responses:
		return m, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrResponseTimeout, timeout)
	case <-t.stop:
		return nil, ErrTransportClosed
	}
}

// Sequence returns the sequence number of the next command.
func (t *HostTransport) Sequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}

func (t *HostTransport) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			pending = t.process(append(pending, buf[:n]...))
		}
		if err == nil {
			continue
		}
		if t.stopped() || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		// serial reads time out with EOF; anything else is worth a note
		if !errors.Is(err, io.EOF) {
			t.log.WithError(err).Warn("serial read failed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// process dispatches every complete block in data and returns what is left.
func (t *HostTransport) process(data []byte) []byte {
	rest := data
	for len(rest) > 0 {
		if rest[0] == MessageValueSync {
			rest = rest[1:]
			continue
		}
		msg, n, err := ParseBlock(rest)
		if errors.Is(err, ErrShortBlock) {
			break
		}
		if err != nil {
			// resynchronise after the next sync byte
			skip := len(rest)
			if i := bytes.IndexByte(rest, MessageValueSync); i >= 0 {
				skip = i + 1
			}
			t.log.WithField("dropped", skip).Debug("discarding malformed block")
			rest = rest[skip:]
			continue
		}
		rest = rest[n:]
		t.dispatch(&msg)
	}
	return append(data[:0], rest...)
}

// dispatch treats every block as an acknowledgement of the sequence it
// carries; blocks with a payload are also queued as responses.
func (t *HostTransport) dispatch(msg *Message) {
	select {
	case t.acks <- msg.Sequence:
	default:
	}
	if len(msg.Payload) == 0 {
		return
	}
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		// drop the oldest response to make room
		select {
		case <-t.responses:
		default:
		}
	}
}

// Close stops the read loop and closes the port.
func (t *HostTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.closeErr = t.port.Close()
		<-t.done
	})
	return t.closeErr
}
