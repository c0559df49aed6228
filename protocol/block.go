package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrShortBlock means more input is needed before a block can be parsed.
	ErrShortBlock = errors.New("incomplete message block")
	// ErrBadBlock means the input does not start with a valid block; the
	// reader should resynchronise on the next sync byte.
	ErrBadBlock = errors.New("malformed message block")
)

// NextSequence returns the sequence number following seq.
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// EncodeBlock frames payload as a message block with the given sequence.
func EncodeBlock(seq uint8, payload []byte) ([]byte, error) {
	n := MessageHeaderSize + len(payload) + MessageTrailerSize
	if n > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", n, MessageLengthMax)
	}
	out := make([]byte, 0, n)
	out = append(out, byte(n), seq)
	out = append(out, payload...)
	crc := CRC16(out)
	return append(out, byte(crc>>8), byte(crc), MessageValueSync), nil
}

// ParseBlock parses the block at the start of data and reports how many bytes
// it occupied. Leading sync bytes must already be stripped.
func ParseBlock(data []byte) (Message, int, error) {
	if len(data) < MessageLengthMin {
		return Message{}, 0, ErrShortBlock
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return Message{}, 0, ErrBadBlock
	}
	if len(data) < n {
		return Message{}, 0, ErrShortBlock
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return Message{}, 0, ErrBadBlock
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return Message{}, 0, ErrBadBlock
	}

	payload := make([]byte, n-MessageLengthMin)
	copy(payload, data[MessageHeaderSize:n-MessageTrailerSize])
	return Message{
		Length:   uint8(n),
		Sequence: data[MessagePositionSeq],
		Payload:  payload,
		CRC:      crc,
	}, n, nil
}
