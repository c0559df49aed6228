package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlockAck(t *testing.T) {
	b, err := EncodeBlock(MessageDest, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x10, 0x9E, 0x81, 0x7E}, b)
}

func TestBlockRoundTrip(t *testing.T) {
	payload := AppendVLQBytes(AppendVLQUint(nil, 12), []byte{0x21, 0, 0, 0, 0})
	b, err := EncodeBlock(0x13, payload)
	require.NoError(t, err)
	require.Len(t, b, MessageLengthMin+len(payload))

	msg, n, err := ParseBlock(append(b, 0xAA))
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, uint8(0x13), msg.Sequence)
	assert.Equal(t, payload, msg.Payload)
}

func TestEncodeBlockTooLong(t *testing.T) {
	_, err := EncodeBlock(MessageDest, make([]byte, MessageLengthMax))
	assert.Error(t, err)
}

func TestParseBlockErrors(t *testing.T) {
	good, err := EncodeBlock(0x11, []byte{1, 2, 3})
	require.NoError(t, err)

	_, _, err = ParseBlock(good[:4])
	assert.ErrorIs(t, err, ErrShortBlock)
	_, _, err = ParseBlock(good[:len(good)-1])
	assert.ErrorIs(t, err, ErrShortBlock)

	bad := append([]byte(nil), good...)
	bad[2] ^= 0xFF
	_, _, err = ParseBlock(bad)
	assert.ErrorIs(t, err, ErrBadBlock, "crc mismatch")

	bad = append([]byte(nil), good...)
	bad[len(bad)-1] = 0
	_, _, err = ParseBlock(bad)
	assert.ErrorIs(t, err, ErrBadBlock, "missing sync")

	_, _, err = ParseBlock([]byte{0x02, 0x10, 0, 0, 0x7E})
	assert.ErrorIs(t, err, ErrBadBlock, "length below minimum")
}

func TestNextSequence(t *testing.T) {
	assert.Equal(t, uint8(0x11), NextSequence(0x10))
	assert.Equal(t, uint8(0x10), NextSequence(0x1F))
}
