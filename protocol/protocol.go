// Package protocol implements the wire formats used by tmcgo: the TMC5160
// 40-bit SPI datagram and the Klipper serial message blocks that carry SPI
// transfers to a bus owned by a microcontroller.
package protocol

// Version is reported by the host tool.
const Version = "0.1.0"

// Klipper message block layout
const (
	MessageHeaderSize  = 2 // length, sequence
	MessageTrailerSize = 3 // crc16 (2), sync
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	MessageSeqMask = 0x0F
)

// Message is one parsed message block.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // block contents without header and trailer
	CRC      uint16
}
