package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// AppendVLQInt appends v in Klipper's variable length encoding. Values are
// emitted most significant group first; the ranges select how many 7-bit
// groups are needed so that small negatives stay short.
func AppendVLQInt(b []byte, v int32) []byte {
	if !(-(1<<26) <= v && v < (3<<26)) {
		b = append(b, byte((v>>28)&0x7F)|0x80)
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		b = append(b, byte((v>>21)&0x7F)|0x80)
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		b = append(b, byte((v>>14)&0x7F)|0x80)
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		b = append(b, byte((v>>7)&0x7F)|0x80)
	}
	return append(b, byte(v&0x7F))
}

// AppendVLQUint appends an unsigned argument (%u, %c, %hu).
func AppendVLQUint(b []byte, v uint32) []byte {
	return AppendVLQInt(b, int32(v))
}

// AppendVLQBytes appends a length prefixed byte string (%*s).
func AppendVLQBytes(b []byte, data []byte) []byte {
	b = AppendVLQUint(b, uint32(len(data)))
	return append(b, data...)
}

// DecodeVLQInt consumes one signed integer from the front of *data.
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7F
	}
	return int32(v), nil
}

// DecodeVLQUint consumes one unsigned integer from the front of *data.
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQBytes consumes a length prefixed byte string. The result aliases
// the input.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if n > uint32(len(*data)) {
		return nil, ErrInvalidVLQ
	}
	out := (*data)[:n]
	*data = (*data)[n:]
	return out, nil
}
