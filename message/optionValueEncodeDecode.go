package message

import "encoding/binary"

const (
	max1ByteNumber = uint32(^uint8(0))
	max2ByteNumber = uint32(^uint16(0))
	max3ByteNumber = uint32(0xffffff)
)

// EncodeUint32 encodes value as the minimal big-endian uint option value.
func EncodeUint32(value uint32) []byte {
	switch {
	case value == 0:
		return []byte{}
	case value <= max1ByteNumber:
		return []byte{byte(value)}
	case value <= max2ByteNumber:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(value))
		return b
	case value <= max3ByteNumber:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, value)
		return b[1:]
	default:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, value)
		return b
	}
}

func DecodeUint32(buf []byte) (uint32, error) {
	if len(buf) > 4 {
		return 0, ErrInvalidValueLength
	}
	var value uint32
	for _, b := range buf {
		value = value<<8 | uint32(b)
	}
	return value, nil
}
