package message

import "fmt"

// SZX is the block size exponent: the block size is 1 << (4+szx).
type SZX uint8

const (
	SZX16   SZX = 0
	SZX32   SZX = 1
	SZX64   SZX = 2
	SZX128  SZX = 3
	SZX256  SZX = 4
	SZX512  SZX = 5
	SZX1024 SZX = 6
	SZX2048 SZX = 7
)

const (
	maxSZX = SZX2048
	// MaxBlockNumber is the largest block number a 3 byte option can carry.
	MaxBlockNumber = 1<<20 - 1
)

// Size returns the block size in bytes.
func (s SZX) Size() int {
	return 1 << (4 + uint(s))
}

// SZXFromSize returns the largest szx whose block size does not exceed size.
func SZXFromSize(size int) (SZX, error) {
	if size < SZX16.Size() {
		return 0, fmt.Errorf("%w: block size %v", ErrBlockInvalidSZX, size)
	}
	szx := maxSZX
	for szx > SZX16 && szx.Size() > size {
		szx--
	}
	return szx, nil
}

// BlockOption is the value of a Block1 or Block2 option.
type BlockOption struct {
	szx  SZX
	more bool
	num  uint32
}

// NewBlockOption creates the option; szx and num are range checked.
func NewBlockOption(szx SZX, more bool, num uint32) (BlockOption, error) {
	var b BlockOption
	if err := b.SetSZX(szx); err != nil {
		return BlockOption{}, err
	}
	if err := b.SetNum(num); err != nil {
		return BlockOption{}, err
	}
	b.more = more
	return b, nil
}

// ParseBlockOption decodes the 1 to 3 raw bytes of a block option.
func ParseBlockOption(value []byte) (BlockOption, error) {
	if len(value) == 0 || len(value) > 3 {
		return BlockOption{}, fmt.Errorf("%w: %v bytes", ErrBlockInvalidLength, len(value))
	}
	num := uint32(value[0] >> 4)
	for i := 1; i < len(value); i++ {
		num |= uint32(value[i]) << (i*8 - 4)
	}
	return BlockOption{
		szx:  SZX(value[0] & 0x7),
		more: value[0]&0x8 != 0,
		num:  num,
	}, nil
}

func (b BlockOption) SZX() SZX { return b.szx }

func (b BlockOption) More() bool { return b.more }

func (b BlockOption) Num() uint32 { return b.num }

// Size returns the block size in bytes.
func (b BlockOption) Size() int { return b.szx.Size() }

// Offset returns the position of the block in the whole body.
func (b BlockOption) Offset() int { return int(b.num) * b.szx.Size() }

func (b *BlockOption) SetMore(m bool) { b.more = m }

func (b *BlockOption) SetSZX(szx SZX) error {
	if szx > maxSZX {
		return fmt.Errorf("%w: %v", ErrBlockInvalidSZX, szx)
	}
	b.szx = szx
	return nil
}

func (b *BlockOption) SetNum(num uint32) error {
	if num > MaxBlockNumber {
		return fmt.Errorf("%w: %v", ErrBlockNumberExceedLimit, num)
	}
	b.num = num
	return nil
}

// Bytes encodes the option in its minimal form:
//
//	byte0 = szx | m<<3 | (num&0xF)<<4
//	byte1 = num>>4    (num >= 16)
//	byte2 = num>>12   (num >= 4096)
func (b BlockOption) Bytes() []byte {
	last := byte(b.szx)
	if b.more {
		last |= 0x8
	}
	last |= byte(b.num&0xf) << 4
	switch {
	case b.num < 1<<4:
		return []byte{last}
	case b.num < 1<<12:
		return []byte{last, byte(b.num >> 4)}
	default:
		return []byte{last, byte(b.num >> 4), byte(b.num >> 12)}
	}
}

func (b BlockOption) String() string {
	m := 0
	if b.more {
		m = 1
	}
	return fmt.Sprintf("%d/%d/%d", b.num, m, b.szx.Size())
}
