package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockOptionBytes(t *testing.T) {
	tests := []struct {
		szx  SZX
		more bool
		num  uint32
		want []byte
	}{
		{szx: 0, more: false, num: 0, want: []byte{0x00}},
		{szx: 0, more: false, num: 1, want: []byte{0x10}},
		{szx: 0, more: false, num: 15, want: []byte{0xf0}},
		{szx: 0, more: false, num: 16, want: []byte{0x00, 0x01}},
		{szx: 0, more: false, num: 79, want: []byte{0xf0, 0x04}},
		{szx: 0, more: false, num: 113, want: []byte{0x10, 0x07}},
		{szx: 0, more: false, num: 26387, want: []byte{0x30, 0x71, 0x06}},
		{szx: 0, more: false, num: 1048575, want: []byte{0xf0, 0xff, 0xff}},
		{szx: 7, more: false, num: 1048575, want: []byte{0xf7, 0xff, 0xff}},
		{szx: 7, more: true, num: 1048575, want: []byte{0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		t.Run(NewBlockOptionOrFail(t, tt.szx, tt.more, tt.num).String(), func(t *testing.T) {
			b, err := NewBlockOption(tt.szx, tt.more, tt.num)
			require.NoError(t, err)
			require.Equal(t, tt.want, b.Bytes())

			decoded, err := ParseBlockOption(tt.want)
			require.NoError(t, err)
			require.Equal(t, tt.szx, decoded.SZX())
			require.Equal(t, tt.more, decoded.More())
			require.Equal(t, tt.num, decoded.Num())
		})
	}
}

func NewBlockOptionOrFail(t *testing.T, szx SZX, more bool, num uint32) BlockOption {
	b, err := NewBlockOption(szx, more, num)
	require.NoError(t, err)
	return b
}

func TestBlockOptionMinimalLength(t *testing.T) {
	for _, num := range []uint32{0, 1, 15, 16, 255, 4095, 4096, 65535, MaxBlockNumber} {
		for szx := SZX16; szx <= SZX2048; szx++ {
			for _, more := range []bool{false, true} {
				b := NewBlockOptionOrFail(t, szx, more, num)
				raw := b.Bytes()
				switch {
				case num < 16:
					require.Len(t, raw, 1)
				case num < 4096:
					require.Len(t, raw, 2)
				default:
					require.Len(t, raw, 3)
				}
				decoded, err := ParseBlockOption(raw)
				require.NoError(t, err)
				require.Equal(t, b, decoded)
			}
		}
	}
}

func TestBlockOptionRange(t *testing.T) {
	_, err := NewBlockOption(8, false, 0)
	require.ErrorIs(t, err, ErrBlockInvalidSZX)
	_, err = NewBlockOption(0, false, MaxBlockNumber+1)
	require.ErrorIs(t, err, ErrBlockNumberExceedLimit)

	b := NewBlockOptionOrFail(t, SZX1024, true, 3)
	require.ErrorIs(t, b.SetSZX(9), ErrBlockInvalidSZX)
	require.ErrorIs(t, b.SetNum(1<<20), ErrBlockNumberExceedLimit)
	// failed setters leave the option untouched
	require.Equal(t, SZX1024, b.SZX())
	require.Equal(t, uint32(3), b.Num())
	require.Equal(t, 3*1024, b.Offset())
}

func TestParseBlockOptionLength(t *testing.T) {
	_, err := ParseBlockOption(nil)
	require.ErrorIs(t, err, ErrBlockInvalidLength)
	_, err = ParseBlockOption([]byte{0x01, 0x02, 0x03, 0x04})
	require.ErrorIs(t, err, ErrBlockInvalidLength)
}

func TestSZX(t *testing.T) {
	require.Equal(t, 16, SZX16.Size())
	require.Equal(t, 1024, SZX1024.Size())

	szx, err := SZXFromSize(1024)
	require.NoError(t, err)
	require.Equal(t, SZX1024, szx)
	szx, err = SZXFromSize(1000)
	require.NoError(t, err)
	require.Equal(t, SZX512, szx)
	_, err = SZXFromSize(15)
	require.ErrorIs(t, err, ErrBlockInvalidSZX)
}
