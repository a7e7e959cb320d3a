package message

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	pkgRand "github.com/plgd-dev/go-coap-engine/pkg/rand"
	"go.uber.org/atomic"
)

var weakRng = pkgRand.NewRand(time.Now().UnixNano())

var defaultMIDSource = NewMIDSource()

// MIDSource hands out sequential message IDs starting at a random offset.
type MIDSource struct {
	next atomic.Uint32
}

func NewMIDSource() *MIDSource {
	s := &MIDSource{}
	s.next.Store(uint32(RandMID()))
	return s
}

// Next returns the next message id. (0 <= mid <= 65535)
func (s *MIDSource) Next() int32 {
	return int32(uint16(s.next.Inc()))
}

// GetMID generates a message id from the process wide source.
func GetMID() int32 {
	return defaultMIDSource.Next()
}

func RandMID() int32 {
	b := make([]byte, 4)
	_, err := rand.Read(b)
	if err != nil {
		// fallback to cryptographically insecure pseudo-random generator
		return int32(uint16(weakRng.Uint32() >> 16))
	}
	return int32(uint16(binary.BigEndian.Uint32(b)))
}
