package rand

import (
	"math/rand"
	"sync"
)

// Rand is a math/rand generator safe for concurrent use.
type Rand struct {
	src  *rand.Rand
	lock sync.Mutex
}

func NewRand(seed int64) *Rand {
	return &Rand{
		src: rand.New(rand.NewSource(seed)), //nolint:gosec
	}
}

func (l *Rand) Int63() int64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.src.Int63()
}

func (l *Rand) Uint32() uint32 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.src.Uint32()
}

// Float64 returns a number in [0.0, 1.0).
func (l *Rand) Float64() float64 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.src.Float64()
}

// Between returns a number in [lo, hi).
func (l *Rand) Between(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + l.Float64()*(hi-lo)
}
