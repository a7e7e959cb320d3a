// Package observation tracks resource observation on both sides: the
// freshness of received notifications and the observers of local resources.
package observation

import (
	"sync"
	"time"
)

// SequenceTimeout defines how long a sequence number is valid. https://tools.ietf.org/html/rfc7641#section-3.4
const SequenceTimeout = 128 * time.Second

const halfSequence = 1 << 23

// ValidSequenceNumber implements conditions in https://tools.ietf.org/html/rfc7641#section-3.4
func ValidSequenceNumber(old, new uint32, lastEventOccurs time.Time, now time.Time) bool {
	if (old < new && new-old < halfSequence) ||
		(old > new && old-new > halfSequence) ||
		(now.Sub(lastEventOccurs) > SequenceTimeout) {
		return true
	}
	return false
}

// Filter drops notifications that are older than the last accepted one.
type Filter struct {
	mutex sync.Mutex
	seq   uint32
	at    time.Time
	seen  bool
}

// Accept reports whether the notification with sequence number seq is
// fresh and records it.
func (f *Filter) Accept(seq uint32, now time.Time) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.seen && !ValidSequenceNumber(f.seq, seq, f.at, now) {
		return false
	}
	f.seen = true
	f.seq = seq
	f.at = now
	return true
}
