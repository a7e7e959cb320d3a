package periodic

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Runner invokes registered functions on every tick until they report false.
type Runner struct {
	tick  time.Duration
	idx   atomic.Uint64
	mutex sync.Mutex
	funcs map[uint64]func(now time.Time) bool
}

func New(tick time.Duration) *Runner {
	return &Runner{
		tick:  tick,
		funcs: make(map[uint64]func(now time.Time) bool),
	}
}

// Add registers f; f is removed after it returns false.
func (r *Runner) Add(f func(now time.Time) bool) {
	if f == nil {
		return
	}
	v := r.idx.Inc()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.funcs[v] = f
}

// Len returns the number of registered functions.
func (r *Runner) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.funcs)
}

func (r *Runner) snapshot() map[uint64]func(time.Time) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	v := make(map[uint64]func(time.Time) bool, len(r.funcs))
	for k, f := range r.funcs {
		v[k] = f
	}
	return v
}

func (r *Runner) remove(k uint64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.funcs, k)
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		var now time.Time
		select {
		case now = <-t.C:
		case <-ctx.Done():
			return nil
		}
		for k, f := range r.snapshot() {
			if ok := f(now); !ok {
				r.remove(k)
			}
		}
	}
}
