package observation

import (
	"sync"

	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"go.uber.org/atomic"
)

// Sender transmits a response of an exchange.
type Sender interface {
	SendResponse(ex *exchange.Exchange, resp *exchange.Message) error
}

// Registry holds the remote observers of local resources.
type Registry struct {
	sender    Sender
	seq       atomic.Uint32
	mutex     sync.Mutex
	observers map[string]map[*exchange.Exchange]struct{}
}

func NewRegistry(sender Sender) *Registry {
	return &Registry{
		sender:    sender,
		observers: make(map[string]map[*exchange.Exchange]struct{}),
	}
}

// Next returns the next notification sequence number.
func (r *Registry) Next() uint32 {
	return r.seq.Inc() & 0xffffff
}

// Register adds ex as an observer of path and returns the sequence number
// of its first notification. It reports false when ex does not ask to
// observe.
func (r *Registry) Register(path string, ex *exchange.Exchange) (uint32, bool) {
	if !ex.IsObserve() || ex.IsDone() {
		return 0, false
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	obs, ok := r.observers[path]
	if !ok {
		obs = make(map[*exchange.Exchange]struct{})
		r.observers[path] = obs
	}
	obs[ex] = struct{}{}
	return r.Next(), true
}

func (r *Registry) snapshot(path string) []*exchange.Exchange {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	obs := r.observers[path]
	v := make([]*exchange.Exchange, 0, len(obs))
	for ex := range obs {
		if ex.IsDone() {
			delete(obs, ex)
			continue
		}
		v = append(v, ex)
	}
	if len(obs) == 0 {
		delete(r.observers, path)
	}
	return v
}

func (r *Registry) remove(path string, ex *exchange.Exchange) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if obs, ok := r.observers[path]; ok {
		delete(obs, ex)
		if len(obs) == 0 {
			delete(r.observers, path)
		}
	}
}

// Notify sends a notification built by newResponse to every observer of
// path and returns the number of notified observers. Observers whose
// relation ended are dropped.
func (r *Registry) Notify(path string, newResponse func() *exchange.Message) int {
	var n int
	for _, ex := range r.snapshot(path) {
		resp := newResponse()
		resp.Options = resp.Options.SetObserve(r.Next())
		if err := r.sender.SendResponse(ex, resp); err != nil {
			r.remove(path, ex)
			continue
		}
		n++
	}
	return n
}

// Len returns the number of active observers of path.
func (r *Registry) Len(path string) int {
	return len(r.snapshot(path))
}
