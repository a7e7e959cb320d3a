package exchange

import "time"

// State is the reliability state of the confirmable message in flight.
type State uint8

const (
	StateIdle State = iota
	StatePending
	StateRetransmitting
	StateAcked
	StateTimedOut
	StateRejected
)

var stateToString = map[State]string{
	StateIdle:           "Idle",
	StatePending:        "Pending",
	StateRetransmitting: "Retransmitting",
	StateAcked:          "Acked",
	StateTimedOut:       "TimedOut",
	StateRejected:       "RstReceived",
}

func (s State) String() string {
	if v, ok := stateToString[s]; ok {
		return v
	}
	return "State(?)"
}

// Timer is a cancellable scheduled task.
type Timer interface {
	Cancel() bool
}

// Retransmission tracks the confirmable message of an exchange.
type Retransmission struct {
	State   State
	Count   int
	Timeout time.Duration
	Message *Message
	timer   Timer
}

// Start begins tracking msg with the initial timeout.
func (r *Retransmission) Start(msg *Message, timeout time.Duration) {
	r.cancelTimer()
	r.State = StatePending
	r.Count = 0
	r.Timeout = timeout
	r.Message = msg
}

// SetTimer replaces the pending timer.
func (r *Retransmission) SetTimer(t Timer) {
	r.cancelTimer()
	r.timer = t
}

// Stop cancels the pending timer and moves to state.
func (r *Retransmission) Stop(state State) {
	r.cancelTimer()
	r.State = state
}

// Active reports whether msg is still awaiting an acknowledgement.
func (r *Retransmission) Active(msg *Message) bool {
	return r.Message == msg && (r.State == StatePending || r.State == StateRetransmitting)
}

func (r *Retransmission) cancelTimer() {
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
}
