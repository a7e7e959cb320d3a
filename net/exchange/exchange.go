// Package exchange holds the state correlating a request with its responses.
//
// An Exchange is mutated only from the endpoint executor. Done, Wait and
// the accessors documented as such may be used from any goroutine.
package exchange

import (
	"context"
	"net"
	"time"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/pkg/fn"
	"go.uber.org/atomic"
)

// Origin tells who sent the request of an exchange.
type Origin uint8

const (
	// Local exchanges carry a request sent by this endpoint.
	Local Origin = iota
	// Remote exchanges carry a request received from a peer.
	Remote
)

func (o Origin) String() string {
	if o == Local {
		return "Local"
	}
	return "Remote"
}

type Exchange struct {
	origin  Origin
	remote  *net.UDPAddr
	created time.Time

	request         *Message
	currentRequest  *Message
	response        *Message
	currentResponse *Message

	retransmission Retransmission
	requestBlock   *BlockStatus
	responseBlock  *BlockStatus
	block2         *message.BlockOption

	observe        bool
	onNotification func(*Exchange, *Message)

	terminated atomic.Bool
	complete   bool
	failed     bool
	err        error
	done       chan struct{}
	onDone     fn.FuncList[*Exchange]

	ready      chan struct{}
	readySet   bool
	readyResp  *Message
	readyError error
}

// New creates an exchange for the request.
func New(origin Origin, request *Message) *Exchange {
	return &Exchange{
		origin:         origin,
		remote:         request.RemoteAddr,
		created:        time.Now(),
		request:        request,
		currentRequest: request,
		done:           make(chan struct{}),
		ready:          make(chan struct{}),
	}
}

func (e *Exchange) Origin() Origin { return e.origin }

// Remote returns the address of the peer.
func (e *Exchange) Remote() *net.UDPAddr { return e.remote }

func (e *Exchange) Created() time.Time { return e.created }

// Request returns the whole request: as submitted for local exchanges, as
// reassembled for remote ones.
func (e *Exchange) Request() *Message { return e.request }

func (e *Exchange) SetRequest(r *Message) { e.request = r }

// CurrentRequest returns the request message in flight (a block of Request
// during block-wise transfers).
func (e *Exchange) CurrentRequest() *Message { return e.currentRequest }

func (e *Exchange) SetCurrentRequest(r *Message) { e.currentRequest = r }

// Response returns the last whole response.
func (e *Exchange) Response() *Message { return e.response }

func (e *Exchange) SetResponse(r *Message) { e.response = r }

// CurrentResponse returns the response message in flight.
func (e *Exchange) CurrentResponse() *Message { return e.currentResponse }

func (e *Exchange) SetCurrentResponse(r *Message) { e.currentResponse = r }

func (e *Exchange) Retransmission() *Retransmission { return &e.retransmission }

// RequestBlock is the transfer state of the request body.
func (e *Exchange) RequestBlock() *BlockStatus { return e.requestBlock }

func (e *Exchange) SetRequestBlock(s *BlockStatus) { e.requestBlock = s }

// ResponseBlock is the transfer state of the response body.
func (e *Exchange) ResponseBlock() *BlockStatus { return e.responseBlock }

func (e *Exchange) SetResponseBlock(s *BlockStatus) { e.responseBlock = s }

// RequestedBlock2 is the Block2 option of a received request asking for a
// specific block or size of the response.
func (e *Exchange) RequestedBlock2() *message.BlockOption { return e.block2 }

func (e *Exchange) SetRequestedBlock2(b *message.BlockOption) { e.block2 = b }

// IsObserve reports whether the exchange is an observe relation.
func (e *Exchange) IsObserve() bool { return e.observe }

func (e *Exchange) SetObserve(v bool) { e.observe = v }

// SetNotificationHandler sets the function called with every response of an
// observe relation.
func (e *Exchange) SetNotificationHandler(h func(*Exchange, *Message)) { e.onNotification = h }

// IsFinalResponse reports whether sending or receiving resp ends the exchange.
func (e *Exchange) IsFinalResponse(resp *Message) bool {
	if resp.Code == codes.Continue {
		return false
	}
	if b, err := resp.Options.Block(message.Block2); err == nil {
		if b.More() {
			return false
		}
		// the last block of a fragmented body ends the exchange like the body
		if s := e.responseBlock; s != nil && s.First != nil {
			resp = s.First
		}
	}
	if e.observe && resp.Code.IsSuccess() && resp.Options.HasOption(message.Observe) {
		return false
	}
	return true
}

// Notify delivers a response of an observe relation without ending it.
func (e *Exchange) Notify(resp *Message) {
	e.response = resp
	e.markReady(resp, nil)
	if e.onNotification != nil {
		e.onNotification(e, resp)
	}
}

// AddOnDone registers f to run once the exchange reached its outcome.
// Callbacks run on the executor in the order they were added.
func (e *Exchange) AddOnDone(f func(*Exchange)) { e.onDone.Add(f) }

// Complete ends the exchange successfully. It reports false when the
// exchange has already ended.
func (e *Exchange) Complete(resp *Message) bool {
	return e.finish(resp, nil)
}

// Fail ends the exchange with err. It reports false when the exchange has
// already ended.
func (e *Exchange) Fail(err error) bool {
	return e.finish(nil, err)
}

// Cancel ends the exchange with ErrCanceled and cancels the message in
// flight.
func (e *Exchange) Cancel() bool {
	if e.currentRequest != nil && e.origin == Local {
		e.currentRequest.Cancel()
	}
	if e.currentResponse != nil && e.origin == Remote {
		e.currentResponse.Cancel()
	}
	return e.finish(nil, ErrCanceled)
}

func (e *Exchange) finish(resp *Message, err error) bool {
	if !e.terminated.CompareAndSwap(false, true) {
		return false
	}
	if err != nil {
		e.failed = true
		e.err = err
	} else {
		e.complete = true
		if resp != nil {
			e.response = resp
		}
	}
	e.retransmission.cancelTimer()
	e.markReady(resp, err)
	close(e.done)
	e.onDone.Execute(e)
	return true
}

func (e *Exchange) markReady(resp *Message, err error) {
	if e.readySet {
		return
	}
	e.readySet = true
	e.readyResp = resp
	e.readyError = err
	close(e.ready)
}

// IsDone reports whether the exchange ended. Safe for concurrent use.
func (e *Exchange) IsDone() bool { return e.terminated.Load() }

func (e *Exchange) IsComplete() bool { return e.complete }

func (e *Exchange) IsFailed() bool { return e.failed }

// Err returns the failure. Safe for concurrent use after Done is closed.
func (e *Exchange) Err() error { return e.err }

// Done is closed when the exchange ended.
func (e *Exchange) Done() <-chan struct{} { return e.done }

// Wait blocks until the first response or the failure of the exchange. An
// expired ctx releases the caller only, the exchange keeps running.
func (e *Exchange) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-e.ready:
		if e.readyError != nil {
			return nil, e.readyError
		}
		return e.readyResp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
