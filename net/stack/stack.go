// Package stack composes the protocol layers of an endpoint into one
// pipeline.
//
// Outbound messages enter at the top and leave through the Outbox at the
// bottom; inbound messages enter at the bottom and reach the Deliverer at
// the top.
package stack

import (
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/layer"
)

// Outbox takes the messages leaving the last layer.
type Outbox interface {
	SendRequest(ex *exchange.Exchange, req *exchange.Message)
	SendResponse(ex *exchange.Exchange, resp *exchange.Message)
	SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message)
}

// Deliverer receives the requests and responses passing the first layer.
type Deliverer interface {
	DeliverRequest(ex *exchange.Exchange, req *exchange.Message)
	DeliverResponse(ex *exchange.Exchange, resp *exchange.Message)
}

type nopDeliverer struct{}

func (nopDeliverer) DeliverRequest(*exchange.Exchange, *exchange.Message) {
	// NO-OP
}

func (nopDeliverer) DeliverResponse(*exchange.Exchange, *exchange.Message) {
	// NO-OP
}

type top struct {
	layer.Base
	deliverer Deliverer
}

func (t *top) ReceiveRequest(ex *exchange.Exchange, req *exchange.Message) {
	t.deliverer.DeliverRequest(ex, req)
}

func (t *top) ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message) {
	if ex.IsDone() {
		return
	}
	if ex.IsObserve() && !ex.IsFinalResponse(resp) {
		ex.Notify(resp)
	} else {
		ex.Complete(resp)
	}
	t.deliverer.DeliverResponse(ex, resp)
}

func (t *top) ReceiveEmptyMessage(*exchange.Exchange, *exchange.Message) {
	// outcomes of empty messages are set by the reliability layer
}

type bottom struct {
	layer.Base
	outbox Outbox
}

func (b *bottom) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	b.outbox.SendRequest(ex, req)
}

func (b *bottom) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	b.outbox.SendResponse(ex, resp)
}

func (b *bottom) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	b.outbox.SendEmptyMessage(ex, msg)
}

type Stack struct {
	top    *top
	bottom *bottom
}

// New links layers, ordered from the application down to the network,
// between a top adapter and outbox.
func New(outbox Outbox, layers ...layer.Layer) *Stack {
	s := &Stack{
		top:    &top{deliverer: nopDeliverer{}},
		bottom: &bottom{outbox: outbox},
	}
	all := make([]layer.Layer, 0, len(layers)+2)
	all = append(all, s.top)
	all = append(all, layers...)
	all = append(all, s.bottom)
	layer.Link(all...)
	return s
}

func (s *Stack) SetDeliverer(d Deliverer) {
	if d == nil {
		d = nopDeliverer{}
	}
	s.top.deliverer = d
}

func (s *Stack) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	s.top.SendRequest(ex, req)
}

func (s *Stack) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	s.top.SendResponse(ex, resp)
}

func (s *Stack) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	s.top.SendEmptyMessage(ex, msg)
}

func (s *Stack) ReceiveRequest(ex *exchange.Exchange, req *exchange.Message) {
	s.bottom.ReceiveRequest(ex, req)
}

func (s *Stack) ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message) {
	s.bottom.ReceiveResponse(ex, resp)
}

func (s *Stack) ReceiveEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	s.bottom.ReceiveEmptyMessage(ex, msg)
}
