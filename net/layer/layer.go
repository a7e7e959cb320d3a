// Package layer defines the capability shared by the protocol layers of a stack.
//
// A layer hands outbound messages to its lower layer and inbound messages to
// its upper layer. All calls happen on the endpoint executor.
package layer

import "github.com/plgd-dev/go-coap-engine/net/exchange"

type Layer interface {
	SendRequest(ex *exchange.Exchange, req *exchange.Message)
	SendResponse(ex *exchange.Exchange, resp *exchange.Message)
	SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message)

	ReceiveRequest(ex *exchange.Exchange, req *exchange.Message)
	ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message)
	ReceiveEmptyMessage(ex *exchange.Exchange, msg *exchange.Message)

	SetLowerLayer(l Layer)
	SetUpperLayer(l Layer)
}

var _ Layer = &Base{}

// Base forwards every message unchanged. Layers embed it and override what
// they process.
type Base struct {
	lower Layer
	upper Layer
}

func (b *Base) Lower() Layer { return b.lower }

func (b *Base) Upper() Layer { return b.upper }

func (b *Base) SetLowerLayer(l Layer) { b.lower = l }

func (b *Base) SetUpperLayer(l Layer) { b.upper = l }

func (b *Base) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	b.lower.SendRequest(ex, req)
}

func (b *Base) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	b.lower.SendResponse(ex, resp)
}

func (b *Base) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	b.lower.SendEmptyMessage(ex, msg)
}

func (b *Base) ReceiveRequest(ex *exchange.Exchange, req *exchange.Message) {
	b.upper.ReceiveRequest(ex, req)
}

func (b *Base) ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message) {
	b.upper.ReceiveResponse(ex, resp)
}

func (b *Base) ReceiveEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	b.upper.ReceiveEmptyMessage(ex, msg)
}

// Link connects the layers top to bottom.
func Link(layers ...Layer) {
	for i := 1; i < len(layers); i++ {
		layers[i-1].SetLowerLayer(layers[i])
		layers[i].SetUpperLayer(layers[i-1])
	}
}
