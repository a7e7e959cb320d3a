// Package responsewriter lets a request handler build the response of an
// exchange.
package responsewriter

import (
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
)

// A ResponseWriter is used by a CoAP handler to construct a CoAP response.
type ResponseWriter[Client any] struct {
	ex       *exchange.Exchange
	response *exchange.Message
	cc       Client
}

func New[Client any](ex *exchange.Exchange, cc Client) *ResponseWriter[Client] {
	return &ResponseWriter[Client]{
		ex: ex,
		cc: cc,
	}
}

// SetResponse simplifies the setup of the response for the request. ETags
// must be set via options. For advanced setup, use SetMessage.
func (r *ResponseWriter[Client]) SetResponse(code codes.Code, contentFormat message.MediaType, payload []byte, opts ...message.Option) {
	resp := exchange.NewResponse(code)
	for _, o := range opts {
		resp.Options = resp.Options.Add(o)
	}
	if payload != nil {
		resp.Options = resp.Options.SetContentFormat(uint32(contentFormat))
		resp.Payload = payload
	}
	r.response = resp
}

// SetMessage replaces the response message. Token and message ID are
// assigned by the endpoint.
func (r *ResponseWriter[Client]) SetMessage(m *exchange.Message) {
	r.response = m
}

// Message returns the response, nil when the handler did not set one.
func (r *ResponseWriter[Client]) Message() *exchange.Message {
	return r.response
}

func (r *ResponseWriter[Client]) Exchange() *exchange.Exchange {
	return r.ex
}

// ClientConn returns the endpoint the request arrived on.
func (r *ResponseWriter[Client]) ClientConn() Client {
	return r.cc
}
