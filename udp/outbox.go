package udp

import (
	"fmt"

	"github.com/plgd-dev/go-coap-engine/net/exchange"
)

// outbox hands messages leaving the stack to the matcher, the codec and the
// connector.
type outbox struct {
	ep *Endpoint
}

func (o *outbox) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	if err := o.ep.matcher.SendRequest(ex, req); err != nil {
		ex.Fail(fmt.Errorf("cannot send request: %w", err))
		return
	}
	o.transmit(ex, req)
}

func (o *outbox) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	o.ep.matcher.SendResponse(ex, resp)
	o.transmit(ex, resp)
}

func (o *outbox) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	o.ep.matcher.SendEmptyMessage(ex, msg)
	o.transmit(ex, msg)
}

func (o *outbox) transmit(ex *exchange.Exchange, msg *exchange.Message) {
	if err := o.ep.transmit(msg); err != nil {
		if ex == nil || !ex.Fail(err) {
			o.ep.cfg.Errors(err)
		}
	}
}
