package exchange

import "errors"

var (
	// ErrRetransmissionExhausted is reported when a confirmable message was
	// not acknowledged within the retransmission budget.
	ErrRetransmissionExhausted = errors.New("exchange: retransmission exhausted")
	// ErrPeerRejected is reported when the peer answered with RST.
	ErrPeerRejected = errors.New("exchange: rejected by peer")
	// ErrBlockSequence is reported when a block-wise transfer received a
	// block out of order.
	ErrBlockSequence = errors.New("exchange: block sequence error")
	// ErrBlockTransfer is reported when a block-wise transfer could not be
	// continued.
	ErrBlockTransfer = errors.New("exchange: block transfer failed")
	// ErrExchangeExpired is reported when the exchange lifetime elapsed.
	ErrExchangeExpired = errors.New("exchange: lifetime expired")
	// ErrCanceled is the outcome of an exchange canceled by the application.
	ErrCanceled = errors.New("exchange: canceled")
	// ErrTokenInUse is reported when a request reuses the token of another
	// active exchange.
	ErrTokenInUse = errors.New("exchange: token in use")
	// ErrReplaced is reported when a new request replaced the exchange.
	ErrReplaced = errors.New("exchange: replaced")
	// ErrEndpointClosed is reported for exchanges active while the endpoint
	// shuts down.
	ErrEndpointClosed = errors.New("exchange: endpoint closed")
)
