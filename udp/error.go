package udp

import "errors"

var (
	ErrAlreadyServing  = errors.New("endpoint is already serving")
	ErrMessageTooLarge = errors.New("message exceeds the maximum message size")
	ErrExchangeDone    = errors.New("exchange has already ended")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidResponse = errors.New("invalid response")
)
