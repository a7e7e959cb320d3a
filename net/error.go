package net

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

type Error string

func (e Error) Error() string { return string(e) }

const ErrServerClosed = Error("listen socket was closed")

var (
	ErrConnectionIsClosed = io.EOF
	ErrWriteInterrupted   = errors.New("only part data was written to socket")
	ErrSendQueueFull      = errors.New("send queue is full")
	ErrInvalidRemoteAddr  = errors.New("invalid remote address")
)

// IsCancelOrCloseError reports whether err comes from a canceled context or a closed socket.
func IsCancelOrCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
