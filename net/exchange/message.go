package exchange

import (
	"net"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"go.uber.org/atomic"
)

// Kind distinguishes requests, responses and empty messages.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	default:
		return "Empty"
	}
}

// Message is a wire message on its way through the stack. The outcome flags
// are set at most once.
type Message struct {
	message.Message
	// RemoteAddr is the destination of outbound and the source of inbound
	// messages.
	RemoteAddr *net.UDPAddr
	// ControlMessage carries the local interface of an inbound message or
	// the source to use for an outbound one.
	ControlMessage *coapNet.ControlMessage

	canceled     atomic.Bool
	rejected     atomic.Bool
	timedOut     atomic.Bool
	acknowledged atomic.Bool
}

func NewMessage(m message.Message, raddr *net.UDPAddr) *Message {
	return &Message{Message: m, RemoteAddr: raddr}
}

// NewRequest creates a request; type and message id are assigned by the stack.
func NewRequest(code codes.Code, raddr *net.UDPAddr) *Message {
	return NewMessage(message.Message{
		Code:      code,
		MessageID: -1,
		Type:      message.Unset,
	}, raddr)
}

// NewResponse creates a response; type, message id and token are assigned
// by the stack.
func NewResponse(code codes.Code) *Message {
	return NewMessage(message.Message{
		Code:      code,
		MessageID: -1,
		Type:      message.Unset,
	}, nil)
}

// NewEmpty creates an empty ACK, RST or ping message.
func NewEmpty(typ message.Type, mid int32, raddr *net.UDPAddr) *Message {
	return NewMessage(message.Message{
		Code:      codes.Empty,
		MessageID: mid,
		Type:      typ,
	}, raddr)
}

// Clone copies the wire message and the addresses, the outcome flags are
// not copied.
func (m *Message) Clone() *Message {
	c := NewMessage(m.Message.Clone(), m.RemoteAddr)
	c.ControlMessage = m.ControlMessage
	return c
}

func (m *Message) Kind() Kind {
	switch {
	case m.Code.IsRequest():
		return KindRequest
	case m.Code == codes.Empty:
		return KindEmpty
	default:
		return KindResponse
	}
}

// IsPing reports whether the message is an empty confirmable message.
func (m *Message) IsPing() bool {
	return m.Code == codes.Empty && m.Type == message.Confirmable
}

// Cancel marks the message canceled; it is not handed to the transport anymore.
func (m *Message) Cancel() bool { return m.canceled.CompareAndSwap(false, true) }

func (m *Message) IsCanceled() bool { return m.canceled.Load() }

func (m *Message) SetRejected() bool { return m.rejected.CompareAndSwap(false, true) }

func (m *Message) IsRejected() bool { return m.rejected.Load() }

func (m *Message) SetTimedOut() bool { return m.timedOut.CompareAndSwap(false, true) }

func (m *Message) IsTimedOut() bool { return m.timedOut.Load() }

func (m *Message) SetAcknowledged() bool { return m.acknowledged.CompareAndSwap(false, true) }

func (m *Message) IsAcknowledged() bool { return m.acknowledged.Load() }

func (m *Message) String() string {
	if m == nil {
		return "nil"
	}
	s := m.Message.String()
	if m.RemoteAddr != nil {
		s += ", Remote: " + m.RemoteAddr.String()
	}
	return s
}
