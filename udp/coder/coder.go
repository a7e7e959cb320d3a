package coder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
)

var DefaultCoder = new(Coder)

// Coder encodes and decodes messages for UDP.
type Coder struct {
	// Strict rejects messages carrying an unknown critical option instead of
	// dropping the option.
	Strict bool
	// OptionDefs are the recognized options, CoapOptionDefs when nil.
	OptionDefs map[message.OptionID]message.OptionDef
}

func (c *Coder) optionDefs() map[message.OptionID]message.OptionDef {
	if c.OptionDefs == nil {
		return message.CoapOptionDefs
	}
	return c.OptionDefs
}

func (c *Coder) Size(m message.Message) (int, error) {
	if len(m.Token) > message.MaxTokenSize {
		return -1, message.ErrInvalidTokenLen
	}
	size := 4 + len(m.Token)
	payloadLen := len(m.Payload)
	optionsLen, err := m.Options.Marshal(nil)
	if err != nil && !errors.Is(err, message.ErrTooSmall) {
		return -1, err
	}
	if payloadLen > 0 {
		// for separator 0xff
		payloadLen++
	}
	size += payloadLen + optionsLen
	return size, nil
}

func (c *Coder) Encode(m message.Message, buf []byte) (int, error) {
	/*
	     0                   1                   2                   3
	    0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	   |Ver| T |  TKL  |      Code     |          Message ID           |
	   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	   |   Token (if any, TKL bytes) ...
	   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	   |   Options (if any) ...
	   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	   |1 1 1 1 1 1 1 1|    Payload (if any) ...
	   +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	*/
	if !message.ValidateMID(m.MessageID) {
		return -1, fmt.Errorf("invalid MessageID(%v)", m.MessageID)
	}
	if !message.ValidateType(m.Type) {
		return -1, fmt.Errorf("invalid Type(%v)", m.Type)
	}
	size, err := c.Size(m)
	if err != nil {
		return -1, err
	}
	if len(buf) < size {
		return size, message.ErrTooSmall
	}

	buf[0] = (1 << 6) | byte(m.Type)<<4 | byte(0xf&len(m.Token))
	buf[1] = byte(m.Code)
	binary.BigEndian.PutUint16(buf[2:4], uint16(m.MessageID))
	buf = buf[4:]

	copy(buf, m.Token)
	buf = buf[len(m.Token):]

	optionsLen, err := m.Options.Marshal(buf)
	if err != nil {
		return -1, err
	}
	buf = buf[optionsLen:]

	if len(m.Payload) > 0 {
		buf[0] = 0xff
		buf = buf[1:]
	}
	copy(buf, m.Payload)
	return size, nil
}

// Marshal encodes the message into a new buffer.
func (c *Coder) Marshal(m message.Message) ([]byte, error) {
	size, err := c.Size(m)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := c.Encode(m, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
}

// Decode parses data into m. Token, option values and payload reference
// data. Every error wraps ErrMalformedMessage.
func (c *Coder) Decode(data []byte, m *message.Message) (int, error) {
	size := len(data)
	if size < 4 {
		return -1, malformed(ErrMessageTruncated)
	}

	if data[0]>>6 != 1 {
		return -1, malformed(ErrMessageInvalidVersion)
	}

	typ := message.Type((data[0] >> 4) & 0x3)
	tokenLen := int(data[0] & 0xf)
	if tokenLen > message.MaxTokenSize {
		return -1, malformed(message.ErrInvalidTokenLen)
	}

	code := codes.Code(data[1])
	messageID := binary.BigEndian.Uint16(data[2:4])
	data = data[4:]
	if code == codes.Empty && (tokenLen > 0 || len(data) > 0) {
		return -1, malformed(ErrEmptyMessageNotEmpty)
	}
	if len(data) < tokenLen {
		return -1, malformed(ErrMessageTruncated)
	}
	token := data[:tokenLen]
	if len(token) == 0 {
		token = nil
	}
	data = data[tokenLen:]

	m.Options = m.Options[:0]
	proc, err := m.Options.Unmarshal(data, c.optionDefs(), c.Strict)
	if err != nil {
		return -1, malformed(err)
	}
	data = data[proc:]
	if len(data) == 0 {
		data = nil
	}
	if len(m.Options) == 0 {
		m.Options = nil
	}

	m.Payload = data
	m.Code = code
	m.Token = token
	m.Type = typ
	m.MessageID = int32(messageID)

	return size, nil
}
