package message

import (
	"fmt"

	"github.com/plgd-dev/go-coap-engine/message/codes"
)

type Message struct {
	Token   Token
	Options Options
	Code    codes.Code
	Payload []byte

	MessageID int32 // uint16 is valid, all other values are invalid, -1 is used for unset
	Type      Type  // uint8 is valid, all other values are invalid, -1 is used for unset
}

// Clone returns a deep copy of the message.
func (r Message) Clone() Message {
	c := r
	if r.Token != nil {
		c.Token = append(Token{}, r.Token...)
	}
	c.Options = r.Options.Clone()
	if r.Payload != nil {
		c.Payload = append([]byte{}, r.Payload...)
	}
	return c
}

func (r *Message) String() string {
	if r == nil {
		return "nil"
	}
	buf := fmt.Sprintf("Code: %v, Token: %v", r.Code, r.Token)
	if path, err := r.Options.Path(); err == nil {
		buf = fmt.Sprintf("%s, Path: %v", buf, path)
	}
	if ValidateType(r.Type) {
		buf = fmt.Sprintf("%s, Type: %v", buf, r.Type)
	}
	if ValidateMID(r.MessageID) {
		buf = fmt.Sprintf("%s, MessageID: %v", buf, r.MessageID)
	}
	if b, err := r.Options.Block(Block1); err == nil {
		buf = fmt.Sprintf("%s, Block1: %v", buf, b)
	}
	if b, err := r.Options.Block(Block2); err == nil {
		buf = fmt.Sprintf("%s, Block2: %v", buf, b)
	}
	if obs, err := r.Options.Observe(); err == nil {
		buf = fmt.Sprintf("%s, Observe: %v", buf, obs)
	}
	if len(r.Payload) > 0 {
		buf = fmt.Sprintf("%s, PayloadLen: %v", buf, len(r.Payload))
	}
	return buf
}
