package layer

import (
	"testing"

	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	Base
	calls []string
}

func (r *recorder) SendRequest(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "SendRequest")
}

func (r *recorder) SendResponse(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "SendResponse")
}

func (r *recorder) SendEmptyMessage(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "SendEmptyMessage")
}

func (r *recorder) ReceiveRequest(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "ReceiveRequest")
}

func (r *recorder) ReceiveResponse(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "ReceiveResponse")
}

func (r *recorder) ReceiveEmptyMessage(*exchange.Exchange, *exchange.Message) {
	r.calls = append(r.calls, "ReceiveEmptyMessage")
}

func TestBasePassThrough(t *testing.T) {
	top := &recorder{}
	mid := &Base{}
	bottom := &recorder{}
	Link(top, mid, bottom)
	require.Equal(t, bottom, mid.Lower())
	require.Equal(t, top, mid.Upper())

	req := exchange.NewRequest(codes.GET, nil)
	ex := exchange.New(exchange.Local, req)

	mid.SendRequest(ex, req)
	mid.SendResponse(ex, req)
	mid.SendEmptyMessage(ex, req)
	mid.ReceiveRequest(ex, req)
	mid.ReceiveResponse(ex, req)
	mid.ReceiveEmptyMessage(ex, req)

	require.Equal(t, []string{"SendRequest", "SendResponse", "SendEmptyMessage"}, bottom.calls)
	require.Equal(t, []string{"ReceiveRequest", "ReceiveResponse", "ReceiveEmptyMessage"}, top.calls)
}
