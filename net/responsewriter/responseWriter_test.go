package responsewriter

import (
	"testing"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/stretchr/testify/require"
)

func TestResponseWriterSetResponse(t *testing.T) {
	ex := exchange.New(exchange.Remote, exchange.NewRequest(codes.GET, nil))
	w := New(ex, "endpoint")
	require.Nil(t, w.Message())
	require.Equal(t, ex, w.Exchange())
	require.Equal(t, "endpoint", w.ClientConn())

	w.SetResponse(codes.Content, message.AppJSON, []byte(`{}`), message.Option{ID: message.ETag, Value: []byte{1}})
	resp := w.Message()
	require.Equal(t, codes.Content, resp.Code)
	require.Equal(t, []byte(`{}`), resp.Payload)
	cf, err := resp.Options.ContentFormat()
	require.NoError(t, err)
	require.Equal(t, uint32(message.AppJSON), cf)
	require.True(t, resp.Options.HasOption(message.ETag))

	w.SetResponse(codes.Deleted, message.TextPlain, nil)
	require.False(t, w.Message().Options.HasOption(message.ContentFormat))

	m := exchange.NewResponse(codes.Valid)
	w.SetMessage(m)
	require.Equal(t, m, w.Message())
}
