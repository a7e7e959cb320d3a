package pipe

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan coapNet.RawData, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, p.A().Serve(ctx, func(coapNet.RawData) {}))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, p.B().Serve(ctx, func(d coapNet.RawData) {
			received <- d
		}))
	}()

	p.A().SetDrop(func(data []byte) bool {
		return string(data) == "lost"
	})
	require.NoError(t, p.A().Send(coapNet.RawData{Data: []byte("lost"), RemoteAddr: p.A().Peer()}))
	require.NoError(t, p.A().Send(coapNet.RawData{Data: []byte("hello"), RemoteAddr: p.A().Peer()}))
	require.Error(t, p.A().Send(coapNet.RawData{Data: []byte("x"), RemoteAddr: p.A().LocalAddr().(*net.UDPAddr)}))

	select {
	case d := <-received:
		require.Equal(t, []byte("hello"), d.Data)
		require.Equal(t, p.A().LocalAddr(), d.RemoteAddr)
	case <-time.After(time.Second * 5):
		require.FailNow(t, "datagram not delivered")
	}
	require.Equal(t, 2, p.A().Sent())

	cancel()
	wg.Wait()
	require.NoError(t, p.Close())
	require.ErrorIs(t, p.A().Send(coapNet.RawData{Data: []byte("x"), RemoteAddr: p.A().Peer()}), coapNet.ErrConnectionIsClosed)
}
