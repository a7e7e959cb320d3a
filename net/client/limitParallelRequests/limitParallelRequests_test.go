package limitparallelrequests

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var peer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5683}

func newReq(t *testing.T, path string) *exchange.Message {
	m := exchange.NewRequest(codes.GET, peer)
	var err error
	m.Options, err = m.Options.SetPath(path)
	require.NoError(t, err)
	return m
}

type mockClient struct {
	num      atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *mockClient) do(context.Context, *exchange.Message) (*exchange.Message, error) {
	c.num.Inc()
	n := c.inFlight.Inc()
	for {
		m := c.maxSeen.Load()
		if n <= m || c.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	c.inFlight.Dec()
	return nil, errors.New("not implemented")
}

func TestLimitParallelRequestsDo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*8)
	defer cancel()
	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()

	tests := []struct {
		name          string
		limit         int64
		endpointLimit int64
		paths         []string
		canceled      bool
		maxInFlight   int32
	}{
		{name: "limit 1 endpointLimit 1", limit: 1, endpointLimit: 1, paths: []string{"/a"}, maxInFlight: 1},
		{name: "limit n endpointLimit 1", endpointLimit: 1, paths: []string{"/a"}, maxInFlight: 1},
		{name: "limit 1 endpointLimit n", limit: 1, paths: []string{"/a", "/b"}, maxInFlight: 1},
		{name: "limit 2 endpointLimit 1", limit: 2, endpointLimit: 1, paths: []string{"/a", "/b", "/c"}, maxInFlight: 2},
		{name: "limit n endpointLimit n", paths: []string{"/a"}},
		{name: "context canceled", limit: 1, endpointLimit: 1, paths: []string{"/a"}, canceled: true, maxInFlight: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mockedClient mockClient
			c := New(tt.limit, tt.endpointLimit, mockedClient.do)
			var wg sync.WaitGroup
			const n = 24
			wg.Add(n)
			for i := 0; i < n; i++ {
				reqCtx := ctx
				if tt.canceled && i%3 == 1 {
					reqCtx = canceledCtx
				}
				go func(r *exchange.Message) {
					defer wg.Done()
					_, err := c.Do(reqCtx, r)
					assert.Error(t, err)
				}(newReq(t, tt.paths[i%len(tt.paths)]))
			}
			wg.Wait()
			require.GreaterOrEqual(t, int32(n), mockedClient.num.Load())
			if !tt.canceled {
				require.Equal(t, int32(n), mockedClient.num.Load())
			}
			if tt.maxInFlight > 0 {
				require.LessOrEqual(t, mockedClient.maxSeen.Load(), tt.maxInFlight)
			}
			require.Equal(t, 0, c.Len())
		})
	}
}

func TestHashDistinguishesResources(t *testing.T) {
	require.Equal(t, hash(newReq(t, "/a/b")), hash(newReq(t, "/a/b")))
	require.NotEqual(t, hash(newReq(t, "/a/b")), hash(newReq(t, "/ab")))
	other := newReq(t, "/a/b")
	other.RemoteAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5684}
	require.NotEqual(t, hash(newReq(t, "/a/b")), hash(other))
}
