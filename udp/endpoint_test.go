package udp

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/observation"
	"github.com/plgd-dev/go-coap-engine/net/responsewriter"
	"github.com/plgd-dev/go-coap-engine/options/config"
	"github.com/plgd-dev/go-coap-engine/test/pipe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const waitTimeout = 5 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AckTimeout = 50 * time.Millisecond
	cfg.AckRandomFactor = 1
	cfg.SweepInterval = 10 * time.Millisecond
	return cfg
}

func newTestEndpoint(t *testing.T, c *pipe.Connector, cfg Config) *Endpoint {
	cfg.Connector = c
	if cfg.Config == (config.Config{}) {
		cfg.Config = testConfig()
	}
	cfg.MetricsRegisterer = prometheus.NewRegistry()
	cfg.Errors = func(err error) { t.Log(err) }
	ep, err := NewEndpoint(cfg)
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Close may win the race with Serve when a test ends early
		if err := ep.Serve(context.Background()); !errors.Is(err, exchange.ErrEndpointClosed) {
			assert.NoError(t, err)
		}
	}()
	t.Cleanup(func() {
		assert.NoError(t, ep.Close())
		wg.Wait()
	})
	return ep
}

// newTestPair returns a client on side A and a server on side B of a pipe.
func newTestPair(t *testing.T, client, server Config) (*pipe.Pipe, *Endpoint, *Endpoint) {
	p := pipe.New()
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p, newTestEndpoint(t, p.A(), client), newTestEndpoint(t, p.B(), server)
}

func echoHandler(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
	w.SetResponse(codes.Content, message.TextPlain, append([]byte("echo:"), r.Payload...))
}

func TestEndpointPiggybackedResponse(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{Handler: echoHandler})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	resp, err := client.Post(ctx, p.A().Peer(), "/echo", message.TextPlain, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
	assert.Equal(t, message.Acknowledgement, resp.Type)
	assert.Equal(t, []byte("echo:hello"), resp.Payload)
	cf, err := resp.Options.ContentFormat()
	require.NoError(t, err)
	assert.Equal(t, uint32(message.TextPlain), cf)

	resp, err = client.Get(ctx, p.A().Peer(), "/missing")
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
}

func TestEndpointDefaultHandler(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	resp, err := client.Get(ctx, p.A().Peer(), "/a")
	require.NoError(t, err)
	assert.Equal(t, codes.NotFound, resp.Code)
	assert.Empty(t, resp.Payload)
}

func TestEndpointSeparateResponse(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			ep := w.ClientConn()
			ex := w.Exchange()
			assert.NoError(t, ep.Accept(ex))
			go func() {
				time.Sleep(20 * time.Millisecond)
				resp := exchange.NewResponse(codes.Changed)
				resp.Payload = []byte("later")
				assert.NoError(t, ep.SendResponse(ex, resp))
			}()
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	resp, err := client.Post(ctx, p.A().Peer(), "/slow", message.AppOctets, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, codes.Changed, resp.Code)
	assert.Equal(t, message.Confirmable, resp.Type)
	assert.Equal(t, []byte("later"), resp.Payload)
}

func TestEndpointDuplicateRequest(t *testing.T) {
	var calls atomic.Int32
	p, client, server := newTestPair(t, Config{}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			calls.Inc()
			echoHandler(w, r)
		},
	})
	var dropped atomic.Bool
	p.B().SetDrop(func([]byte) bool {
		return dropped.CompareAndSwap(false, true)
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	resp, err := client.Post(ctx, p.A().Peer(), "/once", message.TextPlain, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:x"), resp.Payload)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, p.A().Sent())
	assert.InDelta(t, 1, testutil.ToFloat64(server.Metrics().Duplicates), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(client.Metrics().Retransmissions), 0)
}

func TestEndpointBlockwiseUpload(t *testing.T) {
	cfg := testConfig()
	cfg.BlockSize = 16
	var body []byte
	p, client, _ := newTestPair(t, Config{Config: cfg}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			body = r.Payload
			w.SetResponse(codes.Changed, message.TextPlain, []byte("stored"))
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	payload := bytes.Repeat([]byte("0123456789"), 10)
	resp, err := client.Post(ctx, p.A().Peer(), "/upload", message.AppOctets, payload)
	require.NoError(t, err)
	assert.Equal(t, codes.Changed, resp.Code)
	assert.Equal(t, []byte("stored"), resp.Payload)
	assert.Equal(t, payload, body)
	// 100 bytes in 16 byte blocks
	assert.Equal(t, 7, p.A().Sent())
}

func TestEndpointBlockwiseDownload(t *testing.T) {
	cfg := testConfig()
	cfg.BlockSize = 32
	payload := bytes.Repeat([]byte("abcdefghij"), 20)
	p, client, server := newTestPair(t, Config{}, Config{
		Config: cfg,
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			w.SetResponse(codes.Content, message.AppOctets, payload)
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	resp, err := client.Get(ctx, p.A().Peer(), "/large")
	require.NoError(t, err)
	assert.Equal(t, codes.Content, resp.Code)
	assert.Equal(t, payload, resp.Payload)
	assert.False(t, resp.Options.HasOption(message.Block2))
	// 200 bytes in 32 byte blocks
	assert.Equal(t, 7, p.B().Sent())
	assert.InDelta(t, 1, testutil.ToFloat64(server.Metrics().BlockTransfers.WithLabelValues("block2", "success")), 0)
}

func TestEndpointObserve(t *testing.T) {
	var registry *observation.Registry
	registered := make(chan struct{}, 1)
	p, client, server := newTestPair(t, Config{}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			resp := exchange.NewResponse(codes.Content)
			resp.Payload = []byte("0")
			if seq, ok := registry.Register("/obs", w.Exchange()); ok {
				resp.Options = resp.Options.SetObserve(seq)
				registered <- struct{}{}
			}
			w.SetMessage(resp)
		},
	})
	registry = observation.NewRegistry(server)

	notifications := make(chan string, 10)
	req, err := NewRequest(codes.GET, p.A().Peer(), "/obs")
	require.NoError(t, err)
	ex, err := client.Observe(req, func(_ *exchange.Exchange, resp *exchange.Message) {
		notifications <- string(resp.Payload)
	})
	require.NoError(t, err)

	receive := func() string {
		select {
		case v := <-notifications:
			return v
		case <-time.After(waitTimeout):
			require.FailNow(t, "notification not received")
			return ""
		}
	}
	<-registered
	assert.Equal(t, "0", receive())

	for _, v := range []string{"1", "2"} {
		n := registry.Notify("/obs", func() *exchange.Message {
			resp := exchange.NewResponse(codes.Content)
			resp.Payload = []byte(v)
			return resp
		})
		assert.Equal(t, 1, n)
		assert.Equal(t, v, receive())
	}
	assert.False(t, ex.IsDone())

	// a response without the observe option ends the relation
	n := registry.Notify("/obs", func() *exchange.Message {
		return exchange.NewResponse(codes.NotFound)
	})
	assert.Equal(t, 1, n)
	receive()
	select {
	case <-ex.Done():
	case <-time.After(waitTimeout):
		require.FailNow(t, "observation did not end")
	}
	assert.True(t, ex.IsComplete())
	assert.Equal(t, codes.NotFound, ex.Response().Code)
	require.Eventually(t, func() bool {
		return registry.Len("/obs") == 0
	}, waitTimeout, 10*time.Millisecond)
}

func TestEndpointPing(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, client.Ping(ctx, p.A().Peer()))
	assert.Equal(t, 1, p.B().Sent())
}

func TestEndpointRetransmissionExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 20 * time.Millisecond
	cfg.MaxRetransmit = 2
	failures := make(chan error, 2)
	p, client, _ := newTestPair(t, Config{
		Config: cfg,
		FailureHandler: func(_ *exchange.Exchange, err error) {
			failures <- err
		},
	}, Config{})
	p.A().SetDrop(func([]byte) bool { return true })
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := client.Get(ctx, p.A().Peer(), "/lost")
	require.ErrorIs(t, err, exchange.ErrRetransmissionExhausted)
	assert.Equal(t, 3, p.A().Sent())
	select {
	case err := <-failures:
		require.ErrorIs(t, err, exchange.ErrRetransmissionExhausted)
	case <-time.After(waitTimeout):
		require.FailNow(t, "failure handler not called")
	}
	assert.InDelta(t, 1, testutil.ToFloat64(client.Metrics().Timeouts), 0)
	select {
	case err := <-failures:
		require.FailNow(t, "failure handler called twice", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEndpointMalformedDatagram(t *testing.T) {
	p, client, server := newTestPair(t, Config{}, Config{Handler: echoHandler})
	require.NoError(t, p.A().Send(coapNet.RawData{Data: []byte{0x40}, RemoteAddr: p.A().Peer()}))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(server.Metrics().Malformed) == 1
	}, waitTimeout, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	resp, err := client.Post(ctx, p.A().Peer(), "/", message.TextPlain, []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:ok"), resp.Payload)
}

func TestEndpointCancelDo(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{})
	p.A().SetDrop(func([]byte) bool { return true })
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, p.A().Peer(), "/lost")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	sent := p.A().Sent()
	time.Sleep(100 * time.Millisecond)
	// canceled requests are not retransmitted
	assert.Equal(t, sent, p.A().Sent())
}

func TestEndpointClose(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{})
	p.A().SetDrop(func([]byte) bool { return true })
	done := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), p.A().Peer(), "/pending")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return p.A().Sent() > 0
	}, waitTimeout, time.Millisecond)
	require.NoError(t, client.Close())
	select {
	case err := <-done:
		require.ErrorIs(t, err, exchange.ErrEndpointClosed)
	case <-time.After(waitTimeout):
		require.FailNow(t, "pending request not released")
	}
	_, err := client.SendRequest(exchange.NewRequest(codes.GET, p.A().Peer()))
	require.ErrorIs(t, err, exchange.ErrEndpointClosed)
	require.ErrorIs(t, client.Serve(context.Background()), exchange.ErrEndpointClosed)
}

func TestEndpointInvalidRequests(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{})
	_, err := client.SendRequest(exchange.NewResponse(codes.Content))
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = client.SendRequest(exchange.NewRequest(codes.GET, nil))
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = client.Observe(exchange.NewRequest(codes.POST, p.A().Peer()), nil)
	require.ErrorIs(t, err, ErrInvalidRequest)
	ex := exchange.New(exchange.Local, exchange.NewRequest(codes.GET, p.A().Peer()))
	require.ErrorIs(t, client.SendResponse(ex, exchange.NewResponse(codes.Content)), ErrInvalidResponse)
}

func TestNewEndpointInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.AckTimeout = 0
	p := pipe.New()
	defer func() {
		_ = p.Close()
	}()
	_, err := NewEndpoint(Config{Connector: p.A(), Config: cfg})
	require.ErrorIs(t, err, ErrInvalidEndpointConfig)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestEndpointLimitParallelRequests(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	p, client, _ := newTestPair(t, Config{LimitClientEndpointParallelRequests: 1}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			n := inFlight.Inc()
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Dec()
			echoHandler(w, r)
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Get(ctx, p.A().Peer(), "/limited")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

type countingInterceptor struct {
	sent     atomic.Int32
	received atomic.Int32
}

func (c *countingInterceptor) SendMessage(*exchange.Message)    { c.sent.Inc() }
func (c *countingInterceptor) ReceiveMessage(*exchange.Message) { c.received.Inc() }

func TestEndpointInterceptors(t *testing.T) {
	var ic countingInterceptor
	p, client, _ := newTestPair(t, Config{Interceptors: []Interceptor{&ic}}, Config{Handler: echoHandler})
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := client.Get(ctx, p.A().Peer(), "/a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), ic.sent.Load())
	assert.Equal(t, int32(1), ic.received.Load())
}

// dropPath cancels every message carrying the Uri-Path path.
type dropPath struct {
	path     string
	outbound bool
}

func (d dropPath) drop(m *exchange.Message) {
	if p, err := m.Options.Path(); err == nil && p == d.path {
		m.Cancel()
	}
}

func (d dropPath) SendMessage(m *exchange.Message) {
	if d.outbound {
		d.drop(m)
	}
}

func (d dropPath) ReceiveMessage(m *exchange.Message) {
	if !d.outbound {
		d.drop(m)
	}
}

func TestEndpointInterceptorDropsReceived(t *testing.T) {
	var calls atomic.Int32
	p, client, _ := newTestPair(t, Config{}, Config{
		Interceptors: []Interceptor{dropPath{path: "/drop"}},
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			calls.Inc()
			echoHandler(w, r)
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, p.A().Peer(), "/drop")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, p.B().Sent())

	ctx, cancel = context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err = client.Get(ctx, p.A().Peer(), "/a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndpointInterceptorDropsSent(t *testing.T) {
	var calls atomic.Int32
	p, client, _ := newTestPair(t, Config{
		Interceptors: []Interceptor{dropPath{path: "/drop", outbound: true}},
	}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], r *exchange.Message) {
			calls.Inc()
			echoHandler(w, r)
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, p.A().Peer(), "/drop")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, p.A().Sent())
	assert.Equal(t, int32(0), calls.Load())
}

func TestEndpointServeAfterClose(t *testing.T) {
	p := pipe.New()
	defer func() {
		_ = p.Close()
	}()
	cfg := Config{Connector: p.A(), Config: testConfig(), MetricsRegisterer: prometheus.NewRegistry()}
	ep, err := NewEndpoint(cfg)
	require.NoError(t, err)
	require.NoError(t, ep.Close())
	require.ErrorIs(t, ep.Serve(context.Background()), exchange.ErrEndpointClosed)
}

func TestEndpointCancelRejectsLateResponse(t *testing.T) {
	p, client, _ := newTestPair(t, Config{}, Config{
		Handler: func(w *responsewriter.ResponseWriter[*Endpoint], _ *exchange.Message) {
			ep := w.ClientConn()
			ex := w.Exchange()
			assert.NoError(t, ep.Accept(ex))
			go func() {
				time.Sleep(100 * time.Millisecond)
				assert.NoError(t, ep.SendResponse(ex, exchange.NewResponse(codes.Content)))
			}()
		},
	})
	var resets atomic.Int32
	p.A().SetDrop(func(data []byte) bool {
		if message.Type(data[0]>>4&0x3) == message.Reset {
			resets.Inc()
		}
		return false
	})
	req, err := NewRequest(codes.GET, p.A().Peer(), "/late")
	require.NoError(t, err)
	ex, err := client.SendRequest(req)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, client.Cancel(ex))
	<-ex.Done()
	require.ErrorIs(t, ex.Err(), exchange.ErrCanceled)
	require.Eventually(t, func() bool {
		return resets.Load() >= 1
	}, waitTimeout, 10*time.Millisecond)
}
