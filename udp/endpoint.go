// Package udp runs the CoAP exchange engine over UDP.
//
// An Endpoint owns one connector, one matcher and one layer stack. All
// protocol state is mutated on the endpoint executor; the exported methods
// are safe for concurrent use.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"github.com/plgd-dev/go-coap-engine/net/blockwise"
	limitparallelrequests "github.com/plgd-dev/go-coap-engine/net/client/limitParallelRequests"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/executor"
	"github.com/plgd-dev/go-coap-engine/net/matcher"
	"github.com/plgd-dev/go-coap-engine/net/monitor/metrics"
	"github.com/plgd-dev/go-coap-engine/net/observation"
	"github.com/plgd-dev/go-coap-engine/net/reliability"
	"github.com/plgd-dev/go-coap-engine/net/responsewriter"
	"github.com/plgd-dev/go-coap-engine/net/stack"
	"github.com/plgd-dev/go-coap-engine/pkg/runner/periodic"
	"github.com/plgd-dev/go-coap-engine/udp/coder"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const closeTimeout = 5 * time.Second

type Endpoint struct {
	cfg       Config
	log       logging.LeveledLogger
	connector coapNet.Connector
	coder     *coder.Coder
	executor  *executor.Executor
	matcher   *matcher.Matcher
	stack     *stack.Stack
	metrics   *metrics.Metrics
	limiter   *limitparallelrequests.LimitParallelRequests

	serving atomic.Bool
	closed  atomic.Bool
	mutex   sync.Mutex
	cancel  context.CancelFunc
}

// NewEndpoint creates an endpoint. Without a Connector in cfg it binds the
// UDP socket cfg.Addr.
func NewEndpoint(cfg Config, opts ...Option) (*Endpoint, error) {
	for _, o := range opts {
		o.UDPEndpointApply(&cfg)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ep := &Endpoint{
		cfg:   cfg,
		log:   cfg.LoggerFactory.NewLogger("coap-endpoint"),
		coder: &coder.Coder{Strict: cfg.Config.StrictOptions},
	}
	if cfg.MetricsRegisterer != nil {
		ep.metrics = metrics.New(cfg.MetricsNamespace, cfg.MetricsRegisterer)
	}
	ep.executor = executor.New(cfg.Config.TaskQueueSize, func(err error) {
		ep.log.Warnf("%v", err)
		cfg.Errors(err)
	})
	ep.matcher = matcher.New(matcher.Config{
		ExchangeLifetime: cfg.Config.ExchangeLifetime,
		LoggerFactory:    cfg.LoggerFactory,
		Metrics:          ep.metrics,
		Resend:           ep.resend,
		GetToken:         cfg.GetToken,
	})
	ep.stack = stack.New(&outbox{ep: ep},
		blockwise.New(blockwise.Config{
			SZX:           cfg.Config.SZX(),
			MaxBodySize:   int(cfg.Config.MaxBodySize),
			LoggerFactory: cfg.LoggerFactory,
			Metrics:       ep.metrics,
		}),
		reliability.New(reliability.Config{
			AckTimeout:      cfg.Config.AckTimeout,
			AckRandomFactor: cfg.Config.AckRandomFactor,
			MaxRetransmit:   cfg.Config.MaxRetransmit,
			Schedule:        ep.schedule,
			LoggerFactory:   cfg.LoggerFactory,
			Metrics:         ep.metrics,
		}),
	)
	ep.stack.SetDeliverer(&deliverer{ep: ep})
	if cfg.LimitClientParallelRequests > 0 || cfg.LimitClientEndpointParallelRequests > 0 {
		ep.limiter = limitparallelrequests.New(cfg.LimitClientParallelRequests, cfg.LimitClientEndpointParallelRequests, ep.do)
	}

	ep.connector = cfg.Connector
	if ep.connector == nil {
		c, err := coapNet.ListenUDP(cfg.Net, cfg.Addr, coapNet.ConnectorConfig{
			MaxMessageSize: int(cfg.Config.MaxMessageSize),
			SendQueueSize:  cfg.Config.SendQueueSize,
			LoggerFactory:  cfg.LoggerFactory,
			Errors:         cfg.Errors,
		})
		if err != nil {
			return nil, err
		}
		ep.connector = c
	}
	return ep, nil
}

func (ep *Endpoint) schedule(d time.Duration, task func()) exchange.Timer {
	return ep.executor.Schedule(d, task)
}

func (ep *Endpoint) LocalAddr() net.Addr {
	return ep.connector.LocalAddr()
}

// Metrics returns the collectors of the endpoint, nil without a
// MetricsRegisterer.
func (ep *Endpoint) Metrics() *metrics.Metrics {
	return ep.metrics
}

// Serve runs the executor, the connector and the exchange sweeper until ctx
// is done or the endpoint is closed.
func (ep *Endpoint) Serve(ctx context.Context) error {
	if ep.closed.Load() {
		return exchange.ErrEndpointClosed
	}
	if !ep.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ep.mutex.Lock()
	ep.cancel = cancel
	ep.mutex.Unlock()

	sweeper := periodic.New(ep.cfg.Config.SweepInterval)
	sweeper.Add(func(now time.Time) bool {
		_ = ep.executor.Execute(func() {
			ep.matcher.Sweep(now)
		})
		return ctx.Err() == nil
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return ep.executor.Run(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return ep.connector.Serve(ctx, ep.HandleDatagram)
	})
	g.Go(func() error {
		defer cancel()
		return sweeper.Run(ctx)
	})
	err := g.Wait()
	if coapNet.IsCancelOrCloseError(err) {
		return nil
	}
	return err
}

// Close stops the endpoint and fails the active exchanges with
// exchange.ErrEndpointClosed.
func (ep *Endpoint) Close() error {
	if !ep.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs *multierror.Error
	failActive := func() {
		for _, ex := range ep.matcher.Clear() {
			ex.Fail(exchange.ErrEndpointClosed)
		}
	}
	err := executor.ErrStopped
	if ep.serving.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = ep.executor.Call(ctx, failActive)
		cancel()
	}
	if errors.Is(err, executor.ErrStopped) {
		// nothing runs on the executor anymore
		failActive()
	} else if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("cannot fail active exchanges: %w", err))
	}
	ep.mutex.Lock()
	if ep.cancel != nil {
		ep.cancel()
	}
	ep.mutex.Unlock()
	ep.executor.Stop()
	if err := ep.connector.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("cannot close connector: %w", err))
	}
	return errs.ErrorOrNil()
}

// run queues f on the executor.
func (ep *Endpoint) run(f func()) error {
	if ep.closed.Load() {
		return exchange.ErrEndpointClosed
	}
	if err := ep.executor.Execute(f); err != nil {
		return fmt.Errorf("%w: %w", exchange.ErrEndpointClosed, err)
	}
	return nil
}

func (ep *Endpoint) goPool(f func()) {
	if err := ep.cfg.GoPool(f); err != nil {
		ep.cfg.Errors(fmt.Errorf("cannot run handler: %w", err))
	}
}

// watch reports the failure of ex to the FailureHandler.
func (ep *Endpoint) watch(ex *exchange.Exchange) {
	ex.AddOnDone(func(e *exchange.Exchange) {
		if !e.IsFailed() || errors.Is(e.Err(), exchange.ErrCanceled) {
			return
		}
		err := e.Err()
		ep.goPool(func() {
			ep.cfg.FailureHandler(e, err)
		})
	})
}

// wait is Exchange.Wait released as well by the end of the endpoint.
func (ep *Endpoint) wait(ctx context.Context, ex *exchange.Exchange) (*exchange.Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ep.executor.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	resp, err := ex.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		select {
		case <-ep.executor.Done():
			return nil, exchange.ErrEndpointClosed
		default:
		}
	}
	return resp, err
}

// HandleDatagram processes a datagram received by the connector.
func (ep *Endpoint) HandleDatagram(d coapNet.RawData) {
	if err := ep.executor.Execute(func() {
		ep.receive(d)
	}); err != nil {
		ep.log.Debugf("dropping datagram from %v: %v", d.RemoteAddr, err)
	}
}

func (ep *Endpoint) receive(d coapNet.RawData) {
	var m message.Message
	if _, err := ep.coder.Decode(d.Data, &m); err != nil {
		ep.metrics.MalformedMessage()
		ep.log.Warnf("dropping datagram from %v: %v", d.RemoteAddr, err)
		return
	}
	msg := exchange.NewMessage(m, d.RemoteAddr)
	msg.ControlMessage = d.ControlMessage
	ep.metrics.MessageReceived(msg.Type.String())
	for _, i := range ep.cfg.Interceptors {
		i.ReceiveMessage(msg)
	}
	if msg.IsCanceled() {
		ep.log.Tracef("dropping canceled %v", msg)
		return
	}
	ep.log.Tracef("received %v", msg)

	switch msg.Kind() {
	case exchange.KindRequest:
		ex := ep.matcher.ReceiveRequest(msg)
		if ex == nil {
			return
		}
		if ex.Request() == msg {
			ep.watch(ex)
		}
		ep.stack.ReceiveRequest(ex, msg)
	case exchange.KindResponse:
		if ex := ep.matcher.ReceiveResponse(msg); ex != nil {
			ep.stack.ReceiveResponse(ex, msg)
		}
	default:
		if msg.IsPing() {
			rst := exchange.NewEmpty(message.Reset, msg.MessageID, msg.RemoteAddr)
			rst.ControlMessage = msg.ControlMessage.ReplyTo()
			ep.stack.SendEmptyMessage(nil, rst)
			return
		}
		if ex := ep.matcher.ReceiveEmptyMessage(msg); ex != nil {
			ep.stack.ReceiveEmptyMessage(ex, msg)
		}
	}
}

func (ep *Endpoint) transmit(msg *exchange.Message) error {
	for _, i := range ep.cfg.Interceptors {
		i.SendMessage(msg)
	}
	if msg.IsCanceled() {
		ep.log.Tracef("not sending canceled %v", msg)
		return nil
	}
	data, err := ep.coder.Marshal(msg.Message)
	if err != nil {
		return fmt.Errorf("cannot encode %v: %w", msg, err)
	}
	if len(data) > int(ep.cfg.Config.MaxMessageSize) {
		return fmt.Errorf("cannot send %v: %w", msg, ErrMessageTooLarge)
	}
	err = ep.connector.Send(coapNet.RawData{
		Data:           data,
		RemoteAddr:     msg.RemoteAddr,
		ControlMessage: msg.ControlMessage,
	})
	if err != nil {
		// lost like a datagram, retransmission recovers confirmable messages
		ep.cfg.Errors(fmt.Errorf("cannot send %v: %w", msg, err))
		return nil
	}
	ep.metrics.MessageSent(msg.Type.String())
	ep.log.Tracef("sent %v", msg)
	return nil
}

func (ep *Endpoint) resend(msg *exchange.Message) {
	if err := ep.transmit(msg); err != nil {
		ep.cfg.Errors(err)
	}
}

// SendRequest starts a local exchange for req. The type and message ID are
// chosen by the stack unless set.
func (ep *Endpoint) SendRequest(req *exchange.Message) (*exchange.Exchange, error) {
	if !req.Code.IsRequest() {
		return nil, fmt.Errorf("%w: code %v", ErrInvalidRequest, req.Code)
	}
	if req.RemoteAddr == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, coapNet.ErrInvalidRemoteAddr)
	}
	ex := exchange.New(exchange.Local, req)
	err := ep.run(func() {
		ep.watch(ex)
		ep.stack.SendRequest(ex, req)
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// Do sends req and waits for its response. The exchange is canceled when
// ctx ends first.
func (ep *Endpoint) Do(ctx context.Context, req *exchange.Message) (*exchange.Message, error) {
	if ep.limiter != nil {
		return ep.limiter.Do(ctx, req)
	}
	return ep.do(ctx, req)
}

func (ep *Endpoint) do(ctx context.Context, req *exchange.Message) (*exchange.Message, error) {
	ex, err := ep.SendRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := ep.wait(ctx, ex)
	if err != nil && ctx.Err() != nil {
		_ = ep.Cancel(ex)
	}
	return resp, err
}

// NewRequest creates a request for the resource at path of raddr.
func NewRequest(code codes.Code, raddr *net.UDPAddr, path string, opts ...message.Option) (*exchange.Message, error) {
	req := exchange.NewRequest(code, raddr)
	for _, o := range opts {
		req.Options = req.Options.Add(o)
	}
	var err error
	req.Options, err = req.Options.SetPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return req, nil
}

// Get retrieves the resource at path of raddr.
func (ep *Endpoint) Get(ctx context.Context, raddr *net.UDPAddr, path string, opts ...message.Option) (*exchange.Message, error) {
	req, err := NewRequest(codes.GET, raddr, path, opts...)
	if err != nil {
		return nil, err
	}
	return ep.Do(ctx, req)
}

// Post sends payload to the resource at path of raddr.
func (ep *Endpoint) Post(ctx context.Context, raddr *net.UDPAddr, path string, contentFormat message.MediaType, payload []byte, opts ...message.Option) (*exchange.Message, error) {
	req, err := NewRequest(codes.POST, raddr, path, opts...)
	if err != nil {
		return nil, err
	}
	req.Options = req.Options.SetContentFormat(uint32(contentFormat))
	req.Payload = payload
	return ep.Do(ctx, req)
}

// Observe registers req as an observation. onNotify is called on the
// executor with every fresh notification and with the final response; it
// must not block. The relation ends with a response without Observe, a
// reset from the peer or Cancel.
func (ep *Endpoint) Observe(req *exchange.Message, onNotify func(ex *exchange.Exchange, resp *exchange.Message)) (*exchange.Exchange, error) {
	if req.Code != codes.GET && req.Code != codes.FETCH {
		return nil, fmt.Errorf("%w: cannot observe with %v", ErrInvalidRequest, req.Code)
	}
	if req.RemoteAddr == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, coapNet.ErrInvalidRemoteAddr)
	}
	req.Options = req.Options.SetObserve(0)
	ex := exchange.New(exchange.Local, req)
	ex.SetObserve(true)
	var filter observation.Filter
	ex.SetNotificationHandler(func(e *exchange.Exchange, n *exchange.Message) {
		if seq, err := n.Options.Observe(); err == nil && !filter.Accept(seq, time.Now()) {
			ep.log.Debugf("dropping reordered notification %v", n)
			return
		}
		onNotify(e, n)
	})
	err := ep.run(func() {
		ep.watch(ex)
		ex.AddOnDone(func(e *exchange.Exchange) {
			if e.IsComplete() && e.Response() != nil {
				onNotify(e, e.Response())
			}
		})
		ep.stack.SendRequest(ex, req)
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// SendResponse answers the remote exchange ex. Further responses of an
// observe relation are notifications.
func (ep *Endpoint) SendResponse(ex *exchange.Exchange, resp *exchange.Message) error {
	if ex.Origin() != exchange.Remote {
		return fmt.Errorf("%w: exchange of a local request", ErrInvalidResponse)
	}
	if !resp.Code.IsResponse() {
		return fmt.Errorf("%w: code %v", ErrInvalidResponse, resp.Code)
	}
	if ex.IsDone() {
		return ErrExchangeDone
	}
	return ep.run(func() {
		if ex.IsDone() {
			ep.log.Debugf("not sending %v, exchange has ended", resp)
			return
		}
		ep.stack.SendResponse(ex, resp)
	})
}

// Accept acknowledges the confirmable request of ex; its response follows
// separately.
func (ep *Endpoint) Accept(ex *exchange.Exchange) error {
	if ex.Origin() != exchange.Remote {
		return fmt.Errorf("%w: exchange of a local request", ErrInvalidRequest)
	}
	return ep.run(func() {
		cur := ex.CurrentRequest()
		if cur.Type != message.Confirmable || cur.IsAcknowledged() {
			return
		}
		ack := exchange.NewEmpty(message.Acknowledgement, cur.MessageID, ex.Remote())
		ack.ControlMessage = cur.ControlMessage.ReplyTo()
		ep.stack.SendEmptyMessage(ex, ack)
	})
}

// SendEmptyMessage sends an ACK or RST outside of any exchange.
func (ep *Endpoint) SendEmptyMessage(msg *exchange.Message) error {
	if msg.Code != codes.Empty || msg.RemoteAddr == nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, msg)
	}
	return ep.run(func() {
		ep.stack.SendEmptyMessage(nil, msg)
	})
}

// Cancel ends ex with exchange.ErrCanceled; its messages are not sent or
// retransmitted anymore. The exchange is removed from the matcher at once, so
// a response arriving later is rejected with a reset instead of being matched.
func (ep *Endpoint) Cancel(ex *exchange.Exchange) error {
	return ep.run(func() {
		ex.Cancel()
	})
}

// Ping sends an empty confirmable message to raddr and waits for the reset.
func (ep *Endpoint) Ping(ctx context.Context, raddr *net.UDPAddr) error {
	if raddr == nil {
		return coapNet.ErrInvalidRemoteAddr
	}
	ping := exchange.NewEmpty(message.Confirmable, -1, raddr)
	ex := exchange.New(exchange.Local, ping)
	if err := ep.run(func() {
		ep.watch(ex)
		ep.stack.SendEmptyMessage(ex, ping)
	}); err != nil {
		return err
	}
	_, err := ep.wait(ctx, ex)
	if err != nil && ctx.Err() != nil {
		_ = ep.Cancel(ex)
	}
	return err
}

// deliverer hands requests to the Handler and responses to the
// ResponseHandler.
type deliverer struct {
	ep *Endpoint
}

func (d *deliverer) DeliverRequest(ex *exchange.Exchange, req *exchange.Message) {
	ep := d.ep
	ep.goPool(func() {
		w := responsewriter.New(ex, ep)
		defer func() {
			if r := recover(); r != nil {
				ep.log.Warnf("handler of %v panicked: %v", req, r)
				_ = ep.SendResponse(ex, exchange.NewResponse(codes.InternalServerError))
			}
		}()
		ep.cfg.Handler(w, req)
		if resp := w.Message(); resp != nil {
			if err := ep.SendResponse(ex, resp); err != nil {
				ep.cfg.Errors(fmt.Errorf("cannot send response to %v: %w", req, err))
			}
		}
	})
}

func (d *deliverer) DeliverResponse(ex *exchange.Exchange, resp *exchange.Message) {
	d.ep.goPool(func() {
		d.ep.cfg.ResponseHandler(ex, resp)
	})
}
