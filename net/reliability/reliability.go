// Package reliability implements confirmable message retransmission and
// response typing.
package reliability

import (
	"time"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/layer"
	"github.com/plgd-dev/go-coap-engine/net/monitor/metrics"
	"github.com/plgd-dev/go-coap-engine/pkg/rand"
)

const (
	DefaultAckTimeout      = 2 * time.Second
	DefaultAckRandomFactor = 1.5
	DefaultMaxRetransmit   = 4
)

// ScheduleFunc runs task on the endpoint executor after d.
type ScheduleFunc func(d time.Duration, task func()) exchange.Timer

type Config struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
	Schedule        ScheduleFunc
	LoggerFactory   logging.LoggerFactory
	Metrics         *metrics.Metrics
	Rand            *rand.Rand
}

var _ layer.Layer = &Layer{}

type Layer struct {
	layer.Base
	cfg Config
	log logging.LeveledLogger
}

func New(cfg Config) *Layer {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.AckRandomFactor < 1 {
		cfg.AckRandomFactor = DefaultAckRandomFactor
	}
	if cfg.MaxRetransmit < 0 {
		cfg.MaxRetransmit = DefaultMaxRetransmit
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.NewRand(time.Now().UnixNano())
	}
	if cfg.Schedule == nil {
		panic("reliability: Schedule must be set")
	}
	return &Layer{
		cfg: cfg,
		log: cfg.LoggerFactory.NewLogger("coap-reliability"),
	}
}

func (l *Layer) initialTimeout() time.Duration {
	return time.Duration(float64(l.cfg.AckTimeout) * l.cfg.Rand.Between(1, l.cfg.AckRandomFactor))
}

func (l *Layer) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	if req.Type == message.Unset {
		req.Type = message.Confirmable
	}
	if req.Type == message.Confirmable {
		l.prepareRetransmission(ex, req, func() {
			l.Lower().SendRequest(ex, req)
		})
	}
	l.Lower().SendRequest(ex, req)
}

// SendResponse piggybacks resp on the acknowledgement when the request is
// still unacknowledged, otherwise resp is sent separately with the type of
// the request.
func (l *Layer) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	cur := ex.CurrentRequest()
	switch resp.Type {
	case message.Unset:
		switch {
		case cur.Type == message.Confirmable && cur.SetAcknowledged():
			resp.Type = message.Acknowledgement
			resp.MessageID = cur.MessageID
		case cur.Type == message.Confirmable:
			resp.Type = message.Confirmable
		default:
			resp.Type = message.NonConfirmable
		}
	case message.Acknowledgement:
		cur.SetAcknowledged()
		resp.MessageID = cur.MessageID
	}
	if resp.Type == message.Confirmable {
		l.prepareRetransmission(ex, resp, func() {
			l.Lower().SendResponse(ex, resp)
		})
	}
	l.Lower().SendResponse(ex, resp)
	if resp.Type != message.Confirmable && ex.IsFinalResponse(resp) {
		ex.Complete(resp)
	}
}

func (l *Layer) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	switch msg.Type {
	case message.Acknowledgement:
		if ex != nil && ex.Origin() == exchange.Remote {
			cur := ex.CurrentRequest()
			cur.SetAcknowledged()
			if msg.MessageID < 0 {
				msg.MessageID = cur.MessageID
			}
		}
	case message.Confirmable:
		if ex != nil {
			l.prepareRetransmission(ex, msg, func() {
				l.Lower().SendEmptyMessage(ex, msg)
			})
		}
	}
	l.Lower().SendEmptyMessage(ex, msg)
}

func (l *Layer) ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message) {
	r := ex.Retransmission()
	if cur := ex.CurrentRequest(); r.Active(cur) {
		r.Stop(exchange.StateAcked)
		cur.SetAcknowledged()
	}
	if resp.Type == message.Confirmable {
		resp.SetAcknowledged()
		ack := exchange.NewEmpty(message.Acknowledgement, resp.MessageID, resp.RemoteAddr)
		ack.ControlMessage = resp.ControlMessage.ReplyTo()
		l.Lower().SendEmptyMessage(ex, ack)
	}
	l.Upper().ReceiveResponse(ex, resp)
}

func (l *Layer) ReceiveEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	r := ex.Retransmission()
	target := r.Message
	switch msg.Type {
	case message.Acknowledgement:
		if target == nil || target.MessageID != msg.MessageID || !r.Active(target) {
			break
		}
		r.Stop(exchange.StateAcked)
		target.SetAcknowledged()
		switch {
		case target.IsPing():
			ex.Complete(nil)
		case target.Kind() == exchange.KindResponse && ex.IsFinalResponse(target):
			ex.Complete(target)
		}
	case message.Reset:
		r.Stop(exchange.StateRejected)
		l.cfg.Metrics.Rejection()
		if target != nil && target.IsPing() && target.MessageID == msg.MessageID {
			ex.Complete(nil)
			break
		}
		l.log.Debugf("%v rejected by peer", ex.CurrentRequest())
		ex.Fail(exchange.ErrPeerRejected)
	}
	l.Upper().ReceiveEmptyMessage(ex, msg)
}

func (l *Layer) prepareRetransmission(ex *exchange.Exchange, msg *exchange.Message, resend func()) {
	r := ex.Retransmission()
	r.Start(msg, l.initialTimeout())
	l.schedule(ex, msg, resend)
}

func (l *Layer) schedule(ex *exchange.Exchange, msg *exchange.Message, resend func()) {
	r := ex.Retransmission()
	r.SetTimer(l.cfg.Schedule(r.Timeout, func() {
		l.retransmit(ex, msg, resend)
	}))
}

func (l *Layer) retransmit(ex *exchange.Exchange, msg *exchange.Message, resend func()) {
	r := ex.Retransmission()
	if ex.IsDone() || !r.Active(msg) || msg.IsCanceled() || msg.IsAcknowledged() || msg.IsRejected() {
		return
	}
	if r.Count >= l.cfg.MaxRetransmit {
		r.Stop(exchange.StateTimedOut)
		msg.SetTimedOut()
		l.cfg.Metrics.Timeout()
		l.log.Debugf("%v not acknowledged after %v retransmissions", msg, r.Count)
		ex.Fail(exchange.ErrRetransmissionExhausted)
		return
	}
	r.Count++
	r.State = exchange.StateRetransmitting
	r.Timeout *= 2
	l.cfg.Metrics.Retransmission()
	l.log.Debugf("retransmission %v of %v, next timeout %v", r.Count, msg, r.Timeout)
	resend()
	l.schedule(ex, msg, resend)
}
