// Package blockwise fragments large bodies into Block1/Block2 transfers and
// reassembles received ones.
package blockwise

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/message/codes"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/layer"
	"github.com/plgd-dev/go-coap-engine/net/monitor/metrics"
)

const (
	DefaultSZX         = message.SZX1024
	DefaultMaxBodySize = 8 * 1024 * 1024
)

var errBlockOutOfRange = errors.New("block is beyond the end of the body")

type Config struct {
	// SZX is the preferred block size.
	SZX message.SZX
	// MaxBodySize limits reassembled bodies, 0 means no limit.
	MaxBodySize   int
	LoggerFactory logging.LoggerFactory
	Metrics       *metrics.Metrics
}

var _ layer.Layer = &Layer{}

type Layer struct {
	layer.Base
	cfg Config
	log logging.LeveledLogger
}

func New(cfg Config) *Layer {
	if cfg.SZX > message.SZX1024 {
		cfg.SZX = DefaultSZX
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Layer{
		cfg: cfg,
		log: cfg.LoggerFactory.NewLogger("coap-blockwise"),
	}
}

// fitSZX returns the smaller of the block size carried by b and maxSZX.
func fitSZX(b message.BlockOption, maxSZX message.SZX) message.SZX {
	if b.SZX() < maxSZX {
		return b.SZX()
	}
	return maxSZX
}

// createSendingMessage cuts block num out of the body of full.
func createSendingMessage(full *exchange.Message, blockType message.OptionID, szx message.SZX, num uint32) (*exchange.Message, bool, error) {
	size := szx.Size()
	from := int(num) * size
	if from > 0 && from >= len(full.Payload) {
		return nil, false, fmt.Errorf("block %v of %v bytes: %w", num, len(full.Payload), errBlockOutOfRange)
	}
	to := from + size
	if to > len(full.Payload) {
		to = len(full.Payload)
	}
	more := to < len(full.Payload)
	block, err := message.NewBlockOption(szx, more, num)
	if err != nil {
		return nil, false, fmt.Errorf("cannot create %v option: %w", blockType, err)
	}
	m := exchange.NewMessage(message.Message{
		Token:     full.Token,
		Code:      full.Code,
		Type:      full.Type,
		MessageID: -1,
		Options:   full.Options.Clone().SetBlock(blockType, block),
		Payload:   full.Payload[from:to],
	}, full.RemoteAddr)
	m.ControlMessage = full.ControlMessage
	return m, more, nil
}

func (l *Layer) fail(ex *exchange.Exchange, option string, err error) {
	l.cfg.Metrics.BlockTransfer(option, false)
	l.log.Debugf("%v transfer of %v failed: %v", option, ex.Request(), err)
	ex.Fail(err)
}

func (l *Layer) SendRequest(ex *exchange.Exchange, req *exchange.Message) {
	if len(req.Payload) <= l.cfg.SZX.Size() || req.Options.HasOption(message.Block1) {
		l.Lower().SendRequest(ex, req)
		return
	}
	s := exchange.NewFragmentation(req, l.cfg.SZX)
	ex.SetRequestBlock(s)
	block, _, err := createSendingMessage(req, message.Block1, s.SZX, 0)
	if err != nil {
		l.fail(ex, "block1", fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
		return
	}
	block.Options = block.Options.SetUint32(message.Size1, uint32(len(req.Payload)))
	l.log.Tracef("sending %v bytes of %v in blocks of %v", len(req.Payload), req.Code, s.SZX.Size())
	ex.SetCurrentRequest(block)
	l.Lower().SendRequest(ex, block)
}

func (l *Layer) ReceiveResponse(ex *exchange.Exchange, resp *exchange.Message) {
	if s := ex.RequestBlock(); s != nil && !s.Complete && l.continueSendingRequest(ex, s, resp) {
		return
	}
	b2, err := resp.Options.Block(message.Block2)
	if err != nil {
		ex.SetResponseBlock(nil)
		l.Upper().ReceiveResponse(ex, resp)
		return
	}
	l.receiveResponseBlock(ex, resp, b2)
}

// continueSendingRequest releases the next Block1 fragment when the peer
// asked for it. It reports whether resp was consumed.
func (l *Layer) continueSendingRequest(ex *exchange.Exchange, s *exchange.BlockStatus, resp *exchange.Message) bool {
	cur, err := ex.CurrentRequest().Options.Block(message.Block1)
	if err != nil || resp.Code != codes.Continue {
		// final response, or the peer refused the transfer
		s.Complete = true
		l.cfg.Metrics.BlockTransfer("block1", err == nil && resp.Code.IsSuccess())
		return false
	}
	b1, err := resp.Options.Block(message.Block1)
	if err != nil || b1.Num() != cur.Num() || !cur.More() {
		l.fail(ex, "block1", fmt.Errorf("%w: continue %v for block %v", exchange.ErrBlockSequence, resp, cur))
		return true
	}
	szx := fitSZX(b1, s.SZX)
	offset := cur.Offset() + cur.Size()
	num := uint32(offset / szx.Size())
	s.SZX = szx
	s.Num = num
	block, _, err := createSendingMessage(s.First, message.Block1, szx, num)
	if err != nil {
		l.fail(ex, "block1", fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
		return true
	}
	block.Token = ex.CurrentRequest().Token
	block.Type = ex.CurrentRequest().Type
	ex.SetCurrentRequest(block)
	l.Lower().SendRequest(ex, block)
	return true
}

func (l *Layer) receiveResponseBlock(ex *exchange.Exchange, resp *exchange.Message, b2 message.BlockOption) {
	s := ex.ResponseBlock()
	if b2.Num() == 0 {
		if !b2.More() {
			ex.SetResponseBlock(nil)
			l.Upper().ReceiveResponse(ex, resp)
			return
		}
		s = exchange.NewReassembly(resp, b2.SZX())
		ex.SetResponseBlock(s)
	} else if s == nil || s.Complete {
		l.fail(ex, "block2", fmt.Errorf("%w: unexpected block %v", exchange.ErrBlockSequence, b2))
		return
	}
	if b2.Offset() != s.Len() {
		l.fail(ex, "block2", fmt.Errorf("%w: block %v at offset %v, expected offset %v", exchange.ErrBlockSequence, b2, b2.Offset(), s.Len()))
		return
	}
	if etag, _ := resp.Options.GetBytes(message.ETag); !bytes.Equal(etag, s.ETag) {
		l.fail(ex, "block2", fmt.Errorf("%w: representation changed during transfer", exchange.ErrBlockTransfer))
		return
	}
	if l.cfg.MaxBodySize > 0 && s.Len()+len(resp.Payload) > l.cfg.MaxBodySize {
		l.fail(ex, "block2", fmt.Errorf("%w: body exceeds %v bytes", exchange.ErrBlockTransfer, l.cfg.MaxBodySize))
		return
	}
	if err := s.Append(resp.Payload); err != nil {
		l.fail(ex, "block2", fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
		return
	}
	if b2.SZX() < s.SZX {
		s.SZX = b2.SZX()
	}
	if b2.More() {
		s.Num = s.NextNum()
		next, err := l.newFollowUpRequest(ex, s.SZX, s.Num)
		if err != nil {
			l.fail(ex, "block2", fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
			return
		}
		ex.SetCurrentRequest(next)
		l.Lower().SendRequest(ex, next)
		return
	}
	s.Complete = true
	full := s.First.Clone()
	full.Payload = append([]byte(nil), s.Bytes()...)
	full.Options = full.Options.Remove(message.Block2)
	ex.SetResponseBlock(nil)
	l.cfg.Metrics.BlockTransfer("block2", true)
	l.Upper().ReceiveResponse(ex, full)
}

// newFollowUpRequest asks for block num of the response body. It repeats the
// original request without its body, observe registration and Block1.
func (l *Layer) newFollowUpRequest(ex *exchange.Exchange, szx message.SZX, num uint32) (*exchange.Message, error) {
	orig := ex.Request()
	cur := ex.CurrentRequest()
	block, err := message.NewBlockOption(szx, false, num)
	if err != nil {
		return nil, err
	}
	opts := orig.Options.Clone().
		Remove(message.Observe).
		Remove(message.Block1).
		Remove(message.Size1).
		SetBlock(message.Block2, block)
	next := exchange.NewMessage(message.Message{
		Token:     cur.Token,
		Code:      orig.Code,
		Type:      cur.Type,
		MessageID: -1,
		Options:   opts,
	}, orig.RemoteAddr)
	next.ControlMessage = orig.ControlMessage
	return next, nil
}

func (l *Layer) ReceiveRequest(ex *exchange.Exchange, req *exchange.Message) {
	if b1, err := req.Options.Block(message.Block1); err == nil {
		l.receiveRequestBlock(ex, req, b1)
		return
	}
	if b2, err := req.Options.Block(message.Block2); err == nil {
		if s := ex.ResponseBlock(); s != nil && b2.Num() > 0 {
			l.continueSendingResponse(ex, s, b2)
			return
		}
		ex.SetRequestedBlock2(&b2)
	}
	l.Upper().ReceiveRequest(ex, req)
}

func (l *Layer) sendEntityIncomplete(ex *exchange.Exchange, err error) {
	l.fail(ex, "block1", err)
	l.Lower().SendResponse(ex, exchange.NewResponse(codes.RequestEntityIncomplete))
}

func (l *Layer) receiveRequestBlock(ex *exchange.Exchange, req *exchange.Message, b1 message.BlockOption) {
	s := ex.RequestBlock()
	if b1.Num() == 0 {
		s = exchange.NewReassembly(req, fitSZX(b1, l.cfg.SZX))
		ex.SetRequestBlock(s)
	} else if s == nil || s.Complete || b1.Offset() != s.Len() {
		expected := 0
		if s != nil {
			expected = s.Len()
		}
		l.sendEntityIncomplete(ex, fmt.Errorf("%w: block %v at offset %v, expected offset %v", exchange.ErrBlockSequence, b1, b1.Offset(), expected))
		return
	}
	if l.cfg.MaxBodySize > 0 && s.Len()+len(req.Payload) > l.cfg.MaxBodySize {
		l.fail(ex, "block1", fmt.Errorf("%w: body exceeds %v bytes", exchange.ErrBlockTransfer, l.cfg.MaxBodySize))
		resp := exchange.NewResponse(codes.RequestEntityTooLarge)
		resp.Options = resp.Options.SetUint32(message.Size1, uint32(l.cfg.MaxBodySize))
		l.Lower().SendResponse(ex, resp)
		return
	}
	if err := s.Append(req.Payload); err != nil {
		l.sendEntityIncomplete(ex, fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
		return
	}
	if b1.More() {
		s.Num = b1.Num() + 1
		echo, err := message.NewBlockOption(s.SZX, true, b1.Num())
		if err != nil {
			l.sendEntityIncomplete(ex, fmt.Errorf("%w: %w", exchange.ErrBlockTransfer, err))
			return
		}
		resp := exchange.NewResponse(codes.Continue)
		resp.Options = resp.Options.SetBlock(message.Block1, echo)
		l.Lower().SendResponse(ex, resp)
		return
	}
	s.Complete = true
	full := s.First.Clone()
	full.Payload = append([]byte(nil), s.Bytes()...)
	full.Options = full.Options.Remove(message.Block1).Remove(message.Size1)
	full.MessageID = req.MessageID
	full.Type = req.Type
	full.ControlMessage = req.ControlMessage
	ex.SetRequest(full)
	if b2, err := req.Options.Block(message.Block2); err == nil {
		ex.SetRequestedBlock2(&b2)
	}
	l.cfg.Metrics.BlockTransfer("block1", true)
	l.Upper().ReceiveRequest(ex, full)
}

func (l *Layer) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	if s := ex.RequestBlock(); s != nil && s.Complete && ex.Origin() == exchange.Remote && !resp.Options.HasOption(message.Block1) {
		if b1, err := ex.CurrentRequest().Options.Block(message.Block1); err == nil {
			resp.Options = resp.Options.SetBlock(message.Block1, b1)
		}
	}
	szx := l.cfg.SZX
	requested := ex.RequestedBlock2()
	if requested != nil {
		szx = fitSZX(*requested, szx)
	}
	ex.SetResponse(resp)
	if len(resp.Payload) <= szx.Size() && (requested == nil || requested.Num() == 0) {
		ex.SetCurrentResponse(resp)
		l.Lower().SendResponse(ex, resp)
		return
	}
	if !resp.Options.HasOption(message.ETag) {
		resp.Options = resp.Options.SetBytes(message.ETag, message.CalcETag(resp.Payload))
	}
	resp.Options = resp.Options.SetUint32(message.Size2, uint32(len(resp.Payload)))
	s := exchange.NewFragmentation(resp, szx)
	ex.SetResponseBlock(s)
	var num uint32
	if requested != nil {
		num = uint32(requested.Offset() / szx.Size())
	}
	l.sendResponseBlock(ex, s, szx, num)
}

// continueSendingResponse serves a further block of the stored response.
func (l *Layer) continueSendingResponse(ex *exchange.Exchange, s *exchange.BlockStatus, b2 message.BlockOption) {
	szx := fitSZX(b2, s.SZX)
	l.sendResponseBlock(ex, s, szx, uint32(b2.Offset()/szx.Size()))
}

func (l *Layer) sendResponseBlock(ex *exchange.Exchange, s *exchange.BlockStatus, szx message.SZX, num uint32) {
	block, more, err := createSendingMessage(s.First, message.Block2, szx, num)
	if err != nil {
		l.log.Debugf("cannot serve block %v of %v: %v", num, ex.Request(), err)
		ex.SetResponseBlock(nil)
		resp := exchange.NewResponse(codes.BadOption)
		ex.SetCurrentResponse(resp)
		l.Lower().SendResponse(ex, resp)
		return
	}
	if num > 0 {
		// answers a follow-up request
		block.Type = message.Unset
		block.Options = block.Options.Remove(message.Observe)
	}
	s.SZX = szx
	s.Num = num
	if !more {
		s.Complete = true
		l.cfg.Metrics.BlockTransfer("block2", true)
	}
	ex.SetCurrentResponse(block)
	l.Lower().SendResponse(ex, block)
}
