// Package matcher correlates messages with exchanges.
//
// The matcher keeps two kinds of tables: message-ID tables for
// deduplication and acknowledgement matching, and token tables for request
// and response correlation. It is confined to the endpoint executor.
package matcher

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	"github.com/plgd-dev/go-coap-engine/message"
	"github.com/plgd-dev/go-coap-engine/net/exchange"
	"github.com/plgd-dev/go-coap-engine/net/monitor/metrics"
	"github.com/plgd-dev/go-coap-engine/pkg/cache"
)

// ExchangeLifetime is the default time a message-ID stays registered.
const ExchangeLifetime = 247 * time.Second

const maxTokenAttempts = 16

type Config struct {
	ExchangeLifetime time.Duration
	LoggerFactory    logging.LoggerFactory
	Metrics          *metrics.Metrics
	// Resend transmits a message that bypasses the stack: a cached reply to a
	// duplicate or a reset answering an unsolicited confirmable response.
	Resend func(msg *exchange.Message)
	// GetToken generates tokens for requests without one.
	GetToken func() (message.Token, error)
}

type midKey struct {
	addr string
	mid  uint16
}

func newMIDKey(addr *net.UDPAddr, mid int32) midKey {
	return midKey{addr: addrString(addr), mid: uint16(mid)}
}

type tokenKey struct {
	addr  string
	token string
}

func addrString(addr *net.UDPAddr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

type outgoing struct {
	ex  *exchange.Exchange
	msg *exchange.Message
}

type dedupEntry struct {
	ex    *exchange.Exchange
	reply *exchange.Message
}

type registration struct {
	local     string
	hasLocal  bool
	remote    tokenKey
	hasRemote bool
}

type Matcher struct {
	cfg  Config
	log  logging.LeveledLogger
	mids *message.MIDSource

	outgoing *cache.Cache[midKey, *outgoing]
	dedup    *cache.Cache[midKey, *dedupEntry]
	local    *cache.Cache[string, *exchange.Exchange]
	remote   *cache.Cache[tokenKey, *exchange.Exchange]
	watched  map[*exchange.Exchange]*registration
}

func New(cfg Config) *Matcher {
	if cfg.ExchangeLifetime <= 0 {
		cfg.ExchangeLifetime = ExchangeLifetime
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.Resend == nil {
		cfg.Resend = func(*exchange.Message) {
			// NO-OP
		}
	}
	if cfg.GetToken == nil {
		cfg.GetToken = message.GetToken
	}
	return &Matcher{
		cfg:      cfg,
		log:      cfg.LoggerFactory.NewLogger("coap-matcher"),
		mids:     message.NewMIDSource(),
		outgoing: cache.NewCache[midKey, *outgoing](),
		dedup:    cache.NewCache[midKey, *dedupEntry](),
		local:    cache.NewCache[string, *exchange.Exchange](),
		remote:   cache.NewCache[tokenKey, *exchange.Exchange](),
		watched:  make(map[*exchange.Exchange]*registration),
	}
}

func (m *Matcher) deadline() time.Time {
	return time.Now().Add(m.cfg.ExchangeLifetime)
}

// tokenDeadline keeps observe relations registered until they end.
func (m *Matcher) tokenDeadline(ex *exchange.Exchange) time.Time {
	if ex.IsObserve() {
		return time.Time{}
	}
	return m.deadline()
}

func (m *Matcher) nextMID(addr *net.UDPAddr) int32 {
	mid := m.mids.Next()
	for i := 0; i < 64 && m.outgoing.Load(newMIDKey(addr, mid)) != nil; i++ {
		mid = m.mids.Next()
	}
	return mid
}

func (m *Matcher) watch(ex *exchange.Exchange) *registration {
	if r, ok := m.watched[ex]; ok {
		return r
	}
	r := &registration{}
	m.watched[ex] = r
	ex.AddOnDone(m.forget)
	m.cfg.Metrics.SetActiveExchanges(len(m.watched))
	return r
}

func (m *Matcher) forget(ex *exchange.Exchange) {
	r, ok := m.watched[ex]
	if !ok {
		return
	}
	delete(m.watched, ex)
	isEx := func(v *exchange.Exchange) bool { return v == ex }
	if r.hasLocal {
		m.local.DeleteFunc(r.local, isEx)
	}
	if r.hasRemote {
		m.remote.DeleteFunc(r.remote, isEx)
	}
	m.cfg.Metrics.SetActiveExchanges(len(m.watched))
}

func (m *Matcher) registerOutgoing(ex *exchange.Exchange, msg *exchange.Message) {
	m.outgoing.Store(newMIDKey(msg.RemoteAddr, msg.MessageID), cache.NewElement(&outgoing{ex: ex, msg: msg}, m.deadline(), nil))
}

func (m *Matcher) newToken() (message.Token, error) {
	for i := 0; i < maxTokenAttempts; i++ {
		token, err := m.cfg.GetToken()
		if err != nil {
			return nil, fmt.Errorf("cannot generate token: %w", err)
		}
		if m.local.Load(string(token)) == nil {
			return token, nil
		}
	}
	return nil, fmt.Errorf("cannot generate token: %w", exchange.ErrTokenInUse)
}

// SendRequest assigns the message-ID and the token of req and registers the
// exchange under both. Retransmissions and block follow-ups of the same
// exchange keep their registrations.
func (m *Matcher) SendRequest(ex *exchange.Exchange, req *exchange.Message) error {
	if len(req.Token) == 0 {
		token, err := m.newToken()
		if err != nil {
			return err
		}
		req.Token = token
	}
	if len(req.Token) > message.MaxTokenSize {
		return fmt.Errorf("invalid token length %v: %w", len(req.Token), message.ErrInvalidTokenLen)
	}
	key := string(req.Token)
	if e := m.local.Load(key); e != nil && e.Data() != ex && !e.Data().IsDone() {
		return exchange.ErrTokenInUse
	}
	if req.MessageID < 0 {
		req.MessageID = m.nextMID(req.RemoteAddr)
	}
	r := m.watch(ex)
	r.local = key
	r.hasLocal = true
	m.local.Store(key, cache.NewElement(ex, m.tokenDeadline(ex), m.onTokenExpired))
	m.registerOutgoing(ex, req)
	m.log.Tracef("registered request %v", req)
	return nil
}

// SendResponse fills the token and message-ID of resp and records it as the
// cached reply of the request it answers.
func (m *Matcher) SendResponse(ex *exchange.Exchange, resp *exchange.Message) {
	cur := ex.CurrentRequest()
	resp.Token = cur.Token
	if resp.RemoteAddr == nil {
		resp.RemoteAddr = ex.Remote()
	}
	if resp.ControlMessage == nil {
		resp.ControlMessage = cur.ControlMessage.ReplyTo()
	}
	if resp.Type == message.Acknowledgement {
		resp.MessageID = cur.MessageID
	} else if resp.MessageID < 0 {
		resp.MessageID = m.nextMID(resp.RemoteAddr)
	}
	m.storeReply(newMIDKey(ex.Remote(), cur.MessageID), ex, resp)
	if resp.Type == message.Confirmable || (resp.Type == message.NonConfirmable && ex.IsObserve()) {
		m.registerOutgoing(ex, resp)
	}
	m.log.Tracef("registered response %v", resp)
}

// SendEmptyMessage records ACK and RST messages as cached replies and
// registers confirmable pings.
func (m *Matcher) SendEmptyMessage(ex *exchange.Exchange, msg *exchange.Message) {
	switch msg.Type {
	case message.Acknowledgement, message.Reset:
		m.storeReply(newMIDKey(msg.RemoteAddr, msg.MessageID), ex, msg)
	case message.Confirmable:
		if msg.MessageID < 0 {
			msg.MessageID = m.nextMID(msg.RemoteAddr)
		}
		if ex != nil {
			m.watch(ex)
			m.registerOutgoing(ex, msg)
		}
	default:
		if msg.MessageID < 0 {
			msg.MessageID = m.nextMID(msg.RemoteAddr)
		}
	}
}

func (m *Matcher) storeReply(key midKey, ex *exchange.Exchange, reply *exchange.Message) {
	if e := m.dedup.Load(key); e != nil {
		e.Data().reply = reply
		return
	}
	m.dedup.Store(key, cache.NewElement(&dedupEntry{ex: ex, reply: reply}, m.deadline(), nil))
}

func (m *Matcher) duplicate(key midKey, msg *exchange.Message) bool {
	e := m.dedup.Load(key)
	if e == nil {
		return false
	}
	m.cfg.Metrics.Duplicate()
	if reply := e.Data().reply; reply != nil {
		m.log.Debugf("duplicate %v, resending %v", msg, reply)
		m.cfg.Resend(reply)
	} else {
		m.log.Debugf("duplicate %v", msg)
	}
	return true
}

// isContinuation reports whether req asks for a further block of an ongoing
// transfer.
func isContinuation(req *exchange.Message) bool {
	for _, id := range []message.OptionID{message.Block1, message.Block2} {
		if b, err := req.Options.Block(id); err == nil && b.Num() > 0 {
			return true
		}
	}
	return false
}

// ReceiveRequest returns the exchange of req, or nil when req is a duplicate.
func (m *Matcher) ReceiveRequest(req *exchange.Message) *exchange.Exchange {
	key := newMIDKey(req.RemoteAddr, req.MessageID)
	if m.duplicate(key, req) {
		return nil
	}
	tk := tokenKey{addr: addrString(req.RemoteAddr), token: string(req.Token)}
	if e := m.remote.Load(tk); e != nil && !e.Data().IsDone() {
		old := e.Data()
		if isContinuation(req) {
			old.SetCurrentRequest(req)
			m.dedup.Store(key, cache.NewElement(&dedupEntry{ex: old}, m.deadline(), nil))
			return old
		}
		m.log.Debugf("request %v replaces exchange of %v", req, old.Request())
		old.Fail(exchange.ErrReplaced)
	}
	ex := exchange.New(exchange.Remote, req)
	if obs, err := req.Options.Observe(); err == nil && obs == 0 {
		ex.SetObserve(true)
	}
	r := m.watch(ex)
	r.remote = tk
	r.hasRemote = true
	m.remote.Store(tk, cache.NewElement(ex, m.tokenDeadline(ex), m.onTokenExpired))
	m.dedup.Store(key, cache.NewElement(&dedupEntry{ex: ex}, m.deadline(), nil))
	return ex
}

// ReceiveResponse returns the exchange of resp, or nil when resp is a
// duplicate or unsolicited.
func (m *Matcher) ReceiveResponse(resp *exchange.Message) *exchange.Exchange {
	key := newMIDKey(resp.RemoteAddr, resp.MessageID)
	if resp.Type == message.Acknowledgement {
		e := m.outgoing.Load(key)
		if e == nil {
			m.log.Debugf("late or duplicate piggybacked response %v", resp)
			m.cfg.Metrics.Duplicate()
			return nil
		}
		ex := e.Data().ex
		m.outgoing.Delete(key)
		if !e.Data().msg.Token.Equal(resp.Token) {
			m.log.Debugf("piggybacked response %v with foreign token", resp)
			m.cfg.Metrics.UnsolicitedResponse()
			return nil
		}
		if ex.IsDone() {
			return nil
		}
		return ex
	}
	if m.duplicate(key, resp) {
		return nil
	}
	e := m.local.Load(string(resp.Token))
	if e == nil || e.Data().IsDone() || !sameAddr(e.Data().Remote(), resp.RemoteAddr) {
		m.log.Debugf("unsolicited response %v", resp)
		m.cfg.Metrics.UnsolicitedResponse()
		if resp.Type == message.Confirmable {
			rst := exchange.NewEmpty(message.Reset, resp.MessageID, resp.RemoteAddr)
			rst.ControlMessage = resp.ControlMessage.ReplyTo()
			m.storeReply(key, nil, rst)
			m.cfg.Resend(rst)
		}
		return nil
	}
	ex := e.Data()
	m.dedup.Store(key, cache.NewElement(&dedupEntry{ex: ex}, m.deadline(), nil))
	return ex
}

// ReceiveEmptyMessage returns the exchange of the message acknowledged or
// rejected by msg.
func (m *Matcher) ReceiveEmptyMessage(msg *exchange.Message) *exchange.Exchange {
	key := newMIDKey(msg.RemoteAddr, msg.MessageID)
	e := m.outgoing.Load(key)
	if e == nil {
		m.log.Debugf("no message for %v", msg)
		return nil
	}
	m.outgoing.Delete(key)
	o := e.Data()
	if msg.Type == message.Reset {
		o.msg.SetRejected()
	}
	if o.ex.IsDone() {
		return nil
	}
	return o.ex
}

// Clear drops all tables and returns the exchanges that were still active.
func (m *Matcher) Clear() []*exchange.Exchange {
	active := make([]*exchange.Exchange, 0, len(m.watched))
	for ex := range m.watched {
		if !ex.IsDone() {
			active = append(active, ex)
		}
	}
	m.outgoing.PullOutAll()
	m.dedup.PullOutAll()
	m.local.PullOutAll()
	m.remote.PullOutAll()
	m.watched = make(map[*exchange.Exchange]*registration)
	m.cfg.Metrics.SetActiveExchanges(0)
	return active
}

// Sweep evicts the entries expired at now.
func (m *Matcher) Sweep(now time.Time) {
	m.outgoing.CheckExpirations(now)
	m.dedup.CheckExpirations(now)
	m.local.CheckExpirations(now)
	m.remote.CheckExpirations(now)
}

func (m *Matcher) onTokenExpired(ex *exchange.Exchange) {
	if ex.Fail(exchange.ErrExchangeExpired) {
		m.log.Debugf("exchange of %v expired", ex.Request())
	}
}

// Len returns the number of active exchanges.
func (m *Matcher) Len() int {
	return len(m.watched)
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return true
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
