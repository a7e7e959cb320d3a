// Package pipe connects two endpoints through an in-memory network, must not
// be used in production code.
package pipe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
	coapNet "github.com/plgd-dev/go-coap-engine/net"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const tickInterval = time.Millisecond

// DropFunc reports whether an outgoing datagram is lost.
type DropFunc func(data []byte) bool

// Pipe is a pair of connectors backed by a test.Bridge. Datagrams are
// delivered by a background goroutine.
type Pipe struct {
	bridge *test.Bridge
	a, b   *Connector
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a pipe whose connectors use the addresses 127.0.0.1:5683 and
// 127.0.0.1:5684.
func New() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		stop:   make(chan struct{}),
	}
	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5683}
	addrB := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5684}
	p.a = newConnector(p.bridge.GetConn0(), addrA, addrB)
	p.b = newConnector(p.bridge.GetConn1(), addrB, addrA)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(tickInterval)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				for p.bridge.Tick() > 0 {
				}
			}
		}
	}()
	return p
}

// A returns the connector of the first endpoint.
func (p *Pipe) A() *Connector { return p.a }

// B returns the connector of the second endpoint.
func (p *Pipe) B() *Connector { return p.b }

// Close stops the delivery and closes both connectors.
func (p *Pipe) Close() error {
	p.once.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
	errA := p.a.Close()
	errB := p.b.Close()
	if errA != nil {
		return errA
	}
	return errB
}

var _ coapNet.Connector = &Connector{}

// Connector is one side of a Pipe.
type Connector struct {
	conn   net.Conn
	local  *net.UDPAddr
	peer   *net.UDPAddr
	mutex  sync.Mutex
	drop   DropFunc
	sent   atomic.Uint32
	closed atomic.Bool
	done   chan struct{}
}

func newConnector(conn net.Conn, local, peer *net.UDPAddr) *Connector {
	return &Connector{
		conn:  conn,
		local: local,
		peer:  peer,
		done:  make(chan struct{}),
	}
}

// SetDrop installs f to decide which outgoing datagrams are lost, nil
// delivers all.
func (c *Connector) SetDrop(f DropFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.drop = f
}

// Sent returns the number of datagrams handed to the connector, dropped
// ones included.
func (c *Connector) Sent() int {
	return int(c.sent.Load())
}

func (c *Connector) LocalAddr() net.Addr {
	return c.local
}

// Peer returns the address of the other side.
func (c *Connector) Peer() *net.UDPAddr {
	return c.peer
}

func (c *Connector) Send(d coapNet.RawData) error {
	if c.closed.Load() {
		return coapNet.ErrConnectionIsClosed
	}
	if d.RemoteAddr == nil {
		return coapNet.ErrInvalidRemoteAddr
	}
	if d.RemoteAddr.Port != c.peer.Port {
		return fmt.Errorf("unknown peer %v: %w", d.RemoteAddr, coapNet.ErrInvalidRemoteAddr)
	}
	c.sent.Inc()
	c.mutex.Lock()
	drop := c.drop
	c.mutex.Unlock()
	if drop != nil && drop(d.Data) {
		return nil
	}
	_, err := c.conn.Write(d.Data)
	return err
}

func (c *Connector) Serve(ctx context.Context, onReceive coapNet.ReceiveFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buf := make([]byte, 64*1024)
		for {
			n, err := c.conn.Read(buf)
			if err != nil {
				return coapNet.ErrConnectionIsClosed
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			onReceive(coapNet.RawData{
				Data:       data,
				RemoteAddr: c.peer,
			})
		}
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		return c.Close()
	})
	err := g.Wait()
	if coapNet.IsCancelOrCloseError(err) {
		return nil
	}
	return err
}

func (c *Connector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	return c.conn.Close()
}
