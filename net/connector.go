package net

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/pion/logging"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// RawData is one datagram together with its peer and local delivery information.
type RawData struct {
	Data           []byte
	RemoteAddr     *net.UDPAddr
	ControlMessage *ControlMessage
}

// ReceiveFunc is invoked from the connector read goroutine for every datagram.
// Data is owned by the callee.
type ReceiveFunc func(RawData)

// Connector moves raw datagrams between an endpoint and the network.
type Connector interface {
	// Send queues d for transmission and returns without waiting for the socket.
	Send(d RawData) error
	// Serve runs the read and write loops until ctx is done or the connector is closed.
	Serve(ctx context.Context, onReceive ReceiveFunc) error
	LocalAddr() net.Addr
	Close() error
}

type ConnectorConfig struct {
	MaxMessageSize int
	SendQueueSize  int
	LoggerFactory  logging.LoggerFactory
	Errors         func(err error)
}

var DefaultConnectorConfig = ConnectorConfig{
	MaxMessageSize: 64 * 1024,
	SendQueueSize:  1024,
	LoggerFactory:  logging.NewDefaultLoggerFactory(),
	Errors: func(err error) {
		fmt.Println(err)
	},
}

// UDPConnector serves a UDPConn: one goroutine reads, one goroutine drains the send queue.
type UDPConnector struct {
	conn      *UDPConn
	cfg       ConnectorConfig
	log       logging.LeveledLogger
	sendQueue chan RawData
	done      chan struct{}
	closed    atomic.Bool
}

func NewUDPConnector(conn *UDPConn, cfg ConnectorConfig) *UDPConnector {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultConnectorConfig.MaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultConnectorConfig.SendQueueSize
	}
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = DefaultConnectorConfig.LoggerFactory
	}
	if cfg.Errors == nil {
		cfg.Errors = DefaultConnectorConfig.Errors
	}
	return &UDPConnector{
		conn:      conn,
		cfg:       cfg,
		log:       cfg.LoggerFactory.NewLogger("coap-connector"),
		sendQueue: make(chan RawData, cfg.SendQueueSize),
		done:      make(chan struct{}),
	}
}

// ListenUDP binds addr and wraps the socket in a UDPConnector.
func ListenUDP(network, addr string, cfg ConnectorConfig) (*UDPConnector, error) {
	conn, err := NewListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %v: %w", addr, err)
	}
	return NewUDPConnector(conn, cfg), nil
}

func (c *UDPConnector) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *UDPConnector) Send(d RawData) error {
	if c.closed.Load() {
		return ErrConnectionIsClosed
	}
	if d.RemoteAddr == nil {
		return ErrInvalidRemoteAddr
	}
	select {
	case c.sendQueue <- d:
		return nil
	case <-c.done:
		return ErrConnectionIsClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *UDPConnector) Serve(ctx context.Context, onReceive ReceiveFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		return c.readLoop(ctx, onReceive)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		// unblocks the reader
		return c.Close()
	})
	err := g.Wait()
	if IsCancelOrCloseError(err) {
		return nil
	}
	return err
}

func (c *UDPConnector) readLoop(ctx context.Context, onReceive ReceiveFunc) error {
	buf := make([]byte, c.cfg.MaxMessageSize)
	for {
		n, raddr, cm, err := c.conn.ReadWithContext(ctx, buf)
		if err != nil {
			if c.closed.Load() {
				return ErrConnectionIsClosed
			}
			return err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		c.log.Tracef("received %v bytes from %v", n, raddr)
		onReceive(RawData{
			Data:           data,
			RemoteAddr:     raddr,
			ControlMessage: cm,
		})
	}
}

func (c *UDPConnector) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case d := <-c.sendQueue:
			err := c.conn.WriteWithContext(ctx, d.RemoteAddr, d.ControlMessage, d.Data)
			if err != nil {
				if errors.Is(err, ErrConnectionIsClosed) {
					return nil
				}
				c.cfg.Errors(fmt.Errorf("cannot write to %v: %w", d.RemoteAddr, err))
				continue
			}
			c.log.Tracef("sent %v bytes to %v", len(d.Data), d.RemoteAddr)
		}
	}
}

func (c *UDPConnector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	return c.conn.Close()
}
