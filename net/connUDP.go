package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// UDPConn is a udp connection provides Read/Write with context.
//
// Multiple goroutines may invoke methods on a UDPConn simultaneously.
type UDPConn struct {
	packetConn packetConn
	network    string
	connection *net.UDPConn
	closed     atomic.Bool
}

// ControlMessage carries the local side of a datagram: the address it arrived on
// and the interface it arrived through.
type ControlMessage struct {
	Dst     net.IP // destination address of the packet
	Src     net.IP // source address of the packet
	IfIndex int    // interface index, 0 means any interface
}

func (c *ControlMessage) String() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	if c.Dst != nil {
		sb.WriteString(fmt.Sprintf("Dst: %s, ", c.Dst))
	}
	if c.Src != nil {
		sb.WriteString(fmt.Sprintf("Src: %s, ", c.Src))
	}
	if c.IfIndex >= 1 {
		sb.WriteString(fmt.Sprintf("IfIndex: %d, ", c.IfIndex))
	}
	return sb.String()
}

// GetIfIndex returns the interface index of the network interface. 0 means no interface index specified.
func (c *ControlMessage) GetIfIndex() int {
	if c == nil {
		return 0
	}
	return c.IfIndex
}

// ReplyTo returns the control message for answering a datagram received with c:
// the reply leaves from the address the datagram was sent to.
func (c *ControlMessage) ReplyTo() *ControlMessage {
	if c == nil || (c.Dst == nil && c.IfIndex == 0) {
		return nil
	}
	return &ControlMessage{
		Src:     c.Dst,
		IfIndex: c.IfIndex,
	}
}

type packetConn interface {
	WriteTo(b []byte, cm *ControlMessage, dst net.Addr) (n int, err error)
	ReadFrom(b []byte) (n int, cm *ControlMessage, src net.Addr, err error)
	SupportsControlMessage() bool
	IsIPv6() bool
}

type packetConnIPv4 struct {
	packetConn             *ipv4.PacketConn
	supportsControlMessage bool
}

func newPacketConnIPv4(p *ipv4.PacketConn) *packetConnIPv4 {
	if err := p.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface|ipv4.FlagSrc, true); err != nil {
		return &packetConnIPv4{packetConn: p, supportsControlMessage: false}
	}
	return &packetConnIPv4{packetConn: p, supportsControlMessage: true}
}

func (p *packetConnIPv4) SupportsControlMessage() bool {
	return p.supportsControlMessage
}

func (p *packetConnIPv4) IsIPv6() bool {
	return false
}

func (p *packetConnIPv4) WriteTo(b []byte, cm *ControlMessage, dst net.Addr) (n int, err error) {
	var c *ipv4.ControlMessage
	if cm != nil && p.supportsControlMessage {
		c = &ipv4.ControlMessage{
			Src:     cm.Src,
			IfIndex: cm.IfIndex,
		}
	}
	return p.packetConn.WriteTo(b, c, dst)
}

func (p *packetConnIPv4) ReadFrom(b []byte) (int, *ControlMessage, net.Addr, error) {
	n, cm, src, err := p.packetConn.ReadFrom(b)
	if err != nil {
		return -1, nil, nil, err
	}
	var controlMessage *ControlMessage
	if p.supportsControlMessage && cm != nil {
		controlMessage = &ControlMessage{
			Dst:     cm.Dst,
			Src:     cm.Src,
			IfIndex: cm.IfIndex,
		}
	}
	return n, controlMessage, src, err
}

type packetConnIPv6 struct {
	packetConn             *ipv6.PacketConn
	supportsControlMessage bool
}

func newPacketConnIPv6(p *ipv6.PacketConn) *packetConnIPv6 {
	if err := p.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface|ipv6.FlagSrc, true); err != nil {
		return &packetConnIPv6{packetConn: p, supportsControlMessage: false}
	}
	return &packetConnIPv6{packetConn: p, supportsControlMessage: true}
}

func (p *packetConnIPv6) SupportsControlMessage() bool {
	return p.supportsControlMessage
}

func (p *packetConnIPv6) IsIPv6() bool {
	return true
}

func (p *packetConnIPv6) ReadFrom(b []byte) (int, *ControlMessage, net.Addr, error) {
	n, cm, src, err := p.packetConn.ReadFrom(b)
	if err != nil {
		return -1, nil, nil, err
	}
	var controlMessage *ControlMessage
	if p.supportsControlMessage && cm != nil {
		controlMessage = &ControlMessage{
			Dst:     cm.Dst,
			Src:     cm.Src,
			IfIndex: cm.IfIndex,
		}
	}
	return n, controlMessage, src, err
}

func (p *packetConnIPv6) WriteTo(b []byte, cm *ControlMessage, dst net.Addr) (n int, err error) {
	var c *ipv6.ControlMessage
	if cm != nil && p.supportsControlMessage {
		c = &ipv6.ControlMessage{
			Src:     cm.Src,
			IfIndex: cm.IfIndex,
		}
	}
	return p.packetConn.WriteTo(b, c, dst)
}

// IsIPv6 return's true if addr is IPV6.
func IsIPv6(addr net.IP) bool {
	if ip := addr.To16(); ip != nil && ip.To4() == nil {
		return true
	}
	return false
}

// NewListenUDP binds a udp socket on addr.
func NewListenUDP(network, addr string) (*UDPConn, error) {
	listenAddress, err := net.ResolveUDPAddr(network, addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, listenAddress)
	if err != nil {
		return nil, err
	}
	c, err := NewUDPConn(network, conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func newPacketConn(c *net.UDPConn) (packetConn, error) {
	laddr := c.LocalAddr()
	if laddr == nil {
		return nil, errors.New("invalid UDP connection")
	}
	addr, ok := laddr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("invalid address type(%T), UDP address expected", laddr)
	}
	if IsIPv6(addr.IP) {
		return newPacketConnIPv6(ipv6.NewPacketConn(c)), nil
	}
	return newPacketConnIPv4(ipv4.NewPacketConn(c)), nil
}

// NewUDPConn creates connection over net.UDPConn.
func NewUDPConn(network string, c *net.UDPConn) (*UDPConn, error) {
	pc, err := newPacketConn(c)
	if err != nil {
		return nil, err
	}
	return &UDPConn{
		network:    network,
		connection: c,
		packetConn: pc,
	}, nil
}

// LocalAddr returns the local network address. The Addr returned is shared by all invocations of LocalAddr, so do not modify it.
func (c *UDPConn) LocalAddr() net.Addr {
	return c.connection.LocalAddr()
}

// Network name of the network (for example, udp4, udp6, udp)
func (c *UDPConn) Network() string {
	return c.network
}

// SupportsControlMessage reports whether received datagrams carry a ControlMessage.
func (c *UDPConn) SupportsControlMessage() bool {
	return c.packetConn.SupportsControlMessage()
}

// Close closes the connection.
func (c *UDPConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.connection.Close()
}

func (c *UDPConn) writeTo(raddr *net.UDPAddr, cm *ControlMessage, buffer []byte) (int, error) {
	// On Linux, UDP network binds both IPv6 and IPv4 addresses to the same socket.
	// When receiving a packet from an IPv4 address, we cannot send a packet from an IPv6 address.
	// Therefore, we wrap the connection using an IPv4 packet connection (packetConn).
	if !IsIPv6(raddr.IP) && c.packetConn.IsIPv6() {
		pc := packetConnIPv4{packetConn: ipv4.NewPacketConn(c.connection)}
		if cm != nil && cm.Src.To4() != nil {
			pc.supportsControlMessage = true
		}
		return pc.WriteTo(buffer, cm, raddr)
	}
	return c.packetConn.WriteTo(buffer, cm, raddr)
}

// WriteWithContext writes a datagram to raddr. A non-nil cm selects the source address and interface.
func (c *UDPConn) WriteWithContext(ctx context.Context, raddr *net.UDPAddr, cm *ControlMessage, buffer []byte) error {
	if raddr == nil {
		return fmt.Errorf("cannot write with context: %w", ErrInvalidRemoteAddr)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if c.closed.Load() {
		return ErrConnectionIsClosed
	}
	n, err := c.writeTo(raddr, cm, buffer)
	if err != nil {
		return err
	}
	if n != len(buffer) {
		return ErrWriteInterrupted
	}
	return nil
}

// ReadWithContext reads a datagram. The returned control message is nil when the platform does not provide one.
func (c *UDPConn) ReadWithContext(ctx context.Context, buffer []byte) (int, *net.UDPAddr, *ControlMessage, error) {
	select {
	case <-ctx.Done():
		return -1, nil, nil, ctx.Err()
	default:
	}
	if c.closed.Load() {
		return -1, nil, nil, ErrConnectionIsClosed
	}
	n, cm, srcAddr, err := c.packetConn.ReadFrom(buffer)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("cannot read from udp connection: %w", err)
	}
	udpAddr, ok := srcAddr.(*net.UDPAddr)
	if !ok {
		return -1, nil, nil, fmt.Errorf("cannot read from udp connection: invalid srcAddr type %T", srcAddr)
	}
	return n, udpAddr, cm, nil
}
