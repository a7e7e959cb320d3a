package net

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T) *UDPConnector {
	c, err := ListenUDP("udp4", "127.0.0.1:0", ConnectorConfig{
		Errors: func(err error) { t.Log(err) },
	})
	require.NoError(t, err)
	return c
}

func TestUDPConnectorSendReceive(t *testing.T) {
	a := newTestConnector(t)
	b := newTestConnector(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan RawData, 1)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := a.Serve(ctx, func(RawData) {})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		err := b.Serve(ctx, func(d RawData) {
			received <- d
		})
		assert.NoError(t, err)
	}()

	err := a.Send(RawData{
		Data:       []byte("hello world"),
		RemoteAddr: b.LocalAddr().(*net.UDPAddr),
	})
	require.NoError(t, err)

	select {
	case d := <-received:
		assert.Equal(t, []byte("hello world"), d.Data)
		assert.Equal(t, a.LocalAddr().(*net.UDPAddr).Port, d.RemoteAddr.Port)
	case <-time.After(time.Second * 5):
		require.FailNow(t, "datagram not received")
	}

	cancel()
	wg.Wait()

	err = a.Send(RawData{Data: []byte("x"), RemoteAddr: b.LocalAddr().(*net.UDPAddr)})
	require.ErrorIs(t, err, ErrConnectionIsClosed)
}

func TestUDPConnectorClose(t *testing.T) {
	c := newTestConnector(t)
	done := make(chan error, 1)
	go func() {
		done <- c.Serve(context.Background(), func(RawData) {})
	}()
	time.Sleep(time.Millisecond * 50)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 5):
		require.FailNow(t, "serve did not return")
	}
}

func TestUDPConnectorSendWithoutAddr(t *testing.T) {
	c := newTestConnector(t)
	defer func() {
		_ = c.Close()
	}()
	require.ErrorIs(t, c.Send(RawData{Data: []byte{1}}), ErrInvalidRemoteAddr)
}

func TestControlMessageReplyTo(t *testing.T) {
	var cm *ControlMessage
	require.Nil(t, cm.ReplyTo())
	require.Equal(t, 0, cm.GetIfIndex())
	require.Equal(t, "", cm.String())

	cm = &ControlMessage{Dst: net.IPv4(127, 0, 0, 1), Src: net.IPv4(10, 0, 0, 1), IfIndex: 2}
	reply := cm.ReplyTo()
	require.NotNil(t, reply)
	assert.True(t, reply.Src.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Nil(t, reply.Dst)
	assert.Equal(t, 2, reply.GetIfIndex())
	assert.Contains(t, cm.String(), "IfIndex: 2")
}

func TestIsIPv6(t *testing.T) {
	assert.False(t, IsIPv6(net.IPv4(127, 0, 0, 1)))
	assert.True(t, IsIPv6(net.ParseIP("::1")))
}

func TestUDPConnWriteCanceled(t *testing.T) {
	conn, err := NewListenUDP("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raddr := conn.LocalAddr().(*net.UDPAddr)
	require.ErrorIs(t, conn.WriteWithContext(ctx, raddr, nil, []byte("x")), context.Canceled)
	require.ErrorIs(t, conn.WriteWithContext(context.Background(), nil, nil, []byte("x")), ErrInvalidRemoteAddr)
	require.NoError(t, conn.Close())
	require.ErrorIs(t, conn.WriteWithContext(context.Background(), raddr, nil, []byte("x")), ErrConnectionIsClosed)
	_, _, _, err = conn.ReadWithContext(context.Background(), make([]byte, 10))
	require.ErrorIs(t, err, ErrConnectionIsClosed)
}
