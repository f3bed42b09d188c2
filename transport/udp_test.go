package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers datagrams delivered to a handler.
type collector struct {
	mu        sync.Mutex
	datagrams [][]byte
}

func (c *collector) handle(datagram []byte, _ net.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datagrams = append(c.datagrams, datagram)
}

func (c *collector) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.datagrams...)
}

func newLoopbackPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()

	connA, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	connB, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	a := NewUDPTransport(connA, connB.LocalAddr())
	b := NewUDPTransport(connB, connA.LocalAddr())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestUDPTransportSendReceive(t *testing.T) {
	a, b := newLoopbackPair(t)

	sink := &collector{}
	b.SetHandler(sink.handle)
	b.Start()

	payloads := [][]byte{{0x90, 0x65, 0x01}, {0x90, 0x65, 0x02}, {0x90, 0xe5, 0x03}}
	for _, p := range payloads {
		require.NoError(t, a.Send(p))
	}

	require.Eventually(t, func() bool {
		return len(sink.received()) == len(payloads)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, payloads, sink.received())
}

func TestUDPTransportHandlerOwnsBuffer(t *testing.T) {
	a, b := newLoopbackPair(t)

	sink := &collector{}
	b.SetHandler(sink.handle)
	b.Start()

	require.NoError(t, a.Send([]byte{0x01, 0x02}))
	require.NoError(t, a.Send([]byte{0x03, 0x04}))

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := sink.received()
	assert.Equal(t, []byte{0x01, 0x02}, got[0], "earlier datagram must not be overwritten")
}

func TestUDPTransportSendAfterClose(t *testing.T) {
	a, _ := newLoopbackPair(t)
	a.Start()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send([]byte{0x01}), ErrTransportClosed)
}

func TestUDPTransportNoRemote(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	tr := NewUDPTransport(conn, nil)
	defer tr.Close()
	assert.ErrorIs(t, tr.Send([]byte{0x01}), ErrNoRemote)

	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	tr.SetRemote(peer.LocalAddr())
	require.NoError(t, tr.Send([]byte{0x07}))

	buf := make([]byte, 16)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07}, buf[:n])
}

func TestDialUDP(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()

	tr, err := DialUDP("127.0.0.1:0", peer.LocalAddr().String())
	require.NoError(t, err)
	defer tr.Close()
	assert.NotNil(t, tr.LocalAddr())

	_, err = DialUDP("127.0.0.1:0", "not a host:port:at all")
	assert.Error(t, err)
}
