package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	receiveBufferSize  = 2048
	receiveReadTimeout = 100 * time.Millisecond
)

var (
	// ErrTransportClosed is returned by Send after Close.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrNoRemote is returned by Send when no remote address is set.
	ErrNoRemote = errors.New("no remote address")
)

// DatagramHandler processes one received datagram. The slice is owned by
// the handler.
type DatagramHandler func(datagram []byte, addr net.Addr)

// UDPTransport exchanges media datagrams with the voice server. Send is
// safe for concurrent use; received datagrams are delivered in order on a
// single goroutine.
type UDPTransport struct {
	conn   net.PacketConn
	remote net.Addr

	mu      sync.RWMutex
	handler DatagramHandler
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DialUDP binds localAddr and targets the voice server at remoteAddr.
func DialUDP(localAddr, remoteAddr string) (*UDPTransport, error) {
	remote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voice server %q: %w", remoteAddr, err)
	}

	conn, err := net.ListenPacket("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %q: %w", localAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialUDP",
		"local":    conn.LocalAddr().String(),
		"remote":   remote.String(),
	}).Info("UDP transport bound")

	return NewUDPTransport(conn, remote), nil
}

// NewUDPTransport wraps an existing packet connection.
func NewUDPTransport(conn net.PacketConn, remote net.Addr) *UDPTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPTransport{
		conn:   conn,
		remote: remote,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetHandler sets the receiver of inbound datagrams.
func (t *UDPTransport) SetHandler(handler DatagramHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start launches the receive loop.
func (t *UDPTransport) Start() {
	t.wg.Add(1)
	go t.processPackets()
}

// Send writes one datagram to the voice server.
func (t *UDPTransport) Send(datagram []byte) error {
	t.mu.RLock()
	closed := t.closed
	remote := t.remote
	t.mu.RUnlock()

	if closed {
		return ErrTransportClosed
	}
	if remote == nil {
		return ErrNoRemote
	}

	_, err := t.conn.WriteTo(datagram, remote)
	return err
}

// SetRemote changes the voice server address, for example after the
// gateway moves the session.
func (t *UDPTransport) SetRemote(remote net.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = remote
}

// LocalAddr returns the local address the transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close stops the receive loop and closes the socket.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"local":    t.conn.LocalAddr().String(),
	}).Info("UDP transport closed")

	return err
}

// processPackets handles incoming packets.
func (t *UDPTransport) processPackets() {
	defer t.wg.Done()
	buffer := make([]byte, receiveBufferSize)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		data, addr, err := t.readPacketData(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		t.dispatch(data, addr)
	}
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(receiveReadTimeout))

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, t.handleReadError(err)
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	return data, addr, nil
}

// handleReadError logs unexpected read errors. Timeouts only let the loop
// observe cancellation.
func (t *UDPTransport) handleReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	if errors.Is(err, net.ErrClosed) {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "processPackets",
		"error":    err.Error(),
	}).Warn("UDP read failed")
	return err
}

func (t *UDPTransport) dispatch(data []byte, addr net.Addr) {
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()

	if handler != nil {
		handler(data, addr)
	}
}
