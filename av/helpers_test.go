package av

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/mediagate/av/rtp"
	"github.com/opd-ai/mediagate/crypto"
)

var testSecret = bytes.Repeat([]byte{0x42}, crypto.KeySize)

// mockSender records every datagram handed to the transport.
type mockSender struct {
	mu        sync.Mutex
	datagrams [][]byte
	err       error
}

func (m *mockSender) Send(datagram []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.datagrams = append(m.datagrams, append([]byte(nil), datagram...))
	return nil
}

func (m *mockSender) sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.datagrams...)
}

func (m *mockSender) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datagrams = nil
}

func (m *mockSender) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// fakeClock is a TimeProvider advanced by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEncryption(t *testing.T, mode crypto.EncryptionMode) *crypto.EncryptionContext {
	t.Helper()
	enc, err := crypto.NewEncryptionContext(testSecret, mode)
	require.NoError(t, err)
	return enc
}

// openedPacket is an outbound datagram taken apart again.
type openedPacket struct {
	header    rtp.Header
	extension []byte
	payload   []byte
}

func openDatagram(t *testing.T, enc *crypto.EncryptionContext, datagram []byte) openedPacket {
	t.Helper()

	header, err := rtp.ParseHeader(datagram)
	require.NoError(t, err)

	plaintext, err := enc.Open(datagram, rtp.HeaderSize)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(plaintext), rtp.ExtensionBlockSize)

	return openedPacket{
		header:    header,
		extension: plaintext[:rtp.ExtensionBlockSize],
		payload:   plaintext[rtp.ExtensionBlockSize:],
	}
}

// streamingSequence reads the sequence carried in the extension block.
func (p openedPacket) streamingSequence() uint16 {
	return uint16(p.extension[13])<<8 | uint16(p.extension[14])
}

// sealRTP builds an inbound voice datagram the way a remote client would.
func sealRTP(t *testing.T, enc *crypto.EncryptionContext, ssrc uint32, seq uint16, payload []byte) []byte {
	t.Helper()

	header, err := rtp.MarshalHeader(120, false, seq, uint32(seq)*960, ssrc)
	require.NoError(t, err)

	ext := rtp.BuildExtension(time.Now(), seq)
	plaintext := append(ext[:], payload...)

	datagram, err := enc.Seal(header, plaintext)
	require.NoError(t, err)
	return datagram
}

// sealRTCP builds an inbound RTCP datagram with an encrypted body.
func sealRTCP(t *testing.T, enc *crypto.EncryptionContext, count uint8, packetType uint8, sender uint32, body []byte) []byte {
	t.Helper()

	header := []byte{
		0x80 | count, packetType, 0x00, byte(len(body) / 4),
		byte(sender >> 24), byte(sender >> 16), byte(sender >> 8), byte(sender),
	}
	datagram, err := enc.Seal(header, body)
	require.NoError(t, err)
	return datagram
}

var errNetworkDown = errors.New("network is down")
