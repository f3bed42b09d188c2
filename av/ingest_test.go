package av

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu      sync.Mutex
	packets [][]byte
	err     error
}

func (w *recordingWriter) WriteRTP(packet []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, append([]byte(nil), packet...))
	return w.err
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packets)
}

func rtpWithPayloadType(pt byte) []byte {
	packet := make([]byte, 16)
	packet[0] = 0x80
	packet[1] = pt
	return packet
}

func TestIngestRoute(t *testing.T) {
	videoW, audioW := &recordingWriter{}, &recordingWriter{}
	in := NewIngest(nil, videoW, audioW)

	require.NoError(t, in.Route(rtpWithPayloadType(IngestVideoPayloadType)))
	require.NoError(t, in.Route(rtpWithPayloadType(IngestVideoPayloadType|0x80)))
	require.NoError(t, in.Route(rtpWithPayloadType(IngestAudioPayloadType)))
	require.NoError(t, in.Route(rtpWithPayloadType(100)))
	require.NoError(t, in.Route([]byte{0x80}))

	assert.Equal(t, 2, videoW.count())
	assert.Equal(t, 1, audioW.count())

	routed, ignored := in.Stats()
	assert.Equal(t, uint64(3), routed)
	assert.Equal(t, uint64(2), ignored)
}

func TestIngestRouteWithoutAudio(t *testing.T) {
	videoW := &recordingWriter{}
	in := NewIngest(nil, videoW, nil)

	require.NoError(t, in.Route(rtpWithPayloadType(IngestAudioPayloadType)))
	_, ignored := in.Stats()
	assert.Equal(t, uint64(1), ignored)

	replacement := &recordingWriter{}
	in.SetVideo(replacement)
	in.SetAudio(&recordingWriter{})
	require.NoError(t, in.Route(rtpWithPayloadType(IngestVideoPayloadType)))
	assert.Equal(t, 0, videoW.count())
	assert.Equal(t, 1, replacement.count())
}

func TestIngestRouteReturnsWriterError(t *testing.T) {
	failure := errors.New("dispatcher is gone")
	in := NewIngest(nil, &recordingWriter{err: failure}, nil)
	assert.ErrorIs(t, in.Route(rtpWithPayloadType(IngestVideoPayloadType)), failure)
}

func TestIngestRunOverLoopback(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	videoW, audioW := &recordingWriter{err: errors.New("ignored")}, &recordingWriter{}
	in := NewIngest(conn, videoW, audioW)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	client, err := net.Dial("udp", in.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 3; i++ {
		_, err = client.Write(rtpWithPayloadType(IngestVideoPayloadType))
		require.NoError(t, err)
	}
	_, err = client.Write(rtpWithPayloadType(IngestAudioPayloadType))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return videoW.count() == 3 && audioW.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, in.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestIngestRunStopsOnCancel(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	in := NewIngest(conn, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
