package av

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Payload types used by the local encoder for its two RTP outputs.
const (
	IngestVideoPayloadType = 96
	IngestAudioPayloadType = 97
)

// Ingest port range probed by the local listener, inclusive.
const (
	IngestFirstPort = 41234
	IngestLastPort  = 41239
)

const (
	ingestBufferSize   = 2048
	ingestReadDeadline = 100 * time.Millisecond
)

// RTPWriter accepts complete RTP packets from a local encoder.
type RTPWriter interface {
	WriteRTP(packet []byte) error
}

// Ingest reads RTP from a local encoder and routes each packet by payload
// type: video to one writer, audio to another.
type Ingest struct {
	conn net.PacketConn

	mu      sync.RWMutex
	video   RTPWriter
	audio   RTPWriter
	routed  uint64
	ignored uint64
}

// NewIngest creates an ingest reading from conn. Either writer may be nil,
// in which case packets of that kind are ignored.
func NewIngest(conn net.PacketConn, video, audio RTPWriter) *Ingest {
	return &Ingest{conn: conn, video: video, audio: audio}
}

// LocalAddr returns the address the encoder should send to.
func (in *Ingest) LocalAddr() net.Addr {
	return in.conn.LocalAddr()
}

// SetVideo replaces the video writer.
func (in *Ingest) SetVideo(w RTPWriter) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.video = w
}

// SetAudio replaces the audio writer.
func (in *Ingest) SetAudio(w RTPWriter) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.audio = w
}

// Stats returns the number of packets routed and ignored so far.
func (in *Ingest) Stats() (routed, ignored uint64) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.routed, in.ignored
}

// Route delivers one packet to the writer for its payload type.
func (in *Ingest) Route(packet []byte) error {
	if len(packet) < 2 {
		in.count(false)
		return nil
	}

	in.mu.RLock()
	var target RTPWriter
	switch packet[1] & 0x7f {
	case IngestVideoPayloadType:
		target = in.video
	case IngestAudioPayloadType:
		target = in.audio
	}
	in.mu.RUnlock()

	if target == nil {
		in.count(false)
		return nil
	}
	in.count(true)
	return target.WriteRTP(packet)
}

func (in *Ingest) count(routed bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if routed {
		in.routed++
	} else {
		in.ignored++
	}
}

// Run reads packets until ctx is cancelled or the connection is closed.
// Write errors are logged and do not stop the loop.
func (in *Ingest) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Ingest.Run",
		"addr":     in.conn.LocalAddr().String(),
	}).Info("Local RTP ingest listening")

	buffer := make([]byte, ingestBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = in.conn.SetReadDeadline(time.Now().Add(ingestReadDeadline))
		n, _, err := in.conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if err := in.Route(buffer[:n]); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "Ingest.Run",
				"payload_type": buffer[1] & 0x7f,
				"error":        err.Error(),
			}).Debug("Failed to forward ingest packet")
		}
	}
}

// Close closes the underlying connection, ending Run.
func (in *Ingest) Close() error {
	return in.conn.Close()
}
