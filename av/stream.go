package av

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
)

// EndPolicy decides when a participant stream ends on its own.
type EndPolicy int

const (
	// EndManual streams stay open until closed by the consumer or the handler.
	EndManual EndPolicy = iota
	// EndOnSilence streams end when the participant stops speaking.
	EndOnSilence
)

func (p EndPolicy) String() string {
	if p == EndOnSilence {
		return "silence"
	}
	return "manual"
}

// DefaultStreamBuffer is the number of payloads a stream holds before new
// payloads are dropped.
const DefaultStreamBuffer = 64

// ParticipantStream delivers decrypted media payloads of one participant.
// Payloads are dropped, not queued without bound, when the consumer falls
// behind.
type ParticipantStream struct {
	id            string
	participantID string
	end           EndPolicy
	packets       chan []byte
	done          chan struct{}
	onClose       func(*ParticipantStream)

	mu      sync.Mutex
	closed  bool
	err     error
	dropped uint64
}

func newParticipantStream(participantID string, end EndPolicy, buffer int, onClose func(*ParticipantStream)) *ParticipantStream {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &ParticipantStream{
		id:            uuid.NewString(),
		participantID: participantID,
		end:           end,
		packets:       make(chan []byte, buffer),
		done:          make(chan struct{}),
		onClose:       onClose,
	}
}

// ID returns a unique identifier used to correlate log entries.
func (s *ParticipantStream) ID() string { return s.id }

// ParticipantID returns the participant the stream belongs to.
func (s *ParticipantStream) ParticipantID() string { return s.participantID }

// EndPolicy returns the stream's end policy.
func (s *ParticipantStream) EndPolicy() EndPolicy { return s.end }

// Dropped returns the number of payloads discarded because the buffer was full.
func (s *ParticipantStream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// push queues a payload without blocking. It reports false when the stream
// is closed or full.
func (s *ParticipantStream) push(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.packets <- payload:
		return true
	default:
		s.dropped++
		return false
	}
}

// Read returns the next payload. Payloads queued before the stream ended
// are still delivered; after that Read returns io.EOF for a clean end or
// the error the stream failed with.
func (s *ParticipantStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case p := <-s.packets:
		return p, nil
	default:
	}

	select {
	case p := <-s.packets:
		return p, nil
	case <-s.done:
		select {
		case p := <-s.packets:
			return p, nil
		default:
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the stream ends.
func (s *ParticipantStream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error the stream failed with, or nil.
func (s *ParticipantStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream. It is safe to call more than once.
func (s *ParticipantStream) Close() error {
	s.closeWithError(nil)
	return nil
}

func (s *ParticipantStream) closeWithError(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s)
	}
}
