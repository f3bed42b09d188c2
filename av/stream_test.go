package av

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticipantStreamReadAfterClose(t *testing.T) {
	s := newParticipantStream("alice", EndManual, 4, nil)

	require.True(t, s.push([]byte{0x01}))
	require.True(t, s.push([]byte{0x02}))
	require.NoError(t, s.Close())
	assert.False(t, s.push([]byte{0x03}), "push after close")

	ctx := context.Background()
	for _, want := range [][]byte{{0x01}, {0x02}} {
		got, err := s.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestParticipantStreamCloseWithError(t *testing.T) {
	var closed []*ParticipantStream
	s := newParticipantStream("bob", EndOnSilence, 4, func(s *ParticipantStream) {
		closed = append(closed, s)
	})

	failure := errors.New("boom")
	s.closeWithError(failure)
	s.closeWithError(errors.New("second"))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Err(), failure)
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, failure)
	assert.Len(t, closed, 1, "onClose runs once")
}

func TestParticipantStreamReadHonoursContext(t *testing.T) {
	s := newParticipantStream("alice", EndManual, 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParticipantStreamReadWakesOnPush(t *testing.T) {
	s := newParticipantStream("alice", EndManual, 1, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.push([]byte{0x09})
	}()

	got, err := readWithin(t, s)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09}, got)
}

func TestParticipantStreamDefaults(t *testing.T) {
	s := newParticipantStream("alice", EndOnSilence, 0, nil)

	assert.Equal(t, DefaultStreamBuffer, cap(s.packets))
	assert.Equal(t, "alice", s.ParticipantID())
	assert.Equal(t, EndOnSilence, s.EndPolicy())
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "silence", EndOnSilence.String())
	assert.Equal(t, "manual", EndManual.String())
}
