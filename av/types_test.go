package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherStateString(t *testing.T) {
	tests := []struct {
		state    DispatcherState
		want     string
		terminal bool
	}{
		{StateIdle, "idle", false},
		{StateStarted, "started", false},
		{StateStreaming, "streaming", false},
		{StateFinished, "finished", true},
		{StateErrored, "errored", true},
		{DispatcherState(42), "DispatcherState(42)", false},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}
}

func TestSpeakingFlags(t *testing.T) {
	flags := SpeakingMicrophone | SpeakingPriority

	assert.True(t, flags.Has(SpeakingMicrophone))
	assert.True(t, flags.Has(SpeakingPriority))
	assert.False(t, flags.Has(SpeakingSoundshare))
	assert.False(t, flags.Has(SpeakingMicrophone|SpeakingSoundshare))

	assert.True(t, SpeakingEvent{Flags: SpeakingSoundshare}.Speaking())
	assert.False(t, SpeakingEvent{}.Speaking())
}
