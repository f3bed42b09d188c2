package av

import (
	"fmt"
	"time"

	"github.com/pion/rtcp"
)

// DispatcherState represents the lifecycle of an outbound dispatcher.
type DispatcherState int

const (
	// StateIdle means no unit has been sent yet.
	StateIdle DispatcherState = iota
	// StateStarted means the first unit was accepted and the start event fired.
	StateStarted
	// StateStreaming means at least one datagram has been produced.
	StateStreaming
	// StateFinished means the dispatcher was closed by its owner.
	StateFinished
	// StateErrored means the dispatcher stopped after an unrecoverable error.
	StateErrored
)

// String returns the string representation of the dispatcher state.
func (s DispatcherState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("DispatcherState(%d)", int(s))
	}
}

// Terminal reports whether no further packets will be emitted.
func (s DispatcherState) Terminal() bool {
	return s == StateFinished || s == StateErrored
}

// SpeakingFlags is the bit set announced in speaking updates.
type SpeakingFlags uint8

const (
	// SpeakingMicrophone is normal voice transmission.
	SpeakingMicrophone SpeakingFlags = 1 << iota
	// SpeakingSoundshare is context audio from a shared screen or stream.
	SpeakingSoundshare
	// SpeakingPriority is a priority speaker.
	SpeakingPriority
)

// Has reports whether all bits of flag are set.
func (f SpeakingFlags) Has(flag SpeakingFlags) bool {
	return f&flag == flag
}

// SpeakingEvent is emitted when an SSRC starts or stops sending voice.
// Flags is zero for a stop event.
type SpeakingEvent struct {
	ParticipantID string
	SSRC          uint32
	Flags         SpeakingFlags
}

// Speaking reports whether the event announces speech.
func (e SpeakingEvent) Speaking() bool {
	return e.Flags != 0
}

// ReceiverReportEvent carries the report blocks of one inbound receiver report.
type ReceiverReportEvent struct {
	SenderSSRC uint32
	Reports    []rtcp.ReceptionReport
}

// DispatcherCallbacks are the typed events of an outbound dispatcher. All
// callbacks are optional and are invoked without internal locks held.
type DispatcherCallbacks struct {
	// OnStart fires once, when the first unit is accepted.
	OnStart func(startedAt time.Time)
	// OnFinish fires once, when the dispatcher is closed.
	OnFinish func(streamed time.Duration)
	// OnDebug receives non-fatal diagnostics such as transport send failures.
	OnDebug func(message string)
	// OnError fires when the dispatcher moves to StateErrored.
	OnError func(err error)
	// OnSpeaking fires when the dispatcher's own speaking flag changes.
	OnSpeaking func(speaking bool)
	// OnReceiverReport receives parsed RTCP receiver reports.
	OnReceiverReport func(event ReceiverReportEvent)
}

// HandlerCallbacks are the typed events of the inbound packet handler.
type HandlerCallbacks struct {
	// OnSpeaking fires on speaking started and stopped transitions.
	OnSpeaking func(event SpeakingEvent)
	// OnError fires when an active participant stream fails.
	OnError func(participantID string, err error)
}
