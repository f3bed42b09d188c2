package av

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/mediagate/av/rtp"
	"github.com/opd-ai/mediagate/crypto"
)

// DefaultSpeakingDelay is the quiet window after which an SSRC is
// considered to have stopped speaking.
const DefaultSpeakingDelay = 250 * time.Millisecond

const (
	rtcpReceiverReport  = rtcp.TypeReceiverReport
	rtcpPayloadFeedback = rtcp.TypePayloadSpecificFeedback
)

// SilenceFrame is the Opus frame clients send as a keepalive while muted.
var SilenceFrame = []byte{0xf8, 0xff, 0xfe}

// SilencePolicy selects which participants have silence frames filtered.
type SilencePolicy int

const (
	// SilenceFilterVideo filters silence frames only for participants with video.
	SilenceFilterVideo SilencePolicy = iota
	// SilenceFilterAll filters silence frames for every participant.
	SilenceFilterAll
	// SilenceFilterNone never filters silence frames.
	SilenceFilterNone
)

// RTCPPacket is an inbound RTCP packet with its body decrypted.
type RTCPPacket struct {
	Header rtp.RTCPHeader
	Body   []byte
}

// RTCPHandler receives decrypted RTCP packets.
type RTCPHandler interface {
	HandleRTCP(pkt RTCPPacket) error
}

// HandlerConfig configures a PacketHandler.
type HandlerConfig struct {
	SpeakingDelay time.Duration
	StreamBuffer  int
	SilencePolicy SilencePolicy
	Metrics       *Metrics
	Callbacks     HandlerCallbacks
}

type speakingTimer struct {
	timer         *time.Timer
	generation    uint64
	participantID string
}

// PacketHandler demultiplexes inbound datagrams into participant streams.
// Push may be called from any goroutine.
type PacketHandler struct {
	encryption    *crypto.EncryptionContext
	ssrcs         SSRCMap
	speakingDelay time.Duration
	streamBuffer  int
	silence       SilencePolicy
	metrics       *Metrics
	callbacks     HandlerCallbacks

	mu       sync.Mutex
	closed   bool
	rtcp     RTCPHandler
	streams  map[string]*ParticipantStream
	speaking map[uint32]*speakingTimer
	trackers map[uint32]*rtp.SequenceTracker
}

// NewPacketHandler creates a handler decrypting with encryption and
// attributing packets through ssrcs.
func NewPacketHandler(encryption *crypto.EncryptionContext, ssrcs SSRCMap, config HandlerConfig) (*PacketHandler, error) {
	if encryption == nil {
		return nil, ErrNilEncryption
	}
	if ssrcs == nil {
		return nil, ErrNilSSRCMap
	}
	if config.SpeakingDelay <= 0 {
		config.SpeakingDelay = DefaultSpeakingDelay
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = DefaultStreamBuffer
	}

	logrus.WithFields(logrus.Fields{
		"function":       "NewPacketHandler",
		"speaking_delay": config.SpeakingDelay,
		"silence_policy": config.SilencePolicy,
	}).Debug("Creating packet handler")

	return &PacketHandler{
		encryption:    encryption,
		ssrcs:         ssrcs,
		speakingDelay: config.SpeakingDelay,
		streamBuffer:  config.StreamBuffer,
		silence:       config.SilencePolicy,
		metrics:       config.Metrics,
		callbacks:     config.Callbacks,
		streams:       make(map[string]*ParticipantStream),
		speaking:      make(map[uint32]*speakingTimer),
		trackers:      make(map[uint32]*rtp.SequenceTracker),
	}, nil
}

// SetRTCPHandler sets the receiver of inbound RTCP. A nil handler makes the
// packet handler drop RTCP.
func (h *PacketHandler) SetRTCPHandler(handler RTCPHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rtcp = handler
}

// MakeStream returns the stream for a participant, creating it if needed.
// An existing stream keeps its original end policy.
func (h *PacketHandler) MakeStream(participantID string, end EndPolicy) (*ParticipantStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHandlerClosed
	}
	if s, ok := h.streams[participantID]; ok {
		return s, nil
	}

	s := newParticipantStream(participantID, end, h.streamBuffer, h.removeStream)
	h.streams[participantID] = s
	h.metrics.streamOpened()

	logrus.WithFields(logrus.Fields{
		"function":    "MakeStream",
		"participant": participantID,
		"stream":      s.ID(),
		"end":         end.String(),
	}).Debug("Participant stream opened")

	return s, nil
}

func (h *PacketHandler) removeStream(s *ParticipantStream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.streams[s.participantID]; ok && cur == s {
		delete(h.streams, s.participantID)
		h.metrics.streamClosed()
	}
}

// Push processes one inbound datagram. Malformed, unattributable and
// unauthenticated datagrams are dropped without error.
func (h *PacketHandler) Push(datagram []byte) {
	if len(datagram) <= rtp.HeaderSize {
		h.metrics.dropped(dropShort)
		return
	}
	if rtp.IsRTCP(datagram[1]) {
		h.pushRTCP(datagram)
		return
	}

	header, err := rtp.ParseHeader(datagram)
	if err != nil {
		h.metrics.dropped(dropMalformed)
		return
	}

	participant, ok := h.ssrcs.Lookup(header.SSRC)
	if !ok {
		h.metrics.dropped(dropUnknown)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.metrics.dropped(dropClosed)
		return
	}
	stream := h.streams[participant.ID]
	h.mu.Unlock()

	var payload []byte
	parsed := false
	if h.filtersSilence(participant) {
		payload, err = h.parsePayload(datagram)
		parsed = true
		if err != nil {
			if stream != nil {
				h.failStream(stream, err)
				return
			}
			// Noise before the stream was established.
			h.metrics.dropped(dropDecrypt)
			return
		}
		if bytes.Equal(payload, SilenceFrame) {
			// Only EndOnSilence streams end here; a manual stream stays
			// open and the frame is dropped.
			h.metrics.dropped(dropSilence)
			if stream != nil && stream.EndPolicy() == EndOnSilence {
				stream.Close()
			}
			return
		}
	}

	h.touchSpeaking(header.SSRC, participant)
	h.track(header.SSRC, header.SequenceNumber)

	if stream == nil {
		return
	}
	if !parsed {
		payload, err = h.parsePayload(datagram)
		if err != nil {
			h.failStream(stream, err)
			return
		}
	}

	if stream.push(payload) {
		h.metrics.received()
	} else {
		h.metrics.dropped(dropBufferFull)
	}
}

func (h *PacketHandler) filtersSilence(p Participant) bool {
	switch h.silence {
	case SilenceFilterAll:
		return true
	case SilenceFilterNone:
		return false
	default:
		return p.HasVideo
	}
}

// parsePayload decrypts a media datagram and strips its extension block.
func (h *PacketHandler) parsePayload(datagram []byte) ([]byte, error) {
	plaintext, err := h.encryption.Open(datagram, rtp.HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	payload, err := rtp.StripExtension(plaintext)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (h *PacketHandler) failStream(stream *ParticipantStream, err error) {
	logrus.WithFields(logrus.Fields{
		"function":    "Push",
		"participant": stream.ParticipantID(),
		"stream":      stream.ID(),
		"error":       err.Error(),
	}).Warn("Participant stream failed")

	if h.callbacks.OnError != nil {
		h.callbacks.OnError(stream.ParticipantID(), err)
	}
	stream.closeWithError(err)
}

func (h *PacketHandler) pushRTCP(datagram []byte) {
	h.mu.Lock()
	target := h.rtcp
	closed := h.closed
	h.mu.Unlock()

	if closed || target == nil {
		return
	}

	header, err := rtp.ParseRTCPHeader(datagram)
	if err != nil {
		h.metrics.dropped(dropMalformed)
		return
	}
	body, err := h.encryption.Open(datagram, rtp.RTCPHeaderSize)
	if err != nil {
		h.metrics.dropped(dropDecrypt)
		return
	}

	if err := target.HandleRTCP(RTCPPacket{Header: header, Body: body}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "Push",
			"payload_type": uint8(header.PayloadType),
			"report_count": header.ReportCount,
			"error":        err.Error(),
		}).Debug("RTCP packet not handled")
	}
}

// touchSpeaking emits speaking started for a new SSRC and re-arms its quiet
// timer otherwise.
func (h *PacketHandler) touchSpeaking(ssrc uint32, p Participant) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	if st, ok := h.speaking[ssrc]; ok {
		st.timer.Stop()
		st.generation++
		st.timer = h.armSpeakingTimer(ssrc, st.generation)
		h.mu.Unlock()
		return
	}

	st := &speakingTimer{participantID: p.ID}
	st.timer = h.armSpeakingTimer(ssrc, st.generation)
	h.speaking[ssrc] = st
	h.mu.Unlock()

	flags := p.Speaking
	if flags == 0 {
		flags = SpeakingMicrophone
	}
	h.metrics.speakingChanged(true)
	h.emitSpeaking(SpeakingEvent{ParticipantID: p.ID, SSRC: ssrc, Flags: flags})
}

func (h *PacketHandler) armSpeakingTimer(ssrc uint32, generation uint64) *time.Timer {
	return time.AfterFunc(h.speakingDelay, func() {
		h.stoppedSpeaking(ssrc, generation)
	})
}

// stoppedSpeaking runs on the timer goroutine. A fire from a timer that has
// since been refreshed carries a stale generation and is discarded.
func (h *PacketHandler) stoppedSpeaking(ssrc uint32, generation uint64) {
	h.mu.Lock()
	st, ok := h.speaking[ssrc]
	if h.closed || !ok || st.generation != generation {
		h.mu.Unlock()
		return
	}
	delete(h.speaking, ssrc)

	var ended *ParticipantStream
	if s, ok := h.streams[st.participantID]; ok && s.EndPolicy() == EndOnSilence {
		ended = s
	}
	h.mu.Unlock()

	h.metrics.speakingChanged(false)
	h.emitSpeaking(SpeakingEvent{ParticipantID: st.participantID, SSRC: ssrc})
	if ended != nil {
		ended.Close()
	}
}

func (h *PacketHandler) emitSpeaking(event SpeakingEvent) {
	logrus.WithFields(logrus.Fields{
		"function":    "speaking",
		"participant": event.ParticipantID,
		"ssrc":        event.SSRC,
		"flags":       event.Flags,
	}).Debug("Speaking state changed")

	if h.callbacks.OnSpeaking != nil {
		h.callbacks.OnSpeaking(event)
	}
}

func (h *PacketHandler) track(ssrc uint32, sequence uint16) {
	h.mu.Lock()
	tracker, ok := h.trackers[ssrc]
	if !ok {
		tracker = rtp.NewSequenceTracker()
		h.trackers[ssrc] = tracker
	}
	_, lost := tracker.Update(sequence)
	h.mu.Unlock()

	h.metrics.lost(lost)
}

// ReceiveStats returns the packets received from and lost by an SSRC.
func (h *PacketHandler) ReceiveStats(ssrc uint32) (received, lost uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tracker, ok := h.trackers[ssrc]
	if !ok {
		return 0, 0, false
	}
	received, lost = tracker.Stats()
	return received, lost, true
}

// IsSpeaking reports whether an SSRC is inside its speaking window.
func (h *PacketHandler) IsSpeaking(ssrc uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.speaking[ssrc]
	return ok
}

// ForgetSSRC releases the speaking timer and statistics of an SSRC that is
// no longer mapped. No speaking event is emitted.
func (h *PacketHandler) ForgetSSRC(ssrc uint32) {
	h.mu.Lock()
	st, speaking := h.speaking[ssrc]
	if speaking {
		st.timer.Stop()
		delete(h.speaking, ssrc)
	}
	delete(h.trackers, ssrc)
	h.mu.Unlock()

	if speaking {
		h.metrics.speakingChanged(false)
	}
}

// Close stops all speaking timers and ends every open stream.
func (h *PacketHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	for ssrc, st := range h.speaking {
		st.timer.Stop()
		delete(h.speaking, ssrc)
		h.metrics.speakingChanged(false)
	}
	streams := make([]*ParticipantStream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.trackers = make(map[uint32]*rtp.SequenceTracker)
	h.rtcp = nil
	h.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"streams":  len(streams),
	}).Info("Packet handler closed")

	return nil
}
