package av

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/opd-ai/mediagate/av/rtp"
	"github.com/opd-ai/mediagate/av/video"
	"github.com/opd-ai/mediagate/crypto"
)

// Dispatcher defaults.
const (
	// DefaultMTU is the fragment size used for keyframe resends.
	DefaultMTU = 1330

	// DefaultInitialSequence and DefaultInitialPictureID seed new counters.
	DefaultInitialSequence  = 1583
	DefaultInitialPictureID = 789

	// DefaultKeyframeResendInterval is the minimum spacing of keyframe
	// resends triggered by picture loss indications.
	DefaultKeyframeResendInterval = 500 * time.Millisecond
)

// Sender hands finished datagrams to the network. Send must not block for
// long; failures are reported but never stop playback.
type Sender interface {
	Send(datagram []byte) error
}

// DispatcherConfig configures an outbound dispatcher.
type DispatcherConfig struct {
	Codec            video.Codec
	SSRC             uint32
	MTU              int
	InitialSequence  uint16
	InitialPictureID uint16

	// KeyframeResendInterval limits resends on PLI storms. Zero or negative
	// disables throttling.
	KeyframeResendInterval time.Duration

	TimeProvider rtp.TimeProvider
	Metrics      *Metrics
	Callbacks    DispatcherCallbacks
}

// DefaultDispatcherConfig returns the configuration used by the gateway.
func DefaultDispatcherConfig(codec video.Codec, ssrc uint32) DispatcherConfig {
	return DispatcherConfig{
		Codec:                  codec,
		SSRC:                   ssrc,
		MTU:                    DefaultMTU,
		InitialSequence:        DefaultInitialSequence,
		InitialPictureID:       DefaultInitialPictureID,
		KeyframeResendInterval: DefaultKeyframeResendInterval,
	}
}

// Dispatcher turns elementary-stream units into encrypted RTP datagrams for
// one outbound source.
//
// The Dispatcher follows a simple state machine:
//
//	Idle -> Started -> Streaming -> Finished
//	                            \-> Errored
//
// It accepts one unit at a time; callers needing a queue keep it themselves.
type Dispatcher struct {
	id          string
	codec       video.Codec
	payloadType uint8
	framer      video.PayloadFramer
	ssrc        uint32
	mtu         int

	sender       Sender
	encryption   *crypto.EncryptionContext
	timeProvider rtp.TimeProvider
	metrics      *Metrics
	callbacks    DispatcherCallbacks
	limiter      *rate.Limiter
	assembler    *video.KeyframeAssembler

	mu        sync.Mutex
	state     DispatcherState
	counters  *rtp.StreamingCounters
	startTime time.Time
	endTime   time.Time
	keyframe  []byte
	speaking  bool
}

// dispatchEvents collects callbacks to fire once the lock is released.
type dispatchEvents struct {
	startedAt    time.Time
	started      bool
	sendFailures []error
	speakingOff  bool
	failure      error
}

// NewDispatcher creates a dispatcher. An unsupported codec fails here, not
// on the first packet.
func NewDispatcher(sender Sender, encryption *crypto.EncryptionContext, config DispatcherConfig) (*Dispatcher, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewDispatcher",
		"codec":    config.Codec.String(),
		"ssrc":     config.SSRC,
	}).Debug("Creating dispatcher")

	if err := config.Codec.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, ErrNilSender
	}
	if encryption == nil {
		return nil, ErrNilEncryption
	}
	if config.MTU <= 0 {
		config.MTU = DefaultMTU
	}
	if config.TimeProvider == nil {
		config.TimeProvider = rtp.DefaultTimeProvider{}
	}

	limit := rate.Inf
	if config.KeyframeResendInterval > 0 {
		limit = rate.Every(config.KeyframeResendInterval)
	}

	d := &Dispatcher{
		id:           uuid.NewString(),
		codec:        config.Codec,
		payloadType:  config.Codec.PayloadType(),
		framer:       config.Codec.Framer(),
		ssrc:         config.SSRC,
		mtu:          config.MTU,
		sender:       sender,
		encryption:   encryption,
		timeProvider: config.TimeProvider,
		metrics:      config.Metrics,
		callbacks:    config.Callbacks,
		limiter:      rate.NewLimiter(limit, 1),
		state:        StateIdle,
		counters:     rtp.NewStreamingCounters(config.InitialSequence, config.InitialPictureID),
	}
	if config.Codec == video.CodecH264 {
		d.assembler = video.NewKeyframeAssembler()
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewDispatcher",
		"dispatcher":   d.id,
		"payload_type": d.payloadType,
		"mtu":          d.mtu,
	}).Info("Dispatcher created")

	return d, nil
}

// ID returns a unique identifier used to correlate log entries.
func (d *Dispatcher) ID() string { return d.id }

// Codec returns the codec fixed at construction.
func (d *Dispatcher) Codec() video.Codec { return d.codec }

// SSRC returns the dispatcher's own synchronization source.
func (d *Dispatcher) SSRC() uint32 { return d.ssrc }

// State returns the current lifecycle state.
func (d *Dispatcher) State() DispatcherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Sequence returns the streaming sequence the next packet will carry.
func (d *Dispatcher) Sequence() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters.Sequence()
}

// PictureID returns the current VP8 picture ID.
func (d *Dispatcher) PictureID() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters.PictureID()
}

// Speaking reports the dispatcher's speaking flag.
func (d *Dispatcher) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// TotalStreamTime returns how long the dispatcher has been streaming since
// its first unit, frozen once it is closed.
func (d *Dispatcher) TotalStreamTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streamTimeLocked()
}

func (d *Dispatcher) streamTimeLocked() time.Duration {
	if d.startTime.IsZero() {
		return 0
	}
	if !d.endTime.IsZero() {
		return d.endTime.Sub(d.startTime)
	}
	return d.timeProvider.Now().Sub(d.startTime)
}

// Send packetizes one elementary-stream unit into a single datagram.
func (d *Dispatcher) Send(unit []byte, timestamp uint32, marker bool) error {
	var ev dispatchEvents

	d.mu.Lock()
	err := d.beginLocked(&ev)
	if err == nil {
		err = d.writePacketLocked(&ev, d.counters.Sequence(), timestamp, unit, marker)
	}
	d.mu.Unlock()

	d.notify(ev)
	return err
}

// WriteNAL sends one H.264 NAL unit, fragmenting it with FU-A when it does
// not fit in mtu. last marks the final NAL of an access unit. IDR units are
// cached for keyframe requests.
func (d *Dispatcher) WriteNAL(nal []byte, timestamp uint32, mtu int, last bool) error {
	if d.codec != video.CodecH264 {
		return fmt.Errorf("%w: WriteNAL on %s", ErrCodecMismatch, d.codec)
	}

	fragments, err := video.FragmentNAL(nal, mtu, last)
	if err != nil {
		return err
	}

	var ev dispatchEvents

	d.mu.Lock()
	err = d.beginLocked(&ev)
	if err == nil {
		if video.IsKeyframe(nal) {
			d.keyframe = append(d.keyframe[:0], nal...)
		}
		err = d.writeFragmentsLocked(&ev, fragments, timestamp)
	}
	d.mu.Unlock()

	d.notify(ev)
	return err
}

// WriteRTP re-wraps an RTP packet produced by a local encoder. The
// encoder's sequence number, timestamp and marker are kept in the header;
// the payload is reframed for the codec, prefixed with the extension block
// and encrypted. Packets no longer than an RTP header are ignored. H.264
// IDR units seen on the way are cached for keyframe requests.
func (d *Dispatcher) WriteRTP(packet []byte) error {
	if len(packet) <= rtp.HeaderSize {
		return nil
	}
	header, err := rtp.ParseHeader(packet)
	if err != nil {
		return err
	}
	offset := rtp.HeaderSize + 4*int(header.CSRCCount)
	if offset >= len(packet) {
		return fmt.Errorf("%w: %d CSRCs in %d bytes", rtp.ErrShortPacket, header.CSRCCount, len(packet))
	}

	var ev dispatchEvents

	d.mu.Lock()
	err = d.beginLocked(&ev)
	if err == nil {
		d.cacheKeyframeLocked(packet[offset:])
		err = d.writePacketLocked(&ev, header.SequenceNumber, header.Timestamp, packet[offset:], header.Marker)
	}
	d.mu.Unlock()

	d.notify(ev)
	return err
}

func (d *Dispatcher) cacheKeyframeLocked(payload []byte) {
	if d.assembler == nil {
		return
	}
	nal, err := d.assembler.Push(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "WriteRTP",
			"dispatcher": d.id,
			"error":      err.Error(),
		}).Debug("Cannot depacketize encoder payload")
		return
	}
	if nal != nil {
		d.keyframe = append(d.keyframe[:0], nal...)
	}
}

// ResendKeyframe sends the cached keyframe again as the final NAL of a frame.
func (d *Dispatcher) ResendKeyframe() error {
	var ev dispatchEvents

	d.mu.Lock()
	err := d.resendKeyframeLocked(&ev)
	d.mu.Unlock()

	d.notify(ev)
	return err
}

func (d *Dispatcher) resendKeyframeLocked(ev *dispatchEvents) error {
	if d.state.Terminal() {
		return ErrDispatcherClosed
	}
	if len(d.keyframe) == 0 {
		return ErrNoKeyframe
	}

	fragments, err := video.FragmentNAL(d.keyframe, d.mtu, true)
	if err != nil {
		return err
	}
	if err := d.writeFragmentsLocked(ev, fragments, d.counters.LastTimestamp()); err != nil {
		return err
	}
	d.metrics.keyframeResent()

	logrus.WithFields(logrus.Fields{
		"function":   "ResendKeyframe",
		"dispatcher": d.id,
		"bytes":      len(d.keyframe),
		"fragments":  len(fragments),
	}).Debug("Resent cached keyframe")

	return nil
}

// Close finishes the dispatcher. Further sends fail with ErrDispatcherClosed
// and the cached keyframe is released. Close is idempotent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.state.Terminal() {
		d.mu.Unlock()
		return nil
	}
	d.state = StateFinished
	d.endTime = d.timeProvider.Now()
	d.keyframe = nil
	wasSpeaking := d.speaking
	d.speaking = false
	streamed := d.streamTimeLocked()
	d.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":   "Close",
		"dispatcher": d.id,
		"streamed":   streamed,
	}).Info("Dispatcher finished")

	if wasSpeaking && d.callbacks.OnSpeaking != nil {
		d.callbacks.OnSpeaking(false)
	}
	if d.callbacks.OnFinish != nil {
		d.callbacks.OnFinish(streamed)
	}
	return nil
}

func (d *Dispatcher) beginLocked(ev *dispatchEvents) error {
	if d.state.Terminal() {
		return ErrDispatcherClosed
	}
	if d.state == StateIdle {
		d.state = StateStarted
		d.startTime = d.timeProvider.Now()
		d.speaking = true
		ev.started = true
		ev.startedAt = d.startTime
	}
	return nil
}

func (d *Dispatcher) writeFragmentsLocked(ev *dispatchEvents, fragments []video.Fragment, timestamp uint32) error {
	for _, f := range fragments {
		if err := d.writePacketLocked(ev, d.counters.Sequence(), timestamp, f.Payload, f.Marker); err != nil {
			return err
		}
	}
	return nil
}

// writePacketLocked frames, encrypts and transmits one payload. The header
// carries sequence; the extension block carries the streaming sequence.
func (d *Dispatcher) writePacketLocked(ev *dispatchEvents, sequence uint16, timestamp uint32, payload []byte, marker bool) error {
	framed, err := d.framer.Frame(payload, marker, d.counters)
	if err != nil {
		return fmt.Errorf("failed to frame %s payload: %w", d.codec, err)
	}

	header, err := rtp.MarshalHeader(d.payloadType, marker, sequence, timestamp, d.ssrc)
	if err != nil {
		return err
	}

	ext := rtp.BuildExtension(d.timeProvider.Now(), d.counters.NextSequence())
	plaintext := make([]byte, 0, len(ext)+len(framed))
	plaintext = append(plaintext, ext[:]...)
	plaintext = append(plaintext, framed...)

	datagram, err := d.encryption.Seal(header, plaintext)
	if err != nil {
		d.failLocked(ev, fmt.Errorf("failed to encrypt packet: %w", err))
		return err
	}
	d.counters.SetTimestamp(timestamp)
	if d.state == StateStarted {
		d.state = StateStreaming
	}

	d.transmitLocked(ev, datagram)
	return nil
}

// transmitLocked is fire-and-forget: a failed send is recorded as a
// diagnostic and drops the speaking flag.
func (d *Dispatcher) transmitLocked(ev *dispatchEvents, datagram []byte) {
	if err := d.sender.Send(datagram); err != nil {
		d.metrics.sendFailed(d.codec.String())
		ev.sendFailures = append(ev.sendFailures, err)
		if d.speaking {
			d.speaking = false
			ev.speakingOff = true
		}
		return
	}
	d.metrics.packetSent(d.codec.String(), len(datagram))
}

func (d *Dispatcher) failLocked(ev *dispatchEvents, err error) {
	if d.state.Terminal() {
		return
	}
	d.state = StateErrored
	d.endTime = d.timeProvider.Now()
	d.keyframe = nil
	if d.speaking {
		d.speaking = false
		ev.speakingOff = true
	}
	ev.failure = err
}

// notify fires the callbacks collected while the lock was held.
func (d *Dispatcher) notify(ev dispatchEvents) {
	if ev.started {
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"dispatcher": d.id,
		}).Info("Dispatcher started")
		if d.callbacks.OnStart != nil {
			d.callbacks.OnStart(ev.startedAt)
		}
		if d.callbacks.OnSpeaking != nil {
			d.callbacks.OnSpeaking(true)
		}
	}

	for _, err := range ev.sendFailures {
		msg := fmt.Sprintf("%v - %v", ErrTransportSend, err)
		logrus.WithFields(logrus.Fields{
			"function":   "transmit",
			"dispatcher": d.id,
			"error":      err.Error(),
		}).Debug("Transport send failed")
		d.debug(msg)
	}
	if ev.speakingOff && d.callbacks.OnSpeaking != nil {
		d.callbacks.OnSpeaking(false)
	}

	if ev.failure != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"dispatcher": d.id,
			"error":      ev.failure.Error(),
		}).Error("Dispatcher failed")
		if d.callbacks.OnError != nil {
			d.callbacks.OnError(ev.failure)
		}
	}
}

func (d *Dispatcher) debug(message string) {
	if d.callbacks.OnDebug != nil {
		d.callbacks.OnDebug(message)
	}
}

// HandleRTCP reacts to decrypted feedback addressed to this connection.
// Receiver reports are surfaced as events; a picture loss indication for
// this dispatcher's SSRC resends the cached keyframe. Full intra requests
// are accepted without action. Unknown packet types, and all feedback after
// Close, are ignored.
func (d *Dispatcher) HandleRTCP(pkt RTCPPacket) error {
	if d.State().Terminal() {
		return nil
	}
	switch pkt.Header.PayloadType {
	case rtcpReceiverReport:
		return d.handleReceiverReport(pkt)
	case rtcpPayloadFeedback:
		return d.handlePayloadFeedback(pkt)
	default:
		return nil
	}
}

func (d *Dispatcher) handleReceiverReport(pkt RTCPPacket) error {
	reports, err := rtp.ParseReceptionReports(pkt.Body, int(pkt.Header.ReportCount))
	if err != nil {
		return err
	}
	d.metrics.observeReports(reports)

	logrus.WithFields(logrus.Fields{
		"function":   "HandleRTCP",
		"dispatcher": d.id,
		"sender":     pkt.Header.SSRC,
		"reports":    len(reports),
	}).Debug("Receiver report")

	if d.callbacks.OnReceiverReport != nil {
		d.callbacks.OnReceiverReport(ReceiverReportEvent{
			SenderSSRC: pkt.Header.SSRC,
			Reports:    reports,
		})
	}
	return nil
}

func (d *Dispatcher) handlePayloadFeedback(pkt RTCPPacket) error {
	switch pkt.Header.ReportCount {
	case rtp.FormatPictureLossIndication:
		pli, err := rtp.ParsePictureLoss(pkt.Header, pkt.Body)
		if err != nil {
			return err
		}
		if pli.MediaSSRC != d.ssrc {
			return nil
		}
		d.metrics.keyframeRequested("pli")

		if !d.limiter.AllowN(d.timeProvider.Now(), 1) {
			d.debug("keyframe request throttled")
			return nil
		}

		err = d.ResendKeyframe()
		switch {
		case errors.Is(err, ErrNoKeyframe):
			d.debug("keyframe requested before one was sent")
			return nil
		case errors.Is(err, ErrDispatcherClosed):
			return nil
		}
		return err

	case rtp.FormatFullIntraRequest:
		d.metrics.keyframeRequested("fir")
		logrus.WithFields(logrus.Fields{
			"function":   "HandleRTCP",
			"dispatcher": d.id,
			"sender":     pkt.Header.SSRC,
		}).Debug("Full intra request ignored")
		return nil

	default:
		return nil
	}
}
