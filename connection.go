package mediagate

import (
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/mediagate/av"
	"github.com/opd-ai/mediagate/av/video"
	"github.com/opd-ai/mediagate/crypto"
	"github.com/pion/rtcp"
	"github.com/sirupsen/logrus"
)

// ErrConnectionClosed is returned by operations on a closed Connection.
var ErrConnectionClosed = errors.New("connection closed")

// ConnectionConfig carries the session material negotiated outside this
// module together with the outbound transport.
type ConnectionConfig struct {
	Secret    []byte
	Sender    av.Sender
	Metrics   *av.Metrics
	Callbacks av.HandlerCallbacks
}

// Connection ties one voice session together: a shared encryption context,
// the participant table, the inbound packet handler and at most one audio
// and one video dispatcher.
type Connection struct {
	id         string
	options    *Options
	codec      video.Codec
	sender     av.Sender
	metrics    *av.Metrics
	encryption *crypto.EncryptionContext
	ssrcs      *av.SSRCTable
	handler    *av.PacketHandler

	mu     sync.Mutex
	audio  *av.Dispatcher
	video  *av.Dispatcher
	closed bool
}

// NewConnection validates options and builds a Connection.
func NewConnection(options *Options, config ConnectionConfig) (*Connection, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if config.Sender == nil {
		return nil, av.ErrNilSender
	}

	mode, err := crypto.ParseEncryptionMode(options.EncryptionMode)
	if err != nil {
		return nil, err
	}
	codec, err := video.ParseCodec(options.VideoCodec)
	if err != nil {
		return nil, err
	}

	encryption, err := crypto.NewEncryptionContext(config.Secret, mode)
	if err != nil {
		return nil, err
	}

	ssrcs := av.NewSSRCTable()
	handler, err := av.NewPacketHandler(encryption, ssrcs, av.HandlerConfig{
		SpeakingDelay: options.SpeakingDelay,
		StreamBuffer:  options.StreamBuffer,
		SilencePolicy: options.SilencePolicy,
		Metrics:       config.Metrics,
		Callbacks:     config.Callbacks,
	})
	if err != nil {
		encryption.Close()
		return nil, err
	}

	c := &Connection{
		id:         uuid.NewString(),
		options:    options,
		codec:      codec,
		sender:     config.Sender,
		metrics:    config.Metrics,
		encryption: encryption,
		ssrcs:      ssrcs,
		handler:    handler,
	}
	handler.SetRTCPHandler(c)

	logrus.WithFields(logrus.Fields{
		"function":   "NewConnection",
		"connection": c.id,
		"mode":       mode.String(),
		"codec":      codec.String(),
	}).Info("Connection created")

	return c, nil
}

// ID returns a unique identifier used to correlate log entries.
func (c *Connection) ID() string { return c.id }

// EncryptionMode returns the mode the session was negotiated with.
func (c *Connection) EncryptionMode() crypto.EncryptionMode { return c.encryption.Mode() }

// Push hands one inbound datagram to the packet handler.
func (c *Connection) Push(datagram []byte) {
	c.handler.Push(datagram)
}

// HandleDatagram has the shape of transport.DatagramHandler.
func (c *Connection) HandleDatagram(datagram []byte, _ net.Addr) {
	c.handler.Push(datagram)
}

// PlayVideo creates a video dispatcher for the configured codec, closing
// the previous one. The new dispatcher receives picture loss feedback.
func (c *Connection) PlayVideo(callbacks av.DispatcherCallbacks) (*av.Dispatcher, error) {
	return c.play(c.codec, c.options.VideoSSRC, callbacks, &c.video)
}

// PlayAudio creates an Opus dispatcher, closing the previous one.
func (c *Connection) PlayAudio(callbacks av.DispatcherCallbacks) (*av.Dispatcher, error) {
	return c.play(video.CodecOpus, c.options.AudioSSRC, callbacks, &c.audio)
}

func (c *Connection) play(codec video.Codec, ssrc uint32, callbacks av.DispatcherCallbacks, slot **av.Dispatcher) (*av.Dispatcher, error) {
	config := av.DefaultDispatcherConfig(codec, ssrc)
	config.MTU = c.options.MTU
	config.KeyframeResendInterval = c.options.KeyframeResendInterval
	config.Metrics = c.metrics
	config.Callbacks = callbacks

	d, err := av.NewDispatcher(c.sender, c.encryption, config)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		d.Close()
		return nil, ErrConnectionClosed
	}
	previous := *slot
	*slot = d
	c.mu.Unlock()

	if previous != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "play",
			"connection": c.id,
			"previous":   previous.ID(),
			"dispatcher": d.ID(),
		}).Debug("Replacing dispatcher")
		previous.Close()
	}
	return d, nil
}

// VideoDispatcher returns the current video dispatcher, or nil.
func (c *Connection) VideoDispatcher() *av.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

// AudioDispatcher returns the current audio dispatcher, or nil.
func (c *Connection) AudioDispatcher() *av.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audio
}

// AddParticipant registers or updates the participant owning p.SSRC.
func (c *Connection) AddParticipant(p av.Participant) {
	c.ssrcs.Set(p)
}

// RemoveParticipant forgets an SSRC and any receive state kept for it.
func (c *Connection) RemoveParticipant(ssrc uint32) bool {
	c.handler.ForgetSSRC(ssrc)
	return c.ssrcs.Delete(ssrc)
}

// Receive returns the inbound stream for a participant.
func (c *Connection) Receive(participantID string, end av.EndPolicy) (*av.ParticipantStream, error) {
	return c.handler.MakeStream(participantID, end)
}

// ReceiveStats reports per-SSRC receive counters.
func (c *Connection) ReceiveStats(ssrc uint32) (received, lost uint64, ok bool) {
	return c.handler.ReceiveStats(ssrc)
}

// HandleRTCP routes decrypted feedback. Payload feedback goes to the video
// dispatcher; receiver reports go to the video dispatcher when one exists
// and to the audio dispatcher otherwise.
func (c *Connection) HandleRTCP(pkt av.RTCPPacket) error {
	c.mu.Lock()
	videoDispatcher, audioDispatcher := c.video, c.audio
	c.mu.Unlock()

	switch pkt.Header.PayloadType {
	case rtcp.TypePayloadSpecificFeedback:
		if videoDispatcher == nil {
			return nil
		}
		return videoDispatcher.HandleRTCP(pkt)
	case rtcp.TypeReceiverReport:
		target := videoDispatcher
		if target == nil {
			target = audioDispatcher
		}
		if target == nil {
			return nil
		}
		return target.HandleRTCP(pkt)
	default:
		logrus.WithFields(logrus.Fields{
			"function":     "HandleRTCP",
			"connection":   c.id,
			"payload_type": uint8(pkt.Header.PayloadType),
		}).Debug("Ignoring RTCP packet")
		return nil
	}
}

// Close stops both dispatchers, closes every stream and wipes the key.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	videoDispatcher, audioDispatcher := c.video, c.audio
	c.video, c.audio = nil, nil
	c.mu.Unlock()

	if videoDispatcher != nil {
		videoDispatcher.Close()
	}
	if audioDispatcher != nil {
		audioDispatcher.Close()
	}
	c.handler.Close()
	err := c.encryption.Close()

	logrus.WithFields(logrus.Fields{
		"function":   "Close",
		"connection": c.id,
	}).Info("Connection closed")

	return err
}
