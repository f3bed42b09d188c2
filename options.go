package mediagate

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/mediagate/av"
	"github.com/opd-ai/mediagate/av/video"
	"github.com/opd-ai/mediagate/crypto"
	"github.com/sirupsen/logrus"
)

// ErrInvalidOptions is returned by Options.Validate.
var ErrInvalidOptions = errors.New("invalid options")

// Options contains configuration for a media Connection and the CLI around it.
type Options struct {
	ServerAddr string
	LocalAddr  string

	EncryptionMode string
	VideoCodec     string
	AudioSSRC      uint32
	VideoSSRC      uint32
	MTU            int

	SpeakingDelay          time.Duration
	KeyframeResendInterval time.Duration
	StreamBuffer           int
	SilencePolicy          av.SilencePolicy

	IngestHost      string
	IngestFirstPort int
	IngestLastPort  int

	MetricsAddr string
	LogLevel    string
}

// NewOptions returns Options with the default values.
func NewOptions() *Options {
	return &Options{
		LocalAddr:              ":0",
		EncryptionMode:         crypto.ModeNameLiteCounter,
		VideoCodec:             video.CodecH264.String(),
		MTU:                    av.DefaultMTU,
		SpeakingDelay:          av.DefaultSpeakingDelay,
		KeyframeResendInterval: av.DefaultKeyframeResendInterval,
		StreamBuffer:           av.DefaultStreamBuffer,
		SilencePolicy:          av.SilenceFilterVideo,
		IngestHost:             "127.0.0.1",
		IngestFirstPort:        av.IngestFirstPort,
		IngestLastPort:         av.IngestLastPort,
		MetricsAddr:            ":9090",
		LogLevel:               "info",
	}
}

// LoadOptionsFromEnv returns the defaults overridden by MEDIAGATE_* variables.
// Values that fail to parse keep their default.
func LoadOptionsFromEnv() *Options {
	o := NewOptions()
	o.ServerAddr = getEnv("MEDIAGATE_SERVER_ADDR", o.ServerAddr)
	o.LocalAddr = getEnv("MEDIAGATE_LOCAL_ADDR", o.LocalAddr)
	o.EncryptionMode = getEnv("MEDIAGATE_ENCRYPTION_MODE", o.EncryptionMode)
	o.VideoCodec = getEnv("MEDIAGATE_VIDEO_CODEC", o.VideoCodec)
	o.AudioSSRC = uint32(getIntEnv("MEDIAGATE_AUDIO_SSRC", int(o.AudioSSRC)))
	o.VideoSSRC = uint32(getIntEnv("MEDIAGATE_VIDEO_SSRC", int(o.VideoSSRC)))
	o.MTU = getIntEnv("MEDIAGATE_MTU", o.MTU)
	o.SpeakingDelay = getDurationEnv("MEDIAGATE_SPEAKING_DELAY", o.SpeakingDelay)
	o.KeyframeResendInterval = getDurationEnv("MEDIAGATE_KEYFRAME_RESEND_INTERVAL", o.KeyframeResendInterval)
	o.StreamBuffer = getIntEnv("MEDIAGATE_STREAM_BUFFER", o.StreamBuffer)
	if v := os.Getenv("MEDIAGATE_SILENCE_POLICY"); v != "" {
		if policy, err := ParseSilencePolicy(v); err == nil {
			o.SilencePolicy = policy
		}
	}
	o.IngestHost = getEnv("MEDIAGATE_INGEST_HOST", o.IngestHost)
	o.IngestFirstPort = getIntEnv("MEDIAGATE_INGEST_FIRST_PORT", o.IngestFirstPort)
	o.IngestLastPort = getIntEnv("MEDIAGATE_INGEST_LAST_PORT", o.IngestLastPort)
	o.MetricsAddr = getEnv("MEDIAGATE_METRICS_ADDR", o.MetricsAddr)
	o.LogLevel = getEnv("MEDIAGATE_LOG_LEVEL", o.LogLevel)
	return o
}

// Validate checks the options that a Connection depends on.
func (o *Options) Validate() error {
	if _, err := crypto.ParseEncryptionMode(o.EncryptionMode); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	codec, err := video.ParseCodec(o.VideoCodec)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if !codec.IsVideo() {
		return fmt.Errorf("%w: %s is not a video codec", ErrInvalidOptions, codec)
	}
	if o.MTU < 3 {
		return fmt.Errorf("%w: mtu %d too small", ErrInvalidOptions, o.MTU)
	}
	if o.StreamBuffer < 0 {
		return fmt.Errorf("%w: negative stream buffer", ErrInvalidOptions)
	}
	if o.SpeakingDelay < 0 {
		return fmt.Errorf("%w: negative speaking delay", ErrInvalidOptions)
	}
	if o.IngestFirstPort <= 0 || o.IngestLastPort > 65535 || o.IngestFirstPort > o.IngestLastPort {
		return fmt.Errorf("%w: ingest port range %d-%d", ErrInvalidOptions, o.IngestFirstPort, o.IngestLastPort)
	}
	if _, err := logrus.ParseLevel(o.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// ConfigureLogging applies the configured log level to the standard logrus logger.
func (o *Options) ConfigureLogging() error {
	level, err := logrus.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

// ParseSilencePolicy maps "video", "all" or "none" to a SilencePolicy.
func ParseSilencePolicy(name string) (av.SilencePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "video":
		return av.SilenceFilterVideo, nil
	case "all":
		return av.SilenceFilterAll, nil
	case "none":
		return av.SilenceFilterNone, nil
	default:
		return 0, fmt.Errorf("%w: unknown silence policy %q", ErrInvalidOptions, name)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
