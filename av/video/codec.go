package video

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/mediagate/av/rtp"
)

// Codec identifies the elementary stream a dispatcher carries. It is chosen
// once when the connection is set up and fixes the payload type and the
// payload framer used for every packet.
type Codec int

const (
	// CodecOpus carries fixed-size Opus audio frames.
	CodecOpus Codec = iota + 1
	// CodecH264 carries H.264 NAL units, fragmented with FU-A.
	CodecH264
	// CodecVP8 carries VP8 RTP payloads whose descriptor is rewritten.
	CodecVP8
	// CodecVP9 carries VP9 RTP payloads unchanged.
	CodecVP9
)

// RTP payload types negotiated with the voice gateway.
const (
	PayloadTypeOpus uint8 = 120
	PayloadTypeH264 uint8 = 101
	PayloadTypeVP8  uint8 = 103
	PayloadTypeVP9  uint8 = 105
)

// ErrUnsupportedCodec is returned for codec names or values this gateway
// cannot packetize.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// ParseCodec maps a codec name ("opus", "H264", "VP8", "VP9") to a Codec.
// Matching is case-insensitive.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "OPUS":
		return CodecOpus, nil
	case "H264":
		return CodecH264, nil
	case "VP8":
		return CodecVP8, nil
	case "VP9":
		return CodecVP9, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCodec, name)
	}
}

// Validate returns ErrUnsupportedCodec for values outside the known set.
func (c Codec) Validate() error {
	if c < CodecOpus || c > CodecVP9 {
		return fmt.Errorf("%w: %d", ErrUnsupportedCodec, int(c))
	}
	return nil
}

func (c Codec) String() string {
	switch c {
	case CodecOpus:
		return "opus"
	case CodecH264:
		return "H264"
	case CodecVP8:
		return "VP8"
	case CodecVP9:
		return "VP9"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// PayloadType returns the RTP payload type for the codec.
func (c Codec) PayloadType() uint8 {
	switch c {
	case CodecOpus:
		return PayloadTypeOpus
	case CodecH264:
		return PayloadTypeH264
	case CodecVP8:
		return PayloadTypeVP8
	default:
		return PayloadTypeVP9
	}
}

// IsVideo reports whether the codec carries video.
func (c Codec) IsVideo() bool {
	return c != CodecOpus
}

// PayloadFramer applies codec-specific framing to a payload right before it
// is wrapped in the extension block and encrypted. Implementations may
// advance counters; callers serialize access.
type PayloadFramer interface {
	Frame(payload []byte, marker bool, counters *rtp.StreamingCounters) ([]byte, error)
}

// Framer returns the payload framer for the codec.
func (c Codec) Framer() PayloadFramer {
	if c == CodecVP8 {
		return VP8Framer{}
	}
	return passthroughFramer{}
}

type passthroughFramer struct{}

func (passthroughFramer) Frame(payload []byte, _ bool, _ *rtp.StreamingCounters) ([]byte, error) {
	return payload, nil
}
