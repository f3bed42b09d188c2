package video

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/mediagate/av/rtp"
)

// VP8 payload descriptor bits (RFC 7741).
const (
	vp8ExtendedControl = 0x80 // X
	vp8PictureIDFlag   = 0x80 // I
	vp8TL0PicIdxFlag   = 0x40 // L
	vp8TIDFlag         = 0x20 // T
	vp8KeyIdxFlag      = 0x10 // K
	vp8ExtendedPicID   = 0x80 // M

	// RewrittenDescriptorSize is the size of the descriptor written on
	// every outbound VP8 packet: X set, I set, 15-bit picture ID.
	RewrittenDescriptorSize = 4
)

// ErrShortVP8Payload is returned when a payload is shorter than its descriptor.
var ErrShortVP8Payload = errors.New("VP8 payload shorter than its descriptor")

// DescriptorLength walks the optional extension bytes of a VP8 payload
// descriptor and returns its total length.
func DescriptorLength(payload []byte) (int, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty payload", ErrShortVP8Payload)
	}

	length := 1
	if payload[0]&vp8ExtendedControl != 0 {
		if len(payload) < 2 {
			return 0, fmt.Errorf("%w: missing extension byte", ErrShortVP8Payload)
		}
		ext := payload[1]
		length++

		if ext&vp8PictureIDFlag != 0 {
			if len(payload) < 3 {
				return 0, fmt.Errorf("%w: missing picture ID", ErrShortVP8Payload)
			}
			length++
			if payload[2]&vp8ExtendedPicID != 0 {
				length++
			}
		}
		if ext&vp8TL0PicIdxFlag != 0 {
			length++
		}
		if ext&(vp8TIDFlag|vp8KeyIdxFlag) != 0 {
			length++
		}
	}

	if length > len(payload) {
		return 0, fmt.Errorf("%w: descriptor %d bytes, payload %d", ErrShortVP8Payload, length, len(payload))
	}
	return length, nil
}

// RewriteDescriptor replaces the payload descriptor with one that always
// carries the given 15-bit picture ID. The N, S and partition index bits of
// the first byte are preserved.
func RewriteDescriptor(payload []byte, pictureID uint16) ([]byte, error) {
	length, err := DescriptorLength(payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, RewrittenDescriptorSize+len(payload)-length)
	out[0] = payload[0] | vp8ExtendedControl
	out[1] = vp8PictureIDFlag
	binary.BigEndian.PutUint16(out[2:4], (pictureID%rtp.PictureIDModulo)|0x8000)
	copy(out[RewrittenDescriptorSize:], payload[length:])

	return out, nil
}

// VP8Framer rewrites descriptors with the dispatcher's picture ID counter,
// which advances after each packet that ends a frame.
type VP8Framer struct{}

// Frame implements PayloadFramer.
func (VP8Framer) Frame(payload []byte, marker bool, counters *rtp.StreamingCounters) ([]byte, error) {
	out, err := RewriteDescriptor(payload, counters.PictureID())
	if err != nil {
		return nil, err
	}
	if marker {
		counters.AdvancePictureID()
	}
	return out, nil
}
