package video

import (
	"encoding/binary"

	"github.com/pion/rtp/codecs"
)

// KeyframeAssembler recovers IDR NAL units from H.264 RTP payloads produced
// by an external encoder, so a passthrough stream can still answer picture
// loss with a cached keyframe. It is not safe for concurrent use.
type KeyframeAssembler struct {
	depacketizer codecs.H264Packet
}

// NewKeyframeAssembler creates an assembler with an empty FU-A buffer.
func NewKeyframeAssembler() *KeyframeAssembler {
	return &KeyframeAssembler{depacketizer: codecs.H264Packet{IsAVC: true}}
}

// Push consumes one RTP payload. It returns the last IDR unit the payload
// completes, or nil. Single NAL, STAP-A and FU-A payloads are understood;
// an FU-A start fragment discards any unit left incomplete by loss.
func (a *KeyframeAssembler) Push(payload []byte) ([]byte, error) {
	if len(payload) >= fuHeaderSize && payload[0]&nalTypeMask == NALTypeFUA && payload[1]&fuStartBit != 0 {
		a.depacketizer = codecs.H264Packet{IsAVC: true}
	}

	out, err := a.depacketizer.Unmarshal(payload)
	if err != nil {
		return nil, err
	}

	var keyframe []byte
	for len(out) >= 4 {
		size := int(binary.BigEndian.Uint32(out))
		out = out[4:]
		if size > len(out) {
			break
		}
		if IsKeyframe(out[:size]) {
			keyframe = out[:size]
		}
		out = out[size:]
	}
	return keyframe, nil
}
