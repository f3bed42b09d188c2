package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// HeaderSize is the size of the fixed RTP header this gateway exchanges.
// CSRC lists are never sent.
const HeaderSize = 12

const (
	rtpVersion   = 2
	extensionBit = 0x10
)

// ErrShortPacket is returned when a buffer cannot hold the fixed header.
var ErrShortPacket = errors.New("packet shorter than RTP header")

// Header is the cleartext part of an inbound datagram. Everything after the
// first HeaderSize bytes is encrypted, so the extension and CSRC entries are
// never parsed here; only the count bits are kept.
type Header struct {
	rtp.Header
	CSRCCount uint8
}

// ParseHeader reads the fixed 12-byte header without decrypting the rest.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(buf))
	}

	b0 := buf[0]
	return Header{
		Header: rtp.Header{
			Version:        b0 >> 6,
			Padding:        (b0>>5)&1 == 1,
			Extension:      (b0>>4)&1 == 1,
			Marker:         buf[1]>>7 == 1,
			PayloadType:    buf[1] & 0x7f,
			SequenceNumber: binary.BigEndian.Uint16(buf[2:4]),
			Timestamp:      binary.BigEndian.Uint32(buf[4:8]),
			SSRC:           binary.BigEndian.Uint32(buf[8:12]),
		},
		CSRCCount: b0 & 0x0f,
	}, nil
}

// MarshalHeader builds the outbound header: version 2, no padding, no CSRC,
// extension bit set (first byte 0x90). The extension itself travels inside
// the encrypted payload.
func MarshalHeader(payloadType uint8, marker bool, sequence uint16, timestamp, ssrc uint32) ([]byte, error) {
	h := rtp.Header{
		Version:        rtpVersion,
		Marker:         marker,
		PayloadType:    payloadType & 0x7f,
		SequenceNumber: sequence,
		Timestamp:      timestamp,
		SSRC:           ssrc,
	}

	buf, err := h.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP header: %w", err)
	}
	buf[0] |= extensionBit

	return buf, nil
}

// IsRTCP reports whether the second byte of a datagram identifies an RTCP
// packet. Seen through the 7-bit RTP payload-type mask, feedback types
// 199–206 land in 71–78; raw bytes 200–210 are the standard RTCP range.
func IsRTCP(secondByte byte) bool {
	pt := secondByte & 0x7f
	if pt >= 71 && pt <= 78 {
		return true
	}
	return secondByte >= 200 && secondByte <= 210
}
