package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtcp"
)

// RTCPHeaderSize is the cleartext part of an RTCP datagram: the common
// header plus the sender SSRC.
const RTCPHeaderSize = 8

// Payload-specific feedback formats understood by the gateway.
const (
	FormatPictureLossIndication = rtcp.FormatPLI
	// FormatFullIntraRequest is the report count the gateway uses for full
	// intra requests. It differs from RFC 5104's FMT 4.
	FormatFullIntraRequest = 15
)

const receptionReportSize = 24

// ErrShortRTCP is returned when an RTCP header or body is truncated.
var ErrShortRTCP = errors.New("RTCP packet too short")

// RTCPHeader is the cleartext header of an inbound RTCP datagram.
type RTCPHeader struct {
	Version     uint8
	Padding     bool
	ReportCount uint8
	PayloadType rtcp.PacketType
	SSRC        uint32
}

// ParseRTCPHeader reads the 8-byte cleartext header.
func ParseRTCPHeader(buf []byte) (RTCPHeader, error) {
	if len(buf) < RTCPHeaderSize {
		return RTCPHeader{}, fmt.Errorf("%w: %d bytes", ErrShortRTCP, len(buf))
	}

	b0 := buf[0]
	return RTCPHeader{
		Version:     b0 >> 6,
		Padding:     (b0>>5)&1 == 1,
		ReportCount: b0 & 0x1f,
		PayloadType: rtcp.PacketType(buf[1]),
		SSRC:        binary.BigEndian.Uint32(buf[4:8]),
	}, nil
}

// ParseReceptionReports decodes count 24-byte report blocks from a
// decrypted receiver report body.
func ParseReceptionReports(body []byte, count int) ([]rtcp.ReceptionReport, error) {
	if len(body) < count*receptionReportSize {
		return nil, fmt.Errorf("%w: %d report blocks need %d bytes, have %d",
			ErrShortRTCP, count, count*receptionReportSize, len(body))
	}

	reports := make([]rtcp.ReceptionReport, count)
	for i := range reports {
		block := body[i*receptionReportSize : (i+1)*receptionReportSize]
		if err := reports[i].Unmarshal(block); err != nil {
			return nil, fmt.Errorf("failed to parse report block %d: %w", i, err)
		}
	}

	return reports, nil
}

// ParsePictureLoss decodes a picture loss indication. The sender SSRC lives in
// the cleartext header, the media SSRC is the first word of the body.
func ParsePictureLoss(h RTCPHeader, body []byte) (*rtcp.PictureLossIndication, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: PLI body is %d bytes", ErrShortRTCP, len(body))
	}

	return &rtcp.PictureLossIndication{
		SenderSSRC: h.SSRC,
		MediaSSRC:  binary.BigEndian.Uint32(body[:4]),
	}, nil
}
