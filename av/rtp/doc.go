// Package rtp implements the RTP and RTCP wire formats spoken with the voice
// gateway.
//
// The gateway uses a narrow profile of RFC 3550: a fixed 12-byte header with
// the extension bit set and no CSRC list, followed by an encrypted body that
// starts with a 20-byte one-byte-header extension block (RFC 8285). RTCP
// datagrams keep only their 8-byte header in clear.
//
// # Outbound Headers
//
//	header, err := rtp.MarshalHeader(payloadType, marker, seq, timestamp, ssrc)
//	block := rtp.BuildExtension(time.Now(), counters.NextSequence())
//
// MarshalHeader always produces a first byte of 0x90. BuildExtension patches
// the abs-send-time, reserved and streaming-sequence fields of a fixed
// template.
//
// # Inbound Parsing
//
// ParseHeader reads the cleartext header without decrypting. After
// decryption, StripExtension removes the extension block and returns the
// bare media payload. IsRTCP separates feedback traffic from media.
//
// # RTCP
//
// ParseRTCPHeader, ParseReceptionReports and ParsePictureLoss decode the
// feedback the remote peer sends about our streams, reusing the pion/rtcp
// report and PLI types.
//
// # Counters and Statistics
//
// StreamingCounters holds the per-dispatcher sequence (mod 2^16), VP8
// picture ID (mod 2^15) and last timestamp. SequenceTracker extends inbound
// sequence numbers across rollover and counts gaps.
package rtp
