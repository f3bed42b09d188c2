// Package video implements the codec-specific payload handling of the
// outbound media path.
//
// # Codecs
//
// A connection carries exactly one codec, fixed when the dispatcher is
// created:
//
//	codec, err := video.ParseCodec("VP8")
//	pt := codec.PayloadType() // 103
//
// The payload type table is fixed: opus 120, H264 101, VP8 103, VP9 105.
//
// # H.264
//
// FragmentNAL splits a NAL unit into RTP payloads. Units shorter than the
// MTU go out whole; longer units are split into FU-A fragments (RFC 6184
// section 5.8) with the start bit on the first fragment and the end bit on
// the last. Only the end fragment of the final NAL in an access unit has
// the marker set.
//
//	frags, err := video.FragmentNAL(nal, 1330, true)
//	for _, f := range frags {
//	    send(f.Payload, f.Marker)
//	}
//
// # VP8
//
// Outbound VP8 payloads have their descriptor replaced by a fixed 4-byte
// form carrying a 15-bit picture ID maintained by the dispatcher. The
// picture ID advances after each packet that completes a frame.
package video
