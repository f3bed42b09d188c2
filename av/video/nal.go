package video

import (
	"errors"
	"fmt"
)

// NAL unit types used by the fragmenter.
const (
	NALTypeIDR = 5
	NALTypeFUA = 28

	nalTypeMask  = 0x1f
	nalNRIMask   = 0xe0
	fuStartBit   = 0x80
	fuEndBit     = 0x40
	minFUAMTU    = 3
	fuHeaderSize = 2
)

var (
	// ErrEmptyNAL is returned for zero-length NAL units.
	ErrEmptyNAL = errors.New("NAL unit is empty")

	// ErrInvalidMTU is returned when the MTU cannot hold an FU-A fragment.
	ErrInvalidMTU = errors.New("MTU too small for FU-A fragmentation")
)

// Fragment is one RTP payload produced from a NAL unit.
type Fragment struct {
	Payload []byte
	Marker  bool
}

// NALType returns the 5-bit type of a NAL unit.
func NALType(nal []byte) uint8 {
	if len(nal) == 0 {
		return 0
	}
	return nal[0] & nalTypeMask
}

// IsKeyframe reports whether the NAL unit is an IDR slice.
func IsKeyframe(nal []byte) bool {
	return NALType(nal) == NALTypeIDR
}

// FragmentNAL splits a NAL unit into RTP payloads.
//
// Units shorter than mtu are sent as a single payload whose marker is last.
// Longer units become an FU-A sequence: the first fragment carries the bytes
// after the NAL header up to offset mtu, every following fragment carries
// the next mtu bytes, and the final one may be shorter. Only the end
// fragment of the last NAL in a frame carries the marker.
func FragmentNAL(nal []byte, mtu int, last bool) ([]Fragment, error) {
	if len(nal) == 0 {
		return nil, ErrEmptyNAL
	}
	if mtu < minFUAMTU {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMTU, mtu)
	}

	if len(nal) < mtu {
		return []Fragment{{Payload: nal, Marker: last}}, nil
	}

	indicator := nal[0]&nalNRIMask | NALTypeFUA
	nalType := nal[0] & nalTypeMask

	// A unit of exactly mtu bytes would otherwise fit in the start fragment
	// and never get an end fragment.
	firstEnd := mtu
	if firstEnd >= len(nal) {
		firstEnd = len(nal) - 1
	}

	fragments := make([]Fragment, 0, 1+(len(nal)-firstEnd+mtu-1)/mtu)
	fragments = append(fragments, Fragment{
		Payload: fuPayload(indicator, nalType|fuStartBit, nal[1:firstEnd]),
	})

	for offset := firstEnd; offset < len(nal); offset += mtu {
		stop := offset + mtu
		end := stop >= len(nal)
		header := nalType
		if end {
			stop = len(nal)
			header |= fuEndBit
		}
		fragments = append(fragments, Fragment{
			Payload: fuPayload(indicator, header, nal[offset:stop]),
			Marker:  last && end,
		})
	}

	return fragments, nil
}

func fuPayload(indicator, header byte, data []byte) []byte {
	out := make([]byte, fuHeaderSize+len(data))
	out[0] = indicator
	out[1] = header
	copy(out[fuHeaderSize:], data)
	return out
}
