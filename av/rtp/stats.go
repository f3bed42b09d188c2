package rtp

// SequenceTracker tracks RTP sequence numbers with rollover handling.
// RTP sequence numbers are 16-bit and wrap around at 65535.
// This tracker maintains an extended 32-bit counter for accurate
// packet loss calculation across rollovers.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32 // Rollover count (upper 16 bits of extended seq)
	lost        uint64
	received    uint64
}

// NewSequenceTracker creates a new sequence tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{}
}

// Update records a received sequence number and returns the extended
// sequence number and the number of packets skipped since the last one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Forward distance in uint16, then interpreted as signed for direction.
	diff := int16(seq - s.lastSeq)
	if diff <= 0 {
		// Duplicate or late packet; the reference point does not move.
		return s.cycles<<16 | uint32(seq), 0
	}

	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if seq < s.lastSeq {
		s.cycles++
	}

	s.lastSeq = seq
	return s.cycles<<16 | uint32(seq), lost
}

// Stats returns cumulative statistics.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction (0.0 to 1.0).
func (s *SequenceTracker) LossRate() float64 {
	if s.received == 0 && s.lost == 0 {
		return 0.0
	}
	total := s.received + s.lost
	return float64(s.lost) / float64(total)
}
