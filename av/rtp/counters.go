package rtp

// PictureIDModulo bounds the 15-bit VP8 extended picture ID.
const PictureIDModulo = 1 << 15

// StreamingCounters holds the per-dispatcher rolling counters. It is not
// safe for concurrent use; the owning dispatcher serializes access.
type StreamingCounters struct {
	sequence      uint16
	pictureID     uint16
	lastTimestamp uint32
}

// NewStreamingCounters creates counters starting at the given values.
func NewStreamingCounters(sequence, pictureID uint16) *StreamingCounters {
	return &StreamingCounters{
		sequence:  sequence,
		pictureID: pictureID % PictureIDModulo,
	}
}

// NextSequence returns the current sequence number and advances it,
// wrapping after 65535.
func (c *StreamingCounters) NextSequence() uint16 {
	seq := c.sequence
	c.sequence++
	return seq
}

// Sequence returns the sequence number the next packet will carry.
func (c *StreamingCounters) Sequence() uint16 {
	return c.sequence
}

// PictureID returns the current VP8 picture ID.
func (c *StreamingCounters) PictureID() uint16 {
	return c.pictureID
}

// AdvancePictureID moves to the next picture, wrapping after 2^15-1.
func (c *StreamingCounters) AdvancePictureID() {
	c.pictureID = (c.pictureID + 1) % PictureIDModulo
}

// SetTimestamp records the timestamp of the last packet sent.
func (c *StreamingCounters) SetTimestamp(ts uint32) {
	c.lastTimestamp = ts
}

// LastTimestamp returns the timestamp of the last packet sent.
func (c *StreamingCounters) LastTimestamp() uint32 {
	return c.lastTimestamp
}
