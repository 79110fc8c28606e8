// Package media maps RTP timestamps onto a monotonic 90kHz presentation
// clock and holds the small shared types CMAF fragmenting builds on.
package media

// RTPClock converts successive 32-bit RTP timestamps (wrapping at 2^32)
// into a monotonically increasing 90kHz presentation timestamp anchored
// at the first timestamp observed. It does not detect or correct
// discontinuities beyond what wraparound subtraction gives for free: a
// dropped RTP session should get a fresh RTPClock, not reuse one whose
// base predates the gap.
type RTPClock struct {
	base    uint32
	hasBase bool
}

// NewRTPClock returns a clock with no anchor yet; the first call to
// PTS90k establishes it.
func NewRTPClock() *RTPClock {
	return &RTPClock{}
}

// PTS90k returns the presentation timestamp, in 90kHz ticks since the
// first observed RTP timestamp, for the given RTP timestamp. Subtraction
// wraps modulo 2^32 so a timestamp that wrapped around still produces a
// monotonically increasing result relative to the anchor.
func (c *RTPClock) PTS90k(rtpTimestamp uint32) uint64 {
	if !c.hasBase {
		c.base = rtpTimestamp
		c.hasBase = true
	}
	return uint64(rtpTimestamp - c.base)
}
