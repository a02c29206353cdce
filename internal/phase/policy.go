package phase

import "time"

// DefaultPlayingDuration is used when Preparation times out.
const DefaultPlayingDuration = 180 * time.Second

// DurationPolicy decides how long the Playing phase of a round lasts.
type DurationPolicy interface {
	PlayingDuration(round, peers int) time.Duration
}

// FixedPolicy plays every round for the same duration.
type FixedPolicy time.Duration

func (p FixedPolicy) PlayingDuration(int, int) time.Duration {
	if p <= 0 {
		return DefaultPlayingDuration
	}
	return time.Duration(p)
}
