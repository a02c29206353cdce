package phase

import "time"

// Changed is published on the local event bus whenever the phase changes,
// on the authority and on every peer.
type Changed struct {
	Previous  Phase
	Current   Phase
	StartedAt time.Time
	Duration  time.Duration
}

// Countdown is published locally when a preparation countdown starts.
type Countdown struct {
	Seconds int
}

// Transition is one authority-side phase change, as handed to a Recorder.
type Transition struct {
	Round    int
	From     Phase
	To       Phase
	Duration time.Duration
	At       time.Time
}

// Recorder receives every authority-side transition, e.g. for history.
type Recorder interface {
	RecordPhase(t Transition)
}
