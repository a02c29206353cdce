package scene

import "time"

// Local events raised on the authority and on peers for the presentation
// layer (loading screens, error prompts).

type LoadStarted struct {
	Scene string
}

type LoadProgress struct {
	Scene    string
	Progress float64
}

type LoadCompleted struct {
	Scene string
}

type LoadTimedOut struct {
	Scene string
}

type LoadFailed struct {
	Scene  string
	Reason string
}

// Outcome summarises one finished authority-side request.
type Outcome struct {
	Scene     string
	Mode      LoadMode
	Sync      bool
	Result    string // syncerr.Kind, empty on success
	Acked     int
	Required  int
	StartedAt time.Time
	Elapsed   time.Duration
	Error     string
}

// Recorder receives every finished request, e.g. for history.
type Recorder interface {
	RecordSceneLoad(o Outcome)
}
