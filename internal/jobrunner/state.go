package jobrunner

// State is a job's lifecycle position.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateAborted
	StateInterrupted
	StateAbandoned
	StateSkipped
	StateDeferred
)

var stateNames = map[State]string{
	StateQueued:      "queued",
	StateRunning:     "running",
	StateSucceeded:   "succeeded",
	StateFailed:      "failed",
	StateAborted:     "aborted",
	StateInterrupted: "interrupted",
	StateAbandoned:   "abandoned",
	StateSkipped:     "skipped",
	StateDeferred:    "deferred",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}
