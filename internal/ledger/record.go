package ledger

import "time"

// Outcome labels for a Record.
const (
	OutcomeReduced   = "reduced"
	OutcomeNoSavings = "no_savings"
	OutcomeAborted   = "aborted"
)

// Record is the immutable result of one completed or aborted attempt.
type Record struct {
	AttemptID     string        `json:"attempt_id"`
	Path          string        `json:"path"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	OriginalSize  int64         `json:"original_size"`
	NewSize       int64         `json:"new_size"`
	MediaDuration time.Duration `json:"media_duration_ns"`
	AverageSpeed  float64       `json:"average_speed"`
	Successful    bool          `json:"successful"`
	Replaced      bool          `json:"replaced"`
	// FinalPath is where a replaced source now lives when promotion changed
	// its extension. Empty when the source path was kept.
	FinalPath string `json:"final_path,omitempty"`
}

// Reduced reports whether the attempt finished with a smaller output.
func (r Record) Reduced() bool {
	return r.Successful && r.NewSize < r.OriginalSize
}

// Saved returns the bytes saved by the attempt, zero unless Reduced.
func (r Record) Saved() int64 {
	if !r.Reduced() {
		return 0
	}
	return r.OriginalSize - r.NewSize
}

// Ratio returns new/original, the fraction of the original that remains.
func (r Record) Ratio() float64 {
	if r.OriginalSize <= 0 {
		return 1
	}
	return float64(r.NewSize) / float64(r.OriginalSize)
}

// Outcome classifies the record for display.
func (r Record) Outcome() string {
	switch {
	case !r.Successful:
		return OutcomeAborted
	case r.Reduced():
		return OutcomeReduced
	default:
		return OutcomeNoSavings
	}
}
