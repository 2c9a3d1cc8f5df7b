package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an encoder-side executable a batch run needs, such as
// ffmpeg or ffprobe. Optional ones only degrade features when missing.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the preflight verdict for one Requirement. Detail explains a
// missing binary; it is empty when Available.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Missing reports whether s blocks a run.
func (s Status) Missing() bool {
	return !s.Available && !s.Optional
}

// CheckBinaries resolves each requirement's command on PATH, keeping input order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Command:     strings.TrimSpace(req.Command),
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	switch {
	case status.Command == "":
		status.Detail = "no command configured"
	case !onPath(status.Command):
		status.Detail = fmt.Sprintf("%s not found on PATH", status.Command)
	default:
		status.Available = true
	}
	return status
}

func onPath(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
