package preflight

import (
	"ffbatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// NotDir marks a path that exists but is not a directory.
	NotDir bool
}

// RunAll checks the state directory and every input root. Roots only need to
// be writable when promotion over the source is enabled.
func RunAll(cfg *config.Config, roots []string) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess("State directory", cfg.Paths.StateDir)}
	for _, root := range roots {
		if cfg.Batch.Overwrite {
			results = append(results, CheckDirectoryAccess("Input directory", root))
		} else {
			results = append(results, CheckReadableDirectory("Input directory", root))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
