package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"ffbatch/internal/config"
	"ffbatch/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckReadableDirectory verifies that the directory exists and can be listed.
func CheckReadableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.X_OK, "read ok")
}

func checkDirectory(name, path string, mode uint32, okDetail string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path), NotDir: true}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, okDetail)}
}

// CheckSystemDeps evaluates the external binaries the configured encoder
// engine needs. Both the root command and "ffbatch deps" use this to avoid
// duplicating the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	switch cfg.Encoder.Engine {
	case config.EngineDrapto:
		// The Drapto library drives ffmpeg and ffprobe itself.
		statuses := deps.CheckBinaries([]deps.Requirement{{
			Name:        "FFmpeg",
			Command:     cfg.EncoderBinary(),
			Description: "Used by Drapto for encoding",
		}})
		probe := deps.CheckCompanion(cfg.EncoderBinary(), "ffprobe", "Used by Drapto for media analysis")
		probe.Name = "FFprobe"
		return append(statuses, probe)
	default:
		statuses := deps.CheckBinaries([]deps.Requirement{{
			Name:        "FFmpeg",
			Command:     cfg.EncoderBinary(),
			Description: "Required for encoding",
		}})
		probe := deps.CheckCompanion(cfg.EncoderBinary(), "ffprobe", "Inspects media when ffmpeg omits a duration")
		probe.Name = "FFprobe"
		probe.Optional = true
		return append(statuses, probe)
	}
}

// MissingRequired returns the required dependencies that are unavailable.
func MissingRequired(statuses []deps.Status) []deps.Status {
	var missing []deps.Status
	for _, s := range statuses {
		if s.Missing() {
			missing = append(missing, s)
		}
	}
	return missing
}
