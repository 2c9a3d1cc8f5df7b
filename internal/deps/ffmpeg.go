package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// CheckCompanion reports the binary called name that runs alongside primary.
//
// FFmpeg builds ship ffprobe next to ffmpeg, and a configured encoder path
// usually points into such a bundle. A companion sitting next to the resolved
// primary wins; otherwise name is resolved from PATH.
func CheckCompanion(primary, name, description string) Status {
	result := Status{
		Name:        name,
		Description: description,
	}

	if candidate, ok := companionCandidate(primary, name); ok {
		if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
			result.Command = candidate
			result.Available = true
			return result
		}
	}

	if resolved, err := exec.LookPath(name); err == nil {
		result.Command = resolved
		result.Available = true
		return result
	}

	result.Command = name
	result.Available = false
	result.Detail = fmt.Sprintf("%s not found next to %s or on PATH", name, primary)
	return result
}

func companionCandidate(primary, name string) (string, bool) {
	primary = strings.TrimSpace(primary)
	if primary == "" {
		return "", false
	}
	resolved, err := exec.LookPath(primary)
	if err != nil {
		return "", false
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(resolved), name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
