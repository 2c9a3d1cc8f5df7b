package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"ffbatch/internal/scheduler"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
	recentMessages   = 3
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// formatDuration renders d rounded to the second, or "-" when unknown.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// renderSnapshot formats the live scheduler state for periodic output.
func renderSnapshot(snap scheduler.Snapshot, colorize bool) []string {
	state := "Running"
	kind := statusOK
	switch {
	case snap.Stopping:
		state, kind = "Stopping", statusWarn
	case snap.Paused:
		state, kind = "Paused", statusWarn
	case snap.RescanPending:
		state, kind = "Rescanning", statusInfo
	}

	eta := "collecting samples"
	if snap.Estimate.Ready {
		eta = fmt.Sprintf("%s (projected savings %s)",
			formatDuration(snap.Estimate.ETABlended), formatBytes(snap.Estimate.ProjectedSavings))
	}

	lines := renderSectionHeader(fmt.Sprintf("ffbatch %s", time.Now().Format("15:04:05")), colorize)
	lines = append(lines,
		renderStatusLine("State", kind, state, colorize),
		renderStatusLine("Queue", statusInfo, fmt.Sprintf("%d pending (%s), %d running, %d done this session, %d total",
			snap.Pending, formatBytes(snap.PendingBytes), len(snap.Jobs), snap.SessionCompleted, snap.Completed), colorize),
		renderStatusLine("Saved", statusInfo, formatBytes(snap.SavedBytes), colorize),
		renderStatusLine("ETA", statusInfo, eta, colorize),
	)
	for _, job := range snap.Jobs {
		detail := fmt.Sprintf("%5.1f%%  %.2fx  %s of %s  %s",
			job.Percent, job.Speed, formatBytes(job.OutputSize), formatBytes(job.OriginalSize), formatDuration(job.Elapsed))
		lines = append(lines, renderStatusLine(filepath.Base(job.Path), statusInfo, detail, colorize))
	}
	for _, path := range snap.Failed {
		lines = append(lines, renderStatusLine(filepath.Base(path), statusError, "failed", colorize))
	}
	start := len(snap.Messages) - recentMessages
	if start < 0 {
		start = 0
	}
	for _, msg := range snap.Messages[start:] {
		lines = append(lines, statusIndent+msg)
	}
	return lines
}

// renderSummary formats the end-of-run report.
func renderSummary(sum scheduler.Summary, colorize bool) []string {
	lines := renderSectionHeader("ffbatch summary", colorize)
	reduced := fmt.Sprintf("%d of %d succeeded, %s saved", sum.Reduced, sum.Succeeded, formatBytes(sum.SavedBytes))
	lines = append(lines, renderStatusLine("Reduced", statusOK, reduced, colorize))
	if sum.Aborted > 0 {
		lines = append(lines, renderStatusLine("Aborted", statusWarn, fmt.Sprintf("%d (output grew past source)", sum.Aborted), colorize))
	}
	if sum.Failed > 0 {
		lines = append(lines, renderStatusLine("Failed", statusError, fmt.Sprintf("%d (see ffbatch quarantine list)", sum.Failed), colorize))
	}
	if sum.Abandoned > 0 {
		lines = append(lines, renderStatusLine("Abandoned", statusError, fmt.Sprintf("%d (crash records written)", sum.Abandoned), colorize))
	}
	if sum.Interrupted > 0 || sum.Forced {
		lines = append(lines, renderStatusLine("Interrupted", statusWarn, fmt.Sprintf("%d killed at shutdown", sum.Interrupted), colorize))
	}
	remaining := "none"
	kind := statusOK
	if sum.Pending > 0 {
		remaining = fmt.Sprintf("%d (rerun to resume)", sum.Pending)
		kind = statusInfo
	}
	lines = append(lines,
		renderStatusLine("Remaining", kind, remaining, colorize),
		renderStatusLine("Elapsed", statusInfo, formatDuration(sum.Elapsed), colorize),
	)
	return lines
}
