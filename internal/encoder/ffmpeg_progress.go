package encoder

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var durationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// progressParser folds ffmpeg's "-progress" key=value stream into Progress
// ticks. The media duration comes from the stderr banner, which is read on a
// different goroutine.
type progressParser struct {
	mu       sync.Mutex
	duration time.Duration
	position time.Duration
	speed    float64
}

// feedLog inspects one stderr line for the input duration.
func (p *progressParser) feedLog(line string) {
	d, ok := parseDurationLine(line)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.duration == 0 {
		p.duration = d
	}
	p.mu.Unlock()
}

// feedProgress consumes one stdout line and returns a tick at each block end.
func (p *progressParser) feedProgress(line string) (Progress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return Progress{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.position = time.Duration(us) * time.Microsecond
		}
	case "speed":
		p.speed = parseSpeed(value)
	case "progress":
		tick := Progress{
			Percent:  -1,
			Speed:    p.speed,
			Position: p.position,
			Duration: p.duration,
			Phase:    "encode",
		}
		if p.duration > 0 {
			tick.Percent = float64(p.position) / float64(p.duration) * 100
			if tick.Percent > 100 {
				tick.Percent = 100
			}
		}
		if value == "end" {
			tick.Percent = 100
		}
		return tick, true
	}
	return Progress{}, false
}

func (p *progressParser) mediaDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func parseDurationLine(line string) (time.Duration, bool) {
	m := durationPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, total > 0
}

func parseSpeed(value string) float64 {
	value = strings.TrimSuffix(strings.TrimSpace(value), "x")
	speed, err := strconv.ParseFloat(value, 64)
	if err != nil || speed < 0 {
		return 0
	}
	return speed
}
