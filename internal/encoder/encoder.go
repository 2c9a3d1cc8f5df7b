package encoder

import (
	"context"
	"fmt"
	"time"

	"ffbatch/internal/config"
	"ffbatch/internal/services"
)

// Progress is one progress tick reported by a running encode.
type Progress struct {
	Percent  float64 // negative when the media duration is unknown
	Speed    float64 // realtime multiplier, 0 when unknown
	Position time.Duration
	Duration time.Duration
	Phase    string
}

// Request describes one encode.
type Request struct {
	Input      string
	Output     string
	Options    config.Encoder
	OnLine     func(string)
	OnProgress func(Progress)
}

// Exit is the terminal result of an encode. ExitCode is -1 when the process
// was killed or never produced a status.
type Exit struct {
	ExitCode int
	Err      error
}

// Success reports whether the encoder finished cleanly.
func (e Exit) Success() bool {
	return e.ExitCode == 0 && e.Err == nil
}

// Handle controls a started encode.
type Handle interface {
	Wait() Exit
	Kill() error
	OutputPath() string
	Args() []string
	MediaDuration() time.Duration
}

// Encoder starts encodes.
type Encoder interface {
	Name() string
	Start(ctx context.Context, req Request) (Handle, error)
}

// New returns the backend selected by cfg.Encoder.Engine.
func New(cfg *config.Config) (Encoder, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "encoder", "select", "config required", nil)
	}
	switch cfg.Encoder.Engine {
	case config.EngineFFmpeg, "":
		return NewFFmpeg(cfg.EncoderBinary()), nil
	case config.EngineDrapto:
		return NewDrapto(), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "encoder", "select",
			fmt.Sprintf("unknown engine %q", cfg.Encoder.Engine), nil)
	}
}
