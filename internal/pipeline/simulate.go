package pipeline

import (
	"context"
	"time"

	"github.com/cuongbtq/vidshare/internal/domain"
)

const defaultSimulatedSteps = 10

// Simulator reports tick-driven progress without touching the media.
// The artifact is the upload itself.
type Simulator struct {
	tick  time.Duration
	steps int
}

// NewSimulator creates an engine that advances one step per tick
func NewSimulator(tick time.Duration, steps int) *Simulator {
	if steps <= 0 {
		steps = defaultSimulatedSteps
	}
	return &Simulator{tick: tick, steps: steps}
}

func (s *Simulator) Analyze(ctx context.Context, _ domain.Video) (Analysis, error) {
	if err := s.wait(ctx); err != nil {
		return Analysis{}, err
	}
	return Analysis{Duration: time.Duration(s.steps) * s.tick}, nil
}

func (s *Simulator) Transcode(ctx context.Context, _ domain.Video, _ Analysis, progress ProgressFunc) (Artifact, error) {
	for i := 1; i <= s.steps; i++ {
		if err := s.wait(ctx); err != nil {
			return Artifact{}, err
		}
		progress(float64(i) * 100 / float64(s.steps))
	}
	return Artifact{}, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.tick <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.tick)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
