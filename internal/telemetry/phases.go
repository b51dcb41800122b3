// Package telemetry records run-phase durations for the detail log.
package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PhaseRecord is one completed controller phase.
type PhaseRecord struct {
	Name     string
	Duration time.Duration
}

// PhaseTimer accumulates phase durations across a run.
type PhaseTimer struct {
	mu     sync.Mutex
	phases []PhaseRecord
}

func NewPhaseTimer() *PhaseTimer { return &PhaseTimer{} }

// Track starts timing a phase and returns the function that stops it.
func (t *PhaseTimer) Track(name string) func() {
	start := time.Now()
	return func() {
		t.mu.Lock()
		t.phases = append(t.phases, PhaseRecord{Name: name, Duration: time.Since(start)})
		t.mu.Unlock()
	}
}

// Phases returns the completed records in order.
func (t *PhaseTimer) Phases() []PhaseRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PhaseRecord, len(t.phases))
	copy(out, t.phases)
	return out
}

// Log writes one line per completed phase.
func (t *PhaseTimer) Log(l zerolog.Logger) {
	for _, p := range t.Phases() {
		l.Info().Str("phase", p.Name).Dur("duration", p.Duration).Msg("phase complete")
	}
}
