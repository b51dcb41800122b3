package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

// Timing groups the fixed delays and deadlines of the engine. Production code
// uses DefaultTiming; tests shrink the values.
type Timing struct {
	// Stagger is the delay between successive starts within a wave when the
	// cluster is reached through a relay.
	Stagger time.Duration
	// PollInterval is the sleep between connectivity probe attempts.
	PollInterval time.Duration
	// PollDeadline bounds the per-host connectivity wait.
	PollDeadline time.Duration
	// Settle is the pause between bootstrap completion and the convergence run.
	Settle time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Stagger:      2 * time.Second,
		PollInterval: 2 * time.Second,
		PollDeadline: 10 * time.Minute,
		Settle:       30 * time.Second,
	}
}

// Operation is one unit of concurrent remote work. Operations report failures
// to a shared Collector instead of returning them, so one host's failure never
// unwinds its siblings.
type Operation func(ctx context.Context)

// BatchExecutor runs operations in consecutive waves of bounded size, joining
// each wave before the next starts. When RelayConstrained is set it spaces
// out the starts within a wave so the relay is not flooded with simultaneous
// new connections.
type BatchExecutor struct {
	WaveSize         int
	RelayConstrained bool
	Stagger          time.Duration
	Run              *logging.Run
}

// Do executes all operations and, after the final wave joins, converts a
// non-empty collector into a single AggregateError naming the action. A nil
// collector means failures are deliberately swallowed by the operations
// themselves. Empty input completes immediately.
func (e *BatchExecutor) Do(ctx context.Context, action string, ops []Operation, errs *Collector) error {
	if len(ops) == 0 {
		return nil
	}
	size := e.WaveSize
	if size < 1 {
		size = 1
	}
	for start := 0; start < len(ops); start += size {
		end := start + size
		if end > len(ops) {
			end = len(ops)
		}
		wave := ops[start:end]
		e.Run.Detail.Debug().Str("action", action).Int("wave_size", len(wave)).Msg("starting wave")

		var wg sync.WaitGroup
		for i, op := range wave {
			if e.RelayConstrained && i > 0 {
				e.Run.Detail.Debug().Dur("stagger", e.Stagger).Msg("staggering start to avoid overloading relay")
				sleep(ctx, e.Stagger)
			}
			wg.Add(1)
			go func(op Operation) {
				defer wg.Done()
				op(ctx)
			}(op)
		}
		wg.Wait()
	}

	if errs != nil && errs.Len() > 0 {
		return &AggregateError{Action: action, Records: errs.Drain(), LogPath: e.Run.LogPath}
	}
	return nil
}

// sleep pauses for d but wakes early if ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
