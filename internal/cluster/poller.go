package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

// connectivityProbe is the lightweight command used to establish that a host
// accepts connections and runs commands.
var connectivityProbe = []string{"ls ~"}

// ConnectivityPoller waits until every host accepts remote commands. Each host
// is polled in its own worker (via the executor); a host that stays dark past
// the deadline is recorded as a failure without disturbing the other loops.
type ConnectivityPoller struct {
	Executor *BatchExecutor
	Exec     RemoteExecutor
	Interval time.Duration
	Deadline time.Duration
	Run      *logging.Run
}

// Wait blocks until every host has answered one probe or exhausted its
// deadline, then surfaces all expirations together as one aggregate.
func (p *ConnectivityPoller) Wait(ctx context.Context, hosts []string, cluster string) error {
	errs := &Collector{}
	ops := make([]Operation, 0, len(hosts))
	for _, host := range hosts {
		host := host
		ops = append(ops, func(ctx context.Context) {
			start := time.Now()
			for {
				p.Run.Console.Info().Str("host", host).Msg("checking connectivity")
				err := p.Exec.Execute(ctx, connectivityProbe, cluster, host)
				if err == nil {
					return
				}
				p.Run.Detail.Debug().Err(err).Str("host", host).Msg("still waiting for connectivity")
				if time.Since(start) > p.Deadline || ctx.Err() != nil {
					msg := fmt.Sprintf("giving up waiting for connectivity to %s", host)
					p.Run.Console.Error().Str("host", host).Msg(msg)
					errs.RecordMessage("connectivity", host, msg)
					return
				}
				sleep(ctx, p.Interval)
			}
		})
	}
	return p.Executor.Do(ctx, "waiting for host connectivity", ops, errs)
}
