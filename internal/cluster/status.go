package cluster

import (
	"context"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

// completionSentinel marks a fully bootstrapped host.
const completionSentinel = "~/.bootstrap_complete"

// StatusChecker probes each host for the completion sentinel. Probe failures
// are swallowed: a host that times out or lacks the marker is simply left
// NotBootstrapped.
type StatusChecker struct {
	Exec       RemoteExecutor
	NodeConfig NodeConfig
	WaveSize   int
	Stagger    time.Duration
	Run        *logging.Run
}

// Check updates the Bootstrapped state of every instance in the map. Probes
// are staggered when the topology includes a relay.
func (s *StatusChecker) Check(ctx context.Context, instances InstanceMap, cluster string) {
	relayed := instances.Relay(cluster, s.NodeConfig) != nil
	executor := &BatchExecutor{
		WaveSize:         s.WaveSize,
		RelayConstrained: relayed,
		Stagger:          s.Stagger,
		Run:              s.Run,
	}

	done := &Recorder{}
	ops := make([]Operation, 0, len(instances))
	for key, inst := range instances {
		key, inst := key, inst
		inst.Bootstrapped = NotBootstrapped
		ops = append(ops, func(ctx context.Context) {
			s.Run.Console.Info().Str("host", inst.PrivateIP).Msg("checking bootstrap status")
			if err := s.Exec.Execute(ctx, []string{"ls " + completionSentinel}, cluster, inst.PrivateIP); err != nil {
				s.Run.Detail.Debug().Str("host", inst.PrivateIP).Msg("host is not bootstrapped")
				return
			}
			s.Run.Detail.Debug().Str("host", inst.PrivateIP).Msg("host is bootstrapped")
			done.Append(key)
		})
	}
	// Probe errors are never fatal here, so no collector is passed.
	_ = executor.Do(ctx, "checking bootstrap status", ops, nil)

	for _, key := range done.Unique() {
		instances[key].Bootstrapped = Bootstrapped
	}
}
