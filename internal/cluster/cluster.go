// Package cluster implements the orchestration engine that turns a set of
// freshly provisioned machines into a bootstrapped cluster: bounded-concurrency
// wave execution, connectivity polling, the per-host bootstrap pipeline and the
// create/expand/destroy controller that sequences them.
package cluster

import "context"

// NodeCounts maps a node role to the number of instances requested.
type NodeCounts map[string]int

// Provisioner is implemented once per deployment target. It owns the
// infrastructure lifecycle and knows how to describe the resulting topology.
type Provisioner interface {
	Name() string
	NodeConfig() NodeConfig
	ResolveTopology(ctx context.Context, cluster string) (InstanceMap, error)
	CreateInstances(ctx context.Context, cluster string, counts NodeCounts) error
	DestroyInstances(ctx context.Context, cluster string) error
	// CheckConfig validates target-specific configuration before any remote action.
	CheckConfig(ctx context.Context) error
}

// RemoteExecutor stages files onto a host and runs command sequences there.
// Execute must fail on the first nonzero real exit status of any command and
// on fatal output patterns; Transfer must fail on any staging error.
type RemoteExecutor interface {
	Transfer(ctx context.Context, files []string, cluster, host string) error
	Execute(ctx context.Context, commands []string, cluster, host string) error
}
