package cluster

import "context"

// TopologyCache memoizes the resolved instance map for one controller run.
// Resolution can cost a provisioning API round trip plus one probe per host
// when status is requested, so it must not repeat needlessly — but it must
// never survive a topology-changing operation, hence Invalidate.
//
// The cache is mutated only by the coordinating goroutine between phases.
type TopologyCache struct {
	Provisioner Provisioner
	Checker     *StatusChecker
	Cluster     string

	cached InstanceMap
}

// Get returns the memoized instance map, computing it on first use. When
// withStatus is set the first computation also runs the bootstrap status
// check over the fresh map.
func (c *TopologyCache) Get(ctx context.Context, withStatus bool) (InstanceMap, error) {
	if c.cached != nil {
		return c.cached, nil
	}
	m, err := c.Provisioner.ResolveTopology(ctx, c.Cluster)
	if err != nil {
		return nil, err
	}
	if withStatus && c.Checker != nil {
		c.Checker.Check(ctx, m, c.Cluster)
	}
	c.cached = m
	return c.cached, nil
}

// Invalidate forces recomputation on the next Get.
func (c *TopologyCache) Invalidate() { c.cached = nil }
