// Package static is the deployment target for pre-existing machines declared
// in configuration: nothing is created or destroyed, topology resolution just
// projects the declared hosts into an instance map.
package static

import (
	"context"
	"fmt"

	"github.com/quorick/convoy/internal/cluster"
	"github.com/quorick/convoy/internal/config"
)

type Provisioner struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Provisioner { return &Provisioner{cfg: cfg} }

func (p *Provisioner) Name() string { return "static" }

func (p *Provisioner) NodeConfig() cluster.NodeConfig {
	return cluster.NodeConfig{
		Console:     p.cfg.Roles.Console,
		Relay:       p.cfg.Roles.Relay,
		Coordinator: p.cfg.Roles.Coordinator,
	}
}

func (p *Provisioner) ResolveTopology(ctx context.Context, clusterName string) (cluster.InstanceMap, error) {
	_ = ctx
	m := cluster.InstanceMap{}
	for _, h := range p.cfg.Provisioners.Static.Hosts {
		inst := &cluster.Instance{
			Cluster:       clusterName,
			Name:          h.Name,
			PrivateIP:     h.PrivateIP,
			PublicIP:      h.PublicIP,
			NodeType:      h.NodeType,
			NodeIdx:       h.NodeIdx,
			IsCoordinator: h.IsCoordinator || h.NodeType == p.cfg.Roles.Coordinator,
		}
		m[inst.Key()] = inst
	}
	return m, nil
}

// CreateInstances is a no-op: the machines already exist. Requested counts
// are validated against the declared hosts so a short topology fails fast.
func (p *Provisioner) CreateInstances(ctx context.Context, clusterName string, counts cluster.NodeCounts) error {
	_ = ctx
	declared := map[string]int{}
	for _, h := range p.cfg.Provisioners.Static.Hosts {
		declared[h.NodeType]++
	}
	for role, want := range counts {
		if declared[role] < want {
			return fmt.Errorf("static target declares %d %q hosts, %d requested", declared[role], role, want)
		}
	}
	return nil
}

// DestroyInstances is a no-op for machines we do not own.
func (p *Provisioner) DestroyInstances(ctx context.Context, clusterName string) error {
	_ = ctx
	_ = clusterName
	return nil
}

func (p *Provisioner) CheckConfig(ctx context.Context) error {
	_ = ctx
	hosts := p.cfg.Provisioners.Static.Hosts
	if len(hosts) == 0 {
		return fmt.Errorf("static target: no hosts declared")
	}
	coordinator := false
	for _, h := range hosts {
		if h.PrivateIP == "" {
			return fmt.Errorf("static target: host %s has no private_ip", h.Name)
		}
		if h.Name == p.cfg.Roles.Coordinator || h.IsCoordinator {
			coordinator = true
		}
	}
	if !coordinator {
		return fmt.Errorf("static target: no host holds the coordinator role %q", p.cfg.Roles.Coordinator)
	}
	return nil
}
