package cluster

import "sort"

// BootstrapState is the tri-state bootstrap marker for an instance. Instances
// start Unknown; a status check moves them to NotBootstrapped or Bootstrapped.
type BootstrapState uint8

const (
	BootstrapUnknown BootstrapState = iota
	NotBootstrapped
	Bootstrapped
)

func (s BootstrapState) String() string {
	switch s {
	case NotBootstrapped:
		return "not-bootstrapped"
	case Bootstrapped:
		return "bootstrapped"
	default:
		return "unknown"
	}
}

// Instance describes one cluster member.
type Instance struct {
	Cluster   string
	Name      string
	PrivateIP string
	PublicIP  string
	// NodeType is the bootstrap role. Empty means the instance takes no part
	// in bootstrapping.
	NodeType      string
	NodeIdx       int
	Bootstrapped  BootstrapState
	IsCoordinator bool
}

// Key returns the cluster-qualified name instances are mapped under.
func (i *Instance) Key() string { return i.Cluster + "-" + i.Name }

// NodeConfig names the instances holding the special roles: the console node,
// the relay (bastion) and the coordinator (saltmaster).
type NodeConfig struct {
	Console     string
	Relay       string
	Coordinator string
}

// InstanceMap is the resolved cluster topology keyed by Instance.Key.
type InstanceMap map[string]*Instance

func (m InstanceMap) byRole(cluster, role string) *Instance {
	if role == "" {
		return nil
	}
	return m[cluster+"-"+role]
}

// Console returns the console instance, or nil if the topology has none.
func (m InstanceMap) Console(cluster string, nc NodeConfig) *Instance {
	return m.byRole(cluster, nc.Console)
}

// Relay returns the relay instance, or nil when the cluster runs without one.
func (m InstanceMap) Relay(cluster string, nc NodeConfig) *Instance {
	return m.byRole(cluster, nc.Relay)
}

// Coordinator returns the coordinating instance, or nil if absent.
func (m InstanceMap) Coordinator(cluster string, nc NodeConfig) *Instance {
	return m.byRole(cluster, nc.Coordinator)
}

// PrivateIPs returns every member's private address in stable key order.
func (m InstanceMap) PrivateIPs() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ips := make([]string, 0, len(keys))
	for _, k := range keys {
		ips = append(ips, m[k].PrivateIP)
	}
	return ips
}
