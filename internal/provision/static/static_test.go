package static

import (
	"context"
	"testing"

	"github.com/quorick/convoy/internal/cluster"
	"github.com/quorick/convoy/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{Cluster: "pond"}
	cfg.Roles.Console = "console"
	cfg.Roles.Relay = "gateway"
	cfg.Roles.Coordinator = "saltmaster"
	cfg.Provisioners.Static.Hosts = []config.StaticHost{
		{Name: "saltmaster", PrivateIP: "10.0.0.1", NodeType: "saltmaster"},
		{Name: "console", PrivateIP: "10.0.0.2", NodeType: "console"},
		{Name: "hadoop-dn-0", PrivateIP: "10.0.0.3", NodeType: "hadoop-dn", NodeIdx: 0},
		{Name: "hadoop-dn-1", PrivateIP: "10.0.0.4", NodeType: "hadoop-dn", NodeIdx: 1},
	}
	return cfg
}

func TestResolveTopology(t *testing.T) {
	p := New(testConfig())
	m, err := p.ResolveTopology(context.Background(), "pond")
	if err != nil {
		t.Fatalf("ResolveTopology failed: %v", err)
	}
	if len(m) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(m))
	}

	nc := p.NodeConfig()
	coord := m.Coordinator("pond", nc)
	if coord == nil || coord.PrivateIP != "10.0.0.1" {
		t.Fatalf("coordinator not resolved: %+v", coord)
	}
	if !coord.IsCoordinator {
		t.Error("coordinator role host should carry the coordinator flag")
	}
	if m.Relay("pond", nc) != nil {
		t.Error("topology has no gateway host")
	}

	dn := m["pond-hadoop-dn-1"]
	if dn == nil || dn.NodeIdx != 1 {
		t.Fatalf("node index lost: %+v", dn)
	}
}

func TestCreateInstancesValidatesCounts(t *testing.T) {
	p := New(testConfig())
	ctx := context.Background()

	if err := p.CreateInstances(ctx, "pond", cluster.NodeCounts{"hadoop-dn": 2}); err != nil {
		t.Fatalf("declared counts should pass: %v", err)
	}
	if err := p.CreateInstances(ctx, "pond", cluster.NodeCounts{"hadoop-dn": 5}); err == nil {
		t.Fatal("expected failure when more hosts requested than declared")
	}
	if err := p.CreateInstances(ctx, "pond", cluster.NodeCounts{"kafka": 1}); err == nil {
		t.Fatal("expected failure for undeclared role")
	}
}

func TestCheckConfig(t *testing.T) {
	p := New(testConfig())
	if err := p.CheckConfig(context.Background()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := testConfig()
	cfg.Provisioners.Static.Hosts[0].PrivateIP = ""
	if err := New(cfg).CheckConfig(context.Background()); err == nil {
		t.Fatal("expected failure for host without private_ip")
	}

	cfg = testConfig()
	cfg.Provisioners.Static.Hosts = cfg.Provisioners.Static.Hosts[1:]
	if err := New(cfg).CheckConfig(context.Background()); err == nil {
		t.Fatal("expected failure without a coordinator host")
	}

	cfg = testConfig()
	cfg.Provisioners.Static.Hosts = nil
	if err := New(cfg).CheckConfig(context.Background()); err == nil {
		t.Fatal("expected failure with no hosts")
	}
}
