// Package linode provisions cluster instances through the Linode API.
// Instances are labeled "<cluster>-<role>-<idx>" so the topology can be
// resolved back from a plain listing.
package linode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quorick/convoy/internal/cluster"
	"github.com/quorick/convoy/internal/config"
	"github.com/quorick/convoy/internal/logging"
	"github.com/quorick/convoy/internal/provision"
)

const apiBase = "https://api.linode.com/v4"

type Provisioner struct {
	cfg    *config.Config
	client *provision.RetryableHTTPClient
	run    *logging.Run
}

func New(cfg *config.Config, run *logging.Run) *Provisioner {
	return &Provisioner{
		cfg:    cfg,
		client: provision.NewRetryableHTTPClient(30*time.Second, 5, run),
		run:    run,
	}
}

func (p *Provisioner) Name() string { return "linode" }

func (p *Provisioner) NodeConfig() cluster.NodeConfig {
	return cluster.NodeConfig{
		Console:     p.cfg.Roles.Console,
		Relay:       p.cfg.Roles.Relay,
		Coordinator: p.cfg.Roles.Coordinator,
	}
}

func (p *Provisioner) CheckConfig(ctx context.Context) error {
	_ = ctx
	if p.cfg.Provisioners.Linode.Token == "" {
		return fmt.Errorf("linode target: no API token configured")
	}
	return nil
}

type apiInstance struct {
	ID     int      `json:"id"`
	Label  string   `json:"label"`
	IPv4   []string `json:"ipv4"`
	Status string   `json:"status"`
}

type createRequest struct {
	Region         string   `json:"region"`
	Type           string   `json:"type"`
	Image          string   `json:"image"`
	Label          string   `json:"label"`
	RootPass       string   `json:"root_pass"`
	Tags           []string `json:"tags"`
	AuthorizedKeys []string `json:"authorized_keys,omitempty"`
	Booted         bool     `json:"booted"`
}

// CreateInstances creates the requested instances per role and waits for each
// to reach running state with an address assigned.
func (p *Provisioner) CreateInstances(ctx context.Context, clusterName string, counts cluster.NodeCounts) error {
	roles := make([]string, 0, len(counts))
	for role := range counts {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		for idx := 0; idx < counts[role]; idx++ {
			label := fmt.Sprintf("%s-%s-%d", clusterName, role, idx)
			req := createRequest{
				Region:   p.cfg.Provisioners.Linode.Region,
				Type:     p.cfg.Provisioners.Linode.Type,
				Image:    p.cfg.Provisioners.Linode.Image,
				Label:    label,
				RootPass: uuid.New().String(),
				Tags:     []string{clusterName},
				Booted:   true,
			}
			var created apiInstance
			if err := p.doRequest(ctx, http.MethodPost, "/linode/instances", req, &created); err != nil {
				return fmt.Errorf("create instance %s: %w", label, err)
			}
			if err := p.waitRunning(ctx, created.ID); err != nil {
				return fmt.Errorf("instance %s not ready: %w", label, err)
			}
		}
	}
	return nil
}

func (p *Provisioner) waitRunning(ctx context.Context, id int) error {
	deadline := time.After(10 * time.Minute)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for instance %d", id)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var inst apiInstance
			if err := p.doRequest(ctx, http.MethodGet, fmt.Sprintf("/linode/instances/%d", id), nil, &inst); err != nil {
				continue
			}
			if inst.Status == "running" && len(inst.IPv4) > 0 {
				return nil
			}
		}
	}
}

// ResolveTopology lists the account's instances and rebuilds the cluster's
// instance map from labels carrying the cluster prefix.
func (p *Provisioner) ResolveTopology(ctx context.Context, clusterName string) (cluster.InstanceMap, error) {
	var response struct {
		Data []apiInstance `json:"data"`
	}
	if err := p.doRequest(ctx, http.MethodGet, "/linode/instances", nil, &response); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	m := cluster.InstanceMap{}
	prefix := clusterName + "-"
	for _, ai := range response.Data {
		if !strings.HasPrefix(ai.Label, prefix) {
			continue
		}
		name := strings.TrimPrefix(ai.Label, prefix)
		role, idx := splitRole(name)
		public, private := addresses(ai.IPv4)
		inst := &cluster.Instance{
			Cluster:       clusterName,
			Name:          name,
			PrivateIP:     private,
			PublicIP:      public,
			NodeType:      role,
			NodeIdx:       idx,
			IsCoordinator: role == p.cfg.Roles.Coordinator || name == p.cfg.Roles.Coordinator,
		}
		m[inst.Key()] = inst
	}
	return m, nil
}

// DestroyInstances deletes every instance carrying the cluster prefix.
// Individual delete failures are logged and skipped so the teardown makes as
// much progress as it can.
func (p *Provisioner) DestroyInstances(ctx context.Context, clusterName string) error {
	var response struct {
		Data []apiInstance `json:"data"`
	}
	if err := p.doRequest(ctx, http.MethodGet, "/linode/instances", nil, &response); err != nil {
		return err
	}
	for _, ai := range response.Data {
		if !strings.HasPrefix(ai.Label, clusterName+"-") {
			continue
		}
		if err := p.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/linode/instances/%d", ai.ID), nil, nil); err != nil {
			p.run.Console.Warn().Err(err).Str("label", ai.Label).Msg("failed to delete instance")
		}
	}
	return nil
}

// splitRole decodes "<role>-<idx>" labels; a name without a numeric suffix
// maps to index 0.
func splitRole(name string) (string, int) {
	if i := strings.LastIndexByte(name, '-'); i > 0 {
		if idx, err := strconv.Atoi(name[i+1:]); err == nil {
			return name[:i], idx
		}
	}
	return name, 0
}

// addresses picks the public and private addresses from the API's IPv4 list:
// the first entry is public, a second entry is the private RFC1918 address.
func addresses(ips []string) (public, private string) {
	if len(ips) > 0 {
		public = ips[0]
		private = ips[0]
	}
	if len(ips) > 1 {
		private = ips[len(ips)-1]
	}
	return public, private
}

func (p *Provisioner) doRequest(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.Provisioners.Linode.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("linode api error %d: %s", resp.StatusCode, string(detail))
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
