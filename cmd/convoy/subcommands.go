package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quorick/convoy/internal/cluster"
	"github.com/quorick/convoy/internal/config"
	"github.com/quorick/convoy/internal/logging"
	"github.com/quorick/convoy/internal/provision"
	"github.com/quorick/convoy/internal/provision/linode"
	"github.com/quorick/convoy/internal/provision/static"
	"github.com/quorick/convoy/internal/remote"
	"github.com/quorick/convoy/internal/runstore"
)

type runtime struct {
	cfg   *config.Config
	run   *logging.Run
	store *runstore.Store
	ctrl  *cluster.Controller
}

func (r *runtime) close() {
	if r.store != nil {
		_ = r.store.Close()
	}
	_ = r.run.Close()
}

// Resolve configuration and wire up the controller
func resolveRuntime(cmd *cobra.Command) (*runtime, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if name, _ := cmd.Flags().GetString("cluster"); name != "" {
		cfg.Cluster = name
	}
	if cfg.Cluster == "" {
		return nil, fmt.Errorf("no cluster name given, set cluster: in the config or pass --cluster")
	}
	if skip, _ := cmd.Flags().GetBool("no-config-check"); skip {
		cfg.NoConfigCheck = true
	}

	run, err := logging.NewRun(cfg.LogDir)
	if err != nil {
		return nil, err
	}

	store, err := runstore.Open(cfg.RunDB, uuid.New().String())
	if err != nil {
		run.Detail.Warn().Err(err).Msg("run records disabled")
		store = nil
	}

	reg := provision.NewRegistry()
	reg.Register(static.New(cfg))
	reg.Register(linode.New(cfg, run))
	prov, err := reg.Get(cfg.Provisioners.Default)
	if err != nil {
		_ = run.Close()
		return nil, err
	}

	exec := &remote.Executor{
		ConfDir: cfg.ConfDir,
		User:    cfg.OSUser,
		KeyPath: cfg.Keyfile,
		Run:     run,
	}

	return &runtime{
		cfg:   cfg,
		run:   run,
		store: store,
		ctrl:  cluster.NewController(cfg, prov, exec, run, store),
	}, nil
}

// parseCounts turns repeated role=N flags into node counts.
func parseCounts(specs []string) (cluster.NodeCounts, error) {
	counts := cluster.NodeCounts{}
	for _, s := range specs {
		role, num, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid count %q, expected role=N", s)
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid count %q, expected role=N", s)
		}
		counts[role] = n
	}
	return counts, nil
}

// Create a cluster
func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision and bootstrap a new cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, _ := cmd.Flags().GetStringArray("count")
			counts, err := parseCounts(specs)
			if err != nil {
				return err
			}
			rt, err := resolveRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			consoleIP, err := rt.ctrl.Create(cmd.Context(), counts)
			if err != nil {
				return err
			}
			rt.run.Console.Info().Msgf("cluster %s is ready", rt.cfg.Cluster)
			if consoleIP != "" {
				fmt.Printf("console: http://%s\n", consoleIP)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("count", nil, "node counts as role=N (repeatable)")
	return cmd
}

// Expand a cluster
func newExpandCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Add nodes to an existing cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, _ := cmd.Flags().GetStringArray("count")
			counts, err := parseCounts(specs)
			if err != nil {
				return err
			}
			orchestrate, _ := cmd.Flags().GetBool("orchestrate")
			rt, err := resolveRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			consoleIP, err := rt.ctrl.Expand(cmd.Context(), counts, orchestrate)
			if err != nil {
				return err
			}
			rt.run.Console.Info().Msgf("cluster %s expanded", rt.cfg.Cluster)
			if consoleIP != "" {
				fmt.Printf("console: http://%s\n", consoleIP)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("count", nil, "node counts as role=N (repeatable)")
	cmd.Flags().Bool("orchestrate", false, "run the expansion orchestration after applying state")
	return cmd
}

// Destroy a cluster
func newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Tear down a cluster's infrastructure",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.ctrl.Destroy(cmd.Context()); err != nil {
				return err
			}
			rt.run.Console.Info().Msgf("cluster %s destroyed", rt.cfg.Cluster)
			return nil
		},
	}
}

// Show cluster status
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cluster topology and bootstrap state",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			m, err := rt.ctrl.Status(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				inst := m[k]
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
					inst.Name, inst.NodeType, inst.PrivateIP, inst.PublicIP, inst.Bootstrapped)
			}
			return nil
		},
	}
}
