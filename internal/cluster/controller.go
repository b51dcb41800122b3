package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quorick/convoy/internal/artifact"
	"github.com/quorick/convoy/internal/config"
	"github.com/quorick/convoy/internal/logging"
	"github.com/quorick/convoy/internal/runstore"
	"github.com/quorick/convoy/internal/telemetry"
)

// Controller sequences the phases of create, expand and destroy. Transitions
// are strictly sequential; only the two bootstrap-remaining/poll phases fan
// out, and any fatal error halts the run immediately with no rollback.
type Controller struct {
	Config *config.Config
	Prov   Provisioner
	Exec   RemoteExecutor
	Run    *logging.Run
	// Store is the run record store; nil disables run records.
	Store  *runstore.Store
	Timing Timing
	Timer  *telemetry.PhaseTimer

	cache *TopologyCache
}

// NewController wires a controller for one invocation. The topology cache it
// owns lives exactly as long as the controller.
func NewController(cfg *config.Config, prov Provisioner, exec RemoteExecutor, run *logging.Run, store *runstore.Store) *Controller {
	c := &Controller{
		Config: cfg,
		Prov:   prov,
		Exec:   exec,
		Run:    run,
		Store:  store,
		Timing: DefaultTiming(),
		Timer:  telemetry.NewPhaseTimer(),
	}
	c.cache = &TopologyCache{
		Provisioner: prov,
		Cluster:     cfg.Cluster,
		Checker: &StatusChecker{
			Exec:       exec,
			NodeConfig: prov.NodeConfig(),
			WaveSize:   cfg.MaxConnections,
			Stagger:    c.Timing.Stagger,
			Run:        run,
		},
	}
	return c
}

func (c *Controller) batch(relayConstrained bool) *BatchExecutor {
	return &BatchExecutor{
		WaveSize:         c.Config.MaxConnections,
		RelayConstrained: relayConstrained,
		Stagger:          c.Timing.Stagger,
		Run:              c.Run,
	}
}

func (c *Controller) poller(relayConstrained bool) *ConnectivityPoller {
	return &ConnectivityPoller{
		Executor: c.batch(relayConstrained),
		Exec:     c.Exec,
		Interval: c.Timing.PollInterval,
		Deadline: c.Timing.PollDeadline,
		Run:      c.Run,
	}
}

func (c *Controller) pipeline() *Pipeline {
	return &Pipeline{
		Exec:       c.Exec,
		Catalog:    &RoleCatalog{ScriptDir: c.Config.ScriptDir},
		NodeConfig: c.Prov.NodeConfig(),
		ConfDir:    c.Config.ConfDir,
		Run:        c.Run,
	}
}

func (c *Controller) preflight(ctx context.Context) error {
	if c.Config.NoConfigCheck {
		return nil
	}
	defer c.Timer.Track("validate-config")()
	if err := config.Check(ctx, c.Config); err != nil {
		return err
	}
	return c.Prov.CheckConfig(ctx)
}

// Create provisions and bootstraps a new cluster, returning the console
// node's private address.
func (c *Controller) Create(ctx context.Context, counts NodeCounts) (string, error) {
	if err := c.preflight(ctx); err != nil {
		return "", err
	}
	stop := c.Timer.Track("create-instances")
	if err := c.Prov.CreateInstances(ctx, c.Config.Cluster, counts); err != nil {
		stop()
		return "", fmt.Errorf("create instances: %w", err)
	}
	stop()
	c.cache.Invalidate()

	ip, err := c.install(ctx)
	c.Timer.Log(c.Run.Detail)
	return ip, err
}

func (c *Controller) install(ctx context.Context) (string, error) {
	clusterName := c.Config.Cluster
	nc := c.Prov.NodeConfig()

	if c.Store != nil {
		err := c.Store.Merge(ctx, map[string]string{
			runstore.KeyCmdline:    strings.Join(os.Args, " "),
			runstore.KeyBastion:    nc.Relay,
			runstore.KeySaltmaster: nc.Coordinator,
		})
		if err != nil {
			return "", fmt.Errorf("write run record: %w", err)
		}
	}

	m, err := c.cache.Get(ctx, false)
	if err != nil {
		return "", fmt.Errorf("resolve topology: %w", err)
	}
	coord := m.Coordinator(clusterName, nc)
	if coord == nil {
		return "", fmt.Errorf("topology has no coordinator instance %q", nc.Coordinator)
	}
	relay := m.Relay(clusterName, nc)
	relayIP := ""
	if relay != nil {
		relayIP = relay.PublicIP
	}

	if err := c.writeAccessConfig(clusterName, relayIP); err != nil {
		return "", err
	}
	if console := m.Console(clusterName, nc); console != nil {
		c.Run.Detail.Debug().Str("url", "http://"+console.PrivateIP).Msg("console will come up")
	}

	if relay != nil {
		stop := c.Timer.Track("wait-relay-ready")
		if err := c.waitRelayReady(ctx, clusterName, relayIP); err != nil {
			stop()
			return "", err
		}
		stop()
	}

	stop := c.Timer.Track("wait-hosts-reachable")
	if err := c.poller(relay != nil).Wait(ctx, m.PrivateIPs(), clusterName); err != nil {
		stop()
		return "", err
	}
	stop()

	saltTar, certsTar, err := c.stageSharedArtifacts(ctx, clusterName, coord.PrivateIP)
	if err != nil {
		return "", err
	}

	pl := c.pipeline()
	params := BootstrapParams{
		Cluster:       clusterName,
		Flavor:        c.Config.Flavor,
		Branch:        c.Config.Branch,
		CoordinatorIP: coord.PrivateIP,
		SaltTarball:   saltTar,
	}
	files := &Recorder{}
	commands := &Recorder{}
	errs := &Collector{}

	// The coordinator bootstraps alone: every other host depends on the
	// shared artifacts and coordinating authority it establishes.
	c.Run.Console.Info().Msgf("bootstrapping coordinator, check the debug log for progress (%s)", c.Run.LogPath)
	stop = c.Timer.Track("bootstrap-coordinator")
	coordParams := params
	coordParams.CertsTarball = certsTar
	pl.Bootstrap(ctx, coord, coordParams, errs, files, commands)
	stop()
	if errs.Len() > 0 {
		return "", &AggregateError{Action: "bootstrapping saltmaster", Records: errs.Drain(), LogPath: c.Run.LogPath}
	}

	c.Run.Console.Info().Msgf("bootstrapping other instances, check the debug log for progress (%s)", c.Run.LogPath)
	ops := make([]Operation, 0, len(m))
	for _, key := range sortedKeys(m) {
		if key == coord.Key() {
			continue
		}
		inst := m[key]
		ops = append(ops, func(ctx context.Context) {
			pl.Bootstrap(ctx, inst, params, errs, files, commands)
		})
	}
	stop = c.Timer.Track("bootstrap-remaining")
	if err := c.batch(relay != nil).Do(ctx, "bootstrapping host", ops, errs); err != nil {
		stop()
		return "", err
	}
	stop()

	if _, err := artifact.ExportResources(c.Config.LogDir, clusterName, files.Unique(), commands.Unique()); err != nil {
		return "", fmt.Errorf("export bootstrap resources: %w", err)
	}

	sleep(ctx, c.Timing.Settle)

	c.Run.Console.Info().Msgf("running convergence to install software, this can take a while (%s)", c.Run.LogPath)
	stop = c.Timer.Track("convergence")
	err = c.converge(ctx, clusterName, coord.PrivateIP, createConvergeCommands(clusterName))
	stop()
	if err != nil {
		return "", err
	}

	return c.consoleIP(m, clusterName, nc), nil
}

// Expand bootstraps the role-bearing instances that are not yet marked
// complete and re-applies state over the new nodes.
func (c *Controller) Expand(ctx context.Context, counts NodeCounts, doOrchestrate bool) (string, error) {
	if err := c.preflight(ctx); err != nil {
		return "", err
	}
	stop := c.Timer.Track("create-instances")
	if err := c.Prov.CreateInstances(ctx, c.Config.Cluster, counts); err != nil {
		stop()
		return "", fmt.Errorf("create instances: %w", err)
	}
	stop()
	c.cache.Invalidate()

	clusterName := c.Config.Cluster
	nc := c.Prov.NodeConfig()

	m, err := c.cache.Get(ctx, true)
	if err != nil {
		return "", fmt.Errorf("resolve topology: %w", err)
	}
	coord := m.Coordinator(clusterName, nc)
	if coord == nil {
		return "", fmt.Errorf("topology has no coordinator instance %q", nc.Coordinator)
	}
	relay := m.Relay(clusterName, nc)
	relayIP := ""
	if relay != nil {
		relayIP = relay.PublicIP
	}
	if err := c.writeAccessConfig(clusterName, relayIP); err != nil {
		return "", err
	}

	stop = c.Timer.Track("wait-hosts-reachable")
	if err := c.poller(relay != nil).Wait(ctx, m.PrivateIPs(), clusterName); err != nil {
		stop()
		return "", err
	}
	stop()

	c.Run.Console.Info().Msgf("bootstrapping new instances, check the debug log for progress (%s)", c.Run.LogPath)
	pl := c.pipeline()
	params := BootstrapParams{
		Cluster:       clusterName,
		Flavor:        c.Config.Flavor,
		Branch:        c.Config.Branch,
		CoordinatorIP: coord.PrivateIP,
	}
	errs := &Collector{}
	ops := make([]Operation, 0, len(m))
	for _, key := range sortedKeys(m) {
		inst := m[key]
		if inst.NodeType == "" || inst.Bootstrapped == Bootstrapped {
			continue
		}
		ops = append(ops, func(ctx context.Context) {
			// Resource recording is omitted during expand.
			pl.Bootstrap(ctx, inst, params, errs, nil, nil)
		})
	}
	stop = c.Timer.Track("bootstrap-new")
	if err := c.batch(relay != nil).Do(ctx, "bootstrapping host", ops, errs); err != nil {
		stop()
		return "", err
	}
	stop()

	sleep(ctx, c.Timing.Settle)

	c.Run.Console.Info().Msgf("running convergence over new nodes (%s)", c.Run.LogPath)
	stop = c.Timer.Track("convergence")
	err = c.converge(ctx, clusterName, coord.PrivateIP, expandConvergeCommands(clusterName, doOrchestrate))
	stop()
	if err != nil {
		return "", err
	}
	c.Timer.Log(c.Run.Detail)
	return c.consoleIP(m, clusterName, nc), nil
}

// Destroy tears down the cluster's infrastructure through the provisioner and
// removes the locally generated access artifacts. There is no remote
// coordination: destroy never contacts cluster hosts.
func (c *Controller) Destroy(ctx context.Context) error {
	if err := c.Prov.DestroyInstances(ctx, c.Config.Cluster); err != nil {
		return fmt.Errorf("destroy instances: %w", err)
	}
	c.cache.Invalidate()
	c.Run.Console.Info().Msg("removing access scripts")
	return RemoveAccessConfig(c.Config.ConfDir, c.Config.Cluster)
}

// Status resolves the current topology including per-host bootstrap state.
func (c *Controller) Status(ctx context.Context) (InstanceMap, error) {
	return c.cache.Get(ctx, true)
}

func (c *Controller) writeAccessConfig(clusterName, relayIP string) error {
	defer c.Timer.Track("write-access-config")()
	keyfile, err := filepath.Abs(c.Config.Keyfile)
	if err != nil {
		keyfile = c.Config.Keyfile
	}
	if err := WriteClusterEnv(c.Config.ConfDir, clusterName, c.Config.Env); err != nil {
		return err
	}
	return WriteAccessConfig(c.Config.ConfDir, clusterName, relayIP, c.Config.OSUser, keyfile)
}

// waitRelayReady blocks until the relay itself answers, since every other
// connection tunnels through it.
func (c *Controller) waitRelayReady(ctx context.Context, clusterName, relayIP string) error {
	start := time.Now()
	for {
		c.Run.Console.Info().Str("host", relayIP).Msg("waiting for relay to accept connections")
		err := c.Exec.Execute(ctx, []string{"true"}, clusterName, relayIP)
		if err == nil {
			return nil
		}
		c.Run.Detail.Debug().Err(err).Str("host", relayIP).Msg("still waiting for relay")
		if time.Since(start) > c.Timing.PollDeadline {
			return fmt.Errorf("giving up waiting for connectivity to relay %s", relayIP)
		}
		sleep(ctx, c.Timing.PollInterval)
	}
}

// stageSharedArtifacts packs and ships the optional salt tree and security
// material to the coordinator, returning the staged tarball names.
func (c *Controller) stageSharedArtifacts(ctx context.Context, clusterName, coordIP string) (saltTar, certsTar string, err error) {
	defer c.Timer.Track("stage-shared-artifacts")()

	if local := c.Config.Salt.LocalPath; local != "" {
		tarball, err := artifact.PackTree(local, "platform-salt")
		if err != nil {
			return "", "", fmt.Errorf("pack salt tree: %w", err)
		}
		if err := c.Exec.Transfer(ctx, []string{tarball}, clusterName, coordIP); err != nil {
			os.Remove(tarball)
			return "", "", err
		}
		os.Remove(tarball)
		saltTar = tarball
	}

	if c.Config.Security.Mode != config.SecurityModeDisabled {
		material := c.Config.Security.MaterialPath
		tarball, err := artifact.PackTree(material, "security-certs")
		if err != nil {
			if c.Config.Security.Mode == config.SecurityModePermissive {
				c.Run.Detail.Warn().Err(err).Msg("skipping security material")
				return saltTar, "", nil
			}
			return "", "", &config.ConfigError{
				Reason: fmt.Sprintf("%s must contain certificates", material),
				Err:    err,
			}
		}
		if err := c.Exec.Transfer(ctx, []string{tarball}, clusterName, coordIP); err != nil {
			os.Remove(tarball)
			return "", "", err
		}
		os.Remove(tarball)
		certsTar = tarball
	}
	return saltTar, certsTar, nil
}

const convergeLog = "~/convoy-salt.log"

func createConvergeCommands(clusterName string) []string {
	return []string{
		fmt.Sprintf(`sudo salt -v --log-level=debug --timeout=120 --state-output=mixed "*" state.highstate queue=True >> %s 2>&1`, convergeLog),
		fmt.Sprintf(`sudo CLUSTER=%s salt-run --log-level=debug state.orchestrate orchestrate.convoy >> %s 2>&1`, clusterName, convergeLog),
	}
}

func expandConvergeCommands(clusterName string, doOrchestrate bool) []string {
	cmds := []string{
		fmt.Sprintf(`sudo salt -v --log-level=debug --timeout=120 --state-output=mixed "*" state.sls hostsfile queue=True >> %s 2>&1`, convergeLog),
		fmt.Sprintf(`sudo salt -v --log-level=debug --timeout=120 --state-output=mixed -C "G@convoy:is_new_node" state.highstate queue=True >> %s 2>&1`, convergeLog),
	}
	if doOrchestrate {
		cmds = append(cmds,
			fmt.Sprintf(`sudo CLUSTER=%s salt-run --log-level=debug state.orchestrate orchestrate.convoy-expand >> %s 2>&1`, clusterName, convergeLog))
	}
	return cmds
}

func (c *Controller) converge(ctx context.Context, clusterName, coordIP string, commands []string) error {
	if err := c.Exec.Execute(ctx, commands, clusterName, coordIP); err != nil {
		return &ConvergenceError{Host: coordIP, Err: err}
	}
	return nil
}

func (c *Controller) consoleIP(m InstanceMap, clusterName string, nc NodeConfig) string {
	if console := m.Console(clusterName, nc); console != nil {
		return console.PrivateIP
	}
	return ""
}

func sortedKeys(m InstanceMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
