package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quorick/convoy/internal/logging"
)

const (
	remoteStageDir = "/tmp"
	diskConfigDir  = "/etc/convoy/disk-config"
	bootstrapLog   = "~/convoy-bootstrap.log"
)

// BootstrapParams carries the per-run values every host pipeline needs.
type BootstrapParams struct {
	Cluster string
	Flavor  string
	Branch  string
	// CoordinatorIP is the private address of the coordinating node, exported
	// to every bootstrap script.
	CoordinatorIP string
	// SaltTarball and CertsTarball reference shared artifacts already staged
	// on the coordinator. CertsTarball is only ever set for the coordinator
	// itself.
	SaltTarball  string
	CertsTarball string
}

// Pipeline bootstraps a single host: it stages the role's scripts and runs
// the phased command sequence ending in the completion sentinel.
type Pipeline struct {
	Exec       RemoteExecutor
	Catalog    *RoleCatalog
	NodeConfig NodeConfig
	// ConfDir holds the generated per-cluster environment file.
	ConfDir string
	Run     *logging.Run
}

// Bootstrap runs the pipeline for one instance. Failures are recorded into
// the shared collector and never returned, so sibling pipelines already
// running are unaffected. When files and commands recorders are supplied the
// staged file names and issued commands are appended for later export.
func (p *Pipeline) Bootstrap(ctx context.Context, inst *Instance, params BootstrapParams, errs *Collector, files, commands *Recorder) {
	if err := p.run(ctx, inst, params, files, commands); err != nil {
		p.Run.Console.Error().Err(err).Str("host", inst.Name).Msg("bootstrap failed")
		errs.Record("bootstrap", inst.Name, fmt.Errorf("error for host %s: %w", inst.Name, err))
	}
}

func (p *Pipeline) run(ctx context.Context, inst *Instance, params BootstrapParams, files, commands *Recorder) error {
	if inst.NodeType == "" {
		return nil
	}
	p.Run.Detail.Debug().Str("host", inst.PrivateIP).Str("role", inst.NodeType).Msg("bootstrapping")

	roleScript := p.Catalog.Script(inst.NodeType, params.Flavor)
	envFile := filepath.Join(p.ConfDir, fmt.Sprintf("convoy_env_%s.sh", params.Cluster))
	toStage := []string{
		envFile,
		filepath.Join(p.Catalog.ScriptDir, "package-install.sh"),
		filepath.Join(p.Catalog.ScriptDir, "base.sh"),
		filepath.Join(p.Catalog.ScriptDir, "volume-mappings.sh"),
		roleScript,
	}

	vols, err := p.Catalog.Volumes(inst.NodeType, params.Flavor)
	if err != nil {
		return err
	}

	cmds := []string{
		fmt.Sprintf("source %s/convoy_env_%s.sh", remoteStageDir, params.Cluster),
		"export CONVOY_SALTMASTER_IP=" + params.CoordinatorIP,
		"export CONVOY_CLUSTER=" + params.Cluster,
		"export CONVOY_FLAVOR=" + params.Flavor,
		"export CONVOY_GIT_BRANCH=" + params.Branch,
	}
	if params.SaltTarball != "" {
		cmds = append(cmds, "export CONVOY_SALT_TARBALL="+params.SaltTarball)
	}
	if params.CertsTarball != "" {
		cmds = append(cmds, "export CONVOY_CERTS_TARBALL="+params.CertsTarball)
	}
	cmds = append(cmds,
		"sudo chmod a+x "+remoteStageDir+"/package-install.sh",
		"sudo chmod a+x "+remoteStageDir+"/base.sh",
		"sudo chmod a+x "+remoteStageDir+"/volume-mappings.sh",
	)

	// Persist requested disk layout before any script runs.
	if vols != nil && len(vols.Partitions) > 0 {
		cmds = append(cmds, persistDiskConfig("partitions", vols.Partitions))
	}
	if vols != nil && len(vols.Volumes) > 0 {
		cmds = append(cmds, persistDiskConfig("requested-volumes", vols.Volumes))
	}

	// Output goes to the on-host log via redirection rather than a pipe, so
	// the exit status seen by the executor is the script's own.
	cmds = append(cmds, fmt.Sprintf("sudo -E %s/base.sh >> %s 2>&1", remoteStageDir, bootstrapLog))

	if inst.NodeType == p.NodeConfig.Coordinator || inst.IsCoordinator {
		toStage = append(toStage, filepath.Join(p.Catalog.ScriptDir, "saltmaster-common.sh"))
		cmds = append(cmds,
			"sudo chmod a+x "+remoteStageDir+"/saltmaster-common.sh",
			fmt.Sprintf("sudo -E %s/saltmaster-common.sh >> %s 2>&1", remoteStageDir, bootstrapLog),
		)
		deployKey := filepath.Join(p.ConfDir, "git.pem")
		if _, err := os.Stat(deployKey); err == nil {
			toStage = append(toStage, deployKey)
		}
	}

	cmds = append(cmds,
		fmt.Sprintf("sudo chmod a+x %s/%s.sh", remoteStageDir, inst.NodeType),
		fmt.Sprintf("sudo -E %s/%s.sh %d >> %s 2>&1", remoteStageDir, inst.NodeType, inst.NodeIdx, bootstrapLog),
		"touch ~/.bootstrap_complete",
	)

	if err := p.Exec.Transfer(ctx, toStage, params.Cluster, inst.PrivateIP); err != nil {
		return err
	}
	if err := p.Exec.Execute(ctx, cmds, params.Cluster, inst.PrivateIP); err != nil {
		return err
	}

	if files != nil {
		files.Append(toStage...)
		if vols != nil {
			files.Append(p.Catalog.VolumeConfigPath(params.Flavor))
		}
	}
	if commands != nil {
		commands.Append(cmds...)
	}
	return nil
}

func persistDiskConfig(name string, lines []string) string {
	return fmt.Sprintf("sudo mkdir -p %s && echo '%s' | sudo tee %s/%s",
		diskConfigDir, strings.Join(lines, "\n"), diskConfigDir, name)
}
