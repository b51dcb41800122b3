package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SecurityModeDisabled and friends are the recognized security modes.
const (
	SecurityModeDisabled   = "disabled"
	SecurityModePermissive = "permissive"
	SecurityModeStrict     = "strict"
)

// StaticHost declares one pre-existing machine for the static deployment target.
type StaticHost struct {
	Name          string `yaml:"name"`
	PrivateIP     string `yaml:"private_ip"`
	PublicIP      string `yaml:"public_ip"`
	NodeType      string `yaml:"node_type"`
	NodeIdx       int    `yaml:"node_idx"`
	IsCoordinator bool   `yaml:"is_coordinator"`
}

// Config is the full YAML configuration for one cluster.
type Config struct {
	Cluster string `yaml:"cluster"`
	Flavor  string `yaml:"flavor"`
	Branch  string `yaml:"branch"`
	Keyfile string `yaml:"keyfile"`
	OSUser  string `yaml:"os_user"`
	// Mirror is the package mirror probed during the pre-flight check.
	Mirror        string `yaml:"mirror"`
	NoConfigCheck bool   `yaml:"no_config_check"`
	// MaxConnections bounds the number of simultaneous outbound remote
	// operations (the wave size).
	MaxConnections int `yaml:"max_simultaneous_connections"`

	ScriptDir string `yaml:"script_dir"`
	ConfDir   string `yaml:"conf_dir"`
	LogDir    string `yaml:"log_dir"`
	RunDB     string `yaml:"run_db"`

	// Env is rendered into the per-cluster environment file staged onto every
	// host before bootstrap.
	Env map[string]string `yaml:"env"`

	Security struct {
		Mode         string `yaml:"mode"`
		MaterialPath string `yaml:"material_path"`
	} `yaml:"security"`

	Salt struct {
		// LocalPath, when set, names a local state tree shipped to the
		// coordinator instead of having it cloned remotely.
		LocalPath string `yaml:"local_path"`
	} `yaml:"salt"`

	Roles struct {
		Console     string `yaml:"console"`
		Relay       string `yaml:"relay"`
		Coordinator string `yaml:"coordinator"`
	} `yaml:"roles"`

	Provisioners struct {
		Default string `yaml:"default"`
		Static  struct {
			Hosts []StaticHost `yaml:"hosts"`
		} `yaml:"static"`
		Linode struct {
			Token  string `yaml:"token"`
			Region string `yaml:"region"`
			Type   string `yaml:"type"`
			Image  string `yaml:"image"`
		} `yaml:"linode"`
	} `yaml:"provisioners"`
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/convoy/config.yaml or ~/.config/convoy/config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
		path = filepath.Join(base, "convoy", "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if v := os.Getenv("LINODE_TOKEN"); v != "" {
		cfg.Provisioners.Linode.Token = v
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Flavor == "" {
		c.Flavor = "standard"
	}
	if c.OSUser == "" {
		c.OSUser = "cloud-user"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.ScriptDir == "" {
		c.ScriptDir = "bootstrap-scripts"
	}
	if c.ConfDir == "" {
		c.ConfDir = "conf"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.RunDB == "" {
		c.RunDB = filepath.Join(c.LogDir, "convoy.db")
	}
	if c.Security.Mode == "" {
		c.Security.Mode = SecurityModeDisabled
	}
	if c.Roles.Console == "" {
		c.Roles.Console = "console"
	}
	if c.Roles.Relay == "" {
		c.Roles.Relay = "gateway"
	}
	if c.Roles.Coordinator == "" {
		c.Roles.Coordinator = "saltmaster"
	}
	if c.Provisioners.Default == "" {
		c.Provisioners.Default = "static"
	}
}
