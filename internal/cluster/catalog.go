package cluster

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// VolumeSpec describes the disk layout a node role requires.
type VolumeSpec struct {
	Partitions []string `yaml:"partitions"`
	Volumes    []string `yaml:"volumes"`
}

type volumeConfig struct {
	// Instances maps a node role to a volume class name.
	Instances map[string]string `yaml:"instances"`
	// Classes maps a class name to its concrete layout.
	Classes map[string]VolumeSpec `yaml:"classes"`
}

// RoleCatalog resolves bootstrap scripts and volume requirements for a
// (role, flavor) pair from the script tree on disk.
type RoleCatalog struct {
	// ScriptDir is the root of the bootstrap script tree, laid out as
	// <dir>/<role>.sh defaults with <dir>/<flavor>/<role>.sh overrides and a
	// per-flavor volume-config.yaml.
	ScriptDir string
}

// Script returns the role's bootstrap script path, preferring the
// flavor-specific variant and falling back to the flavor default.
func (c *RoleCatalog) Script(role, flavor string) string {
	p := filepath.Join(c.ScriptDir, flavor, role+".sh")
	if _, err := os.Stat(p); err != nil {
		p = filepath.Join(c.ScriptDir, role+".sh")
	}
	return p
}

// VolumeConfigPath returns the flavor's volume class mapping file.
func (c *RoleCatalog) VolumeConfigPath(flavor string) string {
	return filepath.Join(c.ScriptDir, flavor, "volume-config.yaml")
}

// Volumes resolves the volume requirements for a role, or nil when the role
// is empty or the flavor declares no mapping file.
func (c *RoleCatalog) Volumes(role, flavor string) (*VolumeSpec, error) {
	if role == "" {
		return nil, nil
	}
	data, err := os.ReadFile(c.VolumeConfigPath(flavor))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read volume config: %w", err)
	}
	var cfg volumeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse volume config: %w", err)
	}
	class, ok := cfg.Instances[role]
	if !ok {
		return nil, nil
	}
	spec, ok := cfg.Classes[class]
	if !ok {
		return nil, fmt.Errorf("volume class %q not defined for role %q", class, role)
	}
	return &spec, nil
}
