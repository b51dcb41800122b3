// Package provision hosts the deployment-target variants of the cluster
// Provisioner contract and their shared plumbing.
package provision

import (
	"fmt"

	"github.com/quorick/convoy/internal/cluster"
)

// Registry holds the provisioner variants available to this build, selected
// by name at startup.
type Registry struct {
	provisioners map[string]cluster.Provisioner
}

func NewRegistry() *Registry {
	return &Registry{provisioners: map[string]cluster.Provisioner{}}
}

func (r *Registry) Register(p cluster.Provisioner) {
	r.provisioners[p.Name()] = p
}

func (r *Registry) Get(name string) (cluster.Provisioner, error) {
	p, ok := r.provisioners[name]
	if !ok {
		return nil, fmt.Errorf("provisioner not registered: %s", name)
	}
	return p, nil
}
