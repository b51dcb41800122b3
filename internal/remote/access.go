package remote

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// AccessConfig is the transport-relevant subset of a per-cluster ssh_config:
// the user, the identity file and the relay to tunnel through, if any.
type AccessConfig struct {
	User         string
	IdentityFile string
	RelayIP      string
}

// accessFor resolves the cluster's access config, falling back to the
// executor's own defaults for anything the file does not set (or when the
// controller has not written it yet). The file is re-read on every call so a
// freshly written relay takes effect immediately.
func (e *Executor) accessFor(cluster string) *AccessConfig {
	ac := &AccessConfig{User: e.User, IdentityFile: e.KeyPath}
	path := filepath.Join(e.ConfDir, "ssh_config-"+cluster)
	f, err := os.Open(path)
	if err != nil {
		return ac
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "User":
			ac.User = fields[1]
		case "IdentityFile":
			ac.IdentityFile = fields[1]
		case "ProxyCommand":
			// The directive ends in <user>@<relay> exec nc %h %p.
			for _, tok := range fields[1:] {
				if i := strings.IndexByte(tok, '@'); i >= 0 {
					ac.RelayIP = tok[i+1:]
				}
			}
		}
	}
	return ac
}
