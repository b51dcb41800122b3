package cluster

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Access-config artifacts generated per cluster under the conf directory.
// All of them are removed again on destroy.
func sshConfigPath(dir, cluster string) string {
	return filepath.Join(dir, "ssh_config-"+cluster)
}

func relaySessionPath(dir, cluster string) string {
	return filepath.Join(dir, "relay_session-"+cluster)
}

func clusterEnvPath(dir, cluster string) string {
	return filepath.Join(dir, fmt.Sprintf("convoy_env_%s.sh", cluster))
}

const relaySessionPreamble = `unset SSH_AUTH_SOCK
unset SSH_AGENT_PID

for FILE in $(find /tmp/ssh-* -type s -user ${LOGNAME} -name "agent.[0-9]*" 2>/dev/null)
do
    SOCK_PID=${FILE##*.}

    PID=$(ps -fu${LOGNAME}|awk '/ssh-agent/ && ( $2=='${SOCK_PID}' || $3=='${SOCK_PID}' || $2=='${SOCK_PID}' +1 ) {print $2}')

    if [ -z "$PID" ]
    then
        continue
    fi

    export SSH_AUTH_SOCK=${FILE}
    export SSH_AGENT_PID=${PID}
    break
done

if [ -z "$SSH_AGENT_PID" ]
then
    echo "Starting a new SSH Agent..."
    eval ` + "`ssh-agent`" + `
else
    echo "Using existing SSH Agent with pid: ${SSH_AGENT_PID}, sock file: ${SSH_AUTH_SOCK}"
fi
`

// WriteAccessConfig writes the deterministic per-cluster ssh_config (with a
// relay ProxyCommand when relayIP is set) and, for relayed clusters, the
// companion SOCKS session helper script.
func WriteAccessConfig(dir, cluster, relayIP, osUser, keyfile string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir conf dir: %w", err)
	}

	var b strings.Builder
	b.WriteString("host *\n")
	fmt.Fprintf(&b, "    User %s\n", osUser)
	fmt.Fprintf(&b, "    IdentityFile %s\n", keyfile)
	b.WriteString("    StrictHostKeyChecking no\n")
	b.WriteString("    UserKnownHostsFile /dev/null\n")
	if relayIP != "" {
		fmt.Fprintf(&b, "    ProxyCommand ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null %s@%s exec nc %%h %%p\n",
			keyfile, osUser, relayIP)
	}
	if err := os.WriteFile(sshConfigPath(dir, cluster), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write ssh config: %w", err)
	}

	if relayIP == "" {
		return nil
	}

	var s strings.Builder
	s.WriteString(relaySessionPreamble)
	s.WriteString("eval `ssh-agent`\n")
	fmt.Fprintf(&s, "ssh-add %s\n", keyfile)
	fmt.Fprintf(&s, "ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -A -D 9999 %s@%s\n",
		keyfile, osUser, relayIP)
	path := relaySessionPath(dir, cluster)
	if err := os.WriteFile(path, []byte(s.String()), 0o755); err != nil {
		return fmt.Errorf("write relay session script: %w", err)
	}
	return nil
}

// WriteClusterEnv renders the per-cluster environment file staged onto every
// host before its bootstrap scripts run. Keys are emitted in sorted order so
// the file is deterministic.
func WriteClusterEnv(dir, cluster string, env map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir conf dir: %w", err)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s=%s\n", k, env[k])
	}
	if err := os.WriteFile(clusterEnvPath(dir, cluster), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write cluster env: %w", err)
	}
	return nil
}

// RemoveAccessConfig deletes the locally generated access artifacts for the
// cluster. Missing files are not an error.
func RemoveAccessConfig(dir, cluster string) error {
	for _, p := range []string{
		relaySessionPath(dir, cluster),
		sshConfigPath(dir, cluster),
		clusterEnvPath(dir, cluster),
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
