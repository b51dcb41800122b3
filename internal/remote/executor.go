// Package remote implements the SSH/SFTP transport used to stage files onto
// cluster hosts and run their bootstrap command sequences. It honors the
// per-cluster access config written by the controller, including tunneling
// every connection through the relay host when one is configured.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	xssh "golang.org/x/crypto/ssh"

	"github.com/quorick/convoy/internal/logging"
)

// TransferError reports a failed file staging operation.
type TransferError struct {
	Host string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transferring files to host %s: %v", e.Host, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ExecutionError reports a remote command sequence that ended with a nonzero
// real exit status or produced fatal output.
type ExecutionError struct {
	Host     string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("running commands on host %s (exit %d): %v", e.Host, e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// fatalOutput lists patterns that mark a run as failed even when the shell
// reports success, e.g. a dropped connection mid-transcript or a remote tool
// reporting failed sub-steps.
var fatalOutput = []*regexp.Regexp{
	regexp.MustCompile(`lost connection`),
	regexp.MustCompile(`\s*Failed:\s*[1-9]`),
}

func scanFatal(output string) string {
	for _, re := range fatalOutput {
		if re.MatchString(output) {
			return re.String()
		}
	}
	return ""
}

// Executor runs commands and stages files over SSH. Per-cluster settings
// (user, identity file, relay) are read from the access config the controller
// writes; the struct fields act as fallbacks when none exists yet.
type Executor struct {
	// ConfDir is where per-cluster ssh_config files live.
	ConfDir string
	User    string
	KeyPath string
	// KnownHostsPath enables strict host key checking when set. Bootstrap
	// targets are brand-new hosts, so it is usually left empty.
	KnownHostsPath string
	Port           int
	Timeout        time.Duration
	Run            *logging.Run
}

func (e *Executor) port() int {
	if e.Port > 0 {
		return e.Port
	}
	return 22
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Second
}

// Execute runs the command sequence on host as a single shell invocation.
// Commands are chained with && so the sequence stops at the first nonzero
// real exit status, which becomes the reported exit code. The combined
// transcript goes to the detail log and is scanned for fatal patterns.
func (e *Executor) Execute(ctx context.Context, commands []string, cluster, host string) error {
	conn, err := e.dial(ctx, cluster, host)
	if err != nil {
		return &ExecutionError{Host: host, ExitCode: -1, Err: err}
	}
	defer conn.Close()

	session, err := conn.client.NewSession()
	if err != nil {
		return &ExecutionError{Host: host, ExitCode: -1, Err: fmt.Errorf("new session: %w", err)}
	}
	defer session.Close()

	joined := strings.Join(commands, " && ")
	e.Run.Detail.Debug().Str("host", host).Str("cluster", cluster).Str("cmd", joined).Msg("executing")
	output, err := session.CombinedOutput(joined)
	if len(output) > 0 {
		e.Run.Detail.Info().Str("host", host).Msg(string(output))
	}
	if err != nil {
		code := -1
		var exitErr *xssh.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitStatus()
		}
		return &ExecutionError{Host: host, ExitCode: code, Err: err}
	}
	if pat := scanFatal(string(output)); pat != "" {
		return &ExecutionError{Host: host, ExitCode: 0, Err: fmt.Errorf("output matched fatal pattern %q", pat)}
	}
	return nil
}
