package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ConfigError reports a pre-flight configuration problem. It is fatal and
// always precedes any remote action.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config check: %s: %v", e.Reason, e.Err)
	}
	return "config check: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// mirrorOKStatus lists the acceptable responses from the package mirror:
// open listing, listing forbidden, or any redirect in front of a proxy.
var mirrorOKStatus = map[int]bool{
	http.StatusOK:                true,
	http.StatusForbidden:         true,
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Check runs the pre-flight validation: the private key must exist locally
// and the package mirror must answer.
func Check(ctx context.Context, cfg *Config) error {
	if err := checkKeyfile(cfg.Keyfile); err != nil {
		return err
	}
	return checkMirror(ctx, cfg.Mirror)
}

func checkKeyfile(keyfile string) error {
	if keyfile == "" {
		return &ConfigError{Reason: "no keyfile configured"}
	}
	if fi, err := os.Stat(keyfile); err != nil || fi.IsDir() {
		return &ConfigError{Reason: fmt.Sprintf("did not find local key file %s", keyfile), Err: err}
	}
	return nil
}

func checkMirror(ctx context.Context, mirror string) error {
	if mirror == "" {
		return &ConfigError{Reason: "package mirror was not defined in configuration"}
	}
	client := &http.Client{
		Timeout: 15 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mirror, nil)
	if err != nil {
		return &ConfigError{Reason: "invalid mirror URL", Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("failed to connect to package mirror %s", mirror), Err: err}
	}
	defer resp.Body.Close()
	if !mirrorOKStatus[resp.StatusCode] {
		return &ConfigError{Reason: fmt.Sprintf("package mirror %s responded with unexpected status %d", mirror, resp.StatusCode)}
	}
	return nil
}
