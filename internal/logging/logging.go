package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Run carries the two loggers used throughout one controller invocation:
// Console for concise operator-facing progress, Detail for the full JSON
// transcript written to a per-run file. Components receive a *Run explicitly
// rather than reaching for package-level state.
type Run struct {
	Console zerolog.Logger
	Detail  zerolog.Logger
	LogPath string

	file *os.File
}

// NewRun creates the per-run log file under logDir and wires both loggers.
func NewRun(logDir string) (*Run, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir log dir: %w", err)
	}
	path := filepath.Join(logDir, fmt.Sprintf("convoy.%d.log", time.Now().Unix()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	console := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	detail := zerolog.New(f).With().Timestamp().Logger()
	return &Run{Console: console, Detail: detail, LogPath: path, file: f}, nil
}

// NewDiscardRun returns a Run whose loggers drop everything. Used by tests.
func NewDiscardRun() *Run {
	l := zerolog.New(io.Discard)
	return &Run{Console: l, Detail: l, LogPath: "discard.log"}
}

func (r *Run) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
