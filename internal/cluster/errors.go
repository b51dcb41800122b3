package cluster

import (
	"fmt"
	"sync"
)

// ErrorRecord is one per-host failure captured by a worker.
type ErrorRecord struct {
	Op      string
	Host    string
	Message string
}

// Collector is an append-only failure sink shared by the workers of a wave.
// Workers only ever append; the coordinating goroutine drains it after the
// wave's barrier, so reads never race with writes.
type Collector struct {
	mu      sync.Mutex
	records []ErrorRecord
}

func (c *Collector) Record(op, host string, err error) {
	c.mu.Lock()
	c.records = append(c.records, ErrorRecord{Op: op, Host: host, Message: err.Error()})
	c.mu.Unlock()
}

func (c *Collector) RecordMessage(op, host, msg string) {
	c.mu.Lock()
	c.records = append(c.records, ErrorRecord{Op: op, Host: host, Message: msg})
	c.mu.Unlock()
}

func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Drain returns all captured records and resets the collector.
func (c *Collector) Drain() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.records
	c.records = nil
	return out
}

// AggregateError is the single failure raised by the coordinating goroutine
// once a wave joins with a non-empty collector.
type AggregateError struct {
	Action  string
	Records []ErrorRecord
	LogPath string
}

func (e *AggregateError) Error() string {
	first := "unknown error"
	if len(e.Records) > 0 {
		first = fmt.Sprintf("host %s: %s", e.Records[0].Host, e.Records[0].Message)
	}
	return fmt.Sprintf("error %s: %s (%d total). See debug log (%s) for details.",
		e.Action, first, len(e.Records), e.LogPath)
}

// ConvergenceError wraps a failure of the remote state-application run. It is
// propagated directly with no retry.
type ConvergenceError struct {
	Host string
	Err  error
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("convergence run failed on %s: %v", e.Host, e.Err)
}

func (e *ConvergenceError) Unwrap() error { return e.Err }

// Recorder is an append-only string collection used to gather staged file
// names and issued commands across concurrent bootstrap pipelines.
type Recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *Recorder) Append(items ...string) {
	r.mu.Lock()
	r.items = append(r.items, items...)
	r.mu.Unlock()
}

// Unique returns the distinct recorded items in first-seen order.
func (r *Recorder) Unique() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{}, len(r.items))
	out := make([]string, 0, len(r.items))
	for _, it := range r.items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
