package cluster

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

func newTestPoller(exec RemoteExecutor, deadline time.Duration) *ConnectivityPoller {
	run := logging.NewDiscardRun()
	return &ConnectivityPoller{
		Executor: &BatchExecutor{WaveSize: 10, Run: run},
		Exec:     exec,
		Interval: time.Millisecond,
		Deadline: deadline,
		Run:      run,
	}
}

func TestPollerWaitsUntilHostsAnswer(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	exec := &fakeRemote{
		execFn: func(commands []string, host string) error {
			mu.Lock()
			defer mu.Unlock()
			attempts[host]++
			if attempts[host] < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
	}

	p := newTestPoller(exec, time.Second)
	hosts := []string{"10.0.0.1", "10.0.0.2"}
	if err := p.Wait(context.Background(), hosts, "pond"); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	for _, h := range hosts {
		if attempts[h] != 3 {
			t.Fatalf("host %s probed %d times, expected 3", h, attempts[h])
		}
	}
}

func TestPollerIsolatesDeadHost(t *testing.T) {
	exec := &fakeRemote{
		execFn: func(commands []string, host string) error {
			if host == "10.0.0.3" {
				return errors.New("no route to host")
			}
			return nil
		},
	}

	p := newTestPoller(exec, 20*time.Millisecond)
	err := p.Wait(context.Background(), []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, "pond")
	if err == nil {
		t.Fatal("expected an aggregate error for the dead host")
	}
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected *AggregateError, got %T", err)
	}
	if len(agg.Records) != 1 {
		t.Fatalf("expected exactly 1 failure record, got %d", len(agg.Records))
	}
	rec := agg.Records[0]
	if rec.Host != "10.0.0.3" {
		t.Fatalf("wrong host recorded: %s", rec.Host)
	}
	if !strings.Contains(rec.Message, "giving up waiting for connectivity to 10.0.0.3") {
		t.Fatalf("unexpected message: %q", rec.Message)
	}
}

func TestPollerStopsOnCancelledContext(t *testing.T) {
	exec := &fakeRemote{
		execFn: func(commands []string, host string) error {
			return errors.New("still down")
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPoller(exec, time.Minute)
	done := make(chan error, 1)
	go func() { done <- p.Wait(ctx, []string{"10.0.0.1"}, "pond") }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected failure when context is cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}
