package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorick/convoy/internal/logging"
)

type remoteCall struct {
	host  string
	items []string
}

// fakeRemote records Transfer/Execute calls and delegates outcomes to
// optional per-test hooks.
type fakeRemote struct {
	mu         sync.Mutex
	transfers  []remoteCall
	executes   []remoteCall
	transferFn func(files []string, host string) error
	execFn     func(commands []string, host string) error
}

func (f *fakeRemote) Transfer(ctx context.Context, files []string, cluster, host string) error {
	f.mu.Lock()
	f.transfers = append(f.transfers, remoteCall{host: host, items: files})
	f.mu.Unlock()
	if f.transferFn != nil {
		return f.transferFn(files, host)
	}
	return nil
}

func (f *fakeRemote) Execute(ctx context.Context, commands []string, cluster, host string) error {
	f.mu.Lock()
	f.executes = append(f.executes, remoteCall{host: host, items: commands})
	f.mu.Unlock()
	if f.execFn != nil {
		return f.execFn(commands, host)
	}
	return nil
}

func (f *fakeRemote) executedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	hosts := make([]string, 0, len(f.executes))
	for _, c := range f.executes {
		hosts = append(hosts, c.host)
	}
	return hosts
}

func TestBatchExecutorRunsAllInBoundedWaves(t *testing.T) {
	exec := &BatchExecutor{WaveSize: 2, Run: logging.NewDiscardRun()}

	var ran, inFlight, peak int32
	ops := make([]Operation, 5)
	for i := range ops {
		ops[i] = func(ctx context.Context) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			atomic.AddInt32(&ran, 1)
		}
	}

	if err := exec.Do(context.Background(), "testing", ops, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if ran != 5 {
		t.Fatalf("expected 5 operations to run, got %d", ran)
	}
	if peak > 2 {
		t.Fatalf("wave size exceeded: %d concurrent operations", peak)
	}
}

func TestBatchExecutorEmptyInput(t *testing.T) {
	exec := &BatchExecutor{WaveSize: 3, Run: logging.NewDiscardRun()}
	if err := exec.Do(context.Background(), "testing", nil, &Collector{}); err != nil {
		t.Fatalf("expected nil for empty input, got %v", err)
	}
}

func TestBatchExecutorStaggersWhenRelayConstrained(t *testing.T) {
	const stagger = 30 * time.Millisecond
	exec := &BatchExecutor{
		WaveSize:         3,
		RelayConstrained: true,
		Stagger:          stagger,
		Run:              logging.NewDiscardRun(),
	}

	var mu sync.Mutex
	var starts []time.Time
	ops := make([]Operation, 3)
	for i := range ops {
		ops[i] = func(ctx context.Context) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}
	}

	if err := exec.Do(context.Background(), "testing", ops, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(starts) != 3 {
		t.Fatalf("expected 3 starts, got %d", len(starts))
	}
	if gap := starts[2].Sub(starts[0]); gap < 2*stagger-10*time.Millisecond {
		t.Fatalf("starts not staggered: first and third only %v apart", gap)
	}
}

func TestBatchExecutorAggregatesFailures(t *testing.T) {
	run := logging.NewDiscardRun()
	exec := &BatchExecutor{WaveSize: 2, Run: run}
	errs := &Collector{}

	ops := []Operation{
		func(ctx context.Context) {},
		func(ctx context.Context) { errs.Record("bootstrap", "10.0.0.2", errors.New("boom")) },
		func(ctx context.Context) { errs.RecordMessage("bootstrap", "10.0.0.3", "no sentinel") },
	}

	err := exec.Do(context.Background(), "bootstrapping host", ops, errs)
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("expected *AggregateError, got %T", err)
	}
	if agg.Action != "bootstrapping host" {
		t.Fatalf("wrong action: %q", agg.Action)
	}
	if len(agg.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(agg.Records))
	}
	msg := agg.Error()
	if !strings.Contains(msg, "error bootstrapping host") || !strings.Contains(msg, "(2 total)") {
		t.Fatalf("unexpected message: %q", msg)
	}
	// Drained inside the aggregate; the collector itself is reset.
	if errs.Len() != 0 {
		t.Fatalf("collector not drained, %d left", errs.Len())
	}
}

func TestBatchExecutorNilCollectorSwallowsFailures(t *testing.T) {
	exec := &BatchExecutor{WaveSize: 1, Run: logging.NewDiscardRun()}
	ops := []Operation{func(ctx context.Context) {}}
	if err := exec.Do(context.Background(), "testing", ops, nil); err != nil {
		t.Fatalf("expected nil with nil collector, got %v", err)
	}
}

func TestRecorderUniqueKeepsFirstSeenOrder(t *testing.T) {
	r := &Recorder{}
	r.Append("b", "a", "b", "c", "a")
	got := r.Unique()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("item %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCollectorConcurrentRecords(t *testing.T) {
	c := &Collector{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordMessage("op", fmt.Sprintf("host-%d", i), "failed")
		}(i)
	}
	wg.Wait()
	if c.Len() != 20 {
		t.Fatalf("expected 20 records, got %d", c.Len())
	}
	if got := len(c.Drain()); got != 20 {
		t.Fatalf("drain returned %d records", got)
	}
	if c.Len() != 0 {
		t.Fatal("collector not reset after drain")
	}
}
