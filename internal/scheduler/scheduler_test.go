package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pingtower/pingtower/pkg/types"
)

type mockLister struct {
	mu    sync.Mutex
	sites []types.Site
}

func (m *mockLister) ListSites(_ context.Context) ([]types.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Site, len(m.sites))
	copy(out, m.sites)
	return out, nil
}

func (m *mockLister) set(sites []types.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites = sites
}

// countingLoop records starts per site and blocks until canceled, like a
// real prober loop.
type countingLoop struct {
	mu     sync.Mutex
	starts map[int]int
	active map[int]int
}

func newCountingLoop() *countingLoop {
	return &countingLoop{starts: make(map[int]int), active: make(map[int]int)}
}

func (l *countingLoop) Run(ctx context.Context, siteID int, _ time.Duration) {
	l.mu.Lock()
	l.starts[siteID]++
	l.active[siteID]++
	l.mu.Unlock()

	<-ctx.Done()

	l.mu.Lock()
	l.active[siteID]--
	l.mu.Unlock()
}

func (l *countingLoop) snapshot() (starts, active map[int]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	starts = make(map[int]int)
	active = make(map[int]int)
	for k, v := range l.starts {
		starts[k] = v
	}
	for k, v := range l.active {
		active[k] = v
	}
	return starts, active
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the test deadline expires. Loop
// goroutines start and drain asynchronously, so counter assertions need it.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReconcileStartsStopsAndRetunes(t *testing.T) {
	lister := &mockLister{}
	loop := newCountingLoop()
	sched := New(lister, loop, 30*time.Second, testLogger())
	ctx := context.Background()

	lister.set([]types.Site{
		{ID: 1, PingInterval: 30},
		{ID: 2, PingInterval: 60},
	})
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := sched.Running(); got != 2 {
		t.Fatalf("running = %d, want 2", got)
	}

	waitFor(t, func() bool {
		starts, _ := loop.snapshot()
		return starts[1] == 1 && starts[2] == 1
	}, "loops never started")

	// Unchanged list: no restarts.
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	starts, _ := loop.snapshot()
	if starts[1] != 1 || starts[2] != 1 {
		t.Errorf("starts = %v, want one per site", starts)
	}

	// Interval change restarts exactly that site; the old loop must be gone
	// before the replacement runs.
	lister.set([]types.Site{
		{ID: 1, PingInterval: 10},
		{ID: 2, PingInterval: 60},
	})
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	waitFor(t, func() bool {
		starts, _ := loop.snapshot()
		return starts[1] == 2
	}, "site 1 never restarted after retune")
	starts, active := loop.snapshot()
	if starts[2] != 1 {
		t.Errorf("site 2 starts = %d, want 1", starts[2])
	}
	if active[1] != 1 {
		t.Errorf("site 1 active loops = %d, want exactly 1", active[1])
	}

	// Deletion stops the loop.
	lister.set([]types.Site{{ID: 2, PingInterval: 60}})
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := sched.Running(); got != 1 {
		t.Errorf("running = %d, want 1 after delete", got)
	}
	waitFor(t, func() bool {
		_, active := loop.snapshot()
		return active[1] == 0
	}, "site 1 still active after delete")
	sched.stopAll()
}

// drainingLoop ignores cancellation until released, like a prober wedged in
// a slow network check.
type drainingLoop struct {
	release chan struct{}
}

func (l *drainingLoop) Run(ctx context.Context, _ int, _ time.Duration) {
	<-ctx.Done()
	<-l.release
}

func TestSlowStoppingLoopDoesNotStallScheduler(t *testing.T) {
	lister := &mockLister{}
	loop := &drainingLoop{release: make(chan struct{})}
	sched := New(lister, loop, 30*time.Second, testLogger())
	ctx := context.Background()

	lister.set([]types.Site{{ID: 1, PingInterval: 30}})
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Removing the site must not wait for the wedged loop to drain.
	lister.set(nil)
	done := make(chan error, 1)
	go func() { done <- sched.reconcile(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile blocked on a draining loop")
	}
	if got := sched.Running(); got != 0 {
		t.Errorf("running = %d, want 0 while old loop drains", got)
	}

	// Other sites keep scheduling meanwhile.
	lister.set([]types.Site{{ID: 2, PingInterval: 30}})
	if err := sched.reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := sched.Running(); got != 1 {
		t.Errorf("running = %d, want 1", got)
	}

	close(loop.release)
	sched.stopAll()
}

func TestDefaultIntervalForNonPositive(t *testing.T) {
	lister := &mockLister{}
	loop := newCountingLoop()
	sched := New(lister, loop, 30*time.Second, testLogger())

	lister.set([]types.Site{{ID: 7, PingInterval: 0}})
	if err := sched.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	sched.mu.Lock()
	task := sched.tasks[7]
	sched.mu.Unlock()
	if task == nil {
		t.Fatal("no task for site 7")
	}
	if task.interval != 30*time.Second {
		t.Errorf("interval = %v, want default 30s", task.interval)
	}
	sched.stopAll()
}

func TestRunShutdownStopsEverything(t *testing.T) {
	lister := &mockLister{}
	lister.set([]types.Site{{ID: 1, PingInterval: 30}})
	loop := newCountingLoop()
	sched := New(lister, loop, 30*time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for sched.Running() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never started the loop")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := sched.Running(); got != 0 {
		t.Errorf("running = %d after shutdown, want 0", got)
	}
}
