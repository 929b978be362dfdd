// Package scheduler reconciles running prober loops against the site table.
//
// Once per second the full site list is read and compared to the task map:
// new sites get a loop, sites with a changed interval are restarted, deleted
// sites are stopped. Each site has at most one loop; loops for distinct sites
// run in parallel with no shared lock.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pingtower/pingtower/pkg/types"
)

// SiteLister reads the current site list.
type SiteLister interface {
	ListSites(ctx context.Context) ([]types.Site, error)
}

// ProbeLoop runs probe cycles for one site until the context is canceled.
type ProbeLoop interface {
	Run(ctx context.Context, siteID int, interval time.Duration)
}

// task is one running prober loop.
type task struct {
	cancel   context.CancelFunc
	interval time.Duration
	done     chan struct{}
}

// Scheduler owns the site → task map.
type Scheduler struct {
	store  SiteLister
	loop   ProbeLoop
	logger *slog.Logger

	// defaultInterval is used for sites with a non-positive ping_interval.
	defaultInterval time.Duration

	mu    sync.Mutex
	tasks map[int]*task
}

// New builds a Scheduler.
func New(store SiteLister, loop ProbeLoop, defaultInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:           store,
		loop:            loop,
		logger:          logger,
		defaultInterval: defaultInterval,
		tasks:           make(map[int]*task),
	}
}

// Run reconciles once per second until the context is canceled, then stops
// every loop and waits for in-flight cycles to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if err := s.reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reconciliation failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcile aligns the task map with the current site list.
func (s *Scheduler) reconcile(ctx context.Context) error {
	sites, err := s.store.ListSites(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(sites))
	for _, site := range sites {
		seen[site.ID] = true
		interval := time.Duration(site.PingInterval) * time.Second
		if interval <= 0 {
			interval = s.defaultInterval
		}

		running, ok := s.tasks[site.ID]
		if ok && running.interval == interval {
			continue
		}
		var prev *task
		if ok {
			s.logger.Info("restarting prober", "site_id", site.ID,
				"old_interval", running.interval, "new_interval", interval)
			running.cancel()
			prev = running
		} else {
			s.logger.Info("starting prober", "site_id", site.ID, "interval", interval)
		}
		s.startLocked(ctx, site.ID, interval, prev)
	}

	// Stops only cancel; the loop goroutine exits on its own. Joining here
	// would let one site mid-probe stall reconciliation for every other site.
	for id, running := range s.tasks {
		if !seen[id] {
			s.logger.Info("stopping prober", "site_id", id)
			running.cancel()
			delete(s.tasks, id)
		}
	}
	return nil
}

// startLocked launches a loop, replacing prev when the site was retuned. The
// replaced loop drains before the new one runs, so a site never has two
// probers in flight. Caller holds s.mu.
func (s *Scheduler) startLocked(ctx context.Context, siteID int, interval time.Duration, prev *task) {
	loopCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, interval: interval, done: make(chan struct{})}
	s.tasks[siteID] = t
	go func() {
		defer close(t.done)
		if prev != nil {
			<-prev.done
		}
		s.loop.Run(loopCtx, siteID, interval)
	}()
}

// stopAll cancels every loop, then joins them with the lock released so
// Running callers are not blocked behind in-flight cycles during shutdown.
func (s *Scheduler) stopAll() {
	s.mu.Lock()
	stopped := make([]*task, 0, len(s.tasks))
	for id, t := range s.tasks {
		t.cancel()
		delete(s.tasks, id)
		stopped = append(stopped, t)
	}
	s.mu.Unlock()

	for _, t := range stopped {
		<-t.done
	}
}

// Running returns the number of active prober loops.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
