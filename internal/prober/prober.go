// Package prober runs the per-site probe cycle: probe, classify, detect
// change, persist, record analytics, publish.
package prober

import (
	"context"
	"log/slog"
	"time"

	"github.com/pingtower/pingtower/internal/checks"
	"github.com/pingtower/pingtower/internal/classify"
	"github.com/pingtower/pingtower/pkg/types"
)

// SiteStore is the slice of the operational store the prober needs.
type SiteStore interface {
	GetSite(ctx context.Context, id int) (*types.Site, error)
	UpdateProbeState(ctx context.Context, siteID int, snap types.ProbeSnapshot, lastOK *bool, lastStatus *int, lastRTT *float64) error
}

// Analytics records probe results in the append-only analytics store.
type Analytics interface {
	InsertRow(ctx context.Context, row types.AnalyticsRow) error
}

// Publisher sends events to the bus.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, payload any) error
}

// Checker runs the network sub-checks for one URL.
type Checker interface {
	Probe(ctx context.Context, rawURL string) (*checks.Result, error)
}

// Runner executes probe cycles for sites.
type Runner struct {
	store     SiteStore
	analytics Analytics
	publisher Publisher
	checker   Checker
	logger    *slog.Logger

	exchange   string
	routingKey string

	// NotifyAlways disables the change detector: every cycle publishes.
	notifyAlways bool

	now func() time.Time
}

// Options configures a Runner.
type Options struct {
	Exchange     string
	RoutingKey   string
	NotifyAlways bool
}

// NewRunner builds a Runner.
func NewRunner(store SiteStore, analytics Analytics, publisher Publisher, checker Checker, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		store:        store,
		analytics:    analytics,
		publisher:    publisher,
		checker:      checker,
		logger:       logger,
		exchange:     opts.Exchange,
		routingKey:   opts.RoutingKey,
		notifyAlways: opts.NotifyAlways,
		now:          time.Now,
	}
}

// Run loops probe cycles for one site until the context is canceled. The
// interval is fixed for the lifetime of the loop; the scheduler restarts the
// loop when the site's interval changes.
func (r *Runner) Run(ctx context.Context, siteID int, interval time.Duration) {
	logger := r.logger.With("site_id", siteID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.Cycle(ctx, siteID); err != nil && ctx.Err() == nil {
			logger.Error("probe cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cycle performs one probe for the site: load state, run the checks, classify
// against the recent history, persist the snapshot and publish an event
// unless the change detector suppressed it.
func (r *Runner) Cycle(ctx context.Context, siteID int) error {
	site, err := r.store.GetSite(ctx, siteID)
	if err != nil {
		return err
	}
	if site == nil {
		// Deleted between scheduling and probing; the scheduler will stop us
		// on its next pass.
		return nil
	}

	result, err := r.checker.Probe(ctx, site.URL)
	if err != nil {
		return err
	}

	at := r.now()
	snap := snapshotFromResult(result, at)
	snap.TrafficLight = classify.Classify(snap, site.History)

	ok := snap.TrafficLight == types.LightGreen
	var rtt *float64
	if snap.LatencyMs != nil {
		v := float64(*snap.LatencyMs)
		rtt = &v
	}

	skip := !r.notifyAlways && unchanged(site, ok, snap.HTTPStatus, rtt)

	if err := r.store.UpdateProbeState(ctx, siteID, snap, &ok, snap.HTTPStatus, rtt); err != nil {
		return err
	}

	if err := r.analytics.InsertRow(ctx, types.RowFromSnapshot(site, snap, at)); err != nil {
		r.logger.Error("analytics insert failed", "site_id", siteID, "error", err)
	}

	if skip {
		return nil
	}

	event := types.ProbeEvent{
		ID:   site.ID,
		URL:  site.URL,
		Name: site.Name,
		Com:  site.Com,
		Logs: snap,
	}
	skipFlag := false
	event.Com.SkipNotification = &skipFlag

	if err := r.publisher.Publish(ctx, r.exchange, r.routingKey, &event); err != nil {
		// Not retried: the next cycle re-emits fresh ground truth.
		r.logger.Error("event publish failed", "site_id", siteID, "error", err)
	}
	return nil
}

// unchanged reports whether the change-detector triple matches the persisted
// one. A nil-vs-value mismatch counts as a change.
func unchanged(site *types.Site, ok bool, status *int, rtt *float64) bool {
	if site.LastOK == nil || *site.LastOK != ok {
		return false
	}
	if !intPtrEqual(site.LastStatus, status) {
		return false
	}
	return floatPtrEqual(site.LastRTT, rtt)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func snapshotFromResult(result *checks.Result, at time.Time) types.ProbeSnapshot {
	snap := types.ProbeSnapshot{
		Timestamp:   at.Format(types.TimestampLayout),
		HTTPStatus:  result.HTTPStatus,
		LatencyMs:   result.LatencyMs,
		PingMs:      result.PingMs,
		SSLDaysLeft: result.SSLDaysLeft,
		DNSResolved: result.DNSResolved,
		Redirects:   result.Redirects,
	}
	if result.Errors > 0 {
		errs := result.Errors
		snap.ErrorsLast = &errs
	}
	return snap
}
