// Package archive moves aged analytics rows from ClickHouse into Postgres.
package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/pingtower/pingtower/pkg/types"
)

// DefaultRetention is how long rows stay in ClickHouse before archiving.
const DefaultRetention = 30 * 24 * time.Hour

// Source reads and trims the analytics store.
type Source interface {
	FetchOlderThan(ctx context.Context, cutoff time.Time) ([]types.AnalyticsRow, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// Sink receives archived rows.
type Sink interface {
	AddSiteLogs(ctx context.Context, rows []types.AnalyticsRow) error
}

// Archiver copies rows older than the retention window out of the analytics
// store.
type Archiver struct {
	source    Source
	sink      Sink
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New builds an Archiver. retention <= 0 falls back to DefaultRetention.
func New(source Source, sink Sink, retention time.Duration, logger *slog.Logger) *Archiver {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Archiver{
		source:    source,
		sink:      sink,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one archive pass: fetch aged rows, write them to the sink,
// then delete them from the source. Deletion happens only after the sink
// write succeeds, so a failed pass is retried in full rather than losing
// rows.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.retention)
	rows, err := a.source.FetchOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		a.logger.Info("nothing to archive", "cutoff", cutoff)
		return 0, nil
	}

	if err := a.sink.AddSiteLogs(ctx, rows); err != nil {
		return 0, err
	}
	if err := a.source.DeleteOlderThan(ctx, cutoff); err != nil {
		// Rows are safely archived; the duplicate window is bounded by the
		// next successful delete.
		a.logger.Error("source cleanup failed, rows remain duplicated", "error", err)
	}

	a.logger.Info("archive pass complete", "rows", len(rows), "cutoff", cutoff)
	return len(rows), nil
}
