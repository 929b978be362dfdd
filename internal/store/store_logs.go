package store

import (
	"context"

	"github.com/pingtower/pingtower/pkg/types"
)

// =============================================================================
// ARCHIVED PROBE LOGS
// =============================================================================

// AddSiteLogs appends archived analytics rows. Rows are written in one batch
// transaction so a failed archive run leaves no partial copy behind.
func (s *Store) AddSiteLogs(ctx context.Context, rows []types.AnalyticsRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, row := range rows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO site_logs (site_id, url, name, traffic_light, timestamp,
				http_status, latency_ms, ping_ms, ssl_days_left, dns_resolved,
				redirects, errors_last, ping_interval)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			row.SiteID, row.URL, row.Name, string(row.TrafficLight), row.Timestamp,
			row.HTTPStatus, row.LatencyMs, row.PingMs, row.SSLDaysLeft,
			row.DNSResolved, row.Redirects, row.ErrorsLast, row.PingInterval,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// CountSiteLogs returns the number of archived rows for a URL.
func (s *Store) CountSiteLogs(ctx context.Context, url string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM site_logs WHERE url = $1`, url).Scan(&n)
	return n, err
}
