// Package analytics writes probe results to ClickHouse and serves the
// aggregate queries the admin API exposes. The table is append-only; aged
// rows are drained by the archiver.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pingtower/pingtower/pkg/types"
)

const tableDDL = `
CREATE TABLE IF NOT EXISTS site_logs (
	site_id        Int32,
	url            String,
	name           String,
	traffic_light  String,
	timestamp      DateTime,
	http_status    Nullable(Int32),
	latency_ms     Nullable(Int32),
	ping_ms        Nullable(Float64),
	ssl_days_left  Nullable(Int32),
	dns_resolved   UInt8,
	redirects      Nullable(Int32),
	errors_last    Nullable(Int32),
	ping_interval  Int32
) ENGINE = MergeTree()
ORDER BY (url, timestamp)
`

// Client wraps a ClickHouse connection for probe analytics.
type Client struct {
	conn   driver.Conn
	logger *slog.Logger
}

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// New connects to ClickHouse and ensures the analytics table exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, tableDDL); err != nil {
		return nil, fmt.Errorf("creating site_logs table: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// InsertRow appends one probe record.
func (c *Client) InsertRow(ctx context.Context, row types.AnalyticsRow) error {
	return c.conn.Exec(ctx, `
		INSERT INTO site_logs (site_id, url, name, traffic_light, timestamp,
			http_status, latency_ms, ping_ms, ssl_days_left, dns_resolved,
			redirects, errors_last, ping_interval)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		int32(row.SiteID), row.URL, row.Name, string(row.TrafficLight),
		row.Timestamp, toInt32(row.HTTPStatus), toInt32(row.LatencyMs),
		row.PingMs, toInt32(row.SSLDaysLeft), boolToUInt8(row.DNSResolved),
		toInt32(row.Redirects), toInt32(row.ErrorsLast), int32(row.PingInterval),
	)
}

func toInt32(p *int) *int32 {
	if p == nil {
		return nil
	}
	v := int32(*p)
	return &v
}

// FetchOlderThan returns rows whose timestamp is before the cutoff, ordered
// by timestamp, for the archiver to copy out.
func (c *Client) FetchOlderThan(ctx context.Context, cutoff time.Time) ([]types.AnalyticsRow, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT site_id, url, name, traffic_light, timestamp,
			http_status, latency_ms, ping_ms, ssl_days_left, dns_resolved,
			redirects, errors_last, ping_interval
		FROM site_logs
		WHERE timestamp < $1
		ORDER BY timestamp
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AnalyticsRow
	for rows.Next() {
		var (
			row      types.AnalyticsRow
			siteID   int32
			light    string
			status   *int32
			latency  *int32
			sslDays  *int32
			resolved uint8
			redirs   *int32
			errsLast *int32
			interval int32
		)
		if err := rows.Scan(
			&siteID, &row.URL, &row.Name, &light, &row.Timestamp,
			&status, &latency, &row.PingMs, &sslDays, &resolved,
			&redirs, &errsLast, &interval,
		); err != nil {
			return nil, err
		}
		row.SiteID = int(siteID)
		row.TrafficLight = types.TrafficLight(light)
		row.HTTPStatus = fromInt32(status)
		row.LatencyMs = fromInt32(latency)
		row.SSLDaysLeft = fromInt32(sslDays)
		row.DNSResolved = resolved != 0
		row.Redirects = fromInt32(redirs)
		row.ErrorsLast = fromInt32(errsLast)
		row.PingInterval = int(interval)
		out = append(out, row)
	}
	return out, rows.Err()
}

func fromInt32(p *int32) *int {
	if p == nil {
		return nil
	}
	v := int(*p)
	return &v
}

// DeleteOlderThan removes archived rows. ClickHouse mutations are
// asynchronous; the archiver treats acceptance of the mutation as success.
func (c *Client) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	return c.conn.Exec(ctx,
		`ALTER TABLE site_logs DELETE WHERE timestamp < $1`, cutoff)
}

// UptimeStat is a per-site availability summary over a query window.
type UptimeStat struct {
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	Probes       uint64  `json:"probes"`
	GreenPercent float64 `json:"green_percent"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// UptimeSince aggregates per-site availability from the given time onward.
func (c *Client) UptimeSince(ctx context.Context, since time.Time) ([]UptimeStat, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT url, any(name) AS name, count() AS probes,
			100 * countIf(traffic_light = 'green') / count() AS green_percent,
			avgIf(latency_ms, latency_ms IS NOT NULL) AS avg_latency_ms
		FROM site_logs
		WHERE timestamp >= $1
		GROUP BY url
		ORDER BY url
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []UptimeStat
	for rows.Next() {
		var st UptimeStat
		if err := rows.Scan(&st.URL, &st.Name, &st.Probes, &st.GreenPercent, &st.AvgLatencyMs); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
