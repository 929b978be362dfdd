// Package store provides database access for the operational site registry.
//
// # Design
//
// The store uses raw SQL with pgx. Site history and com flags live in JSONB
// columns so the probe pipeline can persist a full snapshot in one statement.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pingtower/pingtower/pkg/types"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store with the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromURL creates a new store by connecting to the given database URL.
func NewStoreFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// SITES
// =============================================================================

const siteColumns = `id, url, name, com, last_traffic_light, history, ping_interval,
	last_ok, last_status, last_rtt, skip_notification`

func scanSite(row pgx.Row) (*types.Site, error) {
	var site types.Site
	var comJSON, historyJSON []byte
	var light *string
	err := row.Scan(
		&site.ID, &site.URL, &site.Name, &comJSON, &light, &historyJSON,
		&site.PingInterval, &site.LastOK, &site.LastStatus, &site.LastRTT,
		&site.SkipNotification,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(comJSON, &site.Com)
	json.Unmarshal(historyJSON, &site.History)
	if light != nil {
		tl := types.TrafficLight(*light)
		site.LastTrafficLight = &tl
	}
	return &site, nil
}

// CreateSite registers a new monitored site and returns it with its ID set.
func (s *Store) CreateSite(ctx context.Context, site *types.Site) error {
	comJSON, _ := json.Marshal(site.Com)
	historyJSON, _ := json.Marshal(site.History)
	if site.History == nil {
		historyJSON = []byte("[]")
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO sites (url, name, com, history, ping_interval, skip_notification)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		site.URL, site.Name, comJSON, historyJSON, site.PingInterval,
		site.SkipNotification,
	).Scan(&site.ID)
}

// GetSite retrieves a site by ID. Returns (nil, nil) when not found.
func (s *Store) GetSite(ctx context.Context, id int) (*types.Site, error) {
	return scanSite(s.pool.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE id = $1`, id))
}

// GetSiteByURL retrieves a site by URL. Returns (nil, nil) when not found.
func (s *Store) GetSiteByURL(ctx context.Context, url string) (*types.Site, error) {
	return scanSite(s.pool.QueryRow(ctx,
		`SELECT `+siteColumns+` FROM sites WHERE url = $1`, url))
}

// ListSites returns all monitored sites ordered by ID.
func (s *Store) ListSites(ctx context.Context) ([]types.Site, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+siteColumns+` FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []types.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// EnsureSite returns the site with the given URL, creating it with defaults
// when it does not exist yet. Used by the dispatcher when an event arrives
// for a URL that was removed and re-added, or seeded from outside.
func (s *Store) EnsureSite(ctx context.Context, url, name string, pingInterval int) (*types.Site, error) {
	site, err := s.GetSiteByURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if site != nil {
		return site, nil
	}
	if name == "" {
		name = url
	}
	site = &types.Site{URL: url, Name: name, PingInterval: pingInterval}
	if err := s.CreateSite(ctx, site); err != nil {
		return nil, err
	}
	return site, nil
}

// UpdateSite updates display metadata and flags of an existing site.
func (s *Store) UpdateSite(ctx context.Context, site *types.Site) error {
	comJSON, _ := json.Marshal(site.Com)
	result, err := s.pool.Exec(ctx, `
		UPDATE sites
		SET url = $2, name = $3, com = $4, ping_interval = $5, skip_notification = $6
		WHERE id = $1
	`,
		site.ID, site.URL, site.Name, comJSON, site.PingInterval,
		site.SkipNotification,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("site not found: %d", site.ID)
	}
	return nil
}

// DeleteSite removes a site from monitoring.
func (s *Store) DeleteSite(ctx context.Context, id int) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sites WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("site not found: %d", id)
	}
	return nil
}

// UpdateProbeState persists the outcome of one probe cycle atomically: the
// new snapshot is appended to the history (truncated to the retention limit),
// and the traffic light plus change-detector fields are replaced. The row is
// locked for the duration so concurrent cycles for the same site cannot
// interleave their read-modify-write.
func (s *Store) UpdateProbeState(ctx context.Context, siteID int, snap types.ProbeSnapshot, lastOK *bool, lastStatus *int, lastRTT *float64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var historyJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT history FROM sites WHERE id = $1 FOR UPDATE`, siteID,
	).Scan(&historyJSON)
	if err == pgx.ErrNoRows {
		return fmt.Errorf("site not found: %d", siteID)
	}
	if err != nil {
		return err
	}

	var history []types.ProbeSnapshot
	json.Unmarshal(historyJSON, &history)
	newHistory, _ := json.Marshal(types.AppendHistory(history, snap))

	if _, err := tx.Exec(ctx, `
		UPDATE sites
		SET history = $2, last_traffic_light = $3,
			last_ok = $4, last_status = $5, last_rtt = $6
		WHERE id = $1
	`, siteID, newHistory, string(snap.TrafficLight), lastOK, lastStatus, lastRTT); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
