package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pingtower/pingtower/pkg/types"
)

// =============================================================================
// TEAMS
// =============================================================================

const teamColumns = `id, name, description, tracked_site_ids, tg_chat_id,
	email_recipients, webhook_urls, created_at`

func scanTeam(row pgx.Row) (*types.Team, error) {
	var team types.Team
	var description *string
	err := row.Scan(
		&team.ID, &team.Name, &description, &team.TrackedSiteIDs,
		&team.TGChatID, &team.EmailRecipients, &team.WebhookURLs,
		&team.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if description != nil {
		team.Description = *description
	}
	return &team, nil
}

// CreateTeam registers a new recipient team and returns it with its ID set.
func (s *Store) CreateTeam(ctx context.Context, team *types.Team) error {
	if team.TrackedSiteIDs == nil {
		team.TrackedSiteIDs = []int{}
	}
	if team.EmailRecipients == nil {
		team.EmailRecipients = []string{}
	}
	if team.WebhookURLs == nil {
		team.WebhookURLs = []string{}
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO teams (name, description, tracked_site_ids, tg_chat_id, email_recipients, webhook_urls)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		team.Name, team.Description, team.TrackedSiteIDs, team.TGChatID,
		team.EmailRecipients, team.WebhookURLs,
	).Scan(&team.ID, &team.CreatedAt)
}

// GetTeam retrieves a team by ID. Returns (nil, nil) when not found.
func (s *Store) GetTeam(ctx context.Context, id int) (*types.Team, error) {
	return scanTeam(s.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

// ListTeams returns all teams ordered by name.
func (s *Store) ListTeams(ctx context.Context) ([]types.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []types.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	return teams, rows.Err()
}

// ListTeamsForSite returns the teams that track the given site.
func (s *Store) ListTeamsForSite(ctx context.Context, siteID int) ([]types.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE $1 = ANY(tracked_site_ids) ORDER BY name`,
		siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []types.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	return teams, rows.Err()
}

// UpdateTeam replaces all mutable fields of an existing team.
func (s *Store) UpdateTeam(ctx context.Context, team *types.Team) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE teams
		SET name = $2, description = $3, tracked_site_ids = $4,
			tg_chat_id = $5, email_recipients = $6, webhook_urls = $7
		WHERE id = $1
	`,
		team.ID, team.Name, team.Description, team.TrackedSiteIDs,
		team.TGChatID, team.EmailRecipients, team.WebhookURLs,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("team not found: %d", team.ID)
	}
	return nil
}

// DeleteTeam removes a team.
func (s *Store) DeleteTeam(ctx context.Context, id int) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("team not found: %d", id)
	}
	return nil
}
