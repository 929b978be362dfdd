package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pingtower/pingtower/pkg/types"
)

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, tg_user_id, tg_chat_id, login, enabled, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID, &user.TGUserID, &user.TGChatID, &user.Login,
		&user.Enabled, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertUser creates the user or, when the Telegram user ID is already known,
// refreshes the chat ID, login and enabled flag.
func (s *Store) UpsertUser(ctx context.Context, user *types.User) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO users (tg_user_id, tg_chat_id, login, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tg_user_id) DO UPDATE
		SET tg_chat_id = EXCLUDED.tg_chat_id,
			login = EXCLUDED.login,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		user.TGUserID, user.TGChatID, user.Login, user.Enabled,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

// GetUserByTGID retrieves a user by Telegram user ID. Returns (nil, nil) when
// not found.
func (s *Store) GetUserByTGID(ctx context.Context, tgUserID int64) (*types.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE tg_user_id = $1`, tgUserID))
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetUserEnabled toggles delivery for a user.
func (s *Store) SetUserEnabled(ctx context.Context, tgUserID int64, enabled bool) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET enabled = $2, updated_at = NOW() WHERE tg_user_id = $1
	`, tgUserID, enabled)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %d", tgUserID)
	}
	return nil
}
