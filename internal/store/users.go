package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, premium, COALESCE(first_name, ''), COALESCE(last_name, ''), COALESCE(username, ''), COALESCE(phone, ''), photo_id, created_at, updated_at`

func (s *Store) UserByID(ctx context.Context, id int64) (*User, error) {
	return s.userBy(ctx, `id = $1`, id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.userBy(ctx, `username = $1`, strings.ToLower(username))
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM tg_user WHERE `+where, arg,
	).Scan(
		&u.ID, &u.Premium, &u.FirstName, &u.LastName, &u.Username, &u.Phone,
		&u.PhotoID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// SaveUser upserts a resolved sender. Usernames are stored lower-cased so
// hint lookups stay case-insensitive.
func (s *Store) SaveUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tg_user (id, premium, first_name, last_name, username, phone, photo_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			premium = EXCLUDED.premium,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			phone = EXCLUDED.phone,
			photo_id = EXCLUDED.photo_id,
			updated_at = now()`,
		u.ID, u.Premium, u.FirstName, u.LastName, strings.ToLower(u.Username), u.Phone, u.PhotoID,
	)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

// MemoExists reports whether an identifier previously failed resolution.
func (s *Store) MemoExists(ctx context.Context, identifier string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tg_user_misc_extraction WHERE identifier = $1
		)`,
		identifier,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check memo: %w", err)
	}
	return exists, nil
}

// SaveMemo records an identifier that could not be resolved, so the same
// miss never costs a second network lookup.
func (s *Store) SaveMemo(ctx context.Context, identifier string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tg_user_misc_extraction (identifier, created_at)
		VALUES ($1, now())
		ON CONFLICT (identifier) DO NOTHING`,
		identifier,
	)
	if err != nil {
		return fmt.Errorf("save memo %q: %w", identifier, err)
	}
	return nil
}
