package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ActiveAccounts returns every active account ordered for selection:
// least-used first so rotation spreads load across the pool.
func (s *Store) ActiveAccounts(ctx context.Context) ([]SessionAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, first_name, phone, session_name, password, password_iv,
		       is_active, is_used, request_count,
		       COALESCE(last_request_at, 'epoch'::timestamptz), created_at, updated_at
		FROM session
		WHERE is_active
		ORDER BY request_count ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []SessionAccount
	for rows.Next() {
		var a SessionAccount
		if err := rows.Scan(
			&a.ID, &a.FirstName, &a.Phone, &a.SessionName, &a.Password, &a.PasswordIV,
			&a.IsActive, &a.IsUsed, &a.RequestCount,
			&a.LastRequestAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// TryClaim marks an account as used iff it is not already claimed.
// The conditional update closes the race between two slots claiming the
// same account near-simultaneously: the loser sees zero affected rows.
func (s *Store) TryClaim(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session SET is_used = true, updated_at = now()
		WHERE id = $1 AND NOT is_used`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("claim account %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseAccount clears the claim on an account.
func (s *Store) ReleaseAccount(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE session SET is_used = false, updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("release account %d: %w", id, err)
	}
	return nil
}

// ReleaseAllAccounts clears stale claims, e.g. after a crashed process
// left is_used flags behind.
func (s *Store) ReleaseAllAccounts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE session SET is_used = false, updated_at = now()
		WHERE is_active AND is_used`)
	if err != nil {
		return fmt.Errorf("release accounts: %w", err)
	}
	return nil
}

// ResetQuota zeroes an account's request counter at the start of a new
// quota window.
func (s *Store) ResetQuota(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE session SET request_count = 0, last_request_at = $1, updated_at = now()
		WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("reset quota for account %d: %w", id, err)
	}
	return nil
}

// RecordRequest increments an account's request counter. Written through
// immediately: quota accuracy matters more than write volume.
func (s *Store) RecordRequest(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE session SET request_count = request_count + 1, last_request_at = $1, updated_at = now()
		WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record request for account %d: %w", id, err)
	}
	return nil
}

// AccountByPhone looks up a single account, used by the enrollment utility.
func (s *Store) AccountByPhone(ctx context.Context, phone string) (*SessionAccount, error) {
	var a SessionAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, first_name, phone, session_name, password, password_iv,
		       is_active, is_used, request_count,
		       COALESCE(last_request_at, 'epoch'::timestamptz), created_at, updated_at
		FROM session
		WHERE phone = $1`,
		phone,
	).Scan(
		&a.ID, &a.FirstName, &a.Phone, &a.SessionName, &a.Password, &a.PasswordIV,
		&a.IsActive, &a.IsUsed, &a.RequestCount,
		&a.LastRequestAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account by phone: %w", err)
	}
	return &a, nil
}

// SaveAccount inserts a new credentialed account (enrollment utility).
func (s *Store) SaveAccount(ctx context.Context, a *SessionAccount) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO session (first_name, phone, session_name, password, password_iv, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, now(), now())
		RETURNING id`,
		a.FirstName, a.Phone, a.SessionName, a.Password, a.PasswordIV,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}
