package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-foundation/conduit/internal/domain/sessions"
)

type SessionRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *SessionRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *SessionRepository) Insert(ctx context.Context, userID, accessHash, refreshHash string, expires time.Time) (sessions.Record, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO sessions (user_id, access_token_hash, refresh_token_hash, expires)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, expires
`, userID, accessHash, refreshHash, expires)
	return scanSession(row, "insert session")
}

func (r *SessionRepository) GetByAccessHash(ctx context.Context, accessHash string) (sessions.Record, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, user_id, expires FROM sessions WHERE access_token_hash = $1
`, accessHash)
	return scanSession(row, "get session")
}

func (r *SessionRepository) Refresh(ctx context.Context, refreshHash, newAccessHash string, expires time.Time) (sessions.Record, error) {
	row := r.queryer().QueryRow(ctx, `
UPDATE sessions
   SET access_token_hash = $2, expires = $3
 WHERE refresh_token_hash = $1
RETURNING id, user_id, expires
`, refreshHash, newAccessHash, expires)
	return scanSession(row, "refresh session")
}

func (r *SessionRepository) DeleteByRefreshHash(ctx context.Context, refreshHash string) error {
	tag, err := r.queryer().Exec(ctx, `
DELETE FROM sessions WHERE refresh_token_hash = $1
`, refreshHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sessions.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.queryer().Exec(ctx, `
DELETE FROM sessions WHERE expires < now()
`)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row, op string) (sessions.Record, error) {
	var record sessions.Record
	if err := row.Scan(&record.ID, &record.UserID, &record.Expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sessions.Record{}, sessions.ErrNotFound
		}
		return sessions.Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return record, nil
}
