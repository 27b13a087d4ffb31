package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-foundation/conduit/internal/domain/users"
)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *UserRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *UserRepository) Insert(ctx context.Context, name, passwordHash string, rank int) (users.User, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO users (name, password_hash, rank)
VALUES ($1, $2, $3)
RETURNING id, name, password_hash, rank
`, name, passwordHash, rank)

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "users_name_key") {
			return users.User{}, users.ErrDuplicateName
		}
		return users.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (users.User, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, name, password_hash, rank FROM users WHERE id = $1
`, id)
	return scanUserNotFound(row, "get user")
}

func (r *UserRepository) GetByName(ctx context.Context, name string) (users.User, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, name, password_hash, rank FROM users WHERE name = $1
`, name)
	return scanUserNotFound(row, "get user by name")
}

func (r *UserRepository) List(ctx context.Context, minRank int) ([]users.User, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, name, password_hash, rank FROM users WHERE rank >= $1 ORDER BY rank, name
`, minRank)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []users.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func (r *UserRepository) Rename(ctx context.Context, id, name string) (users.User, error) {
	row := r.queryer().QueryRow(ctx, `
UPDATE users SET name = $2 WHERE id = $1
RETURNING id, name, password_hash, rank
`, id, name)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return users.User{}, users.ErrNotFound
		}
		if isUniqueViolation(err, "users_name_key") {
			return users.User{}, users.ErrDuplicateName
		}
		return users.User{}, fmt.Errorf("rename user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE users SET password_hash = $2 WHERE id = $1
`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (users.User, error) {
	var user users.User
	if err := row.Scan(&user.ID, &user.Name, &user.PasswordHash, &user.Rank); err != nil {
		return users.User{}, err
	}
	return user, nil
}

func scanUserNotFound(row pgx.Row, op string) (users.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return users.User{}, users.ErrNotFound
		}
		return users.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}
