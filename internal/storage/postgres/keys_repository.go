package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-foundation/conduit/internal/domain/keys"
)

type KeyRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *KeyRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// Insert stores the key and its access edges in one transaction so a partly
// scoped key is never observable.
func (r *KeyRepository) Insert(ctx context.Context, keyType keys.Type, secretHash string, channelIDs []string) (keys.Key, error) {
	var key keys.Key
	repo := &Repository{pool: r.pool, tx: r.tx}
	err := repo.WithTx(ctx, func(ctx context.Context, txRepo *Repository) error {
		q := txRepo.Keys().queryer()
		row := q.QueryRow(ctx, `
INSERT INTO keys (type, secret_hash)
VALUES ($1, $2)
RETURNING id, type, secret_hash
`, string(keyType), secretHash)
		if err := row.Scan(&key.ID, &key.Type, &key.SecretHash); err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		return insertAccessEdges(ctx, q, key.ID, channelIDs)
	})
	if err != nil {
		return keys.Key{}, err
	}
	return key, nil
}

func (r *KeyRepository) Get(ctx context.Context, id string) (keys.Key, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, type, secret_hash FROM keys WHERE id = $1
`, id)

	var key keys.Key
	if err := row.Scan(&key.ID, &key.Type, &key.SecretHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return keys.Key{}, keys.ErrNotFound
		}
		return keys.Key{}, fmt.Errorf("get key: %w", err)
	}
	return key, nil
}

func (r *KeyRepository) List(ctx context.Context) ([]keys.Key, error) {
	rows, err := r.queryer().Query(ctx, `SELECT id, type, secret_hash FROM keys ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []keys.Key
	for rows.Next() {
		var key keys.Key
		if err := rows.Scan(&key.ID, &key.Type, &key.SecretHash); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return out, nil
}

func (r *KeyRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return keys.ErrNotFound
	}
	return nil
}

// SetChannels replaces the key's access-edge set as a single unit: old edges
// removed and the new set inserted inside one transaction.
func (r *KeyRepository) SetChannels(ctx context.Context, keyID string, channelIDs []string) error {
	repo := &Repository{pool: r.pool, tx: r.tx}
	return repo.WithTx(ctx, func(ctx context.Context, txRepo *Repository) error {
		q := txRepo.Keys().queryer()
		if _, err := q.Exec(ctx, `DELETE FROM access WHERE key_id = $1`, keyID); err != nil {
			return fmt.Errorf("clear access edges: %w", err)
		}
		return insertAccessEdges(ctx, q, keyID, channelIDs)
	})
}

func (r *KeyRepository) Authorizes(ctx context.Context, keyID, channelID string) (bool, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM access WHERE key_id = $1 AND channel_id = $2
)
`, keyID, channelID)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("check access edge: %w", err)
	}
	return exists, nil
}

func insertAccessEdges(ctx context.Context, q queryer, keyID string, channelIDs []string) error {
	for _, channelID := range channelIDs {
		if _, err := q.Exec(ctx, `
INSERT INTO access (key_id, channel_id) VALUES ($1, $2)
ON CONFLICT (key_id, channel_id) DO NOTHING
`, keyID, channelID); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("channel %s: %w", channelID, keys.ErrUnknownChannel)
			}
			return fmt.Errorf("insert access edge: %w", err)
		}
	}
	return nil
}
