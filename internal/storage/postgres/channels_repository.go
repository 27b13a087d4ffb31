package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conduit-foundation/conduit/internal/domain/channels"
)

type ChannelRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func (r *ChannelRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *ChannelRepository) Insert(ctx context.Context, name string, schema json.RawMessage) (channels.Record, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO channels (name, schema)
VALUES ($1, $2)
RETURNING id, name, schema
`, name, schema)

	record, err := scanChannel(row)
	if err != nil {
		if isUniqueViolation(err, "channels_name_key") {
			return channels.Record{}, channels.ErrDuplicateName
		}
		return channels.Record{}, fmt.Errorf("insert channel: %w", err)
	}
	return record, nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (channels.Record, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, name, schema FROM channels WHERE id = $1
`, id)
	return scanChannelNotFound(row, "get channel")
}

func (r *ChannelRepository) GetByName(ctx context.Context, name string) (channels.Record, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT id, name, schema FROM channels WHERE name = $1
`, name)
	return scanChannelNotFound(row, "get channel by name")
}

func (r *ChannelRepository) List(ctx context.Context) ([]channels.Record, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT id, name, schema FROM channels ORDER BY name
`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return collectChannels(rows)
}

func (r *ChannelRepository) ListForKey(ctx context.Context, keyID string) ([]channels.Record, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT channels.id, channels.name, channels.schema
  FROM channels
  JOIN access ON channels.id = access.channel_id
 WHERE access.key_id = $1
 ORDER BY channels.name
`, keyID)
	if err != nil {
		return nil, fmt.Errorf("list channels for key: %w", err)
	}
	return collectChannels(rows)
}

func (r *ChannelRepository) Rename(ctx context.Context, id, name string) (channels.Record, error) {
	row := r.queryer().QueryRow(ctx, `
UPDATE channels SET name = $2 WHERE id = $1
RETURNING id, name, schema
`, id, name)

	record, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return channels.Record{}, channels.ErrNotFound
		}
		if isUniqueViolation(err, "channels_name_key") {
			return channels.Record{}, channels.ErrDuplicateName
		}
		return channels.Record{}, fmt.Errorf("rename channel: %w", err)
	}
	return record, nil
}

func (r *ChannelRepository) UpdateSchema(ctx context.Context, id string, schema json.RawMessage) (channels.Record, error) {
	row := r.queryer().QueryRow(ctx, `
UPDATE channels SET schema = $2 WHERE id = $1
RETURNING id, name, schema
`, id, schema)
	return scanChannelNotFound(row, "update channel schema")
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return channels.ErrNotFound
	}
	return nil
}

func scanChannel(row pgx.Row) (channels.Record, error) {
	var record channels.Record
	if err := row.Scan(&record.ID, &record.Name, &record.Schema); err != nil {
		return channels.Record{}, err
	}
	return record, nil
}

func scanChannelNotFound(row pgx.Row, op string) (channels.Record, error) {
	record, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return channels.Record{}, channels.ErrNotFound
		}
		return channels.Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return record, nil
}

func collectChannels(rows pgx.Rows) ([]channels.Record, error) {
	defer rows.Close()
	var out []channels.Record
	for rows.Next() {
		record, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}
