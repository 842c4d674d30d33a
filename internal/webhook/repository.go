package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/postgres"
)

const selectColumns = "id, channel_id, owner_id, name, color, secret, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed webhook repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new webhook. Name collisions within one channel surface
// as ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Webhook, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO webhooks (id, channel_id, owner_id, name, color, secret)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING %s`, selectColumns),
		params.ID, params.ChannelID, params.OwnerID, params.Name, params.Color, params.Secret,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return w, nil
}

// GetByID returns the webhook matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Webhook, error) {
	return r.getBy(ctx, "id = $1", id)
}

// GetBySecret returns the webhook holding the given secret. This is the
// lookup behind the public receiver endpoint.
func (r *PGRepository) GetBySecret(ctx context.Context, secret string) (*Webhook, error) {
	return r.getBy(ctx, "secret = $1", secret)
}

func (r *PGRepository) getBy(ctx context.Context, where string, arg any) (*Webhook, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM webhooks WHERE %s", selectColumns, where), arg,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return w, nil
}

// ListByChannel returns the channel's webhooks ordered by creation time.
func (r *PGRepository) ListByChannel(ctx context.Context, channelID string) ([]Webhook, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM webhooks WHERE channel_id = $1 ORDER BY created_at", selectColumns),
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return webhooks, nil
}

// Update applies the non-nil fields in params and returns the updated
// webhook.
func (r *PGRepository) Update(ctx context.Context, id string, params UpdateParams) (*Webhook, error) {
	setClauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	argPos := 1

	if params.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *params.Name)
		argPos++
	}
	if params.Color != nil {
		setClauses = append(setClauses, fmt.Sprintf("color = $%d", argPos))
		args = append(args, *params.Color)
		argPos++
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE webhooks SET %s WHERE id = $%d RETURNING %s",
			strings.Join(setClauses, ", "), argPos, selectColumns),
		args...,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update webhook: %w", err)
	}
	return w, nil
}

// Delete removes the webhook.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM webhooks WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanWebhook reads a webhook row from either a pgx.Row or pgx.Rows.
func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(
		&w.ID, &w.ChannelID, &w.OwnerID, &w.Name, &w.Color, &w.Secret,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
