package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/postgres"
)

const selectColumns = "id, code, channel_id, author_id, expires_at, max_uses, uses, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed invite repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new invite.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Invite, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO channel_invites (id, code, channel_id, author_id, expires_at, max_uses)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING %s`, selectColumns),
		params.ID, params.Code, params.ChannelID, params.AuthorID, params.ExpiresAt, params.MaxUses,
	)
	inv, err := scanInvite(row)
	if err != nil {
		return nil, fmt.Errorf("insert invite: %w", err)
	}
	return inv, nil
}

// GetByCode returns the invite with the given code.
func (r *PGRepository) GetByCode(ctx context.Context, code string) (*Invite, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM channel_invites WHERE code = $1", selectColumns), code,
	)
	inv, err := scanInvite(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query invite by code: %w", err)
	}
	return inv, nil
}

// ListByChannel returns the channel's invites, newest first.
func (r *PGRepository) ListByChannel(ctx context.Context, channelID string) ([]Invite, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM channel_invites WHERE channel_id = $1 ORDER BY created_at DESC", selectColumns),
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

// Delete removes the invite.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM channel_invites WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Redeem locks the invite row, checks it is still usable and bumps the use
// counter, all in one transaction so concurrent redeems cannot overshoot
// max_uses.
func (r *PGRepository) Redeem(ctx context.Context, code string) (*Invite, error) {
	var inv *Invite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			fmt.Sprintf("SELECT %s FROM channel_invites WHERE code = $1 FOR UPDATE", selectColumns), code,
		)
		locked, err := scanInvite(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock invite: %w", err)
		}

		var now time.Time
		if err := tx.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
			return fmt.Errorf("read database time: %w", err)
		}
		if !locked.Usable(now) {
			return ErrUnusable
		}

		row = tx.QueryRow(ctx,
			fmt.Sprintf("UPDATE channel_invites SET uses = uses + 1 WHERE id = $1 RETURNING %s", selectColumns),
			locked.ID,
		)
		inv, err = scanInvite(row)
		if err != nil {
			return fmt.Errorf("increment invite uses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// scanInvite reads an invite row from either a pgx.Row or pgx.Rows.
func scanInvite(row pgx.Row) (*Invite, error) {
	var inv Invite
	err := row.Scan(
		&inv.ID, &inv.Code, &inv.ChannelID, &inv.AuthorID,
		&inv.ExpiresAt, &inv.MaxUses, &inv.Uses, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
