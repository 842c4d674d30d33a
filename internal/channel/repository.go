package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/postgres"
)

const selectColumns = "id, name, topic, author_id, private, last_message_at, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed channel repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new channel and adds the author as its first member in the
// same transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Channel, error) {
	var ch *Channel
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			fmt.Sprintf(`INSERT INTO channels (id, name, topic, author_id, private)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING %s`, selectColumns),
			params.ID, params.Name, params.Topic, params.AuthorID, params.Private,
		)
		var err error
		ch, err = scanChannel(row)
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}

		_, err = tx.Exec(ctx,
			"INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)",
			ch.ID, params.AuthorID,
		)
		if err != nil {
			return fmt.Errorf("insert author membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// GetByID returns the channel matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Channel, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM channels WHERE id = $1", selectColumns), id,
	)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}
	return ch, nil
}

// Update applies the non-nil fields in params and returns the updated channel.
func (r *PGRepository) Update(ctx context.Context, id string, params UpdateParams) (*Channel, error) {
	setClauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	argPos := 1

	if params.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *params.Name)
		argPos++
	}
	if params.Topic != nil {
		setClauses = append(setClauses, fmt.Sprintf("topic = $%d", argPos))
		args = append(args, *params.Topic)
		argPos++
	}
	if params.Private != nil {
		setClauses = append(setClauses, fmt.Sprintf("private = $%d", argPos))
		args = append(args, *params.Private)
		argPos++
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE channels SET %s WHERE id = $%d RETURNING %s",
			strings.Join(setClauses, ", "), argPos, selectColumns),
		args...,
	)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// Delete removes the channel. Members, invites, messages and webhooks cascade
// at the schema level.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM channels WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListVisible returns the channels the user may see, ordered by last activity
// with quiet channels last.
func (r *PGRepository) ListVisible(ctx context.Context, userID string) ([]Channel, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM channels c
		 WHERE NOT c.private
		    OR c.author_id = $1
		    OR EXISTS (SELECT 1 FROM channel_members m WHERE m.channel_id = c.id AND m.user_id = $1)
		 ORDER BY c.last_message_at DESC NULLS LAST, c.created_at`, selectColumns),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query visible channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// SetLastMessageAt bumps the channel's activity marker.
func (r *PGRepository) SetLastMessageAt(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.Exec(ctx,
		"UPDATE channels SET last_message_at = $1 WHERE id = $2", at, id,
	); err != nil {
		return fmt.Errorf("set last message at: %w", err)
	}
	return nil
}

// PublicChannelIDs returns the ids of all public channels.
func (r *PGRepository) PublicChannelIDs(ctx context.Context) ([]string, error) {
	return r.queryIDs(ctx, "SELECT id FROM channels WHERE NOT private")
}

// MemberChannelIDs returns the ids of channels the user belongs to or
// authored.
func (r *PGRepository) MemberChannelIDs(ctx context.Context, userID string) ([]string, error) {
	return r.queryIDs(ctx,
		`SELECT c.id FROM channels c
		 WHERE c.author_id = $1
		    OR EXISTS (SELECT 1 FROM channel_members m WHERE m.channel_id = c.id AND m.user_id = $1)`,
		userID)
}

func (r *PGRepository) queryIDs(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query channel ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan channel id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel ids: %w", err)
	}
	return ids, nil
}

// AddMember inserts a membership row. Joining twice surfaces as
// ErrAlreadyMember.
func (r *PGRepository) AddMember(ctx context.Context, channelID, userID string) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO channel_members (channel_id, user_id) VALUES ($1, $2)",
		channelID, userID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (r *PGRepository) RemoveMember(ctx context.Context, channelID, userID string) error {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM channel_members WHERE channel_id = $1 AND user_id = $2",
		channelID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// MemberIDs returns the user ids of the channel's members in join order.
func (r *PGRepository) MemberIDs(ctx context.Context, channelID string) ([]string, error) {
	return r.queryIDs(ctx,
		"SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY created_at",
		channelID)
}

// CanAccess reports whether the user may see the channel: public, authored,
// or member.
func (r *PGRepository) CanAccess(ctx context.Context, channelID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM channels c
		   WHERE c.id = $1
		     AND (NOT c.private
		       OR c.author_id = $2
		       OR EXISTS (SELECT 1 FROM channel_members m WHERE m.channel_id = c.id AND m.user_id = $2))
		 )`,
		channelID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check channel access: %w", err)
	}
	return ok, nil
}

// scanChannel reads a channel row from either a pgx.Row or pgx.Rows.
func scanChannel(row pgx.Row) (*Channel, error) {
	var ch Channel
	err := row.Scan(
		&ch.ID, &ch.Name, &ch.Topic, &ch.AuthorID, &ch.Private,
		&ch.LastMessageAt, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}
