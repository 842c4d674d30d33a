package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/model"
)

const selectColumns = `id, channel_id, author_id, type, content, nonce, file_ids,
user_embeds, system_embeds, mentions, created_at, updated_at, deleted_at`

// Repository defines the data-access contract for messages.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, channelID, id string) (*Message, error)
	List(ctx context.Context, channelID string, filter ListFilter) ([]Message, error)
	UpdateContent(ctx context.Context, id, content string, mentions []string) (*Message, error)
	SetSystemEmbeds(ctx context.Context, id string, embeds []model.Embed) (*Message, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a message row.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	userEmbeds := params.UserEmbeds
	if userEmbeds == nil {
		userEmbeds = []model.Embed{}
	}
	systemEmbeds := params.SystemEmbeds
	if systemEmbeds == nil {
		systemEmbeds = []model.Embed{}
	}
	fileIDs := params.FileIDs
	if fileIDs == nil {
		fileIDs = []string{}
	}
	mentions := params.Mentions
	if mentions == nil {
		mentions = []string{}
	}

	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO messages (id, channel_id, author_id, type, content, nonce, file_ids, user_embeds, system_embeds, mentions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING %s`, selectColumns),
		params.ID, params.ChannelID, params.AuthorID, string(params.Type), params.Content,
		params.Nonce, fileIDs, userEmbeds, systemEmbeds, mentions,
	)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetByID returns the live message with the given id in the given channel.
func (r *PGRepository) GetByID(ctx context.Context, channelID, id string) (*Message, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM messages WHERE id = $1 AND channel_id = $2 AND deleted_at IS NULL", selectColumns),
		id, channelID,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return m, nil
}

// List returns a page of the channel's live messages. Results come newest
// first, except when paging forward from an after cursor alone, which reads
// oldest first. Contains matches by plain substring.
func (r *PGRepository) List(ctx context.Context, channelID string, filter ListFilter) ([]Message, error) {
	filter.ClampLimit()

	where := []string{"channel_id = $1", "deleted_at IS NULL"}
	args := []any{channelID}
	argPos := 2

	add := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, argPos))
		args = append(args, value)
		argPos++
	}

	if filter.After != nil {
		add("created_at > $%d", *filter.After)
	}
	if filter.Before != nil {
		add("created_at < $%d", *filter.Before)
	}
	if filter.AuthorID != "" {
		add("author_id = $%d", filter.AuthorID)
	}
	if filter.Contains != "" {
		add("strpos(content, $%d) > 0", filter.Contains)
	}

	order := "DESC"
	if filter.Ascending() {
		order = "ASC"
	}
	args = append(args, filter.Limit)

	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM messages WHERE %s ORDER BY created_at %s LIMIT $%d",
			selectColumns, strings.Join(where, " AND "), order, argPos),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// UpdateContent replaces the content and mentions of a live message.
func (r *PGRepository) UpdateContent(ctx context.Context, id, content string, mentions []string) (*Message, error) {
	if mentions == nil {
		mentions = []string{}
	}
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE messages SET content = $1, mentions = $2, updated_at = now()
		 WHERE id = $3 AND deleted_at IS NULL
		 RETURNING %s`, selectColumns),
		content, mentions, id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update message content: %w", err)
	}
	return m, nil
}

// SetSystemEmbeds replaces the unfurled embeds of a live message.
func (r *PGRepository) SetSystemEmbeds(ctx context.Context, id string, embeds []model.Embed) (*Message, error) {
	if embeds == nil {
		embeds = []model.Embed{}
	}
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE messages SET system_embeds = $1, updated_at = now()
		 WHERE id = $2 AND deleted_at IS NULL
		 RETURNING %s`, selectColumns),
		embeds, id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set system embeds: %w", err)
	}
	return m, nil
}

// SoftDelete hides a message without destroying the row.
func (r *PGRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE messages SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL", at, id,
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanMessage reads a message row from either a pgx.Row or pgx.Rows.
func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.ChannelID, &m.AuthorID, &m.Type, &m.Content, &m.Nonce, &m.FileIDs,
		&m.UserEmbeds, &m.SystemEmbeds, &m.Mentions, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
