package emoji

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/postgres"
)

const selectColumns = "id, owner_id, name, animated, ext, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed emoji repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new emoji. Name collisions within one owner surface as
// ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Emoji, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO emojis (id, owner_id, name, animated, ext)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING %s`, selectColumns),
		params.ID, params.OwnerID, params.Name, params.Animated, params.Ext,
	)
	e, err := scanEmoji(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert emoji: %w", err)
	}
	return e, nil
}

// GetByID returns the emoji matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Emoji, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM emojis WHERE id = $1", selectColumns), id,
	)
	e, err := scanEmoji(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query emoji by id: %w", err)
	}
	return e, nil
}

// List returns every emoji ordered by creation time.
func (r *PGRepository) List(ctx context.Context) ([]Emoji, error) {
	return r.queryMany(ctx,
		fmt.Sprintf("SELECT %s FROM emojis ORDER BY created_at", selectColumns))
}

// ListByOwner returns the owner's emojis ordered by creation time.
func (r *PGRepository) ListByOwner(ctx context.Context, ownerID string) ([]Emoji, error) {
	return r.queryMany(ctx,
		fmt.Sprintf("SELECT %s FROM emojis WHERE owner_id = $1 ORDER BY created_at", selectColumns), ownerID)
}

func (r *PGRepository) queryMany(ctx context.Context, sql string, args ...any) ([]Emoji, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query emojis: %w", err)
	}
	defer rows.Close()

	var emojis []Emoji
	for rows.Next() {
		e, err := scanEmoji(rows)
		if err != nil {
			return nil, fmt.Errorf("scan emoji: %w", err)
		}
		emojis = append(emojis, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate emojis: %w", err)
	}
	return emojis, nil
}

// Rename changes the emoji's name. Collisions within the owner surface as
// ErrAlreadyExists.
func (r *PGRepository) Rename(ctx context.Context, id, name string) (*Emoji, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE emojis SET name = $2 WHERE id = $1 RETURNING %s", selectColumns),
		id, name,
	)
	e, err := scanEmoji(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("rename emoji: %w", err)
	}
	return e, nil
}

// Delete removes the emoji record.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM emojis WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete emoji: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanEmoji reads an emoji row from either a pgx.Row or pgx.Rows.
func scanEmoji(row pgx.Row) (*Emoji, error) {
	var e Emoji
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Animated, &e.Ext, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
