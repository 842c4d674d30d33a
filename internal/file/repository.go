package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, owner_id, name, mime_type, size, uploaded, uploaded_at, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed file repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts an upload reservation.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO stored_files (id, owner_id, name, mime_type, size)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING %s`, selectColumns),
		params.ID, params.OwnerID, params.Name, params.MimeType, params.Size,
	)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return f, nil
}

// GetByID returns the file matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM stored_files WHERE id = $1", selectColumns), id,
	)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query file by id: %w", err)
	}
	return f, nil
}

// GetByIDs returns the files matching any of the given ids.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []string) ([]File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM stored_files WHERE id = ANY($1)", selectColumns), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

// MarkUploaded completes the reservation after the object is confirmed in
// storage.
func (r *PGRepository) MarkUploaded(ctx context.Context, id string, at time.Time) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE stored_files SET uploaded = TRUE, uploaded_at = $1
		 WHERE id = $2 RETURNING %s`, selectColumns),
		at, id,
	)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mark file uploaded: %w", err)
	}
	return f, nil
}

// Delete removes the file record.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM stored_files WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanFile reads a file row from either a pgx.Row or pgx.Rows.
func scanFile(row pgx.Row) (*File, error) {
	var f File
	err := row.Scan(
		&f.ID, &f.OwnerID, &f.Name, &f.MimeType, &f.Size,
		&f.Uploaded, &f.UploadedAt, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
