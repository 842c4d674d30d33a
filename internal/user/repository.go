package user

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

const selectColumns = `id, username, email, password, token, verified, verification_code,
default_status, avatar_url, bio, color, background_color, admin, bytes, created_at, updated_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new account. Username and email collisions surface as
// ErrAlreadyExists.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO users (id, username, email, password, token, verification_code)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING %s`, selectColumns),
		params.ID, params.Username, params.Email, params.Password, params.Token, params.VerificationCode,
	)
	u, err := scanUser(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID returns the user matching the given id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id = $1", id)
}

// GetByEmail returns the user matching the given email, case-insensitively.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "lower(email) = lower($1)", email)
}

// GetByToken returns the user holding the given session token.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (*User, error) {
	return r.getBy(ctx, "token = $1", token)
}

func (r *PGRepository) getBy(ctx context.Context, where string, arg any) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM users WHERE %s", selectColumns, where), arg,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetByUsernames returns the users matching any of the given usernames,
// case-insensitively. Unknown names are simply absent from the result.
func (r *PGRepository) GetByUsernames(ctx context.Context, usernames []string) ([]User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(usernames))
	for i, n := range usernames {
		lowered[i] = strings.ToLower(n)
	}
	return r.queryMany(ctx,
		fmt.Sprintf("SELECT %s FROM users WHERE lower(username) = ANY($1)", selectColumns), lowered)
}

// GetByIDs returns the users matching any of the given ids.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryMany(ctx,
		fmt.Sprintf("SELECT %s FROM users WHERE id = ANY($1)", selectColumns), ids)
}

// List returns every account ordered by creation time.
func (r *PGRepository) List(ctx context.Context) ([]User, error) {
	return r.queryMany(ctx,
		fmt.Sprintf("SELECT %s FROM users ORDER BY created_at", selectColumns))
}

func (r *PGRepository) queryMany(ctx context.Context, sql string, args ...any) ([]User, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Update applies the non-nil fields in params and returns the updated record.
func (r *PGRepository) Update(ctx context.Context, id string, params UpdateParams) (*User, error) {
	setClauses := make([]string, 0, 7)
	args := make([]any, 0, 8)
	argPos := 1

	add := func(column string, value any) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if params.Username != nil {
		add("username", *params.Username)
	}
	if params.Email != nil {
		add("email", *params.Email)
	}
	if params.Password != nil {
		add("password", *params.Password)
	}
	if params.DefaultStatus != nil {
		add("default_status", string(*params.DefaultStatus))
	}
	if params.Bio != nil {
		add("bio", *params.Bio)
	}
	if params.Color != nil {
		add("color", *params.Color)
	}
	if params.BackgroundColor != nil {
		add("background_color", *params.BackgroundColor)
	}
	if params.AvatarURL != nil {
		add("avatar_url", *params.AvatarURL)
	} else if params.SetAvatarNull {
		setClauses = append(setClauses, "avatar_url = NULL")
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, id)

	row := r.db.QueryRow(ctx,
		fmt.Sprintf("UPDATE users SET %s WHERE id = $%d RETURNING %s",
			strings.Join(setClauses, ", "), argPos, selectColumns),
		args...,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// Verify marks the account verified when the code matches, clearing the code
// so it cannot be replayed.
func (r *PGRepository) Verify(ctx context.Context, id, code string) (*User, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`UPDATE users SET verified = TRUE, verification_code = NULL, updated_at = now()
		 WHERE id = $1 AND verification_code = $2
		 RETURNING %s`, selectColumns),
		id, code,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("verify user: %w", err)
	}
	return u, nil
}

// AddBytes adjusts the account's storage counter by delta, which may be
// negative when uploads are deleted.
func (r *PGRepository) AddBytes(ctx context.Context, id string, delta int64) error {
	tag, err := r.db.Exec(ctx, "UPDATE users SET bytes = bytes + $1 WHERE id = $2", delta, id)
	if err != nil {
		return fmt.Errorf("add bytes for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanUser reads a user row from either a pgx.Row or pgx.Rows.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.Password, &u.Token, &u.Verified, &u.VerificationCode,
		&u.DefaultStatus, &u.AvatarURL, &u.Bio, &u.Color, &u.BackgroundColor, &u.Admin,
		&u.Bytes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
