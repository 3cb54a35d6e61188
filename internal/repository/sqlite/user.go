package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pharmacy-session/internal/apperror"
	"github.com/sakif/pharmacy-session/internal/model"
	"github.com/sakif/pharmacy-session/internal/repository"
)

var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, uid, name, email, username, role, is_active,
	phone, address, profile_picture, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var p model.Profile
	var role string
	err := row.Scan(
		&p.ID,
		&p.UID,
		&p.Name,
		&p.Email,
		&p.Username,
		&role,
		&p.IsActive,
		&p.Phone,
		&p.Address,
		&p.ProfilePicture,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return &p, nil
}

// Create inserts a new profile. ID and timestamps are set on the passed value.
func (db *DB) Create(ctx context.Context, p *model.Profile) error {
	p.ID = xid.New().String()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.UID,
		p.Name,
		p.Email,
		p.Username,
		string(p.Role),
		p.IsActive,
		p.Phone,
		p.Address,
		p.ProfilePicture,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "a profile with this uid, email or username already exists",
			}
		}
		return fmt.Errorf("sqlite: creating user %s: %w", p.UID, err)
	}
	return nil
}

// GetByUID returns the profile for an identity provider uid.
func (db *DB) GetByUID(ctx context.Context, uid string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uid = ?`, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", uid)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", uid, err)
	}
	return p, nil
}

// GetByEmail returns the profile registered with email, compared
// case-insensitively.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return p, nil
}

// UsernameTaken reports whether username belongs to an account other than
// exceptUID.
func (db *DB) UsernameTaken(ctx context.Context, username, exceptUID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ? AND uid <> ?`,
		username, exceptUID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username: %w", err)
	}
	return n > 0, nil
}

// List returns profiles newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Profile, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return profiles, nil
}

// Update writes the mutable profile fields. UpdatedAt is refreshed on p.
func (db *DB) Update(ctx context.Context, p *model.Profile) error {
	p.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET name = ?, username = ?, phone = ?, address = ?, profile_picture = ?, updated_at = ?
		 WHERE uid = ?`,
		p.Name,
		p.Username,
		p.Phone,
		p.Address,
		p.ProfilePicture,
		p.UpdatedAt,
		p.UID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "username is already taken",
				Field:   "username",
			}
		}
		return fmt.Errorf("sqlite: updating user %s: %w", p.UID, err)
	}
	return requireOneRow(result, p.UID)
}

// SetActive activates or deactivates an account.
func (db *DB) SetActive(ctx context.Context, uid string, active bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE uid = ?`,
		active, time.Now().UTC(), uid,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting active for user %s: %w", uid, err)
	}
	return requireOneRow(result, uid)
}

func requireOneRow(result sql.Result, uid string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", uid)
	}
	return nil
}
