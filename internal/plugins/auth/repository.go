package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// mysqlErrDuplicateEntry is the server error number for a unique key violation.
const mysqlErrDuplicateEntry = 1062

// CredentialStore defines the data access contract for user records.
// All SQL lives in the concrete implementation -- no SQL leaks out.
//
// Lookups fail with apperror NotFound, Create fails with Conflict on a
// duplicate email, and connectivity failures surface as Unavailable.
type CredentialStore interface {
	Create(ctx context.Context, user *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, user *User) error
	UpdateLastLogin(ctx context.Context, userID string) error
}

// userRepository implements CredentialStore with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) CredentialStore {
	return &userRepository{db: db}
}

// userColumns is the SELECT list shared by every lookup, in scanUser order.
const userColumns = `id, email, password_hash, display_name, avatar_url, bio,
	                 role, status, created_at, updated_at, last_login_at`

// Create inserts a new user row. The unique index on users.email makes this
// an atomic create-if-absent: of two concurrent registrations for the same
// address exactly one succeeds and the other gets Conflict.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, password_hash, display_name, avatar_url, bio,
	                             role, status, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		user.AvatarURL,
		user.Bio,
		user.Role,
		user.Status,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return apperror.NewConflict("an account with this email already exists")
		}
		return apperror.NewUnavailable(fmt.Errorf("inserting user: %w", err))
	}

	return nil
}

// FindByEmail retrieves a user by their (already normalized) email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "email", email)
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, "id", id)
}

// findOne runs a single-row lookup on column. Failures talking to the
// database are Unavailable; a row that cannot be decoded is Internal.
func (r *userRepository) findOne(ctx context.Context, column string, value any) (*User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("querying user by %s: %w", column, err))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, apperror.NewUnavailable(fmt.Errorf("querying user by %s: %w", column, err))
		}
		return nil, apperror.NewNotFound("user not found")
	}

	user, err := scanUser(rows)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding user by %s: %w", column, err))
	}
	if err := rows.Close(); err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("querying user by %s: %w", column, err))
	}
	return user, nil
}

// UpdatePasswordHash sets a new password hash for a user.
func (r *userRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("updating password hash: %w", err))
	}
	return requireRow(result)
}

// UpdateProfile writes the mutable profile fields of user. Email, role and
// status are deliberately absent from the statement.
func (r *userRepository) UpdateProfile(ctx context.Context, user *User) error {
	query := `UPDATE users SET display_name = ?, avatar_url = ?, bio = ?, updated_at = ?
	          WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query,
		user.DisplayName, user.AvatarURL, user.Bio, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("updating profile: %w", err))
	}
	return requireRow(result)
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login_at = UTC_TIMESTAMP() WHERE id = ?`, userID)
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("updating last login: %w", err))
	}
	return nil
}

// scanUser reads one row in userColumns order.
func scanUser(row *sql.Rows) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.DisplayName,
		&user.AvatarURL,
		&user.Bio,
		&user.Role,
		&user.Status,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// requireRow turns a zero-row UPDATE into NotFound. The DSN sets
// clientFoundRows so unchanged rows still count.
func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperror.NewUnavailable(fmt.Errorf("reading rows affected: %w", err))
	}
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// isDuplicateEntry reports whether err is a MariaDB unique key violation.
func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry
}
