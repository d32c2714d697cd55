package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/havenhealth/haven/internal/apperror"
)

// UserRepository defines the data access contract for the credential store:
// users, their role assignments, and their linked OAuth identities.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByIDWithRoles(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateLastLogin(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	SaveProfile(ctx context.Context, userID string, profile Profile) error

	// Role assignment. Role names are normalized to uppercase; assigning a
	// role the user already holds is not an error.
	AssignRole(ctx context.Context, userID, roleName string) error
	RevokeRole(ctx context.Context, userID, roleName string) error

	// UpsertByProviderIdentity resolves an OAuth login to a local user:
	// an existing link wins, otherwise a user with the same email is
	// linked, otherwise a new account is created with the default role.
	// The returned bool reports whether a new identity link was created.
	UpsertByProviderIdentity(ctx context.Context, provider string, profile ProviderProfile) (*User, bool, error)

	// Admin operations.
	ListUsers(ctx context.Context, offset, limit int) ([]User, int, error)
	Delete(ctx context.Context, id string) error
}

// SessionRepository defines the data access contract for the session store.
// The store, not the signed token, is the authority for revocation: once a
// delete returns, any later lookup for that session misses.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	FindBySessionID(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	ListByUser(ctx context.Context, userID string) ([]Session, error)
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the select list shared by the user lookup queries.
const userColumns = `id, email, display_name, password_hash, avatar_url,
                     created_at, updated_at, last_login_at`

// Create inserts a new user row, plus a profile row when one is attached.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, display_name, password_hash, avatar_url, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	if user.Profile != nil {
		if err := r.SaveProfile(ctx, user.ID, *user.Profile); err != nil {
			return err
		}
	}

	return nil
}

// FindByIDWithRoles retrieves a user by id with roles and profile loaded.
// Returns apperror.NotFound if no user exists with this id.
func (r *userRepository) FindByIDWithRoles(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(ctx, r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail retrieves a user by email with roles and profile loaded.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanUser(ctx, r.db.QueryRowContext(ctx, query, email))
}

// scanUser scans a single user row and hydrates roles and profile.
func (r *userRepository) scanUser(ctx context.Context, row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.AvatarURL,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	if user.Roles, err = r.loadRoles(ctx, user.ID); err != nil {
		return nil, err
	}
	if user.Profile, err = r.loadProfile(ctx, user.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// loadRoles fetches the role set for a user via the user_roles join table.
func (r *userRepository) loadRoles(ctx context.Context, userID string) ([]Role, error) {
	query := `SELECT ro.id, ro.name, ro.description
	          FROM roles ro
	          JOIN user_roles ur ON ur.role_id = ro.id
	          WHERE ur.user_id = ?
	          ORDER BY ro.name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying user roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description); err != nil {
			return nil, fmt.Errorf("scanning role row: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, rows.Err()
}

// loadProfile fetches the profile sub-record, or nil if none exists.
func (r *userRepository) loadProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT first_name, last_name, bio, phone, address
	          FROM profiles WHERE user_id = ?`

	profile := &Profile{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.FirstName,
		&profile.LastName,
		&profile.Bio,
		&profile.Phone,
		&profile.Address,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	return profile, nil
}

// EmailExists returns true if a user with the given email already exists.
// Used during registration to check for duplicates before hashing the password.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}

	return exists, nil
}

// UpdateLastLogin sets the last_login_at timestamp to now for the given user.
func (r *userRepository) UpdateLastLogin(ctx context.Context, id string) error {
	query := `UPDATE users SET last_login_at = NOW() WHERE id = ?`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}

	return nil
}

// UpdatePassword sets a new password hash for a user.
func (r *userRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = NOW() WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, passwordHash, userID)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// SaveProfile upserts the profile sub-record for a user.
func (r *userRepository) SaveProfile(ctx context.Context, userID string, profile Profile) error {
	query := `INSERT INTO profiles (user_id, first_name, last_name, bio, phone, address)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON DUPLICATE KEY UPDATE
	              first_name = VALUES(first_name),
	              last_name  = VALUES(last_name),
	              bio        = VALUES(bio),
	              phone      = VALUES(phone),
	              address    = VALUES(address)`

	_, err := r.db.ExecContext(ctx, query,
		userID,
		profile.FirstName,
		profile.LastName,
		profile.Bio,
		profile.Phone,
		profile.Address,
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}

	return nil
}

// AssignRole grants a role to a user by role name. Unknown role names are
// a NotFound error; duplicate assignment is a no-op (INSERT IGNORE).
func (r *userRepository) AssignRole(ctx context.Context, userID, roleName string) error {
	roleID, err := r.roleIDByName(ctx, roleName)
	if err != nil {
		return err
	}

	query := `INSERT IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}

	return nil
}

// RevokeRole removes a role from a user. Revoking a role the user doesn't
// hold is not an error.
func (r *userRepository) RevokeRole(ctx context.Context, userID, roleName string) error {
	roleID, err := r.roleIDByName(ctx, roleName)
	if err != nil {
		return err
	}

	query := `DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("revoking role: %w", err)
	}

	return nil
}

// roleIDByName resolves a role name (case-normalized) to its id.
func (r *userRepository) roleIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM roles WHERE name = ?`, NormalizeRoleName(name),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.NewNotFound("role not found")
	}
	if err != nil {
		return 0, fmt.Errorf("querying role by name: %w", err)
	}
	return id, nil
}

// UpsertByProviderIdentity resolves an OAuth identity to a local user inside
// a single transaction so two racing callbacks for the same new identity
// cannot create duplicate accounts (the unique (provider, external_id) key
// makes the loser fail and retry at the application level).
func (r *userRepository) UpsertByProviderIdentity(ctx context.Context, provider string, profile ProviderProfile) (*User, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("beginning upsert tx: %w", err)
	}
	defer tx.Rollback()

	// Existing link wins.
	var userID string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM user_identities WHERE provider = ? AND external_id = ?`,
		provider, profile.ExternalID,
	).Scan(&userID)

	created := false
	switch {
	case err == nil:
		// Linked before; nothing to change.

	case errors.Is(err, sql.ErrNoRows):
		// No link yet: attach to an existing account with the same email,
		// or create a fresh account. Email matching requires a
		// provider-verified address; an unverified claim goes straight to
		// account creation so it cannot take over someone else's login.
		err = sql.ErrNoRows
		if profile.EmailVerified {
			err = tx.QueryRowContext(ctx,
				`SELECT id FROM users WHERE email = ?`, profile.Email,
			).Scan(&userID)
		}
		if errors.Is(err, sql.ErrNoRows) {
			userID, err = createUserTx(ctx, tx, profile)
			if err != nil {
				return nil, false, err
			}
		} else if err != nil {
			return nil, false, fmt.Errorf("querying user by email: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_identities (id, provider, external_id, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			newID(), provider, profile.ExternalID, userID, time.Now().UTC(),
		); err != nil {
			return nil, false, fmt.Errorf("linking provider identity: %w", err)
		}
		created = true

	default:
		return nil, false, fmt.Errorf("querying provider identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing upsert tx: %w", err)
	}

	user, err := r.FindByIDWithRoles(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// createUserTx inserts a new OAuth-only user (nil password hash) with the
// default USER role, inside the caller's transaction.
func createUserTx(ctx context.Context, tx *sql.Tx, profile ProviderProfile) (string, error) {
	id := newID()
	now := time.Now().UTC()

	var avatar *string
	if profile.AvatarURL != "" {
		avatar = &profile.AvatarURL
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, avatar_url, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, ?, ?, ?)`,
		id, profile.Email, profile.DisplayName, avatar, now, now,
	); err != nil {
		return "", fmt.Errorf("inserting oauth user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id)
		 SELECT ?, id FROM roles WHERE name = ?`,
		id, RoleUser,
	); err != nil {
		return "", fmt.Errorf("assigning default role: %w", err)
	}

	return id, nil
}

// --- Admin Operations ---

// ListUsers returns a paginated list of all users ordered by creation date.
// Also returns the total count for pagination. Roles are loaded per user;
// password hashes are deliberately excluded from the query.
func (r *userRepository) ListUsers(ctx context.Context, offset, limit int) ([]User, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT id, email, display_name, avatar_url, created_at, updated_at, last_login_at
	          FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL,
			&u.CreatedAt, &u.UpdatedAt, &u.LastLoginAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range users {
		if users[i].Roles, err = r.loadRoles(ctx, users[i].ID); err != nil {
			return nil, 0, err
		}
	}

	return users, total, nil
}

// Delete removes a user. Sessions, profile, role assignments, and provider
// identities cascade via foreign keys.
func (r *userRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}
	return nil
}

// --- Session repository ---

// sessionRepository implements SessionRepository with MariaDB queries.
type sessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new session repository backed by the given
// DB pool.
func NewSessionRepository(db *sql.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create inserts a new session row.
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	query := `INSERT INTO sessions (id, session_id, user_id, user_agent, ip_address, expires_at, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.SessionID,
		session.UserID,
		session.UserAgent,
		session.IPAddress,
		session.ExpiresAt,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// FindBySessionID retrieves a session by its opaque token value.
// Returns apperror.NotFound if no session exists -- expiry is NOT checked
// here; the service layer owns the expiry-plus-lazy-delete semantics.
func (r *sessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT id, session_id, user_id, user_agent, ip_address, expires_at, created_at
	          FROM sessions WHERE session_id = ?`

	s := &Session{}
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID,
		&s.SessionID,
		&s.UserID,
		&s.UserAgent,
		&s.IPAddress,
		&s.ExpiresAt,
		&s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	return s, nil
}

// Delete removes a session by its opaque token. Idempotent: deleting a
// session that doesn't exist is not an error.
func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID,
	); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllForUser removes every session owned by the user in one statement,
// so a concurrent validation either sees a session or doesn't -- never a
// half-deleted state.
func (r *sessionRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID,
	); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// ListByUser returns all sessions for a user, newest first. Used by the
// device management endpoints.
func (r *sessionRepository) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	query := `SELECT id, session_id, user_id, user_agent, ip_address, expires_at, created_at
	          FROM sessions WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.UserID, &s.UserAgent,
			&s.IPAddress, &s.ExpiresAt, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
