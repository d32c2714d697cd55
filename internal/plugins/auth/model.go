// Package auth handles user authentication, session management, and
// role-based access control for Haven. It provides registration, login,
// logout, signed session tokens (JWT pointing at a server-side session
// record), and the request guards the rest of the application composes
// into its route groups.
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"strings"
	"time"
)

// Well-known role names. Roles are reference data seeded by migration;
// these constants exist so call sites don't scatter string literals.
const (
	RoleUser       = "USER"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPER_ADMIN"
)

// NormalizeRoleName converts a role name to its canonical form. Role names
// are stored and compared uppercase; lookups are case-insensitive.
func NormalizeRoleName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Role represents a named permission group. Many-to-many with User.
type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// User represents a registered Haven user. This is the domain model used
// throughout the application. PasswordHash is nil for accounts created
// through OAuth that never set a local password.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash *string    `json:"-"` // Never expose in JSON responses.
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	Roles        []Role     `json:"roles"`
	Profile      *Profile   `json:"profile,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// RoleNames returns the user's roles as a canonical set of uppercase
// names. This is the only role representation the authorization guard
// consumes -- repositories may load roles however they like, but they
// all normalize here.
func (u *User) RoleNames() map[string]struct{} {
	names := make(map[string]struct{}, len(u.Roles))
	for _, r := range u.Roles {
		names[NormalizeRoleName(r.Name)] = struct{}{}
	}
	return names
}

// HasRole reports whether the user holds the given role (case-insensitive).
func (u *User) HasRole(name string) bool {
	_, ok := u.RoleNames()[NormalizeRoleName(name)]
	return ok
}

// Identity is the capability the authorization guard requires from an
// authenticated principal: a stable id and a canonical role-name set.
// Decoupled from the persistence model so guards never depend on how a
// principal is stored.
type Identity interface {
	IdentityID() string
	RoleNames() map[string]struct{}
}

var _ Identity = (*User)(nil)

// IdentityID returns the user's opaque identifier.
func (u *User) IdentityID() string { return u.ID }

// Profile is the optional profile sub-record attached to a user.
type Profile struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Bio       *string `json:"bio,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
}

// Session is the server-side record authorizing a bearer token. The signed
// token a client holds is only a pointer to one of these rows; deleting the
// row revokes the token no matter how long its claims say it has left.
type Session struct {
	ID        string    `json:"id"`
	SessionID string    `json:"-"` // Opaque random token; never serialized.
	UserID    string    `json:"user_id"`
	UserAgent *string   `json:"user_agent,omitempty"`
	IPAddress *string   `json:"ip_address,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the session's expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// DeviceInfo carries the request metadata recorded on a session at login.
type DeviceInfo struct {
	UserAgent string
	IPAddress string
}

// ProviderProfile is the normalized identity an OAuth provider reports
// after a successful code exchange. Consumed by UpsertByProviderIdentity.
type ProviderProfile struct {
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string

	// EmailVerified reports whether the provider has verified ownership of
	// Email. Only verified emails may be matched against existing local
	// accounts; an unverified claim must never link into someone else's
	// account.
	EmailVerified bool
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted to POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// LoginRequest holds the data submitted to POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest holds the data submitted to POST /auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the validated input for creating a new user.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string
}
