package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/havenhealth/haven/internal/apperror"
)

// sessionTokenBytes is the number of random bytes in an opaque session id.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters. The signed
// cookie token is a pointer to this value, not a credential in itself.
const sessionTokenBytes = 32

// argon2id parameters for password hashing, following OWASP recommendations:
// memory=64MB, iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Security audit event names. Recorded through the AuditRecorder; the audit
// plugin drops any event not present in the configured allow-list.
const (
	EventUserRegistered   = "user.registered"
	EventUserLogin        = "user.login"
	EventUserLoginFailed  = "user.login_failed"
	EventUserLogout       = "user.logout"
	EventUserLogoutAll    = "user.logout_all"
	EventPasswordChanged  = "user.password_changed"
	EventPasswordReset    = "user.password_reset"
	EventUserDeleted      = "user.deleted"
	EventRoleAssigned     = "role.assigned"
	EventRoleRevoked      = "role.revoked"
	EventOAuthLogin       = "oauth.login"
	EventOAuthLinkCreated = "oauth.link_created"
	EventSessionRevoked   = "session.revoked"
)

// AuditRecorder is the capability the auth plugins use to record security
// events. Implementations must never fail the operation being observed --
// Record has no error return by contract.
type AuditRecorder interface {
	Record(ctx context.Context, event, userID string, meta map[string]any, device DeviceInfo)
}

// AuthService defines the business logic contract for authentication and
// the session lifecycle. Handlers and guards call these methods -- they
// never touch the repositories directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput, device DeviceInfo) (*User, error)
	Login(ctx context.Context, input LoginInput, device DeviceInfo) (token string, user *User, err error)

	// CreateSession mints a session record plus its signed cookie token for
	// an already-authenticated user. Shared by local login and OAuth login.
	CreateSession(ctx context.Context, user *User, device DeviceInfo) (string, *Session, error)

	// ValidateSession runs the full token-to-identity pipeline: verify the
	// signed token, resolve the session record (lazily deleting it when
	// expired), and load the owning user with roles. Failures come back as
	// typed AppErrors so the guard can decide whether to clear the cookie.
	ValidateSession(ctx context.Context, token string) (*User, *Session, error)

	Logout(ctx context.Context, token string, device DeviceInfo) error
	LogoutAll(ctx context.Context, userID string, device DeviceInfo) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, device DeviceInfo) error

	// Device management.
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	RevokeSession(ctx context.Context, userID, sessionPublicID string, device DeviceInfo) error
}

// authService implements AuthService with argon2id hashing, MariaDB-backed
// session records, and signed thin tokens.
type authService struct {
	users    UserRepository
	sessions SessionRepository
	codec    *TokenCodec
	audit    AuditRecorder
	ttl      time.Duration
}

// NewAuthService creates a new auth service with the given dependencies.
// audit may be nil when the audit plugin is disabled.
func NewAuthService(users UserRepository, sessions SessionRepository, codec *TokenCodec, audit AuditRecorder, sessionTTL time.Duration) AuthService {
	return &authService{
		users:    users,
		sessions: sessions,
		codec:    codec,
		audit:    audit,
		ttl:      sessionTTL,
	}
}

// Register creates a new user account with the default USER role. It
// validates uniqueness, hashes the password with argon2id, and persists
// the user.
func (s *authService) Register(ctx context.Context, input RegisterInput, device DeviceInfo) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	// Check if email is already taken before doing expensive hashing.
	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewConflict("an account with this email already exists")
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	now := time.Now().UTC()
	user := &User{
		ID:           newID(),
		Email:        email,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		PasswordHash: &hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}
	if err := s.users.AssignRole(ctx, user.ID, RoleUser); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("assigning default role: %w", err))
	}
	user.Roles = []Role{{Name: RoleUser}}

	s.record(ctx, EventUserRegistered, user.ID, map[string]any{"email": user.Email}, device)

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// Login authenticates a user by email and password. On success it creates a
// new session and returns the signed token for the cookie.
func (s *authService) Login(ctx context.Context, input LoginInput, device DeviceInfo) (string, *User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		// Don't reveal whether the email exists -- use generic message.
		if isNotFound(err) {
			s.record(ctx, EventUserLoginFailed, "", map[string]any{"email": email}, device)
			return "", nil, apperror.NewUnauthorized("invalid email or password")
		}
		return "", nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	// OAuth-only accounts have no password hash; the generic message avoids
	// confirming which providers an address is registered with.
	if user.PasswordHash == nil || !VerifyPassword(input.Password, *user.PasswordHash) {
		s.record(ctx, EventUserLoginFailed, user.ID, nil, device)
		return "", nil, apperror.NewUnauthorized("invalid email or password")
	}

	token, _, err := s.CreateSession(ctx, user, device)
	if err != nil {
		return "", nil, err
	}

	// Update the user's last login timestamp (fire-and-forget, non-critical).
	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
	}

	s.record(ctx, EventUserLogin, user.ID, nil, device)

	slog.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return token, user, nil
}

// CreateSession generates a fresh high-entropy session id, persists the
// session record with the configured expiry, and signs a token pointing
// at it.
func (s *authService) CreateSession(ctx context.Context, user *User, device DeviceInfo) (string, *Session, error) {
	sessionID, err := generateSessionToken()
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("generating session id: %w", err))
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        newID(),
		SessionID: sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if device.UserAgent != "" {
		session.UserAgent = &device.UserAgent
	}
	if device.IPAddress != "" {
		session.IPAddress = &device.IPAddress
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("creating session: %w", err))
	}

	token, err := s.codec.Sign(sessionID)
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("signing session token: %w", err))
	}

	return token, session, nil
}

// ValidateSession resolves a signed token to its user and session, or a
// typed AppError describing exactly which step rejected it:
//
//	invalid_session_token -- signature/claim failure (cookie NOT cleared)
//	session_expired       -- verified token, but no live session record
//	user_not_found        -- live session, but the user has been deleted
//	auth_failed           -- unexpected infrastructure error
func (s *authService) ValidateSession(ctx context.Context, token string) (*User, *Session, error) {
	sessionID, err := s.codec.Verify(token)
	if err != nil {
		return nil, nil, apperror.NewInvalidSessionToken()
	}

	session, err := s.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, apperror.NewSessionExpired()
		}
		return nil, nil, apperror.NewAuthFailed(fmt.Errorf("loading session: %w", err))
	}

	// Expiry is checked redundantly on read: the row may still exist past
	// its expires_at because reclamation is lazy. Delete it now so the
	// store converges without a background sweeper.
	if session.Expired(time.Now().UTC()) {
		if err := s.sessions.Delete(ctx, sessionID); err != nil {
			slog.Warn("failed to reap expired session",
				slog.String("session", session.ID),
				slog.Any("error", err),
			)
		}
		return nil, nil, apperror.NewSessionExpired()
	}

	user, err := s.users.FindByIDWithRoles(ctx, session.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, apperror.NewUserNotFound()
		}
		return nil, nil, apperror.NewAuthFailed(fmt.Errorf("loading user: %w", err))
	}

	return user, session, nil
}

// Logout deletes the session the token points at. Invalid tokens are not an
// error -- the cookie gets cleared either way.
func (s *authService) Logout(ctx context.Context, token string, device DeviceInfo) error {
	sessionID, err := s.codec.Verify(token)
	if err != nil {
		return nil
	}

	session, err := s.sessions.FindBySessionID(ctx, sessionID)
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting session: %w", err))
	}

	if err == nil {
		s.record(ctx, EventUserLogout, session.UserID, nil, device)
	}

	return nil
}

// LogoutAll deletes every session the user owns ("logout everywhere").
func (s *authService) LogoutAll(ctx context.Context, userID string, device DeviceInfo) error {
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting user sessions: %w", err))
	}
	s.record(ctx, EventUserLogoutAll, userID, nil, device)
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding session so stolen tokens die with the old
// password. OAuth-only accounts (no hash yet) may set an initial password
// without supplying a current one.
func (s *authService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string, device DeviceInfo) error {
	if len(newPassword) < 8 {
		return apperror.NewValidation("password must be at least 8 characters")
	}
	if len(newPassword) > 128 {
		return apperror.NewValidation("password must be at most 128 characters")
	}

	user, err := s.users.FindByIDWithRoles(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return apperror.NewNotFound("user not found")
		}
		return apperror.NewInternal(fmt.Errorf("loading user: %w", err))
	}

	if user.PasswordHash != nil && !VerifyPassword(currentPassword, *user.PasswordHash) {
		return apperror.NewUnauthorized("current password is incorrect")
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return apperror.NewInternal(fmt.Errorf("revoking sessions: %w", err))
	}

	s.record(ctx, EventPasswordChanged, userID, nil, device)
	return nil
}

// ListSessions returns the user's active sessions for device management.
// Expired rows linger until something reads them, so reap them here the
// same way ValidateSession does; the device list only shows sessions that
// would still authenticate.
func (s *authService) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing sessions: %w", err))
	}

	now := time.Now()
	live := sessions[:0]
	for _, session := range sessions {
		if session.ExpiresAt.After(now) {
			live = append(live, session)
			continue
		}
		if err := s.sessions.Delete(ctx, session.SessionID); err != nil {
			slog.Warn("failed to reap expired session",
				slog.String("session", session.ID),
				slog.Any("error", err),
			)
		}
	}
	return live, nil
}

// RevokeSession deletes a single session identified by its public id,
// verifying ownership first so users can only revoke their own devices.
func (s *authService) RevokeSession(ctx context.Context, userID, sessionPublicID string, device DeviceInfo) error {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("listing sessions: %w", err))
	}

	for _, sess := range sessions {
		if sess.ID == sessionPublicID {
			if err := s.sessions.Delete(ctx, sess.SessionID); err != nil {
				return apperror.NewInternal(fmt.Errorf("deleting session: %w", err))
			}
			s.record(ctx, EventSessionRevoked, userID, map[string]any{"session": sess.ID}, device)
			return nil
		}
	}

	return apperror.NewNotFound("session not found")
}

// record forwards an event to the audit recorder when one is wired.
func (s *authService) record(ctx context.Context, event, userID string, meta map[string]any, device DeviceInfo) {
	if s.audit != nil {
		s.audit.Record(ctx, event, userID, meta, device)
	}
}

// --- Password Hashing (argon2id) ---

// HashPassword creates an argon2id hash of the given password. The output
// format is: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
// This format is compatible with most argon2 libraries and allows self-
// contained verification without separate salt storage.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Encode to the standard PHC string format.
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash)

	return encoded, nil
}

// VerifyPassword checks a plaintext password against an argon2id hash string.
// Returns true if the password matches.
func VerifyPassword(password, encodedHash string) bool {
	// Parse the encoded hash to extract parameters, salt, and hash.
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	// Compute the hash of the provided password with the same parameters.
	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}

// --- Helpers ---

// newID creates a new v4 UUID string for primary keys.
func newID() string {
	return uuid.NewString()
}

// generateSessionToken creates a cryptographically random hex-encoded
// opaque session id.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// isNotFound reports whether err is an apperror with a 404 code.
func isNotFound(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == 404
}
