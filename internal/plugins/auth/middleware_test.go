package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/havenhealth/haven/internal/apperror"
)

// --- In-memory fakes ---
//
// The guard tests run the real service against map-backed repositories so
// the whole pipeline (cookie, codec, store, roles) is exercised end to end
// without a database.

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*User // keyed by id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepo) FindByIDWithRoles(_ context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, apperror.NewNotFound("user not found")
	}
	clone := *user
	return &clone, nil
}

func (f *fakeUserRepo) FindByEmail(_ context.Context, email string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, apperror.NewNotFound("user not found")
}

func (f *fakeUserRepo) EmailExists(_ context.Context, email string) (bool, error) {
	_, err := f.FindByEmail(context.Background(), email)
	return err == nil, nil
}

func (f *fakeUserRepo) UpdateLastLogin(_ context.Context, _ string) error { return nil }

func (f *fakeUserRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		user.PasswordHash = &passwordHash
	}
	return nil
}

func (f *fakeUserRepo) SaveProfile(_ context.Context, _ string, _ Profile) error { return nil }

func (f *fakeUserRepo) AssignRole(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	name := NormalizeRoleName(roleName)
	if !user.HasRole(name) {
		user.Roles = append(user.Roles, Role{Name: name})
	}
	return nil
}

func (f *fakeUserRepo) RevokeRole(_ context.Context, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return apperror.NewNotFound("user not found")
	}
	name := NormalizeRoleName(roleName)
	kept := user.Roles[:0]
	for _, r := range user.Roles {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	user.Roles = kept
	return nil
}

func (f *fakeUserRepo) UpsertByProviderIdentity(_ context.Context, _ string, _ ProviderProfile) (*User, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (f *fakeUserRepo) ListUsers(_ context.Context, _, _ int) ([]User, int, error) {
	return nil, 0, nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session // keyed by opaque session id
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*Session)}
}

func (f *fakeSessionRepo) Create(_ context.Context, session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *session
	f.sessions[session.SessionID] = &clone
	return nil
}

func (f *fakeSessionRepo) FindBySessionID(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, apperror.NewNotFound("session not found")
	}
	clone := *session
	return &clone, nil
}

func (f *fakeSessionRepo) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessionRepo) DeleteAllForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.sessions {
		if session.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepo) ListByUser(_ context.Context, userID string) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, session := range f.sessions {
		if session.UserID == userID {
			out = append(out, *session)
		}
	}
	return out, nil
}

// --- Test harness ---

type guardHarness struct {
	echo     *echo.Echo
	service  AuthService
	users    *fakeUserRepo
	sessions *fakeSessionRepo
	cookies  Cookies
}

func newGuardHarness(t *testing.T) *guardHarness {
	t.Helper()

	users := newFakeUserRepo()
	sessions := newFakeSessionRepo()
	codec := NewTokenCodec("test-secret-key-that-is-long-enough", time.Hour)
	service := NewAuthService(users, sessions, codec, nil, time.Hour)
	cookies := Cookies{Name: "haven_session", TTL: time.Hour}

	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			_ = c.JSON(appErr.Code, map[string]string{"error": appErr.Message})
			return
		}
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal"})
	}

	ok := func(c echo.Context) error {
		return c.String(http.StatusOK, GetUser(c).ID)
	}
	e.GET("/protected", ok, RequireAuth(service, cookies))
	e.GET("/admin", ok, RequireAuth(service, cookies), RequireAnyRole(RoleSuperAdmin, RoleAdmin))
	e.GET("/guardless-admin", ok, RequireAnyRole(RoleSuperAdmin, RoleAdmin))

	return &guardHarness{echo: e, service: service, users: users, sessions: sessions, cookies: cookies}
}

// signup creates a user directly through the service and returns it with a
// live session token.
func (h *guardHarness) signup(t *testing.T, email string, roles ...string) (*User, string) {
	t.Helper()
	user, err := h.service.Register(context.Background(), RegisterInput{
		Email:       email,
		DisplayName: "Test User",
		Password:    "hunter2hunter2",
	}, DeviceInfo{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, role := range roles {
		if err := h.users.AssignRole(context.Background(), user.ID, role); err != nil {
			t.Fatalf("assign role: %v", err)
		}
	}
	token, _, err := h.service.Login(context.Background(), LoginInput{
		Email:    email,
		Password: "hunter2hunter2",
	}, DeviceInfo{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return user, token
}

func (h *guardHarness) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: h.cookies.Name, Value: token})
	}
	rec := httptest.NewRecorder()
	h.echo.ServeHTTP(rec, req)
	return rec
}

// clearedCookie reports whether the response instructs the client to drop
// the session cookie.
func clearedCookie(rec *httptest.ResponseRecorder, name string) bool {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

// --- Guard tests ---

func TestRequireAuthNoCookie(t *testing.T) {
	h := newGuardHarness(t)
	rec := h.get("/protected", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	h := newGuardHarness(t)
	user, token := h.signup(t, "alice@example.com")

	rec := h.get("/protected", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != user.ID {
		t.Errorf("handler saw user %q, want %q", rec.Body.String(), user.ID)
	}
}

func TestRequireAuthGarbageTokenKeepsCookie(t *testing.T) {
	h := newGuardHarness(t)

	rec := h.get("/protected", "ey.garbage.token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if clearedCookie(rec, h.cookies.Name) {
		t.Error("cookie cleared for a codec failure; only store rejections clear it")
	}
}

func TestRequireAnyRoleWithoutIdentity(t *testing.T) {
	// Misordered route: the authorization guard runs without RequireAuth.
	// It must fail closed with 401, not evaluate roles on a nil user.
	h := newGuardHarness(t)
	rec := h.get("/guardless-admin", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAnyRoleForbidden(t *testing.T) {
	h := newGuardHarness(t)
	_, token := h.signup(t, "plain@example.com")

	rec := h.get("/admin", token)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRequireAnyRoleAdminAllowed(t *testing.T) {
	h := newGuardHarness(t)
	_, token := h.signup(t, "admin@example.com", RoleAdmin)

	rec := h.get("/admin", token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAnyRoleSuperAdminBypass(t *testing.T) {
	// SUPER_ADMIN holds none of the required roles but passes every gate.
	h := newGuardHarness(t)
	_, token := h.signup(t, "root@example.com", RoleSuperAdmin)

	rec := h.get("/admin", token)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestRoleNamesCaseInsensitive(t *testing.T) {
	h := newGuardHarness(t)
	_, token := h.signup(t, "mixed@example.com", "admin")

	rec := h.get("/admin", token)
	if rec.Code != http.StatusOK {
		t.Errorf("lowercase role grant not honored, status = %d", rec.Code)
	}
}

// --- End-to-end session lifecycle ---

func TestLifecycleLoginAccessLogout(t *testing.T) {
	h := newGuardHarness(t)
	_, token := h.signup(t, "bob@example.com")

	if rec := h.get("/protected", token); rec.Code != http.StatusOK {
		t.Fatalf("pre-logout status = %d, want 200", rec.Code)
	}

	if err := h.service.Logout(context.Background(), token, DeviceInfo{}); err != nil {
		t.Fatalf("logout: %v", err)
	}

	// The signed token is still cryptographically valid, but the store has
	// forgotten the session. Access must be denied and the cookie cleared.
	rec := h.get("/protected", token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d, want 401", rec.Code)
	}
	if !clearedCookie(rec, h.cookies.Name) {
		t.Error("revoked session did not clear the cookie")
	}
}

func TestLifecycleExpiredSessionReaped(t *testing.T) {
	h := newGuardHarness(t)
	_, token := h.signup(t, "sleepy@example.com")

	// Age the session past its expiry directly in the store.
	h.sessions.mu.Lock()
	var sid string
	for id, session := range h.sessions.sessions {
		session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		sid = id
	}
	h.sessions.mu.Unlock()

	rec := h.get("/protected", token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if !clearedCookie(rec, h.cookies.Name) {
		t.Error("expired session did not clear the cookie")
	}

	// Lazy reclamation: the expired row is gone after the rejected request.
	if _, err := h.sessions.FindBySessionID(context.Background(), sid); err == nil {
		t.Error("expired session row still present after validation")
	}
}

func TestLifecycleLogoutAllKillsOtherDevices(t *testing.T) {
	h := newGuardHarness(t)
	user, tokenA := h.signup(t, "multi@example.com")

	// Second device.
	tokenB, _, err := h.service.Login(context.Background(), LoginInput{
		Email:    "multi@example.com",
		Password: "hunter2hunter2",
	}, DeviceInfo{UserAgent: "other-device"})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := h.service.LogoutAll(context.Background(), user.ID, DeviceInfo{}); err != nil {
		t.Fatalf("logout all: %v", err)
	}

	for _, token := range []string{tokenA, tokenB} {
		if rec := h.get("/protected", token); rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401 after logout-all", rec.Code)
		}
	}
}

func TestLifecycleDeletedUserLocksOut(t *testing.T) {
	h := newGuardHarness(t)
	user, token := h.signup(t, "gone@example.com")

	if err := h.users.Delete(context.Background(), user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	rec := h.get("/protected", token)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for deleted user", rec.Code)
	}
	if !clearedCookie(rec, h.cookies.Name) {
		t.Error("deleted-user rejection did not clear the cookie")
	}
}

func TestRoleGrantVisibleWithoutRelogin(t *testing.T) {
	// The token carries only a session pointer, so roles are re-read from
	// the store on every request. A grant takes effect immediately.
	h := newGuardHarness(t)
	user, token := h.signup(t, "promoted@example.com")

	if rec := h.get("/admin", token); rec.Code != http.StatusForbidden {
		t.Fatalf("pre-grant status = %d, want 403", rec.Code)
	}

	if err := h.users.AssignRole(context.Background(), user.ID, RoleAdmin); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	if rec := h.get("/admin", token); rec.Code != http.StatusOK {
		t.Errorf("post-grant status = %d, want 200 with the same cookie", rec.Code)
	}
}

func TestRoleRevokeVisibleWithoutRelogin(t *testing.T) {
	h := newGuardHarness(t)
	user, token := h.signup(t, "demoted@example.com", RoleAdmin)

	if rec := h.get("/admin", token); rec.Code != http.StatusOK {
		t.Fatalf("pre-revoke status = %d, want 200", rec.Code)
	}

	if err := h.users.RevokeRole(context.Background(), user.ID, RoleAdmin); err != nil {
		t.Fatalf("revoke role: %v", err)
	}

	if rec := h.get("/admin", token); rec.Code != http.StatusForbidden {
		t.Errorf("post-revoke status = %d, want 403 with the same cookie", rec.Code)
	}
}

func TestOptionalAuthAnonymous(t *testing.T) {
	h := newGuardHarness(t)

	var sawUser *User
	h.echo.GET("/maybe", func(c echo.Context) error {
		sawUser = GetUser(c)
		return c.NoContent(http.StatusOK)
	}, OptionalAuth(h.service, h.cookies))

	rec := h.get("/maybe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sawUser != nil {
		t.Error("anonymous request carried a user")
	}
}

func TestOptionalAuthWithSession(t *testing.T) {
	h := newGuardHarness(t)
	user, token := h.signup(t, "opt@example.com")

	var sawUser *User
	h.echo.GET("/maybe", func(c echo.Context) error {
		sawUser = GetUser(c)
		return c.NoContent(http.StatusOK)
	}, OptionalAuth(h.service, h.cookies))

	if rec := h.get("/maybe", token); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if sawUser == nil || sawUser.ID != user.ID {
		t.Error("valid session was not attached by OptionalAuth")
	}
}

func TestCookieAttributes(t *testing.T) {
	cookies := Cookies{Name: "haven_session", Secure: true, TTL: time.Hour}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	cookies.Set(c, "tok")

	raw := rec.Header().Get("Set-Cookie")
	for _, want := range []string{"HttpOnly", "Secure", "SameSite=Lax", "Path=/"} {
		if !strings.Contains(raw, want) {
			t.Errorf("Set-Cookie missing %s: %s", want, raw)
		}
	}
}
