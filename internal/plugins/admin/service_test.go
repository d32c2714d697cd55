package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/havenhealth/haven/internal/apperror"
	"github.com/havenhealth/haven/internal/plugins/auth"
)

// --- Mock Repositories ---

// mockUserRepo implements auth.UserRepository for testing.
type mockUserRepo struct {
	findByIDFn       func(ctx context.Context, id string) (*auth.User, error)
	updatePasswordFn func(ctx context.Context, userID, passwordHash string) error
	assignRoleFn     func(ctx context.Context, userID, roleName string) error
	revokeRoleFn     func(ctx context.Context, userID, roleName string) error
	listUsersFn      func(ctx context.Context, offset, limit int) ([]auth.User, int, error)
	deleteFn         func(ctx context.Context, id string) error
}

func (m *mockUserRepo) Create(_ context.Context, _ *auth.User) error { return nil }

func (m *mockUserRepo) FindByIDWithRoles(ctx context.Context, id string) (*auth.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &auth.User{ID: id}, nil
}

func (m *mockUserRepo) FindByEmail(_ context.Context, _ string) (*auth.User, error) {
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) EmailExists(_ context.Context, _ string) (bool, error) { return false, nil }
func (m *mockUserRepo) UpdateLastLogin(_ context.Context, _ string) error     { return nil }

func (m *mockUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	if m.updatePasswordFn != nil {
		return m.updatePasswordFn(ctx, userID, passwordHash)
	}
	return nil
}

func (m *mockUserRepo) SaveProfile(_ context.Context, _ string, _ auth.Profile) error { return nil }

func (m *mockUserRepo) AssignRole(ctx context.Context, userID, roleName string) error {
	if m.assignRoleFn != nil {
		return m.assignRoleFn(ctx, userID, roleName)
	}
	return nil
}

func (m *mockUserRepo) RevokeRole(ctx context.Context, userID, roleName string) error {
	if m.revokeRoleFn != nil {
		return m.revokeRoleFn(ctx, userID, roleName)
	}
	return nil
}

func (m *mockUserRepo) UpsertByProviderIdentity(_ context.Context, _ string, _ auth.ProviderProfile) (*auth.User, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (m *mockUserRepo) ListUsers(ctx context.Context, offset, limit int) ([]auth.User, int, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, offset, limit)
	}
	return nil, 0, nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockSessionRepo implements auth.SessionRepository for testing.
type mockSessionRepo struct {
	deleteAllForUserFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(_ context.Context, _ *auth.Session) error { return nil }

func (m *mockSessionRepo) FindBySessionID(_ context.Context, _ string) (*auth.Session, error) {
	return nil, apperror.NewNotFound("session not found")
}

func (m *mockSessionRepo) Delete(_ context.Context, _ string) error { return nil }

func (m *mockSessionRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	if m.deleteAllForUserFn != nil {
		return m.deleteAllForUserFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) ListByUser(_ context.Context, _ string) ([]auth.Session, error) {
	return nil, nil
}

// --- Tests ---

func TestAssignRoleNormalizesName(t *testing.T) {
	assigned := ""
	users := &mockUserRepo{
		assignRoleFn: func(_ context.Context, _, roleName string) error {
			assigned = roleName
			return nil
		},
	}
	svc := NewService(users, &mockSessionRepo{}, nil)

	if err := svc.AssignRole(context.Background(), "actor", "u1", "  admin ", auth.DeviceInfo{}); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if assigned != auth.RoleAdmin {
		t.Errorf("assigned %q, want %q", assigned, auth.RoleAdmin)
	}
}

func TestRevokeOwnAdminRoleRejected(t *testing.T) {
	called := false
	users := &mockUserRepo{
		revokeRoleFn: func(_ context.Context, _, _ string) error {
			called = true
			return nil
		},
	}
	svc := NewService(users, &mockSessionRepo{}, nil)

	err := svc.RevokeRole(context.Background(), "u1", "u1", auth.RoleAdmin, auth.DeviceInfo{})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code != 400 {
		t.Fatalf("expected 400, got %v", err)
	}
	if called {
		t.Error("repo was called for a self-revoke")
	}
}

func TestRevokeOtherUserRole(t *testing.T) {
	users := &mockUserRepo{}
	svc := NewService(users, &mockSessionRepo{}, nil)

	if err := svc.RevokeRole(context.Background(), "actor", "u1", auth.RoleAdmin, auth.DeviceInfo{}); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	var newHash string
	revoked := ""
	users := &mockUserRepo{
		updatePasswordFn: func(_ context.Context, _, passwordHash string) error {
			newHash = passwordHash
			return nil
		},
	}
	sessions := &mockSessionRepo{
		deleteAllForUserFn: func(_ context.Context, userID string) error {
			revoked = userID
			return nil
		},
	}
	svc := NewService(users, sessions, nil)

	if err := svc.ResetPassword(context.Background(), "actor", "u1", "fresh-password-1", auth.DeviceInfo{}); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if revoked != "u1" {
		t.Error("sessions not revoked after admin reset")
	}
	if !auth.VerifyPassword("fresh-password-1", newHash) {
		t.Error("stored hash does not match the new password")
	}
}

func TestResetPasswordTooShort(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, nil)

	err := svc.ResetPassword(context.Background(), "actor", "u1", "short", auth.DeviceInfo{})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestResetPasswordUnknownUser(t *testing.T) {
	users := &mockUserRepo{
		findByIDFn: func(_ context.Context, _ string) (*auth.User, error) {
			return nil, apperror.NewNotFound("user not found")
		},
	}
	svc := NewService(users, &mockSessionRepo{}, nil)

	err := svc.ResetPassword(context.Background(), "actor", "ghost", "fresh-password-1", auth.DeviceInfo{})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestDeleteUserRevokesSessionsFirst(t *testing.T) {
	var order []string
	users := &mockUserRepo{
		deleteFn: func(_ context.Context, _ string) error {
			order = append(order, "delete_user")
			return nil
		},
	}
	sessions := &mockSessionRepo{
		deleteAllForUserFn: func(_ context.Context, _ string) error {
			order = append(order, "delete_sessions")
			return nil
		},
	}
	svc := NewService(users, sessions, nil)

	if err := svc.DeleteUser(context.Background(), "actor", "u1", auth.DeviceInfo{}); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if len(order) != 2 || order[0] != "delete_sessions" || order[1] != "delete_user" {
		t.Errorf("order = %v, want sessions before user", order)
	}
}

func TestDeleteSelfRejected(t *testing.T) {
	svc := NewService(&mockUserRepo{}, &mockSessionRepo{}, nil)

	err := svc.DeleteUser(context.Background(), "u1", "u1", auth.DeviceInfo{})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Code != 400 {
		t.Fatalf("expected 400, got %v", err)
	}
}
