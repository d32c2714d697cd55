// Package admin exposes user administration: listing accounts, granting
// and revoking roles, resetting passwords, and deleting users. Every route
// is gated behind the ADMIN role.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/havenhealth/haven/internal/apperror"
	"github.com/havenhealth/haven/internal/plugins/auth"
)

// Service defines the admin operations over user accounts.
type Service interface {
	ListUsers(ctx context.Context, offset, limit int) ([]auth.User, int, error)
	AssignRole(ctx context.Context, actorID, userID, roleName string, device auth.DeviceInfo) error
	RevokeRole(ctx context.Context, actorID, userID, roleName string, device auth.DeviceInfo) error

	// ResetPassword sets a new password on the account and revokes every
	// session the user holds.
	ResetPassword(ctx context.Context, actorID, userID, newPassword string, device auth.DeviceInfo) error

	// DeleteUser removes the account and all its sessions.
	DeleteUser(ctx context.Context, actorID, userID string, device auth.DeviceInfo) error
}

type service struct {
	users    auth.UserRepository
	sessions auth.SessionRepository
	audit    auth.AuditRecorder
}

// NewService creates the admin service. audit may be nil.
func NewService(users auth.UserRepository, sessions auth.SessionRepository, audit auth.AuditRecorder) Service {
	return &service{users: users, sessions: sessions, audit: audit}
}

func (s *service) ListUsers(ctx context.Context, offset, limit int) ([]auth.User, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	users, total, err := s.users.ListUsers(ctx, offset, limit)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}
	return users, total, nil
}

func (s *service) AssignRole(ctx context.Context, actorID, userID, roleName string, device auth.DeviceInfo) error {
	name := auth.NormalizeRoleName(roleName)
	if err := s.users.AssignRole(ctx, userID, name); err != nil {
		return err
	}

	s.record(ctx, auth.EventRoleAssigned, userID, map[string]any{"role": name, "actor": actorID}, device)
	slog.Info("role assigned",
		slog.String("user_id", userID),
		slog.String("role", name),
		slog.String("actor", actorID),
	)
	return nil
}

func (s *service) RevokeRole(ctx context.Context, actorID, userID, roleName string, device auth.DeviceInfo) error {
	name := auth.NormalizeRoleName(roleName)

	// An admin stripping their own ADMIN role locks them out mid-request;
	// require another admin to do it.
	if actorID == userID && (name == auth.RoleAdmin || name == auth.RoleSuperAdmin) {
		return apperror.NewBadRequest("cannot revoke your own admin role")
	}

	if err := s.users.RevokeRole(ctx, userID, name); err != nil {
		return err
	}

	s.record(ctx, auth.EventRoleRevoked, userID, map[string]any{"role": name, "actor": actorID}, device)
	return nil
}

func (s *service) ResetPassword(ctx context.Context, actorID, userID, newPassword string, device auth.DeviceInfo) error {
	if len(newPassword) < 8 {
		return apperror.NewValidation("password must be at least 8 characters")
	}

	if _, err := s.users.FindByIDWithRoles(ctx, userID); err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating password: %w", err))
	}

	// A reset invalidates everything the old credentials minted.
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return apperror.NewInternal(fmt.Errorf("revoking sessions: %w", err))
	}

	s.record(ctx, auth.EventPasswordReset, userID, map[string]any{"actor": actorID}, device)
	return nil
}

func (s *service) DeleteUser(ctx context.Context, actorID, userID string, device auth.DeviceInfo) error {
	if actorID == userID {
		return apperror.NewBadRequest("cannot delete your own account from the admin area")
	}

	if _, err := s.users.FindByIDWithRoles(ctx, userID); err != nil {
		return err
	}

	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return apperror.NewInternal(fmt.Errorf("revoking sessions: %w", err))
	}
	if err := s.users.Delete(ctx, userID); err != nil {
		return apperror.NewInternal(fmt.Errorf("deleting user: %w", err))
	}

	s.record(ctx, auth.EventUserDeleted, userID, map[string]any{"actor": actorID}, device)
	slog.Info("user deleted",
		slog.String("user_id", userID),
		slog.String("actor", actorID),
	)
	return nil
}

func (s *service) record(ctx context.Context, event, userID string, meta map[string]any, device auth.DeviceInfo) {
	if s.audit != nil {
		s.audit.Record(ctx, event, userID, meta, device)
	}
}
