package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/havenhealth/haven/internal/apperror"
	"github.com/havenhealth/haven/internal/config"
	"github.com/havenhealth/haven/internal/plugins/auth"
)

// Service records and queries audit entries. It implements
// auth.AuditRecorder so the auth and oauth plugins can emit events without
// importing this package's internals.
type Service interface {
	auth.AuditRecorder
	List(ctx context.Context, filter ListFilter) ([]Entry, int, error)
}

type service struct {
	repo    Repository
	enabled bool
	allowed map[string]struct{}
}

// NewService creates the audit service from the audit configuration. Events
// outside the configured allow-list are dropped silently.
func NewService(repo Repository, cfg config.AuditConfig) Service {
	allowed := make(map[string]struct{}, len(cfg.Events))
	for _, event := range cfg.Events {
		allowed[event] = struct{}{}
	}
	return &service{
		repo:    repo,
		enabled: cfg.Enabled,
		allowed: allowed,
	}
}

// Record persists one event. It never returns an error: audit failures are
// logged and swallowed so they cannot break the operation being audited.
func (s *service) Record(ctx context.Context, event, userID string, meta map[string]any, device auth.DeviceInfo) {
	if !s.enabled {
		return
	}
	if _, ok := s.allowed[event]; !ok {
		return
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		Event:     event,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if device.IPAddress != "" {
		entry.IPAddress = &device.IPAddress
	}
	if device.UserAgent != "" {
		entry.UserAgent = &device.UserAgent
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		slog.Error("failed to record audit event",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

// List returns audit entries for the admin view.
func (s *service) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit log: %w", err))
	}
	return entries, total, nil
}
