package permission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-tms/meridian-tms/internal/shared"
)

// TemplateStore persists role templates.
type TemplateStore interface {
	TemplateReader
	ListTemplates(ctx context.Context) ([]RoleTemplate, error)
	SaveTemplate(ctx context.Context, tpl RoleTemplate) (RoleTemplate, error)
}

// OverrideStore persists user overrides.
type OverrideStore interface {
	OverrideReader
	SaveOverride(ctx context.Context, ov Override) (Override, error)
	DeleteOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) error
}

// Service exposes the administrative write side for role templates and
// user overrides. Every write invalidates the resolution cache.
type Service struct {
	templates TemplateStore
	overrides OverrideStore
	cache     *Cache
	audit     AuditRecorder
	logger    *slog.Logger
}

// NewService constructs a Service. Audit and Cache are optional.
func NewService(templates TemplateStore, overrides OverrideStore, cache *Cache, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{templates: templates, overrides: overrides, cache: cache, audit: audit, logger: logger}
}

// ListTemplates returns all role templates.
func (s *Service) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	return s.templates.ListTemplates(ctx)
}

// SaveTemplate upserts a role template.
func (s *Service) SaveTemplate(ctx context.Context, tpl RoleTemplate) (RoleTemplate, error) {
	if tpl.Role == "" {
		return RoleTemplate{}, fmt.Errorf("permission: role required")
	}
	saved, err := s.templates.SaveTemplate(ctx, tpl)
	if err != nil {
		return RoleTemplate{}, err
	}
	s.afterWrite(ctx, "template.save", "role_permission_templates", saved.Role, nil)
	return saved, nil
}

// GetOverride returns the override for the scope, nil when none exists.
func (s *Service) GetOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (*Override, error) {
	return s.overrides.GetOverride(ctx, userID, projectID)
}

// SaveOverride upserts a user override for the given scope.
func (s *Service) SaveOverride(ctx context.Context, ov Override) (Override, error) {
	if actor, ok := shared.ActorFromContext(ctx); ok && ov.CreatedBy == nil {
		ov.CreatedBy = &actor
	}
	saved, err := s.overrides.SaveOverride(ctx, ov)
	if err != nil {
		return Override{}, err
	}
	s.afterWrite(ctx, "override.save", "user_permissions", overrideEntityID(saved.UserID, saved.ProjectID), map[string]any{"inherit_role": saved.InheritRole})
	return saved, nil
}

// DeleteOverride removes the override, reverting the scope to baseline.
func (s *Service) DeleteOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) error {
	if err := s.overrides.DeleteOverride(ctx, userID, projectID); err != nil {
		return err
	}
	s.afterWrite(ctx, "override.delete", "user_permissions", overrideEntityID(userID, projectID), nil)
	return nil
}

func overrideEntityID(userID uuid.UUID, projectID *uuid.UUID) string {
	if projectID == nil {
		return userID.String() + ":global"
	}
	return userID.String() + ":" + projectID.String()
}

func (s *Service) afterWrite(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("permission cache invalidate", slog.Any("error", err))
	}
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{Action: action, Entity: entity, EntityID: entityID, Meta: meta}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		log.ActorID = &actor
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
