package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-tms/meridian-tms/internal/permission"
	"github.com/meridian-tms/meridian-tms/internal/shared"
)

// RepositoryPort defines data access methods for projects.
type RepositoryPort interface {
	GetProject(ctx context.Context, id uuid.UUID) (Project, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Status, error)
	ListProjects(ctx context.Context) ([]Project, error)
}

// GrantAssigner applies the bulk grant fan-out.
type GrantAssigner interface {
	AssignUsers(ctx context.Context, projectID uuid.UUID, userIDs []uuid.UUID, role string) permission.BatchResult
}

// ActiveUserLister supplies the fan-out target population.
type ActiveUserLister interface {
	ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AccessChecker filters project listings by explicit denies.
type AccessChecker interface {
	DeniedProjects(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error)
}

// FanoutEnqueuer schedules a background retry of the grant fan-out.
type FanoutEnqueuer interface {
	EnqueueGrantFanout(ctx context.Context, projectID uuid.UUID) error
}

// Service handles project status transitions and listings.
type Service struct {
	repo        RepositoryPort
	grants      GrantAssigner
	activeUsers ActiveUserLister
	access      AccessChecker
	enqueuer    FanoutEnqueuer
	defaultRole string
	logger      *slog.Logger
}

// ServiceConfig collects Service dependencies. Enqueuer is optional; without
// it, partial fan-out failures rely on manual retry.
type ServiceConfig struct {
	Repo        RepositoryPort
	Grants      GrantAssigner
	ActiveUsers ActiveUserLister
	Access      AccessChecker
	Enqueuer    FanoutEnqueuer
	DefaultRole string
	Logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        cfg.Repo,
		grants:      cfg.Grants,
		activeUsers: cfg.ActiveUsers,
		access:      cfg.Access,
		enqueuer:    cfg.Enqueuer,
		defaultRole: cfg.DefaultRole,
		logger:      logger,
	}
}

// TransitionStatus updates the project status. Entering active from any
// other state triggers the grant fan-out for every active user; leaving
// active never revokes anything, existing collaborators keep their access.
//
// The status write and the fan-out are separate steps. A failed or partial
// fan-out does not roll the status back; the fan-out is idempotent and is
// retried in the background instead.
func (s *Service) TransitionStatus(ctx context.Context, projectID uuid.UUID, newStatus Status) (StatusChange, error) {
	if !newStatus.Valid() {
		return StatusChange{}, fmt.Errorf("status %q: %w", newStatus, shared.ErrInvalidStatus)
	}

	current, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return StatusChange{}, err
	}

	oldStatus, err := s.repo.UpdateStatus(ctx, projectID, newStatus)
	if err != nil {
		return StatusChange{}, err
	}

	change := StatusChange{
		ProjectID:   projectID,
		ProjectName: current.Name,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
	}

	if newStatus == StatusActive && oldStatus != StatusActive {
		if err := s.FanOutGrants(ctx, projectID); err != nil {
			s.logger.Error("activation fan-out incomplete",
				slog.String("project", projectID.String()), slog.Any("error", err))
			s.scheduleRetry(ctx, projectID)
		}
	}

	return change, nil
}

// FanOutGrants assigns the project to every active user with the default
// project role. Safe to re-run: each item is an idempotent upsert.
func (s *Service) FanOutGrants(ctx context.Context, projectID uuid.UUID) error {
	userIDs, err := s.activeUsers.ListActiveUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}
	result := s.grants.AssignUsers(ctx, projectID, userIDs, s.defaultRole)
	if result.Partial() {
		return fmt.Errorf("fan-out: %d of %d grants failed", len(result.Failures), len(userIDs))
	}
	s.logger.Info("project grants fanned out",
		slog.String("project", projectID.String()), slog.Int("users", result.Succeeded))
	return nil
}

func (s *Service) scheduleRetry(ctx context.Context, projectID uuid.UUID) {
	if s.enqueuer == nil {
		return
	}
	if err := s.enqueuer.EnqueueGrantFanout(ctx, projectID); err != nil {
		s.logger.Error("enqueue fan-out retry", slog.String("project", projectID.String()), slog.Any("error", err))
	}
}

// TransitionResult is one item of a batch status update.
type TransitionResult struct {
	ProjectID uuid.UUID     `json:"project_id"`
	Change    *StatusChange `json:"change,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// BatchTransitionStatus applies the same transition to many projects, one
// at a time; each item succeeds or fails on its own.
func (s *Service) BatchTransitionStatus(ctx context.Context, projectIDs []uuid.UUID, newStatus Status) []TransitionResult {
	results := make([]TransitionResult, 0, len(projectIDs))
	for _, id := range projectIDs {
		if err := ctx.Err(); err != nil {
			results = append(results, TransitionResult{ProjectID: id, Error: err.Error()})
			continue
		}
		change, err := s.TransitionStatus(ctx, id, newStatus)
		if err != nil {
			results = append(results, TransitionResult{ProjectID: id, Error: err.Error()})
			continue
		}
		results = append(results, TransitionResult{ProjectID: id, Change: &change})
	}
	return results
}

// GetProject returns a project by ID.
func (s *Service) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	return s.repo.GetProject(ctx, id)
}

// ListAccessibleProjects returns every project the user may view, i.e. all
// projects minus explicit denies.
func (s *Service) ListAccessibleProjects(ctx context.Context, userID uuid.UUID) ([]Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	denied, err := s.access.DeniedProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(denied) == 0 {
		return projects, nil
	}
	out := projects[:0]
	for _, p := range projects {
		if _, ok := denied[p.ID]; ok {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
