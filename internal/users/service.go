package users

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)
	ListUsers(ctx context.Context) ([]User, error)
}

// Service handles user directory lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListActiveUserIDs returns IDs of all active users.
func (s *Service) ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.ListActiveUserIDs(ctx)
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}
