package project

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-tms/meridian-tms/internal/permission"
	"github.com/meridian-tms/meridian-tms/internal/shared"
)

type memoryProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]Project
}

func newMemoryProjectRepo() *memoryProjectRepo {
	return &memoryProjectRepo{projects: make(map[uuid.UUID]Project)}
}

func (r *memoryProjectRepo) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryProjectRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return "", shared.ErrNotFound
	}
	old := p.Status
	p.Status = status
	p.UpdatedAt = time.Now()
	r.projects[id] = p
	return old, nil
}

func (r *memoryProjectRepo) ListProjects(ctx context.Context) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out, nil
}

// memoryGrantStore implements permission.GrantWriter and the read side the
// access checker needs.
type memoryGrantStore struct {
	mu        sync.Mutex
	grants    map[string]permission.ProjectGrant
	failUsers map[uuid.UUID]error
}

func newMemoryGrantStore() *memoryGrantStore {
	return &memoryGrantStore{
		grants:    make(map[string]permission.ProjectGrant),
		failUsers: make(map[uuid.UUID]error),
	}
}

func pairKey(userID, projectID uuid.UUID) string {
	return userID.String() + ":" + projectID.String()
}

func (s *memoryGrantStore) UpsertGrant(ctx context.Context, g permission.ProjectGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failUsers[g.UserID]; ok {
		return err
	}
	s.grants[pairKey(g.UserID, g.ProjectID)] = g
	return nil
}

func (s *memoryGrantStore) DeleteGrant(ctx context.Context, userID, projectID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, pairKey(userID, projectID))
	return nil
}

type staticUserList struct {
	ids []uuid.UUID
}

func (l *staticUserList) ListActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return l.ids, nil
}

type staticDenies struct {
	denied map[uuid.UUID]struct{}
}

func (d *staticDenies) DeniedProjects(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	return d.denied, nil
}

type enqueueRecorder struct {
	projects []uuid.UUID
}

func (e *enqueueRecorder) EnqueueGrantFanout(ctx context.Context, projectID uuid.UUID) error {
	e.projects = append(e.projects, projectID)
	return nil
}

type fixture struct {
	repo     *memoryProjectRepo
	grants   *memoryGrantStore
	users    *staticUserList
	enqueuer *enqueueRecorder
	service  *Service
}

func newFixture(activeUsers int) *fixture {
	repo := newMemoryProjectRepo()
	grants := newMemoryGrantStore()
	users := &staticUserList{}
	for i := 0; i < activeUsers; i++ {
		users.ids = append(users.ids, uuid.New())
	}
	enqueuer := &enqueueRecorder{}
	mutator := permission.NewMutator(permission.MutatorConfig{
		Grants: grants,
		Policy: permission.NewPolicyTable(permission.DefaultCatalog()),
	})
	service := NewService(ServiceConfig{
		Repo:        repo,
		Grants:      mutator,
		ActiveUsers: users,
		Access:      &staticDenies{},
		Enqueuer:    enqueuer,
		DefaultRole: "operator",
	})
	return &fixture{repo: repo, grants: grants, users: users, enqueuer: enqueuer, service: service}
}

func (f *fixture) addProject(status Status) uuid.UUID {
	id := uuid.New()
	f.repo.projects[id] = Project{ID: id, Name: "haul-" + id.String()[:8], Status: status}
	return id
}

func TestTransitionToActiveFansOutGrants(t *testing.T) {
	f := newFixture(3)
	projectID := f.addProject(StatusPaused)

	change, err := f.service.TransitionStatus(context.Background(), projectID, StatusActive)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, change.OldStatus)
	require.Equal(t, StatusActive, change.NewStatus)

	require.Len(t, f.grants.grants, 3)
	for _, userID := range f.users.ids {
		g, ok := f.grants.grants[pairKey(userID, projectID)]
		require.True(t, ok)
		require.Equal(t, "operator", g.Role)
		require.True(t, g.CanView)
		require.True(t, g.CanEdit)
		require.False(t, g.CanDelete)
	}
	require.Empty(t, f.enqueuer.projects)
}

func TestFanOutIsIdempotent(t *testing.T) {
	f := newFixture(3)
	projectID := f.addProject(StatusPaused)

	_, err := f.service.TransitionStatus(context.Background(), projectID, StatusActive)
	require.NoError(t, err)
	require.NoError(t, f.service.FanOutGrants(context.Background(), projectID))
	require.Len(t, f.grants.grants, 3, "re-running the fan-out adds no rows")
}

func TestActiveToActiveDoesNotFanOut(t *testing.T) {
	f := newFixture(2)
	projectID := f.addProject(StatusActive)

	change, err := f.service.TransitionStatus(context.Background(), projectID, StatusActive)
	require.NoError(t, err)
	require.Equal(t, StatusActive, change.OldStatus)
	require.Empty(t, f.grants.grants)
}

func TestLeavingActiveKeepsGrants(t *testing.T) {
	f := newFixture(2)
	projectID := f.addProject(StatusPaused)

	_, err := f.service.TransitionStatus(context.Background(), projectID, StatusActive)
	require.NoError(t, err)
	require.Len(t, f.grants.grants, 2)

	change, err := f.service.TransitionStatus(context.Background(), projectID, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, change.NewStatus)
	require.Len(t, f.grants.grants, 2, "completion revokes nothing")
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	f := newFixture(1)
	projectID := f.addProject(StatusPaused)

	_, err := f.service.TransitionStatus(context.Background(), projectID, Status("archived"))
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	require.Equal(t, StatusPaused, f.repo.projects[projectID].Status)
}

func TestTransitionUnknownProject(t *testing.T) {
	f := newFixture(1)

	_, err := f.service.TransitionStatus(context.Background(), uuid.New(), StatusActive)
	require.True(t, shared.IsNotFound(err))
}

func TestPartialFanOutSchedulesRetryWithoutRollback(t *testing.T) {
	f := newFixture(4)
	projectID := f.addProject(StatusPaused)
	f.grants.failUsers[f.users.ids[1]] = errors.New("deadlock detected")

	change, err := f.service.TransitionStatus(context.Background(), projectID, StatusActive)
	require.NoError(t, err, "fan-out failure never fails the transition")
	require.Equal(t, StatusActive, change.NewStatus)
	require.Equal(t, StatusActive, f.repo.projects[projectID].Status)

	require.Len(t, f.grants.grants, 3)
	require.Equal(t, []uuid.UUID{projectID}, f.enqueuer.projects)
}

func TestBatchTransitionStatus(t *testing.T) {
	f := newFixture(1)
	first := f.addProject(StatusPaused)
	second := f.addProject(StatusCancelled)
	missing := uuid.New()

	results := f.service.BatchTransitionStatus(context.Background(), []uuid.UUID{first, missing, second}, StatusActive)
	require.Len(t, results, 3)

	require.Equal(t, first, results[0].ProjectID)
	require.NotNil(t, results[0].Change)
	require.Equal(t, StatusPaused, results[0].Change.OldStatus)

	require.Equal(t, missing, results[1].ProjectID)
	require.Nil(t, results[1].Change)
	require.NotEmpty(t, results[1].Error)

	require.NotNil(t, results[2].Change)
	require.Equal(t, StatusActive, f.repo.projects[second].Status)
}

func TestListAccessibleProjects(t *testing.T) {
	f := newFixture(0)
	visible := f.addProject(StatusActive)
	hidden := f.addProject(StatusActive)

	service := NewService(ServiceConfig{
		Repo:        f.repo,
		Grants:      f.service.grants,
		ActiveUsers: f.users,
		Access:      &staticDenies{denied: map[uuid.UUID]struct{}{hidden: {}}},
		DefaultRole: "operator",
	})

	projects, err := service.ListAccessibleProjects(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, visible, projects[0].ID)
}
