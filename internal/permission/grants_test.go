package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fanoutRecorder struct {
	succeeded int
	failed    int
}

func (r *fanoutRecorder) ObserveFanout(succeeded, failed int) {
	r.succeeded += succeeded
	r.failed += failed
}

func newTestMutator(store *memoryPermStore, observer BatchObserver) *Mutator {
	return NewMutator(MutatorConfig{
		Grants:    store,
		Policy:    NewPolicyTable(DefaultCatalog()),
		Observer:  observer,
		ChunkSize: 3,
	})
}

func TestAssignIdempotent(t *testing.T) {
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	userID := uuid.New()
	projectID := uuid.New()

	require.NoError(t, mutator.Assign(context.Background(), userID, projectID, "finance"))
	require.NoError(t, mutator.Assign(context.Background(), userID, projectID, "finance"))

	require.Len(t, store.grants, 1)
	g := store.grants[grantKey(userID, projectID)]
	require.Equal(t, "finance", g.Role)
	require.True(t, g.CanView)
	require.True(t, g.CanEdit)
	require.False(t, g.CanDelete)
}

func TestAssignUnknownRoleUsesFallback(t *testing.T) {
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	userID := uuid.New()
	projectID := uuid.New()

	require.NoError(t, mutator.Assign(context.Background(), userID, projectID, "skunkworks"))

	g := store.grants[grantKey(userID, projectID)]
	require.Equal(t, "skunkworks", g.Role)
	require.True(t, g.CanView)
	require.True(t, g.CanEdit)
	require.False(t, g.CanDelete)
}

func TestRestrictThenAssignRestoresAccess(t *testing.T) {
	dir := newMemoryDirectory()
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	resolver := newTestResolver(dir, store, false)
	userID := seedUser(dir, "operator")
	projectID := uuid.New()

	require.NoError(t, mutator.Restrict(context.Background(), userID, projectID))
	allowed, err := resolver.HasProjectAccess(context.Background(), userID, projectID)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, mutator.Assign(context.Background(), userID, projectID, "viewer"))
	allowed, err = resolver.HasProjectAccess(context.Background(), userID, projectID)
	require.NoError(t, err)
	require.True(t, allowed)
	require.Len(t, store.grants, 1)
}

func TestRemoveRevertsToDefaultAllow(t *testing.T) {
	dir := newMemoryDirectory()
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	resolver := newTestResolver(dir, store, false)
	userID := seedUser(dir, "operator")
	projectID := uuid.New()

	require.NoError(t, mutator.Restrict(context.Background(), userID, projectID))
	require.NoError(t, mutator.Remove(context.Background(), userID, projectID))
	require.Empty(t, store.grants)

	allowed, err := resolver.HasProjectAccess(context.Background(), userID, projectID)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestAssignProjectsBatch(t *testing.T) {
	store := newMemoryPermStore()
	observer := &fanoutRecorder{}
	mutator := newTestMutator(store, observer)
	userID := uuid.New()
	projectIDs := make([]uuid.UUID, 10)
	for i := range projectIDs {
		projectIDs[i] = uuid.New()
	}

	result := mutator.AssignProjects(context.Background(), userID, projectIDs, "operator")
	require.False(t, result.Partial())
	require.Equal(t, 10, result.Succeeded)
	require.Len(t, store.grants, 10)
	require.Equal(t, 10, observer.succeeded)
	require.Equal(t, 0, observer.failed)
}

func TestAssignUsersPartialFailure(t *testing.T) {
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	projectID := uuid.New()
	userIDs := make([]uuid.UUID, 5)
	for i := range userIDs {
		userIDs[i] = uuid.New()
	}
	store.failUsers[userIDs[2]] = errors.New("deadlock detected")

	result := mutator.AssignUsers(context.Background(), projectID, userIDs, "operator")
	require.True(t, result.Partial())
	require.Equal(t, 4, result.Succeeded)
	require.Len(t, result.Failures, 1)
	require.Equal(t, userIDs[2], result.Failures[0].UserID)
	require.Len(t, store.grants, 4)

	// A retry converges: clear the fault, rerun, still one row per pair.
	delete(store.failUsers, userIDs[2])
	result = mutator.AssignUsers(context.Background(), projectID, userIDs, "operator")
	require.False(t, result.Partial())
	require.Len(t, store.grants, 5)
}

func TestRemoveProjectsBatch(t *testing.T) {
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	userID := uuid.New()
	projectIDs := []uuid.UUID{uuid.New(), uuid.New()}

	mutator.AssignProjects(context.Background(), userID, projectIDs, "operator")
	result := mutator.RemoveProjects(context.Background(), userID, projectIDs)
	require.False(t, result.Partial())
	require.Empty(t, store.grants)
}

func TestBatchStopsOnCancellation(t *testing.T) {
	store := newMemoryPermStore()
	mutator := newTestMutator(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	userIDs := make([]uuid.UUID, 7)
	for i := range userIDs {
		userIDs[i] = uuid.New()
	}
	result := mutator.AssignUsers(ctx, uuid.New(), userIDs, "operator")
	require.True(t, result.Partial())
	require.Len(t, result.Failures, 7)
	require.Empty(t, store.grants)
}
