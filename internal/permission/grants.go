package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-tms/meridian-tms/internal/shared"
)

// GrantWriter persists project grant rows.
type GrantWriter interface {
	UpsertGrant(ctx context.Context, g ProjectGrant) error
	DeleteGrant(ctx context.Context, userID, projectID uuid.UUID) error
}

// AuditRecorder persists audit entries for grant mutations.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// BatchObserver receives batch mutation outcomes for metrics.
type BatchObserver interface {
	ObserveFanout(succeeded, failed int)
}

// BatchFailure describes one failed item of a batch mutation.
type BatchFailure struct {
	UserID    uuid.UUID `json:"user_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Reason    string    `json:"reason"`
}

// BatchResult reports a batch mutation outcome. Batches are collections of
// independent idempotent writes, so one bad item never fails its siblings;
// callers retry the failures and the upsert semantics absorb the repeats.
type BatchResult struct {
	Succeeded int            `json:"succeeded"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// Partial reports whether some items failed.
func (r BatchResult) Partial() bool {
	return len(r.Failures) > 0
}

const (
	defaultChunkSize        = 200
	defaultChunkConcurrency = 8
)

// Mutator performs single and batch grant mutations. Every operation is
// idempotent: repeating a call with identical arguments converges on the
// same single row per (user, project) pair.
type Mutator struct {
	grants      GrantWriter
	policy      *PolicyTable
	cache       *Cache
	audit       AuditRecorder
	observer    BatchObserver
	logger      *slog.Logger
	chunkSize   int
	concurrency int
}

// MutatorConfig collects Mutator dependencies. Audit, Cache and Observer
// are optional.
type MutatorConfig struct {
	Grants      GrantWriter
	Policy      *PolicyTable
	Cache       *Cache
	Audit       AuditRecorder
	Observer    BatchObserver
	Logger      *slog.Logger
	ChunkSize   int
	Concurrency int
}

// NewMutator constructs a Mutator.
func NewMutator(cfg MutatorConfig) *Mutator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultChunkConcurrency
	}
	return &Mutator{
		grants:      cfg.Grants,
		policy:      cfg.Policy,
		cache:       cfg.Cache,
		audit:       cfg.Audit,
		observer:    cfg.Observer,
		logger:      logger,
		chunkSize:   chunkSize,
		concurrency: concurrency,
	}
}

// Assign upserts a grant with the capability flags of the role's policy
// bundle. Unknown roles resolve through the fallback bundle.
func (m *Mutator) Assign(ctx context.Context, userID, projectID uuid.UUID, role string) error {
	if !m.policy.Known(role) {
		m.logger.Info("role not in policy catalog, using fallback bundle", slog.String("role", role))
	}
	bundle := m.policy.BundleFor(role)
	grant := ProjectGrant{
		UserID:    userID,
		ProjectID: projectID,
		Role:      role,
		CanView:   bundle.CanView,
		CanEdit:   bundle.CanEdit,
		CanDelete: bundle.CanDelete,
	}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		grant.CreatedBy = &actor
	}
	if err := m.grants.UpsertGrant(ctx, grant); err != nil {
		return err
	}
	m.afterWrite(ctx, "grant.assign", userID, projectID, map[string]any{"role": role})
	return nil
}

// Restrict upserts an explicit deny: all three capability flags false.
func (m *Mutator) Restrict(ctx context.Context, userID, projectID uuid.UUID) error {
	grant := ProjectGrant{
		UserID:    userID,
		ProjectID: projectID,
		Role:      m.policy.DefaultProjectRole(),
	}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		grant.CreatedBy = &actor
	}
	if err := m.grants.UpsertGrant(ctx, grant); err != nil {
		return err
	}
	m.afterWrite(ctx, "grant.restrict", userID, projectID, nil)
	return nil
}

// Remove deletes the grant row, reverting the pair to default-allow.
func (m *Mutator) Remove(ctx context.Context, userID, projectID uuid.UUID) error {
	if err := m.grants.DeleteGrant(ctx, userID, projectID); err != nil {
		return err
	}
	m.afterWrite(ctx, "grant.remove", userID, projectID, nil)
	return nil
}

// AssignProjects assigns one user to many projects.
func (m *Mutator) AssignProjects(ctx context.Context, userID uuid.UUID, projectIDs []uuid.UUID, role string) BatchResult {
	return m.runBatch(ctx, len(projectIDs), func(ctx context.Context, i int) BatchFailure {
		if err := m.Assign(ctx, userID, projectIDs[i], role); err != nil {
			return BatchFailure{UserID: userID, ProjectID: projectIDs[i], Reason: err.Error()}
		}
		return BatchFailure{}
	})
}

// RemoveProjects removes one user's grants on many projects.
func (m *Mutator) RemoveProjects(ctx context.Context, userID uuid.UUID, projectIDs []uuid.UUID) BatchResult {
	return m.runBatch(ctx, len(projectIDs), func(ctx context.Context, i int) BatchFailure {
		if err := m.Remove(ctx, userID, projectIDs[i]); err != nil {
			return BatchFailure{UserID: userID, ProjectID: projectIDs[i], Reason: err.Error()}
		}
		return BatchFailure{}
	})
}

// AssignUsers assigns many users to one project, as the activation fan-out
// does.
func (m *Mutator) AssignUsers(ctx context.Context, projectID uuid.UUID, userIDs []uuid.UUID, role string) BatchResult {
	return m.runBatch(ctx, len(userIDs), func(ctx context.Context, i int) BatchFailure {
		if err := m.Assign(ctx, userIDs[i], projectID, role); err != nil {
			return BatchFailure{UserID: userIDs[i], ProjectID: projectID, Reason: err.Error()}
		}
		return BatchFailure{}
	})
}

// runBatch applies fn to every index in chunks. Items within a chunk run
// concurrently; failed items are collected, never retried here, and never
// abort their siblings. Cancellation stops issuing further chunks but does
// not undo completed writes.
func (m *Mutator) runBatch(ctx context.Context, n int, fn func(ctx context.Context, i int) BatchFailure) BatchResult {
	var (
		mu       sync.Mutex
		failures []BatchFailure
	)

	for start := 0; start < n; start += m.chunkSize {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			for i := start; i < n; i++ {
				failures = append(failures, BatchFailure{Reason: err.Error()})
			}
			mu.Unlock()
			break
		}
		end := start + m.chunkSize
		if end > n {
			end = n
		}
		g := new(errgroup.Group)
		g.SetLimit(m.concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if failure := fn(ctx, i); failure.Reason != "" {
					mu.Lock()
					failures = append(failures, failure)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	result := BatchResult{Succeeded: n - len(failures), Failures: failures}
	if m.observer != nil {
		m.observer.ObserveFanout(result.Succeeded, len(result.Failures))
	}
	if result.Partial() {
		m.logger.Warn("batch grant mutation partially failed",
			slog.Int("total", n), slog.Int("failed", len(failures)))
	}
	return result
}

func (m *Mutator) afterWrite(ctx context.Context, action string, userID, projectID uuid.UUID, meta map[string]any) {
	if err := m.cache.Invalidate(ctx); err != nil {
		m.logger.Warn("permission cache invalidate", slog.Any("error", err))
	}
	if m.audit == nil {
		return
	}
	log := shared.AuditLog{
		Action:   action,
		Entity:   "user_projects",
		EntityID: fmt.Sprintf("%s:%s", userID, projectID),
		Meta:     meta,
	}
	if actor, ok := shared.ActorFromContext(ctx); ok {
		log.ActorID = &actor
	}
	if err := m.audit.Record(ctx, log); err != nil {
		m.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
