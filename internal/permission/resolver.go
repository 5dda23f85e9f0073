package permission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-tms/meridian-tms/internal/shared"
	"github.com/meridian-tms/meridian-tms/internal/users"
)

// UserDirectory supplies account records carrying the system role.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (users.User, error)
}

// TemplateReader supplies role templates.
type TemplateReader interface {
	GetTemplate(ctx context.Context, role string) (*RoleTemplate, error)
}

// OverrideReader supplies user overrides; a nil override with nil error
// means no record exists for the scope.
type OverrideReader interface {
	GetOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (*Override, error)
}

// GrantReader supplies project grant rows.
type GrantReader interface {
	GetGrant(ctx context.Context, userID, projectID uuid.UUID) (*ProjectGrant, error)
	ListGrantsForUser(ctx context.Context, userID uuid.UUID) ([]ProjectGrant, error)
}

// batchResolveConcurrency bounds parallel lookups in ResolveBatch.
const batchResolveConcurrency = 8

// Resolver composes the directory, template, override and grant stores into
// effective permission sets and access decisions. It is read-only and safe
// for concurrent use.
type Resolver struct {
	users      UserDirectory
	templates  TemplateReader
	overrides  OverrideReader
	grants     GrantReader
	policy     *PolicyTable
	cache      *Cache
	group      singleflight.Group
	logger     *slog.Logger
	failClosed bool
}

// ResolverConfig collects Resolver dependencies.
type ResolverConfig struct {
	Users     UserDirectory
	Templates TemplateReader
	Overrides OverrideReader
	Grants    GrantReader
	Policy    *PolicyTable
	Cache     *Cache
	Logger    *slog.Logger
	// FailClosed makes HasProjectAccess deny on storage errors instead of
	// the reference fail-open behavior.
	FailClosed bool
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		users:      cfg.Users,
		templates:  cfg.Templates,
		overrides:  cfg.Overrides,
		grants:     cfg.Grants,
		policy:     cfg.Policy,
		cache:      cfg.Cache,
		logger:     logger,
		failClosed: cfg.FailClosed,
	}
}

// Resolve computes the effective permission set for a user, optionally in
// the context of one project.
//
// The baseline for each domain is picked independently: a project-scoped
// override wins over a global override, which wins over the role template;
// an override with inherit_role set always falls through to the next tier.
// On top of the baseline, the policy bundle of every view-capable grant the
// user holds is unioned into the project domain only.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (PermissionSet, error) {
	if cached, err := r.cache.Get(ctx, userID, projectID); err != nil {
		r.logger.Warn("permission cache read", slog.Any("error", err))
	} else if cached != nil {
		return *cached, nil
	}

	key := userID.String()
	if projectID != nil {
		key += ":" + projectID.String()
	}
	result, err, _ := r.group.Do(key, func() (any, error) {
		set, err := r.resolveUncached(ctx, userID, projectID)
		if err != nil {
			return PermissionSet{}, err
		}
		if err := r.cache.Set(ctx, userID, projectID, set); err != nil {
			r.logger.Warn("permission cache write", slog.Any("error", err))
		}
		return set, nil
	})
	if err != nil {
		return PermissionSet{}, err
	}
	return result.(PermissionSet), nil
}

func (r *Resolver) resolveUncached(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (PermissionSet, error) {
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("resolve user %s: %w", userID, err)
	}

	template := PermissionSet{}
	tpl, err := r.templates.GetTemplate(ctx, user.Role)
	switch {
	case err == nil && tpl != nil:
		template = tpl.Permissions
	case shared.IsNotFound(err):
		// No template for the role: fail safe with empty domains.
		r.logger.Warn("role template missing", slog.String("role", user.Role))
	case err != nil:
		return PermissionSet{}, fmt.Errorf("resolve template: %w", err)
	}

	global, err := r.overrides.GetOverride(ctx, userID, nil)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("resolve global override: %w", err)
	}
	var scoped *Override
	if projectID != nil {
		scoped, err = r.overrides.GetOverride(ctx, userID, projectID)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("resolve scoped override: %w", err)
		}
	}

	baseline := PermissionSet{
		Menu:     baselineDomain(scoped, global, template, func(s PermissionSet) []string { return s.Menu }),
		Function: baselineDomain(scoped, global, template, func(s PermissionSet) []string { return s.Function }),
		Project:  baselineDomain(scoped, global, template, func(s PermissionSet) []string { return s.Project }),
		Data:     baselineDomain(scoped, global, template, func(s PermissionSet) []string { return s.Data }),
	}

	grants, err := r.grants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("resolve grants: %w", err)
	}
	var extra []string
	for _, g := range grants {
		if !g.CanView {
			continue
		}
		extra = append(extra, r.policy.BundleFor(g.Role).AdditionalPermissions...)
	}
	baseline.Project = unionKeys(baseline.Project, extra)

	return baseline.Normalize(), nil
}

// baselineDomain applies the per-domain precedence: scoped override, then
// global override, then template; inherit_role skips an override tier.
func baselineDomain(scoped, global *Override, template PermissionSet, pick func(PermissionSet) []string) []string {
	if scoped != nil && !scoped.InheritRole {
		return pick(scoped.Permissions)
	}
	if global != nil && !global.InheritRole {
		return pick(global.Permissions)
	}
	return pick(template)
}

// ResolveBatch resolves many users concurrently with bounded parallelism.
func (r *Resolver) ResolveBatch(ctx context.Context, userIDs []uuid.UUID, projectID *uuid.UUID) (map[uuid.UUID]PermissionSet, error) {
	out := make(map[uuid.UUID]PermissionSet, len(userIDs))
	results := make([]PermissionSet, len(userIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchResolveConcurrency)
	for i, id := range userIDs {
		g.Go(func() error {
			set, err := r.Resolve(ctx, id, projectID)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", id, err)
			}
			results[i] = set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, id := range userIDs {
		out[id] = results[i]
	}
	return out, nil
}

// HasPermission reports whether the key appears in any domain of the user's
// effective permission set.
func (r *Resolver) HasPermission(ctx context.Context, userID uuid.UUID, key string) (bool, error) {
	set, err := r.Resolve(ctx, userID, nil)
	if err != nil {
		return false, err
	}
	return set.Has(key), nil
}

// HasProjectAccess reports whether the user may view the project. Absence
// of a grant row means yes: every project is visible unless explicitly
// restricted. Storage failures follow the configured gate policy.
func (r *Resolver) HasProjectAccess(ctx context.Context, userID, projectID uuid.UUID) (bool, error) {
	grant, err := r.grants.GetGrant(ctx, userID, projectID)
	if err != nil {
		if r.failClosed {
			r.logger.Error("access gate lookup failed, denying", slog.Any("error", err))
			return false, fmt.Errorf("access gate: %w", err)
		}
		r.logger.Warn("access gate lookup failed, allowing", slog.Any("error", err))
		return true, nil
	}
	if grant == nil {
		return true, nil
	}
	return grant.CanView, nil
}

// DeniedProjects returns the set of projects the user is explicitly barred
// from viewing.
func (r *Resolver) DeniedProjects(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	grants, err := r.grants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	denied := make(map[uuid.UUID]struct{})
	for _, g := range grants {
		if !g.CanView {
			denied[g.ProjectID] = struct{}{}
		}
	}
	return denied, nil
}
