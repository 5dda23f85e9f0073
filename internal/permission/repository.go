package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tms/meridian-tms/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role templates,
// user overrides and project grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// nilProjectSentinel stands in for NULL project_id in the override
// uniqueness key, matching the expression index on the table.
const nilProjectSentinel = "00000000-0000-0000-0000-000000000000"

// GetTemplate fetches the role template for a role.
func (r *Repository) GetTemplate(ctx context.Context, role string) (*RoleTemplate, error) {
	var tpl RoleTemplate
	err := r.pool.QueryRow(ctx, `
		SELECT role, menu_permissions, function_permissions, project_permissions, data_permissions, description, is_active, created_at, updated_at
		FROM role_permission_templates
		WHERE role = $1`, role).
		Scan(&tpl.Role, &tpl.Permissions.Menu, &tpl.Permissions.Function, &tpl.Permissions.Project, &tpl.Permissions.Data, &tpl.Description, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("permission: role template %q: %w", role, shared.ErrNotFound)
		}
		return nil, err
	}
	return &tpl, nil
}

// ListTemplates returns all role templates ordered by role.
func (r *Repository) ListTemplates(ctx context.Context) ([]RoleTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role, menu_permissions, function_permissions, project_permissions, data_permissions, description, is_active, created_at, updated_at
		FROM role_permission_templates
		ORDER BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RoleTemplate
	for rows.Next() {
		var tpl RoleTemplate
		if err := rows.Scan(&tpl.Role, &tpl.Permissions.Menu, &tpl.Permissions.Function, &tpl.Permissions.Project, &tpl.Permissions.Data, &tpl.Description, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTemplate upserts a role template keyed by role.
func (r *Repository) SaveTemplate(ctx context.Context, tpl RoleTemplate) (RoleTemplate, error) {
	tpl.Permissions = tpl.Permissions.Normalize()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO role_permission_templates (role, menu_permissions, function_permissions, project_permissions, data_permissions, description, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		ON CONFLICT (role) DO UPDATE SET
			menu_permissions = EXCLUDED.menu_permissions,
			function_permissions = EXCLUDED.function_permissions,
			project_permissions = EXCLUDED.project_permissions,
			data_permissions = EXCLUDED.data_permissions,
			description = EXCLUDED.description,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING role, is_active, created_at, updated_at`,
		tpl.Role, tpl.Permissions.Menu, tpl.Permissions.Function, tpl.Permissions.Project, tpl.Permissions.Data, tpl.Description).
		Scan(&tpl.Role, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return RoleTemplate{}, fmt.Errorf("permission: save template: %w", err)
	}
	return tpl, nil
}

// GetOverride fetches the override for (userID, projectID); projectID nil
// selects the global record.
func (r *Repository) GetOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (*Override, error) {
	var ov Override
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, project_id, menu_permissions, function_permissions, project_permissions, data_permissions, inherit_role, created_by, created_at, updated_at
		FROM user_permissions
		WHERE user_id = $1 AND project_id IS NOT DISTINCT FROM $2`, userID, projectID).
		Scan(&ov.UserID, &ov.ProjectID, &ov.Permissions.Menu, &ov.Permissions.Function, &ov.Permissions.Project, &ov.Permissions.Data, &ov.InheritRole, &ov.CreatedBy, &ov.CreatedAt, &ov.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ov, nil
}

// SaveOverride upserts an override keyed by (user_id, project_id), where a
// NULL project_id collapses onto the zero-UUID sentinel of the unique index.
func (r *Repository) SaveOverride(ctx context.Context, ov Override) (Override, error) {
	ov.Permissions = ov.Permissions.Normalize()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO user_permissions (user_id, project_id, menu_permissions, function_permissions, project_permissions, data_permissions, inherit_role, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (user_id, COALESCE(project_id, '`+nilProjectSentinel+`'::uuid)) DO UPDATE SET
			menu_permissions = EXCLUDED.menu_permissions,
			function_permissions = EXCLUDED.function_permissions,
			project_permissions = EXCLUDED.project_permissions,
			data_permissions = EXCLUDED.data_permissions,
			inherit_role = EXCLUDED.inherit_role,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		ov.UserID, ov.ProjectID, ov.Permissions.Menu, ov.Permissions.Function, ov.Permissions.Project, ov.Permissions.Data, ov.InheritRole, ov.CreatedBy).
		Scan(&ov.CreatedAt, &ov.UpdatedAt)
	if err != nil {
		return Override{}, mapWriteError("save override", err)
	}
	return ov, nil
}

// DeleteOverride removes the override for the given scope, reverting the
// user fully to the baseline for that scope.
func (r *Repository) DeleteOverride(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND project_id IS NOT DISTINCT FROM $2`, userID, projectID)
	return err
}

// GetGrant fetches the grant row for (userID, projectID). A nil result with
// nil error means no explicit decision exists.
func (r *Repository) GetGrant(ctx context.Context, userID, projectID uuid.UUID) (*ProjectGrant, error) {
	var g ProjectGrant
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, project_id, role, can_view, can_edit, can_delete, created_by, created_at, updated_at
		FROM user_projects
		WHERE user_id = $1 AND project_id = $2`, userID, projectID).
		Scan(&g.UserID, &g.ProjectID, &g.Role, &g.CanView, &g.CanEdit, &g.CanDelete, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// ListGrantsForUser returns every grant row for the user across all projects.
func (r *Repository) ListGrantsForUser(ctx context.Context, userID uuid.UUID) ([]ProjectGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, project_id, role, can_view, can_edit, can_delete, created_by, created_at, updated_at
		FROM user_projects
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProjectGrant
	for rows.Next() {
		var g ProjectGrant
		if err := rows.Scan(&g.UserID, &g.ProjectID, &g.Role, &g.CanView, &g.CanEdit, &g.CanDelete, &g.CreatedBy, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertGrant inserts or replaces the grant keyed by (user_id, project_id).
func (r *Repository) UpsertGrant(ctx context.Context, g ProjectGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_projects (user_id, project_id, role, can_view, can_edit, can_delete, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, project_id) DO UPDATE SET
			role = EXCLUDED.role,
			can_view = EXCLUDED.can_view,
			can_edit = EXCLUDED.can_edit,
			can_delete = EXCLUDED.can_delete,
			updated_at = NOW()`,
		g.UserID, g.ProjectID, g.Role, g.CanView, g.CanEdit, g.CanDelete, g.CreatedBy)
	if err != nil {
		return mapWriteError("upsert grant", err)
	}
	return nil
}

// DeleteGrant removes the grant row, reverting the pair to default-allow.
func (r *Repository) DeleteGrant(ctx context.Context, userID, projectID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_projects WHERE user_id = $1 AND project_id = $2`, userID, projectID)
	return err
}

// mapWriteError translates foreign key violations into ErrNotFound so a
// grant against a vanished user or project surfaces as a 404, not a 500.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("permission: %s: referenced row: %w", op, shared.ErrNotFound)
	}
	return fmt.Errorf("permission: %s: %w", op, err)
}
