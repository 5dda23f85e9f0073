package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-tms/meridian-tms/internal/platform/db"
	"github.com/meridian-tms/meridian-tms/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProject returns the project with the given ID.
func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (Project, error) {
	var p Project
	err := r.pool.QueryRow(ctx, `SELECT id, name, status, created_at, updated_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, fmt.Errorf("project %s: %w", id, shared.ErrNotFound)
		}
		return Project{}, err
	}
	return p, nil
}

// UpdateStatus swaps the status and returns the previous value. The row is
// locked for the swap so concurrent transitions serialize and the fan-out
// decision is made against the status that was actually replaced.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) (Status, error) {
	var old Status
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT status FROM projects WHERE id = $1 FOR UPDATE`, id).Scan(&old)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("project %s: %w", id, shared.ErrNotFound)
			}
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE projects SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
		return err
	})
	if err != nil {
		return "", err
	}
	return old, nil
}

// ListProjects returns all projects ordered by name.
func (r *Repository) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, status, created_at, updated_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
