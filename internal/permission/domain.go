// Package permission implements the permission resolution and access-grant
// engine: role templates, per-user overrides, per-project grants and the
// policy table that maps project roles to capability bundles.
package permission

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// PermissionSet holds permission keys partitioned into the four domains the
// catalog defines. Keys are opaque to the engine.
type PermissionSet struct {
	Menu     []string `json:"menu"`
	Function []string `json:"function"`
	Project  []string `json:"project"`
	Data     []string `json:"data"`
}

// Normalize dedupes and sorts every domain so two sets with the same members
// compare equal.
func (s PermissionSet) Normalize() PermissionSet {
	return PermissionSet{
		Menu:     normalizeKeys(s.Menu),
		Function: normalizeKeys(s.Function),
		Project:  normalizeKeys(s.Project),
		Data:     normalizeKeys(s.Data),
	}
}

// Has reports whether key is present in any of the four domains.
func (s PermissionSet) Has(key string) bool {
	for _, domain := range [][]string{s.Menu, s.Function, s.Project, s.Data} {
		for _, k := range domain {
			if k == key {
				return true
			}
		}
	}
	return false
}

// Total counts keys across all domains.
func (s PermissionSet) Total() int {
	return len(s.Menu) + len(s.Function) + len(s.Project) + len(s.Data)
}

// Stats summarises a resolved permission set.
type Stats struct {
	Total    int `json:"total"`
	Menu     int `json:"menu"`
	Function int `json:"function"`
	Project  int `json:"project"`
	Data     int `json:"data"`
}

// Stats returns per-domain counts.
func (s PermissionSet) Stats() Stats {
	return Stats{
		Total:    s.Total(),
		Menu:     len(s.Menu),
		Function: len(s.Function),
		Project:  len(s.Project),
		Data:     len(s.Data),
	}
}

// RoleTemplate is the baseline permission set for a system role.
type RoleTemplate struct {
	Role        string        `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	Description string        `json:"description,omitempty"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Override replaces the baseline for one user, globally when ProjectID is
// nil or scoped to a single project otherwise. When InheritRole is true the
// stored arrays are kept but ignored during resolution.
type Override struct {
	UserID      uuid.UUID     `json:"user_id"`
	ProjectID   *uuid.UUID    `json:"project_id,omitempty"`
	Permissions PermissionSet `json:"permissions"`
	InheritRole bool          `json:"inherit_role"`
	CreatedBy   *uuid.UUID    `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProjectGrant is the explicit access decision for one (user, project)
// pair. Absence of a grant means the user may view the project.
type ProjectGrant struct {
	UserID    uuid.UUID  `json:"user_id"`
	ProjectID uuid.UUID  `json:"project_id"`
	Role      string     `json:"role"`
	CanView   bool       `json:"can_view"`
	CanEdit   bool       `json:"can_edit"`
	CanDelete bool       `json:"can_delete"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func normalizeKeys(keys []string) []string {
	if len(keys) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// unionKeys merges extra into base with set semantics.
func unionKeys(base, extra []string) []string {
	if len(extra) == 0 {
		return normalizeKeys(base)
	}
	merged := make([]string, 0, len(base)+len(extra))
	merged = append(merged, base...)
	merged = append(merged, extra...)
	return normalizeKeys(merged)
}
