// Package project holds the project directory and the status transition
// handler that fans grants out to the active user population.
package project

import (
	"time"

	"github.com/google/uuid"
)

// Status is the project lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Project represents a logistics project.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusChange reports the outcome of a status transition.
type StatusChange struct {
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	OldStatus   Status    `json:"old_status"`
	NewStatus   Status    `json:"new_status"`
}
