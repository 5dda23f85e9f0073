package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account in the user directory.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
