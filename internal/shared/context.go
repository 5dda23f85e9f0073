package shared

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ContextWithActor stores the acting user's ID for audit purposes.
func ContextWithActor(ctx context.Context, actorID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey, actorID)
}

// ActorFromContext returns the acting user's ID when present.
func ActorFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorContextKey).(uuid.UUID)
	return id, ok
}
