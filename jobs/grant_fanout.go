package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// GrantFanner re-applies the activation grant fan-out; the underlying
// upserts are idempotent so repeated runs are safe.
type GrantFanner interface {
	FanOutGrants(ctx context.Context, projectID uuid.UUID) error
}

// GrantFanoutJob processes TaskGrantFanout tasks.
type GrantFanoutJob struct {
	projects GrantFanner
	logger   *slog.Logger
}

// NewGrantFanoutJob constructs the job.
func NewGrantFanoutJob(projects GrantFanner, logger *slog.Logger) *GrantFanoutJob {
	return &GrantFanoutJob{projects: projects, logger: logger}
}

// Handle re-runs the fan-out; errors are returned so Asynq retries.
func (j *GrantFanoutJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload GrantFanoutPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := j.projects.FanOutGrants(ctx, payload.ProjectID); err != nil {
		j.logger.Warn("grant fan-out retry failed",
			slog.String("project", payload.ProjectID.String()), slog.Any("error", err))
		return err
	}
	j.logger.Info("grant fan-out retried", slog.String("project", payload.ProjectID.String()))
	return nil
}
