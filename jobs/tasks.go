package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantFanout re-runs the activation grant fan-out for a project.
	TaskGrantFanout = "grants:fanout"
)

// GrantFanoutPayload identifies the project whose fan-out should be retried.
type GrantFanoutPayload struct {
	ProjectID uuid.UUID `json:"project_id"`
}

// NewGrantFanoutTask constructs an Asynq task.
func NewGrantFanoutTask(projectID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(GrantFanoutPayload{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantFanout, data), nil
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueGrantFanout enqueues a fan-out retry task.
func (c *Client) EnqueueGrantFanout(ctx context.Context, projectID uuid.UUID) error {
	task, err := NewGrantFanoutTask(projectID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
