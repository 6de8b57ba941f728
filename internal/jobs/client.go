package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

var _ auth.CodeSender = (*Client)(nil)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpt)}
}

// SendResetCode enqueues delivery of a reset code. It returns once the task
// is stored in Redis; the mail itself is sent by the worker.
func (c *Client) SendResetCode(ctx context.Context, email, code string, expiresIn time.Duration) error {
	_, err := c.EnqueueResetCode(ctx, ResetCodePayload{
		Email:            email,
		Code:             code,
		ExpiresInSeconds: int64(expiresIn / time.Second),
	})
	return err
}

// EnqueueResetCode enqueues a reset code task.
func (c *Client) EnqueueResetCode(ctx context.Context, payload ResetCodePayload) (*asynq.TaskInfo, error) {
	task, err := NewResetCodeTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueueing %s: %w", TaskTypeResetCode, err)
	}
	return info, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
