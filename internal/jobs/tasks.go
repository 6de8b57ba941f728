// Package jobs moves slow side effects of the API, chiefly reset code
// email, onto an asynq queue in Redis. The API enqueues through Client;
// cmd/worker drains the queue through Worker.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue every portal task goes to.
	QueueDefault = "default"
	// TaskTypeResetCode delivers a password reset code by email.
	TaskTypeResetCode = "auth:reset_code"
)

const (
	resetCodeMaxRetry = 5
	resetCodeTimeout  = time.Minute
)

// ResetCodePayload is the body of a TaskTypeResetCode task.
type ResetCodePayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	// ExpiresInSeconds is how long the code stays usable from issue time.
	ExpiresInSeconds int64 `json:"expires_in_seconds"`
}

// ExpiresIn returns the payload's lifetime as a duration.
func (p ResetCodePayload) ExpiresIn() time.Duration {
	return time.Duration(p.ExpiresInSeconds) * time.Second
}

// NewResetCodeTask constructs the asynq task for payload.
func NewResetCodeTask(payload ResetCodePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding reset code payload: %w", err)
	}
	return asynq.NewTask(TaskTypeResetCode, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(resetCodeMaxRetry),
		asynq.Timeout(resetCodeTimeout),
	), nil
}
