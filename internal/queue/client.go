package queue

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptdeck/internal/config"
)

type Client struct {
	client *asynq.Client
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{client: asynq.NewClient(RedisOpt(cfg))}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueEvaluationRun hands a created run to the worker. Runs are never
// retried: a second attempt would call the LLM for every item again.
func (c *Client) EnqueueEvaluationRun(ctx context.Context, runID uuid.UUID) error {
	return c.enqueue(ctx, TypeEvaluationRun, EvaluationRunPayload{RunID: runID.String()},
		asynq.MaxRetry(0), asynq.Timeout(time.Hour), asynq.TaskID(runID.String()))
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
