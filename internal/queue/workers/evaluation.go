package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/queue"
)

// RunExecutor completes a run that was created with async set.
type RunExecutor interface {
	ExecuteRun(ctx context.Context, runID uuid.UUID) (*models.RunDetail, error)
}

type EvaluationWorker struct {
	runs RunExecutor
}

func NewEvaluationWorker(runs RunExecutor) *EvaluationWorker {
	return &EvaluationWorker{runs: runs}
}

func (w *EvaluationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.EvaluationRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	runID, err := uuid.Parse(payload.RunID)
	if err != nil {
		return fmt.Errorf("parse run ID: %w: %w", err, asynq.SkipRetry)
	}

	slog.Info("processing evaluation run", "run_id", runID)

	detail, err := w.runs.ExecuteRun(ctx, runID)
	if errors.Is(err, apperrors.ErrNotFound) {
		slog.Warn("evaluation run gone before processing", "run_id", runID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("execute run %s: %w", runID, err)
	}

	slog.Info("evaluation run processed", "run_id", runID, "score", detail.Score, "items", detail.TotalItems)
	return nil
}
