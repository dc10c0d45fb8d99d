package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
)

// Invoker calls the LLM on a workspace's behalf and logs the execution.
type Invoker interface {
	Invoke(ctx context.Context, call execution.Call) (*llm.ChatResponse, error)
}

// Store is the persistence the runner needs once a run exists.
type Store interface {
	ListItems(ctx context.Context, evaluationID uuid.UUID) ([]models.EvaluationItem, error)
	CompleteRun(ctx context.Context, runID uuid.UUID, results []models.EvaluationResult, passed int, score float64) (*models.RunDetail, error)
}

// Job is a created run together with the version content it evaluates.
type Job struct {
	RunID        uuid.UUID
	EvaluationID uuid.UUID
	WorkspaceID  uuid.UUID
	PromptID     uuid.UUID
	VersionID    uuid.UUID
	SystemPrompt string
	UserPrompt   string
	Model        string
	Actor        *uuid.UUID
}

// Runner executes a run's items one after another. Item failures lower the
// score; they never fail the run.
type Runner struct {
	store   Store
	invoker Invoker
}

func NewRunner(store Store, invoker Invoker) *Runner {
	return &Runner{store: store, invoker: invoker}
}

func (r *Runner) Execute(ctx context.Context, job Job) (*models.RunDetail, error) {
	// Runs finish even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	items, err := r.store.ListItems(ctx, job.EvaluationID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	slog.Info("evaluation run started", "run_id", job.RunID, "items", len(items), "model", job.Model)

	results := make([]models.EvaluationResult, 0, len(items))
	passed := 0
	for _, item := range items {
		res := r.runItem(ctx, job, item)
		if res.Passed {
			passed++
		}
		results = append(results, res)
	}

	score := 0.0
	if len(items) > 0 {
		score = float64(passed) / float64(len(items))
	}

	detail, err := r.store.CompleteRun(ctx, job.RunID, results, passed, score)
	if err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}

	slog.Info("evaluation run completed", "run_id", job.RunID, "passed", passed, "total", len(items), "score", score)
	return detail, nil
}

func (r *Runner) runItem(ctx context.Context, job Job, item models.EvaluationItem) models.EvaluationResult {
	vars := prompt.ParseVariables(item.Input)

	itemID := item.ID
	start := time.Now()
	resp, err := r.invoker.Invoke(ctx, execution.Call{
		WorkspaceID:  job.WorkspaceID,
		PromptID:     &job.PromptID,
		VersionID:    &job.VersionID,
		Source:       models.SourceEvaluation,
		Model:        job.Model,
		SystemPrompt: prompt.Render(job.SystemPrompt, vars),
		UserPrompt:   prompt.Render(job.UserPrompt, vars),
		Actor:        job.Actor,
	})

	res := models.EvaluationResult{
		RunID:      job.RunID,
		ItemID:     &itemID,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		res.Output = "Error: " + err.Error()
		res.Error = err.Error()
	} else {
		res.Output = resp.Content
	}

	res.Passed = Passed(item.ExpectedOutput, res.Output, err)
	if res.Passed {
		res.Score = 1
	}
	return res
}

// Passed judges one item: an exact match after trimming when an expected
// output is set, otherwise any successful call.
func Passed(expected *string, output string, callErr error) bool {
	if expected != nil {
		return callErr == nil && strings.TrimSpace(output) == strings.TrimSpace(*expected)
	}
	return callErr == nil
}
