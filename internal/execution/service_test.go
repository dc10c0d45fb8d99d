package execution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
	"github.com/nikhilbhutani/promptdeck/internal/testhelpers"
)

type workspaceRows struct {
	ctx    context.Context
	ws     uuid.UUID
	prompt uuid.UUID
}

func seedWorkspace(t *testing.T, db *testhelpers.TestDB, logger *Logger) workspaceRows {
	t.Helper()
	ws := db.CreateWorkspace(t)

	var promptID uuid.UUID
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO prompts (workspace_id, name) VALUES ($1, 'greeter') RETURNING id`, ws).Scan(&promptID)
	require.NoError(t, err)

	rows := []models.Execution{
		{Source: models.SourceTest, Model: "gpt-4o-mini", Provider: models.ProviderOpenAI, PromptID: &promptID,
			DurationMs: 100, InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: 0.01},
		{Source: models.SourceGateway, Model: "gpt-4o-mini", Provider: models.ProviderOpenAI, PromptID: &promptID,
			DurationMs: 300, InputTokens: 20, OutputTokens: 10, TotalTokens: 30, CostUSD: 0.02},
		{Source: models.SourceEvaluation, Model: "claude-3-5-haiku-latest", Provider: models.ProviderAnthropic,
			DurationMs: 50, Error: "rate limited"},
	}
	for _, e := range rows {
		e.WorkspaceID = ws
		logger.Record(context.Background(), e)
	}

	ctx := tenant.WithIdentity(context.Background(), &tenant.Identity{WorkspaceID: ws, Via: tenant.ViaAPIKey})
	return workspaceRows{ctx: ctx, ws: ws, prompt: promptID}
}

func TestExecutions_ListGetDelete(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	svc := NewService(db.Pool, nil)
	logger := NewLogger(db.Pool)

	a := seedWorkspace(t, db, logger)
	b := seedWorkspace(t, db, logger)

	all, err := svc.List(a.ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	gateway, err := svc.List(a.ctx, ListQuery{Source: models.SourceGateway})
	require.NoError(t, err)
	require.Len(t, gateway, 1)
	assert.Equal(t, 30, gateway[0].TotalTokens)

	byPrompt, err := svc.List(a.ctx, ListQuery{PromptID: &a.prompt})
	require.NoError(t, err)
	assert.Len(t, byPrompt, 2)

	got, err := svc.Get(a.ctx, gateway[0].ID)
	require.NoError(t, err)
	assert.Equal(t, a.ws, got.WorkspaceID)

	_, err = svc.Get(b.ctx, gateway[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(b.ctx, gateway[0].ID), apperrors.ErrNotFound)

	require.NoError(t, svc.Delete(a.ctx, gateway[0].ID))
	_, err = svc.Get(a.ctx, gateway[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExecutions_BulkDeleteStaysInWorkspace(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	svc := NewService(db.Pool, nil)
	logger := NewLogger(db.Pool)

	a := seedWorkspace(t, db, logger)
	b := seedWorkspace(t, db, logger)

	bRows, err := svc.List(b.ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, bRows, 3)

	// Ids from another workspace are ignored.
	n, err := svc.BulkDelete(a.ctx, BulkDelete{IDs: []uuid.UUID{bRows[0].ID}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.BulkDelete(a.ctx, BulkDelete{PromptID: &a.prompt})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = svc.BulkDelete(a.ctx, BulkDelete{All: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.BulkDelete(a.ctx, BulkDelete{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	left, err := svc.List(b.ctx, ListQuery{})
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestExecutions_Summary(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	svc := NewService(db.Pool, nil)
	logger := NewLogger(db.Pool)

	a := seedWorkspace(t, db, logger)
	seedWorkspace(t, db, logger)

	// One more call for the same model, dated well outside the window.
	logger.Record(context.Background(), models.Execution{
		WorkspaceID: a.ws, Source: models.SourceTest, Model: "gpt-4o-mini", Provider: models.ProviderOpenAI,
		DurationMs: 900, InputTokens: 1000, CostUSD: 5,
	})
	_, err := db.Pool.Exec(context.Background(),
		`UPDATE executions SET created_at = now() - interval '30 days' WHERE workspace_id = $1 AND duration_ms = 900`, a.ws)
	require.NoError(t, err)

	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	summary, err := svc.Summary(a.ctx, &start, &end)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	byModel := map[string]models.UsageSummary{}
	for _, s := range summary {
		byModel[s.Model] = s
	}

	openai := byModel["gpt-4o-mini"]
	assert.Equal(t, models.ProviderOpenAI, openai.Provider)
	assert.Equal(t, 2, openai.Calls)
	assert.Zero(t, openai.Errors)
	assert.EqualValues(t, 30, openai.InputTokens)
	assert.EqualValues(t, 15, openai.OutputTokens)
	assert.InDelta(t, 0.03, openai.CostUSD, 1e-9)
	assert.InDelta(t, 200, openai.AvgLatencyMs, 1e-9)

	claude := byModel["claude-3-5-haiku-latest"]
	assert.Equal(t, 1, claude.Calls)
	assert.Equal(t, 1, claude.Errors)

	// Without a range the old row counts too.
	everything, err := svc.Summary(a.ctx, nil, nil)
	require.NoError(t, err)
	for _, s := range everything {
		if s.Model == "gpt-4o-mini" {
			assert.Equal(t, 3, s.Calls)
		}
	}
}
