package prompt

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
	"github.com/nikhilbhutani/promptdeck/internal/testhelpers"
)

type fakeInvoker struct {
	calls []execution.Call
	err   error
}

func (f *fakeInvoker) Invoke(_ context.Context, call execution.Call) (*llm.ChatResponse, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Provider: "openai", Model: call.Model, Content: "ok:" + call.UserPrompt}, nil
}

func setupService(t *testing.T) (*Service, *fakeInvoker, context.Context, uuid.UUID) {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	ws := db.CreateWorkspace(t)
	user := db.CreateUser(t, ws, false)
	inv := &fakeInvoker{}
	svc := NewService(db.Pool, nil, 0, nil, inv)

	ctx := tenant.WithIdentity(context.Background(), &tenant.Identity{
		UserID:      &user,
		WorkspaceID: ws,
		Via:         tenant.ViaSession,
	})
	return svc, inv, ctx, ws
}

func createPrompt(t *testing.T, svc *Service, ctx context.Context, name string) *models.Prompt {
	t.Helper()
	p, err := svc.Create(ctx, CreateRequest{
		Name:         name,
		SystemPrompt: "You are {{persona}}.",
		UserPrompt:   "Summarize {{text}}",
		DefaultModel: "gpt-4o-mini",
	})
	require.NoError(t, err)
	return p
}

func TestCreate_BootstrapsMainAndProduction(t *testing.T) {
	svc, _, ctx, ws := setupService(t)

	p := createPrompt(t, svc, ctx, "summarizer")
	assert.Equal(t, ws, p.WorkspaceID)
	require.NotNil(t, p.LiveVersionID)
	require.NotNil(t, p.LiveBranchID)

	detail, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, detail.Versions, 1)
	assert.Equal(t, 1, detail.Versions[0].Number)
	assert.Equal(t, "v1", detail.Versions[0].Label)

	require.Len(t, detail.Environments, 1)
	assert.Equal(t, models.DefaultEnvironment, detail.Environments[0].Slug)
	assert.Equal(t, *p.LiveVersionID, detail.Environments[0].VersionID)

	require.Len(t, detail.Branches, 1)
	assert.Equal(t, models.DefaultBranch, detail.Branches[0].Name)
	assert.Equal(t, p.LiveVersionID, detail.Branches[0].HeadVersionID)

	_, err = svc.Create(ctx, CreateRequest{Name: "summarizer", UserPrompt: "x"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, ctx, _ := setupService(t)

	_, err := svc.Create(ctx, CreateRequest{Name: "  ", UserPrompt: "x"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Create(ctx, CreateRequest{Name: "empty"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Create(ctx, CreateRequest{Name: "bad-schema", UserPrompt: "x", VariablesSchema: []byte(`{"type": 5}`)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestVersionsAndDeploy(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "deployable")

	v2, err := svc.CreateVersion(ctx, VersionInput{PromptID: p.ID, Label: "tighter", UserPrompt: "Shorten {{text}}"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Number)
	require.NotNil(t, v2.ParentVersionID)
	assert.Equal(t, *p.LiveVersionID, *v2.ParentVersionID)

	live, err := svc.ResolveLive(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, live.VersionNumber, "creating a version never changes what is live")

	_, err = svc.Deploy(ctx, p.ID, v2.ID, "staging")
	require.NoError(t, err)

	staging, err := svc.ResolveLive(ctx, p.ID, "staging")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, staging.VersionID)
	assert.Equal(t, "Shorten {{text}}", staging.UserPrompt, "live content is returned literally")

	_, err = svc.Deploy(ctx, p.ID, v2.ID, "")
	require.NoError(t, err)
	live, err = svc.ResolveLive(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, live.VersionID)

	// Unknown environments fall back to live_version_id.
	fallback, err := svc.ResolveLive(ctx, p.ID, "qa")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, fallback.VersionID)

	_, err = svc.Deploy(ctx, p.ID, v2.ID, "Bad Slug")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	other := createPrompt(t, svc, ctx, "other")
	_, err = svc.Deploy(ctx, p.ID, *other.LiveVersionID, "staging")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestDeleteVersion_RefusesReferencedVersions(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "guarded")

	err := svc.DeleteVersion(ctx, *p.LiveVersionID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	branchHead, err := svc.CreateVersion(ctx, VersionInput{PromptID: p.ID, BranchID: p.LiveBranchID, Label: "head", UserPrompt: "x"})
	require.NoError(t, err)
	err = svc.DeleteVersion(ctx, branchHead.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	loose, err := svc.CreateVersion(ctx, VersionInput{PromptID: p.ID, Label: "loose", UserPrompt: "y"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteVersion(ctx, loose.ID))

	_, err = svc.GetVersion(ctx, loose.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClearVersions_KeepsBoundVersions(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "clearable")

	for _, label := range []string{"a", "b", "c"} {
		_, err := svc.CreateVersion(ctx, VersionInput{PromptID: p.ID, Label: label, UserPrompt: label})
		require.NoError(t, err)
	}

	n, err := svc.ClearVersions(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	detail, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, detail.Versions, 1)
	assert.Equal(t, *p.LiveVersionID, detail.Versions[0].ID)
}

func TestEnvironments(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "envs")

	err := svc.DeleteEnvironment(ctx, p.ID, models.DefaultEnvironment)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = svc.Deploy(ctx, p.ID, *p.LiveVersionID, "staging")
	require.NoError(t, err)

	envs, err := svc.ListEnvironments(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, envs, 2)

	require.NoError(t, svc.DeleteEnvironment(ctx, p.ID, "staging"))
	err = svc.DeleteEnvironment(ctx, p.ID, "staging")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestBranches(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "branchy")

	b, err := svc.CreateBranch(ctx, p.ID, "experiment", "Experiment")
	require.NoError(t, err)
	require.NotNil(t, b.HeadVersionID)

	head, err := svc.GetVersion(ctx, *b.HeadVersionID)
	require.NoError(t, err)
	assert.Equal(t, 2, head.Number)
	require.NotNil(t, head.ParentVersionID)
	assert.Equal(t, *p.LiveVersionID, *head.ParentVersionID)
	assert.Equal(t, "Summarize {{text}}", head.UserPrompt)

	_, err = svc.CreateBranch(ctx, p.ID, "experiment", "")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	next, err := svc.CreateVersion(ctx, VersionInput{PromptID: p.ID, BranchID: &b.ID, Label: "exp-2", UserPrompt: "New {{text}}"})
	require.NoError(t, err)

	deployed, err := svc.DeployBranch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, next.ID, *deployed.HeadVersionID)

	live, err := svc.ResolveLive(ctx, p.ID, "")
	require.NoError(t, err)
	assert.Equal(t, next.ID, live.VersionID)

	branches, err := svc.ListBranches(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, branches, 2)
}

func TestDuplicate_NamesCopies(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "source")

	first, err := svc.Duplicate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "source_copy", first.Name)

	second, err := svc.Duplicate(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "source_copy_1", second.Name)

	live, err := svc.ResolveLive(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Summarize {{text}}", live.UserPrompt)
	assert.Equal(t, 1, live.VersionNumber)
}

func TestTest_RendersAndInvokes(t *testing.T) {
	svc, inv, ctx, ws := setupService(t)
	p := createPrompt(t, svc, ctx, "tested")

	res, err := svc.Test(ctx, p.ID, TestInput{Variables: map[string]any{"persona": "a pirate", "text": "the news"}})
	require.NoError(t, err)
	assert.Equal(t, "ok:Summarize the news", res.Output)

	require.Len(t, inv.calls, 1)
	call := inv.calls[0]
	assert.Equal(t, ws, call.WorkspaceID)
	assert.Equal(t, models.SourceTest, call.Source)
	assert.Equal(t, "You are a pirate.", call.SystemPrompt)
	assert.Equal(t, "gpt-4o-mini", call.Model)

	inv.err = errors.New("rate limited")
	_, err = svc.Test(ctx, p.ID, TestInput{})
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestTest_ValidatesVariables(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p, err := svc.Create(ctx, CreateRequest{
		Name:            "typed",
		UserPrompt:      "Count to {{n}}",
		VariablesSchema: []byte(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`),
	})
	require.NoError(t, err)

	_, err = svc.Test(ctx, p.ID, TestInput{Variables: map[string]any{"n": "three"}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Test(ctx, p.ID, TestInput{Variables: map[string]any{"n": 3}})
	assert.NoError(t, err)
}

func TestTenantIsolation(t *testing.T) {
	svc, _, ctx, _ := setupService(t)
	p := createPrompt(t, svc, ctx, "private")

	db := testhelpers.GetTestDB(t)
	otherCtx := tenant.WithIdentity(context.Background(), &tenant.Identity{WorkspaceID: db.CreateWorkspace(t)})

	_, err := svc.Get(otherCtx, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.ResolveLive(otherCtx, p.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.GetVersion(otherCtx, *p.LiveVersionID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.Deploy(otherCtx, p.ID, *p.LiveVersionID, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := svc.List(otherCtx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	admin := tenant.WithIdentity(context.Background(), &tenant.Identity{WorkspaceID: uuid.New(), IsAdmin: true})
	_, err = svc.Get(admin, p.ID)
	assert.NoError(t, err)
}
