package prompt

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

type TestInput struct {
	VersionID   *uuid.UUID
	Environment string
	Variables   map[string]any
	Model       string
}

type TestResult struct {
	PromptID     uuid.UUID `json:"prompt_id"`
	VersionID    uuid.UUID `json:"version_id"`
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Output       string    `json:"output"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
}

// Test renders a version of the prompt with the given variables and sends it
// to the LLM. Without a version the live content of the environment is used.
func (s *Service) Test(ctx context.Context, promptID uuid.UUID, in TestInput) (*TestResult, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := s.loadPrompt(ctx, s.db, scope, promptID, false)
	if err != nil {
		return nil, err
	}

	var v *models.PromptVersion
	if in.VersionID != nil {
		if v, err = s.loadVersion(ctx, scope, *in.VersionID); err != nil {
			return nil, err
		}
		if v.PromptID != promptID {
			return nil, apperrors.Validation("version %s does not belong to this prompt", *in.VersionID)
		}
	} else {
		live, err := s.ResolveLive(ctx, promptID, in.Environment)
		if err != nil {
			return nil, err
		}
		v = &models.PromptVersion{
			ID:              live.VersionID,
			PromptID:        promptID,
			SystemPrompt:    live.SystemPrompt,
			UserPrompt:      live.UserPrompt,
			VariablesSchema: live.VariablesSchema,
		}
	}

	return s.run(ctx, p, v, in)
}

// TestBranch tests the head of a branch.
func (s *Service) TestBranch(ctx context.Context, branchID uuid.UUID, in TestInput) (*TestResult, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	b, _, err := s.loadBranch(ctx, scope, branchID)
	if err != nil {
		return nil, err
	}
	if b.HeadVersionID == nil {
		return nil, apperrors.NotFound("branch %q has no head version", b.Name)
	}

	p, err := s.loadPrompt(ctx, s.db, scope, b.PromptID, false)
	if err != nil {
		return nil, err
	}
	v, err := s.loadVersion(ctx, scope, *b.HeadVersionID)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, p, v, in)
}

func (s *Service) run(ctx context.Context, p *models.Prompt, v *models.PromptVersion, in TestInput) (*TestResult, error) {
	if in.Variables == nil {
		in.Variables = map[string]any{}
	}
	if err := ValidateVariables(v.VariablesSchema, in.Variables); err != nil {
		return nil, err
	}

	model := in.Model
	if model == "" {
		model = p.DefaultModel
	}

	system := Render(v.SystemPrompt, in.Variables)
	user := Render(v.UserPrompt, in.Variables)

	resp, err := s.invoker.Invoke(ctx, execution.Call{
		WorkspaceID:  p.WorkspaceID,
		PromptID:     &p.ID,
		VersionID:    &v.ID,
		Source:       models.SourceTest,
		Model:        model,
		SystemPrompt: system,
		UserPrompt:   user,
		Actor:        tenant.ActorFromContext(ctx),
	})
	if err != nil {
		return nil, apperrors.Upstream(fmt.Errorf("test prompt %s: %w", p.Name, err))
	}

	return &TestResult{
		PromptID:     p.ID,
		VersionID:    v.ID,
		SystemPrompt: system,
		UserPrompt:   user,
		Output:       resp.Content,
		Model:        resp.Model,
		Provider:     resp.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      resp.CostUSD,
	}, nil
}
