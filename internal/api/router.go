package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/promptdeck/internal/api/handlers"
	"github.com/nikhilbhutani/promptdeck/internal/api/middleware"
	"github.com/nikhilbhutani/promptdeck/internal/audit"
	"github.com/nikhilbhutani/promptdeck/internal/auth"
	"github.com/nikhilbhutani/promptdeck/internal/config"
	"github.com/nikhilbhutani/promptdeck/internal/credential"
	"github.com/nikhilbhutani/promptdeck/internal/eval"
	"github.com/nikhilbhutani/promptdeck/internal/execution"
	"github.com/nikhilbhutani/promptdeck/internal/input"
	"github.com/nikhilbhutani/promptdeck/internal/keys"
	"github.com/nikhilbhutani/promptdeck/internal/llm"
	"github.com/nikhilbhutani/promptdeck/internal/prompt"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// Services is everything the HTTP layer calls into.
type Services struct {
	Tenants     *tenant.Service
	Audit       *audit.Service
	Prompts     *prompt.Service
	Evaluations *eval.Service
	Executions  *execution.Service
	Recorder    execution.Recorder
	Keys        *keys.Service
	Credentials *credential.Service
	Inputs      *input.Service
	LLM         llm.Gateway
	PassThrough handlers.Forwarder
	// Health lists the dependencies /readyz pings, by name.
	Health map[string]handlers.Pinger
}

type Router struct {
	mux    *chi.Mux
	cfg    *config.Config
	svc    Services
	jwt    *auth.JWTMiddleware
	apikey *auth.APIKeyMiddleware
}

func NewRouter(cfg *config.Config, svc Services) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		cfg:    cfg,
		svc:    svc,
		jwt:    auth.NewJWTMiddleware(cfg.Auth.JWTSecret, svc.Tenants, auth.UserFlagCapabilities{}),
		apikey: auth.NewAPIKeyMiddleware(svc.Keys, cfg.Auth.APIKeyHeader, cfg.Auth.SystemSecretKey),
	}
}

// Setup builds the handler tree. Background work it starts stops with ctx.
func (rt *Router) Setup(ctx context.Context) http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	if rps := rt.cfg.Server.RateLimit; rps > 0 {
		rl := middleware.NewRateLimiter(float64(rps), 2*rps)
		go rl.Cleanup(ctx)
		r.Use(rl.Limit)
	}

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.svc.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	promptH := handlers.NewPromptHandler(rt.svc.Prompts)

	r.Route("/api", func(r chi.Router) {
		r.Use(rt.apikey.Authenticate)

		// Public API: workspace keys only.
		r.Route("/v1", func(r chi.Router) {
			r.Use(auth.RequireIdentity)
			r.Use(auth.WorkspaceOverride)

			gatewayH := handlers.NewGatewayHandler(rt.svc.PassThrough, rt.svc.Credentials, rt.svc.Prompts,
				rt.svc.Recorder, rt.cfg.Auth.SystemSecretKey)
			r.Post("/gateway", gatewayH.ChatCompletions)
			r.Get("/get_current_prompt", promptH.CurrentPrompt)
			r.Get("/get_prompt", promptH.PromptByID)
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.jwt.Authenticate)
			r.Use(auth.RequireIdentity)
			r.Use(auth.WorkspaceOverride)

			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", promptH.List)
				r.Post("/", promptH.Create)
				r.Get("/{id}", promptH.Get)
				r.Patch("/{id}", promptH.Update)
				r.Get("/{id}/live", promptH.Live)
				r.Post("/{id}/duplicate", promptH.Duplicate)
				r.Post("/{id}/test", promptH.Test)
				r.Post("/{id}/deploy", promptH.Deploy)
				r.Get("/{id}/environments", promptH.Environments)
				r.Delete("/{id}/environments/{slug}", promptH.DeleteEnvironment)
				r.Get("/{id}/branches", promptH.Branches)
			})

			r.Route("/versions", func(r chi.Router) {
				r.Post("/", promptH.CreateVersion)
				r.Delete("/", promptH.ClearVersions)
				r.Get("/{id}", promptH.GetVersion)
				r.Patch("/{id}", promptH.UpdateVersion)
				r.Delete("/{id}", promptH.DeleteVersion)
			})

			r.Route("/branches", func(r chi.Router) {
				r.Post("/create", promptH.CreateBranch)
				r.Post("/deploy", promptH.DeployBranch)
				r.Post("/test", promptH.TestBranch)
			})

			evalH := handlers.NewEvaluationHandler(rt.svc.Evaluations)
			r.Route("/evaluations", func(r chi.Router) {
				r.Get("/", evalH.List)
				r.Post("/", evalH.Create)
				r.Get("/runs/{runID}", evalH.GetRun)
				r.Get("/{id}", evalH.Get)
				r.Delete("/{id}", evalH.Delete)
				r.Post("/{id}/items", evalH.AddItems)
				r.Post("/{id}/items/import", evalH.ImportItems)
				r.Delete("/{id}/items/{itemID}", evalH.DeleteItem)
				r.Post("/{id}/run", evalH.Run)
				r.Get("/{id}/runs", evalH.Runs)
			})

			execH := handlers.NewExecutionHandler(rt.svc.Executions)
			r.Route("/executions", func(r chi.Router) {
				r.Get("/", execH.List)
				r.Delete("/", execH.BulkDelete)
				r.Get("/summary", execH.Summary)
				r.Get("/{id}", execH.Get)
				r.Delete("/{id}", execH.Delete)
			})

			keyH := handlers.NewKeyHandler(rt.svc.Keys)
			r.Route("/keys", func(r chi.Router) {
				r.Get("/", keyH.List)
				r.Post("/", keyH.Create)
				r.Put("/{id}", keyH.Update)
				r.Delete("/{id}", keyH.Delete)
			})

			credH := handlers.NewCredentialHandler(rt.svc.Credentials)
			r.Route("/credentials", func(r chi.Router) {
				r.Get("/", credH.List)
				r.Post("/", credH.Create)
				r.Put("/{id}", credH.Update)
				r.Put("/{id}/default", credH.SetDefault)
				r.Delete("/{id}", credH.Delete)
			})

			inputH := handlers.NewInputHandler(rt.svc.Inputs)
			r.Route("/inputs", func(r chi.Router) {
				r.Get("/", inputH.List)
				r.Post("/", inputH.Create)
				r.Post("/import", inputH.Import)
				r.Delete("/{id}", inputH.Delete)
			})

			llmH := handlers.NewLLMHandler(rt.svc.LLM)
			r.Get("/models", llmH.Models)

			adminH := handlers.NewAdminHandler(rt.svc.Audit, rt.svc.Tenants)
			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Get("/audit", adminH.AuditLogs)
				r.Get("/workspaces", adminH.Workspaces)
				r.Post("/workspaces", adminH.CreateWorkspace)
				r.Get("/workspaces/{id}", adminH.Workspace)
			})
		})
	})

	return r
}
