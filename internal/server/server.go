package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/MrMafora/Snap-Lotto-sub000/internal/domain"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/pipeline"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/scheduler"
	"github.com/MrMafora/Snap-Lotto-sub000/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"draw not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the ingestion API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Snap Lotto Ingestion API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Scheduler)
	registerTrigger(group, cfg.Scheduler)
	registerRuns(group, cfg.Store)
	registerResults(group, cfg.Store)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		return newAPIError(http.StatusConflict, "run_in_progress", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unknown job") || strings.Contains(lowered, "unknown game"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, sched *scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Scheduler status and last run",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.Status `json:"body"`
	}, error) {
		st, err := sched.Status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.Status `json:"body"`
		}{Body: st}, nil
	})
}

func registerTrigger(api huma.API, sched *scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-job",
		Method:        http.MethodPost,
		Path:          "/jobs/{job}/trigger",
		Summary:       "Run a job now",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Job string `path:"job"`
	}) (*struct {
		Body domain.RunReport `json:"body"`
	}, error) {
		report, err := sched.TriggerNow(ctx, input.Job)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerRuns(api huma.API, st store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "latest-run",
		Method:      http.MethodGet,
		Path:        "/runs/latest",
		Summary:     "Most recent run report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Job string `query:"job"`
	}) (*struct {
		Body domain.RunReport `json:"body"`
	}, error) {
		report, err := st.LastRun(ctx, input.Job)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RunReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerResults(api huma.API, st store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-results",
		Method:      http.MethodGet,
		Path:        "/results/{game}",
		Summary:     "List draw results for a game",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Game  string `path:"game"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []DrawResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 20
		}
		items, err := st.ListDraws(ctx, input.Game, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DrawResponse `json:"body"`
		}{Body: mapDraws(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "latest-result",
		Method:      http.MethodGet,
		Path:        "/results/{game}/latest",
		Summary:     "Latest draw result for a game",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Game string `path:"game"`
	}) (*struct {
		Body DrawResponse `json:"body"`
	}, error) {
		r, err := st.LatestDraw(ctx, input.Game)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DrawResponse `json:"body"`
		}{Body: drawResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-result",
		Method:      http.MethodGet,
		Path:        "/results/{game}/{draw_number}",
		Summary:     "Get a draw result by number",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Game       string `path:"game"`
		DrawNumber string `path:"draw_number"`
	}) (*struct {
		Body DrawResponse `json:"body"`
	}, error) {
		r, err := st.GetDraw(ctx, input.Game, input.DrawNumber)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DrawResponse `json:"body"`
		}{Body: drawResponse(r)}, nil
	})
}
