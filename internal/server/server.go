package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"roastline/internal/ai"
	"roastline/internal/domain"
	"roastline/internal/inventory"
	"roastline/internal/metrics"
	"roastline/internal/schedule"
)

// Config for the HTTP API handler.
type Config struct {
	Schedule  schedule.Service
	Inventory inventory.Ledger
	AI        ai.Service
	Metrics   *metrics.Collectors
	BasePath  string
	Auth      AuthConfig
	Now       func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"scheduled roast 7c9e6679 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"id\":\"7c9e6679\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the roastline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Schedule == nil {
		return nil, errors.New("schedule service required")
	}
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
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}
	hcfg := huma.DefaultConfig("Roastline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerSchedule(group, cfg)
	registerInventory(group, cfg)
	registerAI(group, cfg)
	if cfg.Auth.EnableDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

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
	var nf schedule.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"id": nf.ID})
	}
	var ve schedule.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var ac schedule.AlreadyCompletedError
	if errors.As(err, &ac) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{"id": ac.ID})
	}
	var pe schedule.PersistenceError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusInternalServerError, "persistence_failed", "schedule could not be saved", map[string]any{"op": pe.Op})
	}
	var ie ai.InputError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ue ai.UpstreamError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusInternalServerError, "upstream_failed", err.Error(), nil)
	}
	if errors.Is(err, ai.ErrNotConfigured) {
		return newAPIError(http.StatusServiceUnavailable, "not_configured", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "not_configured"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Roastline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles := p.Roles
		if roles == nil {
			roles = []string{}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{Subject: p.Subject, Roles: roles, Source: p.Source}}, nil
	})
}

type roastBody struct {
	Body domain.ScheduledRoast `json:"body"`
}

type roastListBody struct {
	Body []domain.ScheduledRoast `json:"body"`
}

type roastPath struct {
	ID string `path:"id"`
}

type nowQuery struct {
	Now string `query:"now" doc:"Reference instant (RFC 3339 or YYYY-MM-DD); defaults to server time"`
}

func (c Config) resolveNow(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c.now(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return domain.ParseDate(raw)
}

func registerSchedule(api huma.API, cfg Config) {
	svc := cfg.Schedule

	huma.Register(api, huma.Operation{
		OperationID:   "create-scheduled-roast",
		Method:        http.MethodPost,
		Path:          "/schedule",
		Summary:       "Schedule a roast",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body domain.ScheduleEntryRequest `json:"body"`
	}) (*roastBody, error) {
		r, err := svc.Create(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scheduled-roasts",
		Method:      http.MethodGet,
		Path:        "/schedule",
		Summary:     "List scheduled roasts by date",
	}, func(ctx context.Context, _ *struct{}) (*roastListBody, error) {
		items, err := svc.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastListBody{Body: nonNilRoasts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming-roasts",
		Method:      http.MethodGet,
		Path:        "/schedule/upcoming",
		Summary:     "Incomplete roasts due within the upcoming window",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *nowQuery) (*roastListBody, error) {
		now, err := cfg.resolveNow(input.Now)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"now": input.Now})
		}
		items, err := svc.Upcoming(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastListBody{Body: nonNilRoasts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue-roasts",
		Method:      http.MethodGet,
		Path:        "/schedule/overdue",
		Summary:     "Incomplete roasts dated before today",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *nowQuery) (*roastListBody, error) {
		now, err := cfg.resolveNow(input.Now)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid now", map[string]any{"now": input.Now})
		}
		items, err := svc.Overdue(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastListBody{Body: nonNilRoasts(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-scheduled-roast",
		Method:      http.MethodGet,
		Path:        "/schedule/{id}",
		Summary:     "Get a scheduled roast",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *roastPath) (*roastBody, error) {
		r, err := svc.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-scheduled-roast",
		Method:      http.MethodPatch,
		Path:        "/schedule/{id}",
		Summary:     "Update a scheduled roast",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body domain.SchedulePatch `json:"body"`
	}) (*roastBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		r, err := svc.Update(ctx, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &roastBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-scheduled-roast",
		Method:      http.MethodPost,
		Path:        "/schedule/{id}/complete",
		Summary:     "Mark a scheduled roast completed",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *roastPath) (*roastBody, error) {
		var req CompleteRoastRequest
		if raw := bodyBytes(ctx); len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid body", map[string]any{"error": err.Error()})
			}
		}
		r, err := svc.Complete(ctx, input.ID, schedule.Outcome(req.Outcome))
		if err != nil {
			return nil, handleError(err)
		}
		return &roastBody{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-scheduled-roast",
		Method:        http.MethodDelete,
		Path:          "/schedule/{id}",
		Summary:       "Delete a scheduled roast",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *roastPath) (*struct{}, error) {
		if err := svc.Delete(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerInventory(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "current-inventory",
		Method:      http.MethodGet,
		Path:        "/inventory",
		Summary:     "On-hand roasted and green coffee",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Inventory `json:"body"`
	}, error) {
		if cfg.Inventory == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "not_configured", "inventory ledger not configured", nil)
		}
		inv, err := cfg.Inventory.CurrentInventory(ctx, cfg.now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Inventory `json:"body"`
		}{Body: inv}, nil
	})
}

type aiBody struct {
	Body AIResponse `json:"body"`
}

var aiErrors = []int{
	http.StatusBadRequest,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func registerAI(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "brew-recommendation",
		Method:      http.MethodPost,
		Path:        "/ai/brew-recommendation",
		Summary:     "Recommend a brew recipe",
		Errors:      aiErrors,
	}, func(ctx context.Context, input *struct {
		Body ai.BrewRequest `json:"body"`
	}) (*aiBody, error) {
		res, err := cfg.AI.BrewRecommendation(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &aiBody{Body: aiResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roast-recommendation",
		Method:      http.MethodPost,
		Path:        "/ai/roast-recommendation",
		Summary:     "Recommend a roast profile",
		Errors:      aiErrors,
	}, func(ctx context.Context, input *struct {
		Body ai.RoastRequest `json:"body"`
	}) (*aiBody, error) {
		res, err := cfg.AI.RoastRecommendation(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &aiBody{Body: aiResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extract-invoice",
		Method:      http.MethodPost,
		Path:        "/ai/extract-invoice",
		Summary:     "Extract green coffee purchases from an invoice image",
		Errors:      aiErrors,
	}, func(ctx context.Context, input *struct {
		Body ai.InvoiceRequest `json:"body"`
	}) (*aiBody, error) {
		res, err := cfg.AI.ExtractInvoice(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &aiBody{Body: aiResponse(res)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, subject, input.Body.Roles, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}
