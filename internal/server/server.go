package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"mastersync/internal/domain"
	"mastersync/internal/engine"
	"mastersync/internal/notify"
	"mastersync/internal/reconcile"
	"mastersync/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"master not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the mastersync API.
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
	hcfg := huma.DefaultConfig("Mastersync API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMasters(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerPlanners(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
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
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "validation_failed", err.Error(), map[string]any{
			"entity": ve.Entity,
			"fields": ve.Fields,
		})
	}
	var ce *reconcile.ConfigError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "reference_data_invalid", err.Error(), nil)
	}
	var te *notify.TemplateError
	if errors.As(err, &te) {
		return newAPIError(http.StatusInternalServerError, "template_missing", err.Error(), map[string]any{"code": string(te.Code)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "cannot sort") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Mastersync API Docs</title>
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
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMasters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-master",
		Method:      http.MethodPut,
		Path:        "/masters",
		Summary:     "Create or replace a master",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body domain.Master `json:"body"`
	}) (*struct {
		Body domain.Master `json:"body"`
	}, error) {
		m, err := e.UpsertMaster(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Master `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-masters",
		Method:      http.MethodGet,
		Path:        "/masters",
		Summary:     "List masters",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *masterListQuery) (*struct {
		Body repo.MasterPage `json:"body"`
	}, error) {
		criteria, err := input.criteria()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		page, err := e.FindAllMasters(ctx, criteria)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.MasterPage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-master",
		Method:      http.MethodGet,
		Path:        "/masters/{uuid}",
		Summary:     "Get master",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct {
		Body domain.Master `json:"body"`
	}, error) {
		m, err := e.Repo.GetMaster(ctx, input.UUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Master `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-master",
		Method:      http.MethodDelete,
		Path:        "/masters/{uuid}",
		Summary:     "Delete master",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct{}, error) {
		if err := e.DeleteMaster(ctx, input.UUID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-master",
		Method:      http.MethodPost,
		Path:        "/masters/{uuid}/reconcile",
		Summary:     "Reconcile master cards and generate notifications",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct {
		Body engine.ReconcileResult `json:"body"`
	}, error) {
		res, err := e.ReconcileMaster(ctx, input.UUID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ReconcileResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-agent",
		Method:      http.MethodPut,
		Path:        "/agents",
		Summary:     "Create or replace an agent",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.Agent `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.UpsertAgent(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		agents, err := e.Repo.ListAgents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if agents == nil {
			agents = []domain.Agent{}
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: agents}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/agents/{uuid}",
		Summary:     "Delete agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct{}, error) {
		if err := e.DeleteAgent(ctx, input.UUID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPlanners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-planner",
		Method:      http.MethodPut,
		Path:        "/planners",
		Summary:     "Create or replace a planner",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.Planner `json:"body"`
	}) (*struct {
		Body domain.Planner `json:"body"`
	}, error) {
		p, err := e.UpsertPlanner(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Planner `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-planners",
		Method:      http.MethodGet,
		Path:        "/planners",
		Summary:     "List planners",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Planner `json:"body"`
	}, error) {
		planners, err := e.Repo.ListPlanners(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if planners == nil {
			planners = []domain.Planner{}
		}
		return &struct {
			Body []domain.Planner `json:"body"`
		}{Body: planners}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-planner",
		Method:      http.MethodDelete,
		Path:        "/planners/{uuid}",
		Summary:     "Delete planner",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UUID string `path:"uuid"`
	}) (*struct{}, error) {
		if err := e.DeletePlanner(ctx, input.UUID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List generated notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		MasterUUID  string `query:"master_uuid"`
		Code        string `query:"code"`
		Undelivered bool   `query:"undelivered"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []repo.StoredNotification `json:"body"`
	}, error) {
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			MasterUUID:  input.MasterUUID,
			Code:        input.Code,
			Undelivered: input.Undelivered,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []repo.StoredNotification{}
		}
		return &struct {
			Body []repo.StoredNotification `json:"body"`
		}{Body: items}, nil
	})
}
