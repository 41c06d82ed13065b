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
	"github.com/rs/zerolog"

	"todoassist/internal/assistant"
	"todoassist/internal/directive"
	"todoassist/internal/domain"
	"todoassist/internal/engine"
	"todoassist/internal/notify"
	"todoassist/internal/repo"
)

const defaultAssistantTimeout = 60 * time.Second

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Assistant backs POST /chat. Nil answers 503.
	Assistant        assistant.Client
	AssistantTimeout time.Duration
	// Notifier backs the /notify routes. Nil answers 503.
	Notifier      *notify.Scheduler
	NotifyEnabled bool
	// Location decides what "today" is for the chat prompt and the agenda.
	Location *time.Location
	Log      zerolog.Logger
}

func (c Config) today() domain.Date {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now()
	if c.Engine.Now != nil {
		now = c.Engine.Now()
	}
	return domain.DateOf(now.In(loc))
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task 42 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":42}"`
}

// apiError models the error envelope every route answers with.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if cfg.AssistantTimeout <= 0 {
		cfg.AssistantTimeout = defaultAssistantTimeout
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("todoassist API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerAgenda(group, cfg)
	registerActions(group, cfg)
	registerChat(group, cfg)
	registerNotify(group, cfg)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

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
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"task_id": nf.TaskID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var dfe *directive.DateFormatError
	if errors.As(err, &dfe) {
		return newAPIError(http.StatusBadRequest, "invalid_date", err.Error(), map[string]any{"date": dfe.Raw})
	}
	var ve *directive.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "invalid_directive", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, engine.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, assistant.ErrNoAPIKey) {
		return newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "", "upstream timed out", nil)
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
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusGatewayTimeout:
		return "upstream_timeout"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var doc []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if doc == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if secured {
				applyAuthSecurity(oas, basePath)
			}
			doc, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

// eachOperation visits every operation in the document with its route.
func eachOperation(oas *huma.OpenAPI, fn func(route string, op *huma.Operation)) {
	if oas == nil {
		return
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete} {
			if op != nil {
				fn(route, op)
			}
		}
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	apiError := &huma.Response{
		Description: "Error",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	eachOperation(oas, func(_ string, op *huma.Operation) {
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}
		op.Responses["default"] = apiError
	})
}

// applyAuthSecurity marks every route except health as requiring a bearer token.
func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	healthPath := path.Join("/", basePath, "health")
	eachOperation(oas, func(route string, op *huma.Operation) {
		if route == healthPath {
			op.Security = []map[string][]string{}
			return
		}
		op.Security = security
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>todoassist API Docs</title>
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
      When a JWT secret is configured, authenticate with Authorization: Bearer &lt;token&gt;.
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
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body    CreateTaskRequest
		RawBody []byte
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bytes.TrimSpace(input.RawBody)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.TaskCreateOptions{
			Title:    input.Body.Title,
			Date:     strPtrValue(input.Body.Date),
			ParentID: input.Body.ParentID,
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Done     string `query:"done" enum:"true,false"`
		ParentID int64  `query:"parent_id"`
		TopLevel bool   `query:"top_level"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		f := repo.TaskFilters{TopLevel: input.TopLevel, Limit: normalizeLimit(input.Limit)}
		if input.Done != "" {
			done := input.Done == "true"
			f.Done = &done
		}
		if input.ParentID != 0 {
			parent := input.ParentID
			f.ParentID = &parent
		}
		items, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: mapTasks(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task with children",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body TaskDetailResponse `json:"body"`
	}, error) {
		d, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskDetailResponse `json:"body"`
		}{Body: TaskDetailResponse{
			TaskResponse:   taskResponse(d.Task),
			Children:       mapTasks(d.Children),
			CompletionRate: d.CompletionRate,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      int64 `path:"id"`
		Body    UpdateTaskRequest
		RawBody []byte
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		// Presence matters here: an absent date keeps the deadline, null clears it.
		bodyMap := rawBodyMap(input.RawBody)
		if len(bodyMap) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		if isNullRaw(bodyMap["title"]) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title must not be null", map[string]any{"field": "title"})
		}
		opts := engine.TaskUpdateOptions{
			ID:       input.ID,
			Title:    input.Body.Title,
			Done:     input.Body.Done,
			Priority: input.Body.Priority,
		}
		if raw, ok := bodyMap["date"]; ok {
			if isNullRaw(raw) {
				cleared := ""
				opts.Date = &cleared
			} else {
				opts.Date = input.Body.Date
			}
		}
		if raw, ok := bodyMap["parent_id"]; ok {
			if isNullRaw(raw) {
				opts.ClearParent = true
			} else {
				opts.SetParent = input.Body.ParentID
			}
		}
		t, err := e.UpdateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task; children become top-level",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		if err := e.DeleteTask(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAgenda(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-agenda",
		Method:      http.MethodGet,
		Path:        "/agenda",
		Summary:     "Open tasks due on a day plus a few without a deadline",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Day string `query:"day" doc:"Defaults to today"`
	}) (*struct {
		Body AgendaResponse `json:"body"`
	}, error) {
		day := cfg.today()
		if input.Day != "" {
			parsed, err := directive.ParseDate(input.Day)
			if err != nil {
				return nil, handleError(err)
			}
			day = parsed
		}
		agenda, err := cfg.Engine.Agenda(ctx, day)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AgendaResponse `json:"body"`
		}{Body: AgendaResponse{
			Day:     day.String(),
			Today:   mapTasks(agenda.Today),
			Undated: mapTasks(agenda.Undated),
		}}, nil
	})
}

func registerActions(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-reply",
		Method:      http.MethodPost,
		Path:        "/actions/apply",
		Summary:     "Extract and execute the directives embedded in an assistant reply",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ApplyRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		report := cfg.Engine.ApplyReply(ctx, input.Body.Reply)
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: applyResponse(report)}, nil
	})
}

func registerChat(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Ask the assistant and apply the directives in its reply",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		Body ChatRequest `json:"body"`
	}) (*struct {
		Body ApplyResponse `json:"body"`
	}, error) {
		if cfg.Assistant == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "assistant_unavailable", "assistant is not configured", nil)
		}
		tasks, err := cfg.Engine.ListTasks(ctx, repo.TaskFilters{})
		if err != nil {
			return nil, handleError(err)
		}
		messages := assistant.BuildMessages(tasks, input.Body.History, input.Body.Message, cfg.today())
		callCtx, cancel := context.WithTimeout(ctx, cfg.AssistantTimeout)
		reply, err := cfg.Assistant.Complete(callCtx, messages)
		cancel()
		if err != nil {
			logEvt := cfg.Log.Warn().Err(err)
			if p, ok := principalFromContext(ctx); ok {
				logEvt = logEvt.Str("subject", p.Subject)
			}
			logEvt.Msg("assistant call failed")
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, assistant.ErrNoAPIKey) {
				return nil, handleError(err)
			}
			return nil, newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
		}
		report := cfg.Engine.ApplyReply(ctx, reply)
		return &struct {
			Body ApplyResponse `json:"body"`
		}{Body: applyResponse(report)}, nil
	})
}

func registerNotify(api huma.API, cfg Config) {
	unavailable := func() huma.StatusError {
		return newAPIError(http.StatusServiceUnavailable, "notify_unavailable", "notifications are not configured", nil)
	}

	huma.Register(api, huma.Operation{
		OperationID: "notify-status",
		Method:      http.MethodGet,
		Path:        "/notify/status",
		Summary:     "Daily notification status",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body NotifyStatusResponse `json:"body"`
	}, error) {
		if cfg.Notifier == nil {
			return nil, unavailable()
		}
		return &struct {
			Body NotifyStatusResponse `json:"body"`
		}{Body: NotifyStatusResponse{Enabled: cfg.NotifyEnabled, Status: cfg.Notifier.Status()}}, nil
	})

	send := func(operationID, route, summary string, fn func(*notify.Scheduler, context.Context) (string, error)) {
		huma.Register(api, huma.Operation{
			OperationID: operationID,
			Method:      http.MethodPost,
			Path:        route,
			Summary:     summary,
			Errors:      []int{http.StatusServiceUnavailable},
		}, func(ctx context.Context, _ *struct{}) (*struct {
			Body NotifyResult `json:"body"`
		}, error) {
			if cfg.Notifier == nil {
				return nil, unavailable()
			}
			msg, err := fn(cfg.Notifier, ctx)
			res := NotifyResult{Sent: err == nil, Message: msg}
			if cfg.Notifier.Sender != nil {
				res.Sender = cfg.Notifier.Sender.Name()
			}
			if err != nil {
				cfg.Log.Warn().Err(err).Str("route", route).Msg("notification not sent")
				res.Error = err.Error()
			}
			return &struct {
				Body NotifyResult `json:"body"`
			}{Body: res}, nil
		})
	}
	send("notify-test", "/notify/test", "Send a test notification", (*notify.Scheduler).SendTest)
	send("notify-daily", "/notify/daily", "Send today's digest now", (*notify.Scheduler).SendDaily)
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID string `query:"run_id"`
		Limit int    `query:"limit" default:"50"`
	}) (*struct {
		Body eventList `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := eventList{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body eventList `json:"body"`
		}{Body: resp}, nil
	})
}

func rawBodyMap(data []byte) map[string]json.RawMessage {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &fields)
	}
	return fields
}

func isNullRaw(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && bytes.Equal(trimmed, []byte("null"))
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func strPtrValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
