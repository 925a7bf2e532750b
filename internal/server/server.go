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
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"pdiquest/internal/config"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine"
	"pdiquest/internal/engine/auth"
	"pdiquest/internal/engine/catalog"
	"pdiquest/internal/engine/core"
	"pdiquest/internal/engine/ledger"
	"pdiquest/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cooldown_active"`
	Message string         `json:"message" example:"retro_participation is cooling down"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"retry_after_seconds\":3600}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the pdiquest API.
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
			// schema validation is a client error, 422 is reserved for rejected submissions
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("pdiquest API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActions(group, cfg.Engine)
	registerSubmissions(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerLeaderboard(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLogin {
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ua catalog.UnknownActionError
	if errors.As(err, &ua) {
		return newAPIError(http.StatusBadRequest, "unknown_action", err.Error(), map[string]any{"action_id": ua.ActionID})
	}
	var le ledger.ImmutableLedgerError
	if errors.As(err, &le) {
		return newAPIError(http.StatusConflict, "ledger_conflict", err.Error(), map[string]any{"event_id": le.EventID, "op": le.Op})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownRole):
		return newAPIError(http.StatusBadRequest, "unknown_role", err.Error(), nil)
	case errors.Is(err, core.ErrInvalidSubmission),
		errors.Is(err, engine.ErrInvalidOrgFacts),
		errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidEvent),
		errors.Is(err, auth.ErrActorRequired),
		errors.Is(err, config.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

// rejectionError turns a rejected submission into the error envelope.
// Rate limits are 429, every other rejection is 422.
func rejectionError(actionID string, rej *domain.Rejection) huma.StatusError {
	if rej == nil {
		return newAPIError(http.StatusInternalServerError, "internal_error", "rejection missing", nil)
	}
	details := map[string]any{
		"reason":    string(rej.Reason),
		"action_id": actionID,
	}
	if rej.RetryAfter > 0 {
		details["retry_after_seconds"] = int64(rej.RetryAfter / time.Second)
	}
	status := http.StatusUnprocessableEntity
	switch rej.Reason {
	case domain.RejectCooldownActive, domain.RejectWeeklyCapReached:
		status = http.StatusTooManyRequests
	}
	return newAPIError(status, rejectionCode(rej.Reason), rej.Message, details)
}

func rejectionCode(r domain.RejectReason) string {
	switch r {
	case domain.RejectMissingEvidence:
		return "missing_evidence"
	case domain.RejectBelowQualityThreshold:
		return "below_quality_threshold"
	case domain.RejectCooldownActive:
		return "cooldown_active"
	case domain.RejectWeeklyCapReached:
		return "weekly_cap_reached"
	case domain.RejectProfileNotEligible:
		return "profile_not_eligible"
	default:
		return "rejected"
	}
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requirePermission accepts permissions carried by the token before consulting role grants.
func requirePermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, ok := principalFromContext(ctx)
	if !ok || principal.ActorID == "" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	return e.Auth.Require(ctx, nil, principal.ActorID, perm)
}

func requireSelfOr(ctx context.Context, e engine.Engine, subjectID, perm string) error {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return authErr
	}
	if actorID == subjectID {
		return nil
	}
	return requirePermission(ctx, e, perm)
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

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
    <title>pdiquest API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/actions",
		Summary:     "List the action catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ActionDefinition `json:"body"`
	}, error) {
		return &struct {
			Body []domain.ActionDefinition `json:"body"`
		}{Body: nonNilSlice(e.Actions())}, nil
	})
}

func registerSubmissions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-action",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Submit an action for XP",
		Description:   "Rejected submissions are recorded and answered with 422, or 429 when a cooldown or weekly cap applies.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		principalID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			actorID = principalID
		}
		if actorID != principalID {
			if err := requirePermission(ctx, e, auth.PermSubmitForOthers); err != nil {
				return nil, handleError(err)
			}
		}
		sub := domain.ActionSubmission{
			ActorID:       actorID,
			ActionID:      strings.TrimSpace(input.Body.ActionID),
			TargetUserID:  input.Body.TargetUserID,
			Evidence:      input.Body.Evidence,
			QualityRating: input.Body.QualityRating,
		}
		// Callers without backdate rights are judged at server time.
		if input.Body.SubmissionTime != nil {
			if err := requirePermission(ctx, e, auth.PermBackdate); err != nil {
				return nil, handleError(err)
			}
			sub.SubmissionTime = *input.Body.SubmissionTime
		}
		res, err := e.Submit(ctx, sub)
		if err != nil {
			return nil, handleError(err)
		}
		if !res.Accepted() {
			return nil, rejectionError(sub.ActionID, res.Rejection)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: submissionResponse(res)}, nil
	})
}

type userPath struct {
	UserID string `path:"user_id"`
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/profile",
		Summary:     "Gamification profile",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body domain.GamificationProfile `json:"body"`
	}, error) {
		if err := requireSelfOr(ctx, e, input.UserID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Profile(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		p.Badges = nonNilSlice(p.Badges)
		return &struct {
			Body domain.GamificationProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-events",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/events",
		Summary:     "XP ledger entries for a user",
		Description: "Returns the newest entries, oldest first.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.XpEvent `json:"body"`
	}, error) {
		if err := requireSelfOr(ctx, e, input.UserID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.UserEvents(ctx, input.UserID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.XpEvent `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-badges",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/badges",
		Summary:     "Every badge with the user's unlock state",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body []engine.BadgeStatus `json:"body"`
	}, error) {
		if err := requireSelfOr(ctx, e, input.UserID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Badges(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.BadgeStatus `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-xp-event",
		Method:      http.MethodGet,
		Path:        "/xp-events/{event_id}",
		Summary:     "One XP ledger entry",
		Description: "Visible to the event's actor and to holders of profiles.read.",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body domain.XpEvent `json:"body"`
	}, error) {
		evt, err := e.XPEvent(ctx, input.EventID)
		if errors.Is(err, repo.ErrNotFound) {
			// only readers of other profiles learn whether an id exists
			if permErr := requirePermission(ctx, e, auth.PermProfilesRead); permErr != nil {
				return nil, handleError(permErr)
			}
		}
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireSelfOr(ctx, e, evt.ActorID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.XpEvent `json:"body"`
		}{Body: evt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-limits",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/limits",
		Summary:     "Cooldown and weekly cap state per action",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body []LimitResponse `json:"body"`
	}, error) {
		if err := requireSelfOr(ctx, e, input.UserID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		limits, err := e.Limits(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]LimitResponse, 0, len(limits))
		for _, l := range limits {
			out = append(out, limitResponse(l))
		}
		return &struct {
			Body []LimitResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-multipliers",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/multipliers",
		Summary:     "Profile classification and earnable multipliers",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body MultipliersResponse `json:"body"`
	}, error) {
		if err := requireSelfOr(ctx, e, input.UserID, auth.PermProfilesRead); err != nil {
			return nil, handleError(err)
		}
		view, err := e.Multipliers(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MultipliersResponse `json:"body"`
		}{Body: multipliersResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-gaming-report",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/gaming-report",
		Summary:     "Advisory gaming score over the last week",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *userPath) (*struct {
		Body GamingReportResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		s, err := e.GamingReport(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GamingReportResponse `json:"body"`
		}{Body: gamingReportResponse(input.UserID, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-org-facts",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}/org-facts",
		Summary:     "Replace organizational facts",
		Description: "Returns the resulting profile classification.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string          `path:"user_id"`
		Body   OrgFactsRequest `json:"body"`
	}) (*struct {
		Body domain.ActorProfile `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermOrgFactsWrite); err != nil {
			return nil, handleError(err)
		}
		actorID, _ := actorIDFromContext(ctx)
		profile, err := e.SetOrgFacts(ctx, domain.OrgFacts{
			UserID:           input.UserID,
			SubordinateCount: input.Body.SubordinateCount,
			ManagedTeamCount: input.Body.ManagedTeamCount,
			ManagerRoleTeams: input.Body.ManagerRoleTeams,
			IsAdmin:          input.Body.IsAdmin,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		profile.Reasons = nonNilSlice(profile.Reasons)
		return &struct {
			Body domain.ActorProfile `json:"body"`
		}{Body: profile}, nil
	})
}

func registerLeaderboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Users ranked by total XP",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"10"`
	}) (*struct {
		Body []domain.LeaderboardEntry `json:"body"`
	}, error) {
		items, err := e.Leaderboard(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LeaderboardEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"xp_event,submission,badge,user,config,rbac,api_key"`
		EntityID   string `query:"entity_id"`
		ActorID    string `query:"actor_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermEventsRead); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.AuditEvents(ctx, limit+1, cursorID, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active engine rules",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConfigDocument `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, auth.PermConfigWrite); err != nil {
			return nil, handleError(err)
		}
		if e.Config == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "config not loaded", nil)
		}
		data, err := e.Config.YAML()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigDocument `json:"body"`
		}{Body: ConfigDocument{YAML: string(data)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "put-config",
		Method:        http.MethodPut,
		Path:          "/config",
		Summary:       "Store new engine rules",
		Description:   "The running server keeps its rules until restart.",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body ConfigDocument `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, auth.PermConfigWrite); err != nil {
			return nil, handleError(err)
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		actorID, _ := actorIDFromContext(ctx)
		if err := e.ImportConfig(ctx, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	for _, op := range []struct {
		id, path, summary string
		apply             func(ctx context.Context, actorID, target, role string) error
	}{
		{"grant-role", "/rbac/roles/grant", "Grant a role", e.GrantRole},
		{"revoke-role", "/rbac/roles/revoke", "Revoke a role", e.RevokeRole},
	} {
		apply := op.apply
		huma.Register(api, huma.Operation{
			OperationID:   op.id,
			Method:        http.MethodPost,
			Path:          op.path,
			Summary:       op.summary,
			DefaultStatus: http.StatusNoContent,
			Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
		}, func(ctx context.Context, input *struct {
			Body RoleChangeRequest `json:"body"`
		}) (*struct{}, error) {
			if err := requirePermission(ctx, e, auth.PermRBACWrite); err != nil {
				return nil, handleError(err)
			}
			actorID, _ := actorIDFromContext(ctx)
			if err := apply(ctx, actorID, strings.TrimSpace(input.Body.ActorID), strings.TrimSpace(input.Body.RoleID)); err != nil {
				return nil, handleError(err)
			}
			return &struct{}{}, nil
		})
	}
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		Description:   "The key is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := strings.TrimSpace(input.Body.ActorID)
		if owner == "" {
			owner = actorID
		}
		if err := requireSelfOr(ctx, e, owner, auth.PermAPIKeysWrite); err != nil {
			return nil, handleError(err)
		}
		plain, key, err := e.CreateAPIKey(ctx, actorID, owner, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{APIKeyInfo: apiKeyInfo(key), Key: plain}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Description: "Defaults to the caller's keys. Revoked keys are listed with revoked_at set.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyInfo `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := strings.TrimSpace(input.ActorID)
		if owner == "" {
			owner = actorID
		}
		if err := requireSelfOr(ctx, e, owner, auth.PermAPIKeysWrite); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.APIKeys(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyInfo, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyInfo(k))
		}
		return &struct {
			Body []APIKeyInfo `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, err := e.APIKey(ctx, input.KeyID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireSelfOr(ctx, e, key.ActorID, auth.PermAPIKeysWrite); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.RevokeAPIKey(ctx, actorID, key.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 {
			if who, err := e.WhoAmI(ctx, principal.ActorID); err == nil {
				if len(roles) == 0 {
					roles = who.Roles
				}
				perms = who.Permissions
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
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
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := devClaims(actor, input.Body.Roles, input.Body.Permissions, authCfg.now()).sign(authCfg.JWTSecret)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		authCfg.log().Warn("dev token issued", "actor_id", actor)
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
