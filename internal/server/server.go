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

	"rotaline/internal/domain"
	"rotaline/internal/engine"
	"rotaline/internal/repo"
	"rotaline/internal/schedule"
	"rotaline/internal/snapshot"
	"rotaline/internal/stats"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"constraint_violation"`
	Message string         `json:"message" example:"2 blocking violation(s)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Rotaline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_command
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
			bodyBuf, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBuf))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBuf)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Rotaline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMutations(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerSettings(group, cfg.Engine)
	registerUndoRedo(group, cfg.Engine)
	registerSnapshots(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
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

// handleError maps typed engine failures to the error envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if kind := engine.KindOf(err); kind != "" {
		var details map[string]any
		if vs := engine.ViolationsOf(err); len(vs) > 0 {
			details = map[string]any{"violations": vs}
		}
		return newAPIError(statusForKind(kind), string(kind), err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func statusForKind(kind engine.Kind) int {
	switch kind {
	case engine.KindBadCommand, engine.KindInvalidCycle:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConstraintViolation:
		return http.StatusUnprocessableEntity
	case engine.KindStaleProposal, engine.KindAlreadyReviewed,
		engine.KindConcurrencyConflict, engine.KindStaleSettings,
		engine.KindNothingToUndo, engine.KindNothingToRedo:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_command"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "constraint_violation"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerMutations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "propose-mutation",
		Method:        http.MethodPost,
		Path:          "/owners/{owner_id}/mutations",
		Summary:       "Propose a change",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID string         `path:"owner_id"`
		Body    ProposeRequest `json:"body"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Propose(ctx, input.OwnerID, input.Body.Command, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mutations",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/mutations",
		Summary:     "List mutations",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		Status  string `query:"status" enum:",proposed,approved,rejected,expired"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedMutations `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorAt, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListMutations(ctx, repo.MutationFilters{
			OwnerID:          input.OwnerID,
			Status:           input.Status,
			Limit:            limit + 1,
			CursorProposedAt: cursorAt,
			CursorID:         cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedMutations{Items: []MutationResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.ProposedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapMutations(items)
		return &struct {
			Body paginatedMutations `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mutation",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/mutations/{mutation_id}",
		Summary:     "Get mutation",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `path:"owner_id"`
		MutationID string `path:"mutation_id"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		m, err := e.GetMutation(ctx, input.OwnerID, input.MutationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-mutation",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/mutations/{mutation_id}/approve",
		Summary:     "Approve and apply a pending mutation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID    string         `path:"owner_id"`
		MutationID string         `path:"mutation_id"`
		Body       ApproveRequest `json:"body"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Approve(ctx, input.OwnerID, input.MutationID, input.Body.Override, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-mutation",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/mutations/{mutation_id}/reject",
		Summary:     "Reject a pending mutation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `path:"owner_id"`
		MutationID string `path:"mutation_id"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Reject(ctx, input.OwnerID, input.MutationID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-mutation",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/mutations/{mutation_id}/cancel",
		Summary:     "Withdraw a pending mutation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `path:"owner_id"`
		MutationID string `path:"mutation_id"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Cancel(ctx, input.OwnerID, input.MutationID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})
}

func registerCalendar(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-calendar",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/calendar",
		Summary:     "Materialized days in a date range",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		From    string `query:"from" format:"date"`
		To      string `query:"to" format:"date"`
	}) (*struct {
		Body []domain.CalendarDay `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		from, to, err := defaultRange(input.From, input.To, e)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", err.Error(), nil)
		}
		days, err := e.Calendar(ctx, input.OwnerID, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.CalendarDay `json:"body"`
		}{Body: nonNilSlice(days)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-commitment-plan",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/commitments/{commitment_id}/plan",
		Summary:     "Validated occurrence plan for a commitment",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OwnerID      string `path:"owner_id"`
		CommitmentID string `path:"commitment_id"`
	}) (*struct {
		Body schedule.Plan `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		plan, err := e.CommitmentPlan(ctx, input.OwnerID, input.CommitmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body schedule.Plan `json:"body"`
		}{Body: plan}, nil
	})
}

func registerSettings(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/settings",
		Summary:     "Get the settings document",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		doc, err := e.GetSettings(ctx, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-settings",
		Method:      http.MethodPut,
		Path:        "/owners/{owner_id}/settings",
		Summary:     "Replace the settings document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID string                `path:"owner_id"`
		Body    UpdateSettingsRequest `json:"body"`
	}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.UpdateSettings(ctx, input.OwnerID, input.Body.Settings, input.Body.Version, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(doc)}, nil
	})
}

func registerUndoRedo(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "undo",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/undo",
		Summary:     "Undo the last applied mutation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Undo(ctx, input.OwnerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "redo",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/redo",
		Summary:     "Redo the last undone mutation",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.Redo(ctx, input.OwnerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(m)}, nil
	})
}

func registerSnapshots(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/snapshots",
		Summary:     "Snapshot chain in sequence order",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		Limit   int    `query:"limit" default:"0"`
	}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSnapshots(ctx, input.OwnerID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]SnapshotResponse, 0, len(items))
		for _, s := range items {
			res = append(res, snapshotResponse(s))
		}
		return &struct {
			Body []SnapshotResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-chain",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/snapshots/verify",
		Summary:     "Re-hash the snapshot chain and check its links",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct {
		Body VerifyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		chain, err := e.ListSnapshots(ctx, input.OwnerID, 0)
		if err != nil {
			return nil, handleError(err)
		}
		res := VerifyResponse{Valid: true, Length: len(chain)}
		if len(chain) > 0 {
			res.HeadHash = chain[len(chain)-1].StateHash
		}
		if err := snapshot.Verify(chain); err != nil {
			res.Valid = false
			res.Error = err.Error()
		}
		return &struct {
			Body VerifyResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerStats(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "yearly-stats",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/stats/yearly",
		Summary:     "Yearly statistics",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		Year    int    `query:"year"`
	}) (*struct {
		Body stats.YearlyStats `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		year := input.Year
		if year == 0 {
			year = time.Now().UTC().Year()
		}
		s, err := e.YearlyStats(ctx, input.OwnerID, year)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.YearlyStats `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "monthly-stats",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/stats/monthly",
		Summary:     "Monthly statistics",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		Year    int    `query:"year"`
		Month   int    `query:"month" minimum:"1" maximum:"12"`
	}) (*struct {
		Body stats.MonthBreakdown `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Month < 1 || input.Month > 12 {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "month must be in [1,12]", nil)
		}
		year := input.Year
		if year == 0 {
			year = time.Now().UTC().Year()
		}
		s, err := e.MonthlyStats(ctx, input.OwnerID, year, time.Month(input.Month))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.MonthBreakdown `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/stats/dashboard",
		Summary:     "Today plus the week ahead",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
	}) (*struct {
		Body stats.DashboardStats `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		s, err := e.DashboardStats(ctx, input.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body stats.DashboardStats `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/owners/{owner_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		OwnerID    string `path:"owner_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",mutation,settings"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_command", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.OwnerID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
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
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: principal.ActorID, Source: principal.Source}}, nil
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
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_command", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
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
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Rotaline API Docs</title>
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

// defaultRange fills an open calendar range with the configured horizon.
func defaultRange(from, to string, e *engine.Engine) (string, string, error) {
	const layout = "2006-01-02"
	if from == "" {
		from = time.Now().UTC().Format(layout)
	}
	start, err := time.Parse(layout, from)
	if err != nil {
		return "", "", fmt.Errorf("invalid from date %q", from)
	}
	if to == "" {
		horizon := 90
		if e.Config != nil && e.Config.Calendar.HorizonDays > 0 {
			horizon = e.Config.Calendar.HorizonDays
		}
		to = start.AddDate(0, 0, horizon-1).Format(layout)
	}
	if _, err := time.Parse(layout, to); err != nil {
		return "", "", fmt.Errorf("invalid to date %q", to)
	}
	if to < from {
		return "", "", fmt.Errorf("to date before from date")
	}
	return from, to, nil
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

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
