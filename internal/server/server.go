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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sunline/internal/domain"
	"sunline/internal/engine"
	"sunline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid project transition planning -> paid"`
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

// New returns an HTTP handler exposing the Sunline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope shape.
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
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Sunline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerFirms(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerCrews(group, cfg.Engine)
	registerReclamations(group, cfg.Engine)
	registerInvoices(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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

// handleError maps engine errors onto the HTTP taxonomy.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ae engine.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"entity": te.Entity,
			"from":   te.From,
			"to":     te.To,
		})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), map[string]any{
			"entity":   ce.Entity,
			"expected": ce.Expected,
		})
	}
	var ue engine.UpstreamError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), map[string]any{"op": ue.Op})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
		return "invalid_transition"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadGateway:
		return "upstream_error"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
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

	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{
			ActorID: p.ActorID,
			Role:    p.Role,
			FirmIDs: p.FirmIDs,
			Source:  p.Source,
		}}, nil
	})
}

func registerFirms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-firm",
		Method:        http.MethodPost,
		Path:          "/firms",
		Summary:       "Create firm",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateFirmRequest `json:"body"`
	}) (*struct {
		Body FirmResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.IsAdmin() {
			return nil, handleError(engine.AuthorizationError{ActorID: actor.ID, Reason: "only admin may create firms"})
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		f, err := e.Repo.InsertFirm(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FirmResponse `json:"body"`
		}{Body: firmResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-firms",
		Method:      http.MethodGet,
		Path:        "/firms",
		Summary:     "List firms",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []FirmResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListFirms(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []FirmResponse{}
		for _, f := range items {
			if actor.HasFirm(f.ID) {
				res = append(res, firmResponse(f))
			}
		}
		return &struct {
			Body []FirmResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-firm",
		Method:      http.MethodPost,
		Path:        "/firms/{firm_id}/reconcile",
		Summary:     "Reconcile firm invoices with the payment provider",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		FirmID int64 `path:"firm_id"`
	}) (*struct {
		Body ReconcileReportResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.ReconcileFirm(ctx, input.FirmID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileReportResponse `json:"body"`
		}{Body: ReconcileReportResponse{Checked: report.Checked, Updated: report.Updated, Failures: report.Failures}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-firm-reclamations",
		Method:      http.MethodGet,
		Path:        "/firms/{firm_id}/reclamations",
		Summary:     "List firm reclamations",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		FirmID int64 `path:"firm_id"`
	}) (*struct {
		Body []ReclamationResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !actor.HasFirm(input.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ListReclamationsByFirm(ctx, input.FirmID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ReclamationResponse `json:"body"`
		}{Body: mapReclamations(items)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			FirmID: input.Body.FirmID,
			Name:   input.Body.Name,
			LeadID: input.Body.LeadID,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FirmID int64 `query:"firm_id"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.FirmID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "firm_id is required", nil)
		}
		if !actor.HasFirm(input.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ListProjects(ctx, input.FirmID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(p.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:                    input.ID,
			Status:                input.Body.Status,
			Name:                  input.Body.Name,
			CrewID:                input.Body.CrewID,
			EquipmentExpectedDate: input.Body.EquipmentExpectedDate,
			EquipmentArrivedDate:  input.Body.EquipmentArrivedDate,
			WorkStartDate:         input.Body.WorkStartDate,
			WorkEndDate:           input.Body.WorkEndDate,
			ClientCalled:          input.Body.ClientCalled,
			EquipmentCalled:       input.Body.EquipmentCalled,
			InvoiceNumber:         input.Body.InvoiceNumber,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-history",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/history",
		Summary:     "Project history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []HistoryEntryResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ProjectHistory(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]HistoryEntryResponse, 0, len(items))
		for _, h := range items {
			res = append(res, historyResponse(h))
		}
		return &struct {
			Body []HistoryEntryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-note",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/notes",
		Summary:       "Add project note",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64          `path:"id"`
		Body AddNoteRequest `json:"body"`
	}) (*struct {
		Body NoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNote(ctx, input.ID, input.Body.Body, input.Body.Priority, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NoteResponse `json:"body"`
		}{Body: noteResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-snapshots",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/snapshots",
		Summary:     "List crew snapshots",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []SnapshotResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(p.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ListSnapshots(ctx, input.ID)
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
		OperationID: "get-project-invoice",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/invoice",
		Summary:     "Get project invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.ProjectInvoice(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-project-invoice",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/invoice",
		Summary:       "Issue invoice for project",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusBadGateway}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body CreateInvoiceRequest `json:"body"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.CreateInvoice(ctx, engine.InvoiceCreateOptions{
			ProjectID: input.ID,
			Amount:    input.Body.Amount,
			DueDate:   input.Body.DueDate,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv)}, nil
	})
}

func registerCrews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-crew",
		Method:        http.MethodPost,
		Path:          "/crews",
		Summary:       "Create crew",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCrewRequest `json:"body"`
	}) (*struct {
		Body CrewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCrew(ctx, input.Body.FirmID, input.Body.Name, input.Body.Number, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CrewResponse `json:"body"`
		}{Body: crewResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-crews",
		Method:      http.MethodGet,
		Path:        "/crews",
		Summary:     "List crews",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		FirmID          int64 `query:"firm_id"`
		IncludeArchived bool  `query:"include_archived"`
	}) (*struct {
		Body []CrewResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.FirmID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "firm_id is required", nil)
		}
		if !actor.HasFirm(input.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ListCrews(ctx, input.FirmID, input.IncludeArchived)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CrewResponse, 0, len(items))
		for _, c := range items {
			res = append(res, crewResponse(c))
		}
		return &struct {
			Body []CrewResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-crew-members",
		Method:      http.MethodGet,
		Path:        "/crews/{id}/members",
		Summary:     "List crew members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []CrewMemberResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCrew(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(c.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ListCrewMembers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]CrewMemberResponse, 0, len(items))
		for _, m := range items {
			res = append(res, memberResponse(m))
		}
		return &struct {
			Body []CrewMemberResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-crew-member",
		Method:        http.MethodPost,
		Path:          "/crews/{id}/members",
		Summary:       "Add crew member",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body AddCrewMemberRequest `json:"body"`
	}) (*struct {
		Body CrewMemberResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddCrewMember(ctx, domain.CrewMember{
			CrewID:  input.ID,
			Name:    input.Body.Name,
			Email:   input.Body.Email,
			Phone:   input.Body.Phone,
			Role:    input.Body.Role,
			ActorID: input.Body.ActorID,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CrewMemberResponse `json:"body"`
		}{Body: memberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-crew",
		Method:      http.MethodPost,
		Path:        "/crews/{id}/archive",
		Summary:     "Archive crew",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body CrewResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.ArchiveCrew(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CrewResponse `json:"body"`
		}{Body: crewResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "crew-reclamations",
		Method:      http.MethodGet,
		Path:        "/crews/{id}/reclamations",
		Summary:     "Assigned and available reclamations for a crew",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body struct {
			Assigned  []ReclamationResponse `json:"assigned"`
			Available []ReclamationResponse `json:"available"`
		} `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		assigned, available, err := e.CrewReclamations(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Assigned  []ReclamationResponse `json:"assigned"`
				Available []ReclamationResponse `json:"available"`
			} `json:"body"`
		}{}
		out.Body.Assigned = mapReclamations(assigned)
		out.Body.Available = mapReclamations(available)
		return out, nil
	})
}

func registerReclamations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reclamation",
		Method:        http.MethodPost,
		Path:          "/reclamations",
		Summary:       "Create reclamation",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReclamationRequest `json:"body"`
	}) (*struct {
		Body ReclamationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.CreateReclamation(ctx, engine.ReclamationCreateOptions{
			ProjectID:   input.Body.ProjectID,
			CrewID:      input.Body.CrewID,
			Description: input.Body.Description,
			Deadline:    input.Body.Deadline,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReclamationResponse `json:"body"`
		}{Body: reclamationResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reclamation",
		Method:      http.MethodGet,
		Path:        "/reclamations/{id}",
		Summary:     "Get reclamation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ReclamationResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.Repo.GetReclamation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(rec.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		return &struct {
			Body ReclamationResponse `json:"body"`
		}{Body: reclamationResponse(rec)}, nil
	})

	type reclamationAction func(context.Context, int64, domain.Actor) (domain.Reclamation, error)
	register := func(id, pathSuffix, summary string, fn reclamationAction) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        "/reclamations/{id}/" + pathSuffix,
			Summary:     summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			ID int64 `path:"id"`
		}) (*struct {
			Body ReclamationResponse `json:"body"`
		}, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			rec, err := fn(ctx, input.ID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ReclamationResponse `json:"body"`
			}{Body: reclamationResponse(rec)}, nil
		})
	}
	register("accept-reclamation", "accept", "Accept reclamation", e.AcceptReclamation)
	register("start-reclamation", "start", "Start reclamation work", e.StartReclamation)
	register("take-reclamation", "take", "Take a rejected reclamation", e.TakeReclamation)

	huma.Register(api, huma.Operation{
		OperationID: "reject-reclamation",
		Method:      http.MethodPost,
		Path:        "/reclamations/{id}/reject",
		Summary:     "Reject reclamation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                    `path:"id"`
		Body RejectReclamationRequest `json:"body"`
	}) (*struct {
		Body ReclamationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.RejectReclamation(ctx, input.ID, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReclamationResponse `json:"body"`
		}{Body: reclamationResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-reclamation",
		Method:      http.MethodPost,
		Path:        "/reclamations/{id}/complete",
		Summary:     "Complete reclamation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                      `path:"id"`
		Body CompleteReclamationRequest `json:"body"`
	}) (*struct {
		Body ReclamationResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.CompleteReclamation(ctx, input.ID, input.Body.Notes, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReclamationResponse `json:"body"`
		}{Body: reclamationResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reclamation-history",
		Method:      http.MethodGet,
		Path:        "/reclamations/{id}/history",
		Summary:     "Reclamation history",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []ReclamationHistoryResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.Repo.GetReclamation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(rec.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		items, err := e.Repo.ReclamationHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ReclamationHistoryResponse, 0, len(items))
		for _, h := range items {
			res = append(res, reclamationHistoryResponse(h))
		}
		return &struct {
			Body []ReclamationHistoryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerInvoices(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-invoice",
		Method:      http.MethodGet,
		Path:        "/invoices/{id}",
		Summary:     "Get invoice",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.Repo.GetInvoice(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, inv.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if !actor.HasFirm(p.FirmID) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "no access to firm", nil)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-invoice-paid",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/paid",
		Summary:     "Mark invoice paid",
		Errors:      append([]int{http.StatusBadGateway}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body InvoiceResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inv, err := e.MarkInvoicePaid(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvoiceResponse `json:"body"`
		}{Body: invoiceResponse(inv)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-invoice",
		Method:      http.MethodPost,
		Path:        "/invoices/{id}/reconcile",
		Summary:     "Reconcile invoice with the payment provider",
		Errors:      append([]int{http.StatusBadGateway}, mutationErrors...),
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body ReconcileResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := e.ReconcileInvoice(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReconcileResponse `json:"body"`
		}{Body: ReconcileResponse{Updated: updated}}, nil
	})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Sunline API Docs</title>
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
