package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/services"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// QueryService is the part of services.QueryService the HTTP API uses.
type QueryService interface {
	RunQuery(ctx context.Context, req services.QueryRequest) (*models.ResultEnvelope, error)
	Plan(ctx context.Context, req services.QueryRequest) (*models.ResultEnvelope, error)
	ValidateSQL(ctx context.Context, sqlQuery string) (*services.SQLValidation, error)
	ListTables(category models.Category) (int64, []services.TableSummary, error)
	RefreshCatalog(ctx context.Context) (int64, error)
}

// RunQueryRequest is the body of POST /api/query and /api/query/plan.
type RunQueryRequest struct {
	Question string `json:"question"`
	Hint     string `json:"hint,omitempty"`
}

// ValidateSQLRequest is the body of POST /api/sql/validate.
type ValidateSQLRequest struct {
	SQL string `json:"sql"`
}

// QueryHandler serves the natural-language query API.
type QueryHandler struct {
	svc    QueryService
	logger *zap.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(svc QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{svc: svc, logger: logger.Named("query-handler")}
}

// RegisterRoutes registers the query API on mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.Run)
	mux.HandleFunc("POST /api/query/plan", h.Plan)
	mux.HandleFunc("POST /api/sql/validate", h.ValidateSQL)
	mux.HandleFunc("GET /api/tables", h.ListTables)
	mux.HandleFunc("POST /api/catalog/refresh", h.RefreshCatalog)
}

// Run handles POST /api/query. The body is always a result envelope; the
// HTTP status reflects the envelope's error code.
func (h *QueryHandler) Run(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.svc.RunQuery)
}

// Plan handles POST /api/query/plan.
func (h *QueryHandler) Plan(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.svc.Plan)
}

func (h *QueryHandler) answer(w http.ResponseWriter, r *http.Request, run func(context.Context, services.QueryRequest) (*models.ResultEnvelope, error)) {
	var body RunQueryRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		h.writeError(w, &apperrors.InvalidArgumentError{Param: "question", Reason: "cannot be empty"})
		return
	}

	req := services.QueryRequest{Text: body.Question}
	if body.Hint != "" {
		hint, ok := models.ParseCategory(body.Hint)
		if !ok {
			h.writeError(w, &apperrors.InvalidArgumentError{Param: "hint", Reason: "unknown category " + strconv.Quote(body.Hint)})
			return
		}
		req.Hint = hint
	}

	env, err := run(r.Context(), req)
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		setRetryAfter(w, err)
	}
	if env == nil && err != nil {
		h.writeError(w, err)
		return
	}
	if err := WriteJSON(w, status, env); err != nil {
		h.logger.Error("Failed to encode query response", zap.Error(err))
	}
}

// ValidateSQL handles POST /api/sql/validate.
func (h *QueryHandler) ValidateSQL(w http.ResponseWriter, r *http.Request) {
	var body ValidateSQLRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.SQL) == "" {
		h.writeError(w, &apperrors.InvalidArgumentError{Param: "sql", Reason: "cannot be empty"})
		return
	}

	result, err := h.svc.ValidateSQL(r.Context(), body.SQL)
	status := http.StatusOK
	if err != nil {
		if !errors.Is(err, apperrors.ErrUnsafeQuery) {
			h.writeError(w, err)
			return
		}
		status = http.StatusUnprocessableEntity
	}
	if err := WriteJSON(w, status, result); err != nil {
		h.logger.Error("Failed to encode validation response", zap.Error(err))
	}
}

// ListTables handles GET /api/tables?category=orders.
func (h *QueryHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	var category models.Category
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := models.ParseCategory(raw)
		if !ok {
			h.writeError(w, &apperrors.InvalidArgumentError{Param: "category", Reason: "unknown category " + strconv.Quote(raw)})
			return
		}
		category = c
	}

	version, tables, err := h.svc.ListTables(category)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, services.TableList{SnapshotVersion: version, Tables: tables}); err != nil {
		h.logger.Error("Failed to encode table list", zap.Error(err))
	}
}

// RefreshCatalog handles POST /api/catalog/refresh.
func (h *QueryHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.RefreshCatalog(r.Context())
	if err != nil {
		h.logger.Warn("Catalog refresh failed", zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadGateway, "refresh_failed", "Catalog refresh failed; the previous snapshot stays active"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := WriteJSON(w, http.StatusOK, services.CatalogRefresh{SnapshotVersion: version}); err != nil {
		h.logger.Error("Failed to encode refresh response", zap.Error(err))
	}
}

func (h *QueryHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", msg); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return false
	}
	return true
}

func (h *QueryHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	message := err.Error()
	if code == "internal_error" {
		h.logger.Error("Query request failed", zap.Error(err))
		message = "Internal server error"
	}
	setRetryAfter(w, err)
	if err := ErrorResponse(w, statusFor(err), code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnsafeQuery), errors.Is(err, apperrors.ErrPlanningFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrSchemaNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAdmissionTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrExecutionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperrors.ErrExecution):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func setRetryAfter(w http.ResponseWriter, err error) {
	var admission *apperrors.AdmissionTimeout
	if errors.As(err, &admission) {
		w.Header().Set("Retry-After", strconv.Itoa(int(max(admission.Waited, time.Second)/time.Second)))
	}
}
