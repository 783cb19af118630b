// Package handler exposes the audit log over HTTP. It is transport glue
// only: parsing, capability extraction, and response mapping. All semantics
// live in the service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chainlog/internal/audit/models"
	"chainlog/internal/transport/http/shared"
	"chainlog/pkg/capability"
	dErrors "chainlog/pkg/domain-errors"
	"chainlog/pkg/platform/middleware/auth"
	"chainlog/pkg/platform/middleware/metadata"
	"chainlog/pkg/requestcontext"
)

// Service defines the audit operations the handler delegates to.
type Service interface {
	Log(ctx context.Context, cap capability.Capability, event models.Event) (*models.Record, error)
	VerifyIntegrity(ctx context.Context, cap capability.Capability, opts models.VerifyOptions) (*models.IntegrityReport, error)
	GenerateExport(ctx context.Context, cap capability.Capability, filter models.Filter) (string, error)
	GetRecords(ctx context.Context, cap capability.Capability, filter models.Filter) ([]*models.Record, error)
}

// Handler handles audit log endpoints.
type Handler struct {
	service   Service
	logger    *slog.Logger
	validator *auth.Validator
}

// New creates an audit Handler.
func New(service Service, logger *slog.Logger, validator *auth.Validator) *Handler {
	return &Handler{
		service:   service,
		logger:    logger,
		validator: validator,
	}
}

// Register mounts the audit routes with their middleware chain.
func (h *Handler) Register(r chi.Router) {
	auditRouter := chi.NewRouter()
	auditRouter.Use(metadata.RequestID)
	auditRouter.Use(metadata.ClientMetadata)
	auditRouter.Use(metadata.RequestTime)
	auditRouter.Use(auth.RequireCapability(h.validator, h.logger))

	auditRouter.Post("/events", h.handleLog)
	auditRouter.Get("/events", h.handleGetRecords)
	auditRouter.Get("/verify", h.handleVerify)
	auditRouter.Get("/export", h.handleExport)

	r.Mount("/v1/audit", auditRouter)
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid log request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	record, err := h.service.Log(ctx, auth.GetCapability(ctx), req.toEvent())
	if err != nil {
		h.writeServiceError(ctx, w, "append audit record", err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := filterFromQuery(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	records, err := h.service.GetRecords(ctx, auth.GetCapability(ctx), filter)
	if err != nil {
		h.writeServiceError(ctx, w, "list audit records", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, err := verifyOptionsFromQuery(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	// A broken chain is a 200 with valid=false: the finding must reach the
	// caller verbatim, not be masked as a server fault.
	report, err := h.service.VerifyIntegrity(ctx, auth.GetCapability(ctx), opts)
	if err != nil {
		h.writeServiceError(ctx, w, "verify audit chain", err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := filterFromQuery(r)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	out, err := h.service.GenerateExport(ctx, auth.GetCapability(ctx), filter)
	if err != nil {
		h.writeServiceError(ctx, w, "generate audit export", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	switch {
	case dErrors.Is(err, dErrors.CodeValidation),
		dErrors.Is(err, dErrors.CodeBadRequest),
		dErrors.Is(err, dErrors.CodeNotFound),
		dErrors.Is(err, dErrors.CodeUnauthorized):
		h.logger.WarnContext(ctx, "rejected "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
	}
}
