// Package handler exposes result submission and review over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/middleware"
	"limscore/internal/review/service"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
)

type Service interface {
	SubmitResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, input service.SubmitInput) (*labmodels.Analysis, error)
	ApproveResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, version int) (*labmodels.Analysis, error)
	RejectResult(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, reason string, version int) (*labmodels.Analysis, error)
}

type Handler struct {
	logger *slog.Logger
	review Service
}

func New(review Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, review: review}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/analyses/{id}/result", h.handleSubmit)
	r.Post("/analyses/{id}/approve", h.handleApprove)
	r.Post("/analyses/{id}/reject", h.handleReject)
}

type submitRequest struct {
	Value   decimal.Decimal `json:"value"`
	Notes   string          `json:"notes,omitempty"`
	Version int             `json:"version"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	analysisID, err := domain.ParseAnalysisID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	analysis, err := h.review.SubmitResult(ctx, middleware.GetActor(ctx), analysisID, service.SubmitInput{
		Value:   req.Value,
		Notes:   req.Notes,
		Version: req.Version,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "submit result failed",
			"request_id", middleware.GetRequestID(ctx),
			"analysis_id", analysisID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, analysisResponse(analysis))
}

type reviewRequest struct {
	Reason  string `json:"reason,omitempty"`
	Version int    `json:"version"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, actor domain.Actor, id domain.AnalysisID, req reviewRequest) (*labmodels.Analysis, error) {
		return h.review.ApproveResult(ctx, actor, id, req.Version)
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(ctx context.Context, actor domain.Actor, id domain.AnalysisID, req reviewRequest) (*labmodels.Analysis, error) {
		return h.review.RejectResult(ctx, actor, id, req.Reason, req.Version)
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, domain.AnalysisID, reviewRequest) (*labmodels.Analysis, error)) {
	ctx := r.Context()

	analysisID, err := domain.ParseAnalysisID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	analysis, err := fn(ctx, middleware.GetActor(ctx), analysisID, req)
	if err != nil {
		h.logger.WarnContext(ctx, "review decision failed",
			"request_id", middleware.GetRequestID(ctx),
			"analysis_id", analysisID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, analysisResponse(analysis))
}

func analysisResponse(a *labmodels.Analysis) map[string]any {
	out := map[string]any{
		"id":         a.ID.String(),
		"sample_id":  a.SampleID.String(),
		"parameter":  a.Parameter,
		"unit":       a.Unit,
		"status":     string(a.Status),
		"assessment": string(a.Assessment),
		"version":    a.Version,
	}
	if a.ResultValue != nil {
		out["result_value"] = a.ResultValue
	}
	if a.ResultNotes != "" {
		out["result_notes"] = a.ResultNotes
	}
	return out
}
