// Package handler exposes assignment and handover over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"limscore/internal/assignment/service"
	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/middleware"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
)

type Service interface {
	AssignAnalysis(ctx context.Context, actor domain.Actor, analysisID domain.AnalysisID, input service.AssignInput) (*labmodels.Analysis, error)
	HandoverSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, input service.HandoverInput) (*labmodels.Handover, error)
	Handovers(ctx context.Context, sampleID domain.SampleID) ([]labmodels.Handover, error)
}

type Handler struct {
	logger     *slog.Logger
	assignment Service
}

func New(assignment Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, assignment: assignment}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/analyses/{id}/assign", h.handleAssign)
	r.Post("/samples/{id}/handover", h.handleHandover)
	r.Get("/samples/{id}/handovers", h.handleListHandovers)
}

type assignRequest struct {
	TechnicianID   string `json:"technician_id,omitempty"`
	TechnicianName string `json:"technician_name,omitempty"`
	Location       string `json:"location,omitempty"`
	Equipment      string `json:"equipment,omitempty"`
	Version        int    `json:"version"`
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	analysisID, err := domain.ParseAnalysisID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	input := service.AssignInput{
		Location:  req.Location,
		Equipment: req.Equipment,
		Version:   req.Version,
	}
	if req.TechnicianID != "" {
		techID, err := domain.ParseActorID(req.TechnicianID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		input.Technician = domain.Actor{ID: techID, Name: req.TechnicianName, Role: domain.RoleTechnician}
	}

	analysis, err := h.assignment.AssignAnalysis(ctx, middleware.GetActor(ctx), analysisID, input)
	if err != nil {
		h.logger.WarnContext(ctx, "assign analysis failed",
			"request_id", middleware.GetRequestID(ctx),
			"analysis_id", analysisID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":              analysis.ID.String(),
		"status":          string(analysis.Status),
		"technician_name": analysis.TechnicianName,
		"location":        analysis.Location,
		"equipment":       analysis.Equipment,
		"version":         analysis.Version,
	})
}

type handoverRequest struct {
	ToActorID   string   `json:"to_actor_id"`
	ToActorName string   `json:"to_actor_name"`
	AnalysisIDs []string `json:"analysis_ids,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

func (h *Handler) handleHandover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sampleID, err := domain.ParseSampleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req handoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	toActorID, err := domain.ParseActorID(req.ToActorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	input := service.HandoverInput{
		ToActorID:   toActorID,
		ToActorName: req.ToActorName,
		Notes:       req.Notes,
	}
	for _, raw := range req.AnalysisIDs {
		id, err := domain.ParseAnalysisID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		input.AnalysisIDs = append(input.AnalysisIDs, id)
	}

	record, err := h.assignment.HandoverSample(ctx, middleware.GetActor(ctx), sampleID, input)
	if err != nil {
		h.logger.WarnContext(ctx, "handover failed",
			"request_id", middleware.GetRequestID(ctx),
			"sample_id", sampleID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, handoverResponse(*record))
}

func (h *Handler) handleListHandovers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sampleID, err := domain.ParseSampleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.assignment.Handovers(ctx, sampleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		out = append(out, handoverResponse(record))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"handovers": out})
}

func handoverResponse(record labmodels.Handover) map[string]any {
	ids := make([]string, 0, len(record.AnalysisIDs))
	for _, id := range record.AnalysisIDs {
		ids = append(ids, id.String())
	}
	return map[string]any{
		"id":           record.ID.String(),
		"sample_id":    record.SampleID.String(),
		"from_actor":   record.FromActor,
		"to_actor_id":  record.ToActorID.String(),
		"to_actor":     record.ToActor,
		"analysis_ids": ids,
		"notes":        record.Notes,
		"created_at":   record.CreatedAt,
	}
}
