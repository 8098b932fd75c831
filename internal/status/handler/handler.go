// Package handler exposes progress aggregates and roll-up actions over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/middleware"
	"limscore/internal/status/service"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
)

type Service interface {
	ReceiptStatus(ctx context.Context, receiptID domain.ReceiptID) (*service.ReceiptProgress, error)
	SampleStatus(ctx context.Context, sampleID domain.SampleID) (*service.SampleProgress, error)
	CloseReceipt(ctx context.Context, actor domain.Actor, receiptID domain.ReceiptID, version int) (*labmodels.Receipt, error)
	StoreSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, location string, version int) (*labmodels.Sample, error)
	DisposeSample(ctx context.Context, actor domain.Actor, sampleID domain.SampleID, version int) (*labmodels.Sample, error)
}

type Handler struct {
	logger *slog.Logger
	status Service
}

func New(status Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, status: status}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/receipts/{id}/status", h.handleReceiptStatus)
	r.Get("/samples/{id}/status", h.handleSampleStatus)
	r.Post("/receipts/{id}/close", h.handleCloseReceipt)
	r.Post("/samples/{id}/store", h.handleStoreSample)
	r.Post("/samples/{id}/dispose", h.handleDisposeSample)
}

func (h *Handler) handleReceiptStatus(w http.ResponseWriter, r *http.Request) {
	receiptID, err := domain.ParseReceiptID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	progress, err := h.status.ReceiptStatus(r.Context(), receiptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	byStatus := make(map[string]int, len(progress.SamplesByStatus))
	for status, n := range progress.SamplesByStatus {
		byStatus[string(status)] = n
	}
	samples := make([]map[string]any, 0, len(progress.Samples))
	for _, sp := range progress.Samples {
		samples = append(samples, sampleProgressResponse(sp))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"receipt_id":        progress.ReceiptID.String(),
		"code":              progress.Code.String(),
		"status":            string(progress.Status),
		"priority":          string(progress.Priority),
		"days_left":         progress.DaysLeft,
		"total_samples":     progress.TotalSamples,
		"samples_by_status": byStatus,
		"samples":           samples,
	})
}

func (h *Handler) handleSampleStatus(w http.ResponseWriter, r *http.Request) {
	sampleID, err := domain.ParseSampleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	progress, err := h.status.SampleStatus(r.Context(), sampleID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sampleProgressResponse(*progress))
}

type rollupRequest struct {
	Location string `json:"location,omitempty"`
	Version  int    `json:"version"`
}

func (h *Handler) handleCloseReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	receiptID, err := domain.ParseReceiptID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req rollupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	receipt, err := h.status.CloseReceipt(ctx, middleware.GetActor(ctx), receiptID, req.Version)
	if err != nil {
		h.logger.WarnContext(ctx, "close receipt failed",
			"request_id", middleware.GetRequestID(ctx),
			"receipt_id", receiptID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":      receipt.ID.String(),
		"code":    receipt.Code.String(),
		"status":  string(receipt.Status),
		"version": receipt.Version,
	})
}

func (h *Handler) handleStoreSample(w http.ResponseWriter, r *http.Request) {
	h.finishSample(w, r, func(ctx context.Context, actor domain.Actor, id domain.SampleID, req rollupRequest) (*labmodels.Sample, error) {
		return h.status.StoreSample(ctx, actor, id, req.Location, req.Version)
	})
}

func (h *Handler) handleDisposeSample(w http.ResponseWriter, r *http.Request) {
	h.finishSample(w, r, func(ctx context.Context, actor domain.Actor, id domain.SampleID, req rollupRequest) (*labmodels.Sample, error) {
		return h.status.DisposeSample(ctx, actor, id, req.Version)
	})
}

func (h *Handler) finishSample(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, domain.SampleID, rollupRequest) (*labmodels.Sample, error)) {
	ctx := r.Context()

	sampleID, err := domain.ParseSampleID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req rollupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	sample, err := fn(ctx, middleware.GetActor(ctx), sampleID, req)
	if err != nil {
		h.logger.WarnContext(ctx, "finish sample failed",
			"request_id", middleware.GetRequestID(ctx),
			"sample_id", sampleID.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":               sample.ID.String(),
		"code":             sample.Code.String(),
		"status":           string(sample.Status),
		"storage_location": sample.StorageLocation,
		"version":          sample.Version,
	})
}

func sampleProgressResponse(sp service.SampleProgress) map[string]any {
	return map[string]any{
		"sample_id":      sp.SampleID.String(),
		"code":           sp.Code.String(),
		"status":         string(sp.Status),
		"total_analyses": sp.TotalAnalyses,
		"with_result":    sp.WithResult,
		"approved":       sp.Approved,
		"delivered":      sp.Delivered,
		"complete":       sp.Complete,
	}
}
