// Package handler exposes catalog administration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"limscore/internal/catalog/models"
	"limscore/internal/platform/middleware"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
	"limscore/pkg/platform/sentinel"
)

// Store is the catalog persistence surface. The handler talks to it directly;
// the catalog has no orchestration worth a service layer.
type Store interface {
	CreateMatrix(ctx context.Context, m *models.Matrix) error
	ListMatrices(ctx context.Context, sampleType string) ([]*models.Matrix, error)
}

type Handler struct {
	logger *slog.Logger
	store  Store
}

func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, store: store}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/catalog/matrices", h.handleList)
	r.Post("/catalog/matrices", h.handleCreate)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	matrices, err := h.store.ListMatrices(r.Context(), r.URL.Query().Get("sample_type"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "catalog listing failed"))
		return
	}
	out := make([]map[string]any, 0, len(matrices))
	for _, m := range matrices {
		out = append(out, matrixResponse(m))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"matrices": out})
}

type matrixRequest struct {
	Parameter      string           `json:"parameter"`
	SampleType     string           `json:"sample_type"`
	ProtocolCode   string           `json:"protocol_code"`
	Unit           string           `json:"unit,omitempty"`
	DetectionLimit *decimal.Decimal `json:"detection_limit,omitempty"`
	ThresholdMin   *decimal.Decimal `json:"threshold_min,omitempty"`
	ThresholdMax   *decimal.Decimal `json:"threshold_max,omitempty"`
	Price          decimal.Decimal  `json:"price"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !middleware.GetActor(ctx).Can(domain.RoleAdmin) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "only admins may edit the catalog"))
		return
	}
	var req matrixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	now := time.Now()
	m := &models.Matrix{
		ID:             uuid.NewString(),
		Parameter:      req.Parameter,
		SampleType:     req.SampleType,
		ProtocolCode:   req.ProtocolCode,
		Unit:           req.Unit,
		DetectionLimit: req.DetectionLimit,
		ThresholdMin:   req.ThresholdMin,
		ThresholdMax:   req.ThresholdMax,
		Price:          req.Price,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.store.CreateMatrix(ctx, m); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "catalog entry already exists"))
			return
		}
		h.logger.ErrorContext(ctx, "create matrix failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "catalog write failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, matrixResponse(m))
}

func matrixResponse(m *models.Matrix) map[string]any {
	out := map[string]any{
		"id":            m.ID,
		"parameter":     m.Parameter,
		"sample_type":   m.SampleType,
		"protocol_code": m.ProtocolCode,
		"unit":          m.Unit,
		"price":         m.Price,
		"active":        m.Active,
		"version":       m.Version,
	}
	if m.DetectionLimit != nil {
		out["detection_limit"] = m.DetectionLimit
	}
	if m.ThresholdMin != nil {
		out["threshold_min"] = m.ThresholdMin
	}
	if m.ThresholdMax != nil {
		out["threshold_max"] = m.ThresholdMax
	}
	return out
}
