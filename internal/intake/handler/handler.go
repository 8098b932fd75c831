// Package handler exposes intake over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"limscore/internal/intake/service"
	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/middleware"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
)

// Service is the intake surface the handler drives.
type Service interface {
	CreateReceiptFromOrder(ctx context.Context, actor domain.Actor, orderID domain.OrderID, meta service.ReceiptMeta) (*service.ExpandedReceipt, error)
	CreateManualReceipt(ctx context.Context, actor domain.Actor, input service.ManualReceiptInput) (*service.ExpandedReceipt, error)
	DuplicateSample(ctx context.Context, actor domain.Actor, receiptCode domain.ReceiptCode, sampleCode domain.SampleCode) (*labmodels.Sample, []*labmodels.Analysis, error)
}

type Handler struct {
	logger *slog.Logger
	intake Service
}

func New(intake Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, intake: intake}
}

// Register mounts the intake routes. The caller wires auth and the rest of
// the middleware chain.
func (h *Handler) Register(r chi.Router) {
	r.Post("/receipts/from-order", h.handleCreateFromOrder)
	r.Post("/receipts", h.handleCreateManual)
	r.Post("/receipts/{code}/samples/{sampleCode}/duplicate", h.handleDuplicateSample)
}

type receiptMetaRequest struct {
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	Deadline       time.Time  `json:"deadline"`
	Priority       string     `json:"priority,omitempty"`
	DeliveryMethod string     `json:"delivery_method,omitempty"`
	ReceivedBy     string     `json:"received_by,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

func (m receiptMetaRequest) toMeta() service.ReceiptMeta {
	meta := service.ReceiptMeta{
		Deadline:       m.Deadline,
		Priority:       labmodels.Priority(m.Priority),
		DeliveryMethod: m.DeliveryMethod,
		ReceivedBy:     m.ReceivedBy,
		Notes:          m.Notes,
	}
	if m.ReceivedAt != nil {
		meta.ReceivedAt = *m.ReceivedAt
	}
	return meta
}

type createFromOrderRequest struct {
	OrderID string `json:"order_id"`
	receiptMetaRequest
}

func (h *Handler) handleCreateFromOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createFromOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	orderID, err := domain.ParseOrderID(req.OrderID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	expanded, err := h.intake.CreateReceiptFromOrder(ctx, middleware.GetActor(ctx), orderID, req.toMeta())
	if err != nil {
		h.logger.WarnContext(ctx, "create receipt from order failed",
			"request_id", middleware.GetRequestID(ctx),
			"order_id", req.OrderID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, expandedResponse(expanded))
}

type manualSampleRequest struct {
	Description     string                  `json:"description"`
	SampleType      string                  `json:"sample_type"`
	Volume          string                  `json:"volume,omitempty"`
	Weight          string                  `json:"weight,omitempty"`
	PhysicalState   string                  `json:"physical_state,omitempty"`
	Preservation    string                  `json:"preservation,omitempty"`
	KeptAsReference bool                    `json:"kept_as_reference,omitempty"`
	Metadata        []labmodels.LabelValue  `json:"metadata,omitempty"`
	Analyses        []manualAnalysisRequest `json:"analyses"`
}

type manualAnalysisRequest struct {
	Parameter string           `json:"parameter"`
	Fee       *decimal.Decimal `json:"fee,omitempty"`
}

type createManualRequest struct {
	Client       labmodels.ClientSnapshot `json:"client"`
	Samples      []manualSampleRequest    `json:"samples"`
	TaxRate      decimal.Decimal          `json:"tax_rate"`
	DiscountRate decimal.Decimal          `json:"discount_rate"`
	CurrencyExp  int                      `json:"currency_exponent"`
	receiptMetaRequest
}

func (h *Handler) handleCreateManual(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	input := service.ManualReceiptInput{
		Client:           req.Client,
		TaxRate:          req.TaxRate,
		DiscountRate:     req.DiscountRate,
		CurrencyExponent: req.CurrencyExp,
		Meta:             req.toMeta(),
	}
	for _, sm := range req.Samples {
		spec := service.SampleSpec{
			Description:     sm.Description,
			SampleType:      sm.SampleType,
			Volume:          sm.Volume,
			Weight:          sm.Weight,
			PhysicalState:   sm.PhysicalState,
			Preservation:    sm.Preservation,
			KeptAsReference: sm.KeptAsReference,
			Metadata:        sm.Metadata,
		}
		for _, a := range sm.Analyses {
			spec.Analyses = append(spec.Analyses, service.AnalysisSpec{Parameter: a.Parameter, Fee: a.Fee})
		}
		input.Samples = append(input.Samples, spec)
	}

	expanded, err := h.intake.CreateManualReceipt(ctx, middleware.GetActor(ctx), input)
	if err != nil {
		h.logger.WarnContext(ctx, "create manual receipt failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, expandedResponse(expanded))
}

func (h *Handler) handleDuplicateSample(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code, err := domain.ParseReceiptCode(chi.URLParam(r, "code"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	sampleCode := domain.SampleCode(chi.URLParam(r, "sampleCode"))

	sample, analyses, err := h.intake.DuplicateSample(ctx, middleware.GetActor(ctx), code, sampleCode)
	if err != nil {
		h.logger.WarnContext(ctx, "duplicate sample failed",
			"request_id", middleware.GetRequestID(ctx),
			"receipt_code", code.String(),
			"sample_code", sampleCode.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"sample":   sampleResponse(sample),
		"analyses": analysesResponse(analyses),
	})
}

func expandedResponse(e *service.ExpandedReceipt) map[string]any {
	return map[string]any{
		"receipt":  receiptResponse(e.Receipt),
		"samples":  samplesResponse(e.Samples),
		"analyses": analysesResponse(e.Analyses),
	}
}

func receiptResponse(r *labmodels.Receipt) map[string]any {
	out := map[string]any{
		"id":          r.ID.String(),
		"code":        r.Code.String(),
		"client":      r.Client,
		"received_at": r.ReceivedAt,
		"deadline":    r.Deadline,
		"priority":    string(r.Priority),
		"status":      string(r.Status),
		"version":     r.Version,
	}
	if r.OrderID != nil {
		out["order_id"] = r.OrderID.String()
	}
	return out
}

func samplesResponse(samples []*labmodels.Sample) []map[string]any {
	out := make([]map[string]any, 0, len(samples))
	for _, sm := range samples {
		out = append(out, sampleResponse(sm))
	}
	return out
}

func sampleResponse(sm *labmodels.Sample) map[string]any {
	return map[string]any{
		"id":          sm.ID.String(),
		"code":        sm.Code.String(),
		"receipt_id":  sm.ReceiptID.String(),
		"sample_type": sm.SampleType,
		"description": sm.Description,
		"status":      string(sm.Status),
		"version":     sm.Version,
	}
}

func analysesResponse(analyses []*labmodels.Analysis) []map[string]any {
	out := make([]map[string]any, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, map[string]any{
			"id":            a.ID.String(),
			"sample_id":     a.SampleID.String(),
			"parameter":     a.Parameter,
			"protocol_code": a.ProtocolCode,
			"unit":          a.Unit,
			"fee":           a.Fee,
			"fee_after_tax": a.FeeAfterTax,
			"status":        string(a.Status),
			"version":       a.Version,
		})
	}
	return out
}
