// Package handler exposes client and order management over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"limscore/internal/platform/middleware"
	"limscore/internal/workorder/models"
	"limscore/internal/workorder/store"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/httputil"
)

type Service interface {
	CreateClient(ctx context.Context, actor domain.Actor, client *models.Client) (*models.Client, error)
	GetClient(ctx context.Context, id domain.ClientID) (*models.Client, error)
	RetireClient(ctx context.Context, actor domain.Actor, id domain.ClientID, version int) (*models.Client, error)
	CreateOrder(ctx context.Context, actor domain.Actor, order *models.Order) (*models.Order, error)
	GetOrder(ctx context.Context, id domain.OrderID) (*models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter) ([]*models.Order, error)
	ConfirmOrder(ctx context.Context, actor domain.Actor, id domain.OrderID, version int) (*models.Order, error)
	CancelOrder(ctx context.Context, actor domain.Actor, id domain.OrderID, version int) (*models.Order, error)
}

type Handler struct {
	logger    *slog.Logger
	workorder Service
}

func New(workorder Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, workorder: workorder}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/clients", h.handleCreateClient)
	r.Get("/clients/{id}", h.handleGetClient)
	r.Post("/clients/{id}/retire", h.handleRetireClient)
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{id}", h.handleGetOrder)
	r.Post("/orders/{id}/confirm", h.handleConfirmOrder)
	r.Post("/orders/{id}/cancel", h.handleCancelOrder)
}

type clientRequest struct {
	Name     string                 `json:"name"`
	TaxID    string                 `json:"tax_id,omitempty"`
	Address  string                 `json:"address,omitempty"`
	Phone    string                 `json:"phone,omitempty"`
	Email    string                 `json:"email,omitempty"`
	Contacts []models.ContactPerson `json:"contacts,omitempty"`
}

func (h *Handler) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	client, err := h.workorder.CreateClient(ctx, middleware.GetActor(ctx), &models.Client{
		Name:     req.Name,
		TaxID:    req.TaxID,
		Address:  req.Address,
		Phone:    req.Phone,
		Email:    req.Email,
		Contacts: req.Contacts,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "create client failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, clientResponse(client))
}

func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	client, err := h.workorder.GetClient(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, clientResponse(client))
}

type versionRequest struct {
	Version int `json:"version"`
}

func (h *Handler) handleRetireClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	client, err := h.workorder.RetireClient(ctx, middleware.GetActor(ctx), id, req.Version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, clientResponse(client))
}

type orderAnalysisRequest struct {
	Parameter    string           `json:"parameter"`
	ProtocolCode string           `json:"protocol_code,omitempty"`
	MatrixCode   string           `json:"matrix_code,omitempty"`
	Unit         string           `json:"unit,omitempty"`
	ThresholdMin *decimal.Decimal `json:"threshold_min,omitempty"`
	ThresholdMax *decimal.Decimal `json:"threshold_max,omitempty"`
	Fee          decimal.Decimal  `json:"fee"`
}

type orderSampleRequest struct {
	Description string                 `json:"description"`
	SampleType  string                 `json:"sample_type"`
	Analyses    []orderAnalysisRequest `json:"analyses"`
}

type createOrderRequest struct {
	ClientID     string               `json:"client_id"`
	Salesperson  string               `json:"salesperson,omitempty"`
	TaxRate      decimal.Decimal      `json:"tax_rate"`
	DiscountRate decimal.Decimal      `json:"discount_rate"`
	CurrencyExp  int                  `json:"currency_exponent"`
	Samples      []orderSampleRequest `json:"samples"`
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	clientID, err := domain.ParseClientID(req.ClientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	order := &models.Order{
		ClientID:         clientID,
		Salesperson:      req.Salesperson,
		TaxRate:          req.TaxRate,
		DiscountRate:     req.DiscountRate,
		CurrencyExponent: req.CurrencyExp,
	}
	for _, sm := range req.Samples {
		sample := models.OrderSample{
			ID:          uuid.New(),
			Description: sm.Description,
			SampleType:  sm.SampleType,
		}
		for _, a := range sm.Analyses {
			sample.Analyses = append(sample.Analyses, models.OrderAnalysis{
				ID:           uuid.New(),
				Parameter:    a.Parameter,
				ProtocolCode: a.ProtocolCode,
				MatrixCode:   a.MatrixCode,
				Unit:         a.Unit,
				ThresholdMin: a.ThresholdMin,
				ThresholdMax: a.ThresholdMax,
				Fee:          a.Fee,
			})
		}
		order.Samples = append(order.Samples, sample)
	}

	created, err := h.workorder.CreateOrder(ctx, middleware.GetActor(ctx), order)
	if err != nil {
		h.logger.WarnContext(ctx, "create order failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, orderResponse(created))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var f store.OrderFilter
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		id, err := domain.ParseClientID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		f.ClientID = id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		f.Status = models.OrderStatus(raw)
	}
	orders, err := h.workorder.ListOrders(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse(o))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	order, err := h.workorder.GetOrder(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func (h *Handler) handleConfirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, h.workorder.ConfirmOrder)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionOrder(w, r, h.workorder.CancelOrder)
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, domain.OrderID, int) (*models.Order, error)) {
	ctx := r.Context()

	id, err := domain.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	order, err := fn(ctx, middleware.GetActor(ctx), id, req.Version)
	if err != nil {
		h.logger.WarnContext(ctx, "order transition failed",
			"request_id", middleware.GetRequestID(ctx),
			"order_id", id.String(),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func clientResponse(c *models.Client) map[string]any {
	return map[string]any{
		"id":       c.ID.String(),
		"name":     c.Name,
		"tax_id":   c.TaxID,
		"address":  c.Address,
		"phone":    c.Phone,
		"email":    c.Email,
		"contacts": c.Contacts,
		"retired":  c.Retired,
		"version":  c.Version,
	}
}

func orderResponse(o *models.Order) map[string]any {
	out := map[string]any{
		"id":            o.ID.String(),
		"client_id":     o.ClientID.String(),
		"salesperson":   o.Salesperson,
		"status":        string(o.Status),
		"tax_rate":      o.TaxRate,
		"discount_rate": o.DiscountRate,
		"total":         o.Totals.FeeAfterTax,
		"version":       o.Version,
	}
	if o.ReceiptID != nil {
		out["receipt_id"] = o.ReceiptID.String()
	}
	samples := make([]map[string]any, 0, len(o.Samples))
	for _, sm := range o.Samples {
		analyses := make([]map[string]any, 0, len(sm.Analyses))
		for _, a := range sm.Analyses {
			analyses = append(analyses, map[string]any{
				"parameter":     a.Parameter,
				"protocol_code": a.ProtocolCode,
				"unit":          a.Unit,
				"fee":           a.Fee,
			})
		}
		samples = append(samples, map[string]any{
			"description": sm.Description,
			"sample_type": sm.SampleType,
			"analyses":    analyses,
		})
	}
	out["samples"] = samples
	return out
}
