package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// OrderStatus is the commercial order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderAnalysis is one parameter + protocol + pricing line under an order
// sample. Its fields become the immutable snapshot on the expanded Analysis;
// the order's fee is authoritative over the catalog price at expansion time.
type OrderAnalysis struct {
	ID           uuid.UUID
	Parameter    string
	ProtocolCode string
	MatrixCode   string
	Unit         string
	ThresholdMin *decimal.Decimal
	ThresholdMax *decimal.Decimal
	Fee          decimal.Decimal
}

// OrderSample is one requested specimen plus the analyses ordered on it.
type OrderSample struct {
	ID          uuid.UUID
	Description string
	SampleType  string
	Analyses    []OrderAnalysis
}

// Order is a commercial request for lab work. An order produces at most one
// receipt; ReceiptID records that back-reference once intake happens.
type Order struct {
	ID          domain.OrderID
	ClientID    domain.ClientID
	Salesperson string
	Samples     []OrderSample

	TaxRate          decimal.Decimal
	DiscountRate     decimal.Decimal
	CurrencyExponent int
	Totals           Totals

	Status    OrderStatus
	ReceiptID *domain.ReceiptID

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks an order before persistence: at least one sample, at least
// one analysis per sample, non-negative fees, and reconciling totals.
func (o *Order) Validate() error {
	if o.ClientID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "order requires a client")
	}
	if len(o.Samples) == 0 {
		return dErrors.New(dErrors.CodeValidation, "order requires at least one sample")
	}
	for _, s := range o.Samples {
		if s.Description == "" {
			return dErrors.New(dErrors.CodeValidation, "order sample requires a description")
		}
		if len(s.Analyses) == 0 {
			return dErrors.New(dErrors.CodeValidation, "order sample requires at least one analysis")
		}
		for _, a := range s.Analyses {
			if a.Parameter == "" {
				return dErrors.New(dErrors.CodeValidation, "order analysis requires a parameter")
			}
			if a.Fee.IsNegative() {
				return dErrors.New(dErrors.CodeValidation, "order analysis fee cannot be negative")
			}
		}
	}
	return ReconcileTotals(o.Samples, o.TaxRate, o.DiscountRate, o.CurrencyExponent, o.Totals.FeeAfterTax)
}

// Confirm moves a pending order to confirmed.
func (o *Order) Confirm() error {
	if o.Status != OrderStatusPending {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"order can only be confirmed from pending, current status: "+string(o.Status))
	}
	o.Status = OrderStatusConfirmed
	return nil
}

// Cancel voids an order that has not been receipted.
func (o *Order) Cancel() error {
	if o.Status == OrderStatusCancelled {
		return dErrors.New(dErrors.CodeInvalidTransition, "order is already cancelled")
	}
	if o.ReceiptID != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "order with a receipt cannot be cancelled")
	}
	o.Status = OrderStatusCancelled
	return nil
}

// MarkReceipted records the single receipt created from this order. Intake
// calls this inside the receipt-creation transaction.
func (o *Order) MarkReceipted(receiptID domain.ReceiptID) error {
	if o.Status != OrderStatusConfirmed {
		return dErrors.New(dErrors.CodeOrderNotConfirmed,
			"order must be confirmed before intake, current status: "+string(o.Status))
	}
	if o.ReceiptID != nil {
		return dErrors.New(dErrors.CodeOrderAlreadyReceipted,
			"order already has receipt "+o.ReceiptID.String())
	}
	o.ReceiptID = &receiptID
	return nil
}
