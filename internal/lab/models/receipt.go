// Package models defines the lab-side entities: receipts, samples, analyses,
// and handover records. Status transitions live on the entities as methods,
// one per edge; anything else is an invalid transition. Services decide when
// to call them, stores enforce the optimistic version check.
package models

import (
	"time"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// ReceiptStatus is the intake record lifecycle.
type ReceiptStatus string

const (
	ReceiptStatusPending    ReceiptStatus = "pending"
	ReceiptStatusProcessing ReceiptStatus = "processing"
	ReceiptStatusDone       ReceiptStatus = "done"
	ReceiptStatusCancelled  ReceiptStatus = "cancelled"
)

// Priority orders receipts on the reception dashboard.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityUrgent Priority = "urgent"
)

// ClientSnapshot is the client/contact data denormalized onto a receipt at
// intake time. Later client profile edits do not touch past receipts.
type ClientSnapshot struct {
	ClientID     *domain.ClientID `json:"client_id,omitempty"`
	Name         string           `json:"name"`
	TaxID        string           `json:"tax_id,omitempty"`
	Address      string           `json:"address,omitempty"`
	Phone        string           `json:"phone,omitempty"`
	Email        string           `json:"email,omitempty"`
	ContactName  string           `json:"contact_name,omitempty"`
	ContactPhone string           `json:"contact_phone,omitempty"`
}

// Receipt is the physical intake event for one order, or a manually created
// one with no order behind it.
type Receipt struct {
	ID             domain.ReceiptID
	Code           domain.ReceiptCode
	OrderID        *domain.OrderID
	Client         ClientSnapshot
	ReceivedAt     time.Time
	Deadline       time.Time
	Priority       Priority
	DeliveryMethod string
	ReceivedBy     string
	Notes          string
	Status         ReceiptStatus

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StartProcessing marks the receipt as in progress; called when its first
// analysis is assigned.
func (r *Receipt) StartProcessing() error {
	if r.Status != ReceiptStatusPending {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"receipt can only start processing from pending, current status: "+string(r.Status))
	}
	r.Status = ReceiptStatusProcessing
	return nil
}

// MarkDone closes the receipt. The caller must have verified that every
// sample under it is in a terminal status; this method only checks the
// receipt's own edge.
func (r *Receipt) MarkDone() error {
	if r.Status != ReceiptStatusProcessing {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"receipt can only be closed from processing, current status: "+string(r.Status))
	}
	r.Status = ReceiptStatusDone
	return nil
}

// Cancel voids a receipt that has not been completed.
func (r *Receipt) Cancel() error {
	if r.Status != ReceiptStatusPending && r.Status != ReceiptStatusProcessing {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"receipt can only be cancelled from pending or processing, current status: "+string(r.Status))
	}
	r.Status = ReceiptStatusCancelled
	return nil
}

// DaysLeft is deadline minus now in whole days; negative means overdue.
func (r *Receipt) DaysLeft(now time.Time) int {
	return int(r.Deadline.Sub(now).Hours() / 24)
}
