package models

import (
	"time"

	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
)

// ContactPerson is one authorized contact on a client profile.
type ContactPerson struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Client is a billable customer, company or individual. Clients referenced by
// an order are never deleted, only soft-retired.
type Client struct {
	ID       domain.ClientID
	Name     string
	TaxID    string
	Address  string
	Phone    string
	Email    string
	Contacts []ContactPerson
	Retired  bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks required fields before the client is persisted.
func (c *Client) Validate() error {
	if c.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "client name is required")
	}
	return nil
}

// PrimaryContact returns the first contact person, if any. Intake snapshots
// it onto the receipt.
func (c *Client) PrimaryContact() (ContactPerson, bool) {
	if len(c.Contacts) == 0 {
		return ContactPerson{}, false
	}
	return c.Contacts[0], true
}
