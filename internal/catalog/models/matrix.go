// Package models defines the analysis catalog: which parameters can be
// measured on which sample types, under which protocol, and at what price.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	dErrors "limscore/pkg/domain-errors"
)

// Matrix is one catalog template: a parameter measured on a sample type.
// Orders snapshot these fields at creation; editing a matrix never rewrites
// history.
type Matrix struct {
	ID             string
	Parameter      string
	SampleType     string
	ProtocolCode   string
	Unit           string
	DetectionLimit *decimal.Decimal
	ThresholdMin   *decimal.Decimal
	ThresholdMax   *decimal.Decimal
	Price          decimal.Decimal
	Active         bool

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Matrix) Validate() error {
	if strings.TrimSpace(m.Parameter) == "" {
		return dErrors.New(dErrors.CodeValidation, "matrix parameter is required")
	}
	if strings.TrimSpace(m.SampleType) == "" {
		return dErrors.New(dErrors.CodeValidation, "matrix sample type is required")
	}
	if strings.TrimSpace(m.ProtocolCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "matrix protocol code is required")
	}
	if m.Price.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "matrix price must not be negative")
	}
	if m.ThresholdMin != nil && m.ThresholdMax != nil && m.ThresholdMin.GreaterThan(*m.ThresholdMax) {
		return dErrors.New(dErrors.CodeValidation, "matrix threshold min exceeds max")
	}
	return nil
}
