package models

import (
	"github.com/shopspring/decimal"

	dErrors "limscore/pkg/domain-errors"
)

// RoundMinor rounds an amount to the currency's minor unit using
// round-half-up. decimal's Round is half-away-from-zero, which is half-up
// for the non-negative amounts money fields carry.
func RoundMinor(amount decimal.Decimal, exponent int) decimal.Decimal {
	return amount.Round(int32(exponent))
}

// FeeAfterTax applies the order-level tax and discount percentages to a
// before-tax fee and rounds to the minor unit:
//
//	afterTax = fee × (1 + taxRate/100) × (1 − discountRate/100)
func FeeAfterTax(fee, taxRate, discountRate decimal.Decimal, exponent int) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	taxed := fee.Mul(decimal.NewFromInt(1).Add(taxRate.Div(hundred)))
	discounted := taxed.Mul(decimal.NewFromInt(1).Sub(discountRate.Div(hundred)))
	return RoundMinor(discounted, exponent)
}

// Totals is the computed money roll-up for an order. Totals are derived, not
// authoritative: they must always reconcile with the analysis line fees.
type Totals struct {
	FeeBeforeTax decimal.Decimal
	TaxAmount    decimal.Decimal
	Discount     decimal.Decimal
	FeeAfterTax  decimal.Decimal
}

// ComputeTotals derives order totals from the analysis line fees.
func ComputeTotals(samples []OrderSample, taxRate, discountRate decimal.Decimal, exponent int) Totals {
	hundred := decimal.NewFromInt(100)
	before := decimal.Zero
	for _, s := range samples {
		for _, a := range s.Analyses {
			before = before.Add(a.Fee)
		}
	}
	tax := before.Mul(taxRate.Div(hundred))
	discount := before.Add(tax).Mul(discountRate.Div(hundred))
	after := RoundMinor(before.Add(tax).Sub(discount), exponent)
	return Totals{
		FeeBeforeTax: RoundMinor(before, exponent),
		TaxAmount:    RoundMinor(tax, exponent),
		Discount:     RoundMinor(discount, exponent),
		FeeAfterTax:  after,
	}
}

// ReconcileTotals checks that the sum of per-analysis after-tax fees matches
// the order total within one minor currency unit. Rounding each line
// independently can drift by at most one unit from rounding the sum.
func ReconcileTotals(samples []OrderSample, taxRate, discountRate decimal.Decimal, exponent int, total decimal.Decimal) error {
	sum := decimal.Zero
	for _, s := range samples {
		for _, a := range s.Analyses {
			sum = sum.Add(FeeAfterTax(a.Fee, taxRate, discountRate, exponent))
		}
	}
	minorUnit := decimal.New(1, -int32(exponent))
	if sum.Sub(total).Abs().GreaterThan(minorUnit) {
		return dErrors.New(dErrors.CodeValidation,
			"order totals do not reconcile with analysis fees")
	}
	return nil
}
