package models

import "github.com/shopspring/decimal"

// Assessment is the automatic classification of a submitted result against
// the analysis's threshold bounds. It is advisory for the reviewer, never
// authoritative.
type Assessment string

const (
	AssessmentPass    Assessment = "pass"
	AssessmentWarning Assessment = "warning"
	AssessmentFail    Assessment = "fail"
)

// Assess classifies value against [min, max]; either bound may be nil
// (open-ended). A value outside the bounds fails. A value inside the bounds
// but within tolerance×bound of a bound is a warning: with max = 0.05 and a
// 10% tolerance, results in [0.045, 0.05] warn. Everything else passes.
func Assess(value decimal.Decimal, min, max *decimal.Decimal, tolerance decimal.Decimal) Assessment {
	if min != nil && value.LessThan(*min) {
		return AssessmentFail
	}
	if max != nil && value.GreaterThan(*max) {
		return AssessmentFail
	}

	one := decimal.NewFromInt(1)
	if max != nil {
		edge := max.Mul(one.Sub(tolerance))
		if value.GreaterThanOrEqual(edge) {
			return AssessmentWarning
		}
	}
	if min != nil {
		edge := min.Mul(one.Add(tolerance))
		if value.LessThanOrEqual(edge) {
			return AssessmentWarning
		}
	}
	return AssessmentPass
}
