package loan

import (
	"github.com/shopspring/decimal"

	"github.com/mims-dev/mims/internal/errs"
	"github.com/mims-dev/mims/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
	one     = decimal.NewFromInt(1)
)

// Amortize computes the level monthly payment for principal at
// annualRatePercent over termMonths, and the totals it implies:
//
//	r       = annualRatePercent / 100 / 12
//	payment = P * r * (1+r)^n / ((1+r)^n - 1)     (r > 0)
//	payment = P / n                               (r = 0)
//	total   = payment * n
//	interest = total - P
//
// Outputs are rounded half away from zero to cents. total is computed from
// the unrounded payment.
func Amortize(principal, annualRatePercent decimal.Decimal, termMonths int) (model.Terms, error) {
	if !principal.IsPositive() {
		return model.Terms{}, errs.Invalid("principal", "must be positive, got %s", principal)
	}
	if annualRatePercent.IsNegative() {
		return model.Terms{}, errs.Invalid("interest_rate", "must not be negative, got %s", annualRatePercent)
	}
	if termMonths < 1 {
		return model.Terms{}, errs.Invalid("term_months", "must be at least 1, got %d", termMonths)
	}

	n := decimal.NewFromInt(int64(termMonths))
	monthly := annualRatePercent.Div(hundred).Div(twelve)

	var payment decimal.Decimal
	if monthly.IsPositive() {
		growth := one.Add(monthly).Pow(n)
		payment = principal.Mul(monthly).Mul(growth).Div(growth.Sub(one))
	} else {
		payment = principal.Div(n)
	}
	total := payment.Mul(n)

	return model.Terms{
		Principal:      principal,
		MonthlyPayment: payment.Round(2),
		TotalAmount:    total.Round(2),
		TotalInterest:  total.Sub(principal).Round(2),
	}, nil
}
