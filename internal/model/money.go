package model

import "github.com/shopspring/decimal"

// MaxDescription is the longest accepted free-text field.
const MaxDescription = 255

// WholeCents reports whether d has at most two decimal places.
func WholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// RatePlaces is the precision interest rates are stored with.
const RatePlaces = 4

// RateFits reports whether an annual percentage rate has at most RatePlaces
// decimal places.
func RateFits(d decimal.Decimal) bool {
	return d.Equal(d.Round(RatePlaces))
}
