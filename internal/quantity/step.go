// Package quantity provides exact-decimal helpers for order sizing:
// floor-to-step rounding and plain-decimal formatting for exchange APIs.
package quantity

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidStep is returned when a step size is zero or negative.
var ErrInvalidStep = errors.New("quantity: step size must be positive")

// AdjustToStep floors qty to the largest multiple of step. Both qty and step
// are treated as exact decimals; binary floating point is never used.
func AdjustToStep(qty decimal.Decimal, step decimal.Decimal) (decimal.Decimal, error) {
	if step.Sign() <= 0 {
		return decimal.Zero, ErrInvalidStep
	}
	multiples := qty.Div(step).Floor()
	return multiples.Mul(step), nil
}

// AdjustToStepString is a convenience wrapper accepting the step as the
// decimal string the exchange advertises in its rule record.
func AdjustToStepString(qty decimal.Decimal, step string) (decimal.Decimal, error) {
	s, err := decimal.NewFromString(step)
	if err != nil {
		return decimal.Zero, err
	}
	return AdjustToStep(qty, s)
}

// FormatForAPI renders qty as a plain decimal string: no scientific
// notation, no trailing zeros after the decimal point, no trailing dot.
// decimal.Decimal.String() already never emits exponent notation; this
// only trims the cosmetic trailing zeros exchanges don't expect.
func FormatForAPI(qty decimal.Decimal) string {
	s := qty.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}
