package inventory

import (
	"strings"

	"github.com/shopspring/decimal"
)

// round2 rounds half away from zero to 2 decimals, matching how every stored
// stock figure and ledger impact is recorded.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// mulRound2 multiplies exactly and rounds the product to 2 decimals.
func mulRound2(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Mul(decimal.NewFromFloat(b)).Round(2).Float64()
	return f
}

func isAreaUnit(unit string) bool {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "m²", "m2", "m":
		return true
	}
	return false
}

// Consumption converts a line's quantity and unit of measure into the real
// consumption figure. Area units consume cantidad × ancho × alto, falling
// back to total_m2 when dimensions are missing; count units consume cantidad.
// A result ≤ 0 signals the caller to skip the line, it is not an error.
func Consumption(line QuotationLine, productUnit string) float64 {
	unit := line.UnitOfMeasure
	if unit == "" {
		unit = productUnit
	}
	if !isAreaUnit(unit) {
		return round2(line.Quantity)
	}
	qty := decimal.NewFromFloat(line.Quantity)
	width := decimal.NewFromFloat(floatOrZero(line.Width))
	height := decimal.NewFromFloat(floatOrZero(line.Height))
	area := qty.Mul(width).Mul(height)
	if area.Sign() <= 0 {
		area = decimal.NewFromFloat(floatOrZero(line.TotalM2))
	}
	f, _ := area.Round(2).Float64()
	return f
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
