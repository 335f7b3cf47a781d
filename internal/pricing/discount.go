// Package pricing solves the order form's "target total → discount percent"
// problem: find the flat discount that makes the VAT-inclusive total hit a
// requested figure.
package pricing

import (
	"github.com/ariefcatur/go-offline-sync.git/internal/store"
	"github.com/shopspring/decimal"
)

type SolveResult struct {
	Success         bool            `json:"success"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	AchievedTotal   decimal.Decimal `json:"achievedTotal"`
	Error           string          `json:"error,omitempty"`
}

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.NewFromFloat(0.005) // half a cent
)

// TotalWithVAT computes the VAT-inclusive total for the items under a flat
// discount percent.
func TotalWithVAT(items []store.OrderItem, discountPercent decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	factor := hundred.Sub(discountPercent).Div(hundred)
	for _, it := range items {
		line := decimal.NewFromInt(it.UnitPriceCents).
			Div(hundred).
			Mul(decimal.NewFromInt(int64(it.Qty))).
			Mul(factor)
		vat := hundred.Add(decimal.NewFromFloat(it.VATPercent)).Div(hundred)
		total = total.Add(line.Mul(vat))
	}
	return total
}

// SolveDiscount binary-searches the flat discount in [0,100] whose
// VAT-inclusive total matches target. The total is strictly decreasing in the
// discount as long as quantities are non-negative and at least one line has a
// price, so both conditions are rejected up front instead of searched over.
func SolveDiscount(items []store.OrderItem, target decimal.Decimal) SolveResult {
	if len(items) == 0 {
		return SolveResult{Error: "empty order"}
	}
	anyPriced := false
	for _, it := range items {
		if it.Qty < 0 {
			return SolveResult{Error: "negative quantity"}
		}
		if it.UnitPriceCents > 0 && it.Qty > 0 {
			anyPriced = true
		}
	}
	if !anyPriced {
		return SolveResult{Error: "no priced lines"}
	}

	full := TotalWithVAT(items, decimal.Zero)
	if target.GreaterThan(full) {
		return SolveResult{Error: "target exceeds undiscounted total", AchievedTotal: full}
	}
	if target.LessThan(decimal.Zero) {
		return SolveResult{Error: "target must be non-negative"}
	}

	lo, hi := decimal.Zero, hundred
	var mid, got decimal.Decimal
	for i := 0; i < 60; i++ {
		mid = lo.Add(hi).Div(decimal.NewFromInt(2))
		got = TotalWithVAT(items, mid)
		diff := got.Sub(target)
		if diff.Abs().LessThanOrEqual(tolerance) {
			break
		}
		if diff.GreaterThan(decimal.Zero) {
			lo = mid // total too high -> more discount
		} else {
			hi = mid
		}
	}
	return SolveResult{
		Success:         true,
		DiscountPercent: mid.Round(4),
		AchievedTotal:   got.Round(2),
	}
}
