// Package packaging breaks an ordered quantity into package-size multiples.
// Larger packages are always preferred by business rule, so a greedy
// largest-first fill is exact for the property that matters:
// sum(totalPieces) == quantity on success.
package packaging

import (
	"fmt"
	"sort"

	"github.com/ariefcatur/go-offline-sync.git/internal/store"
)

type BreakdownEntry struct {
	VariantID      string `json:"variantId"`
	PackageSize    int    `json:"packageSize"`
	PackageCount   int    `json:"packageCount"`
	TotalPieces    int    `json:"totalPieces"`
	PackageContent string `json:"packageContentLabel,omitempty"`
}

type Result struct {
	Success           bool             `json:"success"`
	Quantity          int              `json:"quantity"`
	TotalPackages     int              `json:"totalPackages"`
	Breakdown         []BreakdownEntry `json:"breakdown,omitempty"`
	Error             string           `json:"error,omitempty"`
	SuggestedQuantity int              `json:"suggestedQuantity,omitempty"`
}

// Plan computes the optimal multi-package breakdown for quantity over the
// given variants. Variants with a non-positive package size are ignored.
func Plan(variants []store.ProductVariant, quantity int) Result {
	usable := make([]store.ProductVariant, 0, len(variants))
	for _, v := range variants {
		if v.PackageSize > 0 {
			usable = append(usable, v)
		}
	}
	if len(usable) == 0 {
		return Result{Success: false, Quantity: quantity, Error: "nessuna confezione disponibile per questo articolo"}
	}
	if quantity <= 0 {
		return Result{Success: false, Quantity: quantity, Error: "la quantità deve essere positiva"}
	}

	sort.Slice(usable, func(i, j int) bool { return usable[i].PackageSize > usable[j].PackageSize })

	remaining := quantity
	var breakdown []BreakdownEntry
	totalPackages := 0
	for _, v := range usable {
		if remaining < v.PackageSize {
			continue
		}
		count := remaining / v.PackageSize
		remaining -= count * v.PackageSize
		totalPackages += count
		breakdown = append(breakdown, BreakdownEntry{
			VariantID:      v.ID,
			PackageSize:    v.PackageSize,
			PackageCount:   count,
			TotalPieces:    count * v.PackageSize,
			PackageContent: v.PackageContent,
		})
		if remaining == 0 {
			break
		}
	}

	if remaining != 0 {
		min := minOrderable(usable)
		return Result{
			Success:           false,
			Quantity:          quantity,
			Error:             fmt.Sprintf("quantità non confezionabile: il minimo ordinabile è %d pezzi (%s)", min.qty, min.label),
			SuggestedQuantity: min.qty,
		}
	}
	return Result{Success: true, Quantity: quantity, TotalPackages: totalPackages, Breakdown: breakdown}
}

type minimum struct {
	qty   int
	label string
}

// minOrderable finds the smallest orderable quantity across variants and a
// human-readable package count for the suggestion message.
func minOrderable(variants []store.ProductVariant) minimum {
	best := minimum{qty: 0}
	for _, v := range variants {
		q := v.MinQty
		if q <= 0 {
			q = v.PackageSize
		}
		if best.qty == 0 || q < best.qty {
			packs := q / v.PackageSize
			if q%v.PackageSize != 0 {
				packs++
			}
			label := fmt.Sprintf("%d x %d", packs, v.PackageSize)
			if v.PackageContent != "" {
				label = fmt.Sprintf("%d x %s", packs, v.PackageContent)
			}
			best = minimum{qty: q, label: label}
		}
	}
	return best
}
