// Package stock decides whether a set of cart lines can be sold from the
// quantities currently on hand.
package stock

import (
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Validate compares every line against onHand and returns one shortfall per
// barcode that cannot be covered. Lines sharing a barcode are summed. A
// barcode missing from onHand has nothing available. The result is nil when
// the sale can proceed; onHand is never modified.
func Validate(lines []domain.CartLine, onHand map[string]int) []store.Shortfall {
	requested := make(map[string]int, len(lines))
	order := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.Barcode]; !seen {
			order = append(order, line.Barcode)
		}
		requested[line.Barcode] += line.Quantity
	}

	var shortfalls []store.Shortfall
	for _, barcode := range order {
		available := onHand[barcode]
		if requested[barcode] > available {
			shortfalls = append(shortfalls, store.Shortfall{
				Barcode:   barcode,
				Requested: requested[barcode],
				Available: max(available, 0),
			})
		}
	}
	return shortfalls
}

// Barcodes returns the distinct barcodes of lines in first-seen order.
func Barcodes(lines []domain.CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.Barcode]; ok {
			continue
		}
		seen[line.Barcode] = struct{}{}
		out = append(out, line.Barcode)
	}
	return out
}
