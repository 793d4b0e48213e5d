// Package ledger holds the pure settlement and reporting calculations. All
// functions take plain record slices and return derived values; nothing here
// touches the store or mutates its inputs.
package ledger

import (
	"slices"
	"time"

	"metalkhata/backend/internal/domain"
)

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// sortOldestFirst orders purchases by date, then creation time, then id.
// Settlement order depends on this being deterministic.
func sortOldestFirst(purchases []domain.Purchase) {
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		if !a.Date.Equal(b.Date) {
			if a.Date.Before(b.Date) {
				return -1
			}
			return 1
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.Before(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
}

// RemainingGrams settles the vepari's metal payments against their regular
// purchases of the given metal, oldest purchase first, and returns the
// remaining unsettled weight per purchase id. Payments form a single pool:
// they are not linked to individual purchases. Remaining values are clamped
// to [0, weight] and the pool never goes negative, so re-running the
// settlement over the same records always yields the same result.
func RemainingGrams(purchases []domain.Purchase, payments []domain.Payment, vepariID, metalID string) map[string]float64 {
	var pool float64
	for _, p := range payments {
		if p.VepariID != vepariID || p.MetalID != metalID {
			continue
		}
		if p.Type == domain.PaymentMetal && p.Metal != nil {
			pool += p.Metal.WeightGrams
		}
	}

	group := make([]domain.Purchase, 0, len(purchases))
	for _, p := range purchases {
		if p.VepariID != vepariID || p.MetalID != metalID {
			continue
		}
		if p.Type != domain.PurchaseRegular || p.Regular == nil {
			continue
		}
		group = append(group, p)
	}
	sortOldestFirst(group)

	remaining := make(map[string]float64, len(group))
	for _, p := range group {
		weight := p.Regular.WeightGrams
		settled := pool
		if settled > weight {
			settled = weight
		}
		pool -= settled
		if pool < 0 {
			pool = 0
		}
		rem := weight - settled
		if rem < 0 {
			rem = 0
		}
		remaining[p.ID] = rem
	}
	return remaining
}

// vepariMetalPairs returns each distinct (vepari, metal) combination that
// appears in the purchases, in a stable order.
func vepariMetalPairs(purchases []domain.Purchase) [][2]string {
	seen := make(map[[2]string]bool)
	pairs := make([][2]string, 0)
	for _, p := range purchases {
		key := [2]string{p.VepariID, p.MetalID}
		if !seen[key] {
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	slices.SortFunc(pairs, func(a, b [2]string) int {
		if c := cmpString(a[0], b[0]); c != 0 {
			return c
		}
		return cmpString(a[1], b[1])
	})
	return pairs
}

// RemainingGramsAll runs the FIFO settlement for every (vepari, metal) pair
// present in the purchases and merges the results into one map keyed by
// purchase id.
func RemainingGramsAll(purchases []domain.Purchase, payments []domain.Payment) map[string]float64 {
	out := make(map[string]float64)
	for _, pair := range vepariMetalPairs(purchases) {
		for id, rem := range RemainingGrams(purchases, payments, pair[0], pair[1]) {
			out[id] = rem
		}
	}
	return out
}

// midnightUTC truncates a timestamp to the calendar day in UTC. All due-date
// arithmetic works on whole days.
func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of whole calendar days from a to b,
// negative when b is earlier.
func daysBetween(a, b time.Time) int {
	return int(midnightUTC(b).Sub(midnightUTC(a)) / (24 * time.Hour))
}
