package ledger

import (
	"slices"
	"time"

	"metalkhata/backend/internal/domain"
)

// DefaultUpcomingHorizonDays is how far ahead a due date counts as
// "upcoming" when the caller does not override the horizon.
const DefaultUpcomingHorizonDays = 3

// settledEpsilon absorbs binary-float dust left by weight arithmetic; a
// purchase within a microgram of settled counts as paid.
const settledEpsilon = 1e-6

// Classify assigns a due status to a regular purchase given its remaining
// unsettled weight. It is total: every purchase maps to exactly one status.
// Non-regular purchases never carry credit terms and classify as paid once
// booked.
func Classify(p domain.Purchase, remaining float64, today time.Time) domain.PurchaseStatus {
	if p.Type != domain.PurchaseRegular || p.Regular == nil {
		return domain.StatusPaid
	}
	if remaining <= settledEpsilon {
		return domain.StatusPaid
	}
	if p.Regular.DueDate == nil {
		return domain.StatusNoCredit
	}
	days := daysBetween(*p.Regular.DueDate, today)
	switch {
	case days > 0:
		return domain.StatusOverdue
	case days >= -DefaultUpcomingHorizonDays:
		return domain.StatusUpcoming
	default:
		return domain.StatusNormal
	}
}

// OverdueItem is one past-due regular purchase with its accrued penalty.
type OverdueItem struct {
	Purchase       domain.Purchase `json:"purchase"`
	VepariName     string          `json:"vepari_name"`
	RemainingGrams float64         `json:"remaining_grams"`
	DaysOverdue    int             `json:"days_overdue"`
	PenaltyPercent float64         `json:"penalty_percent"`
	// EstimatedPenaltyAmount is remaining * rate * percent / 100, or zero
	// when the purchase was booked without a rate.
	EstimatedPenaltyAmount float64 `json:"estimated_penalty_amount"`
}

// OverdueItems returns every regular purchase past its due date with weight
// still outstanding, most overdue first.
func OverdueItems(purchases []domain.Purchase, payments []domain.Payment, veparis []domain.Vepari, today time.Time) []OverdueItem {
	names := make(map[string]string, len(veparis))
	for _, v := range veparis {
		names[v.ID] = v.Name
	}
	remaining := RemainingGramsAll(purchases, payments)

	items := make([]OverdueItem, 0)
	for _, p := range purchases {
		rem := remaining[p.ID]
		if Classify(p, rem, today) != domain.StatusOverdue {
			continue
		}
		days := daysBetween(*p.Regular.DueDate, today)
		percent := float64(days) * p.Regular.PenaltyPercentPerDay
		amount := 0.0
		if p.Regular.RatePerGram > 0 {
			amount = rem * p.Regular.RatePerGram * percent / 100
		}
		items = append(items, OverdueItem{
			Purchase:               p,
			VepariName:             names[p.VepariID],
			RemainingGrams:         rem,
			DaysOverdue:            days,
			PenaltyPercent:         percent,
			EstimatedPenaltyAmount: amount,
		})
	}
	sortItems(items, func(it OverdueItem) (int, time.Time, string) {
		return -it.DaysOverdue, it.Purchase.Date, it.Purchase.ID
	})
	return items
}

// UpcomingItem is a regular purchase whose due date falls within the coming
// horizon.
type UpcomingItem struct {
	Purchase       domain.Purchase `json:"purchase"`
	VepariName     string          `json:"vepari_name"`
	RemainingGrams float64         `json:"remaining_grams"`
	DaysUntilDue   int             `json:"days_until_due"`
}

// UpcomingItems returns unsettled regular purchases due today or within the
// next horizonDays, soonest first. A non-positive horizon falls back to the
// default.
func UpcomingItems(purchases []domain.Purchase, payments []domain.Payment, veparis []domain.Vepari, today time.Time, horizonDays int) []UpcomingItem {
	if horizonDays <= 0 {
		horizonDays = DefaultUpcomingHorizonDays
	}
	names := make(map[string]string, len(veparis))
	for _, v := range veparis {
		names[v.ID] = v.Name
	}
	remaining := RemainingGramsAll(purchases, payments)

	items := make([]UpcomingItem, 0)
	for _, p := range purchases {
		if p.Type != domain.PurchaseRegular || p.Regular == nil || p.Regular.DueDate == nil {
			continue
		}
		rem := remaining[p.ID]
		if rem <= settledEpsilon {
			continue
		}
		until := daysBetween(today, *p.Regular.DueDate)
		if until < 0 || until > horizonDays {
			continue
		}
		items = append(items, UpcomingItem{
			Purchase:       p,
			VepariName:     names[p.VepariID],
			RemainingGrams: rem,
			DaysUntilDue:   until,
		})
	}
	sortItems(items, func(it UpcomingItem) (int, time.Time, string) {
		return it.DaysUntilDue, it.Purchase.Date, it.Purchase.ID
	})
	return items
}

func sortItems[T any](items []T, key func(T) (int, time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		an, at, ai := key(a)
		bn, bt, bi := key(b)
		if an != bn {
			return an - bn
		}
		if !at.Equal(bt) {
			if at.Before(bt) {
				return -1
			}
			return 1
		}
		return cmpString(ai, bi)
	})
}
