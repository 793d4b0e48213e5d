package ledger

import (
	"slices"
	"time"

	"metalkhata/backend/internal/domain"
)

// VepariMetalSummary is one vepari's position in one metal. The weight,
// stone, cash and bullion ledgers run independently of each other.
type VepariMetalSummary struct {
	MetalID string `json:"metal_id"`

	// Regular-weight ledger.
	PurchasedGrams float64 `json:"purchased_grams"`
	PaidGrams      float64 `json:"paid_grams"`
	// RemainingGrams is purchased minus paid weight plus the unconverted
	// bullion balance. Negative when the vepari has been overpaid; the
	// credit stays visible instead of clamping to zero.
	RemainingGrams float64 `json:"remaining_grams"`

	StoneChargesDue     float64 `json:"stone_charges_due"`
	StoneChargesPaid    float64 `json:"stone_charges_paid"`
	StoneChargesBalance float64 `json:"stone_charges_balance"`

	CashPurchaseTotal float64 `json:"cash_purchase_total"`
	CashPaymentTotal  float64 `json:"cash_payment_total"`
	CashBalance       float64 `json:"cash_balance"`

	BullionFineGiven     float64 `json:"bullion_fine_given"`
	BullionFreshReceived float64 `json:"bullion_fresh_received"`
	// BullionBalanceGrams is the net balance of unconverted exchanges.
	// Positive means the shop owes the vepari metal.
	BullionBalanceGrams float64 `json:"bullion_balance_grams"`
	// BullionCashAmount is the money owed on exchanges whose balance was
	// converted to currency.
	BullionCashAmount float64 `json:"bullion_cash_amount"`

	OverdueCount int `json:"overdue_count"`
}

// VepariSummary aggregates a vepari's per-metal positions plus vepari-wide
// totals summed across metals.
type VepariSummary struct {
	VepariID   string               `json:"vepari_id"`
	VepariName string               `json:"vepari_name"`
	Metals     []VepariMetalSummary `json:"metals"`

	RemainingGramsTotal float64 `json:"remaining_grams_total"`

	StoneChargesDue     float64 `json:"stone_charges_due"`
	StoneChargesPaid    float64 `json:"stone_charges_paid"`
	StoneChargesBalance float64 `json:"stone_charges_balance"`

	CashPurchaseTotal float64 `json:"cash_purchase_total"`
	CashPaymentTotal  float64 `json:"cash_payment_total"`
	CashBalance       float64 `json:"cash_balance"`

	BullionCashAmount float64 `json:"bullion_cash_amount"`

	OverdueCount int `json:"overdue_count"`

	LastPaymentDate *time.Time `json:"last_payment_date,omitempty"`
}

// VepariSummaries recomputes every vepari's position from the raw records.
// Purchases or payments referencing a missing vepari are skipped; the
// aggregation never fails on dangling references.
func VepariSummaries(veparis []domain.Vepari, purchases []domain.Purchase, payments []domain.Payment, today time.Time) []VepariSummary {
	remaining := RemainingGramsAll(purchases, payments)

	summaries := make([]VepariSummary, 0, len(veparis))
	for _, v := range veparis {
		summary := VepariSummary{VepariID: v.ID, VepariName: v.Name}
		metalTotals := make(map[string]*VepariMetalSummary)

		metalFor := func(metalID string) *VepariMetalSummary {
			if mt, ok := metalTotals[metalID]; ok {
				return mt
			}
			mt := &VepariMetalSummary{MetalID: metalID}
			metalTotals[metalID] = mt
			return mt
		}

		for _, p := range purchases {
			if p.VepariID != v.ID {
				continue
			}
			mt := metalFor(p.MetalID)
			mt.StoneChargesDue += p.StoneCharges()
			switch p.Type {
			case domain.PurchaseRegular:
				if p.Regular == nil {
					continue
				}
				mt.PurchasedGrams += p.Regular.WeightGrams
				if Classify(p, remaining[p.ID], today) == domain.StatusOverdue {
					mt.OverdueCount++
				}
			case domain.PurchaseCash:
				if p.Cash == nil {
					continue
				}
				mt.CashPurchaseTotal += p.Cash.TotalAmount
			case domain.PurchaseBullion:
				if p.Bullion == nil {
					continue
				}
				mt.BullionFineGiven += p.Bullion.FineGoldCalculated
				mt.BullionFreshReceived += p.Bullion.FreshMetalReceived
				if p.Bullion.BalanceConverted {
					mt.BullionCashAmount += p.Bullion.BalanceCashAmount
				} else {
					mt.BullionBalanceGrams += p.Bullion.BalanceGrams
				}
			}
		}

		for _, p := range payments {
			if p.VepariID != v.ID {
				continue
			}
			mt := metalFor(p.MetalID)
			mt.StoneChargesPaid += p.StoneChargesPaid()
			switch p.Type {
			case domain.PaymentMetal:
				if p.Metal == nil {
					continue
				}
				mt.PaidGrams += p.Metal.WeightGrams
			case domain.PaymentCash:
				if p.Cash == nil {
					continue
				}
				mt.CashPaymentTotal += p.Cash.CashAmount
			}
			if summary.LastPaymentDate == nil || p.Date.After(*summary.LastPaymentDate) {
				d := p.Date
				summary.LastPaymentDate = &d
			}
		}

		for _, mt := range metalTotals {
			mt.RemainingGrams = mt.PurchasedGrams - mt.PaidGrams + mt.BullionBalanceGrams
			mt.StoneChargesBalance = mt.StoneChargesDue - mt.StoneChargesPaid
			mt.CashBalance = mt.CashPurchaseTotal - mt.CashPaymentTotal

			summary.RemainingGramsTotal += mt.RemainingGrams
			summary.StoneChargesDue += mt.StoneChargesDue
			summary.StoneChargesPaid += mt.StoneChargesPaid
			summary.CashPurchaseTotal += mt.CashPurchaseTotal
			summary.CashPaymentTotal += mt.CashPaymentTotal
			summary.BullionCashAmount += mt.BullionCashAmount
			summary.OverdueCount += mt.OverdueCount

			summary.Metals = append(summary.Metals, *mt)
		}
		summary.StoneChargesBalance = summary.StoneChargesDue - summary.StoneChargesPaid
		summary.CashBalance = summary.CashPurchaseTotal - summary.CashPaymentTotal

		slices.SortFunc(summary.Metals, func(a, b VepariMetalSummary) int {
			return cmpString(a.MetalID, b.MetalID)
		})

		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b VepariSummary) int {
		if c := cmpString(a.VepariName, b.VepariName); c != 0 {
			return c
		}
		return cmpString(a.VepariID, b.VepariID)
	})
	return summaries
}
