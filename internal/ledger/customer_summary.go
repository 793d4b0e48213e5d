package ledger

import (
	"slices"

	"metalkhata/backend/internal/domain"
)

// CustomerMetalSummary is one customer's position in one metal: ordered and
// delivered weight, money owed, and the margin earned on that metal's sales.
type CustomerMetalSummary struct {
	MetalID        string  `json:"metal_id"`
	Grams          float64 `json:"grams"`
	DeliveredGrams float64 `json:"delivered_grams"`
	PendingGrams   float64 `json:"pending_grams"`
	SaleValue      float64 `json:"sale_value"`
	CostValue      float64 `json:"cost_value"`
	PaidAmount     float64 `json:"paid_amount"`
	PendingAmount  float64 `json:"pending_amount"`
	GrossProfit    float64 `json:"gross_profit"`
}

// CustomerSummary aggregates a customer's sales, payments and deliveries,
// broken down per metal with customer-wide totals summed across metals.
type CustomerSummary struct {
	CustomerID   string                 `json:"customer_id"`
	CustomerName string                 `json:"customer_name"`
	Metals       []CustomerMetalSummary `json:"metals"`

	SaleTotal    float64 `json:"sale_total"`
	CostTotal    float64 `json:"cost_total"`
	PaidTotal    float64 `json:"paid_total"`
	BalanceDue   float64 `json:"balance_due"`
	PendingGrams float64 `json:"pending_grams"`
	GrossProfit  float64 `json:"gross_profit"`
}

// CustomerSummaries recomputes every customer's position. Payments linked to
// a purchase count against that purchase's metal alone; unlinked payments
// (including ones whose purchase reference no longer resolves) are spread
// pro-rata across the customer's metals by sale value, so a payment is never
// counted against more than one metal.
func CustomerSummaries(customers []domain.Customer, purchases []domain.CustomerPurchase, payments []domain.CustomerPayment) []CustomerSummary {
	summaries := make([]CustomerSummary, 0, len(customers))
	for _, c := range customers {
		summary := CustomerSummary{CustomerID: c.ID, CustomerName: c.Name}
		metalTotals := make(map[string]*CustomerMetalSummary)

		metalFor := func(metalID string) *CustomerMetalSummary {
			if mt, ok := metalTotals[metalID]; ok {
				return mt
			}
			mt := &CustomerMetalSummary{MetalID: metalID}
			metalTotals[metalID] = mt
			return mt
		}

		purchaseMetal := make(map[string]string)
		for _, p := range purchases {
			if p.CustomerID != c.ID {
				continue
			}
			purchaseMetal[p.ID] = p.MetalID
			mt := metalFor(p.MetalID)
			mt.Grams += p.WeightGrams
			mt.DeliveredGrams += p.DeliveredGrams
			mt.PendingGrams += p.PendingGrams()
			mt.SaleValue += p.SaleValue()
			mt.CostValue += p.CostValue()
			mt.GrossProfit += p.GrossProfit()
		}

		var unlinkedTotal float64
		for _, pay := range payments {
			if pay.CustomerID != c.ID {
				continue
			}
			summary.PaidTotal += pay.Amount
			if metalID, ok := purchaseMetal[pay.PurchaseID]; ok && pay.PurchaseID != "" {
				metalFor(metalID).PaidAmount += pay.Amount
			} else {
				unlinkedTotal += pay.Amount
			}
		}

		var saleTotal float64
		for _, mt := range metalTotals {
			saleTotal += mt.SaleValue
		}

		for _, mt := range metalTotals {
			if saleTotal > 0 {
				mt.PaidAmount += unlinkedTotal * mt.SaleValue / saleTotal
			}
			mt.PendingAmount = mt.SaleValue - mt.PaidAmount

			summary.SaleTotal += mt.SaleValue
			summary.CostTotal += mt.CostValue
			summary.PendingGrams += mt.PendingGrams
			summary.GrossProfit += mt.GrossProfit

			summary.Metals = append(summary.Metals, *mt)
		}
		summary.BalanceDue = summary.SaleTotal - summary.PaidTotal

		slices.SortFunc(summary.Metals, func(a, b CustomerMetalSummary) int {
			return cmpString(a.MetalID, b.MetalID)
		})

		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b CustomerSummary) int {
		if c := cmpString(a.CustomerName, b.CustomerName); c != 0 {
			return c
		}
		return cmpString(a.CustomerID, b.CustomerID)
	})
	return summaries
}
