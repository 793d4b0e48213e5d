package ledger

import (
	"slices"

	"metalkhata/backend/internal/domain"
)

// ProfitReport is the trading position for one metal: cost-side volume from
// vepari purchases and revenue, cost and margin from customer sales.
type ProfitReport struct {
	MetalID string `json:"metal_id"`
	// TotalPurchasedGrams is the regular weight bought from veparis. It is
	// informational volume; profit math runs on the per-sale recorded rates.
	TotalPurchasedGrams float64 `json:"total_purchased_grams"`
	TotalSoldGrams      float64 `json:"total_sold_grams"`
	SaleCount           int     `json:"sale_count"`
	TotalRevenue        float64 `json:"total_revenue"`
	TotalCost           float64 `json:"total_cost"`
	TotalMakingCharges  float64 `json:"total_making_charges"`
	AvgBuyRate          float64 `json:"avg_buy_rate"`
	AvgSellRate         float64 `json:"avg_sell_rate"`
	GrossProfit         float64 `json:"gross_profit"`
	ProfitMarginPercent float64 `json:"profit_margin_percent"`
}

// ProfitReports produces one report per metal with any sold or purchased
// volume, sorted by metal id. Margin is gross profit over cost; a metal with
// zero cost carries a zero margin rather than dividing by zero.
func ProfitReports(purchases []domain.Purchase, sales []domain.CustomerPurchase) []ProfitReport {
	byMetal := make(map[string]*ProfitReport)

	metalFor := func(metalID string) *ProfitReport {
		if r, ok := byMetal[metalID]; ok {
			return r
		}
		r := &ProfitReport{MetalID: metalID}
		byMetal[metalID] = r
		return r
	}

	for _, p := range purchases {
		if p.Type != domain.PurchaseRegular || p.Regular == nil {
			continue
		}
		metalFor(p.MetalID).TotalPurchasedGrams += p.Regular.WeightGrams
	}

	for _, s := range sales {
		r := metalFor(s.MetalID)
		r.SaleCount++
		r.TotalSoldGrams += s.WeightGrams
		r.TotalRevenue += s.SaleValue()
		r.TotalCost += s.CostValue()
		r.TotalMakingCharges += s.MakingCharges
	}

	reports := make([]ProfitReport, 0, len(byMetal))
	for _, r := range byMetal {
		r.GrossProfit = r.TotalRevenue - r.TotalCost
		if r.TotalSoldGrams > 0 {
			r.AvgBuyRate = r.TotalCost / r.TotalSoldGrams
			r.AvgSellRate = (r.TotalRevenue - r.TotalMakingCharges) / r.TotalSoldGrams
		}
		if r.TotalCost > 0 {
			r.ProfitMarginPercent = r.GrossProfit / r.TotalCost * 100
		}
		reports = append(reports, *r)
	}
	slices.SortFunc(reports, func(a, b ProfitReport) int {
		return cmpString(a.MetalID, b.MetalID)
	})
	return reports
}
