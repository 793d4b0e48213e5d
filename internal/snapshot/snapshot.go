// Package snapshot encodes and decodes backup documents. The wire format is
// the camelCase flat-record layout the original exports used; older
// documents are migrated on read (missing metal ids default to gold, missing
// type discriminants to the only type that existed at the time).
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"metalkhata/backend/internal/domain"
)

// Version is written on every exported document. Version 1 documents predate
// the customer-side arrays.
const Version = 2

var ErrBadFormat = errors.New("snapshot format invalid")

type wireMetal struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol,omitempty"`
	Color        string `json:"color,omitempty"`
	DisplayOrder int    `json:"displayOrder"`
	IsDefault    bool   `json:"isDefault"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

type wireVepari struct {
	ID                          string   `json:"id"`
	Name                        string   `json:"name"`
	Phone                       string   `json:"phone,omitempty"`
	DefaultCreditDays           *int     `json:"defaultCreditDays,omitempty"`
	DefaultPenaltyPercentPerDay *float64 `json:"defaultPenaltyPercentPerDay,omitempty"`
	CreatedAt                   string   `json:"createdAt,omitempty"`
}

// wirePurchase is the flat union the original app stored: variant fields
// live side by side and purchaseType picks which ones are meaningful.
type wirePurchase struct {
	ID           string `json:"id"`
	VepariID     string `json:"vepariId"`
	MetalID      string `json:"metalId,omitempty"`
	PurchaseType string `json:"purchaseType,omitempty"`
	Date         string `json:"date"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`

	WeightGrams          float64  `json:"weightGrams,omitempty"`
	RatePerGram          float64  `json:"ratePerGram,omitempty"`
	StoneCharges         float64  `json:"stoneCharges,omitempty"`
	CreditDays           *int     `json:"creditDays,omitempty"`
	PenaltyPercentPerDay float64  `json:"penaltyPercentPerDay,omitempty"`

	TotalAmount   float64 `json:"totalAmount,omitempty"`
	LabourCharges float64 `json:"labourCharges,omitempty"`

	OldGoldWeight           float64 `json:"oldGoldWeight,omitempty"`
	OldGoldTouch            float64 `json:"oldGoldTouch,omitempty"`
	FreshMetalReceived      float64 `json:"freshMetalReceived,omitempty"`
	BalanceConvertedToMoney bool    `json:"balanceConvertedToMoney,omitempty"`
	BalanceRate             float64 `json:"balanceRate,omitempty"`
}

type wirePayment struct {
	ID          string `json:"id"`
	VepariID    string `json:"vepariId"`
	MetalID     string `json:"metalId,omitempty"`
	PaymentType string `json:"paymentType,omitempty"`
	Date        string `json:"date"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`

	WeightGrams      float64 `json:"weightGrams,omitempty"`
	RatePerGram      float64 `json:"ratePerGram,omitempty"`
	CashAmount       float64 `json:"cashAmount,omitempty"`
	PaymentMode      string  `json:"paymentMode,omitempty"`
	StoneChargesPaid float64 `json:"stoneChargesPaid,omitempty"`
}

type wireCustomer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type wireCustomerPurchase struct {
	ID                  string  `json:"id"`
	CustomerID          string  `json:"customerId"`
	MetalID             string  `json:"metalId,omitempty"`
	Date                string  `json:"date"`
	WeightGrams         float64 `json:"weightGrams"`
	PurchaseRatePerGram float64 `json:"purchaseRatePerGram,omitempty"`
	SaleRatePerGram     float64 `json:"saleRatePerGram,omitempty"`
	MakingCharges       float64 `json:"makingCharges,omitempty"`
	StoneCharges        float64 `json:"stoneCharges,omitempty"`
	DeliveredGrams      float64 `json:"deliveredGrams,omitempty"`
	Notes               string  `json:"notes,omitempty"`
	CreatedAt           string  `json:"createdAt,omitempty"`
}

type wireCustomerPayment struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customerId"`
	PurchaseID  string  `json:"purchaseId,omitempty"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	PaymentMode string  `json:"paymentMode,omitempty"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

type wireDelivery struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customerId,omitempty"`
	PurchaseID  string  `json:"purchaseId"`
	Date        string  `json:"date"`
	WeightGrams float64 `json:"weightGrams"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

// wireDocument uses slice pointers for the arrays every document must carry,
// so a missing array is distinguishable from an empty one.
type wireDocument struct {
	Version    int    `json:"version,omitempty"`
	ExportedAt string `json:"exportedAt,omitempty"`

	Metals    *[]wireMetal    `json:"metals"`
	Veparis   *[]wireVepari   `json:"veparis"`
	Purchases *[]wirePurchase `json:"purchases"`
	Payments  *[]wirePayment  `json:"payments"`

	Customers         []wireCustomer         `json:"customers,omitempty"`
	CustomerPurchases []wireCustomerPurchase `json:"customerPurchases,omitempty"`
	CustomerPayments  []wireCustomerPayment  `json:"customerPayments,omitempty"`
	Deliveries        []wireDelivery         `json:"deliveries,omitempty"`
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrBadFormat, s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func orGold(metalID string) string {
	if metalID == "" {
		return domain.MetalIDGold
	}
	return metalID
}

// Parse decodes and validates a backup document, returning the fully
// migrated record set. Parse never partially succeeds: either the whole
// document is valid or an error is returned and nothing should be restored.
func Parse(data []byte) (domain.Snapshot, error) {
	var doc wireDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Snapshot{}, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if doc.Metals == nil || doc.Veparis == nil || doc.Purchases == nil || doc.Payments == nil {
		return domain.Snapshot{}, fmt.Errorf("%w: metals, veparis, purchases and payments arrays are required", ErrBadFormat)
	}

	snap := domain.Snapshot{Version: doc.Version}
	if doc.Version == 0 {
		snap.Version = 1
	}
	exportedAt, err := parseTime(doc.ExportedAt)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap.ExportedAt = exportedAt

	for _, w := range *doc.Metals {
		if w.ID == "" || w.Name == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: metal missing id or name", ErrBadFormat)
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Metals = append(snap.Metals, domain.Metal{
			ID: w.ID, Name: w.Name, Symbol: w.Symbol, Color: w.Color,
			DisplayOrder: w.DisplayOrder, IsDefault: w.IsDefault, CreatedAt: createdAt,
		})
	}

	for _, w := range *doc.Veparis {
		if w.ID == "" || w.Name == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: vepari missing id or name", ErrBadFormat)
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Veparis = append(snap.Veparis, domain.Vepari{
			ID: w.ID, Name: w.Name, Phone: w.Phone,
			DefaultCreditDays:           w.DefaultCreditDays,
			DefaultPenaltyPercentPerDay: w.DefaultPenaltyPercentPerDay,
			CreatedAt:                   createdAt,
		})
	}

	for _, w := range *doc.Purchases {
		p, err := parsePurchase(w)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Purchases = append(snap.Purchases, p)
	}

	for _, w := range *doc.Payments {
		p, err := parsePayment(w)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Payments = append(snap.Payments, p)
	}

	for _, w := range doc.Customers {
		if w.ID == "" || w.Name == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: customer missing id or name", ErrBadFormat)
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Customers = append(snap.Customers, domain.Customer{
			ID: w.ID, Name: w.Name, Phone: w.Phone, CreatedAt: createdAt,
		})
	}

	for _, w := range doc.CustomerPurchases {
		if w.ID == "" || w.CustomerID == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: customer purchase missing id or customer", ErrBadFormat)
		}
		day, err := parseTime(w.Date)
		if err != nil {
			return domain.Snapshot{}, err
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.CustomerPurchases = append(snap.CustomerPurchases, domain.CustomerPurchase{
			ID: w.ID, CustomerID: w.CustomerID, MetalID: orGold(w.MetalID),
			Date: day, WeightGrams: w.WeightGrams,
			PurchaseRatePerGram: w.PurchaseRatePerGram, SaleRatePerGram: w.SaleRatePerGram,
			MakingCharges: w.MakingCharges, StoneCharges: w.StoneCharges,
			DeliveredGrams: w.DeliveredGrams, Notes: w.Notes, CreatedAt: createdAt,
		})
	}

	for _, w := range doc.CustomerPayments {
		if w.ID == "" || w.CustomerID == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: customer payment missing id or customer", ErrBadFormat)
		}
		day, err := parseTime(w.Date)
		if err != nil {
			return domain.Snapshot{}, err
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.CustomerPayments = append(snap.CustomerPayments, domain.CustomerPayment{
			ID: w.ID, CustomerID: w.CustomerID, PurchaseID: w.PurchaseID,
			Date: day, Amount: w.Amount, PaymentMode: w.PaymentMode,
			Notes: w.Notes, CreatedAt: createdAt,
		})
	}

	for _, w := range doc.Deliveries {
		if w.ID == "" || w.PurchaseID == "" {
			return domain.Snapshot{}, fmt.Errorf("%w: delivery missing id or purchase", ErrBadFormat)
		}
		day, err := parseTime(w.Date)
		if err != nil {
			return domain.Snapshot{}, err
		}
		createdAt, err := parseTime(w.CreatedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snap.Deliveries = append(snap.Deliveries, domain.DeliveryRecord{
			ID: w.ID, CustomerID: w.CustomerID, PurchaseID: w.PurchaseID,
			Date: day, WeightGrams: w.WeightGrams, Notes: w.Notes, CreatedAt: createdAt,
		})
	}

	return snap, nil
}

func parsePurchase(w wirePurchase) (domain.Purchase, error) {
	if w.ID == "" || w.VepariID == "" {
		return domain.Purchase{}, fmt.Errorf("%w: purchase missing id or vepari", ErrBadFormat)
	}
	day, err := parseTime(w.Date)
	if err != nil {
		return domain.Purchase{}, err
	}
	if day.IsZero() {
		return domain.Purchase{}, fmt.Errorf("%w: purchase %s has no date", ErrBadFormat, w.ID)
	}
	createdAt, err := parseTime(w.CreatedAt)
	if err != nil {
		return domain.Purchase{}, err
	}

	p := domain.Purchase{
		ID: w.ID, VepariID: w.VepariID, MetalID: orGold(w.MetalID),
		Date: day, Notes: w.Notes, CreatedAt: createdAt,
	}
	// Documents written before purchase types existed only held regular
	// purchases.
	purchaseType := w.PurchaseType
	if purchaseType == "" {
		purchaseType = string(domain.PurchaseRegular)
	}
	switch domain.PurchaseType(purchaseType) {
	case domain.PurchaseRegular:
		p.Type = domain.PurchaseRegular
		p.Regular = &domain.RegularPurchase{
			WeightGrams:          w.WeightGrams,
			RatePerGram:          w.RatePerGram,
			StoneCharges:         w.StoneCharges,
			CreditDays:           w.CreditDays,
			PenaltyPercentPerDay: w.PenaltyPercentPerDay,
		}
	case domain.PurchaseCash:
		p.Type = domain.PurchaseCash
		p.Cash = &domain.CashPurchase{
			TotalAmount:   w.TotalAmount,
			WeightGrams:   w.WeightGrams,
			RatePerGram:   w.RatePerGram,
			LabourCharges: w.LabourCharges,
			StoneCharges:  w.StoneCharges,
		}
	case domain.PurchaseBullion:
		p.Type = domain.PurchaseBullion
		p.Bullion = &domain.BullionPurchase{
			OldGoldWeight:      w.OldGoldWeight,
			OldGoldTouch:       w.OldGoldTouch,
			FreshMetalReceived: w.FreshMetalReceived,
			BalanceConverted:   w.BalanceConvertedToMoney,
			BalanceRate:        w.BalanceRate,
			LabourCharges:      w.LabourCharges,
		}
	default:
		return domain.Purchase{}, fmt.Errorf("%w: unknown purchase type %q", ErrBadFormat, w.PurchaseType)
	}
	// Derived fields are never trusted from the document.
	p.RecomputeDerived()
	return p, nil
}

func parsePayment(w wirePayment) (domain.Payment, error) {
	if w.ID == "" || w.VepariID == "" {
		return domain.Payment{}, fmt.Errorf("%w: payment missing id or vepari", ErrBadFormat)
	}
	day, err := parseTime(w.Date)
	if err != nil {
		return domain.Payment{}, err
	}
	if day.IsZero() {
		return domain.Payment{}, fmt.Errorf("%w: payment %s has no date", ErrBadFormat, w.ID)
	}
	createdAt, err := parseTime(w.CreatedAt)
	if err != nil {
		return domain.Payment{}, err
	}

	p := domain.Payment{
		ID: w.ID, VepariID: w.VepariID, MetalID: orGold(w.MetalID),
		Date: day, Notes: w.Notes, CreatedAt: createdAt,
	}
	paymentType := w.PaymentType
	if paymentType == "" {
		paymentType = string(domain.PaymentMetal)
	}
	switch domain.PaymentType(paymentType) {
	case domain.PaymentMetal:
		p.Type = domain.PaymentMetal
		p.Metal = &domain.MetalPayment{
			WeightGrams:      w.WeightGrams,
			RatePerGram:      w.RatePerGram,
			StoneChargesPaid: w.StoneChargesPaid,
		}
	case domain.PaymentCash:
		p.Type = domain.PaymentCash
		p.Cash = &domain.CashPayment{
			CashAmount:       w.CashAmount,
			PaymentMode:      w.PaymentMode,
			StoneChargesPaid: w.StoneChargesPaid,
		}
	default:
		return domain.Payment{}, fmt.Errorf("%w: unknown payment type %q", ErrBadFormat, w.PaymentType)
	}
	p.RecomputeDerived()
	return p, nil
}

// Build encodes the record set into the wire format at the current version.
func Build(snap domain.Snapshot) ([]byte, error) {
	metals := make([]wireMetal, 0, len(snap.Metals))
	for _, m := range snap.Metals {
		metals = append(metals, wireMetal{
			ID: m.ID, Name: m.Name, Symbol: m.Symbol, Color: m.Color,
			DisplayOrder: m.DisplayOrder, IsDefault: m.IsDefault,
			CreatedAt: formatTime(m.CreatedAt),
		})
	}
	veparis := make([]wireVepari, 0, len(snap.Veparis))
	for _, v := range snap.Veparis {
		veparis = append(veparis, wireVepari{
			ID: v.ID, Name: v.Name, Phone: v.Phone,
			DefaultCreditDays:           v.DefaultCreditDays,
			DefaultPenaltyPercentPerDay: v.DefaultPenaltyPercentPerDay,
			CreatedAt:                   formatTime(v.CreatedAt),
		})
	}
	purchases := make([]wirePurchase, 0, len(snap.Purchases))
	for _, p := range snap.Purchases {
		purchases = append(purchases, buildPurchase(p))
	}
	payments := make([]wirePayment, 0, len(snap.Payments))
	for _, p := range snap.Payments {
		payments = append(payments, buildPayment(p))
	}

	doc := wireDocument{
		Version:    Version,
		ExportedAt: formatTime(snap.ExportedAt),
		Metals:     &metals,
		Veparis:    &veparis,
		Purchases:  &purchases,
		Payments:   &payments,
	}
	for _, c := range snap.Customers {
		doc.Customers = append(doc.Customers, wireCustomer{
			ID: c.ID, Name: c.Name, Phone: c.Phone, CreatedAt: formatTime(c.CreatedAt),
		})
	}
	for _, p := range snap.CustomerPurchases {
		doc.CustomerPurchases = append(doc.CustomerPurchases, wireCustomerPurchase{
			ID: p.ID, CustomerID: p.CustomerID, MetalID: p.MetalID,
			Date: formatTime(p.Date), WeightGrams: p.WeightGrams,
			PurchaseRatePerGram: p.PurchaseRatePerGram, SaleRatePerGram: p.SaleRatePerGram,
			MakingCharges: p.MakingCharges, StoneCharges: p.StoneCharges,
			DeliveredGrams: p.DeliveredGrams, Notes: p.Notes, CreatedAt: formatTime(p.CreatedAt),
		})
	}
	for _, p := range snap.CustomerPayments {
		doc.CustomerPayments = append(doc.CustomerPayments, wireCustomerPayment{
			ID: p.ID, CustomerID: p.CustomerID, PurchaseID: p.PurchaseID,
			Date: formatTime(p.Date), Amount: p.Amount, PaymentMode: p.PaymentMode,
			Notes: p.Notes, CreatedAt: formatTime(p.CreatedAt),
		})
	}
	for _, d := range snap.Deliveries {
		doc.Deliveries = append(doc.Deliveries, wireDelivery{
			ID: d.ID, CustomerID: d.CustomerID, PurchaseID: d.PurchaseID,
			Date: formatTime(d.Date), WeightGrams: d.WeightGrams,
			Notes: d.Notes, CreatedAt: formatTime(d.CreatedAt),
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}

func buildPurchase(p domain.Purchase) wirePurchase {
	w := wirePurchase{
		ID: p.ID, VepariID: p.VepariID, MetalID: p.MetalID,
		PurchaseType: string(p.Type),
		Date:         formatTime(p.Date),
		Notes:        p.Notes,
		CreatedAt:    formatTime(p.CreatedAt),
	}
	switch p.Type {
	case domain.PurchaseRegular:
		if p.Regular != nil {
			w.WeightGrams = p.Regular.WeightGrams
			w.RatePerGram = p.Regular.RatePerGram
			w.StoneCharges = p.Regular.StoneCharges
			w.CreditDays = p.Regular.CreditDays
			w.PenaltyPercentPerDay = p.Regular.PenaltyPercentPerDay
		}
	case domain.PurchaseCash:
		if p.Cash != nil {
			w.TotalAmount = p.Cash.TotalAmount
			w.WeightGrams = p.Cash.WeightGrams
			w.RatePerGram = p.Cash.RatePerGram
			w.LabourCharges = p.Cash.LabourCharges
			w.StoneCharges = p.Cash.StoneCharges
		}
	case domain.PurchaseBullion:
		if p.Bullion != nil {
			w.OldGoldWeight = p.Bullion.OldGoldWeight
			w.OldGoldTouch = p.Bullion.OldGoldTouch
			w.FreshMetalReceived = p.Bullion.FreshMetalReceived
			w.BalanceConvertedToMoney = p.Bullion.BalanceConverted
			w.BalanceRate = p.Bullion.BalanceRate
			w.LabourCharges = p.Bullion.LabourCharges
		}
	}
	return w
}

func buildPayment(p domain.Payment) wirePayment {
	w := wirePayment{
		ID: p.ID, VepariID: p.VepariID, MetalID: p.MetalID,
		PaymentType: string(p.Type),
		Date:        formatTime(p.Date),
		Notes:       p.Notes,
		CreatedAt:   formatTime(p.CreatedAt),
	}
	switch p.Type {
	case domain.PaymentMetal:
		if p.Metal != nil {
			w.WeightGrams = p.Metal.WeightGrams
			w.RatePerGram = p.Metal.RatePerGram
			w.StoneChargesPaid = p.Metal.StoneChargesPaid
		}
	case domain.PaymentCash:
		if p.Cash != nil {
			w.CashAmount = p.Cash.CashAmount
			w.PaymentMode = p.Cash.PaymentMode
			w.StoneChargesPaid = p.Cash.StoneChargesPaid
		}
	}
	return w
}
