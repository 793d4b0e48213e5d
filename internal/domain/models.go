package domain

import "time"

type Metal struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Color        string    `json:"color,omitempty"`
	DisplayOrder int       `json:"display_order"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

type MetalCreateRequest struct {
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Color        string `json:"color"`
	DisplayOrder int    `json:"display_order"`
}

type MetalUpdateRequest struct {
	Name         *string `json:"name,omitempty"`
	Symbol       *string `json:"symbol,omitempty"`
	Color        *string `json:"color,omitempty"`
	DisplayOrder *int    `json:"display_order,omitempty"`
}

type Vepari struct {
	ID                          string    `json:"id"`
	Name                        string    `json:"name"`
	Phone                       string    `json:"phone,omitempty"`
	DefaultCreditDays           *int      `json:"default_credit_days,omitempty"`
	DefaultPenaltyPercentPerDay *float64  `json:"default_penalty_percent_per_day,omitempty"`
	CreatedAt                   time.Time `json:"created_at"`
}

type VepariCreateRequest struct {
	Name                        string   `json:"name"`
	Phone                       string   `json:"phone"`
	DefaultCreditDays           *int     `json:"default_credit_days,omitempty"`
	DefaultPenaltyPercentPerDay *float64 `json:"default_penalty_percent_per_day,omitempty"`
}

type VepariUpdateRequest struct {
	Name                        *string  `json:"name,omitempty"`
	Phone                       *string  `json:"phone,omitempty"`
	DefaultCreditDays           *int     `json:"default_credit_days,omitempty"`
	DefaultPenaltyPercentPerDay *float64 `json:"default_penalty_percent_per_day,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type CustomerUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type PurchaseType string

const (
	PurchaseRegular PurchaseType = "regular"
	PurchaseCash    PurchaseType = "cash"
	PurchaseBullion PurchaseType = "bullion"
)

// RegularPurchase is metal bought on weight terms; the weight owed is
// settled through metal payments (FIFO, oldest purchase first).
type RegularPurchase struct {
	WeightGrams          float64    `json:"weight_grams"`
	RatePerGram          float64    `json:"rate_per_gram,omitempty"`
	StoneCharges         float64    `json:"stone_charges,omitempty"`
	CreditDays           *int       `json:"credit_days,omitempty"`
	PenaltyPercentPerDay float64    `json:"penalty_percent_per_day,omitempty"`
	DueDate              *time.Time `json:"due_date,omitempty"`
}

// CashPurchase settles in currency at a fixed price. Weight and rate are
// reference-only and never enter the metal-weight ledger.
type CashPurchase struct {
	TotalAmount   float64 `json:"total_amount"`
	WeightGrams   float64 `json:"weight_grams,omitempty"`
	RatePerGram   float64 `json:"rate_per_gram,omitempty"`
	LabourCharges float64 `json:"labour_charges,omitempty"`
	StoneCharges  float64 `json:"stone_charges,omitempty"`
}

// BullionPurchase is an old-gold exchange: fine-gold equivalent surrendered
// against fresh metal received. A positive balance means the shop owes the
// bullion house metal; the balance can optionally be converted to cash.
type BullionPurchase struct {
	OldGoldWeight      float64 `json:"old_gold_weight"`
	OldGoldTouch       float64 `json:"old_gold_touch"`
	FineGoldCalculated float64 `json:"fine_gold_calculated"`
	FreshMetalReceived float64 `json:"fresh_metal_received"`
	BalanceGrams       float64 `json:"balance_grams"`
	BalanceConverted   bool    `json:"balance_converted_to_money"`
	BalanceRate        float64 `json:"balance_rate,omitempty"`
	BalanceCashAmount  float64 `json:"balance_cash_amount,omitempty"`
	LabourCharges      float64 `json:"labour_charges,omitempty"`
}

// Purchase is a tagged union: exactly one of Regular, Cash, Bullion is
// non-nil and matches Type. The store rejects anything else at write time.
type Purchase struct {
	ID        string           `json:"id"`
	VepariID  string           `json:"vepari_id"`
	MetalID   string           `json:"metal_id"`
	Type      PurchaseType     `json:"purchase_type"`
	Date      time.Time        `json:"date"`
	Notes     string           `json:"notes,omitempty"`
	Regular   *RegularPurchase `json:"regular,omitempty"`
	Cash      *CashPurchase    `json:"cash,omitempty"`
	Bullion   *BullionPurchase `json:"bullion,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// RecomputeDerived recalculates every cached derived field on the purchase
// from its inputs. Mutation paths call this instead of trusting stored
// values, so a due date or bullion balance can never drift from the fields
// it is derived from.
func (p *Purchase) RecomputeDerived() {
	switch p.Type {
	case PurchaseRegular:
		if p.Regular == nil {
			return
		}
		if p.Regular.CreditDays != nil {
			due := p.Date.AddDate(0, 0, *p.Regular.CreditDays)
			p.Regular.DueDate = &due
		} else {
			p.Regular.DueDate = nil
		}
	case PurchaseBullion:
		if p.Bullion == nil {
			return
		}
		b := p.Bullion
		b.FineGoldCalculated = b.OldGoldWeight * b.OldGoldTouch / 100
		b.BalanceGrams = b.FreshMetalReceived - b.FineGoldCalculated
		if b.BalanceConverted {
			balance := b.BalanceGrams
			if balance < 0 {
				balance = -balance
			}
			b.BalanceCashAmount = balance*b.BalanceRate + b.LabourCharges
		} else {
			b.BalanceCashAmount = 0
		}
	}
}

// StoneCharges returns the stone charges carried by the purchase regardless
// of variant; stone debt is tracked across all purchase types.
func (p Purchase) StoneCharges() float64 {
	switch p.Type {
	case PurchaseRegular:
		if p.Regular != nil {
			return p.Regular.StoneCharges
		}
	case PurchaseCash:
		if p.Cash != nil {
			return p.Cash.StoneCharges
		}
	}
	return 0
}

type PaymentType string

const (
	PaymentMetal PaymentType = "metal"
	PaymentCash  PaymentType = "cash"
)

type MetalPayment struct {
	WeightGrams      float64 `json:"weight_grams"`
	RatePerGram      float64 `json:"rate_per_gram"`
	Amount           float64 `json:"amount"`
	StoneChargesPaid float64 `json:"stone_charges_paid,omitempty"`
}

type CashPayment struct {
	CashAmount       float64 `json:"cash_amount"`
	PaymentMode      string  `json:"payment_mode,omitempty"`
	StoneChargesPaid float64 `json:"stone_charges_paid,omitempty"`
}

// Payment is a tagged union: exactly one of Metal, Cash is non-nil and
// matches Type.
type Payment struct {
	ID        string        `json:"id"`
	VepariID  string        `json:"vepari_id"`
	MetalID   string        `json:"metal_id"`
	Type      PaymentType   `json:"payment_type"`
	Date      time.Time     `json:"date"`
	Notes     string        `json:"notes,omitempty"`
	Metal     *MetalPayment `json:"metal,omitempty"`
	Cash      *CashPayment  `json:"cash,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func (p *Payment) RecomputeDerived() {
	if p.Type == PaymentMetal && p.Metal != nil {
		p.Metal.Amount = p.Metal.WeightGrams * p.Metal.RatePerGram
	}
}

// StoneChargesPaid returns the stone-charge portion of the payment; stone
// debt can be cleared by either payment type.
func (p Payment) StoneChargesPaid() float64 {
	switch p.Type {
	case PaymentMetal:
		if p.Metal != nil {
			return p.Metal.StoneChargesPaid
		}
	case PaymentCash:
		if p.Cash != nil {
			return p.Cash.StoneChargesPaid
		}
	}
	return 0
}

type CustomerPurchase struct {
	ID                  string    `json:"id"`
	CustomerID          string    `json:"customer_id"`
	MetalID             string    `json:"metal_id"`
	Date                time.Time `json:"date"`
	WeightGrams         float64   `json:"weight_grams"`
	PurchaseRatePerGram float64   `json:"purchase_rate_per_gram"`
	SaleRatePerGram     float64   `json:"sale_rate_per_gram"`
	MakingCharges       float64   `json:"making_charges,omitempty"`
	StoneCharges        float64   `json:"stone_charges,omitempty"`
	DeliveredGrams      float64   `json:"delivered_grams"`
	Notes               string    `json:"notes,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

func (p CustomerPurchase) SaleValue() float64 {
	return p.WeightGrams*p.SaleRatePerGram + p.MakingCharges + p.StoneCharges
}

func (p CustomerPurchase) CostValue() float64 {
	return p.WeightGrams * p.PurchaseRatePerGram
}

func (p CustomerPurchase) GrossProfit() float64 {
	return p.SaleValue() - p.CostValue()
}

func (p CustomerPurchase) PendingGrams() float64 {
	return p.WeightGrams - p.DeliveredGrams
}

type CustomerPayment struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	PurchaseID  string    `json:"purchase_id,omitempty"`
	Date        time.Time `json:"date"`
	Amount      float64   `json:"amount"`
	PaymentMode string    `json:"payment_mode,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryRecord is an append-only log entry; the store increments the
// parent purchase's DeliveredGrams in the same critical section.
type DeliveryRecord struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	PurchaseID  string    `json:"purchase_id"`
	Date        time.Time `json:"date"`
	WeightGrams float64   `json:"weight_grams"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type PurchaseStatus string

const (
	StatusPaid     PurchaseStatus = "paid"
	StatusNoCredit PurchaseStatus = "no-credit"
	StatusOverdue  PurchaseStatus = "overdue"
	StatusUpcoming PurchaseStatus = "upcoming"
	StatusNormal   PurchaseStatus = "normal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is the full record set handed to and from the persistence
// collaborator; restoring one replaces the live store wholesale.
type Snapshot struct {
	Version           int                `json:"version"`
	ExportedAt        time.Time          `json:"exported_at"`
	Metals            []Metal            `json:"metals"`
	Veparis           []Vepari           `json:"veparis"`
	Purchases         []Purchase         `json:"purchases"`
	Payments          []Payment          `json:"payments"`
	Customers         []Customer         `json:"customers"`
	CustomerPurchases []CustomerPurchase `json:"customer_purchases"`
	CustomerPayments  []CustomerPayment  `json:"customer_payments"`
	Deliveries        []DeliveryRecord   `json:"deliveries"`
}

const (
	MetalIDGold   = "gold"
	MetalIDSilver = "silver"
)
