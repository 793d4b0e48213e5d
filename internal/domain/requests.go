package domain

import "time"

// Transaction request payloads. Dates travel as "2006-01-02" strings and are
// parsed by the service layer.

type PurchaseRequest struct {
	VepariID string           `json:"vepari_id"`
	MetalID  string           `json:"metal_id"`
	Type     PurchaseType     `json:"purchase_type"`
	Date     string           `json:"date"`
	Notes    string           `json:"notes"`
	Regular  *RegularPurchase `json:"regular,omitempty"`
	Cash     *CashPurchase    `json:"cash,omitempty"`
	Bullion  *BullionPurchase `json:"bullion,omitempty"`
}

type PaymentRequest struct {
	VepariID string        `json:"vepari_id"`
	MetalID  string        `json:"metal_id"`
	Type     PaymentType   `json:"payment_type"`
	Date     string        `json:"date"`
	Notes    string        `json:"notes"`
	Metal    *MetalPayment `json:"metal,omitempty"`
	Cash     *CashPayment  `json:"cash,omitempty"`
}

type CustomerPurchaseRequest struct {
	CustomerID          string  `json:"customer_id"`
	MetalID             string  `json:"metal_id"`
	Date                string  `json:"date"`
	WeightGrams         float64 `json:"weight_grams"`
	PurchaseRatePerGram float64 `json:"purchase_rate_per_gram"`
	SaleRatePerGram     float64 `json:"sale_rate_per_gram"`
	MakingCharges       float64 `json:"making_charges"`
	StoneCharges        float64 `json:"stone_charges"`
	Notes               string  `json:"notes"`
}

type CustomerPaymentRequest struct {
	CustomerID  string  `json:"customer_id"`
	PurchaseID  string  `json:"purchase_id"`
	Date        string  `json:"date"`
	Amount      float64 `json:"amount"`
	PaymentMode string  `json:"payment_mode"`
	Notes       string  `json:"notes"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type DeliveryRequest struct {
	PurchaseID  string  `json:"purchase_id"`
	Date        string  `json:"date"`
	WeightGrams float64 `json:"weight_grams"`
	Notes       string  `json:"notes"`
}
