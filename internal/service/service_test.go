package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"metalkhata/backend/internal/domain"
	"metalkhata/backend/internal/store"
	"metalkhata/backend/internal/store/memory"
)

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func newService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New(), nil, time.Minute)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return payload, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	c.sets++
	return nil
}

func TestCreateMetalRequiresAdmin(t *testing.T) {
	svc := newService(t)

	_, err := svc.CreateMetal(staffCtx(), domain.MetalCreateRequest{Name: "Platinum"})
	if err == nil || !strings.Contains(err.Error(), "admin") {
		t.Fatalf("expected admin requirement, got %v", err)
	}

	if _, err := svc.CreateMetal(adminCtx(), domain.MetalCreateRequest{Name: "Platinum", Symbol: "Pt"}); err != nil {
		t.Fatalf("CreateMetal as admin: %v", err)
	}
}

func TestPurchaseInheritsVepariCreditDefaults(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	credit := 20
	penalty := 0.25
	vepari, err := svc.CreateVepari(ctx, domain.VepariCreateRequest{
		Name:                        "Ratanlal",
		DefaultCreditDays:           &credit,
		DefaultPenaltyPercentPerDay: &penalty,
	})
	if err != nil {
		t.Fatalf("CreateVepari: %v", err)
	}

	p, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		Type:     domain.PurchaseRegular,
		Date:     "2026-01-05",
		Regular:  &domain.RegularPurchase{WeightGrams: 100, RatePerGram: 6000},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if p.Regular.CreditDays == nil || *p.Regular.CreditDays != 20 {
		t.Fatalf("credit days not inherited: %v", p.Regular.CreditDays)
	}
	if p.Regular.PenaltyPercentPerDay != 0.25 {
		t.Fatalf("penalty not inherited: %v", p.Regular.PenaltyPercentPerDay)
	}
	if p.Regular.DueDate == nil || !p.Regular.DueDate.Equal(time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("due date = %v, want 2026-01-25", p.Regular.DueDate)
	}
	if p.MetalID != domain.MetalIDGold {
		t.Fatalf("empty metal should default to gold, got %s", p.MetalID)
	}

	// Explicit terms on the purchase win over the vepari defaults.
	own := 5
	p2, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		Type:     domain.PurchaseRegular,
		Date:     "2026-01-05",
		Regular:  &domain.RegularPurchase{WeightGrams: 50, CreditDays: &own, PenaltyPercentPerDay: 1},
	})
	if err != nil {
		t.Fatalf("CreatePurchase with own terms: %v", err)
	}
	if *p2.Regular.CreditDays != 5 || p2.Regular.PenaltyPercentPerDay != 1 {
		t.Fatalf("own terms overridden: %v/%v", *p2.Regular.CreditDays, p2.Regular.PenaltyPercentPerDay)
	}
}

func TestCreatePurchaseRejectsBadDate(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()
	vepari, _ := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"})

	_, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		Type:     domain.PurchaseRegular,
		Date:     "05/01/2026",
		Regular:  &domain.RegularPurchase{WeightGrams: 10},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad date, got %v", err)
	}
}

func TestCustomerPaymentLinkValidated(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	meena, _ := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Meena"})
	other, _ := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Radha"})

	sale, err := svc.CreateCustomerPurchase(ctx, domain.CustomerPurchaseRequest{
		CustomerID:      meena.ID,
		Date:            "2026-03-01",
		WeightGrams:     10,
		SaleRatePerGram: 6500,
	})
	if err != nil {
		t.Fatalf("CreateCustomerPurchase: %v", err)
	}

	_, err = svc.CreateCustomerPayment(ctx, domain.CustomerPaymentRequest{
		CustomerID: other.ID,
		PurchaseID: sale.ID,
		Date:       "2026-03-02",
		Amount:     5000,
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for cross-customer link, got %v", err)
	}

	if _, err := svc.CreateCustomerPayment(ctx, domain.CustomerPaymentRequest{
		CustomerID: meena.ID,
		PurchaseID: sale.ID,
		Date:       "2026-03-02",
		Amount:     5000,
	}); err != nil {
		t.Fatalf("CreateCustomerPayment: %v", err)
	}
}

func TestDeliveryThroughService(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	meena, _ := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Meena"})
	sale, err := svc.CreateCustomerPurchase(ctx, domain.CustomerPurchaseRequest{
		CustomerID:      meena.ID,
		Date:            "2026-04-01",
		WeightGrams:     10,
		SaleRatePerGram: 6500,
	})
	if err != nil {
		t.Fatalf("CreateCustomerPurchase: %v", err)
	}

	if _, err := svc.CreateDelivery(ctx, domain.DeliveryRequest{
		PurchaseID: sale.ID, Date: "2026-04-05", WeightGrams: 4,
	}); err != nil {
		t.Fatalf("CreateDelivery: %v", err)
	}

	_, err = svc.CreateDelivery(ctx, domain.DeliveryRequest{
		PurchaseID: sale.ID, Date: "2026-04-06", WeightGrams: 7,
	})
	if !errors.Is(err, store.ErrDeliveryExceedsRemaining) {
		t.Fatalf("expected ErrDeliveryExceedsRemaining, got %v", err)
	}

	summaries, err := svc.CustomerSummaries(ctx)
	if err != nil {
		t.Fatalf("CustomerSummaries: %v", err)
	}
	if summaries[0].PendingGrams != 6 {
		t.Fatalf("pending grams = %v, want 6", summaries[0].PendingGrams)
	}
}

func TestSummaryCacheHitsOnStableRevision(t *testing.T) {
	c := newMapCache()
	svc := New(memory.New(), c, time.Minute)
	ctx := staffCtx()

	vepari, _ := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"})
	if _, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID, Type: domain.PurchaseRegular, Date: "2026-01-05",
		Regular: &domain.RegularPurchase{WeightGrams: 100},
	}); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	if _, err := svc.VepariSummaries(ctx); err != nil {
		t.Fatalf("VepariSummaries: %v", err)
	}
	setsAfterFirst := c.sets
	if setsAfterFirst == 0 {
		t.Fatalf("first summary call should populate the cache")
	}

	if _, err := svc.VepariSummaries(ctx); err != nil {
		t.Fatalf("VepariSummaries again: %v", err)
	}
	if c.hits == 0 {
		t.Fatalf("second summary call should hit the cache")
	}
	if c.sets != setsAfterFirst {
		t.Fatalf("cache hit should not re-populate")
	}

	// A mutation moves reads to a new key.
	if _, err := svc.CreatePayment(ctx, domain.PaymentRequest{
		VepariID: vepari.ID, Type: domain.PaymentMetal, Date: "2026-01-10",
		Metal: &domain.MetalPayment{WeightGrams: 40, RatePerGram: 6000},
	}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	summaries, err := svc.VepariSummaries(ctx)
	if err != nil {
		t.Fatalf("VepariSummaries after mutation: %v", err)
	}
	if summaries[0].Metals[0].RemainingGrams != 60 {
		t.Fatalf("stale summary served after mutation: %+v", summaries[0].Metals)
	}
	if c.sets != setsAfterFirst+1 {
		t.Fatalf("mutation should force a recompute, sets = %d", c.sets)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := adminCtx()

	vepari, _ := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"})
	if _, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID, Type: domain.PurchaseRegular, Date: "2026-01-05",
		Regular: &domain.RegularPurchase{WeightGrams: 100, RatePerGram: 6000},
	}); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	data, err := svc.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	fresh := newService(t)
	if err := fresh.ImportSnapshot(adminCtx(), data); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	veparis, err := fresh.ListVeparis(adminCtx())
	if err != nil {
		t.Fatalf("ListVeparis: %v", err)
	}
	if len(veparis) != 1 || veparis[0].Name != "Ratanlal" {
		t.Fatalf("imported veparis = %+v", veparis)
	}
	purchases, err := fresh.ListPurchases(adminCtx(), "")
	if err != nil {
		t.Fatalf("ListPurchases: %v", err)
	}
	if len(purchases) != 1 || purchases[0].Regular == nil || purchases[0].Regular.WeightGrams != 100 {
		t.Fatalf("imported purchases = %+v", purchases)
	}
}

func TestImportRejectsMalformedWithoutMutation(t *testing.T) {
	svc := newService(t)
	ctx := adminCtx()

	if _, err := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"}); err != nil {
		t.Fatalf("CreateVepari: %v", err)
	}

	err := svc.ImportSnapshot(ctx, []byte(`{"veparis": []}`))
	if err == nil {
		t.Fatalf("malformed import should fail")
	}

	veparis, _ := svc.ListVeparis(ctx)
	if len(veparis) != 1 {
		t.Fatalf("failed import must not mutate the store, veparis = %d", len(veparis))
	}
}

func TestImportRequiresAdmin(t *testing.T) {
	svc := newService(t)
	err := svc.ImportSnapshot(staffCtx(), []byte(`{"veparis":[],"purchases":[],"payments":[],"metals":[]}`))
	if err == nil || !strings.Contains(err.Error(), "admin") {
		t.Fatalf("expected admin requirement, got %v", err)
	}
}

func TestAuditTrailWritten(t *testing.T) {
	svc := newService(t)
	ctx := adminCtx()

	if _, err := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"}); err != nil {
		t.Fatalf("CreateVepari: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, 10)
	if err != nil {
		t.Fatalf("ListAuditLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(logs))
	}
	if logs[0].Action != "vepari_create" || logs[0].ActorUsername != "admin" {
		t.Fatalf("audit entry = %+v", logs[0])
	}

	if _, err := svc.ListAuditLogs(staffCtx(), 10); err == nil {
		t.Fatalf("audit listing should require admin")
	}
}

func TestVepariDeleteRequiresAdmin(t *testing.T) {
	svc := newService(t)
	vepari, _ := svc.CreateVepari(staffCtx(), domain.VepariCreateRequest{Name: "Ratanlal"})

	if err := svc.DeleteVepari(staffCtx(), vepari.ID); err == nil {
		t.Fatalf("staff should not delete veparis")
	}
	if err := svc.DeleteVepari(adminCtx(), vepari.ID); err != nil {
		t.Fatalf("DeleteVepari as admin: %v", err)
	}
}

func TestRemainingGramsQuery(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	vepari, err := svc.CreateVepari(ctx, domain.VepariCreateRequest{Name: "Ratanlal"})
	if err != nil {
		t.Fatalf("CreateVepari: %v", err)
	}

	first, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		Type:     domain.PurchaseRegular,
		Date:     "2026-01-05",
		Regular:  &domain.RegularPurchase{WeightGrams: 100},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	second, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		Type:     domain.PurchaseRegular,
		Date:     "2026-01-10",
		Regular:  &domain.RegularPurchase{WeightGrams: 50},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	if _, err := svc.CreatePayment(ctx, domain.PaymentRequest{
		VepariID: vepari.ID,
		Type:     domain.PaymentMetal,
		Date:     "2026-01-12",
		Metal:    &domain.MetalPayment{WeightGrams: 60, RatePerGram: 6000},
	}); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	silver, err := svc.CreatePurchase(ctx, domain.PurchaseRequest{
		VepariID: vepari.ID,
		MetalID:  domain.MetalIDSilver,
		Type:     domain.PurchaseRegular,
		Date:     "2026-01-11",
		Regular:  &domain.RegularPurchase{WeightGrams: 800},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	// No metal filter covers every metal the vepari trades in.
	remaining, err := svc.RemainingGrams(ctx, vepari.ID, "")
	if err != nil {
		t.Fatalf("RemainingGrams: %v", err)
	}
	if got := remaining[first.ID]; got != 40 {
		t.Fatalf("oldest purchase remaining = %v, want 40", got)
	}
	if got := remaining[second.ID]; got != 50 {
		t.Fatalf("newer purchase remaining = %v, want 50", got)
	}
	if got := remaining[silver.ID]; got != 800 {
		t.Fatalf("silver purchase remaining = %v, want 800", got)
	}

	goldOnly, err := svc.RemainingGrams(ctx, vepari.ID, domain.MetalIDGold)
	if err != nil {
		t.Fatalf("RemainingGrams: %v", err)
	}
	if _, ok := goldOnly[silver.ID]; ok {
		t.Fatalf("gold filter should exclude the silver purchase")
	}
	if len(goldOnly) != 2 {
		t.Fatalf("gold filter size = %d, want 2", len(goldOnly))
	}

	if _, err := svc.RemainingGrams(ctx, "missing", ""); err == nil {
		t.Fatalf("unknown vepari should fail")
	}
}

func TestUpdateCustomerPayment(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	customer, _ := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Meena"})
	payment, err := svc.CreateCustomerPayment(ctx, domain.CustomerPaymentRequest{
		CustomerID:  customer.ID,
		Date:        "2026-02-05",
		Amount:      10000,
		PaymentMode: "cash",
	})
	if err != nil {
		t.Fatalf("CreateCustomerPayment: %v", err)
	}

	updated, err := svc.UpdateCustomerPayment(ctx, payment.ID, domain.CustomerPaymentRequest{
		Date:        "2026-02-06",
		Amount:      12000,
		PaymentMode: "upi",
	})
	if err != nil {
		t.Fatalf("UpdateCustomerPayment: %v", err)
	}
	if updated.Amount != 12000 || updated.PaymentMode != "upi" {
		t.Fatalf("update not applied: %+v", updated)
	}

	other, _ := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Radha"})
	sale, err := svc.CreateCustomerPurchase(ctx, domain.CustomerPurchaseRequest{
		CustomerID: other.ID, Date: "2026-02-01", WeightGrams: 5, SaleRatePerGram: 6000,
	})
	if err != nil {
		t.Fatalf("CreateCustomerPurchase: %v", err)
	}
	if _, err := svc.UpdateCustomerPayment(ctx, payment.ID, domain.CustomerPaymentRequest{
		PurchaseID: sale.ID, Date: "2026-02-06", Amount: 12000,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for cross-customer relink, got %v", err)
	}
}

func TestDeleteSaleUnlinksItsPayments(t *testing.T) {
	svc := newService(t)
	ctx := staffCtx()

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Meena"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	sale, err := svc.CreateCustomerPurchase(ctx, domain.CustomerPurchaseRequest{
		CustomerID:      customer.ID,
		MetalID:         domain.MetalIDGold,
		Date:            "2026-02-01",
		WeightGrams:     10,
		SaleRatePerGram: 6500,
	})
	if err != nil {
		t.Fatalf("CreateCustomerPurchase: %v", err)
	}
	payment, err := svc.CreateCustomerPayment(ctx, domain.CustomerPaymentRequest{
		CustomerID: customer.ID,
		PurchaseID: sale.ID,
		Date:       "2026-02-05",
		Amount:     10000,
	})
	if err != nil {
		t.Fatalf("CreateCustomerPayment: %v", err)
	}

	if err := svc.DeleteCustomerPurchase(ctx, sale.ID); err != nil {
		t.Fatalf("DeleteCustomerPurchase: %v", err)
	}

	payments, err := svc.ListCustomerPayments(ctx, customer.ID)
	if err != nil {
		t.Fatalf("ListCustomerPayments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected the payment to survive, got %d", len(payments))
	}
	if payments[0].ID != payment.ID || payments[0].PurchaseID != "" {
		t.Fatalf("payment not unlinked: %+v", payments[0])
	}
}
