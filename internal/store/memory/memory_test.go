package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"metalkhata/backend/internal/domain"
	"metalkhata/backend/internal/store"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addVepari(t *testing.T, s *Store, id, name string) domain.Vepari {
	t.Helper()
	v, err := s.AddVepari(context.Background(), domain.Vepari{ID: id, Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("AddVepari(%s): %v", id, err)
	}
	return v
}

func addCustomer(t *testing.T, s *Store, id, name string) domain.Customer {
	t.Helper()
	c, err := s.AddCustomer(context.Background(), domain.Customer{ID: id, Name: name, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("AddCustomer(%s): %v", id, err)
	}
	return c
}

func TestDefaultMetalsSeeded(t *testing.T) {
	s := New()
	metals, err := s.ListMetals(context.Background())
	if err != nil {
		t.Fatalf("ListMetals: %v", err)
	}
	if len(metals) != 2 {
		t.Fatalf("expected 2 seeded metals, got %d", len(metals))
	}
	if metals[0].ID != domain.MetalIDGold || metals[1].ID != domain.MetalIDSilver {
		t.Fatalf("unexpected metal order: %s, %s", metals[0].ID, metals[1].ID)
	}
	for _, m := range metals {
		if !m.IsDefault {
			t.Fatalf("metal %s should be default", m.ID)
		}
	}
}

func TestDefaultMetalCannotBeDeleted(t *testing.T) {
	s := New()
	err := s.DeleteMetal(context.Background(), domain.MetalIDGold)
	if !errors.Is(err, store.ErrProtected) {
		t.Fatalf("expected ErrProtected, got %v", err)
	}
}

func TestDeleteMetalProtectedByReferences(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.AddMetal(ctx, domain.Metal{ID: "platinum", Name: "Platinum", Symbol: "Pt", DisplayOrder: 3}); err != nil {
		t.Fatalf("AddMetal: %v", err)
	}
	addVepari(t, s, "v1", "Ratanlal")
	if _, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: "platinum", Type: domain.PurchaseRegular,
		Date:    date(2026, 1, 10),
		Regular: &domain.RegularPurchase{WeightGrams: 10},
	}); err != nil {
		t.Fatalf("AddPurchase: %v", err)
	}

	if err := s.DeleteMetal(ctx, "platinum"); !errors.Is(err, store.ErrProtected) {
		t.Fatalf("expected ErrProtected while referenced, got %v", err)
	}
	if err := s.DeletePurchase(ctx, "p1"); err != nil {
		t.Fatalf("DeletePurchase: %v", err)
	}
	if err := s.DeleteMetal(ctx, "platinum"); err != nil {
		t.Fatalf("DeleteMetal after dereference: %v", err)
	}
}

func TestPurchaseVariantExclusivity(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")

	_, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
		Date:    date(2026, 1, 10),
		Regular: &domain.RegularPurchase{WeightGrams: 10},
		Cash:    &domain.CashPurchase{TotalAmount: 5000},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for two variants, got %v", err)
	}

	_, err = s.AddPurchase(ctx, domain.Purchase{
		ID: "p2", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseCash,
		Date:    date(2026, 1, 10),
		Regular: &domain.RegularPurchase{WeightGrams: 10},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for type/variant mismatch, got %v", err)
	}
}

func TestPurchaseDueDateDerived(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")

	credit := 15
	p, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
		Date:    date(2026, 1, 1),
		Regular: &domain.RegularPurchase{WeightGrams: 100, CreditDays: &credit},
	})
	if err != nil {
		t.Fatalf("AddPurchase: %v", err)
	}
	if p.Regular.DueDate == nil || !p.Regular.DueDate.Equal(date(2026, 1, 16)) {
		t.Fatalf("due date not derived, got %v", p.Regular.DueDate)
	}

	p.Regular.CreditDays = nil
	updated, err := s.UpdatePurchase(ctx, p)
	if err != nil {
		t.Fatalf("UpdatePurchase: %v", err)
	}
	if updated.Regular.DueDate != nil {
		t.Fatalf("due date should clear when credit days removed")
	}
}

func TestBullionDerivedFields(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Bullion House")

	p, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseBullion,
		Date: date(2026, 2, 1),
		Bullion: &domain.BullionPurchase{
			OldGoldWeight:      147,
			OldGoldTouch:       87,
			FreshMetalReceived: 130,
			BalanceConverted:   true,
			BalanceRate:        15500,
			LabourCharges:      949,
		},
	})
	if err != nil {
		t.Fatalf("AddPurchase: %v", err)
	}

	const eps = 1e-6
	if diff := p.Bullion.FineGoldCalculated - 127.89; diff > eps || diff < -eps {
		t.Fatalf("fine gold = %v, want 127.89", p.Bullion.FineGoldCalculated)
	}
	if diff := p.Bullion.BalanceGrams - 2.11; diff > eps || diff < -eps {
		t.Fatalf("balance grams = %v, want 2.11", p.Bullion.BalanceGrams)
	}
	if diff := p.Bullion.BalanceCashAmount - 33654; diff > eps || diff < -eps {
		t.Fatalf("balance cash = %v, want 33654", p.Bullion.BalanceCashAmount)
	}
}

func TestVepariDeleteCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")
	addVepari(t, s, "v2", "Shantilal")

	if _, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
		Date: date(2026, 1, 5), Regular: &domain.RegularPurchase{WeightGrams: 20},
	}); err != nil {
		t.Fatalf("AddPurchase: %v", err)
	}
	if _, err := s.AddPayment(ctx, domain.Payment{
		ID: "pay1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PaymentMetal,
		Date: date(2026, 1, 6), Metal: &domain.MetalPayment{WeightGrams: 5, RatePerGram: 6000},
	}); err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if _, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p2", VepariID: "v2", MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
		Date: date(2026, 1, 5), Regular: &domain.RegularPurchase{WeightGrams: 30},
	}); err != nil {
		t.Fatalf("AddPurchase v2: %v", err)
	}

	if err := s.DeleteVepari(ctx, "v1"); err != nil {
		t.Fatalf("DeleteVepari: %v", err)
	}
	if _, err := s.GetPurchase(ctx, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cascade should remove p1, got %v", err)
	}
	if _, err := s.GetPayment(ctx, "pay1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cascade should remove pay1, got %v", err)
	}
	if _, err := s.GetPurchase(ctx, "p2"); err != nil {
		t.Fatalf("other vepari purchase should survive: %v", err)
	}
}

func TestMetalPaymentAmountDerived(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")

	p, err := s.AddPayment(ctx, domain.Payment{
		ID: "pay1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PaymentMetal,
		Date:  date(2026, 1, 6),
		Metal: &domain.MetalPayment{WeightGrams: 12, RatePerGram: 6100, Amount: 1},
	})
	if err != nil {
		t.Fatalf("AddPayment: %v", err)
	}
	if p.Metal.Amount != 12*6100 {
		t.Fatalf("amount = %v, want %v", p.Metal.Amount, 12*6100)
	}
}

func TestListPurchasesOrderedAndFiltered(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")
	addVepari(t, s, "v2", "Shantilal")

	base := time.Now().UTC()
	for _, tc := range []struct {
		id     string
		vepari string
		day    int
	}{
		{"p-late", "v1", 20},
		{"p-early", "v1", 5},
		{"p-mid", "v1", 12},
		{"p-other", "v2", 1},
	} {
		if _, err := s.AddPurchase(ctx, domain.Purchase{
			ID: tc.id, VepariID: tc.vepari, MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
			Date: date(2026, 3, tc.day), Regular: &domain.RegularPurchase{WeightGrams: 10},
			CreatedAt: base,
		}); err != nil {
			t.Fatalf("AddPurchase(%s): %v", tc.id, err)
		}
	}

	purchases, err := s.ListPurchases(ctx, "v1")
	if err != nil {
		t.Fatalf("ListPurchases: %v", err)
	}
	if len(purchases) != 3 {
		t.Fatalf("expected 3 purchases for v1, got %d", len(purchases))
	}
	want := []string{"p-early", "p-mid", "p-late"}
	for i, id := range want {
		if purchases[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, purchases[i].ID, id)
		}
	}
}

func TestDeliveryBoundEnforced(t *testing.T) {
	s := New()
	ctx := context.Background()
	addCustomer(t, s, "c1", "Meena")

	if _, err := s.AddCustomerPurchase(ctx, domain.CustomerPurchase{
		ID: "cp1", CustomerID: "c1", MetalID: domain.MetalIDGold,
		Date: date(2026, 4, 1), WeightGrams: 10, SaleRatePerGram: 6500, PurchaseRatePerGram: 6000,
	}); err != nil {
		t.Fatalf("AddCustomerPurchase: %v", err)
	}

	if _, err := s.AddDelivery(ctx, domain.DeliveryRecord{
		ID: "d1", PurchaseID: "cp1", Date: date(2026, 4, 5), WeightGrams: 4,
	}); err != nil {
		t.Fatalf("AddDelivery: %v", err)
	}

	_, err := s.AddDelivery(ctx, domain.DeliveryRecord{
		ID: "d2", PurchaseID: "cp1", Date: date(2026, 4, 6), WeightGrams: 7,
	})
	if !errors.Is(err, store.ErrDeliveryExceedsRemaining) {
		t.Fatalf("expected ErrDeliveryExceedsRemaining, got %v", err)
	}

	cp, err := s.GetCustomerPurchase(ctx, "cp1")
	if err != nil {
		t.Fatalf("GetCustomerPurchase: %v", err)
	}
	if cp.DeliveredGrams != 4 {
		t.Fatalf("delivered = %v, want 4 (failed delivery must not mutate)", cp.DeliveredGrams)
	}

	if _, err := s.AddDelivery(ctx, domain.DeliveryRecord{
		ID: "d3", PurchaseID: "cp1", Date: date(2026, 4, 7), WeightGrams: 6,
	}); err != nil {
		t.Fatalf("delivery up to exact remaining should succeed: %v", err)
	}
}

func TestCustomerPurchaseUpdateKeepsDeliveredWeight(t *testing.T) {
	s := New()
	ctx := context.Background()
	addCustomer(t, s, "c1", "Meena")

	cp, err := s.AddCustomerPurchase(ctx, domain.CustomerPurchase{
		ID: "cp1", CustomerID: "c1", MetalID: domain.MetalIDGold,
		Date: date(2026, 4, 1), WeightGrams: 10,
	})
	if err != nil {
		t.Fatalf("AddCustomerPurchase: %v", err)
	}
	if _, err := s.AddDelivery(ctx, domain.DeliveryRecord{
		ID: "d1", PurchaseID: "cp1", Date: date(2026, 4, 5), WeightGrams: 3,
	}); err != nil {
		t.Fatalf("AddDelivery: %v", err)
	}

	cp.DeliveredGrams = 0
	cp.Notes = "rate renegotiated"
	updated, err := s.UpdateCustomerPurchase(ctx, cp)
	if err != nil {
		t.Fatalf("UpdateCustomerPurchase: %v", err)
	}
	if updated.DeliveredGrams != 3 {
		t.Fatalf("delivered = %v, want 3 (update must not reset the delivery log)", updated.DeliveredGrams)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	addVepari(t, s, "v1", "Ratanlal")
	addCustomer(t, s, "c1", "Meena")

	credit := 10
	if _, err := s.AddPurchase(ctx, domain.Purchase{
		ID: "p1", VepariID: "v1", MetalID: domain.MetalIDGold, Type: domain.PurchaseRegular,
		Date: date(2026, 1, 1), Regular: &domain.RegularPurchase{WeightGrams: 50, CreditDays: &credit},
	}); err != nil {
		t.Fatalf("AddPurchase: %v", err)
	}
	if _, err := s.AddCustomerPurchase(ctx, domain.CustomerPurchase{
		ID: "cp1", CustomerID: "c1", MetalID: domain.MetalIDSilver,
		Date: date(2026, 1, 2), WeightGrams: 200,
	}); err != nil {
		t.Fatalf("AddCustomerPurchase: %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fresh := New()
	if err := fresh.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	p, err := fresh.GetPurchase(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPurchase after restore: %v", err)
	}
	if p.Regular == nil || p.Regular.DueDate == nil || !p.Regular.DueDate.Equal(date(2026, 1, 11)) {
		t.Fatalf("derived due date lost across restore: %+v", p.Regular)
	}
	if _, err := fresh.GetCustomerPurchase(ctx, "cp1"); err != nil {
		t.Fatalf("GetCustomerPurchase after restore: %v", err)
	}

	// Mutating the snapshot must not affect the store.
	snap.Purchases[0].Regular.WeightGrams = 999
	p2, _ := fresh.GetPurchase(ctx, "p1")
	if p2.Regular.WeightGrams != 50 {
		t.Fatalf("restore must deep-copy, got weight %v", p2.Regular.WeightGrams)
	}
}

func TestRevisionBumpsOnMutation(t *testing.T) {
	s := New()
	ctx := context.Background()

	r0, _ := s.Revision(ctx)
	addVepari(t, s, "v1", "Ratanlal")
	r1, _ := s.Revision(ctx)
	if r1 <= r0 {
		t.Fatalf("revision should advance on mutation: %d -> %d", r0, r1)
	}
	if _, err := s.ListVeparis(ctx); err != nil {
		t.Fatalf("ListVeparis: %v", err)
	}
	r2, _ := s.Revision(ctx)
	if r2 != r1 {
		t.Fatalf("reads must not advance revision: %d -> %d", r1, r2)
	}
}

func TestSeededUsersCanBeFetched(t *testing.T) {
	s := New()
	for _, username := range []string{"admin", "staff"} {
		u, err := s.GetUser(context.Background(), username)
		if err != nil {
			t.Fatalf("GetUser(%s): %v", username, err)
		}
		if !u.Active {
			t.Fatalf("seeded user %s should be active", username)
		}
	}
}
