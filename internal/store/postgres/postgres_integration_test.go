package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"metalkhata/backend/internal/domain"
)

func TestSnapshotSurvivesReload(t *testing.T) {
	databaseURL := os.Getenv("METALKHATA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set METALKHATA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	vepariID := fmt.Sprintf("vep-it-%d", stamp)
	purchaseID := fmt.Sprintf("pur-it-%d", stamp)

	if _, err := s.AddVepari(ctx, domain.Vepari{
		ID:        vepariID,
		Name:      "Integration Vepari",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("add vepari: %v", err)
	}

	purchase := domain.Purchase{
		ID:        purchaseID,
		VepariID:  vepariID,
		MetalID:   domain.MetalIDGold,
		Type:      domain.PurchaseRegular,
		Date:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: time.Now().UTC(),
		Regular:   &domain.RegularPurchase{WeightGrams: 50, RatePerGram: 6000},
	}
	purchase.RecomputeDerived()
	if _, err := s.AddPurchase(ctx, purchase); err != nil {
		t.Fatalf("add purchase: %v", err)
	}

	// A fresh store instance must come back with the persisted records.
	reloaded, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	t.Cleanup(func() {
		_ = reloaded.Close()
	})

	got, err := reloaded.GetPurchase(ctx, purchaseID)
	if err != nil {
		t.Fatalf("get purchase after reload: %v", err)
	}
	if got.Regular == nil || got.Regular.WeightGrams != 50 {
		t.Fatalf("reloaded purchase lost its detail: %+v", got)
	}

	if err := reloaded.DeleteVepari(ctx, vepariID); err != nil {
		t.Fatalf("cleanup vepari: %v", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("METALKHATA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set METALKHATA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	username := fmt.Sprintf("it-user-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username)
	})

	if err := s.CreateUser(ctx, domain.UserAccount{
		Username: username,
		Password: "$2a$10$0000000000000000000000000000000000000000000000000000",
		Role:     "staff",
		Active:   true,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := s.GetUser(ctx, username)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Role != "staff" || !got.Active {
		t.Fatalf("unexpected user: %+v", got)
	}
}
