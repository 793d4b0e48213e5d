package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"metalkhata/backend/internal/cache"
	"metalkhata/backend/internal/domain"
	"metalkhata/backend/internal/ledger"
	"metalkhata/backend/internal/snapshot"
	"metalkhata/backend/internal/store"
	"metalkhata/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dateLayout = "2006-01-02"

type Service struct {
	repo       store.Repository
	summaries  cache.SummaryCache
	summaryTTL time.Duration
}

func New(repo store.Repository, summaries cache.SummaryCache, summaryTTL time.Duration) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if summaryTTL <= 0 {
		summaryTTL = 5 * time.Minute
	}

	return &Service{
		repo:       repo,
		summaries:  summaries,
		summaryTTL: summaryTTL,
	}
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", store.ErrValidation)
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q, want YYYY-MM-DD", store.ErrValidation, s)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	return nil
}

// --- metals ---

func (s *Service) ListMetals(ctx context.Context) ([]domain.Metal, error) {
	return s.repo.ListMetals(ctx)
}

func (s *Service) CreateMetal(ctx context.Context, req domain.MetalCreateRequest) (domain.Metal, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Metal{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Metal{}, fmt.Errorf("%w: metal name is required", store.ErrValidation)
	}

	metal := domain.Metal{
		ID:           xid.New("metal"),
		Name:         req.Name,
		Symbol:       strings.TrimSpace(req.Symbol),
		Color:        strings.TrimSpace(req.Color),
		DisplayOrder: req.DisplayOrder,
		CreatedAt:    time.Now().UTC(),
	}
	created, err := s.repo.AddMetal(ctx, metal)
	if err != nil {
		return domain.Metal{}, err
	}
	s.logAudit(ctx, "metal_create", "metal", created.ID, fmt.Sprintf("name=%s", created.Name))
	return created, nil
}

func (s *Service) UpdateMetal(ctx context.Context, id string, req domain.MetalUpdateRequest) (domain.Metal, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Metal{}, err
	}

	existing, err := s.repo.GetMetal(ctx, id)
	if err != nil {
		return domain.Metal{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Metal{}, fmt.Errorf("%w: metal name cannot be empty", store.ErrValidation)
		}
		existing.Name = name
	}
	if req.Symbol != nil {
		existing.Symbol = strings.TrimSpace(*req.Symbol)
	}
	if req.Color != nil {
		existing.Color = strings.TrimSpace(*req.Color)
	}
	if req.DisplayOrder != nil {
		existing.DisplayOrder = *req.DisplayOrder
	}

	updated, err := s.repo.UpdateMetal(ctx, existing)
	if err != nil {
		return domain.Metal{}, err
	}
	s.logAudit(ctx, "metal_update", "metal", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return updated, nil
}

func (s *Service) DeleteMetal(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteMetal(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "metal_delete", "metal", id, "")
	return nil
}

// --- veparis ---

func (s *Service) ListVeparis(ctx context.Context) ([]domain.Vepari, error) {
	return s.repo.ListVeparis(ctx)
}

func (s *Service) GetVepari(ctx context.Context, id string) (domain.Vepari, error) {
	return s.repo.GetVepari(ctx, id)
}

func (s *Service) CreateVepari(ctx context.Context, req domain.VepariCreateRequest) (domain.Vepari, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Vepari{}, fmt.Errorf("%w: vepari name is required", store.ErrValidation)
	}
	if req.DefaultCreditDays != nil && *req.DefaultCreditDays < 0 {
		return domain.Vepari{}, fmt.Errorf("%w: credit days cannot be negative", store.ErrValidation)
	}

	vepari := domain.Vepari{
		ID:                          xid.New("vep"),
		Name:                        req.Name,
		Phone:                       strings.TrimSpace(req.Phone),
		DefaultCreditDays:           req.DefaultCreditDays,
		DefaultPenaltyPercentPerDay: req.DefaultPenaltyPercentPerDay,
		CreatedAt:                   time.Now().UTC(),
	}
	created, err := s.repo.AddVepari(ctx, vepari)
	if err != nil {
		return domain.Vepari{}, err
	}
	s.logAudit(ctx, "vepari_create", "vepari", created.ID, fmt.Sprintf("name=%s", created.Name))
	return created, nil
}

func (s *Service) UpdateVepari(ctx context.Context, id string, req domain.VepariUpdateRequest) (domain.Vepari, error) {
	existing, err := s.repo.GetVepari(ctx, id)
	if err != nil {
		return domain.Vepari{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Vepari{}, fmt.Errorf("%w: vepari name cannot be empty", store.ErrValidation)
		}
		existing.Name = name
	}
	if req.Phone != nil {
		existing.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.DefaultCreditDays != nil {
		if *req.DefaultCreditDays < 0 {
			return domain.Vepari{}, fmt.Errorf("%w: credit days cannot be negative", store.ErrValidation)
		}
		existing.DefaultCreditDays = req.DefaultCreditDays
	}
	if req.DefaultPenaltyPercentPerDay != nil {
		existing.DefaultPenaltyPercentPerDay = req.DefaultPenaltyPercentPerDay
	}

	updated, err := s.repo.UpdateVepari(ctx, existing)
	if err != nil {
		return domain.Vepari{}, err
	}
	s.logAudit(ctx, "vepari_update", "vepari", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return updated, nil
}

func (s *Service) DeleteVepari(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteVepari(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "vepari_delete", "vepari", id, "cascade")
	return nil
}

// --- purchases ---

func (s *Service) ListPurchases(ctx context.Context, vepariID string) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, vepariID)
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

// purchaseFromRequest builds the record and applies the vepari's credit
// defaults to regular purchases that do not set their own terms.
func (s *Service) purchaseFromRequest(ctx context.Context, id string, req domain.PurchaseRequest, createdAt time.Time) (domain.Purchase, error) {
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.Purchase{}, err
	}
	vepari, err := s.repo.GetVepari(ctx, req.VepariID)
	if err != nil {
		return domain.Purchase{}, err
	}

	p := domain.Purchase{
		ID:        id,
		VepariID:  req.VepariID,
		MetalID:   req.MetalID,
		Type:      req.Type,
		Date:      day,
		Notes:     strings.TrimSpace(req.Notes),
		Regular:   req.Regular,
		Cash:      req.Cash,
		Bullion:   req.Bullion,
		CreatedAt: createdAt,
	}
	if p.MetalID == "" {
		p.MetalID = domain.MetalIDGold
	}
	if p.Type == domain.PurchaseRegular && p.Regular != nil {
		if p.Regular.CreditDays == nil {
			p.Regular.CreditDays = vepari.DefaultCreditDays
		}
		if p.Regular.PenaltyPercentPerDay == 0 && vepari.DefaultPenaltyPercentPerDay != nil {
			p.Regular.PenaltyPercentPerDay = *vepari.DefaultPenaltyPercentPerDay
		}
	}
	return p, nil
}

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, error) {
	p, err := s.purchaseFromRequest(ctx, xid.New("pur"), req, time.Now().UTC())
	if err != nil {
		return domain.Purchase{}, err
	}
	created, err := s.repo.AddPurchase(ctx, p)
	if err != nil {
		return domain.Purchase{}, err
	}
	s.logAudit(ctx, "purchase_create", "purchase", created.ID, fmt.Sprintf("vepari=%s,type=%s", created.VepariID, created.Type))
	return created, nil
}

func (s *Service) UpdatePurchase(ctx context.Context, id string, req domain.PurchaseRequest) (domain.Purchase, error) {
	existing, err := s.repo.GetPurchase(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}
	if req.VepariID == "" {
		req.VepariID = existing.VepariID
	}
	p, err := s.purchaseFromRequest(ctx, id, req, existing.CreatedAt)
	if err != nil {
		return domain.Purchase{}, err
	}
	updated, err := s.repo.UpdatePurchase(ctx, p)
	if err != nil {
		return domain.Purchase{}, err
	}
	s.logAudit(ctx, "purchase_update", "purchase", updated.ID, fmt.Sprintf("vepari=%s,type=%s", updated.VepariID, updated.Type))
	return updated, nil
}

func (s *Service) DeletePurchase(ctx context.Context, id string) error {
	if err := s.repo.DeletePurchase(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "purchase_delete", "purchase", id, "")
	return nil
}

// --- payments ---

func (s *Service) ListPayments(ctx context.Context, vepariID string) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, vepariID)
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentRequest) (domain.Payment, error) {
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.Payment{}, err
	}
	p := domain.Payment{
		ID:        xid.New("pay"),
		VepariID:  req.VepariID,
		MetalID:   req.MetalID,
		Type:      req.Type,
		Date:      day,
		Notes:     strings.TrimSpace(req.Notes),
		Metal:     req.Metal,
		Cash:      req.Cash,
		CreatedAt: time.Now().UTC(),
	}
	if p.MetalID == "" {
		p.MetalID = domain.MetalIDGold
	}
	created, err := s.repo.AddPayment(ctx, p)
	if err != nil {
		return domain.Payment{}, err
	}
	s.logAudit(ctx, "payment_create", "payment", created.ID, fmt.Sprintf("vepari=%s,type=%s", created.VepariID, created.Type))
	return created, nil
}

func (s *Service) UpdatePayment(ctx context.Context, id string, req domain.PaymentRequest) (domain.Payment, error) {
	existing, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.Payment{}, err
	}
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.Payment{}, err
	}
	if req.VepariID == "" {
		req.VepariID = existing.VepariID
	}
	p := domain.Payment{
		ID:        id,
		VepariID:  req.VepariID,
		MetalID:   req.MetalID,
		Type:      req.Type,
		Date:      day,
		Notes:     strings.TrimSpace(req.Notes),
		Metal:     req.Metal,
		Cash:      req.Cash,
		CreatedAt: existing.CreatedAt,
	}
	if p.MetalID == "" {
		p.MetalID = existing.MetalID
	}
	updated, err := s.repo.UpdatePayment(ctx, p)
	if err != nil {
		return domain.Payment{}, err
	}
	s.logAudit(ctx, "payment_update", "payment", updated.ID, fmt.Sprintf("vepari=%s,type=%s", updated.VepariID, updated.Type))
	return updated, nil
}

func (s *Service) DeletePayment(ctx context.Context, id string) error {
	if err := s.repo.DeletePayment(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "payment_delete", "payment", id, "")
	return nil
}

// --- customers ---

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}
	customer := domain.Customer{
		ID:        xid.New("cust"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.repo.AddCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, fmt.Sprintf("name=%s", created.Name))
	return created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: customer name cannot be empty", store.ErrValidation)
		}
		existing.Name = name
	}
	if req.Phone != nil {
		existing.Phone = strings.TrimSpace(*req.Phone)
	}
	updated, err := s.repo.UpdateCustomer(ctx, existing)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", updated.ID, fmt.Sprintf("name=%s", updated.Name))
	return updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "cascade")
	return nil
}

// --- customer purchases, payments, deliveries ---

func (s *Service) ListCustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	return s.repo.ListCustomerPurchases(ctx, customerID)
}

func (s *Service) CreateCustomerPurchase(ctx context.Context, req domain.CustomerPurchaseRequest) (domain.CustomerPurchase, error) {
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.CustomerPurchase{}, err
	}
	p := domain.CustomerPurchase{
		ID:                  xid.New("cpur"),
		CustomerID:          req.CustomerID,
		MetalID:             req.MetalID,
		Date:                day,
		WeightGrams:         req.WeightGrams,
		PurchaseRatePerGram: req.PurchaseRatePerGram,
		SaleRatePerGram:     req.SaleRatePerGram,
		MakingCharges:       req.MakingCharges,
		StoneCharges:        req.StoneCharges,
		Notes:               strings.TrimSpace(req.Notes),
		CreatedAt:           time.Now().UTC(),
	}
	if p.MetalID == "" {
		p.MetalID = domain.MetalIDGold
	}
	created, err := s.repo.AddCustomerPurchase(ctx, p)
	if err != nil {
		return domain.CustomerPurchase{}, err
	}
	s.logAudit(ctx, "customer_purchase_create", "customer_purchase", created.ID, fmt.Sprintf("customer=%s,weight=%.3f", created.CustomerID, created.WeightGrams))
	return created, nil
}

func (s *Service) UpdateCustomerPurchase(ctx context.Context, id string, req domain.CustomerPurchaseRequest) (domain.CustomerPurchase, error) {
	existing, err := s.repo.GetCustomerPurchase(ctx, id)
	if err != nil {
		return domain.CustomerPurchase{}, err
	}
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.CustomerPurchase{}, err
	}
	p := existing
	p.Date = day
	p.WeightGrams = req.WeightGrams
	p.PurchaseRatePerGram = req.PurchaseRatePerGram
	p.SaleRatePerGram = req.SaleRatePerGram
	p.MakingCharges = req.MakingCharges
	p.StoneCharges = req.StoneCharges
	p.Notes = strings.TrimSpace(req.Notes)
	if req.MetalID != "" {
		p.MetalID = req.MetalID
	}
	updated, err := s.repo.UpdateCustomerPurchase(ctx, p)
	if err != nil {
		return domain.CustomerPurchase{}, err
	}
	s.logAudit(ctx, "customer_purchase_update", "customer_purchase", updated.ID, "")
	return updated, nil
}

func (s *Service) DeleteCustomerPurchase(ctx context.Context, id string) error {
	if err := s.repo.DeleteCustomerPurchase(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_purchase_delete", "customer_purchase", id, "")
	return nil
}

func (s *Service) ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error) {
	return s.repo.ListCustomerPayments(ctx, customerID)
}

func (s *Service) CreateCustomerPayment(ctx context.Context, req domain.CustomerPaymentRequest) (domain.CustomerPayment, error) {
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.CustomerPayment{}, err
	}
	if req.PurchaseID != "" {
		purchase, err := s.repo.GetCustomerPurchase(ctx, req.PurchaseID)
		if err != nil {
			return domain.CustomerPayment{}, err
		}
		if purchase.CustomerID != req.CustomerID {
			return domain.CustomerPayment{}, fmt.Errorf("%w: purchase %s belongs to another customer", store.ErrValidation, req.PurchaseID)
		}
	}
	p := domain.CustomerPayment{
		ID:          xid.New("cpay"),
		CustomerID:  req.CustomerID,
		PurchaseID:  req.PurchaseID,
		Date:        day,
		Amount:      req.Amount,
		PaymentMode: strings.TrimSpace(req.PaymentMode),
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.AddCustomerPayment(ctx, p)
	if err != nil {
		return domain.CustomerPayment{}, err
	}
	s.logAudit(ctx, "customer_payment_create", "customer_payment", created.ID, fmt.Sprintf("customer=%s,amount=%.2f", created.CustomerID, created.Amount))
	return created, nil
}

func (s *Service) UpdateCustomerPayment(ctx context.Context, id string, req domain.CustomerPaymentRequest) (domain.CustomerPayment, error) {
	existing, err := s.repo.GetCustomerPayment(ctx, id)
	if err != nil {
		return domain.CustomerPayment{}, err
	}
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.CustomerPayment{}, err
	}
	if req.PurchaseID != "" && req.PurchaseID != existing.PurchaseID {
		purchase, err := s.repo.GetCustomerPurchase(ctx, req.PurchaseID)
		if err != nil {
			return domain.CustomerPayment{}, err
		}
		if purchase.CustomerID != existing.CustomerID {
			return domain.CustomerPayment{}, fmt.Errorf("%w: purchase %s belongs to another customer", store.ErrValidation, req.PurchaseID)
		}
	}
	p := existing
	p.PurchaseID = req.PurchaseID
	p.Date = day
	p.Amount = req.Amount
	p.PaymentMode = strings.TrimSpace(req.PaymentMode)
	p.Notes = strings.TrimSpace(req.Notes)
	updated, err := s.repo.UpdateCustomerPayment(ctx, p)
	if err != nil {
		return domain.CustomerPayment{}, err
	}
	s.logAudit(ctx, "customer_payment_update", "customer_payment", updated.ID, "")
	return updated, nil
}

func (s *Service) DeleteCustomerPayment(ctx context.Context, id string) error {
	if err := s.repo.DeleteCustomerPayment(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "customer_payment_delete", "customer_payment", id, "")
	return nil
}

func (s *Service) ListDeliveries(ctx context.Context, customerID string) ([]domain.DeliveryRecord, error) {
	return s.repo.ListDeliveries(ctx, customerID)
}

func (s *Service) CreateDelivery(ctx context.Context, req domain.DeliveryRequest) (domain.DeliveryRecord, error) {
	day, err := parseDate(req.Date)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	d := domain.DeliveryRecord{
		ID:          xid.New("del"),
		PurchaseID:  req.PurchaseID,
		Date:        day,
		WeightGrams: req.WeightGrams,
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   time.Now().UTC(),
	}
	created, err := s.repo.AddDelivery(ctx, d)
	if err != nil {
		return domain.DeliveryRecord{}, err
	}
	s.logAudit(ctx, "delivery_create", "delivery", created.ID, fmt.Sprintf("purchase=%s,weight=%.3f", created.PurchaseID, created.WeightGrams))
	return created, nil
}

// --- summaries and reports ---

// cachedSummary serves a summary endpoint through the cache. Keys embed the
// store revision, so a mutation naturally moves reads to a fresh key.
func cachedSummary[T any](ctx context.Context, s *Service, name string, compute func() (T, error)) (T, error) {
	var zero T
	rev, err := s.repo.Revision(ctx)
	if err != nil {
		return zero, err
	}
	key := fmt.Sprintf("metalkhata:%s:rev%d", name, rev)

	if payload, ok, err := s.summaries.Get(ctx, key); err == nil && ok {
		var out T
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	} else if err != nil {
		log.Printf("[cache] WARN: get %s: %v", key, err)
	}

	out, err := compute()
	if err != nil {
		return zero, err
	}
	if payload, err := json.Marshal(out); err == nil {
		if err := s.summaries.Set(ctx, key, payload, s.summaryTTL); err != nil {
			log.Printf("[cache] WARN: set %s: %v", key, err)
		}
	}
	return out, nil
}

func (s *Service) VepariSummaries(ctx context.Context) ([]ledger.VepariSummary, error) {
	return cachedSummary(ctx, s, "summary:veparis", func() ([]ledger.VepariSummary, error) {
		veparis, err := s.repo.ListVeparis(ctx)
		if err != nil {
			return nil, err
		}
		purchases, err := s.repo.ListPurchases(ctx, "")
		if err != nil {
			return nil, err
		}
		payments, err := s.repo.ListPayments(ctx, "")
		if err != nil {
			return nil, err
		}
		return ledger.VepariSummaries(veparis, purchases, payments, time.Now().UTC()), nil
	})
}

func (s *Service) CustomerSummaries(ctx context.Context) ([]ledger.CustomerSummary, error) {
	return cachedSummary(ctx, s, "summary:customers", func() ([]ledger.CustomerSummary, error) {
		customers, err := s.repo.ListCustomers(ctx)
		if err != nil {
			return nil, err
		}
		purchases, err := s.repo.ListCustomerPurchases(ctx, "")
		if err != nil {
			return nil, err
		}
		payments, err := s.repo.ListCustomerPayments(ctx, "")
		if err != nil {
			return nil, err
		}
		return ledger.CustomerSummaries(customers, purchases, payments), nil
	})
}

func (s *Service) ProfitReports(ctx context.Context) ([]ledger.ProfitReport, error) {
	return cachedSummary(ctx, s, "report:profit", func() ([]ledger.ProfitReport, error) {
		purchases, err := s.repo.ListPurchases(ctx, "")
		if err != nil {
			return nil, err
		}
		sales, err := s.repo.ListCustomerPurchases(ctx, "")
		if err != nil {
			return nil, err
		}
		return ledger.ProfitReports(purchases, sales), nil
	})
}

// OverdueItems and UpcomingItems depend on the current date, so they bypass
// the summary cache.
func (s *Service) OverdueItems(ctx context.Context) ([]ledger.OverdueItem, error) {
	veparis, purchases, payments, err := s.loadVepariRecords(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.OverdueItems(purchases, payments, veparis, time.Now().UTC()), nil
}

func (s *Service) UpcomingItems(ctx context.Context, horizonDays int) ([]ledger.UpcomingItem, error) {
	veparis, purchases, payments, err := s.loadVepariRecords(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.UpcomingItems(purchases, payments, veparis, time.Now().UTC(), horizonDays), nil
}

// RemainingGrams reports the unsettled weight of each regular purchase for
// one vepari, keyed by purchase id. An empty metalID covers every metal the
// vepari trades in, each settled against its own payment pool.
func (s *Service) RemainingGrams(ctx context.Context, vepariID string, metalID string) (map[string]float64, error) {
	if _, err := s.repo.GetVepari(ctx, vepariID); err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx, vepariID)
	if err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, vepariID)
	if err != nil {
		return nil, err
	}
	if metalID == "" {
		return ledger.RemainingGramsAll(purchases, payments), nil
	}
	return ledger.RemainingGrams(purchases, payments, vepariID, metalID), nil
}

func (s *Service) loadVepariRecords(ctx context.Context) ([]domain.Vepari, []domain.Purchase, []domain.Payment, error) {
	veparis, err := s.repo.ListVeparis(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	purchases, err := s.repo.ListPurchases(ctx, "")
	if err != nil {
		return nil, nil, nil, err
	}
	payments, err := s.repo.ListPayments(ctx, "")
	if err != nil {
		return nil, nil, nil, err
	}
	return veparis, purchases, payments, nil
}

// --- backup ---

func (s *Service) ExportSnapshot(ctx context.Context) ([]byte, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := snapshot.Build(snap)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "backup_export", "snapshot", "", fmt.Sprintf("purchases=%d,payments=%d", len(snap.Purchases), len(snap.Payments)))
	return data, nil
}

// ImportSnapshot parses and validates the whole document before any store
// mutation; a malformed document leaves the store untouched.
func (s *Service) ImportSnapshot(ctx context.Context, data []byte) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	snap, err := snapshot.Parse(data)
	if err != nil {
		return err
	}
	if err := s.repo.Restore(ctx, snap); err != nil {
		return err
	}
	s.logAudit(ctx, "backup_import", "snapshot", "", fmt.Sprintf("version=%d,purchases=%d,payments=%d", snap.Version, len(snap.Purchases), len(snap.Payments)))
	return nil
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.AppendAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
