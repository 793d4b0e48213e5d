package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"metalkhata/backend/internal/domain"
	"metalkhata/backend/internal/store"
)

type Store struct {
	mu                  sync.RWMutex
	metalsByID          map[string]domain.Metal
	veparisByID         map[string]domain.Vepari
	purchasesByID       map[string]domain.Purchase
	paymentsByID        map[string]domain.Payment
	customersByID       map[string]domain.Customer
	customerPurchByID   map[string]domain.CustomerPurchase
	customerPayByID     map[string]domain.CustomerPayment
	deliveriesByID      map[string]domain.DeliveryRecord
	auditLogs           []domain.AuditLog
	usersByUsername     map[string]domain.UserAccount
	revision            int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultMetals() map[string]domain.Metal {
	now := time.Now().UTC()
	return map[string]domain.Metal{
		domain.MetalIDGold: {
			ID: domain.MetalIDGold, Name: "Gold", Symbol: "Au", Color: "#d4af37",
			DisplayOrder: 1, IsDefault: true, CreatedAt: now,
		},
		domain.MetalIDSilver: {
			ID: domain.MetalIDSilver, Name: "Silver", Symbol: "Ag", Color: "#c0c0c0",
			DisplayOrder: 2, IsDefault: true, CreatedAt: now,
		},
	}
}

func New() *Store {
	return &Store{
		metalsByID:        defaultMetals(),
		veparisByID:       make(map[string]domain.Vepari),
		purchasesByID:     make(map[string]domain.Purchase),
		paymentsByID:      make(map[string]domain.Payment),
		customersByID:     make(map[string]domain.Customer),
		customerPurchByID: make(map[string]domain.CustomerPurchase),
		customerPayByID:   make(map[string]domain.CustomerPayment),
		deliveriesByID:    make(map[string]domain.DeliveryRecord),
		auditLogs:         make([]domain.AuditLog, 0, 128),
		usersByUsername:   seedUsers(),
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// touch bumps the revision counter. Callers must hold the write lock.
func (s *Store) touch() {
	s.revision++
}

func clonePurchase(p domain.Purchase) domain.Purchase {
	out := p
	if p.Regular != nil {
		r := *p.Regular
		if p.Regular.CreditDays != nil {
			cd := *p.Regular.CreditDays
			r.CreditDays = &cd
		}
		if p.Regular.DueDate != nil {
			dd := *p.Regular.DueDate
			r.DueDate = &dd
		}
		out.Regular = &r
	}
	if p.Cash != nil {
		c := *p.Cash
		out.Cash = &c
	}
	if p.Bullion != nil {
		b := *p.Bullion
		out.Bullion = &b
	}
	return out
}

func clonePayment(p domain.Payment) domain.Payment {
	out := p
	if p.Metal != nil {
		m := *p.Metal
		out.Metal = &m
	}
	if p.Cash != nil {
		c := *p.Cash
		out.Cash = &c
	}
	return out
}

func cloneVepari(v domain.Vepari) domain.Vepari {
	out := v
	if v.DefaultCreditDays != nil {
		cd := *v.DefaultCreditDays
		out.DefaultCreditDays = &cd
	}
	if v.DefaultPenaltyPercentPerDay != nil {
		pp := *v.DefaultPenaltyPercentPerDay
		out.DefaultPenaltyPercentPerDay = &pp
	}
	return out
}

func validatePurchase(p domain.Purchase) error {
	if p.ID == "" || p.VepariID == "" || p.MetalID == "" || p.Date.IsZero() {
		return fmt.Errorf("%w: purchase requires id, vepari, metal and date", store.ErrValidation)
	}
	variants := 0
	if p.Regular != nil {
		variants++
	}
	if p.Cash != nil {
		variants++
	}
	if p.Bullion != nil {
		variants++
	}
	if variants != 1 {
		return fmt.Errorf("%w: purchase must carry exactly one variant", store.ErrValidation)
	}
	switch p.Type {
	case domain.PurchaseRegular:
		if p.Regular == nil {
			return fmt.Errorf("%w: regular purchase missing regular fields", store.ErrValidation)
		}
		if p.Regular.WeightGrams <= 0 {
			return fmt.Errorf("%w: regular purchase weight must be positive", store.ErrValidation)
		}
		if p.Regular.CreditDays != nil && *p.Regular.CreditDays < 0 {
			return fmt.Errorf("%w: credit days cannot be negative", store.ErrValidation)
		}
	case domain.PurchaseCash:
		if p.Cash == nil {
			return fmt.Errorf("%w: cash purchase missing cash fields", store.ErrValidation)
		}
		if p.Cash.TotalAmount <= 0 {
			return fmt.Errorf("%w: cash purchase amount must be positive", store.ErrValidation)
		}
	case domain.PurchaseBullion:
		if p.Bullion == nil {
			return fmt.Errorf("%w: bullion purchase missing bullion fields", store.ErrValidation)
		}
		if p.Bullion.OldGoldWeight < 0 || p.Bullion.OldGoldTouch < 0 || p.Bullion.OldGoldTouch > 100 {
			return fmt.Errorf("%w: bullion touch must be within 0-100", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown purchase type %q", store.ErrValidation, p.Type)
	}
	return nil
}

func validatePayment(p domain.Payment) error {
	if p.ID == "" || p.VepariID == "" || p.MetalID == "" || p.Date.IsZero() {
		return fmt.Errorf("%w: payment requires id, vepari, metal and date", store.ErrValidation)
	}
	if (p.Metal != nil) == (p.Cash != nil) {
		return fmt.Errorf("%w: payment must carry exactly one variant", store.ErrValidation)
	}
	switch p.Type {
	case domain.PaymentMetal:
		if p.Metal == nil {
			return fmt.Errorf("%w: metal payment missing metal fields", store.ErrValidation)
		}
		if p.Metal.WeightGrams <= 0 {
			return fmt.Errorf("%w: metal payment weight must be positive", store.ErrValidation)
		}
	case domain.PaymentCash:
		if p.Cash == nil {
			return fmt.Errorf("%w: cash payment missing cash fields", store.ErrValidation)
		}
		if p.Cash.CashAmount <= 0 && p.Cash.StoneChargesPaid <= 0 {
			return fmt.Errorf("%w: cash payment must carry an amount", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown payment type %q", store.ErrValidation, p.Type)
	}
	return nil
}

// --- metals ---

func (s *Store) ListMetals(_ context.Context) ([]domain.Metal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metals := make([]domain.Metal, 0, len(s.metalsByID))
	for _, m := range s.metalsByID {
		metals = append(metals, m)
	}
	slices.SortFunc(metals, func(a, b domain.Metal) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return cmpString(a.Name, b.Name)
	})
	return metals, nil
}

func (s *Store) GetMetal(_ context.Context, id string) (domain.Metal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metalsByID[id]
	if !ok {
		return domain.Metal{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) AddMetal(_ context.Context, m domain.Metal) (domain.Metal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" || m.Name == "" {
		return domain.Metal{}, fmt.Errorf("%w: metal requires id and name", store.ErrValidation)
	}
	if _, exists := s.metalsByID[m.ID]; exists {
		return domain.Metal{}, fmt.Errorf("%w: metal %s already exists", store.ErrValidation, m.ID)
	}

	s.metalsByID[m.ID] = m
	s.touch()
	return m, nil
}

func (s *Store) UpdateMetal(_ context.Context, m domain.Metal) (domain.Metal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.metalsByID[m.ID]
	if !ok {
		return domain.Metal{}, store.ErrNotFound
	}
	if m.Name == "" {
		return domain.Metal{}, fmt.Errorf("%w: metal name cannot be empty", store.ErrValidation)
	}
	m.IsDefault = existing.IsDefault
	m.CreatedAt = existing.CreatedAt
	s.metalsByID[m.ID] = m
	s.touch()
	return m, nil
}

func (s *Store) DeleteMetal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metalsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if m.IsDefault {
		return fmt.Errorf("%w: default metal %s cannot be deleted", store.ErrProtected, id)
	}
	for _, p := range s.purchasesByID {
		if p.MetalID == id {
			return fmt.Errorf("%w: metal %s has purchases", store.ErrProtected, id)
		}
	}
	for _, p := range s.paymentsByID {
		if p.MetalID == id {
			return fmt.Errorf("%w: metal %s has payments", store.ErrProtected, id)
		}
	}
	for _, p := range s.customerPurchByID {
		if p.MetalID == id {
			return fmt.Errorf("%w: metal %s has customer purchases", store.ErrProtected, id)
		}
	}

	delete(s.metalsByID, id)
	s.touch()
	return nil
}

// --- veparis ---

func (s *Store) ListVeparis(_ context.Context) ([]domain.Vepari, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	veparis := make([]domain.Vepari, 0, len(s.veparisByID))
	for _, v := range s.veparisByID {
		veparis = append(veparis, cloneVepari(v))
	}
	slices.SortFunc(veparis, func(a, b domain.Vepari) int {
		return cmpString(a.Name, b.Name)
	})
	return veparis, nil
}

func (s *Store) GetVepari(_ context.Context, id string) (domain.Vepari, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.veparisByID[id]
	if !ok {
		return domain.Vepari{}, store.ErrNotFound
	}
	return cloneVepari(v), nil
}

func (s *Store) AddVepari(_ context.Context, v domain.Vepari) (domain.Vepari, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" || v.Name == "" {
		return domain.Vepari{}, fmt.Errorf("%w: vepari requires id and name", store.ErrValidation)
	}
	if _, exists := s.veparisByID[v.ID]; exists {
		return domain.Vepari{}, fmt.Errorf("%w: vepari %s already exists", store.ErrValidation, v.ID)
	}

	s.veparisByID[v.ID] = cloneVepari(v)
	s.touch()
	return v, nil
}

func (s *Store) UpdateVepari(_ context.Context, v domain.Vepari) (domain.Vepari, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.veparisByID[v.ID]
	if !ok {
		return domain.Vepari{}, store.ErrNotFound
	}
	if v.Name == "" {
		return domain.Vepari{}, fmt.Errorf("%w: vepari name cannot be empty", store.ErrValidation)
	}
	v.CreatedAt = existing.CreatedAt
	s.veparisByID[v.ID] = cloneVepari(v)
	s.touch()
	return v, nil
}

func (s *Store) DeleteVepari(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.veparisByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.veparisByID, id)
	for pid, p := range s.purchasesByID {
		if p.VepariID == id {
			delete(s.purchasesByID, pid)
		}
	}
	for pid, p := range s.paymentsByID {
		if p.VepariID == id {
			delete(s.paymentsByID, pid)
		}
	}
	s.touch()
	return nil
}

// --- purchases ---

func (s *Store) ListPurchases(_ context.Context, vepariID string) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.purchasesByID))
	for _, p := range s.purchasesByID {
		if vepariID != "" && p.VepariID != vepariID {
			continue
		}
		purchases = append(purchases, clonePurchase(p))
	}
	sortByDate(purchases, func(p domain.Purchase) (time.Time, time.Time, string) {
		return p.Date, p.CreatedAt, p.ID
	})
	return purchases, nil
}

// sortByDate orders records by date, then creation time, then id. The FIFO
// settlement walk depends on this ordering being stable.
func sortByDate[T any](items []T, key func(T) (time.Time, time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		ad, ac, ai := key(a)
		bd, bc, bi := key(b)
		if !ad.Equal(bd) {
			if ad.Before(bd) {
				return -1
			}
			return 1
		}
		if !ac.Equal(bc) {
			if ac.Before(bc) {
				return -1
			}
			return 1
		}
		return cmpString(ai, bi)
	})
}

func (s *Store) GetPurchase(_ context.Context, id string) (domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.purchasesByID[id]
	if !ok {
		return domain.Purchase{}, store.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (s *Store) AddPurchase(_ context.Context, p domain.Purchase) (domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validatePurchase(p); err != nil {
		return domain.Purchase{}, err
	}
	if _, ok := s.veparisByID[p.VepariID]; !ok {
		return domain.Purchase{}, fmt.Errorf("%w: vepari %s", store.ErrNotFound, p.VepariID)
	}
	if _, ok := s.metalsByID[p.MetalID]; !ok {
		return domain.Purchase{}, fmt.Errorf("%w: metal %s", store.ErrNotFound, p.MetalID)
	}
	if _, exists := s.purchasesByID[p.ID]; exists {
		return domain.Purchase{}, fmt.Errorf("%w: purchase %s already exists", store.ErrValidation, p.ID)
	}

	p.RecomputeDerived()
	s.purchasesByID[p.ID] = clonePurchase(p)
	s.touch()
	return p, nil
}

func (s *Store) UpdatePurchase(_ context.Context, p domain.Purchase) (domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.purchasesByID[p.ID]
	if !ok {
		return domain.Purchase{}, store.ErrNotFound
	}
	if err := validatePurchase(p); err != nil {
		return domain.Purchase{}, err
	}
	if _, ok := s.veparisByID[p.VepariID]; !ok {
		return domain.Purchase{}, fmt.Errorf("%w: vepari %s", store.ErrNotFound, p.VepariID)
	}
	if _, ok := s.metalsByID[p.MetalID]; !ok {
		return domain.Purchase{}, fmt.Errorf("%w: metal %s", store.ErrNotFound, p.MetalID)
	}

	p.CreatedAt = existing.CreatedAt
	p.RecomputeDerived()
	s.purchasesByID[p.ID] = clonePurchase(p)
	s.touch()
	return p, nil
}

func (s *Store) DeletePurchase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchasesByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.purchasesByID, id)
	s.touch()
	return nil
}

// --- payments ---

func (s *Store) ListPayments(_ context.Context, vepariID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.paymentsByID))
	for _, p := range s.paymentsByID {
		if vepariID != "" && p.VepariID != vepariID {
			continue
		}
		payments = append(payments, clonePayment(p))
	}
	sortByDate(payments, func(p domain.Payment) (time.Time, time.Time, string) {
		return p.Date, p.CreatedAt, p.ID
	})
	return payments, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.paymentsByID[id]
	if !ok {
		return domain.Payment{}, store.ErrNotFound
	}
	return clonePayment(p), nil
}

func (s *Store) AddPayment(_ context.Context, p domain.Payment) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validatePayment(p); err != nil {
		return domain.Payment{}, err
	}
	if _, ok := s.veparisByID[p.VepariID]; !ok {
		return domain.Payment{}, fmt.Errorf("%w: vepari %s", store.ErrNotFound, p.VepariID)
	}
	if _, ok := s.metalsByID[p.MetalID]; !ok {
		return domain.Payment{}, fmt.Errorf("%w: metal %s", store.ErrNotFound, p.MetalID)
	}
	if _, exists := s.paymentsByID[p.ID]; exists {
		return domain.Payment{}, fmt.Errorf("%w: payment %s already exists", store.ErrValidation, p.ID)
	}

	p.RecomputeDerived()
	s.paymentsByID[p.ID] = clonePayment(p)
	s.touch()
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p domain.Payment) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.paymentsByID[p.ID]
	if !ok {
		return domain.Payment{}, store.ErrNotFound
	}
	if err := validatePayment(p); err != nil {
		return domain.Payment{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.RecomputeDerived()
	s.paymentsByID[p.ID] = clonePayment(p)
	s.touch()
	return p, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paymentsByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.paymentsByID, id)
	s.touch()
	return nil
}

// --- customers ---

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) AddCustomer(_ context.Context, c domain.Customer) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" || c.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer requires id and name", store.ErrValidation)
	}
	if _, exists := s.customersByID[c.ID]; exists {
		return domain.Customer{}, fmt.Errorf("%w: customer %s already exists", store.ErrValidation, c.ID)
	}

	s.customersByID[c.ID] = c
	s.touch()
	return c, nil
}

func (s *Store) UpdateCustomer(_ context.Context, c domain.Customer) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customersByID[c.ID]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	if c.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name cannot be empty", store.ErrValidation)
	}
	c.CreatedAt = existing.CreatedAt
	s.customersByID[c.ID] = c
	s.touch()
	return c, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customersByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)
	for pid, p := range s.customerPurchByID {
		if p.CustomerID == id {
			delete(s.customerPurchByID, pid)
		}
	}
	for pid, p := range s.customerPayByID {
		if p.CustomerID == id {
			delete(s.customerPayByID, pid)
		}
	}
	for did, d := range s.deliveriesByID {
		if d.CustomerID == id {
			delete(s.deliveriesByID, did)
		}
	}
	s.touch()
	return nil
}

// --- customer purchases ---

func (s *Store) ListCustomerPurchases(_ context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.CustomerPurchase, 0, len(s.customerPurchByID))
	for _, p := range s.customerPurchByID {
		if customerID != "" && p.CustomerID != customerID {
			continue
		}
		purchases = append(purchases, p)
	}
	sortByDate(purchases, func(p domain.CustomerPurchase) (time.Time, time.Time, string) {
		return p.Date, p.CreatedAt, p.ID
	})
	return purchases, nil
}

func (s *Store) GetCustomerPurchase(_ context.Context, id string) (domain.CustomerPurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.customerPurchByID[id]
	if !ok {
		return domain.CustomerPurchase{}, store.ErrNotFound
	}
	return p, nil
}

func validateCustomerPurchase(p domain.CustomerPurchase) error {
	if p.ID == "" || p.CustomerID == "" || p.MetalID == "" || p.Date.IsZero() {
		return fmt.Errorf("%w: customer purchase requires id, customer, metal and date", store.ErrValidation)
	}
	if p.WeightGrams <= 0 {
		return fmt.Errorf("%w: customer purchase weight must be positive", store.ErrValidation)
	}
	if p.DeliveredGrams < 0 || p.DeliveredGrams > p.WeightGrams {
		return fmt.Errorf("%w: delivered weight out of range", store.ErrValidation)
	}
	return nil
}

func (s *Store) AddCustomerPurchase(_ context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateCustomerPurchase(p); err != nil {
		return domain.CustomerPurchase{}, err
	}
	if _, ok := s.customersByID[p.CustomerID]; !ok {
		return domain.CustomerPurchase{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, p.CustomerID)
	}
	if _, ok := s.metalsByID[p.MetalID]; !ok {
		return domain.CustomerPurchase{}, fmt.Errorf("%w: metal %s", store.ErrNotFound, p.MetalID)
	}
	if _, exists := s.customerPurchByID[p.ID]; exists {
		return domain.CustomerPurchase{}, fmt.Errorf("%w: customer purchase %s already exists", store.ErrValidation, p.ID)
	}

	s.customerPurchByID[p.ID] = p
	s.touch()
	return p, nil
}

func (s *Store) UpdateCustomerPurchase(_ context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customerPurchByID[p.ID]
	if !ok {
		return domain.CustomerPurchase{}, store.ErrNotFound
	}
	// Delivered weight is owned by the delivery log, not the update payload.
	p.DeliveredGrams = existing.DeliveredGrams
	if err := validateCustomerPurchase(p); err != nil {
		return domain.CustomerPurchase{}, err
	}
	p.CreatedAt = existing.CreatedAt
	s.customerPurchByID[p.ID] = p
	s.touch()
	return p, nil
}

func (s *Store) DeleteCustomerPurchase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customerPurchByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customerPurchByID, id)
	for did, d := range s.deliveriesByID {
		if d.PurchaseID == id {
			delete(s.deliveriesByID, did)
		}
	}
	// Payments pointing at the deleted sale become unlinked rather than
	// dangling.
	for pid, p := range s.customerPayByID {
		if p.PurchaseID == id {
			p.PurchaseID = ""
			s.customerPayByID[pid] = p
		}
	}
	s.touch()
	return nil
}

// --- customer payments ---

func (s *Store) ListCustomerPayments(_ context.Context, customerID string) ([]domain.CustomerPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.CustomerPayment, 0, len(s.customerPayByID))
	for _, p := range s.customerPayByID {
		if customerID != "" && p.CustomerID != customerID {
			continue
		}
		payments = append(payments, p)
	}
	sortByDate(payments, func(p domain.CustomerPayment) (time.Time, time.Time, string) {
		return p.Date, p.CreatedAt, p.ID
	})
	return payments, nil
}

func (s *Store) GetCustomerPayment(_ context.Context, id string) (domain.CustomerPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.customerPayByID[id]
	if !ok {
		return domain.CustomerPayment{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) AddCustomerPayment(_ context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" || p.CustomerID == "" || p.Date.IsZero() || p.Amount <= 0 {
		return domain.CustomerPayment{}, fmt.Errorf("%w: customer payment requires id, customer, date and a positive amount", store.ErrValidation)
	}
	if _, ok := s.customersByID[p.CustomerID]; !ok {
		return domain.CustomerPayment{}, fmt.Errorf("%w: customer %s", store.ErrNotFound, p.CustomerID)
	}
	if _, exists := s.customerPayByID[p.ID]; exists {
		return domain.CustomerPayment{}, fmt.Errorf("%w: customer payment %s already exists", store.ErrValidation, p.ID)
	}

	s.customerPayByID[p.ID] = p
	s.touch()
	return p, nil
}

func (s *Store) UpdateCustomerPayment(_ context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customerPayByID[p.ID]
	if !ok {
		return domain.CustomerPayment{}, store.ErrNotFound
	}
	if p.Amount <= 0 {
		return domain.CustomerPayment{}, fmt.Errorf("%w: customer payment amount must be positive", store.ErrValidation)
	}
	p.CreatedAt = existing.CreatedAt
	s.customerPayByID[p.ID] = p
	s.touch()
	return p, nil
}

func (s *Store) DeleteCustomerPayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customerPayByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.customerPayByID, id)
	s.touch()
	return nil
}

// --- deliveries ---

func (s *Store) ListDeliveries(_ context.Context, customerID string) ([]domain.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deliveries := make([]domain.DeliveryRecord, 0, len(s.deliveriesByID))
	for _, d := range s.deliveriesByID {
		if customerID != "" && d.CustomerID != customerID {
			continue
		}
		deliveries = append(deliveries, d)
	}
	sortByDate(deliveries, func(d domain.DeliveryRecord) (time.Time, time.Time, string) {
		return d.Date, d.CreatedAt, d.ID
	})
	return deliveries, nil
}

func (s *Store) AddDelivery(_ context.Context, d domain.DeliveryRecord) (domain.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" || d.PurchaseID == "" || d.Date.IsZero() || d.WeightGrams <= 0 {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: delivery requires id, purchase, date and a positive weight", store.ErrValidation)
	}
	purchase, ok := s.customerPurchByID[d.PurchaseID]
	if !ok {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: customer purchase %s", store.ErrNotFound, d.PurchaseID)
	}
	d.CustomerID = purchase.CustomerID

	const tolerance = 1e-9
	if purchase.DeliveredGrams+d.WeightGrams > purchase.WeightGrams+tolerance {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: %.3fg remaining on purchase %s",
			store.ErrDeliveryExceedsRemaining, purchase.WeightGrams-purchase.DeliveredGrams, d.PurchaseID)
	}

	purchase.DeliveredGrams += d.WeightGrams
	if purchase.DeliveredGrams > purchase.WeightGrams {
		purchase.DeliveredGrams = purchase.WeightGrams
	}
	s.customerPurchByID[d.PurchaseID] = purchase
	s.deliveriesByID[d.ID] = d
	s.touch()
	return d, nil
}

// --- snapshot / restore ---

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Version:    2,
		ExportedAt: time.Now().UTC(),
	}
	for _, m := range s.metalsByID {
		snap.Metals = append(snap.Metals, m)
	}
	for _, v := range s.veparisByID {
		snap.Veparis = append(snap.Veparis, cloneVepari(v))
	}
	for _, p := range s.purchasesByID {
		snap.Purchases = append(snap.Purchases, clonePurchase(p))
	}
	for _, p := range s.paymentsByID {
		snap.Payments = append(snap.Payments, clonePayment(p))
	}
	for _, c := range s.customersByID {
		snap.Customers = append(snap.Customers, c)
	}
	for _, p := range s.customerPurchByID {
		snap.CustomerPurchases = append(snap.CustomerPurchases, p)
	}
	for _, p := range s.customerPayByID {
		snap.CustomerPayments = append(snap.CustomerPayments, p)
	}
	for _, d := range s.deliveriesByID {
		snap.Deliveries = append(snap.Deliveries, d)
	}

	slices.SortFunc(snap.Metals, func(a, b domain.Metal) int { return a.DisplayOrder - b.DisplayOrder })
	slices.SortFunc(snap.Veparis, func(a, b domain.Vepari) int { return cmpString(a.ID, b.ID) })
	sortByDate(snap.Purchases, func(p domain.Purchase) (time.Time, time.Time, string) { return p.Date, p.CreatedAt, p.ID })
	sortByDate(snap.Payments, func(p domain.Payment) (time.Time, time.Time, string) { return p.Date, p.CreatedAt, p.ID })
	slices.SortFunc(snap.Customers, func(a, b domain.Customer) int { return cmpString(a.ID, b.ID) })
	sortByDate(snap.CustomerPurchases, func(p domain.CustomerPurchase) (time.Time, time.Time, string) { return p.Date, p.CreatedAt, p.ID })
	sortByDate(snap.CustomerPayments, func(p domain.CustomerPayment) (time.Time, time.Time, string) { return p.Date, p.CreatedAt, p.ID })
	sortByDate(snap.Deliveries, func(d domain.DeliveryRecord) (time.Time, time.Time, string) { return d.Date, d.CreatedAt, d.ID })

	return snap, nil
}

func (s *Store) Restore(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metals := make(map[string]domain.Metal, len(snap.Metals))
	for _, m := range snap.Metals {
		metals[m.ID] = m
	}
	// The default metals are always present, even if the snapshot predates
	// them.
	for id, m := range defaultMetals() {
		if _, ok := metals[id]; !ok {
			metals[id] = m
		}
	}

	veparis := make(map[string]domain.Vepari, len(snap.Veparis))
	for _, v := range snap.Veparis {
		veparis[v.ID] = cloneVepari(v)
	}
	purchases := make(map[string]domain.Purchase, len(snap.Purchases))
	for _, p := range snap.Purchases {
		p.RecomputeDerived()
		purchases[p.ID] = clonePurchase(p)
	}
	payments := make(map[string]domain.Payment, len(snap.Payments))
	for _, p := range snap.Payments {
		p.RecomputeDerived()
		payments[p.ID] = clonePayment(p)
	}
	customers := make(map[string]domain.Customer, len(snap.Customers))
	for _, c := range snap.Customers {
		customers[c.ID] = c
	}
	customerPurchases := make(map[string]domain.CustomerPurchase, len(snap.CustomerPurchases))
	for _, p := range snap.CustomerPurchases {
		customerPurchases[p.ID] = p
	}
	customerPayments := make(map[string]domain.CustomerPayment, len(snap.CustomerPayments))
	for _, p := range snap.CustomerPayments {
		customerPayments[p.ID] = p
	}
	deliveries := make(map[string]domain.DeliveryRecord, len(snap.Deliveries))
	for _, d := range snap.Deliveries {
		deliveries[d.ID] = d
	}

	s.metalsByID = metals
	s.veparisByID = veparis
	s.purchasesByID = purchases
	s.paymentsByID = payments
	s.customersByID = customers
	s.customerPurchByID = customerPurchases
	s.customerPayByID = customerPayments
	s.deliveriesByID = deliveries
	s.touch()
	return nil
}

func (s *Store) Revision(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision, nil
}

// --- audit log ---

func (s *Store) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.auditLogs) {
		limit = len(s.auditLogs)
	}
	out := make([]domain.AuditLog, limit)
	// Newest first.
	for i := 0; i < limit; i++ {
		out[i] = s.auditLogs[len(s.auditLogs)-1-i]
	}
	return out, nil
}

// --- users ---

func (s *Store) GetUser(_ context.Context, username string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return domain.UserAccount{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreateUser(_ context.Context, u domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Username == "" || u.Password == "" || u.Role == "" {
		return fmt.Errorf("%w: user requires username, password and role", store.ErrValidation)
	}
	if _, exists := s.usersByUsername[u.Username]; exists {
		return store.ErrUserExists
	}
	s.usersByUsername[u.Username] = u
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username, hashed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = hashed
	s.usersByUsername[username] = u
	return nil
}
