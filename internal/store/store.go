package store

import (
	"context"
	"errors"

	"metalkhata/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrValidation = errors.New("validation failed")
	// ErrProtected is returned when deleting a record that other records
	// still reference, for example a metal with purchases booked against it.
	ErrProtected = errors.New("record is protected")
	// ErrDeliveryExceedsRemaining is returned when a delivery would push a
	// customer purchase past its ordered weight.
	ErrDeliveryExceedsRemaining = errors.New("delivery exceeds remaining weight")
	ErrUserExists               = errors.New("user already exists")
)

// Repository abstracts record storage. The canonical implementation keeps
// everything in memory; the postgres implementation wraps it with
// write-through snapshot persistence.
type Repository interface {
	ListMetals(ctx context.Context) ([]domain.Metal, error)
	GetMetal(ctx context.Context, id string) (domain.Metal, error)
	AddMetal(ctx context.Context, m domain.Metal) (domain.Metal, error)
	UpdateMetal(ctx context.Context, m domain.Metal) (domain.Metal, error)
	DeleteMetal(ctx context.Context, id string) error

	ListVeparis(ctx context.Context) ([]domain.Vepari, error)
	GetVepari(ctx context.Context, id string) (domain.Vepari, error)
	AddVepari(ctx context.Context, v domain.Vepari) (domain.Vepari, error)
	UpdateVepari(ctx context.Context, v domain.Vepari) (domain.Vepari, error)
	// DeleteVepari cascades: the vepari's purchases and payments go with it.
	DeleteVepari(ctx context.Context, id string) error

	// ListPurchases returns purchases filtered by vepari; an empty vepariID
	// means all. Results are ordered by date then creation time.
	ListPurchases(ctx context.Context, vepariID string) ([]domain.Purchase, error)
	GetPurchase(ctx context.Context, id string) (domain.Purchase, error)
	AddPurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error)
	UpdatePurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error)
	DeletePurchase(ctx context.Context, id string) error

	ListPayments(ctx context.Context, vepariID string) ([]domain.Payment, error)
	GetPayment(ctx context.Context, id string) (domain.Payment, error)
	AddPayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	UpdatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
	DeletePayment(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	AddCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error)
	UpdateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error)
	// DeleteCustomer cascades to the customer's purchases, payments and
	// delivery records.
	DeleteCustomer(ctx context.Context, id string) error

	ListCustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error)
	GetCustomerPurchase(ctx context.Context, id string) (domain.CustomerPurchase, error)
	AddCustomerPurchase(ctx context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error)
	UpdateCustomerPurchase(ctx context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error)
	DeleteCustomerPurchase(ctx context.Context, id string) error

	ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error)
	GetCustomerPayment(ctx context.Context, id string) (domain.CustomerPayment, error)
	AddCustomerPayment(ctx context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error)
	UpdateCustomerPayment(ctx context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error)
	DeleteCustomerPayment(ctx context.Context, id string) error

	ListDeliveries(ctx context.Context, customerID string) ([]domain.DeliveryRecord, error)
	// AddDelivery appends a delivery record and increments the parent
	// purchase's delivered weight atomically. It fails with
	// ErrDeliveryExceedsRemaining if the increment would exceed the
	// purchase's ordered weight.
	AddDelivery(ctx context.Context, d domain.DeliveryRecord) (domain.DeliveryRecord, error)

	// Snapshot returns a deep copy of every record in the store.
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	// Restore replaces the store contents wholesale with the snapshot.
	Restore(ctx context.Context, snap domain.Snapshot) error
	// Revision is a counter incremented on every mutation; caches key
	// derived results on it so stale entries are never served.
	Revision(ctx context.Context) (int64, error)

	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	GetUser(ctx context.Context, username string) (domain.UserAccount, error)
	CreateUser(ctx context.Context, u domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, hashed string) error
}
