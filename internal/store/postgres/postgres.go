// Package postgres persists the ledger behind the in-memory store. The
// full record set travels as one snapshot document; users and audit logs
// are relational so they survive independent of the ledger document.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"metalkhata/backend/internal/domain"
	"metalkhata/backend/internal/snapshot"
	"metalkhata/backend/internal/store"
	"metalkhata/backend/internal/store/memory"
)

const snapshotRowID = 1

type Store struct {
	db  *sql.DB
	mem *memory.Store
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, mem: memory.New()}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadSnapshot(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seedUsersIfEmpty(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ledger_snapshots (
			id INT PRIMARY KEY,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// loadSnapshot hydrates the in-memory store from the persisted document,
// if one exists.
func (s *Store) loadSnapshot(ctx context.Context) error {
	var document []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT document
		FROM ledger_snapshots
		WHERE id = $1
	`, snapshotRowID).Scan(&document)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	snap, err := snapshot.Parse(document)
	if err != nil {
		return fmt.Errorf("load persisted snapshot: %w", err)
	}
	return s.mem.Restore(ctx, snap)
}

// persist writes the current record set through to the database. It runs
// after every mutation so a restart always comes back to the last write.
func (s *Store) persist(ctx context.Context) error {
	snap, err := s.mem.Snapshot(ctx)
	if err != nil {
		return err
	}
	document, err := snapshot.Build(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, document, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`, snapshotRowID, document)
	return err
}

// seedUsersIfEmpty copies the in-memory seed accounts into the users table
// on first boot.
func (s *Store) seedUsersIfEmpty(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeded, err := s.mem.ListUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range seeded {
		if err := s.CreateUser(ctx, u); err != nil && !errors.Is(err, store.ErrUserExists) {
			return err
		}
	}
	return nil
}

// --- ledger records: delegate to memory, then write through ---

func (s *Store) ListMetals(ctx context.Context) ([]domain.Metal, error) {
	return s.mem.ListMetals(ctx)
}

func (s *Store) GetMetal(ctx context.Context, id string) (domain.Metal, error) {
	return s.mem.GetMetal(ctx, id)
}

func (s *Store) AddMetal(ctx context.Context, m domain.Metal) (domain.Metal, error) {
	saved, err := s.mem.AddMetal(ctx, m)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdateMetal(ctx context.Context, m domain.Metal) (domain.Metal, error) {
	saved, err := s.mem.UpdateMetal(ctx, m)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeleteMetal(ctx context.Context, id string) error {
	if err := s.mem.DeleteMetal(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListVeparis(ctx context.Context) ([]domain.Vepari, error) {
	return s.mem.ListVeparis(ctx)
}

func (s *Store) GetVepari(ctx context.Context, id string) (domain.Vepari, error) {
	return s.mem.GetVepari(ctx, id)
}

func (s *Store) AddVepari(ctx context.Context, v domain.Vepari) (domain.Vepari, error) {
	saved, err := s.mem.AddVepari(ctx, v)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdateVepari(ctx context.Context, v domain.Vepari) (domain.Vepari, error) {
	saved, err := s.mem.UpdateVepari(ctx, v)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeleteVepari(ctx context.Context, id string) error {
	if err := s.mem.DeleteVepari(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListPurchases(ctx context.Context, vepariID string) ([]domain.Purchase, error) {
	return s.mem.ListPurchases(ctx, vepariID)
}

func (s *Store) GetPurchase(ctx context.Context, id string) (domain.Purchase, error) {
	return s.mem.GetPurchase(ctx, id)
}

func (s *Store) AddPurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error) {
	saved, err := s.mem.AddPurchase(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdatePurchase(ctx context.Context, p domain.Purchase) (domain.Purchase, error) {
	saved, err := s.mem.UpdatePurchase(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeletePurchase(ctx context.Context, id string) error {
	if err := s.mem.DeletePurchase(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListPayments(ctx context.Context, vepariID string) ([]domain.Payment, error) {
	return s.mem.ListPayments(ctx, vepariID)
}

func (s *Store) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	return s.mem.GetPayment(ctx, id)
}

func (s *Store) AddPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	saved, err := s.mem.AddPayment(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdatePayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	saved, err := s.mem.UpdatePayment(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	if err := s.mem.DeletePayment(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.mem.ListCustomers(ctx)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.mem.GetCustomer(ctx, id)
}

func (s *Store) AddCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	saved, err := s.mem.AddCustomer(ctx, c)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdateCustomer(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	saved, err := s.mem.UpdateCustomer(ctx, c)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.mem.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListCustomerPurchases(ctx context.Context, customerID string) ([]domain.CustomerPurchase, error) {
	return s.mem.ListCustomerPurchases(ctx, customerID)
}

func (s *Store) GetCustomerPurchase(ctx context.Context, id string) (domain.CustomerPurchase, error) {
	return s.mem.GetCustomerPurchase(ctx, id)
}

func (s *Store) AddCustomerPurchase(ctx context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error) {
	saved, err := s.mem.AddCustomerPurchase(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdateCustomerPurchase(ctx context.Context, p domain.CustomerPurchase) (domain.CustomerPurchase, error) {
	saved, err := s.mem.UpdateCustomerPurchase(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeleteCustomerPurchase(ctx context.Context, id string) error {
	if err := s.mem.DeleteCustomerPurchase(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListCustomerPayments(ctx context.Context, customerID string) ([]domain.CustomerPayment, error) {
	return s.mem.ListCustomerPayments(ctx, customerID)
}

func (s *Store) GetCustomerPayment(ctx context.Context, id string) (domain.CustomerPayment, error) {
	return s.mem.GetCustomerPayment(ctx, id)
}

func (s *Store) AddCustomerPayment(ctx context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error) {
	saved, err := s.mem.AddCustomerPayment(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) UpdateCustomerPayment(ctx context.Context, p domain.CustomerPayment) (domain.CustomerPayment, error) {
	saved, err := s.mem.UpdateCustomerPayment(ctx, p)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) DeleteCustomerPayment(ctx context.Context, id string) error {
	if err := s.mem.DeleteCustomerPayment(ctx, id); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) ListDeliveries(ctx context.Context, customerID string) ([]domain.DeliveryRecord, error) {
	return s.mem.ListDeliveries(ctx, customerID)
}

func (s *Store) AddDelivery(ctx context.Context, d domain.DeliveryRecord) (domain.DeliveryRecord, error) {
	saved, err := s.mem.AddDelivery(ctx, d)
	if err != nil {
		return saved, err
	}
	return saved, s.persist(ctx)
}

func (s *Store) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return s.mem.Snapshot(ctx)
}

func (s *Store) Restore(ctx context.Context, snap domain.Snapshot) error {
	if err := s.mem.Restore(ctx, snap); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *Store) Revision(ctx context.Context) (int64, error) {
	return s.mem.Revision(ctx)
}

// --- audit logs: relational ---

func (s *Store) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

// --- users: relational ---

func (s *Store) GetUser(ctx context.Context, username string) (domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserAccount{}, store.ErrNotFound
		}
		return domain.UserAccount{}, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.UserAccount) error {
	if u.Username == "" || u.Password == "" {
		return store.ErrValidation
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.Username, u.Password, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrUserExists
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username, hashed string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, hashed)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
