package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 30
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

const productColumns = `id, owner_id, name, price, stock, pack_size, unit, created_at, updated_at`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Price, &p.Stock, &p.PackSize, &p.Unit, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, ownerID string, filter domain.StockFilter, lowStockThreshold int) ([]domain.Product, error) {
	where := "owner_id = $1"
	order := "lower(name)"
	switch filter {
	case domain.StockFilterInStock:
		where += " AND stock > 0"
	case domain.StockFilterLow:
		where += " AND stock > 0 AND stock < $2"
		order = "stock, lower(name)"
	case domain.StockFilterOut:
		where += " AND stock = 0"
	}
	args := []any{ownerID}
	if filter == domain.StockFilterLow {
		args = append(args, lowStockThreshold)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE `+where+` ORDER BY `+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products
		SET name = $3, price = $4, pack_size = $5, unit = $6, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+productColumns,
		product.ID, product.OwnerID, product.Name, product.Price, product.PackSize, product.Unit))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ownership(ctx, s.pool, "products", product.ID, product.OwnerID)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID string, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ownership(ctx, s.pool, "products", id, ownerID)
	}
	return nil
}

func (s *Store) ListProductLedger(ctx context.Context, ownerID string, productID string, limit int) ([]domain.ProductLedgerEntry, error) {
	if _, err := s.GetProduct(ctx, ownerID, productID); err != nil {
		return nil, err
	}
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT 'purchase', id, quantity, unit_cost, unit_cost, created_at
		FROM purchase_events WHERE owner_id = $1 AND product_id = $2
		UNION ALL
		SELECT 'sale', id, quantity, sale_unit_price, cost_unit_price, created_at
		FROM sale_events WHERE owner_id = $1 AND product_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, ownerID, productID, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ProductLedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.ProductLedgerEntry
		if err := rows.Scan(&e.Type, &e.ID, &e.Quantity, &e.UnitPrice, &e.UnitCost, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

const customerColumns = `id, owner_id, name, phone, address, notes, created_at`

func scanCustomer(row pgx.Row) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Address, &c.Notes, &c.CreatedAt)
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error) {
	return getCustomer(ctx, s.pool, ownerID, id)
}

func getCustomer(ctx context.Context, q querier, ownerID string, id string) (*domain.Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx, `
		UPDATE customers
		SET name = $3, phone = $4, address = $5, notes = $6
		WHERE id = $1 AND owner_id = $2
		RETURNING `+customerColumns,
		customer.ID, customer.OwnerID, customer.Name, customer.Phone, customer.Address, customer.Notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ownership(ctx, s.pool, "customers", customer.ID, customer.OwnerID)
		}
		return nil, mapError(err)
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string) ([]domain.CustomerSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.owner_id, c.name, c.phone, c.address, c.notes, c.created_at,
			COALESCE(d.amount, 0), lp.last_at
		FROM customers c
		LEFT JOIN due_records d ON d.customer_id = c.id
		LEFT JOIN LATERAL (
			SELECT max(p.created_at) AS last_at FROM payment_events p WHERE p.customer_id = c.id
		) lp ON true
		WHERE c.owner_id = $1
		ORDER BY lower(c.name)
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomerSummary, 0, 32)
	for rows.Next() {
		var cs domain.CustomerSummary
		if err := rows.Scan(&cs.ID, &cs.OwnerID, &cs.Name, &cs.Phone, &cs.Address, &cs.Notes, &cs.CreatedAt, &cs.DueBalance, &cs.LastPaymentAt); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListCustomerTransactions(ctx context.Context, ownerID string, customerID string) ([]domain.CustomerTransaction, error) {
	if _, err := s.GetCustomer(ctx, ownerID, customerID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT 'due', id, due_id, amount, note, created_at
		FROM due_events WHERE owner_id = $1 AND customer_id = $2
		UNION ALL
		SELECT 'payment', id, due_id, amount, note, created_at
		FROM payment_events WHERE owner_id = $1 AND customer_id = $2
		ORDER BY created_at DESC
	`, ownerID, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CustomerTransaction, 0, 32)
	for rows.Next() {
		var t domain.CustomerTransaction
		if err := rows.Scan(&t.Type, &t.ID, &t.DueID, &t.Amount, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateOwner(ctx context.Context, account domain.OwnerAccount) (*domain.Owner, error) {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.ID == "" || account.Email == "" || account.PasswordHash == "" {
		return nil, store.ErrInvalid
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO owners (id, store_name, proprietor, email, phone, address, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, account.ID, account.StoreName, account.Proprietor, account.Email, account.Phone, account.Address, account.PasswordHash, account.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	owner := account.Owner
	return &owner, nil
}

func (s *Store) FindOwnerByLogin(ctx context.Context, emailOrPhone string) (*domain.OwnerAccount, error) {
	var o domain.OwnerAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, store_name, proprietor, email, phone, address, password_hash, created_at
		FROM owners
		WHERE email = lower($1) OR phone = $1
		LIMIT 1
	`, strings.TrimSpace(emailOrPhone)).Scan(&o.ID, &o.StoreName, &o.Proprietor, &o.Email, &o.Phone, &o.Address, &o.PasswordHash, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *Store) SaleTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (domain.SaleTotals, error) {
	var t domain.SaleTotals
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity * sale_unit_price), 0),
			COALESCE(SUM(quantity * cost_unit_price), 0),
			COUNT(*),
			COALESCE(SUM(quantity), 0)
		FROM sale_events
		WHERE owner_id = $1 AND created_at BETWEEN $2 AND $3
	`, ownerID, from, to).Scan(&t.Revenue, &t.Cost, &t.Count, &t.ItemsSold)
	return t, err
}

func (s *Store) PurchaseTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity * unit_cost), 0)
		FROM purchase_events
		WHERE owner_id = $1 AND created_at BETWEEN $2 AND $3
	`, ownerID, from, to).Scan(&total)
	return total, err
}

func (s *Store) InventorySnapshot(ctx context.Context, ownerID string, lowStockThreshold int) (domain.InventoryMetrics, error) {
	var m domain.InventoryMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE stock > 0),
			COUNT(*) FILTER (WHERE stock = 0),
			COUNT(*) FILTER (WHERE stock > 0 AND stock < $2),
			COALESCE(SUM(price * stock), 0)
		FROM products
		WHERE owner_id = $1
	`, ownerID, lowStockThreshold).Scan(&m.Total, &m.OutOfStock, &m.LowStock, &m.StockValue)
	return m, err
}

func (s *Store) DueTotals(ctx context.Context, ownerID string) (domain.DueTotals, error) {
	var t domain.DueTotals
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM due_events WHERE owner_id = $1),
			(SELECT COALESCE(SUM(amount), 0) FROM payment_events WHERE owner_id = $1)
	`, ownerID).Scan(&t.Added, &t.Paid)
	return t, err
}

// ownership explains why a row scoped by (id, owner_id) was not matched: ErrForbidden
// when the row belongs to another owner, ErrNotFound otherwise. table is always one
// of the package's own table names.
func ownership(ctx context.Context, q querier, table string, id string, ownerID string) error {
	var rowOwner string
	err := q.QueryRow(ctx, `SELECT owner_id FROM `+table+` WHERE id = $1`, id).Scan(&rowOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if rowOwner != ownerID {
		return store.ErrForbidden
	}
	return store.ErrNotFound
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	case "23514":
		return fmt.Errorf("%w: %s", store.ErrInvalid, pgErr.ConstraintName)
	case "22003":
		return fmt.Errorf("%w: %s", store.ErrInvalid, pgErr.Message)
	}
	return err
}
