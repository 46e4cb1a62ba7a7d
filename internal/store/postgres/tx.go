package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	p, err := scanProduct(t.tx.QueryRow(ctx, `
		INSERT INTO products (id, owner_id, name, price, stock, pack_size, unit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		RETURNING `+productColumns,
		product.ID, product.OwnerID, product.Name, product.Price, product.Stock, product.PackSize, product.Unit, product.CreatedAt))
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// AdjustStock checks and writes in one statement: the row only matches while the
// resulting stock stays non-negative.
func (t *pgTx) AdjustStock(ctx context.Context, ownerID string, productID string, delta int, newPrice *decimal.Decimal) (*domain.Product, error) {
	var price any
	if newPrice != nil {
		price = *newPrice
	}

	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products
		SET stock = stock + $3, price = COALESCE($4::numeric, price), updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND stock + $3 >= 0
		RETURNING `+productColumns,
		productID, ownerID, delta, price))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var rowOwner string
	err = t.tx.QueryRow(ctx, `SELECT owner_id FROM products WHERE id = $1`, productID).Scan(&rowOwner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, store.ErrNotFound
	case err != nil:
		return nil, err
	case rowOwner != ownerID:
		return nil, store.ErrForbidden
	default:
		return nil, store.ErrInsufficientStock
	}
}

func (t *pgTx) AppendPurchase(ctx context.Context, e domain.PurchaseEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchase_events (id, owner_id, product_id, product_name, quantity, unit_cost, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.OwnerID, e.ProductID, e.ProductName, e.Quantity, e.UnitCost, e.CreatedAt)
	return err
}

func (t *pgTx) AppendSale(ctx context.Context, e domain.SaleEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sale_events (id, owner_id, product_id, product_name, quantity, sale_unit_price, cost_unit_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.OwnerID, e.ProductID, e.ProductName, e.Quantity, e.SaleUnitPrice, e.CostUnitPrice, e.CreatedAt)
	return err
}

func (t *pgTx) InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalid
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	c, err := scanCustomer(t.tx.QueryRow(ctx, `
		INSERT INTO customers (id, owner_id, name, phone, address, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+customerColumns,
		customer.ID, customer.OwnerID, customer.Name, customer.Phone, customer.Address, customer.Notes, customer.CreatedAt))
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

const dueColumns = `id, owner_id, customer_id, amount, note, due_date, created_at, updated_at`

func scanDue(row pgx.Row) (domain.DueRecord, error) {
	var d domain.DueRecord
	err := row.Scan(&d.ID, &d.OwnerID, &d.CustomerID, &d.Amount, &d.Note, &d.DueDate, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func (t *pgTx) OpenDue(ctx context.Context, ownerID string, customerID string, dueDate time.Time) (*domain.DueRecord, error) {
	if _, err := getCustomer(ctx, t.tx, ownerID, customerID); err != nil {
		return nil, err
	}
	// A concurrent opener may win the insert; either way the row is then read locked.
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO due_records (id, owner_id, customer_id, amount, due_date, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, now(), now())
		ON CONFLICT (customer_id) DO NOTHING
	`, xid.New("due"), ownerID, customerID, dueDate); err != nil {
		return nil, err
	}
	return t.lockDue(ctx, ownerID, customerID)
}

func (t *pgTx) CurrentDue(ctx context.Context, ownerID string, customerID string) (*domain.DueRecord, error) {
	if _, err := getCustomer(ctx, t.tx, ownerID, customerID); err != nil {
		return nil, err
	}
	return t.lockDue(ctx, ownerID, customerID)
}

func (t *pgTx) lockDue(ctx context.Context, ownerID string, customerID string) (*domain.DueRecord, error) {
	d, err := scanDue(t.tx.QueryRow(ctx, `
		SELECT `+dueColumns+`
		FROM due_records
		WHERE customer_id = $1 AND owner_id = $2
		FOR UPDATE
	`, customerID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) AdjustDue(ctx context.Context, ownerID string, dueID string, delta decimal.Decimal, note string) (*domain.DueRecord, error) {
	d, err := scanDue(t.tx.QueryRow(ctx, `
		UPDATE due_records
		SET amount = GREATEST(0, amount + $3), note = COALESCE(NULLIF($4, ''), note), updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+dueColumns,
		dueID, ownerID, delta, note))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ownership(ctx, t.tx, "due_records", dueID, ownerID)
		}
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) AppendDueEvent(ctx context.Context, e domain.DueEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO due_events (id, owner_id, customer_id, due_id, amount, note, due_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.OwnerID, e.CustomerID, e.DueID, e.Amount, e.Note, e.DueDate, e.CreatedAt)
	return err
}

func (t *pgTx) AppendPayment(ctx context.Context, e domain.PaymentEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_events (id, owner_id, customer_id, due_id, amount, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.OwnerID, e.CustomerID, e.DueID, e.Amount, e.Note, e.CreatedAt)
	return err
}
