package memory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

// memTx runs with Store.mu write-locked. Every write pushes its inverse onto undo so
// a failed unit leaves no trace.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.OwnerID == "" || product.Name == "" || product.Stock < 0 {
		return nil, store.ErrInvalid
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := t.s.products[product.ID]; exists {
		return nil, store.ErrDuplicate
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt

	t.s.products[product.ID] = product
	t.undo = append(t.undo, func() { delete(t.s.products, product.ID) })
	created := product
	return &created, nil
}

func (t *memTx) AdjustStock(_ context.Context, ownerID string, productID string, delta int, newPrice *decimal.Decimal) (*domain.Product, error) {
	current, err := t.s.productFor(ownerID, productID)
	if err != nil {
		return nil, err
	}
	if delta < 0 && current.Stock+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	if delta > 0 && current.Stock > domain.MaxStock-delta {
		return nil, store.ErrInvalid
	}

	prev := current
	current.Stock += delta
	if newPrice != nil {
		current.Price = *newPrice
	}
	current.UpdatedAt = time.Now().UTC()
	t.s.products[productID] = current
	t.undo = append(t.undo, func() { t.s.products[productID] = prev })
	return &current, nil
}

func (t *memTx) AppendPurchase(_ context.Context, event domain.PurchaseEvent) error {
	if event.ID == "" || event.Quantity < 1 {
		return store.ErrInvalid
	}
	n := len(t.s.purchases)
	t.s.purchases = append(t.s.purchases, event)
	t.undo = append(t.undo, func() { t.s.purchases = t.s.purchases[:n] })
	return nil
}

func (t *memTx) AppendSale(_ context.Context, event domain.SaleEvent) error {
	if event.ID == "" || event.Quantity < 1 {
		return store.ErrInvalid
	}
	n := len(t.s.sales)
	t.s.sales = append(t.s.sales, event)
	t.undo = append(t.undo, func() { t.s.sales = t.s.sales[:n] })
	return nil
}

func (t *memTx) InsertCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.OwnerID == "" || customer.Name == "" || customer.Phone == "" {
		return nil, store.ErrInvalid
	}
	if t.s.phoneTaken(customer.OwnerID, customer.Phone, "") {
		return nil, store.ErrDuplicate
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	t.s.customers[customer.ID] = customer
	t.undo = append(t.undo, func() { delete(t.s.customers, customer.ID) })
	created := customer
	return &created, nil
}

func (t *memTx) OpenDue(ctx context.Context, ownerID string, customerID string, dueDate time.Time) (*domain.DueRecord, error) {
	due, err := t.CurrentDue(ctx, ownerID, customerID)
	if err == nil {
		return due, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	// CurrentDue already confirmed the customer exists for this owner.

	now := time.Now().UTC()
	record := domain.DueRecord{
		ID:         xid.New("due"),
		OwnerID:    ownerID,
		CustomerID: customerID,
		Amount:     decimal.Zero,
		DueDate:    dueDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.s.dues[record.ID] = record
	t.s.openDueByCustomer[customerID] = record.ID
	t.undo = append(t.undo, func() {
		delete(t.s.dues, record.ID)
		delete(t.s.openDueByCustomer, customerID)
	})
	return &record, nil
}

func (t *memTx) CurrentDue(_ context.Context, ownerID string, customerID string) (*domain.DueRecord, error) {
	if _, err := t.s.customerFor(ownerID, customerID); err != nil {
		return nil, err
	}
	dueID, ok := t.s.openDueByCustomer[customerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	due := t.s.dues[dueID]
	return &due, nil
}

func (t *memTx) AdjustDue(_ context.Context, ownerID string, dueID string, delta decimal.Decimal, note string) (*domain.DueRecord, error) {
	current, ok := t.s.dues[dueID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if current.OwnerID != ownerID {
		return nil, store.ErrForbidden
	}

	prev := current
	current.Amount = decimal.Max(decimal.Zero, current.Amount.Add(delta))
	if note != "" {
		current.Note = note
	}
	current.UpdatedAt = time.Now().UTC()
	t.s.dues[dueID] = current
	t.undo = append(t.undo, func() { t.s.dues[dueID] = prev })
	return &current, nil
}

func (t *memTx) AppendDueEvent(_ context.Context, event domain.DueEvent) error {
	if event.ID == "" || event.Amount.IsNegative() {
		return store.ErrInvalid
	}
	n := len(t.s.dueEvents)
	t.s.dueEvents = append(t.s.dueEvents, event)
	t.undo = append(t.undo, func() { t.s.dueEvents = t.s.dueEvents[:n] })
	return nil
}

func (t *memTx) AppendPayment(_ context.Context, event domain.PaymentEvent) error {
	if event.ID == "" || event.Amount.IsNegative() {
		return store.ErrInvalid
	}
	n := len(t.s.payments)
	t.s.payments = append(t.s.payments, event)
	t.undo = append(t.undo, func() { t.s.payments = t.s.payments[:n] })
	return nil
}
