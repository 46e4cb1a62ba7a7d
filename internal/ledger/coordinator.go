// Package ledger applies every multi-store mutation (stock plus purchase or sale log,
// due balance plus due or payment log) as one atomic unit against a store.Repository.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

var ErrConflictRetryExhausted = errors.New("conflict retry exhausted")

// DueTerm is how far out a newly opened due record falls due.
const DueTerm = 30 * 24 * time.Hour

type Coordinator struct {
	repo        store.Repository
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

type Option func(*Coordinator)

func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(c *Coordinator) { c.backoff = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(repo store.Repository, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		maxAttempts: 3,
		backoff:     20 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateProduct inserts the product. A positive opening stock is recorded as a
// purchase of that quantity at the product price in the same unit.
func (c *Coordinator) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Stock < 0 || product.Price.IsNegative() {
		return nil, store.ErrInvalid
	}

	var created *domain.Product
	err := c.run(ctx, "create product", func(tx store.Tx) error {
		now := c.now()
		p := product
		p.ID = xid.New("prd")
		p.CreatedAt = now
		p.UpdatedAt = now

		var err error
		created, err = tx.InsertProduct(ctx, p)
		if err != nil {
			return err
		}
		if created.Stock == 0 {
			return nil
		}
		return tx.AppendPurchase(ctx, domain.PurchaseEvent{
			ID:          xid.New("pur"),
			OwnerID:     created.OwnerID,
			ProductID:   created.ID,
			ProductName: created.Name,
			Quantity:    created.Stock,
			UnitCost:    created.Price,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Purchase raises stock by the purchased quantity, sets the product price to the
// unit cost and appends the purchase event.
func (c *Coordinator) Purchase(ctx context.Context, ownerID string, req domain.PurchaseRequest) (*domain.PurchaseResult, error) {
	if req.Quantity < 1 || req.UnitCost.IsNegative() {
		return nil, store.ErrInvalid
	}

	var result domain.PurchaseResult
	err := c.run(ctx, "purchase", func(tx store.Tx) error {
		unitCost := req.UnitCost
		product, err := tx.AdjustStock(ctx, ownerID, req.ProductID, req.Quantity, &unitCost)
		if err != nil {
			return err
		}
		event := domain.PurchaseEvent{
			ID:          xid.New("pur"),
			OwnerID:     ownerID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			UnitCost:    unitCost,
			CreatedAt:   c.now(),
		}
		if err := tx.AppendPurchase(ctx, event); err != nil {
			return err
		}
		result = domain.PurchaseResult{Product: *product, Purchase: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Sale lowers stock by the sold quantity, failing with store.ErrInsufficientStock
// when stock would go negative, and appends the sale event with both unit prices
// captured as given.
func (c *Coordinator) Sale(ctx context.Context, ownerID string, req domain.SaleRequest) (*domain.SaleResult, error) {
	if req.Quantity < 1 || req.SaleUnitPrice.IsNegative() || req.CostUnitPrice.IsNegative() {
		return nil, store.ErrInvalid
	}

	var result domain.SaleResult
	err := c.run(ctx, "sale", func(tx store.Tx) error {
		product, err := tx.AdjustStock(ctx, ownerID, req.ProductID, -req.Quantity, nil)
		if err != nil {
			return err
		}
		event := domain.SaleEvent{
			ID:            xid.New("sal"),
			OwnerID:       ownerID,
			ProductID:     product.ID,
			ProductName:   product.Name,
			Quantity:      req.Quantity,
			SaleUnitPrice: req.SaleUnitPrice,
			CostUnitPrice: req.CostUnitPrice,
			CreatedAt:     c.now(),
		}
		if err := tx.AppendSale(ctx, event); err != nil {
			return err
		}
		result = domain.SaleResult{Product: *product, Sale: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateCustomer inserts the customer together with an empty open due record.
func (c *Coordinator) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	var created *domain.Customer
	err := c.run(ctx, "create customer", func(tx store.Tx) error {
		now := c.now()
		cu := customer
		cu.ID = xid.New("cus")
		cu.CreatedAt = now

		var err error
		created, err = tx.InsertCustomer(ctx, cu)
		if err != nil {
			return err
		}
		_, err = tx.OpenDue(ctx, created.OwnerID, created.ID, now.Add(DueTerm))
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AddDue opens a due record if the customer has none, raises it by the amount and
// appends the due event.
func (c *Coordinator) AddDue(ctx context.Context, ownerID string, req domain.DueRequest) (*domain.DueResult, error) {
	if req.Amount.IsNegative() {
		return nil, store.ErrInvalid
	}

	var result domain.DueResult
	err := c.run(ctx, "add due", func(tx store.Tx) error {
		now := c.now()
		dueDate := now.Add(DueTerm)
		if req.DueDate != nil {
			dueDate = *req.DueDate
		}
		due, err := tx.OpenDue(ctx, ownerID, req.CustomerID, dueDate)
		if err != nil {
			return err
		}
		due, err = tx.AdjustDue(ctx, ownerID, due.ID, req.Amount, strings.TrimSpace(req.Note))
		if err != nil {
			return err
		}
		event := domain.DueEvent{
			ID:         xid.New("dev"),
			OwnerID:    ownerID,
			CustomerID: req.CustomerID,
			DueID:      due.ID,
			Amount:     req.Amount,
			Note:       req.Note,
			DueDate:    req.DueDate,
			CreatedAt:  now,
		}
		if err := tx.AppendDueEvent(ctx, event); err != nil {
			return err
		}
		result = domain.DueResult{Due: *due, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RecordPayment lowers the customer's open due by the amount, floored at zero, and
// appends the payment event. A customer without an open due gets store.ErrNotFound.
func (c *Coordinator) RecordPayment(ctx context.Context, ownerID string, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	if req.Amount.IsNegative() {
		return nil, store.ErrInvalid
	}

	var result domain.PaymentResult
	err := c.run(ctx, "record payment", func(tx store.Tx) error {
		due, err := tx.CurrentDue(ctx, ownerID, req.CustomerID)
		if err != nil {
			return err
		}
		due, err = tx.AdjustDue(ctx, ownerID, due.ID, req.Amount.Neg(), "")
		if err != nil {
			return err
		}
		event := domain.PaymentEvent{
			ID:         xid.New("pay"),
			OwnerID:    ownerID,
			CustomerID: req.CustomerID,
			DueID:      due.ID,
			Amount:     req.Amount,
			Note:       req.Note,
			CreatedAt:  c.now(),
		}
		if err := tx.AppendPayment(ctx, event); err != nil {
			return err
		}
		result = domain.PaymentResult{Due: *due, Payment: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// run retries fn while the store reports a serialization conflict. Domain errors
// are returned on first sight.
func (c *Coordinator) run(ctx context.Context, op string, fn func(store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := c.repo.InTx(ctx, fn)
		if err == nil || !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= c.maxAttempts {
			log.Warn().Str("op", op).Int("attempts", attempt).Err(err).Msg("ledger retry budget exhausted")
			return fmt.Errorf("%w: %s after %d attempts", ErrConflictRetryExhausted, op, attempt)
		}
		log.Debug().Str("op", op).Int("attempt", attempt).Msg("ledger conflict, retrying")

		timer := time.NewTimer(c.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
