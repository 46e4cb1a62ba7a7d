package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()
	databaseURL := os.Getenv("STORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STORE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ownerID := fmt.Sprintf("own-it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		for _, table := range []string{"payment_events", "due_events", "due_records", "customers", "sale_events", "purchase_events", "products"} {
			_, _ = s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE owner_id = $1`, ownerID)
		}
		_ = s.Close()
	})
	return s, ownerID
}

func insertProduct(t *testing.T, s *Store, ownerID string, stock int) domain.Product {
	t.Helper()
	var created *domain.Product
	err := s.InTx(context.Background(), func(tx store.Tx) error {
		var err error
		created, err = tx.InsertProduct(context.Background(), domain.Product{
			OwnerID: ownerID, Name: "Integration Rice", Price: decimal.NewFromInt(100), Stock: stock, PackSize: "5", Unit: domain.UnitKilo,
		})
		return err
	})
	if err != nil {
		t.Fatalf("insert product: %v", err)
	}
	return *created
}

func TestAdjustStockIsConditional(t *testing.T) {
	s, ownerID := newIntegrationStore(t)
	ctx := context.Background()
	p := insertProduct(t, s, ownerID, 2)

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, ownerID, p.ID, -3, nil)
		return err
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, "own-someone-else", p.ID, 1, nil)
		return err
	})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	price := decimal.NewFromInt(120)
	err = s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, ownerID, p.ID, 5, &price)
		return err
	})
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	got, err := s.GetProduct(ctx, ownerID, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 7 || !got.Price.Equal(price) {
		t.Fatalf("expected stock 7 at 120, got %d at %s", got.Stock, got.Price)
	}
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	s, ownerID := newIntegrationStore(t)
	ctx := context.Background()
	p := insertProduct(t, s, ownerID, 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InTx(ctx, func(tx store.Tx) error {
				_, err := tx.AdjustStock(ctx, ownerID, p.ID, -3, nil)
				return err
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one decrement to commit, got %d", ok)
	}
	got, err := s.GetProduct(ctx, ownerID, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 2 {
		t.Fatalf("expected stock 2, got %d", got.Stock)
	}
}

func TestDueBalanceClampsAndTotalsAgree(t *testing.T) {
	s, ownerID := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.InTx(ctx, func(tx store.Tx) error {
		c, err := tx.InsertCustomer(ctx, domain.Customer{OwnerID: ownerID, Name: "Ana", Phone: fmt.Sprintf("0%09d", now.UnixNano()%1e9)})
		if err != nil {
			return err
		}
		due, err := tx.OpenDue(ctx, ownerID, c.ID, now.AddDate(0, 0, 30))
		if err != nil {
			return err
		}
		if _, err := tx.AdjustDue(ctx, ownerID, due.ID, decimal.NewFromInt(500), ""); err != nil {
			return err
		}
		if err := tx.AppendDueEvent(ctx, domain.DueEvent{ID: "dev-" + c.ID, OwnerID: ownerID, CustomerID: c.ID, DueID: due.ID, Amount: decimal.NewFromInt(500), CreatedAt: now}); err != nil {
			return err
		}
		due, err = tx.AdjustDue(ctx, ownerID, due.ID, decimal.NewFromInt(-700), "")
		if err != nil {
			return err
		}
		if !due.Amount.IsZero() {
			return fmt.Errorf("expected clamped due, got %s", due.Amount)
		}
		return tx.AppendPayment(ctx, domain.PaymentEvent{ID: "pay-" + c.ID, OwnerID: ownerID, CustomerID: c.ID, DueID: due.ID, Amount: decimal.NewFromInt(700), CreatedAt: now})
	})
	if err != nil {
		t.Fatalf("due flow: %v", err)
	}

	totals, err := s.DueTotals(ctx, ownerID)
	if err != nil {
		t.Fatalf("due totals: %v", err)
	}
	if !totals.Added.Equal(decimal.NewFromInt(500)) || !totals.Paid.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unexpected due totals %+v", totals)
	}
}
