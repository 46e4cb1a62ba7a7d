// Package metrics builds the dashboard report for one owner and one period from
// four independent scans: sales, purchases, current inventory and dues.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
)

// Source is the read side the aggregator needs. store.Repository satisfies it.
type Source interface {
	SaleTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (domain.SaleTotals, error)
	PurchaseTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (decimal.Decimal, error)
	InventorySnapshot(ctx context.Context, ownerID string, lowStockThreshold int) (domain.InventoryMetrics, error)
	DueTotals(ctx context.Context, ownerID string) (domain.DueTotals, error)
}

var _ Source = (store.Repository)(nil)

type Aggregator struct {
	src               Source
	lowStockThreshold int
	loc               *time.Location
}

func NewAggregator(src Source, lowStockThreshold int, loc *time.Location) *Aggregator {
	if lowStockThreshold < 1 {
		lowStockThreshold = 10
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{src: src, lowStockThreshold: lowStockThreshold, loc: loc}
}

// Location is the zone day, week, month and year boundaries are taken in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// Compute resolves period against now in the report location and merges the four
// scans. The scans run concurrently and are not read from one snapshot.
func (a *Aggregator) Compute(ctx context.Context, ownerID string, period domain.Period, now time.Time) (*domain.Report, error) {
	start, end := period.Resolve(now.In(a.loc))

	var (
		sales     domain.SaleTotals
		purchased decimal.Decimal
		inventory domain.InventoryMetrics
		dues      domain.DueTotals
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = a.src.SaleTotals(gctx, ownerID, start, end)
		if err != nil {
			return fmt.Errorf("sales scan: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		purchased, err = a.src.PurchaseTotals(gctx, ownerID, start, end)
		if err != nil {
			return fmt.Errorf("purchase scan: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		inventory, err = a.src.InventorySnapshot(gctx, ownerID, a.lowStockThreshold)
		if err != nil {
			return fmt.Errorf("inventory scan: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dues, err = a.src.DueTotals(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("dues scan: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	revenue := sales.Revenue
	cost := sales.Cost
	outstanding := decimal.Max(decimal.Zero, dues.Added.Sub(dues.Paid))

	return &domain.Report{
		Period:    period.String(),
		StartDate: start,
		EndDate:   end,
		Sales: domain.SalesMetrics{
			Revenue:   revenue,
			Count:     sales.Count,
			ItemsSold: sales.ItemsSold,
		},
		Cost:        cost,
		Profit:      revenue.Sub(cost),
		Purchased:   purchased,
		Dues:        outstanding,
		Inventory:   inventory,
		GeneratedAt: now.UTC(),
	}, nil
}
