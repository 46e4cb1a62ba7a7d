package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/ledger"
	"storeledger/backend/internal/store/memory"
)

const owner = "own-a"

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestEmptyOwnerReportIsAllZero(t *testing.T) {
	agg := NewAggregator(memory.New(), 10, time.UTC)

	report, err := agg.Compute(context.Background(), owner, domain.Month(), time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))

	require.Equal(t, map[string]any{"revenue": float64(0), "count": float64(0), "itemsSold": float64(0)}, body["sales"])
	require.Equal(t, float64(0), body["cost"])
	require.Equal(t, float64(0), body["profit"])
	require.Equal(t, float64(0), body["purchased"])
	require.Equal(t, float64(0), body["dues"])
	require.Equal(t, map[string]any{"total": float64(0), "outOfStock": float64(0), "lowStock": float64(0), "stockValue": float64(0)}, body["inventory"])
}

func TestReportCombinesAllScans(t *testing.T) {
	repo := memory.New()
	coord := ledger.New(repo)
	ctx := context.Background()

	p, err := coord.CreateProduct(ctx, domain.Product{OwnerID: owner, Name: "Flour", Price: dec(100), Stock: 10, PackSize: "1", Unit: domain.UnitKilo})
	require.NoError(t, err)
	_, err = coord.Purchase(ctx, owner, domain.PurchaseRequest{ProductID: p.ID, Quantity: 5, UnitCost: dec(120)})
	require.NoError(t, err)
	_, err = coord.Sale(ctx, owner, domain.SaleRequest{ProductID: p.ID, Quantity: 3, SaleUnitPrice: dec(150), CostUnitPrice: dec(120)})
	require.NoError(t, err)
	_, err = coord.CreateProduct(ctx, domain.Product{OwnerID: owner, Name: "Salt", Price: dec(20), Stock: 0, PackSize: "1", Unit: domain.UnitKilo})
	require.NoError(t, err)

	cu, err := coord.CreateCustomer(ctx, domain.Customer{OwnerID: owner, Name: "Ana", Phone: "0123456789"})
	require.NoError(t, err)
	_, err = coord.AddDue(ctx, owner, domain.DueRequest{CustomerID: cu.ID, Amount: dec(500)})
	require.NoError(t, err)
	_, err = coord.RecordPayment(ctx, owner, domain.PaymentRequest{CustomerID: cu.ID, Amount: dec(200)})
	require.NoError(t, err)

	report, err := NewAggregator(repo, 10, time.UTC).Compute(ctx, owner, domain.Today(), time.Now())
	require.NoError(t, err)

	require.True(t, dec(450).Equal(report.Sales.Revenue))
	require.Equal(t, int64(1), report.Sales.Count)
	require.Equal(t, int64(3), report.Sales.ItemsSold)
	require.True(t, dec(360).Equal(report.Cost))
	require.True(t, dec(90).Equal(report.Profit))
	require.True(t, dec(1600).Equal(report.Purchased), "opening stock 1000 plus purchase 600, got %s", report.Purchased)
	require.True(t, dec(300).Equal(report.Dues))
	require.Equal(t, int64(1), report.Inventory.Total)
	require.Equal(t, int64(1), report.Inventory.OutOfStock)
	require.Equal(t, int64(0), report.Inventory.LowStock)
	require.True(t, dec(1440).Equal(report.Inventory.StockValue))
	require.Equal(t, "today", report.Period)
}

func TestOverpaidDuesReportZero(t *testing.T) {
	repo := memory.New()
	coord := ledger.New(repo)
	ctx := context.Background()

	cu, err := coord.CreateCustomer(ctx, domain.Customer{OwnerID: owner, Name: "Ana", Phone: "0123456789"})
	require.NoError(t, err)
	_, err = coord.AddDue(ctx, owner, domain.DueRequest{CustomerID: cu.ID, Amount: dec(500)})
	require.NoError(t, err)
	_, err = coord.RecordPayment(ctx, owner, domain.PaymentRequest{CustomerID: cu.ID, Amount: dec(700)})
	require.NoError(t, err)

	report, err := NewAggregator(repo, 10, time.UTC).Compute(ctx, owner, domain.AllTime(), time.Now())
	require.NoError(t, err)
	require.True(t, report.Dues.IsZero())
}

func TestProfitIsFixedAfterPriceUpdate(t *testing.T) {
	repo := memory.New()
	coord := ledger.New(repo)
	ctx := context.Background()

	p, err := coord.CreateProduct(ctx, domain.Product{OwnerID: owner, Name: "Milk", Price: dec(40), Stock: 10, PackSize: "1", Unit: domain.UnitLitre})
	require.NoError(t, err)
	_, err = coord.Sale(ctx, owner, domain.SaleRequest{ProductID: p.ID, Quantity: 2, SaleUnitPrice: dec(55), CostUnitPrice: dec(40)})
	require.NoError(t, err)

	agg := NewAggregator(repo, 10, time.UTC)
	before, err := agg.Compute(ctx, owner, domain.AllTime(), time.Now())
	require.NoError(t, err)

	p.Price = dec(90)
	_, err = repo.UpdateProduct(ctx, *p)
	require.NoError(t, err)

	after, err := agg.Compute(ctx, owner, domain.AllTime(), time.Now())
	require.NoError(t, err)
	require.True(t, before.Profit.Equal(after.Profit))
	require.True(t, dec(30).Equal(after.Profit))
}

func TestCustomWindowIsInclusiveAndIgnoresOtherOwners(t *testing.T) {
	src := &fixedSource{}
	agg := NewAggregator(src, 10, time.UTC)
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)
	period, err := domain.Custom(start, end)
	require.NoError(t, err)

	report, err := agg.Compute(context.Background(), owner, period, time.Now())
	require.NoError(t, err)
	require.Equal(t, start, src.from)
	require.Equal(t, end, src.to)
	require.Equal(t, start, report.StartDate)
	require.Equal(t, end, report.EndDate)
	require.Equal(t, owner, src.owner)
}

func TestWeekStartsOnMondayInReportLocation(t *testing.T) {
	src := &fixedSource{}
	loc := time.FixedZone("UTC+7", 7*3600)
	agg := NewAggregator(src, 10, loc)

	// Sunday 20:00 UTC is already Monday 03:00 at UTC+7.
	now := time.Date(2026, 3, 8, 20, 0, 0, 0, time.UTC)
	_, err := agg.Compute(context.Background(), owner, domain.Week(), now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), src.from)
}

func TestScanErrorFailsReport(t *testing.T) {
	boom := errors.New("scan failed")
	agg := NewAggregator(&fixedSource{err: boom}, 10, time.UTC)

	_, err := agg.Compute(context.Background(), owner, domain.Today(), time.Now())
	require.ErrorIs(t, err, boom)
}

type fixedSource struct {
	owner string
	from  time.Time
	to    time.Time
	err   error
}

func (f *fixedSource) SaleTotals(_ context.Context, ownerID string, from time.Time, to time.Time) (domain.SaleTotals, error) {
	f.owner, f.from, f.to = ownerID, from, to
	return domain.SaleTotals{}, nil
}

func (f *fixedSource) PurchaseTotals(context.Context, string, time.Time, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fixedSource) InventorySnapshot(context.Context, string, int) (domain.InventoryMetrics, error) {
	return domain.InventoryMetrics{}, nil
}

func (f *fixedSource) DueTotals(context.Context, string) (domain.DueTotals, error) {
	return domain.DueTotals{}, f.err
}
