package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"storeledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalid           = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")
	ErrDuplicate         = errors.New("duplicate")
	// ErrConflict marks a unit of work that lost a serialization race and may be retried.
	ErrConflict = errors.New("write conflict")
)

// Repository is the owner-partitioned backing store. Every read filters on ownerID;
// a row that exists under another owner yields ErrForbidden.
type Repository interface {
	// InTx runs fn as one atomic unit. Any error returned by fn discards every write
	// made through the Tx.
	InTx(ctx context.Context, fn func(Tx) error) error

	ListProducts(ctx context.Context, ownerID string, filter domain.StockFilter, lowStockThreshold int) ([]domain.Product, error)
	GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	// UpdateProduct writes name, price, pack size and unit. Stock is never touched.
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, ownerID string, id string) error
	ListProductLedger(ctx context.Context, ownerID string, productID string, limit int) ([]domain.ProductLedgerEntry, error)

	GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ListCustomers(ctx context.Context, ownerID string) ([]domain.CustomerSummary, error)
	ListCustomerTransactions(ctx context.Context, ownerID string, customerID string) ([]domain.CustomerTransaction, error)

	CreateOwner(ctx context.Context, account domain.OwnerAccount) (*domain.Owner, error)
	FindOwnerByLogin(ctx context.Context, emailOrPhone string) (*domain.OwnerAccount, error)

	SaleTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (domain.SaleTotals, error)
	PurchaseTotals(ctx context.Context, ownerID string, from time.Time, to time.Time) (decimal.Decimal, error)
	InventorySnapshot(ctx context.Context, ownerID string, lowStockThreshold int) (domain.InventoryMetrics, error)
	DueTotals(ctx context.Context, ownerID string) (domain.DueTotals, error)
}

// Tx is the only path through which stock and due balances change.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// AdjustStock adds delta to the product's stock. A negative delta that would take
	// stock below zero fails with ErrInsufficientStock and writes nothing. A non-nil
	// newPrice replaces the product price in the same write.
	AdjustStock(ctx context.Context, ownerID string, productID string, delta int, newPrice *decimal.Decimal) (*domain.Product, error)
	AppendPurchase(ctx context.Context, event domain.PurchaseEvent) error
	AppendSale(ctx context.Context, event domain.SaleEvent) error

	InsertCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// OpenDue returns the customer's open due record, creating one with amount 0 and
	// the given due date when none exists.
	OpenDue(ctx context.Context, ownerID string, customerID string, dueDate time.Time) (*domain.DueRecord, error)
	// CurrentDue returns the customer's open due record or ErrNotFound.
	CurrentDue(ctx context.Context, ownerID string, customerID string) (*domain.DueRecord, error)
	// AdjustDue adds delta to the due amount, flooring the result at zero. A non-empty
	// note replaces the record's note.
	AdjustDue(ctx context.Context, ownerID string, dueID string, delta decimal.Decimal, note string) (*domain.DueRecord, error)
	AppendDueEvent(ctx context.Context, event domain.DueEvent) error
	AppendPayment(ctx context.Context, event domain.PaymentEvent) error
}
