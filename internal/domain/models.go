package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is the unit of measure a product is sold in.
type Unit string

const (
	UnitPieces Unit = "pcs"
	UnitKilo   Unit = "kg"
	UnitGram   Unit = "g"
	UnitLitre  Unit = "L"
	UnitMilli  Unit = "ml"
	UnitBox    Unit = "box"
	UnitPack   Unit = "pack"
	UnitBag    Unit = "bag"
	UnitBottle Unit = "bottle"
	UnitCan    Unit = "can"
	UnitDozen  Unit = "dozen"
)

var units = map[Unit]struct{}{
	UnitPieces: {}, UnitKilo: {}, UnitGram: {}, UnitLitre: {}, UnitMilli: {}, UnitBox: {},
	UnitPack: {}, UnitBag: {}, UnitBottle: {}, UnitCan: {}, UnitDozen: {},
}

func (u Unit) Valid() bool {
	_, ok := units[u]
	return ok
}

type Product struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	PackSize  string          `json:"pack_size"`
	Unit      Unit            `json:"unit"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name     string          `json:"name" validate:"required,max=120"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
	Stock    int             `json:"stock" validate:"gte=0,max=1000000"`
	PackSize string          `json:"pack_size" validate:"required,max=40"`
	Unit     Unit            `json:"unit" validate:"required,unit"`
}

// ProductUpdateRequest never carries stock: stock only moves through purchases and sales.
type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	PackSize *string          `json:"pack_size,omitempty" validate:"omitempty,min=1,max=40"`
	Unit     *Unit            `json:"unit,omitempty" validate:"omitempty,unit"`
}

type StockFilter string

const (
	StockFilterAll     StockFilter = ""
	StockFilterInStock StockFilter = "in"
	StockFilterLow     StockFilter = "low"
	StockFilterOut     StockFilter = "out"
)

type PurchaseEvent struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (e PurchaseEvent) Amount() decimal.Decimal {
	return e.UnitCost.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

type SaleEvent struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	SaleUnitPrice decimal.Decimal `json:"sale_unit_price"`
	CostUnitPrice decimal.Decimal `json:"cost_unit_price"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (e SaleEvent) Revenue() decimal.Decimal {
	return e.SaleUnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

func (e SaleEvent) Cost() decimal.Decimal {
	return e.CostUnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

func (e SaleEvent) Profit() decimal.Decimal {
	return e.Revenue().Sub(e.Cost())
}

// MaxStock is the largest on-hand quantity a product can hold.
const MaxStock = 1<<31 - 1

type PurchaseRequest struct {
	ProductID      string          `json:"-"`
	Quantity       int             `json:"quantity" validate:"gt=0,max=1000000"`
	UnitCost       decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	IdempotencyKey string          `json:"-"`
}

type PurchaseResult struct {
	Product  Product       `json:"product"`
	Purchase PurchaseEvent `json:"purchase"`
}

type SaleRequest struct {
	ProductID      string          `json:"-"`
	Quantity       int             `json:"quantity" validate:"gt=0,max=1000000"`
	SaleUnitPrice  decimal.Decimal `json:"sale_unit_price" validate:"gte=0"`
	CostUnitPrice  decimal.Decimal `json:"cost_unit_price" validate:"gte=0"`
	IdempotencyKey string          `json:"-"`
}

type SaleResult struct {
	Product Product   `json:"product"`
	Sale    SaleEvent `json:"sale"`
}

type ProductLedgerEntry struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	LedgerEntryPurchase = "purchase"
	LedgerEntrySale     = "sale"
)

type Customer struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"required,phone"`
	Address string `json:"address" validate:"max=240"`
	Notes   string `json:"notes" validate:"max=1000"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,min=1,max=120"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,phone"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=240"`
	Notes   *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

type CustomerSummary struct {
	Customer
	DueBalance    decimal.Decimal `json:"due_balance"`
	LastPaymentAt *time.Time      `json:"last_payment_at,omitempty"`
}

// DueRecord is the customer's open due. Amount is the running balance kept in step
// with the DueEvent and PaymentEvent logs and never drops below zero.
type DueRecord struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	CustomerID string          `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	DueDate    time.Time       `json:"due_date"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type DueEvent struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	CustomerID string          `json:"customer_id"`
	DueID      string          `json:"due_id"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	DueDate    *time.Time      `json:"due_date,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PaymentEvent struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	CustomerID string          `json:"customer_id"`
	DueID      string          `json:"due_id"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type DueRequest struct {
	CustomerID     string          `json:"-"`
	Amount         decimal.Decimal `json:"amount" validate:"gte=0"`
	Note           string          `json:"note" validate:"max=500"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	IdempotencyKey string          `json:"-"`
}

type DueResult struct {
	Due   DueRecord `json:"due"`
	Event DueEvent  `json:"event"`
}

type PaymentRequest struct {
	CustomerID     string          `json:"-"`
	Amount         decimal.Decimal `json:"amount" validate:"gte=0"`
	Note           string          `json:"note" validate:"max=500"`
	IdempotencyKey string          `json:"-"`
}

type PaymentResult struct {
	Due     DueRecord    `json:"due"`
	Payment PaymentEvent `json:"payment"`
}

const (
	CustomerTxDue     = "due"
	CustomerTxPayment = "payment"
)

type CustomerTransaction struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	DueID     string          `json:"due_id"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type SalesMetrics struct {
	Revenue   decimal.Decimal `json:"revenue"`
	Count     int64           `json:"count"`
	ItemsSold int64           `json:"itemsSold"`
}

type SaleTotals struct {
	Revenue   decimal.Decimal
	Cost      decimal.Decimal
	Count     int64
	ItemsSold int64
}

type InventoryMetrics struct {
	Total      int64           `json:"total"`
	OutOfStock int64           `json:"outOfStock"`
	LowStock   int64           `json:"lowStock"`
	StockValue decimal.Decimal `json:"stockValue"`
}

type DueTotals struct {
	Added decimal.Decimal
	Paid  decimal.Decimal
}

type Report struct {
	Period      string           `json:"period"`
	StartDate   time.Time        `json:"startDate"`
	EndDate     time.Time        `json:"endDate"`
	Sales       SalesMetrics     `json:"sales"`
	Cost        decimal.Decimal  `json:"cost"`
	Profit      decimal.Decimal  `json:"profit"`
	Purchased   decimal.Decimal  `json:"purchased"`
	Dues        decimal.Decimal  `json:"dues"`
	Inventory   InventoryMetrics `json:"inventory"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

type Actor struct {
	OwnerID string
	Email   string
}

type RegisterRequest struct {
	StoreName  string `json:"store_name" validate:"required,min=2,max=120"`
	Proprietor string `json:"proprietor" validate:"required,min=2,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required,phone"`
	Address    string `json:"address" validate:"required,min=5,max=240"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	EmailOrPhone string `json:"email_or_phone" validate:"required"`
	Password     string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	OwnerID     string `json:"owner_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Owner struct {
	ID         string    `json:"id"`
	StoreName  string    `json:"store_name"`
	Proprietor string    `json:"proprietor"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	CreatedAt  time.Time `json:"created_at"`
}

// OwnerAccount is an internal persistence model for owner credentials.
type OwnerAccount struct {
	Owner
	PasswordHash string
}
