package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

// Store keeps every owner's data in process memory behind one RWMutex. Transactions
// hold the write lock for their whole duration and undo their writes on error.
type Store struct {
	mu                sync.RWMutex
	products          map[string]domain.Product
	purchases         []domain.PurchaseEvent
	sales             []domain.SaleEvent
	customers         map[string]domain.Customer
	dues              map[string]domain.DueRecord
	openDueByCustomer map[string]string
	dueEvents         []domain.DueEvent
	payments          []domain.PaymentEvent
	owners            map[string]domain.OwnerAccount
}

func New() *Store {
	return &Store{
		products:          make(map[string]domain.Product),
		customers:         make(map[string]domain.Customer),
		dues:              make(map[string]domain.DueRecord),
		openDueByCustomer: make(map[string]string),
		owners:            make(map[string]domain.OwnerAccount),
	}
}

// NewSeeded returns a store holding one demo owner with a small catalogue, for local
// runs without DATABASE_URL. The password comes from SEED_OWNER_PASSWORD.
func NewSeeded() *Store {
	s := New()

	password := os.Getenv("SEED_OWNER_PASSWORD")
	if password == "" {
		password = "demo12345"
		log.Warn().Msg("memory store: using default demo owner password, set SEED_OWNER_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal().Err(err).Msg("memory store: failed to hash seed password")
	}

	now := time.Now().UTC()
	owner := domain.OwnerAccount{
		Owner: domain.Owner{
			ID:         "own-demo",
			StoreName:  "Demo Store",
			Proprietor: "Demo Owner",
			Email:      "demo@storeledger.local",
			Phone:      "0123456789",
			Address:    "1 Market Street",
			CreatedAt:  now,
		},
		PasswordHash: string(hash),
	}
	s.owners[owner.ID] = owner

	for _, p := range []struct {
		name  string
		price string
		stock int
		pack  string
		unit  domain.Unit
	}{
		{"Rice", "52.50", 40, "5", domain.UnitKilo},
		{"Sunflower Oil", "140", 12, "1", domain.UnitLitre},
		{"Tea Bags", "3.20", 6, "25", domain.UnitPack},
		{"Eggs", "7.50", 0, "12", domain.UnitDozen},
	} {
		id := xid.New("prd")
		s.products[id] = domain.Product{
			ID:        id,
			OwnerID:   owner.ID,
			Name:      p.name,
			Price:     decimal.RequireFromString(p.price),
			Stock:     p.stock,
			PackSize:  p.pack,
			Unit:      p.unit,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *Store) ListProducts(_ context.Context, ownerID string, filter domain.StockFilter, lowStockThreshold int) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.OwnerID != ownerID || !matchesStockFilter(p.Stock, filter, lowStockThreshold) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if filter == domain.StockFilterLow && a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.productFor(ownerID, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.productFor(product.OwnerID, product.ID)
	if err != nil {
		return nil, err
	}
	current.Name = product.Name
	current.Price = product.Price
	current.PackSize = product.PackSize
	current.Unit = product.Unit
	current.UpdatedAt = time.Now().UTC()
	s.products[current.ID] = current
	return &current, nil
}

func (s *Store) DeleteProduct(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.productFor(ownerID, id); err != nil {
		return err
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListProductLedger(_ context.Context, ownerID string, productID string, limit int) ([]domain.ProductLedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.productFor(ownerID, productID); err != nil {
		return nil, err
	}

	entries := make([]domain.ProductLedgerEntry, 0)
	for _, e := range s.purchases {
		if e.OwnerID == ownerID && e.ProductID == productID {
			entries = append(entries, domain.ProductLedgerEntry{
				Type:      domain.LedgerEntryPurchase,
				ID:        e.ID,
				Quantity:  e.Quantity,
				UnitPrice: e.UnitCost,
				UnitCost:  e.UnitCost,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	for _, e := range s.sales {
		if e.OwnerID == ownerID && e.ProductID == productID {
			entries = append(entries, domain.ProductLedgerEntry{
				Type:      domain.LedgerEntrySale,
				ID:        e.ID,
				Quantity:  e.Quantity,
				UnitPrice: e.SaleUnitPrice,
				UnitCost:  e.CostUnitPrice,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	slices.SortStableFunc(entries, func(a, b domain.ProductLedgerEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) GetCustomer(_ context.Context, ownerID string, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.customerFor(ownerID, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.customerFor(customer.OwnerID, customer.ID)
	if err != nil {
		return nil, err
	}
	if s.phoneTaken(customer.OwnerID, customer.Phone, customer.ID) {
		return nil, store.ErrDuplicate
	}
	current.Name = customer.Name
	current.Phone = customer.Phone
	current.Address = customer.Address
	current.Notes = customer.Notes
	s.customers[current.ID] = current
	return &current, nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string) ([]domain.CustomerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lastPayment := make(map[string]time.Time)
	for _, p := range s.payments {
		if p.OwnerID == ownerID && p.CreatedAt.After(lastPayment[p.CustomerID]) {
			lastPayment[p.CustomerID] = p.CreatedAt
		}
	}

	out := make([]domain.CustomerSummary, 0)
	for _, c := range s.customers {
		if c.OwnerID != ownerID {
			continue
		}
		summary := domain.CustomerSummary{Customer: c, DueBalance: decimal.Zero}
		if dueID, ok := s.openDueByCustomer[c.ID]; ok {
			summary.DueBalance = s.dues[dueID].Amount
		}
		if at, ok := lastPayment[c.ID]; ok {
			summary.LastPaymentAt = &at
		}
		out = append(out, summary)
	}
	slices.SortFunc(out, func(a, b domain.CustomerSummary) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out, nil
}

func (s *Store) ListCustomerTransactions(_ context.Context, ownerID string, customerID string) ([]domain.CustomerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.customerFor(ownerID, customerID); err != nil {
		return nil, err
	}

	out := make([]domain.CustomerTransaction, 0)
	for _, e := range s.dueEvents {
		if e.OwnerID == ownerID && e.CustomerID == customerID {
			out = append(out, domain.CustomerTransaction{
				Type: domain.CustomerTxDue, ID: e.ID, DueID: e.DueID, Amount: e.Amount, Note: e.Note, CreatedAt: e.CreatedAt,
			})
		}
	}
	for _, e := range s.payments {
		if e.OwnerID == ownerID && e.CustomerID == customerID {
			out = append(out, domain.CustomerTransaction{
				Type: domain.CustomerTxPayment, ID: e.ID, DueID: e.DueID, Amount: e.Amount, Note: e.Note, CreatedAt: e.CreatedAt,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b domain.CustomerTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateOwner(_ context.Context, account domain.OwnerAccount) (*domain.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.ID == "" || account.Email == "" || account.PasswordHash == "" {
		return nil, store.ErrInvalid
	}
	for _, o := range s.owners {
		if o.Email == account.Email || o.Phone == account.Phone {
			return nil, store.ErrDuplicate
		}
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	s.owners[account.ID] = account
	owner := account.Owner
	return &owner, nil
}

func (s *Store) FindOwnerByLogin(_ context.Context, emailOrPhone string) (*domain.OwnerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.TrimSpace(emailOrPhone)
	for _, o := range s.owners {
		if strings.EqualFold(o.Email, key) || o.Phone == key {
			found := o
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaleTotals(_ context.Context, ownerID string, from time.Time, to time.Time) (domain.SaleTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.SaleTotals{Revenue: decimal.Zero, Cost: decimal.Zero}
	for _, e := range s.sales {
		if e.OwnerID != ownerID || !within(e.CreatedAt, from, to) {
			continue
		}
		totals.Revenue = totals.Revenue.Add(e.Revenue())
		totals.Cost = totals.Cost.Add(e.Cost())
		totals.Count++
		totals.ItemsSold += int64(e.Quantity)
	}
	return totals, nil
}

func (s *Store) PurchaseTotals(_ context.Context, ownerID string, from time.Time, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.purchases {
		if e.OwnerID == ownerID && within(e.CreatedAt, from, to) {
			total = total.Add(e.Amount())
		}
	}
	return total, nil
}

func (s *Store) InventorySnapshot(_ context.Context, ownerID string, lowStockThreshold int) (domain.InventoryMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv := domain.InventoryMetrics{StockValue: decimal.Zero}
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		if p.Stock == 0 {
			inv.OutOfStock++
		} else {
			inv.Total++
			if p.Stock < lowStockThreshold {
				inv.LowStock++
			}
		}
		inv.StockValue = inv.StockValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
	}
	return inv, nil
}

func (s *Store) DueTotals(_ context.Context, ownerID string) (domain.DueTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.DueTotals{Added: decimal.Zero, Paid: decimal.Zero}
	for _, e := range s.dueEvents {
		if e.OwnerID == ownerID {
			totals.Added = totals.Added.Add(e.Amount)
		}
	}
	for _, e := range s.payments {
		if e.OwnerID == ownerID {
			totals.Paid = totals.Paid.Add(e.Amount)
		}
	}
	return totals, nil
}

// productFor and the other lookups expect s.mu to be held.
func (s *Store) productFor(ownerID string, id string) (domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	if p.OwnerID != ownerID {
		return domain.Product{}, store.ErrForbidden
	}
	return p, nil
}

func (s *Store) customerFor(ownerID string, id string) (domain.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, store.ErrNotFound
	}
	if c.OwnerID != ownerID {
		return domain.Customer{}, store.ErrForbidden
	}
	return c, nil
}

func (s *Store) phoneTaken(ownerID string, phone string, exceptID string) bool {
	for _, c := range s.customers {
		if c.OwnerID == ownerID && c.Phone == phone && c.ID != exceptID {
			return true
		}
	}
	return false
}

func matchesStockFilter(stock int, filter domain.StockFilter, lowStockThreshold int) bool {
	switch filter {
	case domain.StockFilterInStock:
		return stock > 0
	case domain.StockFilterLow:
		return stock > 0 && stock < lowStockThreshold
	case domain.StockFilterOut:
		return stock == 0
	default:
		return true
	}
}

func within(t time.Time, from time.Time, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
