package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"storeledger/backend/internal/cache"
	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/events"
	"storeledger/backend/internal/ledger"
	"storeledger/backend/internal/metrics"
	"storeledger/backend/internal/store"
)

// ErrUnauthenticated is returned when no owner is attached to the request context.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrRequestInFlight is returned when another request holding the same idempotency
// key has not finished within the replay wait.
var ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")

// pendingTTL bounds how long a crashed request can hold its idempotency key.
const pendingTTL = 30 * time.Second

const (
	replayPoll  = 25 * time.Millisecond
	defaultWait = 3 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Config tunes a Service. ReplayWait is how long a request waits for a concurrent
// holder of its idempotency key to finish.
type Config struct {
	LowStockThreshold int
	ReplayTTL         time.Duration
	ReplayWait        time.Duration
	Location          *time.Location
	MaxAttempts       int
}

type Service struct {
	repo              store.Repository
	ledger            *ledger.Coordinator
	metrics           *metrics.Aggregator
	replay            cache.ReplayCache
	publisher         events.Publisher
	lowStockThreshold int
	replayTTL         time.Duration
	replayWait        time.Duration
	now               func() time.Time
}

func New(repo store.Repository, replay cache.ReplayCache, publisher events.Publisher, cfg Config) *Service {
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = 10
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = 24 * time.Hour
	}
	if cfg.ReplayWait <= 0 {
		cfg.ReplayWait = defaultWait
	}
	if replay == nil {
		replay = cache.NoopReplayCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Service{
		repo:              repo,
		ledger:            ledger.New(repo, ledger.WithMaxAttempts(cfg.MaxAttempts)),
		metrics:           metrics.NewAggregator(repo, cfg.LowStockThreshold, cfg.Location),
		replay:            replay,
		publisher:         publisher,
		lowStockThreshold: cfg.LowStockThreshold,
		replayTTL:         cfg.ReplayTTL,
		replayWait:        cfg.ReplayWait,
		now:               time.Now,
	}
}

func ownerFrom(ctx context.Context) (string, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.OwnerID == "" {
		return "", ErrUnauthenticated
	}
	return actor.OwnerID, nil
}

func (s *Service) ListProducts(ctx context.Context, filter string) ([]domain.Product, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}

	f := domain.StockFilter(strings.ToLower(strings.TrimSpace(filter)))
	switch f {
	case domain.StockFilterAll, domain.StockFilterInStock, domain.StockFilterLow, domain.StockFilterOut:
	default:
		return nil, invalidField("stock", "must be one of in, low, out")
	}
	return s.repo.ListProducts(ctx, ownerID, f, s.lowStockThreshold)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, ownerID, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.PackSize = strings.TrimSpace(req.PackSize)
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}

	created, err := s.ledger.CreateProduct(ctx, domain.Product{
		OwnerID:  ownerID,
		Name:     req.Name,
		Price:    req.Price,
		Stock:    req.Stock,
		PackSize: req.PackSize,
		Unit:     req.Unit,
	})
	if err != nil {
		return domain.Product{}, err
	}

	log.Info().Str("owner_id", ownerID).Str("product_id", created.ID).Int("stock", created.Stock).Msg("product created")
	return *created, nil
}

// UpdateProduct patches descriptive fields and the price. Stock is left alone.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := Validate(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, ownerID, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, invalidField("name", "is required")
		}
		updated.Name = name
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, invalidField("price", "must be at least 0")
		}
		updated.Price = *req.Price
	}
	if req.PackSize != nil {
		packSize := strings.TrimSpace(*req.PackSize)
		if packSize == "" {
			return domain.Product{}, invalidField("pack_size", "is required")
		}
		updated.PackSize = packSize
	}
	if req.Unit != nil {
		updated.Unit = *req.Unit
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// DeleteProduct removes the product row. Purchase and sale history stays, keyed by
// the product id and carrying the name it had at the time.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, ownerID, strings.TrimSpace(id)); err != nil {
		return err
	}
	log.Info().Str("owner_id", ownerID).Str("product_id", id).Msg("product deleted")
	return nil
}

func (s *Service) ListProductLedger(ctx context.Context, id string, limit int) ([]domain.ProductLedgerEntry, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	id = strings.TrimSpace(id)
	if _, err := s.repo.GetProduct(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.repo.ListProductLedger(ctx, ownerID, id, limit)
}

func (s *Service) Purchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResult, bool, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.PurchaseResult{}, false, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := Validate(req); err != nil {
		return domain.PurchaseResult{}, false, err
	}

	res, replayed, err := idempotent(ctx, s, ownerID, "purchase", req.IdempotencyKey, func() (domain.PurchaseResult, error) {
		out, err := s.ledger.Purchase(ctx, ownerID, req)
		if err != nil {
			return domain.PurchaseResult{}, err
		}
		return *out, nil
	})
	if err != nil {
		return domain.PurchaseResult{}, false, err
	}
	if !replayed {
		s.publish(ctx, events.TopicPurchaseRecorded, ownerID, res.Purchase)
	}
	return res, replayed, nil
}

func (s *Service) Sell(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, bool, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.SaleResult{}, false, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := Validate(req); err != nil {
		return domain.SaleResult{}, false, err
	}

	res, replayed, err := idempotent(ctx, s, ownerID, "sale", req.IdempotencyKey, func() (domain.SaleResult, error) {
		out, err := s.ledger.Sale(ctx, ownerID, req)
		if err != nil {
			return domain.SaleResult{}, err
		}
		return *out, nil
	})
	if err != nil {
		return domain.SaleResult{}, false, err
	}
	if !replayed {
		s.publish(ctx, events.TopicSaleRecorded, ownerID, res.Sale)
	}
	return res, replayed, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	req.Notes = strings.TrimSpace(req.Notes)
	if err := Validate(req); err != nil {
		return domain.Customer{}, err
	}

	created, err := s.ledger.CreateCustomer(ctx, domain.Customer{
		OwnerID: ownerID,
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
		Notes:   req.Notes,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	trim := func(v *string) {
		if v != nil {
			*v = strings.TrimSpace(*v)
		}
	}
	trim(req.Name)
	trim(req.Phone)
	trim(req.Address)
	trim(req.Notes)
	if err := Validate(req); err != nil {
		return domain.Customer{}, err
	}

	existing, err := s.repo.GetCustomer(ctx, ownerID, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	if req.Name != nil {
		if *req.Name == "" {
			return domain.Customer{}, invalidField("name", "is required")
		}
		updated.Name = *req.Name
	}
	if req.Phone != nil {
		updated.Phone = *req.Phone
	}
	if req.Address != nil {
		updated.Address = *req.Address
	}
	if req.Notes != nil {
		updated.Notes = *req.Notes
	}

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.CustomerSummary, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx, ownerID)
}

// ListTransactions returns the customer's dues and payments, newest first.
func (s *Service) ListTransactions(ctx context.Context, customerID string) ([]domain.CustomerTransaction, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return nil, err
	}
	customerID = strings.TrimSpace(customerID)
	if _, err := s.repo.GetCustomer(ctx, ownerID, customerID); err != nil {
		return nil, err
	}
	return s.repo.ListCustomerTransactions(ctx, ownerID, customerID)
}

func (s *Service) AddDue(ctx context.Context, req domain.DueRequest) (domain.DueResult, bool, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.DueResult{}, false, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Note = strings.TrimSpace(req.Note)
	if err := Validate(req); err != nil {
		return domain.DueResult{}, false, err
	}

	res, replayed, err := idempotent(ctx, s, ownerID, "due", req.IdempotencyKey, func() (domain.DueResult, error) {
		out, err := s.ledger.AddDue(ctx, ownerID, req)
		if err != nil {
			return domain.DueResult{}, err
		}
		return *out, nil
	})
	if err != nil {
		return domain.DueResult{}, false, err
	}
	if !replayed {
		s.publish(ctx, events.TopicDueAdded, ownerID, res.Event)
	}
	return res, replayed, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, bool, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.PaymentResult{}, false, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Note = strings.TrimSpace(req.Note)
	if err := Validate(req); err != nil {
		return domain.PaymentResult{}, false, err
	}

	res, replayed, err := idempotent(ctx, s, ownerID, "payment", req.IdempotencyKey, func() (domain.PaymentResult, error) {
		out, err := s.ledger.RecordPayment(ctx, ownerID, req)
		if err != nil {
			return domain.PaymentResult{}, err
		}
		return *out, nil
	})
	if err != nil {
		return domain.PaymentResult{}, false, err
	}
	if !replayed {
		s.publish(ctx, events.TopicPaymentRecorded, ownerID, res.Payment)
	}
	return res, replayed, nil
}

// Metrics computes the dashboard report. startDate and endDate are only read for
// the custom period.
func (s *Service) Metrics(ctx context.Context, period string, startDate string, endDate string) (domain.Report, error) {
	ownerID, err := ownerFrom(ctx)
	if err != nil {
		return domain.Report{}, err
	}

	p, err := domain.ParsePeriod(period, startDate, endDate, s.metrics.Location())
	if err != nil {
		return domain.Report{}, invalidField("period", err.Error())
	}

	report, err := s.metrics.Compute(ctx, ownerID, p, s.now())
	if err != nil {
		return domain.Report{}, err
	}
	return *report, nil
}

// idempotent runs apply once per (owner, op, key). The key is reserved in the replay
// cache before apply runs, so concurrent requests sharing it wait for the first one
// and get its stored result back with replayed=true. An empty key always applies.
// Cache failures degrade to applying without replay protection.
func idempotent[T any](ctx context.Context, s *Service, ownerID string, op string, key string, apply func() (T, error)) (T, bool, error) {
	var zero T
	key = strings.TrimSpace(key)
	if key == "" {
		out, err := apply()
		return out, false, err
	}
	cacheKey := ownerID + ":" + op + ":" + key
	logger := log.With().Str("owner_id", ownerID).Str("op", op).Str("idempotency_key", key).Logger()

	reserved := false
	deadline := s.now().Add(s.replayWait)
	for !reserved {
		raw, found, err := s.replay.Get(ctx, cacheKey)
		if err != nil {
			logger.Warn().Err(err).Msg("replay cache read failed")
			break
		}
		if found {
			var out T
			if err := json.Unmarshal(raw, &out); err != nil {
				logger.Warn().Err(err).Msg("discarding unreadable replay entry")
				break
			}
			logger.Debug().Msg("replaying stored result")
			return out, true, nil
		}

		reserved, err = s.replay.Reserve(ctx, cacheKey, pendingTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("replay cache reserve failed")
			break
		}
		if reserved {
			break
		}
		if !s.now().Before(deadline) {
			return zero, false, ErrRequestInFlight
		}
		select {
		case <-ctx.Done():
			return zero, false, ctx.Err()
		case <-time.After(replayPoll):
		}
	}

	out, err := apply()
	if err != nil {
		if reserved {
			if err := s.replay.Release(context.WithoutCancel(ctx), cacheKey); err != nil {
				logger.Warn().Err(err).Msg("replay cache release failed")
			}
		}
		return out, false, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		logger.Warn().Err(err).Msg("replay entry encode failed")
		return out, false, nil
	}
	if err := s.replay.Set(context.WithoutCancel(ctx), cacheKey, raw, s.replayTTL); err != nil {
		logger.Warn().Err(err).Msg("replay cache write failed")
	}
	return out, false, nil
}

// publish emits a committed event. The write is already durable, so a failure is
// only logged.
func (s *Service) publish(ctx context.Context, topic string, ownerID string, payload any) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pctx, topic, ownerID, payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("owner_id", ownerID).Msg("event publish failed")
	}
}
