// Package engine commits an order as one atomic unit of work: allocate the
// order identifier, snapshot one order item per product, decrement stock, and
// reject everything if any line item is invalid or understocked.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/feed"
	"github.com/delelinus/orderledger/internal/inventory"
	"github.com/delelinus/orderledger/internal/sequence"
	"github.com/delelinus/orderledger/internal/store"
)

// DefaultMaxAttempts bounds commit retries on store conflicts.
const DefaultMaxAttempts = 3

// Publisher receives one event per committed order. Delivery is best-effort
// and outside the atomicity boundary.
type Publisher interface {
	Publish(ev feed.Event)
}

type Engine struct {
	store       store.Store
	ids         *sequence.Allocator
	pub         Publisher
	log         *slog.Logger
	now         func() time.Time
	maxAttempts int
}

type Option func(*Engine)

// WithClock substitutes the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxAttempts overrides the conflict retry budget.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(st store.Store, ids *sequence.Allocator, pub Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		ids:         ids,
		pub:         pub,
		log:         slog.Default(),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOrder atomically creates an order for customerID covering items
// (product identifier -> quantity) and returns the new order identifier.
// Either every mutation lands together, or none does. On success exactly one
// Created event is published to the change feed.
func (e *Engine) CreateOrder(ctx context.Context, customerID int64, items map[int64]int64) (int64, error) {
	if len(items) == 0 {
		ordersRejected.WithLabelValues("no_items").Inc()
		return 0, ErrNoItems
	}

	// Stable iteration order keeps retries and tests deterministic.
	productIDs := make([]int64, 0, len(items))
	for pid, qty := range items {
		if qty <= 0 {
			ordersRejected.WithLabelValues("invalid_quantity").Inc()
			return 0, &InvalidItemError{ProductID: pid, Reason: ReasonInvalidQuantity, Requested: qty}
		}
		productIDs = append(productIDs, pid)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	for attempt := 1; ; attempt++ {
		order, err := e.tryCreate(ctx, customerID, productIDs, items)
		if err == nil {
			ordersCommitted.Inc()
			e.log.Info("order committed",
				"order_id", order.ID,
				"customer_id", customerID,
				"items", len(items),
				"attempt", attempt,
			)
			// Best-effort: feed loss never rolls back the committed order.
			e.pub.Publish(feed.NewEvent(feed.OpCreated, order))
			return order.ID, nil
		}

		if errors.Is(err, store.ErrConflict) {
			if attempt < e.maxAttempts {
				commitRetries.Inc()
				e.log.Debug("order commit conflict, retrying",
					"customer_id", customerID, "attempt", attempt)
				continue
			}
			ordersRejected.WithLabelValues("conflict").Inc()
			return 0, ErrConflict
		}
		return 0, e.classify(err, customerID)
	}
}

// tryCreate runs steps 2-4 of the commit algorithm as one unit of work.
func (e *Engine) tryCreate(ctx context.Context, customerID int64, productIDs []int64, items map[int64]int64) (entity.Order, error) {
	var order entity.Order
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		if _, err := tx.Get(entity.KindCustomer, customerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownCustomer
			}
			return err
		}

		orderID, err := e.ids.Next(ctx, entity.KindOrder)
		if err != nil {
			return err
		}
		order = entity.Order{
			ID:         orderID,
			CustomerID: customerID,
			OrderDate:  e.now().UTC(),
			Status:     entity.StatusPending,
		}
		if err := tx.Insert(order); err != nil {
			return err
		}

		for _, pid := range productIDs {
			qty := items[pid]

			product, err := inventory.Check(tx, pid, qty)
			if err != nil {
				return mapItemError(pid, qty, err)
			}

			itemID, err := e.ids.Next(ctx, entity.KindOrderItem)
			if err != nil {
				return err
			}
			item := entity.OrderItem{
				ID:        itemID,
				OrderID:   orderID,
				ProductID: pid,
				Quantity:  qty,
				Price:     product.Price, // snapshot, never re-derived
			}
			if err := tx.Insert(item); err != nil {
				return err
			}

			product.StockQuantity -= qty
			if err := tx.Update(product); err != nil {
				return err
			}
		}
		return nil
	})
	return order, err
}

// mapItemError translates validator outcomes into the caller-facing taxonomy
// at the only point where the offending product is known.
func mapItemError(productID, requested int64, err error) error {
	if errors.Is(err, inventory.ErrProductNotFound) {
		return &InvalidItemError{ProductID: productID, Reason: ReasonNotFound, Requested: requested}
	}
	var ise *inventory.InsufficientStockError
	if errors.As(err, &ise) {
		return &InvalidItemError{
			ProductID: ise.ProductID,
			Reason:    ReasonInsufficientStock,
			Requested: ise.Requested,
			Available: ise.Available,
		}
	}
	return err
}

// classify maps remaining abort causes to the caller-facing taxonomy.
func (e *Engine) classify(err error, customerID int64) error {
	var invalid *InvalidItemError
	switch {
	case errors.Is(err, ErrUnknownCustomer):
		ordersRejected.WithLabelValues("unknown_customer").Inc()
		return ErrUnknownCustomer

	case errors.As(err, &invalid):
		ordersRejected.WithLabelValues("invalid_item").Inc()
		return invalid

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ordersRejected.WithLabelValues("cancelled").Inc()
		return err
	}

	ordersRejected.WithLabelValues("store").Inc()
	e.log.Error("order commit failed", "customer_id", customerID, "err", err)
	return errors.Join(ErrStoreUnavailable, err)
}
