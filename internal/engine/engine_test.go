package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/feed"
	"github.com/delelinus/orderledger/internal/sequence"
	"github.com/delelinus/orderledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T) *store.MemStore {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemStore(store.WithValidator(entity.FieldValidator{}))

	require.NoError(t, st.Insert(ctx, entity.Customer{
		ID: 7, Name: "Ada Baker", Email: "adabaker@coldmail.com",
		Address: entity.Address{Street: "221 Oak Street", City: "Springfield", State: "Ohio"},
	}))
	require.NoError(t, st.Insert(ctx, entity.Product{
		ID: 101, Name: "Laptop", Category: "Electronics", Price: 900, StockQuantity: 40,
	}))
	require.NoError(t, st.Insert(ctx, entity.Product{
		ID: 103, Name: "Tablet", Category: "Electronics", Price: 420, StockQuantity: 5,
	}))
	return st
}

func newEngine(st store.Store, opts ...Option) (*Engine, *feed.Feed) {
	f := feed.New()
	e := New(st, sequence.NewAllocator(st), f, opts...)
	return e, f
}

type storeState struct {
	stock    map[int64]int64
	maxOrder int64
	maxItem  int64
}

func snapshot(t *testing.T, st store.Store, productIDs ...int64) storeState {
	t.Helper()
	ctx := context.Background()
	s := storeState{stock: make(map[int64]int64)}
	for _, pid := range productIDs {
		rec, err := st.Get(ctx, entity.KindProduct, pid)
		require.NoError(t, err)
		s.stock[pid] = rec.(entity.Product).StockQuantity
	}
	var err error
	s.maxOrder, err = st.MaxID(ctx, entity.KindOrder)
	require.NoError(t, err)
	s.maxItem, err = st.MaxID(ctx, entity.KindOrderItem)
	require.NoError(t, err)
	return s
}

func TestCreateOrderCommitsAllMutationsTogether(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)

	orderID, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 2, 103: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5001), orderID)

	rec, err := st.Get(ctx, entity.KindOrder, orderID)
	require.NoError(t, err)
	order := rec.(entity.Order)
	assert.Equal(t, int64(7), order.CustomerID)
	assert.Equal(t, entity.StatusPending, order.Status)
	assert.False(t, order.OrderDate.IsZero())

	// One item per distinct product, ascending product order, price snapshot.
	first, err := st.Get(ctx, entity.KindOrderItem, 9001)
	require.NoError(t, err)
	item := first.(entity.OrderItem)
	assert.Equal(t, int64(101), item.ProductID)
	assert.Equal(t, int64(2), item.Quantity)
	assert.Equal(t, int64(900), item.Price)
	assert.Equal(t, orderID, item.OrderID)

	second, err := st.Get(ctx, entity.KindOrderItem, 9002)
	require.NoError(t, err)
	item = second.(entity.OrderItem)
	assert.Equal(t, int64(103), item.ProductID)
	assert.Equal(t, int64(420), item.Price)

	// Stock decreased by exactly the requested quantities.
	after := snapshot(t, st, 101, 103)
	assert.Equal(t, int64(38), after.stock[101])
	assert.Equal(t, int64(4), after.stock[103])
}

func TestCreateOrderPriceSnapshotDoesNotTrackProduct(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)

	_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1})
	require.NoError(t, err)

	// Reprice the product after the order committed.
	rec, err := st.Get(ctx, entity.KindProduct, 101)
	require.NoError(t, err)
	p := rec.(entity.Product)
	p.Price = 1200
	require.NoError(t, st.Update(ctx, p))

	itemRec, err := st.Get(ctx, entity.KindOrderItem, 9001)
	require.NoError(t, err)
	assert.Equal(t, int64(900), itemRec.(entity.OrderItem).Price)
}

func TestCreateOrderRejectsEmptyAndNonPositiveItems(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)

	_, err := e.CreateOrder(ctx, 7, nil)
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = e.CreateOrder(ctx, 7, map[int64]int64{101: 0})
	var invalid *InvalidItemError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonInvalidQuantity, invalid.Reason)
	assert.Equal(t, int64(101), invalid.ProductID)
}

func TestCreateOrderUnknownCustomer(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)
	before := snapshot(t, st, 101, 103)

	_, err := e.CreateOrder(ctx, 999, map[int64]int64{101: 1})
	assert.ErrorIs(t, err, ErrUnknownCustomer)
	assert.Equal(t, before, snapshot(t, st, 101, 103))
}

func TestCreateOrderUnknownProductLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)
	before := snapshot(t, st, 101, 103)

	_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1, 999: 1})

	var invalid *InvalidItemError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int64(999), invalid.ProductID)
	assert.Equal(t, ReasonNotFound, invalid.Reason)

	// No order, no items, no stock mutation survives the abort.
	assert.Equal(t, before, snapshot(t, st, 101, 103))
}

func TestCreateOrderInsufficientStockLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)
	before := snapshot(t, st, 101, 103)

	_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 3, 103: 6})

	var invalid *InvalidItemError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, int64(103), invalid.ProductID)
	assert.Equal(t, ReasonInsufficientStock, invalid.Reason)
	assert.Equal(t, int64(6), invalid.Requested)
	assert.Equal(t, int64(5), invalid.Available)

	assert.Equal(t, before, snapshot(t, st, 101, 103))
}

func TestConcurrentOrdersOnContendedProduct(t *testing.T) {
	// stock_quantity=5 on product 103, two concurrent calls for 3 each:
	// exactly one wins, final stock is 2, never negative.
	ctx := context.Background()
	st := seededStore(t)
	e, _ := newEngine(st)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.CreateOrder(ctx, 7, map[int64]int64{103: 3})
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		losses++
		var invalid *InvalidItemError
		ok := errors.As(err, &invalid) && invalid.Reason == ReasonInsufficientStock
		assert.True(t, ok || errors.Is(err, ErrConflict), "unexpected loser error: %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	rec, err := st.Get(ctx, entity.KindProduct, 103)
	require.NoError(t, err)
	stock := rec.(entity.Product).StockQuantity
	assert.Equal(t, int64(2), stock)
	assert.GreaterOrEqual(t, stock, int64(0))
}

func TestEverySuccessfulOrderEmitsExactlyOneFeedEvent(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, f := newEngine(st)

	sub := f.Subscribe()
	defer f.Unsubscribe(sub)

	orderID, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1})
	require.NoError(t, err)

	ev := <-sub.Events()
	assert.Equal(t, orderID, ev.OrderID)
	assert.Equal(t, int64(7), ev.CustomerID)
	assert.Equal(t, feed.OpCreated, ev.Op)
	assert.Equal(t, entity.StatusPending, ev.Status)
	assert.NotEmpty(t, ev.EventID)

	// Delivery happens after the commit is externally observable.
	_, err = st.Get(ctx, entity.KindOrder, ev.OrderID)
	require.NoError(t, err)

	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected second event for order %d", extra.OrderID)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFailedOrderEmitsNoFeedEvent(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	e, f := newEngine(st)

	sub := f.Subscribe()
	defer f.Unsubscribe(sub)

	_, err := e.CreateOrder(ctx, 7, map[int64]int64{999: 1})
	require.Error(t, err)

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v for an aborted order", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOrderIdentifiersStrictlyIncreaseAcrossCalls(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	require.NoError(t, st.Insert(ctx, entity.Customer{ID: 1, Name: "Ada Baker", Email: "ada@coldmail.com"}))
	require.NoError(t, st.Insert(ctx, entity.Product{ID: 101, Name: "Laptop", Category: "Electronics", Price: 900, StockQuantity: 1000}))
	e, _ := newEngine(st)

	var prev int64
	for i := 0; i < 100; i++ {
		id, err := e.CreateOrder(ctx, 1, map[int64]int64{101: 1})
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestCreateOrderCancelledBeforeCommit(t *testing.T) {
	st := seededStore(t)
	e, _ := newEngine(st)
	before := snapshot(t, st, 101, 103)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, snapshot(t, st, 101, 103))
}

// conflictStore forces Atomic to fail with a commit conflict n times.
type conflictStore struct {
	store.Store
	mu        sync.Mutex
	conflicts int
	attempts  int
}

func (c *conflictStore) Atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	c.mu.Lock()
	c.attempts++
	fail := c.conflicts > 0
	if fail {
		c.conflicts--
	}
	c.mu.Unlock()
	if fail {
		return store.ErrConflict
	}
	return c.Store.Atomic(ctx, fn)
}

func TestConflictRetryBudget(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers within budget", func(t *testing.T) {
		st := &conflictStore{Store: seededStore(t), conflicts: 2}
		e, _ := newEngine(st, WithMaxAttempts(3))

		_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, st.attempts)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		st := &conflictStore{Store: seededStore(t), conflicts: 10}
		e, _ := newEngine(st, WithMaxAttempts(3))

		_, err := e.CreateOrder(ctx, 7, map[int64]int64{101: 1})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Equal(t, 3, st.attempts)
	})
}

// brokenStore simulates infrastructure failure at commit time.
type brokenStore struct {
	store.Store
}

func (b *brokenStore) Atomic(context.Context, func(tx store.Tx) error) error {
	return errors.Join(store.ErrUnavailable, errors.New("connection reset"))
}

func TestStoreFailureSurfacesAsStoreUnavailable(t *testing.T) {
	st := &brokenStore{Store: seededStore(t)}
	e, _ := newEngine(st)

	_, err := e.CreateOrder(context.Background(), 7, map[int64]int64{101: 1})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCreateOrderFixedClock(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	stamp := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	f := feed.New()
	e := New(st, sequence.NewAllocator(st), f, WithClock(func() time.Time { return stamp }))

	sub := f.Subscribe()
	defer f.Unsubscribe(sub)

	orderID, err := e.CreateOrder(ctx, 7, map[int64]int64{103: 1})
	require.NoError(t, err)

	rec, err := st.Get(ctx, entity.KindOrder, orderID)
	require.NoError(t, err)
	assert.Equal(t, stamp, rec.(entity.Order).OrderDate)

	ev := <-sub.Events()
	assert.Equal(t, stamp, ev.OccurredAt)
}
