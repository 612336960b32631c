// Package sequence allocates entity identifiers: monotonically increasing per
// kind, collision-free under concurrent callers.
package sequence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/store"
)

// Floor values match the original collections: identifiers below these are
// reserved for seed data tooling.
var floors = map[entity.Kind]int64{
	entity.KindCustomer:  1,
	entity.KindProduct:   101,
	entity.KindOrder:     5001,
	entity.KindOrderItem: 9001,
}

// Floor reports the first identifier ever handed out for a kind when the
// store holds no records of it.
func Floor(kind entity.Kind) int64 {
	if f, ok := floors[kind]; ok {
		return f
	}
	return 1
}

// Allocator hands out identifiers from an atomic counter per kind, seeded
// lazily from the store's current maximum. Aborted transactions burn their
// identifiers; committed records of one kind never share one.
type Allocator struct {
	store store.Store

	mu       sync.Mutex
	counters map[entity.Kind]*atomic.Int64
}

func NewAllocator(st store.Store) *Allocator {
	return &Allocator{
		store:    st,
		counters: make(map[entity.Kind]*atomic.Int64),
	}
}

// Next returns the next unused identifier for kind: one greater than the
// maximum handed out or observed so far, or the kind's floor on first use.
func (a *Allocator) Next(ctx context.Context, kind entity.Kind) (int64, error) {
	c, err := a.counter(ctx, kind)
	if err != nil {
		return 0, err
	}
	return c.Add(1), nil
}

func (a *Allocator) counter(ctx context.Context, kind entity.Kind) (*atomic.Int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.counters[kind]; ok {
		return c, nil
	}

	max, err := a.store.MaxID(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("seed %s counter: %w", kind, err)
	}
	last := Floor(kind) - 1
	if max > last {
		last = max
	}

	c := &atomic.Int64{}
	c.Store(last)
	a.counters[kind] = c
	return c, nil
}
