package store

import (
	"context"
	"sync"

	"github.com/delelinus/orderledger/internal/entity"
)

type recordKey struct {
	kind entity.Kind
	id   int64
}

type versioned struct {
	rec     entity.Record
	version uint64
}

// MemStore is an in-memory Store with optimistic concurrency. Each record
// carries a version; an atomic unit records the versions it read and commits
// only if none of them moved underneath it.
type MemStore struct {
	mu       sync.RWMutex
	records  map[recordKey]versioned
	validate entity.Validator
}

type MemOption func(*MemStore)

// WithValidator installs the insert-time field validator.
func WithValidator(v entity.Validator) MemOption {
	return func(s *MemStore) { s.validate = v }
}

func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{records: make(map[recordKey]versioned)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemStore) Get(_ context.Context, kind entity.Kind, id int64) (entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[recordKey{kind, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return v.rec, nil
}

func (s *MemStore) Insert(_ context.Context, rec entity.Record) error {
	if err := s.checkInsert(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{rec.EntityKind(), rec.EntityID()}
	if _, ok := s.records[k]; ok {
		return ErrExists
	}
	s.records[k] = versioned{rec: rec, version: 1}
	return nil
}

func (s *MemStore) Update(_ context.Context, rec entity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{rec.EntityKind(), rec.EntityID()}
	v, ok := s.records[k]
	if !ok {
		return ErrNotFound
	}
	s.records[k] = versioned{rec: rec, version: v.version + 1}
	return nil
}

func (s *MemStore) MaxID(_ context.Context, kind entity.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for k := range s.records {
		if k.kind == kind && k.id > max {
			max = k.id
		}
	}
	return max, nil
}

func (s *MemStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{store: s, reads: make(map[recordKey]uint64)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemStore) Close(context.Context) error { return nil }

func (s *MemStore) checkInsert(rec entity.Record) error {
	if s.validate == nil {
		return nil
	}
	return s.validate.Validate(rec)
}

// commit validates the read set against current versions, then applies the
// write set. First committer wins; a stale read set aborts with ErrConflict.
func (s *MemStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, seen := range tx.reads {
		var current uint64
		if v, ok := s.records[k]; ok {
			current = v.version
		}
		if current != seen {
			return ErrConflict
		}
	}
	for _, w := range tx.writes {
		k := recordKey{w.rec.EntityKind(), w.rec.EntityID()}
		cur, exists := s.records[k]
		if w.insert && exists {
			return ErrConflict
		}
		next := versioned{rec: w.rec, version: 1}
		if exists {
			next.version = cur.version + 1
		}
		s.records[k] = next
	}
	return nil
}

type pendingWrite struct {
	rec    entity.Record
	insert bool
}

type memTx struct {
	store  *MemStore
	reads  map[recordKey]uint64
	writes []pendingWrite
}

func (t *memTx) Get(kind entity.Kind, id int64) (entity.Record, error) {
	k := recordKey{kind, id}

	// Read-your-writes within the unit of work.
	for i := len(t.writes) - 1; i >= 0; i-- {
		w := t.writes[i]
		if w.rec.EntityKind() == kind && w.rec.EntityID() == id {
			return w.rec, nil
		}
	}

	t.store.mu.RLock()
	v, ok := t.store.records[k]
	t.store.mu.RUnlock()

	if _, tracked := t.reads[k]; !tracked {
		if ok {
			t.reads[k] = v.version
		} else {
			t.reads[k] = 0
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return v.rec, nil
}

func (t *memTx) Insert(rec entity.Record) error {
	if err := t.store.checkInsert(rec); err != nil {
		return err
	}
	if _, err := t.Get(rec.EntityKind(), rec.EntityID()); err == nil {
		return ErrExists
	}
	t.writes = append(t.writes, pendingWrite{rec: rec, insert: true})
	return nil
}

func (t *memTx) Update(rec entity.Record) error {
	if _, err := t.Get(rec.EntityKind(), rec.EntityID()); err != nil {
		return err
	}
	t.writes = append(t.writes, pendingWrite{rec: rec})
	return nil
}

var _ Store = (*MemStore)(nil)
