// Package store defines the entity store contract: CRUD by (kind, id) plus an
// atomic unit of work whose writes land together or not at all.
package store

import (
	"context"
	"errors"

	"github.com/delelinus/orderledger/internal/entity"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")

	// ErrConflict is a detected collision between two atomic units of work
	// touching overlapping records. The losing caller may retry.
	ErrConflict = errors.New("commit conflict")

	// ErrUnavailable wraps infrastructure failures (connection loss, server
	// errors). Not retried at this layer.
	ErrUnavailable = errors.New("store unavailable")
)

// Tx is the view handed to an atomic unit of work. Reads observe the caller's
// own pending writes. Nothing is visible outside until Atomic returns nil.
type Tx interface {
	Get(kind entity.Kind, id int64) (entity.Record, error)
	Insert(rec entity.Record) error
	Update(rec entity.Record) error
}

// Store is the durable entity store. Single-record operations have
// last-writer-wins semantics; grouped writes go through Atomic.
type Store interface {
	Get(ctx context.Context, kind entity.Kind, id int64) (entity.Record, error)
	Insert(ctx context.Context, rec entity.Record) error
	Update(ctx context.Context, rec entity.Record) error

	// MaxID reports the largest identifier present for a kind, or 0 if the
	// kind holds no records.
	MaxID(ctx context.Context, kind entity.Kind) (int64, error)

	// Atomic runs fn as one unit of work. A non-nil error from fn aborts the
	// unit and is returned unchanged. A conflicting concurrent commit surfaces
	// as ErrConflict. Cancellation of ctx before commit aborts the unit.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	Close(ctx context.Context) error
}
