package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoItems means the request carried an empty item set.
	ErrNoItems = errors.New("order has no items")

	// ErrUnknownCustomer means the customer identifier resolved to nothing.
	ErrUnknownCustomer = errors.New("unknown customer")

	// ErrConflict means the retry budget was exhausted on commit conflicts.
	ErrConflict = errors.New("order commit conflict: retries exhausted")

	// ErrStoreUnavailable wraps an infrastructure failure. The engine does
	// not retry these.
	ErrStoreUnavailable = errors.New("entity store unavailable")
)

// ItemReason classifies why a line item was rejected.
type ItemReason string

const (
	ReasonNotFound          ItemReason = "NotFound"
	ReasonInsufficientStock ItemReason = "InsufficientStock"
	ReasonInvalidQuantity   ItemReason = "InvalidQuantity"
)

// InvalidItemError aborts the whole order: no partial commit of valid items.
type InvalidItemError struct {
	ProductID int64
	Reason    ItemReason
	Requested int64
	// Available is meaningful only for ReasonInsufficientStock.
	Available int64
}

func (e *InvalidItemError) Error() string {
	switch e.Reason {
	case ReasonInsufficientStock:
		return fmt.Sprintf("invalid item: product %d: insufficient stock (requested %d, available %d)",
			e.ProductID, e.Requested, e.Available)
	case ReasonInvalidQuantity:
		return fmt.Sprintf("invalid item: product %d: quantity %d must be positive", e.ProductID, e.Requested)
	default:
		return fmt.Sprintf("invalid item: product %d: not found", e.ProductID)
	}
}
