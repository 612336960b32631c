// Package inventory validates a requested line item against product stock.
// It never mutates the store.
package inventory

import (
	"errors"
	"fmt"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/store"
)

// ErrProductNotFound means the requested product does not exist.
var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError carries the available quantity so callers can report
// how short the request fell.
type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Getter is the read-only slice of the store the validator needs. store.Tx
// satisfies it, keeping checks inside the caller's atomic scope.
type Getter interface {
	Get(kind entity.Kind, id int64) (entity.Record, error)
}

// Check verifies the product exists and holds at least the requested quantity.
// On success it returns the product so callers can snapshot its price.
func Check(g Getter, productID, requested int64) (entity.Product, error) {
	rec, err := g.Get(entity.KindProduct, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return entity.Product{}, ErrProductNotFound
		}
		return entity.Product{}, err
	}
	product := rec.(entity.Product)
	if product.StockQuantity < requested {
		return entity.Product{}, &InsufficientStockError{
			ProductID: productID,
			Requested: requested,
			Available: product.StockQuantity,
		}
	}
	return product, nil
}
