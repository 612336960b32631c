package inventory

import (
	"context"
	"testing"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeGetter struct{ st *store.MemStore }

func (g storeGetter) Get(kind entity.Kind, id int64) (entity.Record, error) {
	return g.st.Get(context.Background(), kind, id)
}

func TestCheckOK(t *testing.T) {
	st := store.NewMemStore()
	require.NoError(t, st.Insert(context.Background(),
		entity.Product{ID: 103, Name: "Tablet", Category: "Electronics", Price: 420, StockQuantity: 5}))

	p, err := Check(storeGetter{st}, 103, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(420), p.Price)
	assert.Equal(t, int64(5), p.StockQuantity)
}

func TestCheckNotFound(t *testing.T) {
	st := store.NewMemStore()

	_, err := Check(storeGetter{st}, 999, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestCheckInsufficientStockCarriesAvailable(t *testing.T) {
	st := store.NewMemStore()
	require.NoError(t, st.Insert(context.Background(),
		entity.Product{ID: 103, Name: "Tablet", Category: "Electronics", Price: 420, StockQuantity: 2}))

	_, err := Check(storeGetter{st}, 103, 3)

	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(103), ise.ProductID)
	assert.Equal(t, int64(3), ise.Requested)
	assert.Equal(t, int64(2), ise.Available)
}

func TestCheckDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	require.NoError(t, st.Insert(ctx,
		entity.Product{ID: 103, Name: "Tablet", Category: "Electronics", Price: 420, StockQuantity: 5}))

	_, err := Check(storeGetter{st}, 103, 2)
	require.NoError(t, err)

	rec, err := st.Get(ctx, entity.KindProduct, 103)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.(entity.Product).StockQuantity)
}
