package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/delelinus/orderledger/internal/engine"
	"github.com/delelinus/orderledger/internal/entity"
	"github.com/delelinus/orderledger/internal/logging"
	"github.com/delelinus/orderledger/internal/store"
	"github.com/gin-gonic/gin"
)

// IdempotencyStore guards order creation against duplicated requests carrying
// the same X-Idempotency-Key.
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type OrderHandler struct {
	engine *engine.Engine
	store  store.Store
	idem   IdempotencyStore // nil disables idempotency
}

func NewOrderHandler(eng *engine.Engine, st store.Store, idem IdempotencyStore) *OrderHandler {
	return &OrderHandler{engine: eng, store: st, idem: idem}
}

type orderItemReq struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int64 `json:"quantity" binding:"required"`
}

type createOrderReq struct {
	CustomerID int64          `json:"customerId" binding:"required"`
	Items      []orderItemReq `json:"items" binding:"required,min=1"`
}

type createOrderResp struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// CreateOrder translates the request into the engine's contract and maps the
// engine's error taxonomy onto HTTP statuses.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	idemKey := c.GetHeader("X-Idempotency-Key")
	scope := strconv.FormatInt(req.CustomerID, 10)
	if h.idem != nil && idemKey != "" {
		if id, ok, _ := h.idem.Recall(ctx, scope, idemKey); ok {
			orderID, _ := strconv.ParseInt(id, 10, 64)
			c.JSON(http.StatusOK, createOrderResp{OrderID: orderID, Status: string(entity.StatusPending)})
			return
		}
		ok, err := h.idem.TryLock(ctx, scope, idemKey)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_store_unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_request"})
			return
		}
	}

	items := make(map[int64]int64, len(req.Items))
	for _, it := range req.Items {
		items[it.ProductID] += it.Quantity
	}

	orderID, err := h.engine.CreateOrder(ctx, req.CustomerID, items)
	if err != nil {
		h.renderCreateError(c, err)
		return
	}

	if h.idem != nil && idemKey != "" {
		_ = h.idem.Remember(ctx, scope, idemKey, strconv.FormatInt(orderID, 10))
	}
	c.JSON(http.StatusCreated, createOrderResp{OrderID: orderID, Status: string(entity.StatusPending)})
}

func (h *OrderHandler) renderCreateError(c *gin.Context, err error) {
	var invalid *engine.InvalidItemError
	switch {
	case errors.Is(err, engine.ErrNoItems):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_items"})
	case errors.As(err, &invalid):
		status := http.StatusUnprocessableEntity
		if invalid.Reason == engine.ReasonInvalidQuantity {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":     "invalid_item",
			"productId": invalid.ProductID,
			"reason":    invalid.Reason,
			"requested": invalid.Requested,
			"available": invalid.Available,
		})
	case errors.Is(err, engine.ErrUnknownCustomer):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_customer"})
	case errors.Is(err, engine.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "commit_conflict"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		logging.From(c).Error("create order failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	}
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	rec, err := h.store.Get(ctx, entity.KindOrder, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *OrderHandler) GetProductByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	rec, err := h.store.Get(ctx, entity.KindProduct, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
