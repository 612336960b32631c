// Package entity holds the four record kinds the catalog stores and the
// field-level validation applied before they are persisted.
package entity

import "time"

// Kind names an entity collection. The values double as collection/table names.
type Kind string

const (
	KindCustomer  Kind = "customers"
	KindProduct   Kind = "products"
	KindOrder     Kind = "orders"
	KindOrderItem Kind = "order_items"
)

// Record is anything addressable by (kind, id) in the entity store.
type Record interface {
	EntityKind() Kind
	EntityID() int64
}

// Status is the order lifecycle state. Transitions are append-only: an order
// never moves back below Pending.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

type Address struct {
	Street string `json:"street" bson:"street"`
	City   string `json:"city" bson:"city"`
	State  string `json:"state" bson:"state"`
}

// Customer is created externally and read-only to the order engine.
type Customer struct {
	ID      int64   `json:"customer_id" bson:"customer_id"`
	Name    string  `json:"name" bson:"name"`
	Email   string  `json:"email" bson:"email"`
	Address Address `json:"address" bson:"address"`
}

func (Customer) EntityKind() Kind  { return KindCustomer }
func (c Customer) EntityID() int64 { return c.ID }

// Product stock is mutated only inside the order engine's atomic unit of work.
type Product struct {
	ID            int64  `json:"product_id" bson:"product_id"`
	Name          string `json:"product_name" bson:"product_name"`
	Category      string `json:"category" bson:"category"`
	Price         int64  `json:"price" bson:"price"`
	StockQuantity int64  `json:"stock_quantity" bson:"stock_quantity"`
}

func (Product) EntityKind() Kind  { return KindProduct }
func (p Product) EntityID() int64 { return p.ID }

type Order struct {
	ID           int64      `json:"order_id" bson:"order_id"`
	CustomerID   int64      `json:"customer_id" bson:"customer_id"`
	OrderDate    time.Time  `json:"order_date" bson:"order_date"`
	Status       Status     `json:"status" bson:"status"`
	DeliveryDate *time.Time `json:"delivery_date,omitempty" bson:"delivery_date,omitempty"`
}

func (Order) EntityKind() Kind  { return KindOrder }
func (o Order) EntityID() int64 { return o.ID }

// OrderItem snapshots the product price at order time; the snapshot is never
// re-derived from the product afterwards.
type OrderItem struct {
	ID        int64 `json:"order_item_id" bson:"order_item_id"`
	OrderID   int64 `json:"order_id" bson:"order_id"`
	ProductID int64 `json:"product_id" bson:"product_id"`
	Quantity  int64 `json:"quantity" bson:"quantity"`
	Price     int64 `json:"price" bson:"price"`
}

func (OrderItem) EntityKind() Kind  { return KindOrderItem }
func (i OrderItem) EntityID() int64 { return i.ID }
