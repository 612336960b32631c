package entity

import "fmt"

// Validator vets a record before the store accepts an insert.
type Validator interface {
	Validate(rec Record) error
}

// ValidationError reports the first field that failed validation.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Kind, e.Field, e.Reason)
}

// FieldValidator applies the schema-shape rules: non-negative price and stock,
// positive identifiers and quantities, non-empty names.
type FieldValidator struct{}

func (FieldValidator) Validate(rec Record) error {
	fail := func(field, reason string) error {
		return &ValidationError{Kind: rec.EntityKind(), Field: field, Reason: reason}
	}

	if rec.EntityID() <= 0 {
		return fail("id", "must be positive")
	}

	switch r := rec.(type) {
	case Customer:
		if r.Name == "" {
			return fail("name", "must not be empty")
		}
		if r.Email == "" {
			return fail("email", "must not be empty")
		}
	case Product:
		if r.Name == "" {
			return fail("product_name", "must not be empty")
		}
		if r.Price < 0 {
			return fail("price", "must not be negative")
		}
		if r.StockQuantity < 0 {
			return fail("stock_quantity", "must not be negative")
		}
	case Order:
		if r.CustomerID <= 0 {
			return fail("customer_id", "must be positive")
		}
		if r.Status == "" {
			return fail("status", "must not be empty")
		}
		if r.OrderDate.IsZero() {
			return fail("order_date", "must be set")
		}
	case OrderItem:
		if r.OrderID <= 0 {
			return fail("order_id", "must be positive")
		}
		if r.ProductID <= 0 {
			return fail("product_id", "must be positive")
		}
		if r.Quantity <= 0 {
			return fail("quantity", "must be positive")
		}
		if r.Price < 0 {
			return fail("price", "must not be negative")
		}
	}
	return nil
}
