package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/delelinus/orderledger/internal/entity"
	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers that mean "lost the race, try again".
const (
	mysqlErrLockDeadlock    = 1213
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDuplicateEntry  = 1062
)

// MySQLStore maps each entity kind to a table. Atomic units use a database
// transaction with SELECT ... FOR UPDATE, so contention on the same rows
// serializes; a deadlock or lock timeout surfaces as ErrConflict.
type MySQLStore struct {
	db       *sql.DB
	validate entity.Validator
}

func NewMySQLStore(db *sql.DB, validate entity.Validator) *MySQLStore {
	return &MySQLStore{db: db, validate: validate}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *MySQLStore) Get(ctx context.Context, kind entity.Kind, id int64) (entity.Record, error) {
	return getRecord(ctx, s.db, kind, id, false)
}

func (s *MySQLStore) Insert(ctx context.Context, rec entity.Record) error {
	if s.validate != nil {
		if err := s.validate.Validate(rec); err != nil {
			return err
		}
	}
	return insertRecord(ctx, s.db, rec)
}

func (s *MySQLStore) Update(ctx context.Context, rec entity.Record) error {
	return updateRecord(ctx, s.db, rec)
}

func (s *MySQLStore) MaxID(ctx context.Context, kind entity.Kind) (int64, error) {
	var max sql.NullInt64
	q := fmt.Sprintf(`SELECT MAX(%s) FROM %s`, idColumn(kind), kind)
	if err := s.db.QueryRowContext(ctx, q).Scan(&max); err != nil {
		return 0, fmt.Errorf("%w: max id for %s: %w", ErrUnavailable, kind, err)
	}
	return max.Int64, nil
}

func (s *MySQLStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer func() { _ = dbtx.Rollback() }()

	if err := fn(&sqlTx{ctx: ctx, tx: dbtx, validate: s.validate}); err != nil {
		return mapMySQLError(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return mapMySQLError(fmt.Errorf("%w: commit: %w", ErrUnavailable, err))
	}
	return nil
}

func (s *MySQLStore) Close(context.Context) error { return s.db.Close() }

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	validate entity.Validator
}

func (t *sqlTx) Get(kind entity.Kind, id int64) (entity.Record, error) {
	return getRecord(t.ctx, t.tx, kind, id, true)
}

func (t *sqlTx) Insert(rec entity.Record) error {
	if t.validate != nil {
		if err := t.validate.Validate(rec); err != nil {
			return err
		}
	}
	return insertRecord(t.ctx, t.tx, rec)
}

func (t *sqlTx) Update(rec entity.Record) error {
	return updateRecord(t.ctx, t.tx, rec)
}

func idColumn(kind entity.Kind) string {
	switch kind {
	case entity.KindCustomer:
		return "customer_id"
	case entity.KindProduct:
		return "product_id"
	case entity.KindOrder:
		return "order_id"
	default:
		return "order_item_id"
	}
}

func getRecord(ctx context.Context, q querier, kind entity.Kind, id int64, forUpdate bool) (entity.Record, error) {
	suffix := ""
	if forUpdate {
		suffix = " FOR UPDATE"
	}

	var (
		rec entity.Record
		err error
	)
	switch kind {
	case entity.KindCustomer:
		var c entity.Customer
		row := q.QueryRowContext(ctx, `
SELECT customer_id, name, email, street, city, state
FROM customers WHERE customer_id = ?`+suffix, id)
		err = row.Scan(&c.ID, &c.Name, &c.Email, &c.Address.Street, &c.Address.City, &c.Address.State)
		rec = c
	case entity.KindProduct:
		var p entity.Product
		row := q.QueryRowContext(ctx, `
SELECT product_id, product_name, category, price, stock_quantity
FROM products WHERE product_id = ?`+suffix, id)
		err = row.Scan(&p.ID, &p.Name, &p.Category, &p.Price, &p.StockQuantity)
		rec = p
	case entity.KindOrder:
		var o entity.Order
		row := q.QueryRowContext(ctx, `
SELECT order_id, customer_id, order_date, status, delivery_date
FROM orders WHERE order_id = ?`+suffix, id)
		err = row.Scan(&o.ID, &o.CustomerID, &o.OrderDate, &o.Status, &o.DeliveryDate)
		rec = o
	default:
		var it entity.OrderItem
		row := q.QueryRowContext(ctx, `
SELECT order_item_id, order_id, product_id, quantity, price
FROM order_items WHERE order_item_id = ?`+suffix, id)
		err = row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price)
		rec = it
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s/%d: %w", ErrUnavailable, kind, id, err)
	}
	return rec, nil
}

func insertRecord(ctx context.Context, q querier, rec entity.Record) error {
	var err error
	switch r := rec.(type) {
	case entity.Customer:
		_, err = q.ExecContext(ctx, `
INSERT INTO customers (customer_id, name, email, street, city, state)
VALUES (?,?,?,?,?,?)`, r.ID, r.Name, r.Email, r.Address.Street, r.Address.City, r.Address.State)
	case entity.Product:
		_, err = q.ExecContext(ctx, `
INSERT INTO products (product_id, product_name, category, price, stock_quantity)
VALUES (?,?,?,?,?)`, r.ID, r.Name, r.Category, r.Price, r.StockQuantity)
	case entity.Order:
		_, err = q.ExecContext(ctx, `
INSERT INTO orders (order_id, customer_id, order_date, status, delivery_date)
VALUES (?,?,?,?,?)`, r.ID, r.CustomerID, r.OrderDate, r.Status, r.DeliveryDate)
	case entity.OrderItem:
		_, err = q.ExecContext(ctx, `
INSERT INTO order_items (order_item_id, order_id, product_id, quantity, price)
VALUES (?,?,?,?,?)`, r.ID, r.OrderID, r.ProductID, r.Quantity, r.Price)
	default:
		return fmt.Errorf("unsupported record kind %s", rec.EntityKind())
	}
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
			return ErrExists
		}
		return fmt.Errorf("%w: insert %s/%d: %w", ErrUnavailable, rec.EntityKind(), rec.EntityID(), err)
	}
	return nil
}

func updateRecord(ctx context.Context, q querier, rec entity.Record) error {
	var (
		res sql.Result
		err error
	)
	switch r := rec.(type) {
	case entity.Customer:
		res, err = q.ExecContext(ctx, `
UPDATE customers SET name=?, email=?, street=?, city=?, state=?
WHERE customer_id=?`, r.Name, r.Email, r.Address.Street, r.Address.City, r.Address.State, r.ID)
	case entity.Product:
		res, err = q.ExecContext(ctx, `
UPDATE products SET product_name=?, category=?, price=?, stock_quantity=?
WHERE product_id=?`, r.Name, r.Category, r.Price, r.StockQuantity, r.ID)
	case entity.Order:
		res, err = q.ExecContext(ctx, `
UPDATE orders SET customer_id=?, order_date=?, status=?, delivery_date=?
WHERE order_id=?`, r.CustomerID, r.OrderDate, r.Status, r.DeliveryDate, r.ID)
	case entity.OrderItem:
		res, err = q.ExecContext(ctx, `
UPDATE order_items SET order_id=?, product_id=?, quantity=?, price=?
WHERE order_item_id=?`, r.OrderID, r.ProductID, r.Quantity, r.Price, r.ID)
	default:
		return fmt.Errorf("unsupported record kind %s", rec.EntityKind())
	}
	if err != nil {
		return fmt.Errorf("%w: update %s/%d: %w", ErrUnavailable, rec.EntityKind(), rec.EntityID(), err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update %s/%d: %w", ErrUnavailable, rec.EntityKind(), rec.EntityID(), err)
	}
	// rows == 0 can also mean the row matched with identical values; MySQL
	// reports changed rows, not matched rows, unless CLIENT_FOUND_ROWS is set.
	// The DSN used by the bootstrap sets clientFoundRows=true.
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func mapMySQLError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlErrLockDeadlock || me.Number == mysqlErrLockWaitTimeout) {
		return ErrConflict
	}
	return err
}

var _ Store = (*MySQLStore)(nil)
