package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/delelinus/orderledger/internal/entity"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps each entity kind in its own collection, addressed by the
// original collection field names (customer_id, product_id, order_id,
// order_item_id). Atomic units map to multi-document transactions, so the
// deployment must be a replica set.
type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	validate entity.Validator
}

func NewMongoStore(client *mongo.Client, database string, validate entity.Validator) *MongoStore {
	return &MongoStore{
		client:   client,
		db:       client.Database(database),
		validate: validate,
	}
}

// CreateIndexes installs the unique identifier index per collection. Call once
// at startup.
func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	kinds := []entity.Kind{entity.KindCustomer, entity.KindProduct, entity.KindOrder, entity.KindOrderItem}
	for _, kind := range kinds {
		_, err := s.db.Collection(string(kind)).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: idField(kind), Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("create index for %s: %w", kind, err)
		}
	}
	return nil
}

func idField(kind entity.Kind) string {
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

func decodeRecord(kind entity.Kind, res *mongo.SingleResult) (entity.Record, error) {
	switch kind {
	case entity.KindCustomer:
		var c entity.Customer
		if err := res.Decode(&c); err != nil {
			return nil, err
		}
		return c, nil
	case entity.KindProduct:
		var p entity.Product
		if err := res.Decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case entity.KindOrder:
		var o entity.Order
		if err := res.Decode(&o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		var i entity.OrderItem
		if err := res.Decode(&i); err != nil {
			return nil, err
		}
		return i, nil
	}
}

func (s *MongoStore) Get(ctx context.Context, kind entity.Kind, id int64) (entity.Record, error) {
	res := s.db.Collection(string(kind)).FindOne(ctx, bson.M{idField(kind): id})
	rec, err := decodeRecord(kind, res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s/%d: %w", ErrUnavailable, kind, id, err)
	}
	return rec, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec entity.Record) error {
	if s.validate != nil {
		if err := s.validate.Validate(rec); err != nil {
			return err
		}
	}
	_, err := s.db.Collection(string(rec.EntityKind())).InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrExists
		}
		return fmt.Errorf("%w: insert %s/%d: %w", ErrUnavailable, rec.EntityKind(), rec.EntityID(), err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, rec entity.Record) error {
	kind := rec.EntityKind()
	res, err := s.db.Collection(string(kind)).ReplaceOne(ctx, bson.M{idField(kind): rec.EntityID()}, rec)
	if err != nil {
		return fmt.Errorf("%w: update %s/%d: %w", ErrUnavailable, kind, rec.EntityID(), err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) MaxID(ctx context.Context, kind entity.Kind) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: idField(kind), Value: -1}})
	res := s.db.Collection(string(kind)).FindOne(ctx, bson.M{}, opts)
	rec, err := decodeRecord(kind, res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: max id for %s: %w", ErrUnavailable, kind, err)
	}
	return rec.EntityID(), nil
}

// Atomic runs fn inside a server-side transaction. A write conflict between
// two concurrent transactions carries the TransientTransactionError label,
// which surfaces here as ErrConflict so the caller controls the retry budget.
func (s *MongoStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", ErrUnavailable, err)
	}
	defer sess.EndSession(ctx)

	return mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(); err != nil {
			return fmt.Errorf("%w: start transaction: %v", ErrUnavailable, err)
		}
		if err := fn(&mongoTx{store: s, ctx: sc}); err != nil {
			_ = sess.AbortTransaction(sc)
			return err
		}
		if err := sc.Err(); err != nil {
			_ = sess.AbortTransaction(sc)
			return err
		}
		if err := sess.CommitTransaction(sc); err != nil {
			return mapTxnError(err)
		}
		return nil
	})
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mapTxnError(err error) error {
	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		if srvErr.HasErrorLabel("TransientTransactionError") || srvErr.HasErrorLabel("UnknownTransactionCommitResult") {
			return ErrConflict
		}
	}
	return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
}

// mongoTx routes Tx calls through the session context so reads observe the
// transaction's own writes.
type mongoTx struct {
	store *MongoStore
	ctx   mongo.SessionContext
}

func (t *mongoTx) Get(kind entity.Kind, id int64) (entity.Record, error) {
	rec, err := t.store.Get(t.ctx, kind, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, mapTxnInnerError(err)
	}
	return rec, err
}

func (t *mongoTx) Insert(rec entity.Record) error {
	return mapTxnInnerError(t.store.Insert(t.ctx, rec))
}

func (t *mongoTx) Update(rec entity.Record) error {
	err := t.store.Update(t.ctx, rec)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return mapTxnInnerError(err)
	}
	return err
}

// mapTxnInnerError catches in-transaction write conflicts (WriteConflict is
// reported on the statement, not at commit).
func mapTxnInnerError(err error) error {
	if err == nil {
		return nil
	}
	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) && srvErr.HasErrorLabel("TransientTransactionError") {
		return ErrConflict
	}
	return err
}

var _ Store = (*MongoStore)(nil)
