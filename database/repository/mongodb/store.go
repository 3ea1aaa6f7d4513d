package mongoRepo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"slotkeeper/database/repository"
	"slotkeeper/utils"
)

// Store is the replica-set backend. Multi-document writes run in
// transactions, so the deployment must be a replica set.
type Store struct {
	client  *mongo.Client
	timeout time.Duration

	tenants      *mongo.Collection
	slots        *mongo.Collection
	holds        *mongo.Collection
	interactions *mongo.Collection
	appointments *mongo.Collection
	events       *mongo.Collection
	audit        *mongo.Collection
}

var _ repository.Store = (*Store)(nil)

// NewMongoStore wraps a connected client and ensures indexes exist.
func NewMongoStore(client *mongo.Client, dbName string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = utils.DefaultStoreTimeout
	}
	db := client.Database(dbName)
	s := &Store{
		client:       client,
		timeout:      timeout,
		tenants:      db.Collection("tenants"),
		slots:        db.Collection("slots"),
		holds:        db.Collection("holds"),
		interactions: db.Collection("interactions"),
		appointments: db.Collection("appointments"),
		events:       db.Collection("processed_events"),
		audit:        db.Collection("audit_log"),
	}
	if err := s.EnsureIndexes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return wrapErr("ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// withTx runs fn inside a snapshot transaction on one session.
func (s *Store) withTx(ctx context.Context, op string, fn func(sc mongo.SessionContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.client.StartSession()
	if err != nil {
		return wrapErr(op+": start session", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(txnOpts); err != nil {
			return err
		}
		if err := fn(sc); err != nil {
			_ = sc.AbortTransaction(context.Background())
			return err
		}
		return sc.CommitTransaction(sc)
	})
	return wrapErr(op, err)
}

// wrapErr leaves BookingErrors alone and marks everything else as
// infrastructure, including transient write conflicts between transactions.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *utils.BookingError
	if errors.As(err, &be) {
		return err
	}
	return utils.Infrastructure(op, err)
}

func notFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
