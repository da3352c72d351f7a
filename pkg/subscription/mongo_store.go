package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	DefaultSubscriptionsCollection = "subscriptions"
	DefaultHistoryCollection       = "subscription_history"
	DefaultPaymentsCollection      = "payments"
)

// MongoStore keeps current subscriptions, their history and payments in three
// collections. Current documents are keyed by subscription ID with a unique
// user_id index.
type MongoStore struct {
	current  *mongo.Collection
	history  *mongo.Collection
	payments *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		current:  db.Collection(DefaultSubscriptionsCollection),
		history:  db.Collection(DefaultHistoryCollection),
		payments: db.Collection(DefaultPaymentsCollection),
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.current.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "period_end", Value: 1}}},
	}); err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("create subscription indexes: %w", err))
	}
	if _, err := s.history.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
	}); err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("create history index: %w", err))
	}
	if _, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "gateway_txn_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}); err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("create payment indexes: %w", err))
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	if err := s.current.FindOne(ctx, bson.M{"user_id": userID}).Decode(&sub); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	normalizeTimes(&sub)
	return &sub, nil
}

func (s *MongoStore) Create(ctx context.Context, sub *Subscription) error {
	if _, err := s.current.InsertOne(ctx, sub); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSubscriptionAlreadyExists
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, sub *Subscription) error {
	next := sub.clone()
	next.Version = sub.Version + 1

	res, err := s.current.ReplaceOne(ctx, bson.M{"_id": sub.ID, "version": sub.Version}, next)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if res.MatchedCount == 0 {
		return ErrConcurrentUpdate
	}
	sub.Version = next.Version
	return nil
}

// Replace removes old from the current collection under its version, archives
// it and inserts next. If another writer attached a subscription in between,
// that one is kept.
func (s *MongoStore) Replace(ctx context.Context, old, next *Subscription) error {
	res, err := s.current.DeleteOne(ctx, bson.M{"_id": old.ID, "version": old.Version})
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if res.DeletedCount == 0 {
		return ErrConcurrentUpdate
	}

	if _, err := s.history.ReplaceOne(ctx, bson.M{"_id": old.ID}, old, options.Replace().SetUpsert(true)); err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("archive subscription %s: %w", old.ID, err))
	}

	if _, err := s.current.InsertOne(ctx, next); err != nil && !mongo.IsDuplicateKeyError(err) {
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *MongoStore) History(ctx context.Context, userID string) ([]Subscription, error) {
	cur, err := s.history.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return decodeSubscriptions(ctx, cur)
}

func (s *MongoStore) ListDue(ctx context.Context, now time.Time, afterUserID string, limit int) ([]Subscription, error) {
	filter := bson.M{
		"status":     bson.M{"$in": bson.A{StatusActive, StatusCancelledPending}},
		"period_end": bson.M{"$lte": now.UTC()},
		"user_id":    bson.M{"$gt": afterUserID},
	}
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.current.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return decodeSubscriptions(ctx, cur)
}

func (s *MongoStore) RecordPayment(ctx context.Context, p *Payment) error {
	if _, err := s.payments.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicatePayment
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *MongoStore) Payment(ctx context.Context, provider, gatewayTxnID string) (*Payment, error) {
	var p Payment
	err := s.payments.FindOne(ctx, bson.M{"provider": provider, "gateway_txn_id": gatewayTxnID}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPaymentNotFound
		}
		return nil, errors.Join(ErrStoreFailure, err)
	}
	normalizePayment(&p)
	return &p, nil
}

func (s *MongoStore) SettlePayment(ctx context.Context, provider, gatewayTxnID, subscriptionID string, at time.Time) error {
	filter := bson.M{"provider": provider, "gateway_txn_id": gatewayTxnID}
	res, err := s.payments.UpdateOne(ctx,
		bson.M{"provider": provider, "gateway_txn_id": gatewayTxnID, "settled_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"settled_at": at.UTC(), "subscription_id": subscriptionID}},
	)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.payments.CountDocuments(ctx, filter)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *MongoStore) Payments(ctx context.Context, userID string) ([]Payment, error) {
	cur, err := s.payments.Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}

	out := make([]Payment, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	for i := range out {
		normalizePayment(&out[i])
	}
	return out, nil
}

func decodeSubscriptions(ctx context.Context, cur *mongo.Cursor) ([]Subscription, error) {
	out := make([]Subscription, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	for i := range out {
		normalizeTimes(&out[i])
	}
	return out, nil
}

func normalizePayment(p *Payment) {
	p.PaidAt = p.PaidAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	if p.SettledAt != nil {
		at := p.SettledAt.UTC()
		p.SettledAt = &at
	}
}

// normalizeTimes puts decoded timestamps back in UTC.
func normalizeTimes(s *Subscription) {
	s.PeriodStart = s.PeriodStart.UTC()
	s.PeriodEnd = s.PeriodEnd.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	if s.CancelledAt != nil {
		t := s.CancelledAt.UTC()
		s.CancelledAt = &t
	}
	if s.RenewalFailedAt != nil {
		t := s.RenewalFailedAt.UTC()
		s.RenewalFailedAt = &t
	}
}

var (
	_ Store        = (*MongoStore)(nil)
	_ PaymentStore = (*MongoStore)(nil)
)
