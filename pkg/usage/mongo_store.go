package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultRecordsCollection is the collection usage records are stored in.
const DefaultRecordsCollection = "usage_records"

// DefaultGrantsCollection holds one document per granted consumption.
const DefaultGrantsCollection = "usage_grants"

// MongoStore stores one document per record, keyed by RecordKey.String(), and
// one document per granted consumption. Grants expire through a TTL index.
//
// MongoDB updates a single document atomically, so Consume increments the
// record first and then inserts the grant; a failed insert is compensated.
// Release marks the grant first, so a crash in between can lose a release
// but never hand out quota twice.
type MongoStore struct {
	coll   *mongo.Collection
	grants *mongo.Collection
}

type grantDoc struct {
	ID         string     `bson:"_id"`
	RecordID   string     `bson:"record_id"`
	Amount     int64      `bson:"amount"`
	ReleasedAt *time.Time `bson:"released_at"`
	ExpiresAt  time.Time  `bson:"expires_at"`
}

// NewMongoStore returns a store over the usage_records and usage_grants
// collections of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll:   db.Collection(DefaultRecordsCollection),
		grants: db.Collection(DefaultGrantsCollection),
	}
}

// EnsureIndexes creates the secondary index used by summaries and the TTL
// index that drops grants after their retention.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "resource", Value: 1}, {Key: "period_key", Value: -1}},
	})
	if err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("create usage index: %w", err))
	}

	_, err = s.grants.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return errors.Join(ErrStoreFailure, fmt.Errorf("create grant ttl index: %w", err))
	}
	return nil
}

func (s *MongoStore) GetOrCreate(ctx context.Context, key RecordKey, period Period) (Record, error) {
	var rec Record
	now := time.Now().UTC()
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key.String()},
		bson.M{"$setOnInsert": bson.M{
			"user_id":      key.UserID,
			"resource":     key.Resource,
			"period_key":   key.PeriodKey,
			"period_start": period.Start,
			"period_end":   period.End,
			"used":         int64(0),
			"created_at":   now,
			"updated_at":   now,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the upsert race, the record exists now
			return s.Get(ctx, key)
		}
		return Record{}, errors.Join(ErrStoreFailure, err)
	}
	return rec, nil
}

func (s *MongoStore) Consume(ctx context.Context, c Consumption, period Period, limit int64) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}

	key := c.Key()
	// An upsert cannot be combined with the limit filter: a non-matching filter
	// would try to insert a duplicate. Make sure the record exists first.
	current, err := s.GetOrCreate(ctx, key, period)
	if err != nil {
		return Record{}, false, err
	}
	r := room(c.Amount, limit)
	if r < 0 {
		return current, false, nil
	}

	var rec Record
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key.String(), "used": bson.M{"$lte": r}},
		bson.M{
			"$inc": bson.M{"used": c.Amount},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		current, err := s.Get(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		return current, false, nil
	case err != nil:
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}

	_, err = s.grants.InsertOne(ctx, grantDoc{
		ID:        c.ID,
		RecordID:  rec.ID,
		Amount:    c.Amount,
		ExpiresAt: grantExpiry(period),
	})
	if err != nil {
		if _, undoErr := s.coll.UpdateOne(ctx,
			bson.M{"_id": rec.ID},
			bson.M{"$inc": bson.M{"used": -c.Amount}},
		); undoErr != nil {
			err = errors.Join(err, fmt.Errorf("undo consume: %w", undoErr))
		}
		return Record{}, false, errors.Join(ErrStoreFailure, fmt.Errorf("grant consumption %s: %w", c.ID, err))
	}
	return rec, true, nil
}

func (s *MongoStore) Release(ctx context.Context, c Consumption) (Record, bool, error) {
	if !validAmount(c.Amount) {
		return Record{}, false, ErrInvalidAmount
	}

	key := c.Key()
	grantFilter := bson.M{"_id": c.ID, "record_id": key.String(), "amount": c.Amount}

	now := time.Now().UTC()
	res, err := s.grants.UpdateOne(ctx,
		bson.M{"_id": c.ID, "record_id": key.String(), "amount": c.Amount, "released_at": nil},
		bson.M{"$set": bson.M{"released_at": now}},
	)
	if err != nil {
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}

	if res.ModifiedCount == 0 {
		current, err := s.Get(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		n, err := s.grants.CountDocuments(ctx, grantFilter)
		if err != nil {
			return Record{}, false, errors.Join(ErrStoreFailure, err)
		}
		if n == 0 {
			return current, false, ErrConsumptionNotFound
		}
		return current, false, nil
	}

	var rec Record
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key.String(), "used": bson.M{"$gte": c.Amount}},
		bson.M{
			"$inc": bson.M{"used": -c.Amount},
			"$set": bson.M{"updated_at": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return Record{}, false, ErrRecordNotFound
	case err != nil:
		return Record{}, false, errors.Join(ErrStoreFailure, err)
	}
	return rec, true, nil
}

func (s *MongoStore) Get(ctx context.Context, key RecordKey) (Record, error) {
	var rec Record
	if err := s.coll.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, errors.Join(ErrStoreFailure, err)
	}
	return rec, nil
}

var _ Store = (*MongoStore)(nil)
