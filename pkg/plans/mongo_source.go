package plans

import (
	"context"
	"fmt"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DefaultPlansCollection is the collection the catalogue lives in.
const DefaultPlansCollection = "plans"

// MongoSource loads plans from a MongoDB collection keyed by plan ID.
type MongoSource struct {
	coll *mongo.Collection
}

// NewMongoSource returns a Source backed by the plans collection of db.
func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{coll: db.Collection(DefaultPlansCollection)}
}

// Load reads the whole catalogue.
func (s *MongoSource) Load(ctx context.Context) (map[string]Plan, error) {
	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find plans: %w", err)
	}

	var list []Plan
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}

	out := make(map[string]Plan, len(list))
	for _, plan := range list {
		out[plan.ID] = plan
	}
	return out, nil
}

// Seed inserts the given plans unless a plan with the same ID is already published.
// Running it any number of times leaves exactly one document per plan ID.
// It returns how many plans were newly inserted.
func (s *MongoSource) Seed(ctx context.Context, catalogue map[string]Plan) (int, error) {
	if err := Validate(catalogue); err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(catalogue))
	for id := range catalogue {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	inserted := 0
	for _, id := range ids {
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$setOnInsert": planFields(catalogue[id])},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return inserted, fmt.Errorf("seed plan %s: %w", id, err)
		}
		if res.UpsertedCount > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// Publish stores a new version of a plan. The stored plan is replaced only when
// plan.Version is greater than the published one; otherwise ErrStalePlanVersion is returned.
func (s *MongoSource) Publish(ctx context.Context, plan Plan) error {
	if err := Validate(map[string]Plan{plan.ID: plan}); err != nil {
		return err
	}

	res, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": plan.ID, "version": bson.M{"$lt": plan.Version}},
		plan,
	)
	if err != nil {
		return fmt.Errorf("publish plan %s: %w", plan.ID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, err := s.coll.InsertOne(ctx, plan); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrStalePlanVersion
		}
		return fmt.Errorf("publish plan %s: %w", plan.ID, err)
	}
	return nil
}

// planFields renders the mutable part of a plan document, without _id.
func planFields(p Plan) bson.D {
	return bson.D{
		{Key: "name", Value: p.Name},
		{Key: "description", Value: p.Description},
		{Key: "version", Value: p.Version},
		{Key: "price", Value: p.Price},
		{Key: "interval", Value: p.Interval},
		{Key: "limits", Value: p.Limits},
		{Key: "public", Value: p.Public},
	}
}

var _ Source = (*MongoSource)(nil)
