package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/saas-billing/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoSet is the RecordSet implementation over a MongoDB collection.
type mongoSet[T any] struct {
	coll    *mongo.Collection
	changes ChangeSet[T]
}

func newMongoSet[T any](coll *mongo.Collection) *mongoSet[T] {
	return &mongoSet[T]{coll: coll}
}

func (s *mongoSet[T]) Find(ctx context.Context, id string) (*T, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *mongoSet[T]) First(ctx context.Context, field string, value any) (*T, error) {
	key, err := bsonKey[T](field)
	if err != nil {
		return nil, err
	}
	return s.findOne(ctx, bson.M{key: value})
}

func (s *mongoSet[T]) Where(ctx context.Context, field string, value any) ([]*T, error) {
	key, err := bsonKey[T](field)
	if err != nil {
		return nil, err
	}
	return s.find(ctx, bson.M{key: value})
}

func (s *mongoSet[T]) All(ctx context.Context) ([]*T, error) {
	return s.find(ctx, bson.D{})
}

func (s *mongoSet[T]) Add(item *T)    { s.changes.Add(item) }
func (s *mongoSet[T]) Update(item *T) { s.changes.Update(item) }
func (s *mongoSet[T]) Remove(item *T) { s.changes.Remove(item) }

func (s *mongoSet[T]) findOne(ctx context.Context, filter any) (*T, error) {
	item := new(T)
	if err := s.coll.FindOne(ctx, filter).Decode(item); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s record: %w", s.coll.Name(), err)
	}
	return item, nil
}

func (s *mongoSet[T]) find(ctx context.Context, filter any) ([]*T, error) {
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", s.coll.Name(), err)
	}
	defer func() {
		if err := cursor.Close(ctx); err != nil {
			log.Warnw("error closing cursor", "collection", s.coll.Name(), "error", err)
		}
	}()
	items := []*T{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s records: %w", s.coll.Name(), err)
	}
	return items, nil
}

// flush sends the pending changes as a single ordered bulk write. On a write
// error the changes before the failing one are reported as stored.
func (s *mongoSet[T]) flush(ctx context.Context) (int, int, error) {
	pending := s.changes.Pending()
	if len(pending) == 0 {
		return 0, 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(pending))
	for _, c := range pending {
		filter := bson.M{"_id": IDOf(c.Item)}
		switch c.Kind {
		case ChangeAdd:
			models = append(models, mongo.NewInsertOneModel().SetDocument(c.Item))
		case ChangeUpdate:
			models = append(models, mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(c.Item))
		case ChangeRemove:
			models = append(models, mongo.NewDeleteOneModel().SetFilter(filter))
		}
	}
	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	affected := 0
	if res != nil {
		affected = int(res.InsertedCount + res.MatchedCount + res.DeletedCount)
	}
	if err != nil {
		stored := 0
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
			stored = bwe.WriteErrors[0].Index
		}
		return stored, affected, fmt.Errorf("failed to save %s records: %w", s.coll.Name(), err)
	}
	log.Debugw("saved records", "collection", s.coll.Name(), "changes", len(pending), "affected", affected)
	return len(pending), affected, nil
}

func (s *mongoSet[T]) commit(stored int) {
	if stored > 0 {
		s.changes.Commit(stored)
	}
}
