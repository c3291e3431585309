package history

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"secure_chat/internal/model"
)

type (
	MongoStore struct {
		collection *mongo.Collection
	}
)

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("messages"),
	}
}

func (s *MongoStore) Insert(ctx context.Context, msg *model.Message) error {
	_, err := s.collection.InsertOne(ctx, msg)
	return err
}

func (s *MongoStore) QueryThread(ctx context.Context, identityA, identityB string, before time.Time, limit int64) ([]*model.Message, error) {
	if before.IsZero() {
		before = time.Now()
	}

	filter := bson.M{
		"$or": bson.A{
			bson.M{"sender_id": identityA, "receiver_id": identityB},
			bson.M{"sender_id": identityB, "receiver_id": identityA},
		},
		"created_at": bson.M{"$lt": before},
	}

	// newest page first, then reversed so the page reads oldest first
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var page []*model.Message
	if err := cursor.All(ctx, &page); err != nil {
		return nil, err
	}

	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}
