package user

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"secure_chat/internal/model"
)

type (
	// UserRepo backs the public-key publish/lookup endpoint. An identity
	// may be handed to us in either alias form; lookups match both.
	UserRepo struct {
		collection *mongo.Collection
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
	}
}

func identityFilter(identity string) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"user_id": identity},
			bson.M{"email": identity},
		},
	}
}

func (r *UserRepo) GetByIdentity(ctx context.Context, identity string) (*model.User, error) {
	var user model.User
	err := r.collection.FindOne(ctx, identityFilter(identity)).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertPublicKey stores the latest published key for an identity, creating
// the user record if it does not exist. Last write wins; no key history is
// kept here, per-message snapshots cover old conversations.
func (r *UserRepo) UpsertPublicKey(ctx context.Context, identity, publicKey string) error {
	update := bson.M{
		"$set": bson.M{
			"public_key": publicKey,
			"updated_at": time.Now(),
		},
		"$setOnInsert": bson.M{
			"user_id": identity,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, identityFilter(identity), update, opts)
	return err
}
