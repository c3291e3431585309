package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// User is the durable record behind the public-key publish/lookup
	// endpoint. PublicKey holds the latest published key; per-message
	// snapshots live on the messages themselves.
	User struct {
		ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
		UserID    string             `bson:"user_id" json:"userId"`
		Email     string             `bson:"email" json:"email"`
		PublicKey string             `bson:"public_key" json:"publicKey"`
		UpdatedAt time.Time          `bson:"updated_at" json:"updatedAt"`
	}
)
