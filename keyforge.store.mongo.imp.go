package keyforge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTokenCollectionName = "license_tokens"

// tokenDocument represents a stored token in MongoDB
type tokenDocument struct {
	StoreKey  string    `bson:"store_key"`
	Token     string    `bson:"token"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoTokenStore keeps tokens in a MongoDB collection.
type MongoTokenStore struct {
	collection *mongo.Collection
}

// NewMongoTokenStore creates a MongoDB-based token store
func NewMongoTokenStore(db *mongo.Database) (*MongoTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Client().Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb connection failed: %w", err)
	}

	collection := db.Collection(mongoTokenCollectionName)
	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "store_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoTokenStore{collection: collection}, nil
}

func (r *MongoTokenStore) Load(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cannot be empty")
	}

	var doc tokenDocument
	err := r.collection.FindOne(ctx, bson.M{"store_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	return doc.Token, nil
}

func (r *MongoTokenStore) Save(ctx context.Context, key, token string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	now := time.Now()
	filter := bson.M{"store_key": key}
	update := bson.M{
		"$set":         bson.M{"token": token, "updated_at": now},
		"$setOnInsert": bson.M{"store_key": key, "created_at": now},
	}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two concurrent upserts may both try the insert.
		if mongo.IsDuplicateKeyError(err) {
			_, err = r.collection.UpdateOne(ctx, filter, update)
		}
		if err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
	}
	return nil
}

func (r *MongoTokenStore) Delete(ctx context.Context, key string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"store_key": key}); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
