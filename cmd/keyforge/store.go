package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/keyforge-dev/keyforge-go"
)

const defaultMongoDatabase = "keyforge"

// openStore opens the token store named by uri. An empty uri selects the
// local state file. The returned function releases the store's connections.
func openStore(ctx context.Context, uri, statePath string) (keyforge.TokenStore, func(), error) {
	noop := func() {}
	if uri == "" {
		return &stateTokenStore{path: statePath}, noop, nil
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, noop, fmt.Errorf("parse store URI: %w", err)
	}

	switch parsed.Scheme {
	case "redis", "rediss":
		opts, err := redis.ParseURL(uri)
		if err != nil {
			return nil, noop, fmt.Errorf("parse redis URI: %w", err)
		}
		client := redis.NewClient(opts)
		store, err := keyforge.NewRedisTokenStore(client)
		if err != nil {
			client.Close()
			return nil, noop, err
		}
		return store, func() { client.Close() }, nil

	case "mongodb", "mongodb+srv":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(uri))
		if err != nil {
			return nil, noop, fmt.Errorf("connect to mongodb: %w", err)
		}
		closeFn := func() { client.Disconnect(context.Background()) }

		database := strings.TrimPrefix(parsed.Path, "/")
		if database == "" {
			database = defaultMongoDatabase
		}
		store, err := keyforge.NewMongoTokenStore(client.Database(database))
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		return store, closeFn, nil

	case "postgres", "postgresql", "sqlite":
		var dialector gorm.Dialector
		if parsed.Scheme == "sqlite" {
			dialector = sqlite.Open(strings.TrimPrefix(uri, "sqlite://"))
		} else {
			dialector = postgres.Open(uri)
		}

		db, err := gorm.Open(dialector, &gorm.Config{})
		if err != nil {
			return nil, noop, fmt.Errorf("open database: %w", err)
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}

		store, err := keyforge.NewGormTokenStore(db)
		if err != nil {
			closeFn()
			return nil, noop, err
		}
		return store, closeFn, nil
	}

	return nil, noop, fmt.Errorf("unsupported store scheme %q", parsed.Scheme)
}
