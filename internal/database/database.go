// Package database owns the MongoDB bootstrap: connection, ping and the
// index set for the equilibrium collections.
package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ramincsy/Sarafchi/internal/config"
)

// Connect establishes the MongoDB connection per configuration and verifies
// it with a primary ping. The caller owns the returned client and must
// disconnect it on shutdown.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Client, *mongo.Database, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(uint64(cfg.MaxPoolSize)).
		SetMinPoolSize(uint64(cfg.MinPoolSize)).
		SetServerSelectionTimeout(cfg.SelectionTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}

// EnsureIndexes creates the indexes the equilibrium queries rely on. All
// creations are idempotent; Mongo ignores an index that already exists with
// the same definition.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"equilibrium_proposals": {
			{
				Keys:    bson.D{{Key: "proposal_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			// Dedup checks scan by currency and status, the sweep by
			// status and age.
			{Keys: bson.D{{Key: "currency", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		"equilibrium_transactions": {
			{
				Keys:    bson.D{{Key: "transaction_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "proposal_id", Value: 1}}},
			{Keys: bson.D{{Key: "initiated_at", Value: -1}}},
		},
		"equilibrium_receipts": {
			{
				Keys:    bson.D{{Key: "receipt_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "transaction_id", Value: 1}}},
		},
		"equilibrium_counterparties": {
			{
				Keys:    bson.D{{Key: "counterparty_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		"users": {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", collection, err)
		}
	}
	return nil
}
