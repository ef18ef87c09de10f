package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ramincsy/Sarafchi/internal/models"
)

// LedgerSnapshotProvider returns the bulk ledger snapshot: one row per
// (user, role, currency) combination actually present. The engine and
// service layers only depend on this interface.
type LedgerSnapshotProvider interface {
	GetUsersWithDetails(ctx context.Context) ([]models.LedgerRow, error)
}

type ledgerRepository struct {
	users *mongo.Collection
}

// NewLedgerRepository builds the snapshot provider over the users
// collection. Each user document embeds its roles and wallets:
//
//	{ user_id, first_name, last_name,
//	  roles:   [{ role_name }],
//	  wallets: [{ currency_type, balance, withdrawable_balance,
//	              locked_balance, debt, credit, loan_amount }] }
func NewLedgerRepository(db *mongo.Database) LedgerSnapshotProvider {
	return &ledgerRepository{users: db.Collection("users")}
}

// GetUsersWithDetails unwinds roles x wallets into the flat row shape the
// aggregator consumes. Users with roles but no wallets still produce one
// row per role with the "N/A" currency sentinel so their roles stay visible.
func (r *ledgerRepository) GetUsersWithDetails(ctx context.Context) ([]models.LedgerRow, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: bson.M{"path": "$roles"}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$wallets",
			"preserveNullAndEmptyArrays": true,
		}}},
		{{Key: "$project", Value: bson.M{
			"user_id":    1,
			"first_name": 1,
			"last_name":  1,
			"role_name":  "$roles.role_name",
			"currency_type": bson.M{
				"$ifNull": bson.A{"$wallets.currency_type", models.CurrencyNone},
			},
			"balance":              bson.M{"$ifNull": bson.A{"$wallets.balance", 0}},
			"withdrawable_balance": bson.M{"$ifNull": bson.A{"$wallets.withdrawable_balance", 0}},
			"locked_balance":       bson.M{"$ifNull": bson.A{"$wallets.locked_balance", 0}},
			"debt":                 bson.M{"$ifNull": bson.A{"$wallets.debt", 0}},
			"credit":               bson.M{"$ifNull": bson.A{"$wallets.credit", 0}},
			"loan_amount":          bson.M{"$ifNull": bson.A{"$wallets.loan_amount", 0}},
		}}},
		{{Key: "$sort", Value: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "role_name", Value: 1},
			{Key: "currency_type", Value: 1},
		}}},
	}

	cursor, err := r.users.Aggregate(ctx, pipeline, options.Aggregate())
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []models.LedgerRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode ledger snapshot: %w", err)
	}
	return rows, nil
}
