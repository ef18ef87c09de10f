package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ramincsy/Sarafchi/internal/models"
)

// SettlementRepository persists the artifacts produced when a confirmed
// proposal is settled: the transaction record, uploaded receipts, and the
// counterparty directory.
type SettlementRepository interface {
	CreateTransaction(ctx context.Context, tx *models.EquilibriumTransaction) error
	ListTransactions(ctx context.Context, limit, offset int64) ([]*models.EquilibriumTransaction, error)

	CreateReceipt(ctx context.Context, receipt *models.Receipt) error
	ListReceiptsByTransaction(ctx context.Context, transactionID int64) ([]*models.Receipt, error)

	CreateCounterparty(ctx context.Context, cp *models.Counterparty) error
	ListCounterparties(ctx context.Context) ([]*models.Counterparty, error)
	GetCounterparty(ctx context.Context, counterpartyID int64) (*models.Counterparty, error)
}

type settlementRepository struct {
	transactions   *mongo.Collection
	receipts       *mongo.Collection
	counterparties *mongo.Collection
	counters       *mongo.Collection
}

func NewSettlementRepository(db *mongo.Database) SettlementRepository {
	return &settlementRepository{
		transactions:   db.Collection("equilibrium_transactions"),
		receipts:       db.Collection("equilibrium_receipts"),
		counterparties: db.Collection("equilibrium_counterparties"),
		counters:       db.Collection("counters"),
	}
}

func (r *settlementRepository) CreateTransaction(ctx context.Context, tx *models.EquilibriumTransaction) error {
	seq, err := nextSequence(ctx, r.counters, "equilibrium_transactions")
	if err != nil {
		return err
	}
	tx.TransactionID = seq
	if tx.InitiatedAt.IsZero() {
		tx.InitiatedAt = time.Now()
	}

	result, err := r.transactions.InsertOne(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	tx.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *settlementRepository) ListTransactions(ctx context.Context, limit, offset int64) ([]*models.EquilibriumTransaction, error) {
	opts := options.Find().SetSort(bson.M{"initiated_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if offset > 0 {
		opts.SetSkip(offset)
	}

	cursor, err := r.transactions.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txs []*models.EquilibriumTransaction
	if err := cursor.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

func (r *settlementRepository) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	seq, err := nextSequence(ctx, r.counters, "equilibrium_receipts")
	if err != nil {
		return err
	}
	receipt.ReceiptID = seq
	if receipt.UploadedAt.IsZero() {
		receipt.UploadedAt = time.Now()
	}

	result, err := r.receipts.InsertOne(ctx, receipt)
	if err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	receipt.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *settlementRepository) ListReceiptsByTransaction(ctx context.Context, transactionID int64) ([]*models.Receipt, error) {
	cursor, err := r.receipts.Find(ctx,
		bson.M{"transaction_id": transactionID},
		options.Find().SetSort(bson.M{"uploaded_at": -1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts for transaction %d: %w", transactionID, err)
	}
	defer cursor.Close(ctx)

	var receipts []*models.Receipt
	if err := cursor.All(ctx, &receipts); err != nil {
		return nil, fmt.Errorf("failed to decode receipts: %w", err)
	}
	return receipts, nil
}

func (r *settlementRepository) CreateCounterparty(ctx context.Context, cp *models.Counterparty) error {
	seq, err := nextSequence(ctx, r.counters, "equilibrium_counterparties")
	if err != nil {
		return err
	}
	cp.CounterpartyID = seq
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	result, err := r.counterparties.InsertOne(ctx, cp)
	if err != nil {
		return fmt.Errorf("failed to create counterparty: %w", err)
	}
	cp.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *settlementRepository) ListCounterparties(ctx context.Context) ([]*models.Counterparty, error) {
	cursor, err := r.counterparties.Find(ctx, bson.M{},
		options.Find().SetSort(bson.M{"created_at": -1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list counterparties: %w", err)
	}
	defer cursor.Close(ctx)

	var cps []*models.Counterparty
	if err := cursor.All(ctx, &cps); err != nil {
		return nil, fmt.Errorf("failed to decode counterparties: %w", err)
	}
	return cps, nil
}

func (r *settlementRepository) GetCounterparty(ctx context.Context, counterpartyID int64) (*models.Counterparty, error) {
	var cp models.Counterparty
	err := r.counterparties.FindOne(ctx, bson.M{"counterparty_id": counterpartyID}).Decode(&cp)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("counterparty %d: %w", counterpartyID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get counterparty %d: %w", counterpartyID, err)
	}
	return &cp, nil
}
