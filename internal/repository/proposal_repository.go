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

type ProposalRepository interface {
	Create(ctx context.Context, proposal *models.Proposal) error
	GetByProposalID(ctx context.Context, proposalID int64) (*models.Proposal, error)
	Update(ctx context.Context, proposal *models.Proposal) error
	List(ctx context.Context, filter ProposalFilter) ([]*models.Proposal, error)
	FindOpenByCurrency(ctx context.Context, currency string, statuses []string) (*models.Proposal, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Proposal, error)
}

// ProposalFilter narrows List. Zero values mean "no constraint".
type ProposalFilter struct {
	Status   string
	Currency string
	Type     string
	Limit    int64
	Offset   int64
}

type proposalRepository struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func NewProposalRepository(db *mongo.Database) ProposalRepository {
	return &proposalRepository{
		collection: db.Collection("equilibrium_proposals"),
		counters:   db.Collection("counters"),
	}
}

// nextSequence yields monotonically increasing int64 IDs per counter name
// via an atomic upsert+increment on the counters collection.
func nextSequence(ctx context.Context, counters *mongo.Collection, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s sequence: %w", name, err)
	}
	return doc.Seq, nil
}

func (r *proposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	seq, err := nextSequence(ctx, r.counters, "equilibrium_proposals")
	if err != nil {
		return err
	}
	proposal.ProposalID = seq
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}
	proposal.UpdatedAt = proposal.CreatedAt

	result, err := r.collection.InsertOne(ctx, proposal)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	proposal.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

func (r *proposalRepository) GetByProposalID(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	var proposal models.Proposal
	err := r.collection.FindOne(ctx, bson.M{"proposal_id": proposalID}).Decode(&proposal)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("proposal %d: %w", proposalID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get proposal %d: %w", proposalID, err)
	}
	return &proposal, nil
}

func (r *proposalRepository) Update(ctx context.Context, proposal *models.Proposal) error {
	proposal.UpdatedAt = time.Now()

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"proposal_id": proposal.ProposalID},
		bson.M{"$set": proposal},
	)
	if err != nil {
		return fmt.Errorf("failed to update proposal %d: %w", proposal.ProposalID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("proposal %d: %w", proposal.ProposalID, models.ErrNotFound)
	}
	return nil
}

func (r *proposalRepository) List(ctx context.Context, filter ProposalFilter) ([]*models.Proposal, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Currency != "" {
		query["currency"] = filter.Currency
	}
	if filter.Type != "" {
		query["proposal_type"] = filter.Type
	}

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if filter.Limit > 0 {
		opts.SetLimit(filter.Limit)
	}
	if filter.Offset > 0 {
		opts.SetSkip(filter.Offset)
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list proposals: %w", err)
	}
	defer cursor.Close(ctx)

	var proposals []*models.Proposal
	if err := cursor.All(ctx, &proposals); err != nil {
		return nil, fmt.Errorf("failed to decode proposals: %w", err)
	}
	return proposals, nil
}

// FindOpenByCurrency returns the newest proposal for a currency whose status
// is in the given set, or nil when none exists. The caller chooses the
// status set: the rebalancer deduplicates on Confirmed only, while bulk
// proposal creation treats Pending and Confirmed alike.
func (r *proposalRepository) FindOpenByCurrency(ctx context.Context, currency string, statuses []string) (*models.Proposal, error) {
	var proposal models.Proposal
	err := r.collection.FindOne(ctx,
		bson.M{
			"currency": currency,
			"status":   bson.M{"$in": statuses},
		},
		options.FindOne().SetSort(bson.M{"created_at": -1}),
	).Decode(&proposal)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find open proposal for %s: %w", currency, err)
	}
	return &proposal, nil
}

// FindExpiredPending returns every Pending proposal older than the lifetime
// window relative to now.
func (r *proposalRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Proposal, error) {
	cutoff := now.Add(-models.ProposalTTL)
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":     models.ProposalPending,
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find expired proposals: %w", err)
	}
	defer cursor.Close(ctx)

	var proposals []*models.Proposal
	if err := cursor.All(ctx, &proposals); err != nil {
		return nil, fmt.Errorf("failed to decode expired proposals: %w", err)
	}
	return proposals, nil
}
