package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ramincsy/Sarafchi/internal/external"
	"github.com/ramincsy/Sarafchi/internal/models"
	"github.com/ramincsy/Sarafchi/internal/repository"
)

// ProposalEngine owns every proposal lifecycle mutation. Reads go through
// the service layer; all writes funnel through here so locking and event
// publication happen in exactly one place.
type ProposalEngine interface {
	CreateProposal(ctx context.Context, req *CreateProposalRequest) (*models.Proposal, error)
	ApproveProposal(ctx context.Context, proposalID, confirmedBy int64) (*models.Proposal, error)
	CompleteProposal(ctx context.Context, proposalID int64) (*models.Proposal, error)
	CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*models.EquilibriumTransaction, error)
	ExpireProposals(ctx context.Context) (int, error)
}

// snapshotInvalidator drops the shared ledger snapshot after a mutation
// that implies the underlying balances have moved.
type snapshotInvalidator interface {
	InvalidateSnapshot(ctx context.Context) error
}

type proposalEngine struct {
	proposalRepo   repository.ProposalRepository
	settlementRepo repository.SettlementRepository
	lockManager    *repository.CurrencyLockManager
	publisher      *external.EventPublisher
	snapshots      snapshotInvalidator
	logger         *logrus.Logger
}

func NewProposalEngine(
	proposalRepo repository.ProposalRepository,
	settlementRepo repository.SettlementRepository,
	lockManager *repository.CurrencyLockManager,
	publisher *external.EventPublisher,
	snapshots snapshotInvalidator,
	logger *logrus.Logger,
) ProposalEngine {
	return &proposalEngine{
		proposalRepo:   proposalRepo,
		settlementRepo: settlementRepo,
		lockManager:    lockManager,
		publisher:      publisher,
		snapshots:      snapshots,
		logger:         logger,
	}
}

func (e *proposalEngine) dropSnapshot(ctx context.Context) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.InvalidateSnapshot(ctx); err != nil {
		e.logger.WithError(err).Warn("Failed to invalidate ledger snapshot")
	}
}

type CreateProposalRequest struct {
	CreatedBy    int64           `json:"created_by"`
	ProposalType string          `json:"proposal_type"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Description  string          `json:"description"`
}

type CreateTransactionRequest struct {
	ProposalID int64           `json:"proposal_id"`
	TraderID   int64           `json:"trader_id"`
	PartnerID  *int64          `json:"partner_id"`
	Amount     decimal.Decimal `json:"amount"`
	Price      decimal.Decimal `json:"price"`
	Details    string          `json:"details"`
}

const currencyLockTTL = 10 * time.Second

func (e *proposalEngine) CreateProposal(ctx context.Context, req *CreateProposalRequest) (*models.Proposal, error) {
	proposal := models.NewProposal(req.CreatedBy, req.ProposalType, req.Currency, req.Amount, req.Price, req.Description)
	if err := proposal.Validate(); err != nil {
		return nil, err
	}

	// One open proposal per currency at a time. The advisory lock holds
	// the existence check and the insert together, so concurrent creators
	// cannot both pass the check.
	lock, err := e.lockManager.LockCurrency(ctx, req.Currency, currencyLockTTL)
	if err != nil {
		return nil, err
	}
	defer e.lockManager.ReleaseLock(ctx, lock)

	open, err := e.proposalRepo.FindOpenByCurrency(ctx, req.Currency,
		[]string{models.ProposalPending, models.ProposalConfirmed})
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("currency %s has open proposal %d: %w", req.Currency, open.ProposalID, models.ErrConflict)
	}

	if err := e.proposalRepo.Create(ctx, proposal); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"proposal_id": proposal.ProposalID,
		"type":        proposal.ProposalType,
		"currency":    proposal.Currency,
		"amount":      proposal.Amount.String(),
	}).Info("Proposal created")

	if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "created", req.CreatedBy); err != nil {
		e.logger.WithError(err).Warn("Failed to publish proposal created event")
	}
	return proposal, nil
}

func (e *proposalEngine) ApproveProposal(ctx context.Context, proposalID, confirmedBy int64) (*models.Proposal, error) {
	lock, err := e.lockManager.LockProposal(ctx, proposalID, currencyLockTTL)
	if err != nil {
		return nil, err
	}
	defer e.lockManager.ReleaseLock(ctx, lock)

	proposal, err := e.proposalRepo.GetByProposalID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if proposal.Expire(now) {
		// Lazily persists the expiry so stale proposals cannot be approved
		// between sweeps.
		if err := e.proposalRepo.Update(ctx, proposal); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: proposal %d expired at %s", models.ErrInvalidState, proposalID, proposal.ExpiresAt().Format(time.RFC3339))
	}

	if err := proposal.Approve(confirmedBy, now); err != nil {
		return nil, err
	}
	if err := e.proposalRepo.Update(ctx, proposal); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"proposal_id":  proposalID,
		"confirmed_by": confirmedBy,
	}).Info("Proposal approved")

	if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "approved", confirmedBy); err != nil {
		e.logger.WithError(err).Warn("Failed to publish proposal approved event")
	}
	return proposal, nil
}

func (e *proposalEngine) CompleteProposal(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	lock, err := e.lockManager.LockProposal(ctx, proposalID, currencyLockTTL)
	if err != nil {
		return nil, err
	}
	defer e.lockManager.ReleaseLock(ctx, lock)

	proposal, err := e.proposalRepo.GetByProposalID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if err := proposal.Complete(time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := e.proposalRepo.Update(ctx, proposal); err != nil {
		return nil, err
	}
	e.dropSnapshot(ctx)

	e.logger.WithField("proposal_id", proposalID).Info("Proposal completed")

	if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "completed", proposal.CreatedBy); err != nil {
		e.logger.WithError(err).Warn("Failed to publish proposal completed event")
	}
	return proposal, nil
}

// CreateTransaction records a settlement step against a Confirmed proposal.
// Amount and price default to the proposal's values when omitted, and the
// total is always recomputed here rather than trusted from the caller.
func (e *proposalEngine) CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*models.EquilibriumTransaction, error) {
	if req.ProposalID == 0 {
		return nil, fmt.Errorf("%w: proposal_id is required", models.ErrValidation)
	}

	proposal, err := e.proposalRepo.GetByProposalID(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != models.ProposalConfirmed {
		return nil, fmt.Errorf("%w: proposal %d is %s, transactions require %s",
			models.ErrInvalidState, req.ProposalID, proposal.Status, models.ProposalConfirmed)
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = proposal.Amount
	}
	price := req.Price
	if price.IsZero() {
		price = proposal.Price
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}

	partnerID := req.PartnerID
	if partnerID != nil {
		// A caller-supplied partner must exist in the counterparty
		// directory; one inherited from the proposal is taken as-is.
		if _, err := e.settlementRepo.GetCounterparty(ctx, *partnerID); err != nil {
			return nil, err
		}
	} else {
		partnerID = proposal.PartnerID
	}

	tx := &models.EquilibriumTransaction{
		ProposalID:  proposal.ProposalID,
		InitiatedAt: time.Now().UTC(),
		TraderID:    req.TraderID,
		PartnerID:   partnerID,
		Currency:    proposal.Currency,
		Amount:      amount,
		Price:       price,
		TotalValue:  amount.Mul(price),
		Status:      models.TransactionInitiated,
		Details:     req.Details,
	}
	if err := e.settlementRepo.CreateTransaction(ctx, tx); err != nil {
		return nil, err
	}
	e.dropSnapshot(ctx)

	e.logger.WithFields(logrus.Fields{
		"transaction_id": tx.TransactionID,
		"proposal_id":    tx.ProposalID,
		"amount":         tx.Amount.String(),
		"total_value":    tx.TotalValue.String(),
	}).Info("Settlement transaction initiated")

	if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "transaction_initiated", req.TraderID); err != nil {
		e.logger.WithError(err).Warn("Failed to publish transaction event")
	}
	return tx, nil
}

// ExpireProposals sweeps Pending proposals past their lifetime and returns
// how many were transitioned.
func (e *proposalEngine) ExpireProposals(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	stale, err := e.proposalRepo.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, proposal := range stale {
		if !proposal.Expire(now) {
			continue
		}
		if err := e.proposalRepo.Update(ctx, proposal); err != nil {
			e.logger.WithError(err).WithField("proposal_id", proposal.ProposalID).Error("Failed to expire proposal")
			continue
		}
		expired++
		if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "expired", 0); err != nil {
			e.logger.WithError(err).Warn("Failed to publish proposal expired event")
		}
	}

	if expired > 0 {
		e.logger.WithField("count", expired).Info("Expired stale proposals")
		if err := e.publisher.PublishRebalanceRun(ctx, "expiry_sweep", 0, expired, nil); err != nil {
			e.logger.WithError(err).Warn("Failed to publish expiry sweep event")
		}
	}
	return expired, nil
}
