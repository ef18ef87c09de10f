package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ramincsy/Sarafchi/internal/accounting"
	"github.com/ramincsy/Sarafchi/internal/external"
	"github.com/ramincsy/Sarafchi/internal/models"
	"github.com/ramincsy/Sarafchi/internal/repository"
)

// RebalanceEngine turns measured balance discrepancies into proposals
// without operator involvement. Two entry points exist with different
// duplicate policies: AutoRebalance skips a currency only while a Confirmed
// proposal is open for it, AutoCreateProposals skips while either a Pending
// or a Confirmed one is. AutoRebalance additionally sweeps stale Pending
// proposals before reading the snapshot, so freshly expired ones never
// block their currency.
type RebalanceEngine interface {
	AutoRebalance(ctx context.Context) (*RebalanceResult, error)
	AutoCreateProposals(ctx context.Context) (*RebalanceResult, error)
	RecalculateProposals(ctx context.Context) (*RecalculateResult, error)
}

type RebalanceResult struct {
	Created  []*models.Proposal `json:"created"`
	Skipped  []SkippedCurrency  `json:"skipped"`
	Examined int                `json:"examined"`
	Expired  int                `json:"expired"`
}

type SkippedCurrency struct {
	Currency string `json:"currency"`
	Reason   string `json:"reason"`
}

// RecalculateResult summarizes, per currency, how much of the company
// balance is held against Confirmed proposals and how much remains free.
type RecalculateResult struct {
	Currencies []CurrencyReservation `json:"currencies"`
}

type CurrencyReservation struct {
	Currency            string          `json:"currency"`
	TotalCompanyBalance decimal.Decimal `json:"total_company_balance"`
	ReservedTotal       decimal.Decimal `json:"reserved_total"`
	FreeBalance         decimal.Decimal `json:"free_balance"`
}

// proposalExpirer is the slice of the proposal engine the rebalancer needs
// for its expire pass.
type proposalExpirer interface {
	ExpireProposals(ctx context.Context) (int, error)
}

type rebalanceEngine struct {
	ledger       repository.LedgerSnapshotProvider
	proposalRepo repository.ProposalRepository
	expirer      proposalExpirer
	lockManager  *repository.CurrencyLockManager
	publisher    *external.EventPublisher
	thresholds   map[string]decimal.Decimal
	logger       *logrus.Logger
}

func NewRebalanceEngine(
	ledger repository.LedgerSnapshotProvider,
	proposalRepo repository.ProposalRepository,
	expirer proposalExpirer,
	lockManager *repository.CurrencyLockManager,
	publisher *external.EventPublisher,
	thresholds map[string]decimal.Decimal,
	logger *logrus.Logger,
) RebalanceEngine {
	if thresholds == nil {
		thresholds = accounting.DefaultThresholds
	}
	return &rebalanceEngine{
		ledger:       ledger,
		proposalRepo: proposalRepo,
		expirer:      expirer,
		lockManager:  lockManager,
		publisher:    publisher,
		thresholds:   thresholds,
		logger:       logger,
	}
}

func (e *rebalanceEngine) AutoRebalance(ctx context.Context) (*RebalanceResult, error) {
	expired, err := e.expirer.ExpireProposals(ctx)
	if err != nil {
		return nil, err
	}

	result, err := e.run(ctx, []string{models.ProposalConfirmed})
	if err != nil {
		return nil, err
	}
	result.Expired = expired
	e.publishRun(ctx, "auto_rebalance", result)
	return result, nil
}

func (e *rebalanceEngine) AutoCreateProposals(ctx context.Context) (*RebalanceResult, error) {
	result, err := e.run(ctx, []string{models.ProposalPending, models.ProposalConfirmed})
	if err != nil {
		return nil, err
	}
	e.publishRun(ctx, "auto_create", result)
	return result, nil
}

func (e *rebalanceEngine) run(ctx context.Context, dedupStatuses []string) (*RebalanceResult, error) {
	userTotals, companyTotals, err := e.currencyTotals(ctx)
	if err != nil {
		return nil, err
	}

	result := &RebalanceResult{}
	for _, currency := range accounting.SuggestionCurrencies {
		result.Examined++

		action, diff, ok := accounting.Imbalance(currency, userTotals[currency], companyTotals[currency])
		if !ok {
			result.Skipped = append(result.Skipped, SkippedCurrency{Currency: currency, Reason: "no imbalance"})
			continue
		}
		threshold, known := e.thresholds[currency]
		if known && diff.LessThan(threshold) {
			result.Skipped = append(result.Skipped, SkippedCurrency{Currency: currency, Reason: "below threshold"})
			continue
		}

		proposal, err := e.createForImbalance(ctx, currency, action, diff, dedupStatuses)
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				result.Skipped = append(result.Skipped, SkippedCurrency{Currency: currency, Reason: "open proposal exists"})
				continue
			}
			return nil, err
		}
		result.Created = append(result.Created, proposal)
	}
	return result, nil
}

// createForImbalance holds the currency lock across the dedup check and the
// insert so two concurrent runs cannot both create a proposal for the same
// currency.
func (e *rebalanceEngine) createForImbalance(ctx context.Context, currency, action string, diff decimal.Decimal, dedupStatuses []string) (*models.Proposal, error) {
	lock, err := e.lockManager.LockCurrency(ctx, currency, currencyLockTTL)
	if err != nil {
		return nil, err
	}
	defer e.lockManager.ReleaseLock(ctx, lock)

	open, err := e.proposalRepo.FindOpenByCurrency(ctx, currency, dedupStatuses)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("currency %s has open proposal %d: %w", currency, open.ProposalID, models.ErrConflict)
	}

	// System-created proposals carry no price; the operator fills in the
	// execution price at settlement time. The discrepancy itself is held
	// as the reserved amount.
	proposal := models.NewProposal(0, action, currency, diff, decimal.Zero,
		fmt.Sprintf("Automatic rebalance: %s %s %s", action, diff.String(), currency))
	proposal.ReservedAmount = diff
	if err := e.proposalRepo.Create(ctx, proposal); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"proposal_id": proposal.ProposalID,
		"currency":    currency,
		"action":      action,
		"amount":      diff.String(),
	}).Info("Auto-created rebalance proposal")

	if err := e.publisher.PublishProposalLifecycle(ctx, proposal, "created", 0); err != nil {
		e.logger.WithError(err).Warn("Failed to publish auto-created proposal event")
	}
	return proposal, nil
}

// RecalculateProposals reports, per currency, the company balance alongside
// the portion reserved by Confirmed proposals and the free remainder.
func (e *rebalanceEngine) RecalculateProposals(ctx context.Context) (*RecalculateResult, error) {
	_, companyTotals, err := e.currencyTotals(ctx)
	if err != nil {
		return nil, err
	}

	confirmed, err := e.proposalRepo.List(ctx, repository.ProposalFilter{Status: models.ProposalConfirmed})
	if err != nil {
		return nil, err
	}

	reserved := make(map[string]decimal.Decimal)
	for _, proposal := range confirmed {
		reserved[proposal.Currency] = reserved[proposal.Currency].Add(proposal.ReservedAmount)
	}

	currencies := make(map[string]bool, len(companyTotals))
	for currency := range companyTotals {
		currencies[currency] = true
	}
	for currency := range reserved {
		currencies[currency] = true
	}
	ordered := make([]string, 0, len(currencies))
	for currency := range currencies {
		ordered = append(ordered, currency)
	}
	sort.Strings(ordered)

	result := &RecalculateResult{Currencies: make([]CurrencyReservation, 0, len(ordered))}
	for _, currency := range ordered {
		total := companyTotals[currency]
		held := reserved[currency]
		result.Currencies = append(result.Currencies, CurrencyReservation{
			Currency:            currency,
			TotalCompanyBalance: total,
			ReservedTotal:       held,
			FreeBalance:         total.Sub(held),
		})
	}

	e.logger.WithField("currencies", len(result.Currencies)).Info("Recalculated reserved balances")
	return result, nil
}

func (e *rebalanceEngine) currencyTotals(ctx context.Context) (map[string]decimal.Decimal, map[string]decimal.Decimal, error) {
	rows, err := e.ledger.GetUsersWithDetails(ctx)
	if err != nil {
		return nil, nil, err
	}
	userTotals := accounting.BalanceTotals(accounting.Aggregate(rows, models.UserRoles))
	companyTotals := accounting.BalanceTotals(accounting.Aggregate(rows, models.CompanyRoles))
	return userTotals, companyTotals, nil
}

func (e *rebalanceEngine) publishRun(ctx context.Context, eventType string, result *RebalanceResult) {
	currencies := make([]string, 0, len(result.Created))
	for _, p := range result.Created {
		currencies = append(currencies, p.Currency)
	}
	if err := e.publisher.PublishRebalanceRun(ctx, eventType, len(result.Created), result.Expired, currencies); err != nil {
		e.logger.WithError(err).Warn("Failed to publish rebalance run event")
	}
}
