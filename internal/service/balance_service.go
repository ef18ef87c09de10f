package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ramincsy/Sarafchi/internal/accounting"
	"github.com/ramincsy/Sarafchi/internal/cache"
	"github.com/ramincsy/Sarafchi/internal/models"
	"github.com/ramincsy/Sarafchi/internal/monitoring"
	"github.com/ramincsy/Sarafchi/internal/repository"
)

// BalanceService serves every read-side view of the ledger: per-user
// aggregates, company-side aggregates, partner rows, discrepancies and
// rebalancing suggestions. All views derive from one snapshot read so the
// numbers inside a single response are mutually consistent.
type BalanceService interface {
	GetUserBalances(ctx context.Context) (*BalancesResponse, error)
	GetCompanyBalance(ctx context.Context) (*CompanyBalanceResponse, error)
	GetPartnerBalances(ctx context.Context) ([]models.LedgerRow, error)
	GetUserBalanceDetails(ctx context.Context, userID int64) (*models.AggregatedUser, error)
	GetSuggestions(ctx context.Context) ([]models.Suggestion, error)
}

type BalancesResponse struct {
	Users  []models.AggregatedUser `json:"users"`
	Totals models.CurrencyTotals   `json:"totals"`
}

type CompanyBalanceResponse struct {
	Users         []models.AggregatedUser `json:"users"`
	Totals        models.CurrencyTotals   `json:"totals"`
	Discrepancies []models.Discrepancy    `json:"discrepancies"`
}

type balanceService struct {
	ledger       repository.LedgerSnapshotProvider
	proposalRepo repository.ProposalRepository
	cache        cache.CacheService
	snapshotTTL  time.Duration
	metrics      monitoring.MetricsService
	logger       *logrus.Logger
}

func NewBalanceService(
	ledger repository.LedgerSnapshotProvider,
	proposalRepo repository.ProposalRepository,
	cacheService cache.CacheService,
	snapshotTTL time.Duration,
	metrics monitoring.MetricsService,
	logger *logrus.Logger,
) BalanceService {
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Second
	}
	return &balanceService{
		ledger:       ledger,
		proposalRepo: proposalRepo,
		cache:        cacheService,
		snapshotTTL:  snapshotTTL,
		metrics:      metrics,
		logger:       logger,
	}
}

// snapshot reads the ledger, going through the shared cache when one is
// configured. Cache failures degrade to a direct read.
func (s *balanceService) snapshot(ctx context.Context) ([]models.LedgerRow, error) {
	start := time.Now()
	if s.cache != nil {
		if rows, err := s.cache.GetCachedSnapshot(ctx); err == nil {
			s.recordSnapshotRead(true, start)
			return rows, nil
		}
	}

	rows, err := s.ledger.GetUsersWithDetails(ctx)
	if err != nil {
		return nil, err
	}
	s.recordSnapshotRead(false, start)

	if s.cache != nil {
		if err := s.cache.CacheSnapshot(ctx, rows, s.snapshotTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache ledger snapshot")
		}
	}
	return rows, nil
}

func (s *balanceService) recordSnapshotRead(cached bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSnapshotRead(cached, time.Since(start))
	}
}

func (s *balanceService) GetUserBalances(ctx context.Context) (*BalancesResponse, error) {
	rows, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	users := accounting.Aggregate(rows, models.UserRoles)
	return &BalancesResponse{
		Users:  users,
		Totals: accounting.Totals(users),
	}, nil
}

func (s *balanceService) GetCompanyBalance(ctx context.Context) (*CompanyBalanceResponse, error) {
	rows, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	companyUsers := accounting.Aggregate(rows, models.CompanyRoles)
	userUsers := accounting.Aggregate(rows, models.UserRoles)

	return &CompanyBalanceResponse{
		Users:  companyUsers,
		Totals: accounting.Totals(companyUsers),
		Discrepancies: accounting.Discrepancies(
			accounting.BalanceTotals(userUsers),
			accounting.BalanceTotals(companyUsers),
		),
	}, nil
}

func (s *balanceService) GetPartnerBalances(ctx context.Context) ([]models.LedgerRow, error) {
	rows, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return accounting.FilterRole(rows, models.PartnerRole), nil
}

func (s *balanceService) GetUserBalanceDetails(ctx context.Context, userID int64) (*models.AggregatedUser, error) {
	rows, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	// No role filter here: the per-user view shows every currency the user
	// holds under any role.
	all := map[string]bool{}
	for i := range rows {
		all[rows[i].RoleName] = true
	}
	for _, user := range accounting.Aggregate(rows, all) {
		if user.UserID == userID {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %d has no balances: %w", userID, models.ErrNotFound)
}

func (s *balanceService) GetSuggestions(ctx context.Context) ([]models.Suggestion, error) {
	rows, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	userTotals := accounting.BalanceTotals(accounting.Aggregate(rows, models.UserRoles))
	companyTotals := accounting.BalanceTotals(accounting.Aggregate(rows, models.CompanyRoles))

	lookup := func(currency string) *int64 {
		open, err := s.proposalRepo.FindOpenByCurrency(ctx, currency,
			[]string{models.ProposalPending, models.ProposalConfirmed})
		if err != nil {
			s.logger.WithError(err).WithField("currency", currency).Warn("Failed to look up open proposal")
			return nil
		}
		if open == nil {
			return nil
		}
		return &open.ProposalID
	}
	return accounting.Suggestions(userTotals, companyTotals, lookup), nil
}
