package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ramincsy/Sarafchi/internal/models"
	"github.com/ramincsy/Sarafchi/internal/repository"
)

type fakeLedger struct {
	rows  []models.LedgerRow
	err   error
	reads int
}

func (f *fakeLedger) GetUsersWithDetails(ctx context.Context) ([]models.LedgerRow, error) {
	f.reads++
	return f.rows, f.err
}

type MockProposalRepository struct {
	mock.Mock
}

func (m *MockProposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	args := m.Called(ctx, proposal)
	return args.Error(0)
}

func (m *MockProposalRepository) GetByProposalID(ctx context.Context, proposalID int64) (*models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalRepository) Update(ctx context.Context, proposal *models.Proposal) error {
	args := m.Called(ctx, proposal)
	return args.Error(0)
}

func (m *MockProposalRepository) List(ctx context.Context, filter repository.ProposalFilter) ([]*models.Proposal, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Proposal), args.Error(1)
}

func (m *MockProposalRepository) FindOpenByCurrency(ctx context.Context, currency string, statuses []string) (*models.Proposal, error) {
	args := m.Called(ctx, currency, statuses)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*models.Proposal, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Proposal), args.Error(1)
}

// memoryCache is an in-process stand-in for the Redis snapshot cache.
type memoryCache struct {
	snapshot []models.LedgerRow
	stores   int
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	return models.ErrNotFound
}
func (c *memoryCache) Delete(ctx context.Context, key string) error { return nil }
func (c *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	return false, nil
}
func (c *memoryCache) CacheSnapshot(ctx context.Context, rows []models.LedgerRow, expiration time.Duration) error {
	c.snapshot = rows
	c.stores++
	return nil
}
func (c *memoryCache) GetCachedSnapshot(ctx context.Context) ([]models.LedgerRow, error) {
	if c.snapshot == nil {
		return nil, models.ErrNotFound
	}
	return c.snapshot, nil
}
func (c *memoryCache) InvalidateSnapshot(ctx context.Context) error {
	c.snapshot = nil
	return nil
}
func (c *memoryCache) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	return 0, nil
}
func (c *memoryCache) Client() *redis.Client { return nil }
func (c *memoryCache) Ping(ctx context.Context) error {
	return nil
}
func (c *memoryCache) Close() error { return nil }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func balanceRow(userID int64, name, role, currency string, balance int64) models.LedgerRow {
	return models.LedgerRow{
		UserID:       userID,
		FirstName:    name,
		RoleName:     role,
		CurrencyType: currency,
		Balance:      decimal.NewFromInt(balance),
	}
}

func sampleRows() []models.LedgerRow {
	return []models.LedgerRow{
		balanceRow(1, "Ali", "Customer", "USDT", 100),
		balanceRow(1, "Ali", "Customer", "Toman", 40000),
		balanceRow(2, "Sara", "Partner", "USDT", 130),
		balanceRow(3, "Reza", "Trader", "Toman", 40000),
	}
}

func TestGetUserBalances(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	svc := NewBalanceService(ledger, new(MockProposalRepository), nil, 0, nil, testLogger())

	resp, err := svc.GetUserBalances(context.Background())
	require.NoError(t, err)

	require.Len(t, resp.Users, 1)
	assert.Equal(t, int64(1), resp.Users[0].UserID)
	assert.True(t, resp.Totals["USDT"].Balance.Equal(decimal.NewFromInt(100)))
	assert.True(t, resp.Totals["Toman"].Balance.Equal(decimal.NewFromInt(40000)))
}

func TestGetCompanyBalance(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	svc := NewBalanceService(ledger, new(MockProposalRepository), nil, 0, nil, testLogger())

	resp, err := svc.GetCompanyBalance(context.Background())
	require.NoError(t, err)

	require.Len(t, resp.Users, 2) // Partner and Trader
	assert.True(t, resp.Totals["USDT"].Balance.Equal(decimal.NewFromInt(130)))

	require.Len(t, resp.Discrepancies, 2)
	// user - company, alphabetical currency order
	assert.Equal(t, "Toman", resp.Discrepancies[0].Currency)
	assert.True(t, resp.Discrepancies[0].Difference.IsZero())
	assert.Equal(t, "USDT", resp.Discrepancies[1].Currency)
	assert.True(t, resp.Discrepancies[1].Difference.Equal(decimal.NewFromInt(-30)))
}

func TestGetPartnerBalances(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	svc := NewBalanceService(ledger, new(MockProposalRepository), nil, 0, nil, testLogger())

	partners, err := svc.GetPartnerBalances(context.Background())
	require.NoError(t, err)

	require.Len(t, partners, 1)
	assert.Equal(t, int64(2), partners[0].UserID)
	assert.Equal(t, "Partner", partners[0].RoleName)
}

func TestGetUserBalanceDetails(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	svc := NewBalanceService(ledger, new(MockProposalRepository), nil, 0, nil, testLogger())

	t.Run("company-role user is visible in the per-user view", func(t *testing.T) {
		user, err := svc.GetUserBalanceDetails(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), user.UserID)
		assert.True(t, user.Balances["Toman"].Balance.Equal(decimal.NewFromInt(40000)))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.GetUserBalanceDetails(context.Background(), 999)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})
}

func TestGetSuggestions(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	proposalRepo := new(MockProposalRepository)

	open := models.NewProposal(0, "sell_usdt", "USDT", decimal.NewFromInt(30), decimal.Zero, "auto")
	open.ProposalID = 301
	proposalRepo.On("FindOpenByCurrency", mock.Anything, "USDT",
		[]string{models.ProposalPending, models.ProposalConfirmed}).Return(open, nil)

	svc := NewBalanceService(ledger, proposalRepo, nil, 0, nil, testLogger())
	suggestions, err := svc.GetSuggestions(context.Background())
	require.NoError(t, err)

	// Only USDT is imbalanced: company 130 vs user 100.
	require.Len(t, suggestions, 1)
	assert.Equal(t, "sell_usdt", suggestions[0].Action)
	assert.True(t, suggestions[0].Amount.Equal(decimal.NewFromInt(30)))
	require.NotNil(t, suggestions[0].ProposalID)
	assert.Equal(t, int64(301), *suggestions[0].ProposalID)
	proposalRepo.AssertExpectations(t)
}

func TestGetSuggestions_LookupFailureDegrades(t *testing.T) {
	ledger := &fakeLedger{rows: sampleRows()}
	proposalRepo := new(MockProposalRepository)
	proposalRepo.On("FindOpenByCurrency", mock.Anything, "USDT", mock.Anything).
		Return(nil, assert.AnError)

	svc := NewBalanceService(ledger, proposalRepo, nil, 0, nil, testLogger())
	suggestions, err := svc.GetSuggestions(context.Background())

	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Nil(t, suggestions[0].ProposalID)
}

func TestSnapshotCache(t *testing.T) {
	t.Run("second read is served from the cache", func(t *testing.T) {
		ledger := &fakeLedger{rows: sampleRows()}
		cached := &memoryCache{}
		svc := NewBalanceService(ledger, new(MockProposalRepository), cached, 30*time.Second, nil, testLogger())

		_, err := svc.GetUserBalances(context.Background())
		require.NoError(t, err)
		_, err = svc.GetUserBalances(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, ledger.reads)
		assert.Equal(t, 1, cached.stores)
	})

	t.Run("invalidation forces a fresh read", func(t *testing.T) {
		ledger := &fakeLedger{rows: sampleRows()}
		cached := &memoryCache{}
		svc := NewBalanceService(ledger, new(MockProposalRepository), cached, 30*time.Second, nil, testLogger())

		_, err := svc.GetUserBalances(context.Background())
		require.NoError(t, err)
		require.NoError(t, cached.InvalidateSnapshot(context.Background()))
		_, err = svc.GetUserBalances(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, ledger.reads)
	})

	t.Run("database failure propagates", func(t *testing.T) {
		ledger := &fakeLedger{err: assert.AnError}
		svc := NewBalanceService(ledger, new(MockProposalRepository), nil, 0, nil, testLogger())

		_, err := svc.GetUserBalances(context.Background())
		require.Error(t, err)
	})
}
