package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ramincsy/Sarafchi/internal/models"
)

type LockRepository interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error)
	ReleaseLock(ctx context.Context, lock *DistributedLock) error
}

type DistributedLock struct {
	Key        string
	Value      string
	TTL        time.Duration
	AcquiredAt time.Time
}

type lockRepository struct {
	client *redis.Client
}

func NewLockRepository(client *redis.Client) LockRepository {
	return &lockRepository{client: client}
}

const (
	lockPrefix  = "lock:"
	releaseLock = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

func (r *lockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*DistributedLock, error) {
	lockKey := lockPrefix + key
	lockValue := uuid.New().String()

	ok, err := r.client.SetNX(ctx, lockKey, lockValue, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lock held for key %s: %w", key, models.ErrConflict)
	}

	return &DistributedLock{
		Key:        lockKey,
		Value:      lockValue,
		TTL:        ttl,
		AcquiredAt: time.Now(),
	}, nil
}

// ReleaseLock deletes the lock only if the token still matches, so an
// expired lock reacquired by another worker is never clobbered.
func (r *lockRepository) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	result, err := r.client.Eval(ctx, releaseLock, []string{lock.Key}, lock.Value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result.(int64) == 0 {
		return fmt.Errorf("lock not found or already released: %s", lock.Key)
	}
	return nil
}

// CurrencyLockManager serializes proposal creation per currency so two
// concurrent rebalance runs cannot both open a proposal for the same
// imbalance.
type CurrencyLockManager struct {
	lockRepo LockRepository
}

func NewCurrencyLockManager(lockRepo LockRepository) *CurrencyLockManager {
	return &CurrencyLockManager{lockRepo: lockRepo}
}

func (m *CurrencyLockManager) LockCurrency(ctx context.Context, currency string, ttl time.Duration) (*DistributedLock, error) {
	return m.lockRepo.AcquireLock(ctx, fmt.Sprintf("equilibrium:currency:%s", currency), ttl)
}

func (m *CurrencyLockManager) LockProposal(ctx context.Context, proposalID int64, ttl time.Duration) (*DistributedLock, error) {
	return m.lockRepo.AcquireLock(ctx, fmt.Sprintf("equilibrium:proposal:%d", proposalID), ttl)
}

func (m *CurrencyLockManager) ReleaseLock(ctx context.Context, lock *DistributedLock) error {
	return m.lockRepo.ReleaseLock(ctx, lock)
}
