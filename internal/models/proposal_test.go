package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingProposal() *Proposal {
	return NewProposal(7, "sell_usdt", "USDT", decimal.NewFromInt(100), decimal.NewFromInt(60000), "manual")
}

func TestNewProposal(t *testing.T) {
	p := pendingProposal()

	assert.Equal(t, ProposalPending, p.Status)
	assert.Equal(t, int64(7), p.CreatedBy)
	assert.True(t, p.TotalValue.Equal(decimal.NewFromInt(6000000)))
	assert.True(t, p.ReservedAmount.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), p.CreatedAt, time.Second)
}

func TestProposalValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Proposal)
		errorMsg string
	}{
		{
			name:   "valid proposal",
			mutate: func(p *Proposal) {},
		},
		{
			name:     "missing type",
			mutate:   func(p *Proposal) { p.ProposalType = "" },
			errorMsg: "proposal type is required",
		},
		{
			name:     "missing currency",
			mutate:   func(p *Proposal) { p.Currency = "" },
			errorMsg: "currency is required",
		},
		{
			name:     "zero amount",
			mutate:   func(p *Proposal) { p.Amount = decimal.Zero },
			errorMsg: "amount must be positive",
		},
		{
			name:     "negative price",
			mutate:   func(p *Proposal) { p.Price = decimal.NewFromInt(-1) },
			errorMsg: "price cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pendingProposal()
			tt.mutate(p)
			err := p.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestProposalApprove(t *testing.T) {
	now := time.Now().UTC()

	t.Run("pending proposal is approvable", func(t *testing.T) {
		p := pendingProposal()
		require.NoError(t, p.Approve(11, now))

		assert.Equal(t, ProposalConfirmed, p.Status)
		require.NotNil(t, p.ConfirmedBy)
		assert.Equal(t, int64(11), *p.ConfirmedBy)
		require.NotNil(t, p.ConfirmedAt)
		assert.True(t, p.ReservedAmount.Equal(p.Amount))
	})

	t.Run("confirmed proposal cannot be approved twice", func(t *testing.T) {
		p := pendingProposal()
		require.NoError(t, p.Approve(11, now))

		err := p.Approve(12, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("expired proposal cannot be approved", func(t *testing.T) {
		p := pendingProposal()
		p.CreatedAt = now.Add(-3 * time.Minute)
		require.True(t, p.Expire(now))

		err := p.Approve(11, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})
}

func TestProposalComplete(t *testing.T) {
	now := time.Now().UTC()

	t.Run("confirmed proposal completes and releases reservation", func(t *testing.T) {
		p := pendingProposal()
		require.NoError(t, p.Approve(11, now))
		require.NoError(t, p.Complete(now))

		assert.Equal(t, ProposalCompleted, p.Status)
		require.NotNil(t, p.CompletedAt)
		assert.True(t, p.ReservedAmount.IsZero())
		assert.True(t, p.IsTerminal())
	})

	t.Run("pending proposal cannot complete directly", func(t *testing.T) {
		p := pendingProposal()
		err := p.Complete(now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})

	t.Run("completed proposal cannot complete again", func(t *testing.T) {
		p := pendingProposal()
		require.NoError(t, p.Approve(11, now))
		require.NoError(t, p.Complete(now))

		err := p.Complete(now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidState))
	})
}

func TestProposalExpire(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		age          time.Duration
		status       string
		expectExpire bool
	}{
		{
			name:         "just under the ttl stays pending",
			age:          ProposalTTL - time.Second,
			status:       ProposalPending,
			expectExpire: false,
		},
		{
			name:         "exactly at the ttl stays pending",
			age:          ProposalTTL,
			status:       ProposalPending,
			expectExpire: false,
		},
		{
			name:         "past the ttl expires",
			age:          ProposalTTL + time.Second,
			status:       ProposalPending,
			expectExpire: true,
		},
		{
			name:         "confirmed proposal never expires",
			age:          time.Hour,
			status:       ProposalConfirmed,
			expectExpire: false,
		},
		{
			name:         "completed proposal never expires",
			age:          time.Hour,
			status:       ProposalCompleted,
			expectExpire: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := pendingProposal()
			p.CreatedAt = base.Add(-tt.age)
			p.Status = tt.status

			expired := p.Expire(base)
			assert.Equal(t, tt.expectExpire, expired)
			if tt.expectExpire {
				assert.Equal(t, ProposalExpired, p.Status)
			} else {
				assert.Equal(t, tt.status, p.Status)
			}
		})
	}
}

func TestProposalExpire_LeavesReservationUntouched(t *testing.T) {
	now := time.Now().UTC()
	p := pendingProposal()
	p.ReservedAmount = decimal.NewFromInt(100)
	p.CreatedAt = now.Add(-3 * time.Minute)

	require.True(t, p.Expire(now))
	assert.True(t, p.ReservedAmount.Equal(decimal.NewFromInt(100)))
}

func TestProposalExpiresAt(t *testing.T) {
	p := pendingProposal()
	assert.Equal(t, p.CreatedAt.Add(ProposalTTL), p.ExpiresAt())
}

func TestProposalJSONIncludesExpiresAt(t *testing.T) {
	p := pendingProposal()
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "ExpiresAt")
	assert.Contains(t, decoded, "ProposalID")
}

func TestProposalJSONOmitsUpdatedAt(t *testing.T) {
	p := pendingProposal()
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotContains(t, decoded, "UpdatedAt")
}
