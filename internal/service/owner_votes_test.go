package service

import (
	"context"
	"testing"

	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/mocks"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlendOwnerWeights(t *testing.T) {
	voted := []model.SubnetWeight{{Subnet: "1", Weight: 100}}

	t.Run("unvoted stake follows the owner", func(t *testing.T) {
		got := BlendOwnerWeights(voted, decimal.NewFromInt(300), decimal.NewFromInt(100), model.Weights{"2": 100})
		require.Len(t, got, 2)
		assert.Equal(t, "1", got[0].Subnet)
		assert.InDelta(t, 75, got[0].Weight, 1e-9)
		assert.Equal(t, "2", got[1].Subnet)
		assert.InDelta(t, 25, got[1].Weight, 1e-9)
	})

	t.Run("overlapping subnets add up", func(t *testing.T) {
		got := BlendOwnerWeights(voted, decimal.NewFromInt(100), decimal.NewFromInt(100), model.Weights{"1": 50, "2": 50})
		require.Len(t, got, 2)
		assert.InDelta(t, 75, got[0].Weight, 1e-9)
		assert.InDelta(t, 25, got[1].Weight, 1e-9)
	})

	t.Run("no owner weights", func(t *testing.T) {
		got := BlendOwnerWeights(voted, decimal.NewFromInt(100), decimal.NewFromInt(100), nil)
		assert.Equal(t, voted, got)
	})

	t.Run("no stake", func(t *testing.T) {
		got := BlendOwnerWeights(nil, decimal.Zero, decimal.Zero, model.Weights{"2": 100})
		assert.Empty(t, got)
	})
}

func TestGetSubnetWeights_IncludeOwnerVotes(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockDelegationRepository()
	repo.SaveStake(ctx, "delegator", 300, nil)
	repo.SaveWeights(ctx, "delegator", model.Weights{"1": 100})
	repo.SaveStake(ctx, "silent", 100, nil)
	repo.SaveWeights(ctx, "owner", model.Weights{"2": 100})

	svc := NewDelegationService(repo, Options{IncludeOwnerVotes: true, OwnerAccount: "owner"})

	got, err := svc.GetSubnetWeights(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Subnet)
	assert.InDelta(t, 75, got[0].Weight, 1e-9)
	assert.Equal(t, "2", got[1].Subnet)
	assert.InDelta(t, 25, got[1].Weight, 1e-9)

	adjusted, err := svc.GetOwnerAdjustedWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), adjusted.VotedStake)
	assert.Equal(t, uint64(100), adjusted.UnvotedStake)
	assert.Equal(t, []model.SubnetWeight{{Subnet: "2", Weight: 100}}, adjusted.OwnerWeights)
	assert.Equal(t, []model.SubnetWeight{{Subnet: "1", Weight: 100}}, adjusted.Voted)
}

func TestGetOwnerAdjustedWeights_OwnerWithoutWeights(t *testing.T) {
	ctx := context.Background()
	repo := mocks.NewMockDelegationRepository()
	repo.SaveStake(ctx, "delegator", 300, nil)
	repo.SaveWeights(ctx, "delegator", model.Weights{"1": 100})
	repo.SaveStake(ctx, "silent", 100, nil)

	svc := NewDelegationService(repo, Options{IncludeOwnerVotes: true, OwnerAccount: "owner"})

	adjusted, err := svc.GetOwnerAdjustedWeights(ctx)
	require.NoError(t, err)
	assert.Empty(t, adjusted.OwnerWeights)
	assert.Equal(t, adjusted.Voted, adjusted.Blended)
}

func TestNetuidWeights(t *testing.T) {
	netuids, fractions := NetuidWeights([]model.SubnetWeight{
		{Subnet: "Subnet 18", Weight: 50},
		{Subnet: "3", Weight: 25},
		{Subnet: "Subnet 9", Weight: 25},
	})

	assert.Equal(t, []string{"3", "9", "18"}, netuids)
	assert.Equal(t, []float64{0.25, 0.25, 0.5}, fractions)
}
