package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"subnet-delegation-service/internal/model"

	"github.com/shopspring/decimal"
)

func (s *DelegationService) GetOwnerAdjustedWeights(ctx context.Context) (*model.OwnerAdjustedWeights, error) {
	delegations, err := s.repo.GetDelegations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delegations: %w", err)
	}
	unvoted, err := s.repo.GetStakeWithNoWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("sum stake without weights: %w", err)
	}

	var owner model.Weights
	if s.opts.OwnerAccount != "" {
		row, err := s.repo.GetWeights(ctx, s.opts.OwnerAccount)
		if err != nil {
			return nil, fmt.Errorf("load owner weights: %w", err)
		}
		if row != nil {
			owner = row.Weights.Data()
		}
	}

	voted, votedStake := AggregateWeights(delegations)
	out := &model.OwnerAdjustedWeights{
		Voted:        voted,
		VotedStake:   votedStake.BigInt().Uint64(),
		UnvotedStake: unvoted,
		OwnerWeights: owner.List(),
		Blended:      BlendOwnerWeights(voted, votedStake, model.RaoDecimal(unvoted), owner),
	}
	return out, nil
}

// BlendOwnerWeights returns voted(s)*V/(V+U) + owner(s)*U/(V+U). Without
// owner weights, or with no stake at all, the voted weights are returned.
func BlendOwnerWeights(voted []model.SubnetWeight, votedStake, unvotedStake decimal.Decimal, owner model.Weights) []model.SubnetWeight {
	total := votedStake.Add(unvotedStake)
	if len(owner) == 0 || total.IsZero() {
		return voted
	}

	votedShare := votedStake.Div(total)
	ownerShare := unvotedStake.Div(total)

	blended := make(map[string]decimal.Decimal, len(voted)+len(owner))
	for _, w := range voted {
		blended[w.Subnet] = blended[w.Subnet].Add(decimal.NewFromFloat(w.Weight).Mul(votedShare))
	}
	for subnet, weight := range owner {
		blended[subnet] = blended[subnet].Add(decimal.NewFromFloat(weight).Mul(ownerShare))
	}

	out := make([]model.SubnetWeight, 0, len(blended))
	for subnet, weight := range blended {
		out = append(out, model.SubnetWeight{Subnet: subnet, Weight: weight.InexactFloat64()})
	}
	sortByWeight(out)
	return out
}

// NetuidWeights converts percentages into fractions ordered by netuid, the
// form validators pass to the chain when setting weights. A "Subnet "
// prefix on identifiers is dropped.
func NetuidWeights(weights []model.SubnetWeight) (netuids []string, fractions []float64) {
	sorted := make([]model.SubnetWeight, len(weights))
	copy(sorted, weights)
	for i := range sorted {
		sorted[i].Subnet = strings.TrimPrefix(sorted[i].Subnet, "Subnet ")
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, errA := strconv.Atoi(sorted[i].Subnet)
		b, errB := strconv.Atoi(sorted[j].Subnet)
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return sorted[i].Subnet < sorted[j].Subnet
	})

	for _, w := range sorted {
		netuids = append(netuids, w.Subnet)
		fractions = append(fractions, w.Weight/TotalWeight)
	}
	return netuids, fractions
}
