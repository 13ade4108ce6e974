package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/repository"

	"github.com/shopspring/decimal"
)

const TotalWeight = 100

type WeightService interface {
	SubmitWeights(ctx context.Context, account string, weights []model.SubnetWeight) error
	GetSubnetWeights(ctx context.Context) ([]model.SubnetWeight, error)
	GetStakeWithNoWeights(ctx context.Context) (uint64, error)
	GetDelegateSubnetWeights(ctx context.Context, account string) ([]model.SubnetWeight, error)
	RecordStake(ctx context.Context, account string, stake uint64, txHash *string) error
	GetDelegateStake(ctx context.Context, account string) (*uint64, error)
	GetAllDelegateWeightsAndStakes(ctx context.Context) ([]model.Delegation, error)
	GetOwnerAdjustedWeights(ctx context.Context) (*model.OwnerAdjustedWeights, error)
}

// ValidationError is returned for requests rejected before any write.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

type Options struct {
	// IncludeOwnerVotes blends the owner's weights into stake that has no
	// weights when answering GetSubnetWeights.
	IncludeOwnerVotes bool
	OwnerAccount      string
	// ValidateAccount, when set, rejects account ids before any write.
	ValidateAccount func(account string) error
}

type DelegationService struct {
	repo repository.DelegationRepository
	opts Options
}

func NewDelegationService(repo repository.DelegationRepository, opts Options) WeightService {
	return &DelegationService{
		repo: repo,
		opts: opts,
	}
}

func (s *DelegationService) SubmitWeights(ctx context.Context, account string, weights []model.SubnetWeight) error {
	parsed, err := ValidateWeights(account, weights)
	if err != nil {
		return err
	}
	if err := s.checkAccount(account); err != nil {
		return err
	}
	if err := s.repo.SaveWeights(ctx, account, parsed); err != nil {
		return fmt.Errorf("save weights for %s: %w", account, err)
	}
	return nil
}

// ValidateWeights checks a full allocation and returns it as a map. The sum
// is computed in decimal so that e.g. 33.3+33.3+33.4 is exactly 100.
func ValidateWeights(account string, weights []model.SubnetWeight) (model.Weights, error) {
	if strings.TrimSpace(account) == "" {
		return nil, &ValidationError{Reason: "account is required"}
	}
	if len(weights) == 0 {
		return nil, &ValidationError{Reason: "at least one subnet weight is required"}
	}

	out := make(model.Weights, len(weights))
	sum := decimal.Zero
	for _, w := range weights {
		subnet := strings.TrimSpace(w.Subnet)
		if subnet == "" {
			return nil, &ValidationError{Reason: "subnet is required"}
		}
		if _, dup := out[subnet]; dup {
			return nil, &ValidationError{Reason: fmt.Sprintf("subnet %s listed more than once", subnet)}
		}
		if math.IsNaN(w.Weight) || math.IsInf(w.Weight, 0) || w.Weight < 0 || w.Weight > TotalWeight {
			return nil, &ValidationError{Reason: fmt.Sprintf("weight for subnet %s must be between 0 and %d", subnet, TotalWeight)}
		}
		out[subnet] = w.Weight
		sum = sum.Add(decimal.NewFromFloat(w.Weight))
	}
	if !sum.Equal(decimal.NewFromInt(TotalWeight)) {
		return nil, &ValidationError{Reason: fmt.Sprintf("total weight must be %d, got %s", TotalWeight, sum.String())}
	}
	return out, nil
}

func (s *DelegationService) GetSubnetWeights(ctx context.Context) ([]model.SubnetWeight, error) {
	if s.opts.IncludeOwnerVotes {
		adjusted, err := s.GetOwnerAdjustedWeights(ctx)
		if err != nil {
			return nil, err
		}
		return adjusted.Blended, nil
	}

	delegations, err := s.repo.GetDelegations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delegations: %w", err)
	}
	weights, _ := AggregateWeights(delegations)
	return weights, nil
}

// AggregateWeights computes the stake-weighted mean allocation per subnet
// over delegators that have both a stake and weights. The denominator is
// the total stake of all such delegators, so a delegator that left a
// subnet out counts as 0 for it. It also returns that total stake.
func AggregateWeights(delegations []model.Delegation) ([]model.SubnetWeight, decimal.Decimal) {
	numerators := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, d := range delegations {
		if d.Stake == nil || d.Weights == nil {
			continue
		}
		stake := model.RaoDecimal(*d.Stake)
		total = total.Add(stake)
		for subnet, weight := range d.Weights {
			numerators[subnet] = numerators[subnet].Add(decimal.NewFromFloat(weight).Mul(stake))
		}
	}

	out := make([]model.SubnetWeight, 0, len(numerators))
	if total.IsZero() {
		return out, total
	}
	for subnet, num := range numerators {
		out = append(out, model.SubnetWeight{
			Subnet: subnet,
			Weight: num.Div(total).InexactFloat64(),
		})
	}
	sortByWeight(out)
	return out, total
}

func sortByWeight(weights []model.SubnetWeight) {
	sort.Slice(weights, func(i, j int) bool {
		if weights[i].Weight != weights[j].Weight {
			return weights[i].Weight > weights[j].Weight
		}
		return weights[i].Subnet < weights[j].Subnet
	})
}

func (s *DelegationService) GetStakeWithNoWeights(ctx context.Context) (uint64, error) {
	total, err := s.repo.GetStakeWithNoWeights(ctx)
	if err != nil {
		return 0, fmt.Errorf("sum stake without weights: %w", err)
	}
	return total, nil
}

func (s *DelegationService) GetDelegateSubnetWeights(ctx context.Context, account string) ([]model.SubnetWeight, error) {
	row, err := s.repo.GetWeights(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load weights for %s: %w", account, err)
	}
	if row == nil {
		return []model.SubnetWeight{}, nil
	}
	return row.Weights.Data().List(), nil
}

func (s *DelegationService) RecordStake(ctx context.Context, account string, stake uint64, txHash *string) error {
	if strings.TrimSpace(account) == "" {
		return &ValidationError{Reason: "account is required"}
	}
	if err := s.checkAccount(account); err != nil {
		return err
	}
	if txHash != nil && strings.TrimSpace(*txHash) == "" {
		txHash = nil
	}
	if err := s.repo.SaveStake(ctx, account, stake, txHash); err != nil {
		return fmt.Errorf("save stake for %s: %w", account, err)
	}
	return nil
}

func (s *DelegationService) checkAccount(account string) error {
	if s.opts.ValidateAccount == nil {
		return nil
	}
	if err := s.opts.ValidateAccount(account); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("invalid account: %v", err)}
	}
	return nil
}

func (s *DelegationService) GetDelegateStake(ctx context.Context, account string) (*uint64, error) {
	row, err := s.repo.GetStake(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load stake for %s: %w", account, err)
	}
	if row == nil {
		return nil, nil
	}
	return row.Stake, nil
}

func (s *DelegationService) GetAllDelegateWeightsAndStakes(ctx context.Context) ([]model.Delegation, error) {
	delegations, err := s.repo.GetDelegations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delegations: %w", err)
	}
	return delegations, nil
}
