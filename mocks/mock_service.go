package mocks

import (
	"context"

	"subnet-delegation-service/internal/model"
)

type MockWeightService struct {
	SubnetWeights   []model.SubnetWeight
	DelegateWeights []model.SubnetWeight
	UnvotedStake    uint64
	Stake           *uint64
	Delegations     []model.Delegation
	OwnerAdjusted   *model.OwnerAdjustedWeights
	Err             error

	SubmittedAccount string
	SubmittedWeights []model.SubnetWeight
	RecordedAccount  string
	RecordedStake    uint64
	RecordedTxHash   *string
}

func (m *MockWeightService) SubmitWeights(ctx context.Context, account string, weights []model.SubnetWeight) error {
	m.SubmittedAccount = account
	m.SubmittedWeights = weights
	return m.Err
}

func (m *MockWeightService) GetSubnetWeights(ctx context.Context) ([]model.SubnetWeight, error) {
	return m.SubnetWeights, m.Err
}

func (m *MockWeightService) GetStakeWithNoWeights(ctx context.Context) (uint64, error) {
	return m.UnvotedStake, m.Err
}

func (m *MockWeightService) GetDelegateSubnetWeights(ctx context.Context, account string) ([]model.SubnetWeight, error) {
	return m.DelegateWeights, m.Err
}

func (m *MockWeightService) RecordStake(ctx context.Context, account string, stake uint64, txHash *string) error {
	m.RecordedAccount = account
	m.RecordedStake = stake
	m.RecordedTxHash = txHash
	return m.Err
}

func (m *MockWeightService) GetDelegateStake(ctx context.Context, account string) (*uint64, error) {
	return m.Stake, m.Err
}

func (m *MockWeightService) GetAllDelegateWeightsAndStakes(ctx context.Context) ([]model.Delegation, error) {
	return m.Delegations, m.Err
}

func (m *MockWeightService) GetOwnerAdjustedWeights(ctx context.Context) (*model.OwnerAdjustedWeights, error) {
	return m.OwnerAdjusted, m.Err
}
