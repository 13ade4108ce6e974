package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"subnet-delegation-service/internal/model"

	"gorm.io/datatypes"
)

// MockDelegationRepository is an in-memory repository. Err fails every
// read, SaveErr fails every write.
type MockDelegationRepository struct {
	mu      sync.Mutex
	Stakes  map[string]model.AccountStake
	Weights map[string]model.AccountWeights
	Err     error
	SaveErr error
}

func NewMockDelegationRepository() *MockDelegationRepository {
	return &MockDelegationRepository{
		Stakes:  map[string]model.AccountStake{},
		Weights: map[string]model.AccountWeights{},
	}
}

func (m *MockDelegationRepository) init() {
	if m.Stakes == nil {
		m.Stakes = map[string]model.AccountStake{}
	}
	if m.Weights == nil {
		m.Weights = map[string]model.AccountWeights{}
	}
}

func (m *MockDelegationRepository) SaveWeights(ctx context.Context, account string, weights model.Weights) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.init()
	now := time.Now()
	row, ok := m.Weights[account]
	if !ok {
		row = model.AccountWeights{Account: account, CreatedAt: now}
	}
	row.Weights = datatypes.NewJSONType(weights)
	row.UpdatedAt = now
	m.Weights[account] = row
	return nil
}

func (m *MockDelegationRepository) GetWeights(ctx context.Context, account string) (*model.AccountWeights, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	row, ok := m.Weights[account]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MockDelegationRepository) SaveStake(ctx context.Context, account string, stake uint64, txHash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.init()
	now := time.Now()
	row, ok := m.Stakes[account]
	if !ok {
		row = model.AccountStake{Account: account, CreatedAt: now}
	}
	row.Stake = nil
	if stake > 0 {
		row.Stake = &stake
	}
	row.TxHash = txHash
	row.UpdatedAt = now
	m.Stakes[account] = row
	return nil
}

func (m *MockDelegationRepository) UpdateStake(ctx context.Context, account string, stake *uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.init()
	now := time.Now()
	row, ok := m.Stakes[account]
	if !ok {
		row = model.AccountStake{Account: account, CreatedAt: now}
	}
	row.Stake = nil
	if stake != nil && *stake > 0 {
		row.Stake = stake
	}
	row.UpdatedAt = now
	m.Stakes[account] = row
	return nil
}

func (m *MockDelegationRepository) GetStake(ctx context.Context, account string) (*model.AccountStake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	row, ok := m.Stakes[account]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *MockDelegationRepository) ListAccounts(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	seen := map[string]struct{}{}
	for a := range m.Stakes {
		seen[a] = struct{}{}
	}
	for a := range m.Weights {
		seen[a] = struct{}{}
	}
	accounts := make([]string, 0, len(seen))
	for a := range seen {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (m *MockDelegationRepository) GetDelegations(ctx context.Context) ([]model.Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	byAccount := map[string]*model.Delegation{}
	for a, s := range m.Stakes {
		byAccount[a] = &model.Delegation{Account: a, Stake: s.Stake, TxHash: s.TxHash, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
	}
	for a, w := range m.Weights {
		d, ok := byAccount[a]
		if !ok {
			d = &model.Delegation{Account: a, CreatedAt: w.CreatedAt, UpdatedAt: w.UpdatedAt}
			byAccount[a] = d
		}
		d.Weights = w.Weights.Data()
	}
	out := make([]model.Delegation, 0, len(byAccount))
	for _, d := range byAccount {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (m *MockDelegationRepository) GetStakeWithNoWeights(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var total uint64
	for a, s := range m.Stakes {
		if _, ok := m.Weights[a]; ok || s.Stake == nil {
			continue
		}
		total += *s.Stake
	}
	return total, nil
}
