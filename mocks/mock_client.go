package mocks

import (
	"context"
	"sync"

	"subnet-delegation-service/internal/model"
)

// MockChainClient answers queries from Stakes and Balance. Err fails
// queries, TxErr fails transactions. Successful transactions move Stakes.
type MockChainClient struct {
	mu      sync.Mutex
	Stakes  map[string]*uint64
	Balance model.Balance
	Err     error
	TxHash  string
	TxErr   error
	TxCalls int
	Added   []uint64
	Removed []uint64
}

func (m *MockChainClient) FetchBalance(ctx context.Context, address string) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Balance{}, m.Err
	}
	return m.Balance, nil
}

func (m *MockChainClient) FetchStake(ctx context.Context, coldkey string) (*uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Stakes[coldkey], nil
}

func (m *MockChainClient) tx() (string, error) {
	m.TxCalls++
	if m.TxErr != nil {
		return "", m.TxErr
	}
	return m.TxHash, nil
}

func (m *MockChainClient) AddStake(ctx context.Context, address string, amount uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, err := m.tx()
	if err == nil {
		m.Added = append(m.Added, amount)
		m.move(address, int64(amount))
	}
	return hash, err
}

func (m *MockChainClient) RemoveStake(ctx context.Context, address string, amount uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, err := m.tx()
	if err == nil {
		m.Removed = append(m.Removed, amount)
		m.move(address, -int64(amount))
	}
	return hash, err
}

func (m *MockChainClient) move(address string, delta int64) {
	if m.Stakes == nil {
		m.Stakes = map[string]*uint64{}
	}
	var current int64
	if s := m.Stakes[address]; s != nil {
		current = int64(*s)
	}
	next := current + delta
	if next <= 0 {
		delete(m.Stakes, address)
		return
	}
	v := uint64(next)
	m.Stakes[address] = &v
}

type MockPriceFeed struct {
	Price float64
	Err   error
	Calls int
}

func (m *MockPriceFeed) FetchPrice(ctx context.Context) (float64, error) {
	m.Calls++
	return m.Price, m.Err
}
