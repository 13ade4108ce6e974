package model

import (
	"sort"
	"time"

	"gorm.io/datatypes"
)

// AccountStake mirrors the stake an account has delegated to the validator.
// The chain is authoritative; this row only caches the last known value.
type AccountStake struct {
	Account   string  `gorm:"primaryKey;size:256"`
	Stake     *uint64 // rao, nil means no recorded stake
	TxHash    *string `gorm:"size:66"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AccountStake) TableName() string { return "account_stakes" }

// AccountWeights holds the latest full weight allocation submitted by an account.
type AccountWeights struct {
	Account   string                      `gorm:"primaryKey;size:256"`
	Weights   datatypes.JSONType[Weights] `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (AccountWeights) TableName() string { return "account_weights" }

// Weights maps a subnet identifier to a percentage between 0 and 100.
type Weights map[string]float64

type SubnetWeight struct {
	Subnet string  `json:"subnet"`
	Weight float64 `json:"weight"`
}

// List returns the weights ordered by subnet.
func (w Weights) List() []SubnetWeight {
	out := make([]SubnetWeight, 0, len(w))
	for subnet, weight := range w {
		out = append(out, SubnetWeight{Subnet: subnet, Weight: weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subnet < out[j].Subnet })
	return out
}

// Delegation is the joined view of an account's stake and weights.
type Delegation struct {
	Account   string
	Stake     *uint64
	Weights   Weights
	TxHash    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Balance struct {
	Available uint64
	Staked    uint64
}

// OwnerAdjustedWeights describes the delegator aggregate and the result of
// spreading the unvoted stake over the owner's own allocation.
type OwnerAdjustedWeights struct {
	Voted        []SubnetWeight
	VotedStake   uint64
	UnvotedStake uint64
	OwnerWeights []SubnetWeight
	Blended      []SubnetWeight
}
