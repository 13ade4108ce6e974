package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"subnet-delegation-service/internal/model"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

type Database struct {
	db *gorm.DB
}

type DelegationRepository interface {
	SaveWeights(ctx context.Context, account string, weights model.Weights) error
	GetWeights(ctx context.Context, account string) (*model.AccountWeights, error)
	SaveStake(ctx context.Context, account string, stake uint64, txHash *string) error
	UpdateStake(ctx context.Context, account string, stake *uint64) error
	GetStake(ctx context.Context, account string) (*model.AccountStake, error)
	ListAccounts(ctx context.Context) ([]string, error)
	GetDelegations(ctx context.Context) ([]model.Delegation, error)
	GetStakeWithNoWeights(ctx context.Context) (uint64, error)
}

type options struct {
	tracing bool
}

type Option func(*options)

// WithTracing registers the OpenTelemetry gorm plugin on the connection.
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

// NewDatabase opens dsn and migrates the schema. A postgres:// or
// postgresql:// URL selects PostgreSQL; anything else is a SQLite path.
func NewDatabase(dsn string, opts ...Option) (*Database, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}

	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if isPostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// an in-memory sqlite database only exists on the connection that created it
		sqlDB.SetMaxOpenConns(1)
	}

	if o.tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("register tracing plugin: %w", err)
		}
	}

	if err := db.AutoMigrate(&model.AccountStake{}, &model.AccountWeights{}); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &Database{db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports whether the database connection is usable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SaveWeights replaces the whole weight allocation of account in one statement.
func (d *Database) SaveWeights(ctx context.Context, account string, weights model.Weights) error {
	row := model.AccountWeights{
		Account: account,
		Weights: datatypes.NewJSONType(weights),
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"weights", "updated_at"}),
	}).Create(&row).Error
}

func (d *Database) GetWeights(ctx context.Context, account string) (*model.AccountWeights, error) {
	var rows []model.AccountWeights
	if err := d.db.WithContext(ctx).Where("account = ?", account).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// SaveStake records the stake produced by an on-chain operation. A zero
// stake is stored as NULL, the same as an account the chain has no stake for.
func (d *Database) SaveStake(ctx context.Context, account string, stake uint64, txHash *string) error {
	row := model.AccountStake{
		Account: account,
		TxHash:  txHash,
	}
	if stake > 0 {
		row.Stake = &stake
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"stake", "tx_hash", "updated_at"}),
	}).Create(&row).Error
}

// UpdateStake overwrites the stake without touching the transaction hash.
// A nil or zero stake clears the recorded value.
func (d *Database) UpdateStake(ctx context.Context, account string, stake *uint64) error {
	row := model.AccountStake{Account: account}
	if stake != nil && *stake > 0 {
		row.Stake = stake
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"stake", "updated_at"}),
	}).Create(&row).Error
}

func (d *Database) GetStake(ctx context.Context, account string) (*model.AccountStake, error) {
	var rows []model.AccountStake
	if err := d.db.WithContext(ctx).Where("account = ?", account).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListAccounts returns every account known to either table, sorted.
func (d *Database) ListAccounts(ctx context.Context) ([]string, error) {
	var staked, weighted []string
	db := d.db.WithContext(ctx)
	if err := db.Model(&model.AccountStake{}).Pluck("account", &staked).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.AccountWeights{}).Pluck("account", &weighted).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(staked)+len(weighted))
	accounts := make([]string, 0, len(staked)+len(weighted))
	for _, a := range append(staked, weighted...) {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// GetDelegations joins stakes and weights by account, newest first.
func (d *Database) GetDelegations(ctx context.Context) ([]model.Delegation, error) {
	var stakes []model.AccountStake
	var weights []model.AccountWeights
	db := d.db.WithContext(ctx)
	if err := db.Find(&stakes).Error; err != nil {
		return nil, err
	}
	if err := db.Find(&weights).Error; err != nil {
		return nil, err
	}

	byAccount := make(map[string]*model.Delegation, len(stakes)+len(weights))
	for _, s := range stakes {
		byAccount[s.Account] = &model.Delegation{
			Account:   s.Account,
			Stake:     s.Stake,
			TxHash:    s.TxHash,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
	}
	for _, w := range weights {
		del, ok := byAccount[w.Account]
		if !ok {
			del = &model.Delegation{
				Account:   w.Account,
				CreatedAt: w.CreatedAt,
				UpdatedAt: w.UpdatedAt,
			}
			byAccount[w.Account] = del
		}
		del.Weights = w.Weights.Data()
		if w.CreatedAt.Before(del.CreatedAt) {
			del.CreatedAt = w.CreatedAt
		}
		if w.UpdatedAt.After(del.UpdatedAt) {
			del.UpdatedAt = w.UpdatedAt
		}
	}

	delegations := make([]model.Delegation, 0, len(byAccount))
	for _, del := range byAccount {
		delegations = append(delegations, *del)
	}
	sort.Slice(delegations, func(i, j int) bool {
		if !delegations[i].CreatedAt.Equal(delegations[j].CreatedAt) {
			return delegations[i].CreatedAt.After(delegations[j].CreatedAt)
		}
		return delegations[i].Account < delegations[j].Account
	})
	return delegations, nil
}

// GetStakeWithNoWeights sums the stake of accounts that never submitted weights.
func (d *Database) GetStakeWithNoWeights(ctx context.Context) (uint64, error) {
	var total uint64
	err := d.db.WithContext(ctx).
		Model(&model.AccountStake{}).
		Select("COALESCE(SUM(account_stakes.stake), 0)").
		Joins("LEFT JOIN account_weights ON account_weights.account = account_stakes.account").
		Where("account_weights.account IS NULL").
		Scan(&total).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}
	return total, nil
}

var _ DelegationRepository = (*Database)(nil)
