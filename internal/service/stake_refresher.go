package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"subnet-delegation-service/internal/metrics"
	"subnet-delegation-service/internal/repository"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// StakeFetcher reads the stake a coldkey has delegated to the validator.
// A nil stake means the chain has no stake for that pair.
type StakeFetcher interface {
	FetchStake(ctx context.Context, coldkey string) (*uint64, error)
}

type StakeRefresherConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Interval time.Duration
	// Workers bounds the number of concurrent chain queries.
	Workers int
	// QueriesPerSecond throttles chain queries; zero disables throttling.
	QueriesPerSecond float64
}

func (cfg *StakeRefresherConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueriesPerSecond < 0 {
		return errors.New("queries per second must not be negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// StakeRefresher periodically mirrors every known account's on-chain stake
// into the repository.
type StakeRefresher struct {
	ctx     context.Context
	cancel  context.CancelFunc
	repo    repository.DelegationRepository
	chain   StakeFetcher
	cfg     StakeRefresherConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	started atomic.Bool
	done    chan struct{}
}

func NewStakeRefresher(ctx context.Context, repo repository.DelegationRepository, chain StakeFetcher, cfg StakeRefresherConfig) (*StakeRefresher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.QueriesPerSecond > 0 {
		limit = rate.Limit(cfg.QueriesPerSecond)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &StakeRefresher{
		ctx:     ctx,
		cancel:  cancel,
		repo:    repo,
		chain:   chain,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
		done:    make(chan struct{}),
	}, nil
}

func (r *StakeRefresher) Stop() {
	r.cancel()
}

// Done is closed once the refresh loop has exited.
func (r *StakeRefresher) Done() <-chan struct{} {
	return r.done
}

func (r *StakeRefresher) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.done)
		r.logger.Info("stake refresher: starting", "interval", r.cfg.Interval)

		r.safeRefresh()

		ticker := r.cfg.Clock.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				r.logger.Info("stake refresher: stopped")
				return
			case <-ticker.Chan():
				r.safeRefresh()
			}
		}
	}()
}

func (r *StakeRefresher) safeRefresh() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("stake refresher: refresh panicked", "panic", rec)
		}
	}()

	if _, err := r.Refresh(r.ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Error("stake refresher: refresh failed", "error", err)
	}
}

// Refresh runs one pass over all accounts and returns how many were updated.
// A failure for one account is logged and does not stop the others.
func (r *StakeRefresher) Refresh(ctx context.Context) (int, error) {
	start := r.cfg.Clock.Now()

	accounts, err := r.repo.ListAccounts(ctx)
	if err != nil {
		metrics.RecordStakeRefresh(r.cfg.Clock.Since(start), 0, err)
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	r.logger.Debug("stake refresher: processing accounts", "count", len(accounts))

	var updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, account := range accounts {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			stake, err := r.chain.FetchStake(gctx, account)
			if err != nil {
				r.logger.Warn("stake refresher: failed to fetch stake", "account", account, "error", err)
				return nil
			}
			if stake == nil {
				r.logger.Debug("stake refresher: no stake to validator, clearing", "account", account)
			}
			if err := r.repo.UpdateStake(gctx, account, stake); err != nil {
				r.logger.Warn("stake refresher: failed to update stake", "account", account, "error", err)
				return nil
			}
			updated.Add(1)
			return nil
		})
	}
	err = g.Wait()

	metrics.RecordStakeRefresh(r.cfg.Clock.Since(start), len(accounts), err)
	if err != nil {
		return int(updated.Load()), err
	}
	r.logger.Info("stake refresher: refresh completed", "accounts", len(accounts), "updated", updated.Load())
	return int(updated.Load()), nil
}
