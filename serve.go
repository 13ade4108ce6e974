package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"subnet-delegation-service/internal/api"
	"subnet-delegation-service/internal/config"
	"subnet-delegation-service/internal/repository"
	"subnet-delegation-service/internal/service"
	"subnet-delegation-service/internal/tracing"
	"subnet-delegation-service/internal/transport"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stake refresher",
		RunE:  serveRunE,
	}
}

func serveRunE(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return errors.New("no config found in context")
	}
	logger, err := commonRun(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdown, err := tracing.Setup(ctx, tracing.Options{ServiceName: programName, Stdout: cfg.TracingStdout})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	// init the repository layer - sqlite or postgres depending on the DSN
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc := service.NewDelegationService(repo, service.Options{
		IncludeOwnerVotes: cfg.IncludeOwnerVotes,
		OwnerAccount:      cfg.Owner(),
		ValidateAccount:   transport.ValidateAddress,
	})
	price := transport.NewPythClient(cfg.PriceFeedURL, cfg.PriceFeedID, transport.WithCacheTTL(cfg.PriceCacheTTL))

	server := api.NewApiServer(svc,
		api.WithPriceFeed(price),
		api.WithHealthCheck(repo),
		api.WithCORS(cfg.CORSAllowedOrigins),
		api.WithLogger(logger),
	)

	g, gctx := errgroup.WithContext(ctx)

	// everything that can fail on configuration is built before the
	// server starts listening
	var refresher *service.StakeRefresher
	if cfg.StakeRefreshInterval > 0 {
		chain, err := newChainClient(cfg, logger)
		if err != nil {
			return err
		}
		defer chain.Close()

		refresher, err = newStakeRefresher(gctx, cfg, logger, repo, chain)
		if err != nil {
			return err
		}
	} else {
		logger.Info("stake refresher disabled")
	}

	g.Go(func() error {
		return server.Start(gctx, cfg.ListenAddr)
	})
	if refresher != nil {
		refresher.Start()
		g.Go(func() error {
			<-gctx.Done()
			refresher.Stop()
			<-refresher.Done()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func openRepository(cfg *config.Config) (*repository.Database, error) {
	var opts []repository.Option
	if cfg.Tracing {
		opts = append(opts, repository.WithTracing())
	}
	repo, err := repository.NewDatabase(cfg.DatabaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return repo, nil
}

func newChainClient(cfg *config.Config, logger *slog.Logger) (*transport.SubtensorClient, error) {
	if err := cfg.ValidateChain(); err != nil {
		return nil, err
	}
	return transport.NewSubtensorClient(transport.SubtensorConfig{
		Endpoint:  cfg.ChainEndpoint,
		Hotkey:    cfg.ValidatorAddress,
		TxTimeout: cfg.ChainTxTimeout,
		Retry:     cfg.RetryPolicy(),
		Logger:    logger,
	})
}

func newStakeRefresher(ctx context.Context, cfg *config.Config, logger *slog.Logger, repo repository.DelegationRepository, chain service.StakeFetcher) (*service.StakeRefresher, error) {
	interval := cfg.StakeRefreshInterval
	if interval <= 0 {
		interval = config.DefaultConfig().StakeRefreshInterval
	}
	return service.NewStakeRefresher(ctx, repo, chain, service.StakeRefresherConfig{
		Logger:           logger,
		Interval:         interval,
		Workers:          cfg.StakeRefreshWorkers,
		QueriesPerSecond: cfg.ChainQueriesPerSecond,
	})
}
