package main

import (
	"errors"
	"fmt"
	"strings"

	"subnet-delegation-service/internal/config"
	"subnet-delegation-service/internal/model"
	"subnet-delegation-service/internal/service"

	"github.com/spf13/cobra"
)

func refreshStakesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-stakes",
		Short: "Mirror every known account's on-chain stake once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			logger, err := commonRun(cfg)
			if err != nil {
				return err
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			chain, err := newChainClient(cfg, logger)
			if err != nil {
				return err
			}
			defer chain.Close()

			refresher, err := newStakeRefresher(cmd.Context(), cfg, logger, repo, chain)
			if err != nil {
				return err
			}
			defer refresher.Stop()

			updated, err := refresher.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %d account(s)\n", updated)
			return nil
		},
	}
}

func ownerWeightsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "owner-weights",
		Short: "Print subnet weights with unvoted stake assigned to the owner's allocation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			if _, err := commonRun(cfg); err != nil {
				return err
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			svc := service.NewDelegationService(repo, service.Options{
				IncludeOwnerVotes: true,
				OwnerAccount:      cfg.Owner(),
			})
			adjusted, err := svc.GetOwnerAdjustedWeights(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "voted stake:   %s TAO\n", model.FormatTao(adjusted.VotedStake))
			fmt.Fprintf(out, "unvoted stake: %s TAO\n", model.FormatTao(adjusted.UnvotedStake))
			if len(adjusted.OwnerWeights) == 0 {
				fmt.Fprintf(out, "owner %s has no weights, unvoted stake is not reassigned\n", cfg.Owner())
			}

			netuids, fractions := service.NetuidWeights(adjusted.Blended)
			parts := make([]string, len(fractions))
			for i, f := range fractions {
				parts[i] = fmt.Sprintf("%.6f", f)
			}
			fmt.Fprintf(out, "netuids: [%s]\n", strings.Join(netuids, ", "))
			fmt.Fprintf(out, "weights: [%s]\n", strings.Join(parts, ", "))
			return nil
		},
	}
}
