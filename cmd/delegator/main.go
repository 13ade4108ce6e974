package main

import (
	"errors"
	"fmt"
	"os"

	"subnet-delegation-service/internal/config"
	"subnet-delegation-service/internal/middleware"
	"subnet-delegation-service/internal/session"
	"subnet-delegation-service/internal/transport"

	"github.com/spf13/cobra"
)

const programName = "delegator"

var (
	globalFlags = struct {
		debug   bool
		account string
	}{}
	configFile string
)

// newApp wires the chain client, the API client and a session connected to
// --account or, failing that, the signing key's address.
func newApp(cmd *cobra.Command, cfg *config.Config) (*app, func(), error) {
	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	logger, err := middleware.NewLogger(os.Stderr, "text", level)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.ValidateChain(); err != nil {
		return nil, nil, err
	}
	var opts []transport.SubtensorOption
	if cfg.DelegatorSeed != "" {
		opts = append(opts, transport.WithSigner(cfg.DelegatorSeed))
	}
	chain, err := transport.NewSubtensorClient(transport.SubtensorConfig{
		Endpoint:  cfg.ChainEndpoint,
		Hotkey:    cfg.ValidatorAddress,
		TxTimeout: cfg.ChainTxTimeout,
		Retry:     cfg.RetryPolicy(),
		Logger:    logger,
	}, opts...)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New(chain)
	account := globalFlags.account
	if account == "" {
		account = chain.SignerAddress()
	}
	if account != "" {
		if err := sess.Connect(account); err != nil {
			chain.Close()
			return nil, nil, err
		}
	}

	a := &app{
		sess:   sess,
		chain:  chain,
		api:    transport.NewDelegationClient(cfg.APIURL),
		out:    cmd.OutOrStdout(),
		logger: logger,
	}
	return a, chain.Close, nil
}

func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if cfg == nil {
			return errors.New("no config found in context")
		}
		a, closeFn, err := newApp(cmd, cfg)
		if err != nil {
			return err
		}
		defer closeFn()
		if _, err := a.sess.Account(); err != nil && cmd.Annotations["account"] == "required" {
			return errNoAccount
		}
		return fn(cmd, a, args)
	}
}

var requiresAccount = map[string]string{"account": "required"}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Stake to the validator and allocate subnet weights",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVarP(&globalFlags.account, "account", "a", "", "account to act for (defaults to the DELEGATOR_SEED address)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:         "balance",
			Short:       "Show available and staked TAO",
			Annotations: requiresAccount,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return a.balance(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "price",
			Short: "Show the TAO/USD price",
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return a.price(cmd.Context())
			}),
		},
		stakeCommand(),
		weightsCommand(),
		&cobra.Command{
			Use:   "subnets",
			Short: "Show the stake-weighted allocation across subnets",
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return a.subnets(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "delegates",
			Short: "List every delegator's stake and weights",
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return a.delegates(cmd.Context())
			}),
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func stakeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stake",
		Short: "Add or remove stake to the validator",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "add <amount>",
			Short:       "Stake TAO to the validator",
			Args:        cobra.ExactArgs(1),
			Annotations: requiresAccount,
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				return a.stake(cmd.Context(), stakeAdd, args[0])
			}),
		},
		&cobra.Command{
			Use:         "remove <amount>",
			Short:       "Unstake TAO from the validator",
			Args:        cobra.ExactArgs(1),
			Annotations: requiresAccount,
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				return a.stake(cmd.Context(), stakeRemove, args[0])
			}),
		},
	)
	return cmd
}

func weightsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Submit or show subnet weights",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "submit <subnet=weight>...",
			Short:       "Replace your weights, e.g. `weights submit 1=60 2=40`",
			Args:        cobra.MinimumNArgs(1),
			Annotations: requiresAccount,
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				return a.submitWeights(cmd.Context(), args)
			}),
		},
		&cobra.Command{
			Use:   "show [account]",
			Short: "Show the weights of an account",
			Args:  cobra.MaximumNArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				var account string
				if len(args) == 1 {
					account = args[0]
				}
				return a.showWeights(cmd.Context(), account)
			}),
		},
	)
	return cmd
}
