package main

import (
	"fmt"
	"log/slog"
	"os"

	"subnet-delegation-service/internal/config"
	"subnet-delegation-service/internal/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "subnet-delegation"

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

func commonRun(cfg *config.Config) (*slog.Logger, error) {
	level := cfg.LogLevel
	if globalFlags.debug {
		level = "debug"
	}
	logger, err := middleware.NewLogger(os.Stdout, cfg.LogFormat, level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	middleware.Logger = logger

	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		return nil, fmt.Errorf("set GOMAXPROCS: %w", err)
	}
	return logger, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Subnet weight allocation and stake mirroring service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveRunE,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(refreshStakesCommand())
	rootCmd.AddCommand(ownerWeightsCommand())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("❌❌❌ "+err.Error(), "component", programName)
		os.Exit(1)
	}
}
