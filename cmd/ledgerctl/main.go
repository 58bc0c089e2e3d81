package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/adapters/store"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/di"
)

type globalFlags struct {
	configFile string
	output     string
	verbose    bool
	jsonLog    bool
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Inspect and maintain the phishing findings ledger",
		Long: `ledgerctl records messages in the phishing ledger and lets operators
browse, correct and prune flagged emails, their findings and the
per-phrase statistics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch flags.output {
			case outputText, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unsupported output format %q (text, json, yaml)", flags.output)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonLog, "json-log", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newIngestCmd(flags),
		newEmailsCmd(flags),
		newFindingsCmd(flags),
		newStatsCmd(flags),
		newPhraseCmd(flags),
		newReportCmd(flags),
		newCleanupCmd(flags),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// ledgerDeps are the components a command may use
type ledgerDeps struct {
	dig.In

	Logger  *zap.Logger
	Store   *store.SQLStore
	Service *core.LedgerService
	Cache   *di.CacheHandle
	Events  *di.EventsHandle
}

// withLedger builds the container, runs fn against the ledger and releases every resource
func withLedger(flags *globalFlags, fn func(container *dig.Container, d ledgerDeps) error) error {
	container, err := di.BuildCLIContainer(di.CLIOptions{
		ConfigFile: flags.configFile,
		Verbose:    flags.verbose,
		JSONLog:    flags.jsonLog,
	})
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}

	return container.Invoke(func(d ledgerDeps) error {
		defer d.Logger.Sync()
		defer func() {
			d.Cache.Stop()
			d.Events.Close()
			if err := d.Store.Close(); err != nil {
				d.Logger.Warn("Failed to close store", zap.Error(err))
			}
		}()
		return fn(container, d)
	})
}
