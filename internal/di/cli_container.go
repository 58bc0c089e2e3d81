package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-ledger/internal/config"
	"github.com/mikey/phish-ledger/internal/logging"
)

// CLIOptions contains the global flags of the command line tool
type CLIOptions struct {
	ConfigFile string
	Verbose    bool
	JSONLog    bool
}

// BuildCLIContainer creates a dependency injection container for the command line tool.
// Components are built lazily, so commands that only read the ledger never create a detector.
func BuildCLIContainer(opts CLIOptions) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() CLIOptions { return opts }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(opts CLIOptions) (*zap.Logger, error) {
		return logging.InitConsoleLogger(opts.Verbose, opts.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(opts CLIOptions, logger *zap.Logger) (*config.Config, error) {
		cfg, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if used := cfg.GetViper().ConfigFileUsed(); used != "" {
			logger.Debug("Loaded configuration from file", zap.String("file", used))
		}
		return cfg, nil
	}); err != nil {
		return nil, err
	}

	if err := provideLedger(container); err != nil {
		return nil, err
	}
	return container, nil
}
