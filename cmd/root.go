// Package cmd defines and implements the CLI commands for the litcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/app"
	"github.com/JakeFAU/litcrawler/internal/config"
	"github.com/JakeFAU/litcrawler/internal/logging"
)

// envKeyType is the key for storing the loaded environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env is what PersistentPreRunE prepares for subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// Runner is the part of app.App the commands use. Tests swap in a fake.
type Runner interface {
	Run(ctx context.Context, extraSeeds ...string) (app.Summary, error)
	Fetch(ctx context.Context, urls []string) (app.Summary, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "litcrawler",
		Short: "A bounded, polite crawler that extracts clean text from the web.",
		Long: `litcrawler walks outward from a set of seed URLs breadth-first, honoring
robots.txt and per-domain quotas, and writes the cleaned text of every page
it visits as JSON lines for downstream synthesis.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs before every subcommand: load config and build the logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (YAML); environment variables use the "+config.EnvPrefix+"_ prefix")
	cmd.AddCommand(newCrawlCmd(), newFetchCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("configuration not initialized")
	}
	return e, nil
}

// Execute runs the CLI with args under ctx.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return fmt.Errorf("litcrawler: %w", err)
	}
	return nil
}
