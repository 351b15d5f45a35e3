package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type fetchFlags struct {
	preset        string
	output        string
	maxConcurrent int
}

// newFetchCmd creates and configures the 'fetch' subcommand.
func newFetchCmd() *cobra.Command {
	var flags fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch url...",
		Short: "Fetch and extract a fixed list of URLs",
		Long: `Fetches every URL concurrently and writes one result per URL in input
order. Links are not followed and robots.txt is not consulted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, args, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.preset, "preset", "", "extraction rules preset (default, medical)")
	f.StringVarP(&flags.output, "output", "o", "", `results path, "-" for stdout`)
	f.IntVar(&flags.maxConcurrent, "max-concurrent", 0, "maximum fetches in flight")
	return cmd
}

func runFetch(cmd *cobra.Command, urls []string, flags fetchFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	changed := cmd.Flags().Changed
	if changed("preset") {
		cfg.Rules.Preset = flags.preset
	}
	if changed("output") {
		cfg.Output.Path = flags.output
	}
	if changed("max-concurrent") {
		cfg.Fetch.MaxConcurrent = flags.maxConcurrent
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	runner, err := newApp(cfg, e.logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil {
			e.logger.Warn("failed to close app", zap.Error(cerr))
		}
	}()

	summary, err := runner.Fetch(cmd.Context(), urls)
	e.logger.Info("fetch command finished",
		zap.Int("pages", summary.Results),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run fetch: %w", err)
	}
	return nil
}
