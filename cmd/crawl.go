package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type crawlFlags struct {
	depth    int
	maxPages int
	preset   string
	output   string
	noRobots bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl [seed...]",
		Short: "Crawl from the given and configured seeds",
		Long: `Runs one bounded crawl session. Positional seeds are added to
crawler.seeds from the configuration. Flags override the configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, flags)
		},
	}
	f := cmd.Flags()
	f.IntVar(&flags.depth, "depth", 0, "maximum link depth from a seed")
	f.IntVar(&flags.maxPages, "max-pages", 0, "maximum number of results")
	f.StringVar(&flags.preset, "preset", "", "extraction rules preset (default, medical)")
	f.StringVarP(&flags.output, "output", "o", "", `results path, "-" for stdout`)
	f.BoolVar(&flags.noRobots, "no-robots", false, "ignore robots.txt")
	return cmd
}

func runCrawl(cmd *cobra.Command, seeds []string, flags crawlFlags) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	changed := cmd.Flags().Changed
	if changed("depth") {
		cfg.Crawler.MaxDepth = flags.depth
	}
	if changed("max-pages") {
		cfg.Crawler.MaxPages = flags.maxPages
	}
	if changed("preset") {
		cfg.Rules.Preset = flags.preset
	}
	if changed("output") {
		cfg.Output.Path = flags.output
	}
	if flags.noRobots {
		cfg.Crawler.RespectRobots = false
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

	summary, err := runner.Run(cmd.Context(), seeds...)
	e.logger.Info("crawl command finished",
		zap.Int("pages", summary.Results),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}
