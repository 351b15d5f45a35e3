// Package app initializes and holds the long-lived services of a crawl run,
// acting as a dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/api"
	"github.com/JakeFAU/litcrawler/internal/config"
	"github.com/JakeFAU/litcrawler/internal/content"
	"github.com/JakeFAU/litcrawler/internal/crawler"
	"github.com/JakeFAU/litcrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/litcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/litcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/litcrawler/internal/robots"
	"github.com/JakeFAU/litcrawler/internal/rules"
	"github.com/JakeFAU/litcrawler/internal/sink"
	"github.com/JakeFAU/litcrawler/internal/storage/local"
)

// App holds the services shared by one crawl invocation.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	engine   *crawler.Engine
	pages    *fetcher.Executor
	output   *sink.JSONL
	progress *api.Progress
	server   *api.Server
}

// Summary describes a finished run.
type Summary struct {
	Results   int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// New wires the fetch stack, politeness gate, extraction pipeline and sinks
// described by cfg. It fails fast when the output cannot be opened.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	requester := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	})
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Fetch.DomainRPS, DefaultBurst: cfg.Fetch.DomainBurst})
	fetchOpts := []fetcher.Option{fetcher.WithLogger(logger)}
	if limiter.Enabled() {
		fetchOpts = append(fetchOpts, fetcher.WithLimiter(limiter))
	}

	pages := fetcher.New(fetcher.Config{
		Timeout:       cfg.Fetch.Timeout,
		MaxRedirects:  cfg.Fetch.MaxRedirects,
		MaxBytes:      cfg.Fetch.MaxBytes,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	}, requester, append(fetchOpts, fetcher.WithRetryPolicy(fetcher.NewExponentialRetryPolicy(
		cfg.Fetch.MaxRetries, cfg.Fetch.BackoffBase, cfg.Fetch.BackoffMax, cfg.Fetch.Jitter)))...)

	// robots.txt gets one attempt; the gate bounds it with its own timeout.
	robotsFetcher := fetcher.New(fetcher.Config{
		Timeout:       cfg.Robots.Timeout,
		MaxRedirects:  cfg.Fetch.MaxRedirects,
		MaxBytes:      cfg.Robots.MaxBytes,
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	}, requester, append(fetchOpts, fetcher.WithRetryPolicy(fetcher.NewExponentialRetryPolicy(1, 0, 0, false)))...)

	blobs, err := local.New(local.Config{BaseDir: cfg.Output.PayloadDir})
	if err != nil {
		return nil, fmt.Errorf("init payload store: %w", err)
	}
	output, err := sink.OpenJSONL(cfg.Output.Path, blobs, logger)
	if err != nil {
		return nil, fmt.Errorf("init output: %w", err)
	}

	progress := api.NewProgress(time.Now().UTC())
	robotsCfg := robots.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Timeout:       cfg.Robots.Timeout,
		FailOpen:      cfg.Robots.FailOpen,
		MaxCrawlDelay: cfg.Robots.MaxCrawlDelay,
	}
	engine := crawler.NewEngine(pages, content.NewProcessor(logger), rules.NewEngine(logger),
		crawler.WithLogger(logger),
		crawler.WithSink(sink.Tee{output, progress}),
		crawler.WithPermissions(func() crawler.PermissionChecker {
			return robots.NewGate(robotsCfg, robotsFetcher, logger)
		}),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		pages:    pages,
		output:   output,
		progress: progress,
		server:   api.NewServer(progress, logger),
	}, nil
}

// Engine exposes the crawl engine.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Server exposes the operational HTTP server.
func (a *App) Server() *api.Server {
	return a.server
}

// Run crawls from the configured seeds plus extraSeeds. When metrics.addr is
// set the operational server runs for the duration of the crawl.
func (a *App) Run(ctx context.Context, extraSeeds ...string) (Summary, error) {
	crawlCfg, err := a.cfg.CrawlConfig(extraSeeds...)
	if err != nil {
		return Summary{}, err
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		serveCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			stop()
			<-done
		}()
		go func() {
			defer close(done)
			a.logger.Info("operational server listening", zap.String("addr", addr))
			if err := a.server.ListenAndServe(serveCtx, addr); err != nil {
				a.logger.Error("operational server failed", zap.Error(err))
			}
		}()
	}
	a.server.SetReady(true)
	defer a.server.SetReady(false)

	start := time.Now()
	results, err := a.engine.Crawl(ctx, crawlCfg)
	summary := summarize(results, start)
	if err != nil {
		return summary, fmt.Errorf("crawl: %w", err)
	}
	return summary, nil
}

// Fetch processes urls as one batch without following links or consulting
// robots.txt. Concurrency is bounded by the page executor's permit pool.
func (a *App) Fetch(ctx context.Context, urls []string) (Summary, error) {
	if len(urls) == 0 {
		return Summary{}, crawler.ErrNoSeeds
	}
	r, err := a.cfg.ExtractionRules()
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	results := a.engine.FetchMultiple(ctx, urls, r, a.pages.MaxConcurrent())
	summary := summarize(results, start)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("fetch: %w", err)
	}
	return summary, nil
}

func summarize(results []crawler.CrawlResult, start time.Time) Summary {
	summary := Summary{Results: len(results), Elapsed: time.Since(start)}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		}
	}
	summary.Failed = summary.Results - summary.Succeeded
	return summary
}

// Close flushes the output and the logger.
func (a *App) Close() error {
	var errs []error
	if err := a.output.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close output: %w", err))
	}
	_ = a.logger.Sync() // best-effort flush
	return errors.Join(errs...)
}
