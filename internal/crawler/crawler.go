package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/content"
	"github.com/JakeFAU/litcrawler/internal/fetcher"
	"github.com/JakeFAU/litcrawler/internal/metrics"
	"github.com/JakeFAU/litcrawler/internal/rules"
	"github.com/JakeFAU/litcrawler/internal/urlcanon"
)

// Result statuses reported to metrics.
const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Engine runs crawl sessions. An Engine holds no per-session state and may
// run several sessions, but each Crawl call is sequential.
type Engine struct {
	fetcher     Fetcher
	processor   ContentProcessor
	rules       RuleApplier
	permissions func() PermissionChecker
	sink        ResultSink
	pauser      pauseController
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPermissions sets the factory for the per-session politeness gate.
// Without it every URL is permitted.
func WithPermissions(factory func() PermissionChecker) Option {
	return func(e *Engine) {
		if factory != nil {
			e.permissions = factory
		}
	}
}

// WithSink streams every emitted result to s. Sink failures are logged and
// never abort the crawl.
func WithSink(s ResultSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(f Fetcher, p ContentProcessor, r RuleApplier, opts ...Option) *Engine {
	e := &Engine{
		fetcher:     f,
		processor:   p,
		rules:       r,
		permissions: func() PermissionChecker { return allowAll{} },
		pauser:      &timerPauseController{},
		logger:      zap.NewNop(),
		now:         time.Now,
		newID:       newSessionID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Crawl runs one breadth-first session from cfg.Seeds and returns the
// results in emission order. Page failures become failed results; only an
// invalid config or a canceled context produce an error, in which case the
// results gathered so far are returned alongside it.
func (e *Engine) Crawl(ctx context.Context, cfg Config) ([]CrawlResult, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessionID := e.newID()
	logger := e.logger.With(zap.String("session_id", sessionID))
	gate := PermissionChecker(allowAll{})
	if cfg.RespectPoliteness {
		gate = e.permissions()
	}

	frontier := NewFrontier(cfg.MaxQueueSize)
	for _, seed := range cfg.Seeds {
		if !frontier.Enqueue(seed, 0) {
			logger.Warn("seed rejected", zap.String("url", seed))
		}
	}
	logger.Info("crawl started",
		zap.Int("seeds", frontier.Len()),
		zap.Int("max_depth", cfg.MaxDepth),
		zap.Int("max_pages", cfg.MaxPages),
		zap.Bool("respect_robots", cfg.RespectPoliteness))

	start := e.now()
	results := make([]CrawlResult, 0, min(cfg.MaxPages, 64))
	skipped := 0
	skip := func(target CrawlTarget, reason string) {
		skipped++
		metrics.ObserveSkip(reason)
		logger.Debug("skipping url", zap.String("url", target.URL), zap.String("reason", reason))
	}

	for len(results) < cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("crawl canceled: %w", err)
		}
		target, ok := frontier.Dequeue()
		if !ok {
			break
		}
		if frontier.Visited(target.URL) {
			skip(target, SkipDuplicate)
			continue
		}
		if target.Depth > cfg.MaxDepth {
			skip(target, SkipDepth)
			continue
		}
		if frontier.DomainCount(urlcanon.Domain(target.URL)) >= cfg.MaxPerDomain {
			skip(target, SkipQuota)
			continue
		}
		if !gate.CanFetch(ctx, target.URL) {
			frontier.MarkVisited(target.URL)
			skip(target, SkipRobots)
			continue
		}

		result := e.processTarget(ctx, target, cfg.Rules, sessionID)
		if ctx.Err() != nil {
			return results, fmt.Errorf("crawl canceled: %w", ctx.Err())
		}
		frontier.MarkVisited(target.URL)
		if result.URL != target.URL {
			if frontier.Visited(result.URL) {
				skip(CrawlTarget{URL: result.URL, Depth: target.Depth}, SkipDuplicate)
				continue
			}
			frontier.MarkVisited(result.URL)
			// A redirect can land on another domain or on a disallowed path.
			if frontier.DomainCount(result.Metadata.Domain) >= cfg.MaxPerDomain {
				skip(CrawlTarget{URL: result.URL, Depth: target.Depth}, SkipQuota)
				continue
			}
			if !gate.CanFetch(ctx, result.URL) {
				skip(CrawlTarget{URL: result.URL, Depth: target.Depth}, SkipRobots)
				continue
			}
		}

		results = append(results, result)
		e.emit(ctx, logger, result)
		if result.Success {
			frontier.RecordSuccess(result.Metadata.Domain)
		}
		if target.Depth < cfg.MaxDepth {
			for _, link := range result.LinksFound {
				frontier.Enqueue(link, target.Depth+1)
			}
		}

		if len(results) < cfg.MaxPages && frontier.Len() > 0 {
			delay := cfg.Delay
			if cd := gate.CrawlDelay(result.URL); cd > delay {
				delay = cd
			}
			e.pauser.Pause(ctx, delay)
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	logger.Info("crawl finished",
		zap.Int("results", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int("skipped", skipped),
		zap.Int("pending", frontier.Len()),
		zap.Duration("elapsed", e.now().Sub(start)))
	return results, nil
}

func (e *Engine) emit(ctx context.Context, logger *zap.Logger, result CrawlResult) {
	status := statusSuccess
	if !result.Success {
		status = statusFailure
		logger.Warn("page failed",
			zap.String("url", result.URL),
			zap.Int("depth", result.Depth),
			zap.String("error", result.Error))
	} else {
		logger.Debug("page processed",
			zap.String("url", result.URL),
			zap.Int("depth", result.Depth),
			zap.Int("links", len(result.LinksFound)))
	}
	metrics.ObserveCrawl(result.URL, status, result.Metadata.ContentLength)

	if e.sink == nil {
		return
	}
	if err := e.sink.Write(ctx, result); err != nil {
		logger.Error("sink write failed", zap.String("url", result.URL), zap.Error(err))
	}
}

// processTarget fetches and extracts one URL. It never fails; problems are
// recorded on the returned result. The result URL is the canonical final
// URL after redirects.
func (e *Engine) processTarget(ctx context.Context, target CrawlTarget, r rules.Rules, sessionID string) CrawlResult {
	result := CrawlResult{
		URL:        target.URL,
		Depth:      target.Depth,
		LinksFound: []string{},
		Metadata: Metadata{
			SessionID: sessionID,
			Domain:    urlcanon.Domain(target.URL),
			FetchedAt: e.now(),
		},
	}

	res, err := e.fetcher.FetchRaw(ctx, target.URL)
	if err != nil {
		result.Error = err.Error()
		result.Metadata.FinalStatus = fetcher.StatusCode(err)
		return result
	}

	finalURL := urlcanon.Canonicalize(res.FinalURL)
	if finalURL == "" {
		finalURL = target.URL
	}
	result.URL = finalURL
	result.Metadata.Domain = urlcanon.Domain(finalURL)
	result.Metadata.ContentType = res.ContentType
	result.Metadata.ContentLength = len(res.Body)
	result.Metadata.FinalStatus = res.StatusCode
	result.Metadata.Redirects = res.Redirects

	page := e.processor.Process(content.Page{URL: finalURL, ContentType: res.ContentType, Body: res.Body}, r.RegionHints)
	result.Metadata.Extraction = page.Strategy
	if page.Binary {
		result.Success = true
		result.Content = page.Text
		result.Metadata.RawPayload = res.Body
		return result
	}

	if page.Links != nil {
		result.LinksFound = page.Links
	}
	result.Metadata.LinksCount = len(result.LinksFound)
	result.Title = page.Title

	cleaned := e.rules.Apply(page.Text, r)
	if cleaned == "" {
		result.Error = e.tooShort(page.Text, r).Error()
		return result
	}
	result.Success = true
	result.Content = cleaned
	result.Metadata.Language = content.DetectLanguage(cleaned)
	sum := sha256.Sum256([]byte(cleaned))
	result.Metadata.ContentHash = hex.EncodeToString(sum[:])
	return result
}

// tooShort reports the cleaned length that failed the minimum.
func (e *Engine) tooShort(text string, r rules.Rules) error {
	unbounded := r
	unbounded.MinContentLength = 0
	unbounded.MaxContentLength = 0
	n := utf8.RuneCountInString(e.rules.Apply(text, unbounded))
	return fmt.Errorf("%w (%d chars)", ErrContentTooShort, n)
}

