package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/litcrawler/internal/content"
	"github.com/JakeFAU/litcrawler/internal/fetcher"
	"github.com/JakeFAU/litcrawler/internal/rules"
)

// Fetcher retrieves a URL, following redirects and retrying transient
// failures.
type Fetcher interface {
	FetchRaw(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// PermissionChecker answers robots.txt questions for one session.
type PermissionChecker interface {
	CanFetch(ctx context.Context, rawURL string) bool
	CrawlDelay(rawURL string) time.Duration
}

// ContentProcessor turns a fetched body into title, text and links.
type ContentProcessor interface {
	Process(page content.Page, hints []string) content.Result
}

// RuleApplier cleans extracted text and enforces length bounds.
type RuleApplier interface {
	Apply(text string, r rules.Rules) string
}

// ResultSink receives results as the crawl produces them.
type ResultSink interface {
	Write(ctx context.Context, result CrawlResult) error
}

// pauseController abstracts how the crawler waits between pages.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type allowAll struct{}

func (allowAll) CanFetch(context.Context, string) bool { return true }
func (allowAll) CrawlDelay(string) time.Duration       { return 0 }
