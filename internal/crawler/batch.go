package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/litcrawler/internal/rules"
	"github.com/JakeFAU/litcrawler/internal/urlcanon"
)

const defaultBatchConcurrency = 5

// FetchMultiple processes urls concurrently with at most maxConcurrent in
// flight. It ignores the frontier and politeness gate. The returned slice is
// aligned with urls; every failure, including a panic inside processing, is
// reported as a failed result at its index.
func (e *Engine) FetchMultiple(ctx context.Context, urls []string, r rules.Rules, maxConcurrent int) []CrawlResult {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultBatchConcurrency
	}
	sessionID := e.newID()
	results := make([]CrawlResult, len(urls))

	var g errgroup.Group
	g.SetLimit(maxConcurrent)
	for i, raw := range urls {
		g.Go(func() error {
			results[i] = e.fetchOne(ctx, raw, r, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		e.emit(ctx, e.logger.With(zap.String("session_id", sessionID)), res)
	}
	return results
}

func (e *Engine) fetchOne(ctx context.Context, raw string, r rules.Rules, sessionID string) (result CrawlResult) {
	canonical := urlcanon.Canonicalize(raw)
	failed := func(msg string) CrawlResult {
		return CrawlResult{
			URL:        canonical,
			LinksFound: []string{},
			Error:      msg,
			Metadata: Metadata{
				SessionID: sessionID,
				Domain:    urlcanon.Domain(canonical),
				FetchedAt: e.now(),
			},
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("panic processing url", zap.String("url", canonical), zap.Any("panic", rec))
			result = failed(fmt.Sprintf("panic: %v", rec))
		}
	}()

	if !urlcanon.IsValid(canonical) {
		return failed(fmt.Sprintf("%v: %q", urlcanon.ErrInvalidURL, raw))
	}
	if err := ctx.Err(); err != nil {
		return failed(err.Error())
	}
	return e.processTarget(ctx, CrawlTarget{URL: canonical}, r, sessionID)
}
