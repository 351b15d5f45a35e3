// Package fetcher performs bounded HTTP fetches: a fixed permit pool limits
// in-flight requests, redirects are followed by an explicit loop, responses
// are held to a size cap, and failed hops are retried with exponential backoff.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/litcrawler/internal/metrics"
	"github.com/JakeFAU/litcrawler/internal/urlcanon"
)

// HopRequest is a single HTTP GET issued without following redirects.
type HopRequest struct {
	URL string
	// MaxBytes caps the body. A Requester must fail with ErrSizeLimitExceeded
	// when the declared length exceeds it and must not read more than
	// MaxBytes+1 bytes.
	MaxBytes int64
}

// Hop is the response to a HopRequest. Non-200 statuses are returned as hops,
// not errors.
type Hop struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Requester issues single hops.
type Requester interface {
	Do(ctx context.Context, req HopRequest) (Hop, error)
}

// DomainLimiter paces requests per domain.
type DomainLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config bounds the executor.
type Config struct {
	Timeout time.Duration
	// MaxRedirects is the number of redirects followed per fetch. Zero
	// follows none.
	MaxRedirects  int
	MaxBytes      int64
	MaxConcurrent int
}

// Result is a successful fetch.
type Result struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	Redirects   int
	Attempts    int
}

// Executor owns all network I/O for a crawl.
type Executor struct {
	cfg       Config
	requester Requester
	retry     RetryPolicy
	limiter   DomainLimiter
	permits   *semaphore.Weighted
	logger    *zap.Logger
	sleep     func(context.Context, time.Duration) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetryPolicy replaces the default three-attempt exponential policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithLimiter paces every hop through l.
func WithLimiter(l DomainLimiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an Executor around requester.
func New(cfg Config, requester Requester, opts ...Option) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	e := &Executor{
		cfg:       cfg,
		requester: requester,
		retry:     NewExponentialRetryPolicy(3, time.Second, 30*time.Second, false),
		permits:   semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    zap.NewNop(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxConcurrent returns the size of the permit pool.
func (e *Executor) MaxConcurrent() int {
	return e.cfg.MaxConcurrent
}

// FetchRaw fetches rawURL, following up to MaxRedirects redirects. Each hop
// holds one permit and runs under its own Timeout. Size and redirect
// violations fail immediately; other failures are retried per hop until the
// retry policy gives up, after which the error wraps ErrRetriesExhausted.
func (e *Executor) FetchRaw(ctx context.Context, rawURL string) (Result, error) {
	if _, err := urlcanon.Parse(rawURL); err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	current := rawURL
	redirects := 0
	attempt := 0
	total := 0
	for {
		total++
		hop, err := e.hop(ctx, current)
		if err == nil {
			switch {
			case isRedirect(hop.StatusCode):
				next, rerr := redirectTarget(current, hop.Header)
				if rerr != nil {
					metrics.ObserveFetchAttempt("redirect_invalid")
					return Result{}, fmt.Errorf("fetch %s: %w", current, rerr)
				}
				redirects++
				if redirects > e.cfg.MaxRedirects {
					metrics.ObserveFetchAttempt("redirect_bound")
					return Result{}, fmt.Errorf("fetch %s: %w (%d)", rawURL, ErrRedirectBoundExceeded, e.cfg.MaxRedirects)
				}
				metrics.ObserveFetchAttempt("redirect")
				e.logger.Debug("following redirect",
					zap.String("from", current),
					zap.String("to", next),
					zap.Int("status", hop.StatusCode),
					zap.Int("redirects", redirects))
				current = next
				attempt = 0
				continue
			case hop.StatusCode == http.StatusOK:
				if err = e.checkSize(hop); err == nil {
					metrics.ObserveFetchAttempt("ok")
					return Result{
						URL:         rawURL,
						FinalURL:    current,
						StatusCode:  hop.StatusCode,
						ContentType: hop.Header.Get("Content-Type"),
						Body:        hop.Body,
						Redirects:   redirects,
						Attempts:    total,
					}, nil
				}
			default:
				err = &StatusError{URL: current, Code: hop.StatusCode}
			}
		}

		if terminal(err) || errors.Is(err, urlcanon.ErrInvalidURL) {
			metrics.ObserveFetchAttempt("terminal")
			return Result{}, fmt.Errorf("fetch %s: %w", current, err)
		}
		if ctx.Err() != nil {
			metrics.ObserveFetchAttempt("canceled")
			return Result{}, fmt.Errorf("fetch %s: %w", current, ctx.Err())
		}
		if !e.retry.ShouldRetry(ctx, err, attempt) {
			metrics.ObserveFetchAttempt("exhausted")
			return Result{}, fmt.Errorf("fetch %s: %w after %d attempts: %w",
				current, ErrRetriesExhausted, attempt+1, err)
		}
		metrics.ObserveFetchAttempt("retry")
		wait := e.retry.Backoff(attempt)
		e.logger.Debug("retrying fetch",
			zap.String("url", current),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if serr := e.sleep(ctx, wait); serr != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", current, serr)
		}
		attempt++
	}
}

func (e *Executor) hop(ctx context.Context, target string) (Hop, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, target); err != nil {
			return Hop{}, err
		}
	}
	if err := e.permits.Acquire(ctx, 1); err != nil {
		return Hop{}, fmt.Errorf("acquire fetch permit: %w", err)
	}
	defer e.permits.Release(1)
	metrics.IncInflightFetches()
	defer metrics.DecInflightFetches()

	hopCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.requester.Do(hopCtx, HopRequest{URL: target, MaxBytes: e.cfg.MaxBytes})
}

// checkSize re-checks the declared and the actual length of a 200 response.
func (e *Executor) checkSize(hop Hop) error {
	if declared := hop.Header.Get("Content-Length"); declared != "" {
		if n, err := strconv.ParseInt(declared, 10, 64); err == nil && n > e.cfg.MaxBytes {
			return fmt.Errorf("%w: declared %d > %d bytes", ErrSizeLimitExceeded, n, e.cfg.MaxBytes)
		}
	}
	if n := int64(len(hop.Body)); n > e.cfg.MaxBytes {
		return fmt.Errorf("%w: read %d > %d bytes", ErrSizeLimitExceeded, n, e.cfg.MaxBytes)
	}
	return nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redirectTarget(current string, header http.Header) (string, error) {
	loc := header.Get("Location")
	if loc == "" {
		return "", ErrMissingLocation
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("%w: %w", urlcanon.ErrInvalidURL, err)
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrMissingLocation, loc, err)
	}
	next := base.ResolveReference(ref)
	next.Fragment = ""
	if _, err := urlcanon.Parse(next.String()); err != nil {
		return "", err
	}
	return next.String(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
