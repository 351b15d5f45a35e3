// Package robots implements the politeness gate: a per-session robots.txt
// cache consulted before every fetch.
package robots

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/fetcher"
	"github.com/JakeFAU/litcrawler/internal/metrics"
	"github.com/JakeFAU/litcrawler/internal/urlcanon"
)

// RawFetcher retrieves robots.txt bodies.
type RawFetcher interface {
	FetchRaw(ctx context.Context, rawURL string) (fetcher.Result, error)
}

// Config controls the gate.
type Config struct {
	UserAgent string
	// Timeout bounds the robots.txt fetch for a domain.
	Timeout time.Duration
	// FailOpen permits fetches for a domain whose robots.txt could not be
	// retrieved. When false such domains are denied for the whole session.
	FailOpen bool
	// MaxCrawlDelay caps the Crawl-delay honored from robots.txt.
	MaxCrawlDelay time.Duration
}

// Entry is the cached permission state for one domain.
type Entry struct {
	data      *robotstxt.RobotsData
	allowAll  bool
	FetchedAt time.Time
	Source    string
}

// Entry sources.
const (
	SourceFetched    = "fetched"
	SourceAbsent     = "absent"
	SourceFailOpen   = "fail-open"
	SourceFailClosed = "fail-closed"
)

func (e *Entry) group(userAgent string) *robotstxt.Group {
	if e.data == nil {
		return nil
	}
	return e.data.FindGroup(userAgent)
}

func (e *Entry) allows(userAgent, path string) bool {
	if e.data == nil {
		return e.allowAll
	}
	g := e.group(userAgent)
	if g == nil {
		return true
	}
	return g.Test(path)
}

// Gate answers whether a URL may be fetched. Entries are created on first
// reference to a domain and never refreshed, so a Gate belongs to one crawl
// session.
type Gate struct {
	cfg     Config
	fetcher RawFetcher
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewGate builds a Gate that loads robots.txt through f.
func NewGate(cfg Config, f RawFetcher, logger *zap.Logger) *Gate {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:     cfg,
		fetcher: f,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// CanFetch reports whether rawURL is permitted for the configured user agent.
// Invalid URLs are never permitted.
func (g *Gate) CanFetch(ctx context.Context, rawURL string) bool {
	u, err := urlcanon.Parse(rawURL)
	if err != nil {
		return false
	}
	return g.entry(ctx, u).allows(g.cfg.UserAgent, requestPath(u))
}

// CrawlDelay returns the Crawl-delay declared for rawURL's domain, capped at
// MaxCrawlDelay. It only consults entries already cached by CanFetch.
func (g *Gate) CrawlDelay(rawURL string) time.Duration {
	e, ok := g.lookup(rawURL)
	if !ok {
		return 0
	}
	grp := e.group(g.cfg.UserAgent)
	if grp == nil {
		return 0
	}
	delay := grp.CrawlDelay
	if g.cfg.MaxCrawlDelay > 0 && delay > g.cfg.MaxCrawlDelay {
		delay = g.cfg.MaxCrawlDelay
	}
	return delay
}

// lookup returns the cached entry for rawURL's domain, if any.
func (g *Gate) lookup(rawURL string) (*Entry, bool) {
	u, err := urlcanon.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[hostKey(u)]
	return e, ok
}

func (g *Gate) entry(ctx context.Context, u *url.URL) *Entry {
	key := hostKey(u)
	g.mu.Lock()
	if e, ok := g.entries[key]; ok {
		g.mu.Unlock()
		return e
	}
	g.mu.Unlock()

	loaded := g.load(ctx, u)

	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[key]; ok {
		return e
	}
	g.entries[key] = loaded
	return loaded
}

func (g *Gate) load(ctx context.Context, u *url.URL) *Entry {
	robotsURL := (&url.URL{Scheme: strings.ToLower(u.Scheme), Host: u.Host, Path: "/robots.txt"}).String()
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	res, err := g.fetcher.FetchRaw(fetchCtx, robotsURL)
	if err == nil {
		data, perr := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
		if perr == nil {
			metrics.ObserveRobotsFetch(SourceFetched)
			return &Entry{data: data, FetchedAt: g.now(), Source: SourceFetched}
		}
		err = fmt.Errorf("parse robots: %w", perr)
	} else if code := fetcher.StatusCode(err); code >= 400 && code < 500 {
		data, perr := robotstxt.FromStatusAndBytes(code, nil)
		if perr == nil {
			metrics.ObserveRobotsFetch(SourceAbsent)
			return &Entry{data: data, FetchedAt: g.now(), Source: SourceAbsent}
		}
	}

	source := SourceFailClosed
	if g.cfg.FailOpen {
		source = SourceFailOpen
	}
	metrics.ObserveRobotsFetch(source)
	g.logger.Warn("robots fetch failed",
		zap.String("robots_url", robotsURL),
		zap.Bool("fail_open", g.cfg.FailOpen),
		zap.Error(err))
	return &Entry{allowAll: g.cfg.FailOpen, FetchedAt: g.now(), Source: source}
}

func hostKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
