package crawler

import (
	"fmt"
	"time"

	"github.com/JakeFAU/litcrawler/internal/rules"
)

// Skip reasons reported when a frontier entry is dropped without a result.
const (
	SkipDepth     = "depth"
	SkipQuota     = "quota"
	SkipRobots    = "robots"
	SkipDuplicate = "duplicate"
)

// CrawlTarget is one frontier entry.
type CrawlTarget struct {
	URL   string
	Depth int
}

// Metadata accompanies every CrawlResult.
type Metadata struct {
	SessionID     string    `json:"session_id,omitempty"`
	Domain        string    `json:"domain"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int       `json:"content_length"`
	LinksCount    int       `json:"links_count"`
	Language      string    `json:"language,omitempty"`
	ContentHash   string    `json:"content_hash,omitempty"`
	FinalStatus   int       `json:"final_status,omitempty"`
	Redirects     int       `json:"redirects"`
	Extraction    string    `json:"extraction,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`
	// RawPayload carries the undecoded body of binary documents so a sink
	// can hand it to an external parser. It is never serialized inline.
	RawPayload []byte `json:"-"`
}

// CrawlResult is the outcome of processing one URL. Results are built once
// and handed out by value.
type CrawlResult struct {
	URL        string   `json:"url"`
	Depth      int      `json:"depth"`
	Success    bool     `json:"success"`
	Title      string   `json:"title,omitempty"`
	Content    string   `json:"content,omitempty"`
	LinksFound []string `json:"links_found"`
	Error      string   `json:"error,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// Config bounds a crawl session.
type Config struct {
	Seeds []string
	Rules rules.Rules
	// MaxDepth is the deepest link distance from a seed that is fetched.
	MaxDepth int
	// MaxPages caps the number of results a session returns.
	MaxPages int
	// MaxPerDomain caps successful results per domain.
	MaxPerDomain int
	// MaxQueueSize caps pending frontier entries; overflow is dropped.
	MaxQueueSize int
	// RespectPoliteness consults robots.txt before every fetch and honors
	// its Crawl-delay.
	RespectPoliteness bool
	// Delay is the minimum pause between consecutive pages.
	Delay time.Duration
}

const (
	defaultMaxPerDomain = 10
	defaultMaxQueueSize = 1000
)

func (c Config) withDefaults() Config {
	if c.MaxPerDomain == 0 {
		c.MaxPerDomain = defaultMaxPerDomain
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	return c
}

// Validate checks the session bounds.
func (c Config) Validate() error {
	switch {
	case len(c.Seeds) == 0:
		return ErrNoSeeds
	case c.MaxDepth < 0:
		return fmt.Errorf("%w: max depth %d", ErrInvalidConfig, c.MaxDepth)
	case c.MaxPages < 1:
		return fmt.Errorf("%w: max pages %d", ErrInvalidConfig, c.MaxPages)
	case c.MaxPerDomain < 0:
		return fmt.Errorf("%w: max per domain %d", ErrInvalidConfig, c.MaxPerDomain)
	case c.MaxQueueSize < 0:
		return fmt.Errorf("%w: max queue size %d", ErrInvalidConfig, c.MaxQueueSize)
	case c.Delay < 0:
		return fmt.Errorf("%w: negative delay", ErrInvalidConfig)
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
