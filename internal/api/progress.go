package api

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/litcrawler/internal/crawler"
)

// Progress counts results as they are emitted. It is a crawler.ResultSink.
type Progress struct {
	mu        sync.RWMutex
	started   time.Time
	total     int
	succeeded int
	perDomain map[string]int
	lastURL   string
}

// ProgressSnapshot is the JSON view of Progress.
type ProgressSnapshot struct {
	Started   time.Time      `json:"started"`
	Results   int            `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	PerDomain map[string]int `json:"per_domain"`
	LastURL   string         `json:"last_url,omitempty"`
}

// NewProgress starts an empty tracker.
func NewProgress(started time.Time) *Progress {
	return &Progress{started: started, perDomain: make(map[string]int)}
}

// Write records result.
func (p *Progress) Write(_ context.Context, result crawler.CrawlResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	if result.Success {
		p.succeeded++
	}
	p.perDomain[result.Metadata.Domain]++
	p.lastURL = result.URL
	return nil
}

// Snapshot copies the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	perDomain := make(map[string]int, len(p.perDomain))
	for k, v := range p.perDomain {
		perDomain[k] = v
	}
	return ProgressSnapshot{
		Started:   p.started,
		Results:   p.total,
		Succeeded: p.succeeded,
		Failed:    p.total - p.succeeded,
		PerDomain: perDomain,
		LastURL:   p.lastURL,
	}
}
