package crawler

import "github.com/JakeFAU/litcrawler/internal/urlcanon"

// Frontier is the FIFO of pending targets plus the dedup and quota state of
// one crawl session. It is not safe for concurrent use; the session loop
// owns it.
type Frontier struct {
	queue    []CrawlTarget
	head     int
	maxQueue int

	queued  map[string]struct{}
	visited map[string]struct{}
	perSite map[string]int
}

// NewFrontier builds an empty Frontier holding at most maxQueue pending
// entries. A non-positive maxQueue means unbounded.
func NewFrontier(maxQueue int) *Frontier {
	return &Frontier{
		maxQueue: maxQueue,
		queued:   make(map[string]struct{}),
		visited:  make(map[string]struct{}),
		perSite:  make(map[string]int),
	}
}

// Enqueue canonicalizes rawURL and appends it at depth. It reports false
// when the URL is invalid, already seen, or the queue is full.
func (f *Frontier) Enqueue(rawURL string, depth int) bool {
	canonical := urlcanon.Canonicalize(rawURL)
	if !urlcanon.IsValid(canonical) {
		return false
	}
	if f.Seen(canonical) {
		return false
	}
	if f.maxQueue > 0 && f.Len() >= f.maxQueue {
		return false
	}
	f.queued[canonical] = struct{}{}
	f.queue = append(f.queue, CrawlTarget{URL: canonical, Depth: depth})
	return true
}

// Dequeue pops the oldest pending target.
func (f *Frontier) Dequeue() (CrawlTarget, bool) {
	if f.head >= len(f.queue) {
		return CrawlTarget{}, false
	}
	t := f.queue[f.head]
	f.queue[f.head] = CrawlTarget{}
	f.head++
	if f.head > 64 && f.head*2 >= len(f.queue) {
		f.queue = append([]CrawlTarget(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return t, true
}

// Len is the number of pending targets.
func (f *Frontier) Len() int {
	return len(f.queue) - f.head
}

// MarkVisited records canonical URLs as processed.
func (f *Frontier) MarkVisited(urls ...string) {
	for _, u := range urls {
		delete(f.queued, u)
		f.visited[u] = struct{}{}
	}
}

// Visited reports whether a canonical URL has been processed.
func (f *Frontier) Visited(canonical string) bool {
	_, ok := f.visited[canonical]
	return ok
}

// Seen reports whether a canonical URL was ever queued or processed.
// Entries skipped for quota stay queued so they are never re-enqueued.
func (f *Frontier) Seen(canonical string) bool {
	if _, ok := f.queued[canonical]; ok {
		return true
	}
	return f.Visited(canonical)
}

// RecordSuccess counts a successful result against domain's quota.
func (f *Frontier) RecordSuccess(domain string) {
	f.perSite[domain]++
}

// DomainCount is the number of successful results recorded for domain.
func (f *Frontier) DomainCount(domain string) int {
	return f.perSite[domain]
}
