package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/content"
	"github.com/JakeFAU/litcrawler/internal/fetcher"
	"github.com/JakeFAU/litcrawler/internal/rules"
)

const filler = "The study followed adults with stable heart disease for five years and found that a daily " +
	"low dose of aspirin reduced the number of strokes when compared with the placebo group."

type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]fetcher.Result
	errs    map[string]error
	fetched []string
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{pages: make(map[string]fetcher.Result), errs: make(map[string]error)}
}

func (s *stubFetcher) html(url, title, body string, links ...string) *stubFetcher {
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body><p>%s</p>", title, body)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s"></a>`, l)
	}
	b.WriteString("</body></html>")
	s.pages[url] = fetcher.Result{
		URL:         url,
		FinalURL:    url,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(b.String()),
	}
	return s
}

// redirect serves the page registered for to when from is requested.
func (s *stubFetcher) redirect(from, to string) *stubFetcher {
	res := s.pages[to]
	res.URL = from
	res.Redirects = 1
	s.pages[from] = res
	return s
}

func (s *stubFetcher) FetchRaw(_ context.Context, rawURL string) (fetcher.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, rawURL)
	if err, ok := s.errs[rawURL]; ok {
		return fetcher.Result{}, err
	}
	res, ok := s.pages[rawURL]
	if !ok {
		return fetcher.Result{}, fmt.Errorf("fetch %s: %w", rawURL,
			&fetcher.StatusError{URL: rawURL, Code: http.StatusNotFound})
	}
	return res, nil
}

func (s *stubFetcher) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

type stubGate struct {
	deny  string
	delay time.Duration
}

func (g stubGate) CanFetch(_ context.Context, rawURL string) bool {
	return g.deny == "" || !strings.Contains(rawURL, g.deny)
}

func (g stubGate) CrawlDelay(string) time.Duration { return g.delay }

type recordingPauser struct {
	pauses []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.pauses = append(p.pauses, d)
}

type memorySink struct {
	mu      sync.Mutex
	results []CrawlResult
	err     error
}

func (m *memorySink) Write(_ context.Context, r CrawlResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return m.err
}

func testRules() rules.Rules {
	return rules.Rules{CleanPatterns: []string{`\s+`}, MinContentLength: 20, MaxContentLength: 10000}
}

func newTestEngine(f Fetcher, opts ...Option) (*Engine, *recordingPauser) {
	e := NewEngine(f, content.NewProcessor(zap.NewNop()), rules.NewEngine(zap.NewNop()),
		append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	p := &recordingPauser{}
	e.pauser = p
	e.newID = func() string { return "session-1" }
	return e, p
}

func urls(results []CrawlResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.URL)
	}
	return out
}

func TestCrawlBreadthFirstWithLinks(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/a", "/b", "https://example.com/#top", "mailto:x@example.com").
		html("https://example.com/a", "A", filler, "/c").
		html("https://example.com/b", "B", filler).
		html("https://example.com/c", "C", filler)
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/a", "https://example.com/b"}, urls(results))

	home := results[0]
	assert.True(t, home.Success)
	assert.Equal(t, "Home", home.Title)
	assert.Equal(t, 0, home.Depth)
	assert.Equal(t, filler, home.Content)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b", "https://example.com/"}, home.LinksFound)
	assert.Equal(t, 3, home.Metadata.LinksCount)
	assert.Equal(t, "example.com", home.Metadata.Domain)
	assert.Equal(t, "session-1", home.Metadata.SessionID)
	assert.Equal(t, "eng", home.Metadata.Language)
	assert.Len(t, home.Metadata.ContentHash, 64)
	assert.Equal(t, content.StrategyStructured, home.Metadata.Extraction)

	assert.Equal(t, 1, results[1].Depth)
	assert.Equal(t, []string{"https://example.com/c"}, results[1].LinksFound, "found but beyond max depth")
	assert.NotContains(t, f.fetchedURLs(), "https://example.com/c")
}

func TestCrawlDepthZeroFetchesSeedsOnly(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().html("https://example.com/", "Home", filler, "/a")
	e, p := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 0, MaxPages: 10, Delay: time.Second,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"https://example.com/a"}, results[0].LinksFound)
	assert.Empty(t, p.pauses, "no pause after the last page")
}

func TestCrawlRespectsRobots(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/private/x", "/public").
		html("https://example.com/private/x", "Secret", filler).
		html("https://example.com/public", "Public", filler)
	e, _ := newTestEngine(f, WithPermissions(func() PermissionChecker { return stubGate{deny: "/private/"} }))

	cfg := Config{Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10, RespectPoliteness: true}
	results, err := e.Crawl(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/public"}, urls(results))
	assert.NotContains(t, f.fetchedURLs(), "https://example.com/private/x")

	cfg.RespectPoliteness = false
	results, err = e.Crawl(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, results, 3, "the gate is bypassed when politeness is off")
}

func TestCrawlRecordsFetchFailuresAndContinues(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/gone", "/ok").
		html("https://example.com/ok", "OK", filler)
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	gone := results[1]
	assert.Equal(t, "https://example.com/gone", gone.URL)
	assert.False(t, gone.Success)
	assert.Contains(t, gone.Error, "404")
	assert.Equal(t, http.StatusNotFound, gone.Metadata.FinalStatus)
	assert.Empty(t, gone.Content)
	assert.NotNil(t, gone.LinksFound)
	assert.True(t, results[2].Success)
}

func TestCrawlShortContentFailsButLinksAreFollowed(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Hub", "Too short", "/next").
		html("https://example.com/next", "Next", filler)
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	hub := results[0]
	assert.False(t, hub.Success)
	assert.Equal(t, "content too short or empty (9 chars)", hub.Error)
	assert.Empty(t, hub.Content)
	assert.Equal(t, []string{"https://example.com/next"}, hub.LinksFound)
	assert.True(t, results[1].Success)
}

func TestCrawlBounds(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	var links []string
	for i := 0; i < 20; i++ {
		u := fmt.Sprintf("https://example.com/p%d", i)
		links = append(links, u)
		f.html(u, "P", filler)
	}
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("https://other.org/p%d", i)
		links = append(links, u)
		f.html(u, "O", filler)
	}
	f.html("https://hub.net/", "Hub", filler, links...)

	t.Run("max pages", func(t *testing.T) {
		t.Parallel()
		e, p := newTestEngine(f)
		results, err := e.Crawl(context.Background(), Config{
			Seeds: []string{"https://hub.net/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 4, MaxPerDomain: 100,
		})
		require.NoError(t, err)
		assert.Len(t, results, 4)
		assert.Len(t, p.pauses, 3)
	})

	t.Run("per domain quota", func(t *testing.T) {
		t.Parallel()
		e, _ := newTestEngine(f)
		results, err := e.Crawl(context.Background(), Config{
			Seeds: []string{"https://hub.net/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 100, MaxPerDomain: 3,
		})
		require.NoError(t, err)
		perDomain := map[string]int{}
		for _, r := range results {
			perDomain[r.Metadata.Domain]++
		}
		assert.Equal(t, map[string]int{"hub.net": 1, "example.com": 3, "other.org": 3}, perDomain)
	})

	t.Run("queue size", func(t *testing.T) {
		t.Parallel()
		e, _ := newTestEngine(f)
		results, err := e.Crawl(context.Background(), Config{
			Seeds: []string{"https://hub.net/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 100,
			MaxPerDomain: 100, MaxQueueSize: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://hub.net/", "https://example.com/p0", "https://example.com/p1"}, urls(results))
	})
}

func TestCrawlPausesBetweenPages(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/a", "/b").
		html("https://example.com/a", "A", filler).
		html("https://example.com/b", "B", filler)

	e, p := newTestEngine(f, WithPermissions(func() PermissionChecker { return stubGate{delay: 3 * time.Second} }))
	_, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
		RespectPoliteness: true, Delay: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, p.pauses, "crawl-delay wins over a shorter delay")

	e, p = newTestEngine(f, WithPermissions(func() PermissionChecker { return stubGate{delay: 3 * time.Second} }))
	_, err = e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10, Delay: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, p.pauses, "crawl-delay ignored without politeness")
}

func TestCrawlRedirectedPagesAreNotDuplicated(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/old", "/new").
		html("https://example.com/new", "New", filler)
	moved := f.pages["https://example.com/new"]
	moved.URL = "https://example.com/old"
	moved.Redirects = 1
	f.pages["https://example.com/old"] = moved
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/new"}, urls(results))
	assert.Equal(t, 1, results[1].Metadata.Redirects)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/old"}, f.fetchedURLs())
}

func TestCrawlCrossDomainRedirectCountsAgainstFinalDomain(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://b.example/", "B", filler, "https://a.example/x", "https://a.example/y").
		html("https://b.example/rx", "RX", filler).
		html("https://b.example/ry", "RY", filler).
		redirect("https://a.example/x", "https://b.example/rx").
		redirect("https://a.example/y", "https://b.example/ry")
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://b.example/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10, MaxPerDomain: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://b.example/"}, urls(results))

	perDomain := map[string]int{}
	for _, r := range results {
		if r.Success {
			perDomain[r.Metadata.Domain]++
		}
	}
	for domain, n := range perDomain {
		assert.LessOrEqual(t, n, 1, domain)
	}
}

func TestCrawlRedirectIntoDisallowedPathIsDropped(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().
		html("https://example.com/", "Home", filler, "/go").
		html("https://example.com/private/x", "Secret", filler).
		redirect("https://example.com/go", "https://example.com/private/x")
	e, _ := newTestEngine(f, WithPermissions(func() PermissionChecker { return stubGate{deny: "/private/"} }))

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10, RespectPoliteness: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/"}, urls(results))
	assert.Contains(t, f.fetchedURLs(), "https://example.com/go")
}

func TestCrawlBinaryPayloadPassesThrough(t *testing.T) {
	t.Parallel()

	f := newStubFetcher()
	f.pages["https://example.com/paper.pdf"] = fetcher.Result{
		FinalURL: "https://example.com/paper.pdf", StatusCode: http.StatusOK,
		ContentType: "application/pdf", Body: []byte("%PDF-1.7 binary"),
	}
	e, _ := newTestEngine(f)

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/paper.pdf"}, Rules: testRules(), MaxPages: 1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "[Binary Content: application/pdf]", results[0].Content)
	assert.Equal(t, []byte("%PDF-1.7 binary"), results[0].Metadata.RawPayload)
	assert.Empty(t, results[0].LinksFound)
}

func TestCrawlStreamsToSink(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().html("https://example.com/", "Home", filler, "/a").html("https://example.com/a", "A", filler)
	sink := &memorySink{err: errors.New("disk full")}
	e, _ := newTestEngine(f, WithSink(sink))

	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.NoError(t, err, "sink failures do not abort the crawl")
	assert.Equal(t, results, sink.results)
}

func TestCrawlStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().html("https://example.com/", "Home", filler, "/a").html("https://example.com/a", "A", filler)
	e, _ := newTestEngine(f)
	ctx, cancel := context.WithCancel(context.Background())
	e.pauser = pauseFunc(func(context.Context, time.Duration) { cancel() })

	results, err := e.Crawl(ctx, Config{
		Seeds: []string{"https://example.com/"}, Rules: testRules(), MaxDepth: 1, MaxPages: 10,
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
}

type pauseFunc func(context.Context, time.Duration)

func (f pauseFunc) Pause(ctx context.Context, d time.Duration) { f(ctx, d) }

func TestCrawlRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(newStubFetcher())
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{name: "no seeds", cfg: Config{MaxPages: 1}, want: ErrNoSeeds},
		{name: "negative depth", cfg: Config{Seeds: []string{"https://a.com"}, MaxPages: 1, MaxDepth: -1}, want: ErrInvalidConfig},
		{name: "zero pages", cfg: Config{Seeds: []string{"https://a.com"}}, want: ErrInvalidConfig},
		{name: "bad rules", cfg: Config{Seeds: []string{"https://a.com"}, MaxPages: 1,
			Rules: rules.Rules{CleanPatterns: []string{"("}}}, want: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Crawl(context.Background(), tt.cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCrawlDropsInvalidSeeds(t *testing.T) {
	t.Parallel()

	f := newStubFetcher().html("https://example.com/", "Home", filler)
	e, _ := newTestEngine(f)
	results, err := e.Crawl(context.Background(), Config{
		Seeds: []string{"ftp://example.com/x", "not a url", "https://example.com/"}, Rules: testRules(), MaxPages: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/"}, urls(results))
}
