package robots

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/litcrawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/litcrawler/internal/fetcher/colly"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fetch func(ctx context.Context, rawURL string) (fetcher.Result, error)
}

func (s *stubFetcher) FetchRaw(ctx context.Context, rawURL string) (fetcher.Result, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[rawURL]++
	s.mu.Unlock()
	return s.fetch(ctx, rawURL)
}

func (s *stubFetcher) count(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[rawURL]
}

func robotsBody(body string) *stubFetcher {
	return &stubFetcher{fetch: func(context.Context, string) (fetcher.Result, error) {
		return fetcher.Result{StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}}
}

func failing(err error) *stubFetcher {
	return &stubFetcher{fetch: func(context.Context, string) (fetcher.Result, error) {
		return fetcher.Result{}, err
	}}
}

func TestCanFetchDisallowedPrefix(t *testing.T) {
	t.Parallel()

	f := robotsBody("User-agent: *\nDisallow: /private/\n")
	g := NewGate(Config{UserAgent: "litcrawler", FailOpen: true}, f, zap.NewNop())
	ctx := context.Background()

	assert.False(t, g.CanFetch(ctx, "https://example.com/private/paper"))
	assert.False(t, g.CanFetch(ctx, "https://example.com/private/"))
	assert.True(t, g.CanFetch(ctx, "https://example.com/public/paper"))
	assert.True(t, g.CanFetch(ctx, "https://example.com/"))
	assert.Equal(t, 1, f.count("https://example.com/robots.txt"), "one fetch per domain per session")

	e, ok := g.lookup("https://example.com/anything")
	require.True(t, ok)
	assert.Equal(t, SourceFetched, e.Source)
	assert.False(t, e.FetchedAt.IsZero())
}

func TestCanFetchMatchesUserAgentGroup(t *testing.T) {
	t.Parallel()

	f := robotsBody("User-agent: litcrawler\nDisallow: /\n\nUser-agent: *\nAllow: /\n")
	ctx := context.Background()

	assert.False(t, NewGate(Config{UserAgent: "litcrawler"}, f, nil).CanFetch(ctx, "https://example.com/a"))
	assert.True(t, NewGate(Config{UserAgent: "otherbot"}, f, nil).CanFetch(ctx, "https://example.com/a"))
}

func TestCanFetchMatchesQuery(t *testing.T) {
	t.Parallel()

	f := robotsBody("User-agent: *\nDisallow: /search?q=\n")
	g := NewGate(Config{}, f, nil)

	assert.False(t, g.CanFetch(context.Background(), "https://example.com/search?q=aspirin"))
	assert.True(t, g.CanFetch(context.Background(), "https://example.com/search"))
}

func TestMissingRobotsAllowsEverything(t *testing.T) {
	t.Parallel()

	f := failing(fmt.Errorf("fetch: %w", &fetcher.StatusError{URL: "u", Code: http.StatusNotFound}))
	g := NewGate(Config{FailOpen: false}, f, nil)

	assert.True(t, g.CanFetch(context.Background(), "https://example.com/x"))
	e, ok := g.lookup("https://example.com/")
	require.True(t, ok)
	assert.Equal(t, SourceAbsent, e.Source)
}

func TestFetchFailurePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failOpen   bool
		err        error
		wantAllow  bool
		wantSource string
	}{
		{
			name:       "server error fails open",
			failOpen:   true,
			err:        &fetcher.StatusError{URL: "u", Code: http.StatusServiceUnavailable},
			wantAllow:  true,
			wantSource: SourceFailOpen,
		},
		{
			name:       "network error fails closed",
			failOpen:   false,
			err:        fmt.Errorf("%w: dial tcp: refused", fetcher.ErrRetriesExhausted),
			wantAllow:  false,
			wantSource: SourceFailClosed,
		},
		{
			name:       "oversized robots fails open",
			failOpen:   true,
			err:        fetcher.ErrSizeLimitExceeded,
			wantAllow:  true,
			wantSource: SourceFailOpen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := failing(tt.err)
			g := NewGate(Config{FailOpen: tt.failOpen}, f, zap.NewNop())
			ctx := context.Background()

			assert.Equal(t, tt.wantAllow, g.CanFetch(ctx, "https://example.com/a"))
			assert.Equal(t, tt.wantAllow, g.CanFetch(ctx, "https://example.com/b"))
			assert.Equal(t, 1, f.count("https://example.com/robots.txt"), "failures are cached too")

			e, ok := g.lookup("https://example.com/")
			require.True(t, ok)
			assert.Equal(t, tt.wantSource, e.Source)
		})
	}
}

func TestRobotsFetchIsTimeBounded(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{fetch: func(ctx context.Context, _ string) (fetcher.Result, error) {
		<-ctx.Done()
		return fetcher.Result{}, ctx.Err()
	}}
	g := NewGate(Config{Timeout: 30 * time.Millisecond, FailOpen: true}, f, nil)

	start := time.Now()
	assert.True(t, g.CanFetch(context.Background(), "https://slow.example.com/a"))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCrawlDelay(t *testing.T) {
	t.Parallel()

	f := robotsBody("User-agent: *\nCrawl-delay: 2\n")
	g := NewGate(Config{MaxCrawlDelay: time.Second}, f, nil)

	assert.Zero(t, g.CrawlDelay("https://example.com/a"), "nothing cached yet")
	require.True(t, g.CanFetch(context.Background(), "https://example.com/a"))
	assert.Equal(t, time.Second, g.CrawlDelay("https://example.com/a"))

	uncapped := NewGate(Config{}, robotsBody("User-agent: *\nCrawl-delay: 2\n"), nil)
	require.True(t, uncapped.CanFetch(context.Background(), "https://example.com/a"))
	assert.Equal(t, 2*time.Second, uncapped.CrawlDelay("https://example.com/a"))
}

func TestInvalidURLIsNeverFetchable(t *testing.T) {
	t.Parallel()

	f := failing(errors.New("unused"))
	g := NewGate(Config{FailOpen: true}, f, nil)
	assert.False(t, g.CanFetch(context.Background(), "mailto:someone@example.com"))
	assert.Zero(t, f.count("mailto:someone@example.com"))
}

func TestGateWithExecutor(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/static/robots.txt", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/static/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	exec := fetcher.New(fetcher.Config{Timeout: 2 * time.Second, MaxBytes: 512 << 10, MaxRedirects: 5},
		collyfetcher.New(collyfetcher.Config{UserAgent: "litcrawler"}),
		fetcher.WithRetryPolicy(fetcher.NewExponentialRetryPolicy(1, 0, 0, false)))
	g := NewGate(Config{UserAgent: "litcrawler", FailOpen: true}, exec, zap.NewNop())

	assert.False(t, g.CanFetch(context.Background(), srv.URL+"/private/trial"))
	assert.True(t, g.CanFetch(context.Background(), srv.URL+"/public/trial"))
}
