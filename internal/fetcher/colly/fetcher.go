// Package collyfetcher implements fetcher.Requester using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/litcrawler/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Requester issues single hops through a cloned Colly collector. Redirects are
// returned to the caller instead of being followed, and robots.txt is left to
// the politeness gate.
type Requester struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Requester.
func New(cfg Config) *Requester {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Requester{cfg: cfg, baseCollector: c}
}

// Do executes one GET. Responses declaring more than req.MaxBytes are aborted
// before the body is read; undeclared bodies are read up to MaxBytes+1 so the
// caller can tell they overflowed.
func (r *Requester) Do(ctx context.Context, req fetcher.HopRequest) (fetcher.Hop, error) {
	var (
		hop       fetcher.Hop
		fetchErr  error
		oversized error
	)
	collector := r.baseCollector.Clone()
	collector.Context = ctx
	if req.MaxBytes > 0 {
		collector.MaxBodySize = int(req.MaxBytes) + 1
	}
	r.configureCollectorHooks(collector, req, &hop, &fetchErr, &oversized)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return fetcher.Hop{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if oversized != nil {
			return fetcher.Hop{}, oversized
		}
		if err != nil {
			return fetcher.Hop{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return fetcher.Hop{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return hop, nil
	}
}

func (r *Requester) configureCollectorHooks(
	hooks collectorHooks,
	req fetcher.HopRequest,
	hop *fetcher.Hop,
	fetchErr *error,
	oversized *error,
) {
	hooks.OnResponseHeaders(func(resp *colly.Response) {
		if req.MaxBytes <= 0 || resp.Headers == nil {
			return
		}
		n, err := strconv.ParseInt(resp.Headers.Get("Content-Length"), 10, 64)
		if err != nil || n <= req.MaxBytes {
			return
		}
		*oversized = fmt.Errorf("%w: declared %d > %d bytes", fetcher.ErrSizeLimitExceeded, n, req.MaxBytes)
		resp.Request.Abort()
	})

	hooks.OnResponse(func(resp *colly.Response) {
		header := http.Header{}
		if resp.Headers != nil {
			header = resp.Headers.Clone()
		}
		if ct := header.Get("Content-Type"); ct != "" {
			header.Set("Content-Type", transcodedContentType(ct))
		}
		finalURL := req.URL
		if resp.Request != nil && resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}
		*hop = fetcher.Hop{
			URL:        finalURL,
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), resp.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

// transcodedContentType relabels a content type whose body colly has already
// converted to UTF-8. Colly transcodes every declared charset other than UTF-8,
// except for image, video, audio and font types.
func transcodedContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	if !strings.Contains(lower, "charset") || strings.Contains(lower, "utf-8") || strings.Contains(lower, "utf8") {
		return contentType
	}
	for _, kind := range []string{"image/", "video/", "audio/", "font/"} {
		if strings.Contains(lower, kind) {
			return contentType
		}
	}
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mediaType) + "; charset=utf-8"
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
