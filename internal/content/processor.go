// Package content turns fetched payloads into a title, cleaned plain text, and
// the outbound links a crawler should follow.
package content

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Strategy names reported in Result.Strategy.
const (
	StrategyStructured = "structured"
	StrategyRegexTitle = "regex-title"
	StrategyRaw        = "raw"
	StrategyBinary     = "binary"
)

// Page is a fetched payload ready for extraction.
type Page struct {
	URL         string
	ContentType string
	Body        []byte
}

// Result is what the processor extracted from a page.
type Result struct {
	Title    string
	Text     string
	Links    []string
	Binary   bool
	Strategy string
}

type strategy struct {
	name    string
	extract func(page Page, hints []string) (Result, error)
}

// Processor runs an ordered list of fallible extraction strategies and
// returns the first that succeeds. When all of them fail it falls through to
// the raw passthrough, which cannot fail.
type Processor struct {
	logger     *zap.Logger
	strategies []strategy
}

// NewProcessor constructs a Processor with the standard strategy chain:
// structured parse, then regex title with a retried parse.
func NewProcessor(logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		logger: logger,
		strategies: []strategy{
			{name: StrategyStructured, extract: structuredStrategy},
			{name: StrategyRegexTitle, extract: regexTitleStrategy},
		},
	}
}

// Process extracts page. Non-HTML payloads come back as a binary placeholder
// with no text or links. hints are CSS selectors tried in order to scope the
// body text.
func (p *Processor) Process(page Page, hints []string) Result {
	mediaType := MediaType(page.ContentType, page.Body)
	if !isHTML(mediaType) {
		return Result{
			Text:     BinaryPlaceholder(mediaType),
			Binary:   true,
			Strategy: StrategyBinary,
		}
	}

	for _, s := range p.strategies {
		res, err := runStrategy(s, page, hints)
		if err != nil {
			p.logger.Debug("extraction strategy failed",
				zap.String("url", page.URL),
				zap.String("strategy", s.name),
				zap.Error(err))
			continue
		}
		res.Strategy = s.name
		return res
	}
	res := rawPassthrough(page, hints)
	res.Strategy = StrategyRaw
	return res
}

func runStrategy(s strategy, page Page, hints []string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.name, r)
		}
	}()
	return s.extract(page, hints)
}

func structuredStrategy(page Page, hints []string) (Result, error) {
	doc, err := parseDocument(page.Body, page.ContentType)
	if err != nil {
		return Result{}, err
	}
	return extract(Parsed{Doc: doc}, page.URL, hints), nil
}

func regexTitleStrategy(page Page, hints []string) (Result, error) {
	title := regexTitle(page.Body)
	doc, err := parseDocument(page.Body, "")
	if err != nil {
		return Result{}, err
	}
	res := extract(Parsed{Doc: doc}, page.URL, hints)
	res.Title = title
	return res, nil
}

func rawPassthrough(page Page, hints []string) Result {
	return extract(Raw{Body: page.Body}, page.URL, hints)
}

// extract reads everything from one payload. For a parsed document the links
// are collected before boilerplate is stripped for the body text.
func extract(payload Payload, pageURL string, hints []string) Result {
	switch v := payload.(type) {
	case Parsed:
		title := documentTitle(v.Doc)
		links := ExtractLinks(v.Doc, pageURL)
		return Result{Title: title, Text: bodyText(v.Doc, hints), Links: links}
	case Raw:
		return Result{Title: regexTitle(v.Body), Text: rawText(v.Body)}
	default:
		panic(fmt.Sprintf("content: unhandled payload %T", payload))
	}
}

// MediaType returns the lower-cased media type of contentType, sniffing body
// when no type was declared.
func MediaType(contentType string, body []byte) string {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// BinaryPlaceholder is the content reported for a non-HTML payload.
func BinaryPlaceholder(mediaType string) string {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return fmt.Sprintf("[Binary Content: %s]", mediaType)
}
