// Package rules implements the cleanup and length-gating pass applied to text
// produced by the content processor.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Preset names accepted by ByName.
const (
	PresetDefault = "default"
	PresetMedical = "medical"
)

// Rules describes how extracted text is cleaned and gated.
type Rules struct {
	// CleanPatterns are applied in order; every match is replaced by a space.
	// Patterns are compiled case-insensitive with "." matching newlines.
	CleanPatterns []string `mapstructure:"clean_patterns" json:"clean_patterns"`
	// MinContentLength is measured in code points after cleanup. Shorter
	// content is reported as empty.
	MinContentLength int `mapstructure:"min_content_length" json:"min_content_length"`
	// MaxContentLength truncates longer content. Zero disables truncation.
	MaxContentLength int `mapstructure:"max_content_length" json:"max_content_length"`
	// RegionHints are CSS selectors tried in order to scope body text to the
	// main content region of a page.
	RegionHints []string `mapstructure:"region_hints" json:"region_hints"`
}

var baseCleanPatterns = []string{
	`<script.*?</script>`,
	`<style.*?</style>`,
	`<nav.*?</nav>`,
	`<footer.*?</footer>`,
	`<header.*?</header>`,
	`<!--.*?-->`,
	`&nbsp;`,
	`\s+`,
}

var baseRegionHints = []string{"main, article, [role=main], .content, #content"}

// Default returns the general-purpose rule set.
func Default() Rules {
	return Rules{
		CleanPatterns:    append([]string(nil), baseCleanPatterns...),
		MinContentLength: 100,
		MaxContentLength: 100000,
		RegionHints:      append([]string(nil), baseRegionHints...),
	}
}

// Medical returns rules tuned for biomedical and scientific articles: asides
// are stripped, the length gate is stricter, and abstracts are preferred.
func Medical() Rules {
	patterns := make([]string, 0, len(baseCleanPatterns)+1)
	patterns = append(patterns, baseCleanPatterns[:5]...)
	patterns = append(patterns, `<aside.*?</aside>`)
	patterns = append(patterns, baseCleanPatterns[5:]...)
	return Rules{
		CleanPatterns:    patterns,
		MinContentLength: 200,
		MaxContentLength: 150000,
		RegionHints: append([]string{
			".abstract, #abstract, .article-body",
		}, baseRegionHints...),
	}
}

// ByName returns the preset with the given name.
func ByName(name string) (Rules, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetDefault:
		return Default(), nil
	case PresetMedical:
		return Medical(), nil
	default:
		return Rules{}, fmt.Errorf("unknown rules preset %q", name)
	}
}

// Validate checks that the patterns compile and the length bounds are sane.
func (r Rules) Validate() error {
	if r.MinContentLength < 0 {
		return fmt.Errorf("min_content_length must be >= 0")
	}
	if r.MaxContentLength < 0 {
		return fmt.Errorf("max_content_length must be >= 0")
	}
	if r.MaxContentLength > 0 && r.MinContentLength > r.MaxContentLength {
		return fmt.Errorf("min_content_length %d exceeds max_content_length %d",
			r.MinContentLength, r.MaxContentLength)
	}
	for _, p := range r.CleanPatterns {
		if _, err := compile(p); err != nil {
			return err
		}
	}
	return nil
}

// Engine applies Rules to text. Compiled patterns are cached across calls, so
// one Engine can serve many pages and goroutines.
type Engine struct {
	logger *zap.Logger
	cache  sync.Map // pattern -> *regexp.Regexp
}

// NewEngine constructs an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Apply runs the cleanup substitutions over content, collapses whitespace and
// enforces the length bounds. Content shorter than MinContentLength yields "";
// callers treat that as a too-short page. Content longer than
// MaxContentLength is truncated on a code point boundary.
func (e *Engine) Apply(content string, r Rules) string {
	if content == "" {
		return ""
	}
	for _, p := range r.CleanPatterns {
		re, err := e.pattern(p)
		if err != nil {
			e.logger.Warn("skipping invalid clean pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		content = re.ReplaceAllString(content, " ")
	}
	content = CollapseWhitespace(content)

	n := utf8.RuneCountInString(content)
	if n < r.MinContentLength {
		e.logger.Debug("content below minimum length",
			zap.Int("length", n), zap.Int("min", r.MinContentLength))
		return ""
	}
	if r.MaxContentLength > 0 && n > r.MaxContentLength {
		e.logger.Debug("truncating content",
			zap.Int("length", n), zap.Int("max", r.MaxContentLength))
		content = truncateRunes(content, r.MaxContentLength)
	}
	return content
}

func (e *Engine) pattern(p string) (*regexp.Regexp, error) {
	if cached, ok := e.cache.Load(p); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := compile(p)
	if err != nil {
		return nil, err
	}
	actual, _ := e.cache.LoadOrStore(p, re)
	return actual.(*regexp.Regexp), nil
}

func compile(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`(?is)` + p)
	if err != nil {
		return nil, fmt.Errorf("compile clean pattern %q: %w", p, err)
	}
	return re, nil
}

// CollapseWhitespace replaces every run of whitespace with one space and
// trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
