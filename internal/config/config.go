// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/litcrawler/internal/crawler"
	"github.com/JakeFAU/litcrawler/internal/logging"
	"github.com/JakeFAU/litcrawler/internal/rules"
)

// EnvPrefix namespaces environment overrides, e.g. LITCRAWLER_FETCH_MAX_RETRIES.
const EnvPrefix = "LITCRAWLER"

// DefaultUserAgent identifies the crawler to the sites it visits.
const DefaultUserAgent = "litcrawler/1.0 (+https://github.com/JakeFAU/litcrawler)"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig  `mapstructure:"crawler"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Robots  RobotsConfig   `mapstructure:"robots"`
	Rules   RulesConfig    `mapstructure:"rules"`
	Output  OutputConfig   `mapstructure:"output"`
	Logging logging.Config `mapstructure:"logging"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
}

// CrawlerConfig bounds a crawl session.
type CrawlerConfig struct {
	Seeds         []string      `mapstructure:"seeds"`
	MaxDepth      int           `mapstructure:"max_depth"`
	MaxPages      int           `mapstructure:"max_pages"`
	MaxPerDomain  int           `mapstructure:"max_per_domain"`
	MaxQueueSize  int           `mapstructure:"max_queue_size"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Delay         time.Duration `mapstructure:"delay"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// FetchConfig configures the fetch executor.
type FetchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	Jitter        bool          `mapstructure:"jitter"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	DomainRPS     float64       `mapstructure:"domain_rps"`
	DomainBurst   int           `mapstructure:"domain_burst"`
}

// RobotsConfig configures the politeness gate.
type RobotsConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	FailOpen      bool          `mapstructure:"fail_open"`
	MaxBytes      int64         `mapstructure:"max_bytes"`
	MaxCrawlDelay time.Duration `mapstructure:"max_crawl_delay"`
}

// RulesConfig selects an extraction preset. Set fields override the preset.
type RulesConfig struct {
	Preset           string   `mapstructure:"preset"`
	CleanPatterns    []string `mapstructure:"clean_patterns"`
	MinContentLength *int     `mapstructure:"min_content_length"`
	MaxContentLength *int     `mapstructure:"max_content_length"`
	RegionHints      []string `mapstructure:"region_hints"`
}

// OutputConfig sets where results and binary payloads are written.
type OutputConfig struct {
	Path       string `mapstructure:"path"`
	PayloadDir string `mapstructure:"payload_dir"`
}

// MetricsConfig controls the operational listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"crawler.seeds",
		"rules.clean_patterns",
		"rules.min_content_length",
		"rules.max_content_length",
		"rules.region_hints",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_depth", 1)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.max_per_domain", 10)
	v.SetDefault("crawler.max_queue_size", 1000)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.delay", time.Second)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_base", time.Second)
	v.SetDefault("fetch.backoff_max", 30*time.Second)
	v.SetDefault("fetch.jitter", false)
	v.SetDefault("fetch.max_redirects", 5)
	v.SetDefault("fetch.max_bytes", 10<<20)
	v.SetDefault("fetch.max_concurrent", 5)
	v.SetDefault("fetch.domain_rps", 0)
	v.SetDefault("fetch.domain_burst", 1)
	v.SetDefault("robots.timeout", 5*time.Second)
	v.SetDefault("robots.fail_open", true)
	v.SetDefault("robots.max_bytes", 512<<10)
	v.SetDefault("robots.max_crawl_delay", 30*time.Second)
	v.SetDefault("rules.preset", rules.PresetDefault)
	v.SetDefault("output.path", "results.jsonl")
	v.SetDefault("output.payload_dir", "payloads")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Crawler.MaxDepth < 0:
		return fmt.Errorf("crawler.max_depth must be >= 0")
	case c.Crawler.MaxPages <= 0:
		return fmt.Errorf("crawler.max_pages must be > 0")
	case c.Crawler.MaxPerDomain < 0:
		return fmt.Errorf("crawler.max_per_domain must be >= 0")
	case c.Crawler.MaxQueueSize < 0:
		return fmt.Errorf("crawler.max_queue_size must be >= 0")
	case c.Crawler.Delay < 0:
		return fmt.Errorf("crawler.delay must be >= 0")
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("fetch.timeout must be > 0")
	case c.Fetch.MaxRetries <= 0:
		return fmt.Errorf("fetch.max_retries must be > 0")
	case c.Fetch.MaxRedirects < 0:
		return fmt.Errorf("fetch.max_redirects must be >= 0")
	case c.Fetch.MaxBytes <= 0:
		return fmt.Errorf("fetch.max_bytes must be > 0")
	case c.Fetch.MaxConcurrent <= 0:
		return fmt.Errorf("fetch.max_concurrent must be > 0")
	case c.Fetch.DomainRPS < 0:
		return fmt.Errorf("fetch.domain_rps must be >= 0")
	case c.Robots.Timeout <= 0:
		return fmt.Errorf("robots.timeout must be > 0")
	case c.Robots.MaxBytes <= 0:
		return fmt.Errorf("robots.max_bytes must be > 0")
	}
	if _, err := c.ExtractionRules(); err != nil {
		return err
	}
	return nil
}

// ExtractionRules resolves the preset and applies explicit overrides.
func (c Config) ExtractionRules() (rules.Rules, error) {
	r, err := rules.ByName(c.Rules.Preset)
	if err != nil {
		return rules.Rules{}, err
	}
	if c.Rules.CleanPatterns != nil {
		r.CleanPatterns = c.Rules.CleanPatterns
	}
	if c.Rules.MinContentLength != nil {
		r.MinContentLength = *c.Rules.MinContentLength
	}
	if c.Rules.MaxContentLength != nil {
		r.MaxContentLength = *c.Rules.MaxContentLength
	}
	if c.Rules.RegionHints != nil {
		r.RegionHints = c.Rules.RegionHints
	}
	if err := r.Validate(); err != nil {
		return rules.Rules{}, fmt.Errorf("rules: %w", err)
	}
	return r, nil
}

// CrawlConfig builds the session bounds, appending extraSeeds to the
// configured seeds.
func (c Config) CrawlConfig(extraSeeds ...string) (crawler.Config, error) {
	r, err := c.ExtractionRules()
	if err != nil {
		return crawler.Config{}, err
	}
	seeds := append(append([]string(nil), c.Crawler.Seeds...), extraSeeds...)
	return crawler.Config{
		Seeds:             seeds,
		Rules:             r,
		MaxDepth:          c.Crawler.MaxDepth,
		MaxPages:          c.Crawler.MaxPages,
		MaxPerDomain:      c.Crawler.MaxPerDomain,
		MaxQueueSize:      c.Crawler.MaxQueueSize,
		RespectPoliteness: c.Crawler.RespectRobots,
		Delay:             c.Crawler.Delay,
	}, nil
}
