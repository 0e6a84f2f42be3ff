// Package config loads and validates the crawler's TOML configuration,
// grounded on the original client's GlobalConfig/HttpConfig/ScriptConfig
// family but read with BurntSushi/toml and checked with govalidator instead
// of serde.
package config

import (
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// GlobalConfig holds crawl-wide settings that aren't specific to HTTP,
// scripts, or rate limiting.
type GlobalConfig struct {
	MaxHops int `toml:"max_hops" valid:"range(0|1000000)"`
}

// HeaderPair is one extra header sent with every fetch.
type HeaderPair struct {
	Name  string `toml:"name" valid:"required"`
	Value string `toml:"value"`
}

// HTTPConfig controls the fetcher's transport behavior.
type HTTPConfig struct {
	Timeout       Duration     `toml:"timeout" valid:"required"`
	MaxBodyLength int64        `toml:"max_body_length"`
	Headers       []HeaderPair `toml:"headers"`
	UserAgent     string       `toml:"user_agent"`
}

// ScriptFilter decides which responses a script sees: a URL regex and/or a
// set of acceptable content types. An empty filter matches everything.
type ScriptFilter struct {
	URLPattern string   `toml:"url_pattern"`
	MimeTypes  []string `toml:"mime_types"`

	compiled *regexp.Regexp
}

// Compile pre-parses the filter's regex; call it once after loading.
func (f *ScriptFilter) Compile() error {
	if f.URLPattern == "" {
		return nil
	}
	re, err := regexp.Compile(f.URLPattern)
	if err != nil {
		return fmt.Errorf("compiling url_pattern %q: %w", f.URLPattern, err)
	}
	f.compiled = re
	return nil
}

// Matches reports whether meta's URL and content type satisfy the filter.
func (f *ScriptFilter) Matches(meta *model.ResponseMetadata) bool {
	return f.matchesURL(meta.URL.RawURL) && f.matchesType(meta.Headers)
}

func (f *ScriptFilter) matchesURL(rawURL string) bool {
	if f.compiled == nil {
		return true
	}
	return f.compiled.MatchString(rawURL)
}

func (f *ScriptFilter) matchesType(headers http.Header) bool {
	if len(f.MimeTypes) == 0 {
		return true
	}
	contentType := headers.Get("Content-Type")
	if contentType == "" {
		return true
	}
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	for _, want := range f.MimeTypes {
		if mediaRangeMatches(want, parsed) {
			return true
		}
	}
	return false
}

// mediaRangeMatches reports whether a declared media range (e.g. "image/*",
// "*/*", or an exact "text/html") covers parsed, mirroring the original's
// neo_mime::MediaRange matching.
func mediaRangeMatches(want, parsed string) bool {
	if want == parsed || want == "*/*" {
		return true
	}
	wantType, wantSubtype, ok := strings.Cut(want, "/")
	if !ok || wantSubtype != "*" {
		return false
	}
	parsedType, _, ok := strings.Cut(parsed, "/")
	return ok && wantType == parsedType
}

// ScriptConfig describes one scraper subprocess pool.
type ScriptConfig struct {
	Filter  ScriptFilter `toml:"filter"`
	Command string       `toml:"command" valid:"required"`
	Args    []string     `toml:"args"`
	Workers int          `toml:"workers" valid:"range(1|4096)"`
}

// RateLimitingDuration names the unit a rate-limit quota is measured per.
type RateLimitingDuration string

const (
	PerSecond RateLimitingDuration = "second"
	PerMinute RateLimitingDuration = "minute"
	PerHour   RateLimitingDuration = "hour"
)

// RateLimitingConfig bounds concurrency and request rate for every fetch.
type RateLimitingConfig struct {
	MaxTasksPerWorker int                  `toml:"max_tasks_per_worker" valid:"range(1|100000)"`
	N                 int                  `toml:"n" valid:"range(1|1000000)"`
	Per               RateLimitingDuration `toml:"per"`
	Jitter            Duration             `toml:"jitter"`
}

// DefaultRateLimitingConfig matches the original crate's Default impl.
func DefaultRateLimitingConfig() RateLimitingConfig {
	return RateLimitingConfig{
		MaxTasksPerWorker: 16,
		N:                 200,
		Per:               PerSecond,
		Jitter:            Duration(50_000_000), // 50ms
	}
}

// FullConfig is the root of the TOML document.
type FullConfig struct {
	General     GlobalConfig            `toml:"general"`
	RateLimiter RateLimitingConfig      `toml:"ratelimiter"`
	HTTP        HTTPConfig              `toml:"http"`
	Scripts     map[string]ScriptConfig `toml:"scripts"`
}

// Load reads and validates a FullConfig from a TOML file at path.
func Load(path string) (*FullConfig, error) {
	var cfg FullConfig
	cfg.RateLimiter = DefaultRateLimitingConfig()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, model.WrapIO(err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *FullConfig) validate() error {
	if _, err := govalidator.ValidateStruct(c.General); err != nil {
		return fmt.Errorf("general: %w", err)
	}
	if _, err := govalidator.ValidateStruct(c.RateLimiter); err != nil {
		return fmt.Errorf("ratelimiter: %w", err)
	}
	if _, err := govalidator.ValidateStruct(c.HTTP); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	for name, script := range c.Scripts {
		if _, err := govalidator.ValidateStruct(script); err != nil {
			return fmt.Errorf("scripts.%s: %w", name, err)
		}
		filter := script.Filter
		if err := filter.Compile(); err != nil {
			return fmt.Errorf("scripts.%s: %w", name, err)
		}
		script.Filter = filter
		c.Scripts[name] = script
	}

	return nil
}
