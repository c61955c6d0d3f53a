package extractor_config

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	motmedelEnv "github.com/Motmedel/utils_go/pkg/env"

	"github.com/Motmedel/tldextract_go/pkg/disk_cache"
)

const CacheTimeoutEnvironmentVariableName = "TLDEXTRACT_CACHE_TIMEOUT"

// DefaultSuffixListUrls points at the canonical Public Suffix List document
// and a mirror, tried in order.
var DefaultSuffixListUrls = []string{
	"https://publicsuffix.org/list/public_suffix_list.dat",
	"https://raw.githubusercontent.com/publicsuffix/list/master/public_suffix_list.dat",
}

type Option func(*Config)

type Config struct {
	CacheDirPath             string
	SuffixListUrls           []string
	FallbackToSnapshot       bool
	IncludePslPrivateDomains bool
	ExtraSuffixes            []string
	CacheFetchTimeout        time.Duration
	HttpClient               *http.Client
}

func New(options ...Option) *Config {
	config := &Config{
		CacheDirPath:       disk_cache.GetCacheDir(),
		SuffixListUrls:     slices.Clone(DefaultSuffixListUrls),
		FallbackToSnapshot: true,
		CacheFetchTimeout:  cacheTimeoutFromEnvironment(),
		HttpClient:         http.DefaultClient,
	}

	for _, option := range options {
		if option != nil {
			option(config)
		}
	}

	urls := make([]string, 0, len(config.SuffixListUrls))
	for _, urlString := range config.SuffixListUrls {
		if trimmed := strings.TrimSpace(urlString); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	config.SuffixListUrls = urls

	return config
}

func cacheTimeoutFromEnvironment() time.Duration {
	value := motmedelEnv.GetEnvWithDefault(CacheTimeoutEnvironmentVariableName, "")
	if value == "" {
		return 0
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn(fmt.Sprintf("parse %s: %v", CacheTimeoutEnvironmentVariableName, err))
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// WithCacheDirPath overrides the cache root directory. An empty path
// disables disk caching entirely.
func WithCacheDirPath(cacheDirPath string) Option {
	return func(config *Config) {
		config.CacheDirPath = cacheDirPath
	}
}

// WithSuffixListUrls overrides the mirror URLs. A nil or empty slice
// disables network fetching.
func WithSuffixListUrls(suffixListUrls []string) Option {
	return func(config *Config) {
		config.SuffixListUrls = slices.Clone(suffixListUrls)
	}
}

func WithFallbackToSnapshot(fallbackToSnapshot bool) Option {
	return func(config *Config) {
		config.FallbackToSnapshot = fallbackToSnapshot
	}
}

// WithIncludePslPrivateDomains sets the instance default for whether
// private-section entries count as suffixes.
func WithIncludePslPrivateDomains(includePslPrivateDomains bool) Option {
	return func(config *Config) {
		config.IncludePslPrivateDomains = includePslPrivateDomains
	}
}

// WithExtraSuffixes adds caller-supplied rules on top of the fetched ones.
func WithExtraSuffixes(extraSuffixes []string) Option {
	return func(config *Config) {
		config.ExtraSuffixes = slices.Clone(extraSuffixes)
	}
}

func WithCacheFetchTimeout(cacheFetchTimeout time.Duration) Option {
	return func(config *Config) {
		config.CacheFetchTimeout = cacheFetchTimeout
	}
}

func WithHttpClient(httpClient *http.Client) Option {
	return func(config *Config) {
		config.HttpClient = httpClient
	}
}
