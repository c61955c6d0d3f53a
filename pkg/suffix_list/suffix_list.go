// Package suffix_list obtains and parses Public Suffix List text, with a
// deterministic fallback chain: disk cache, then the mirror URLs in order,
// then a bundled snapshot.
package suffix_list

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	motmedelErrors "github.com/Motmedel/utils_go/pkg/errors"

	"github.com/Motmedel/tldextract_go/pkg/disk_cache"
	diskCacheErrors "github.com/Motmedel/tldextract_go/pkg/disk_cache/errors"
	suffixListErrors "github.com/Motmedel/tldextract_go/pkg/suffix_list/errors"
)

const (
	Namespace                    = "publicsuffix.org-tlds"
	PublicPrivateSuffixSeparator = "// ===BEGIN PRIVATE DOMAINS==="
)

// A rule is the token starting a non-comment line, optionally prefixed with
// "*." or "!". Lines beginning with anything else are comments.
var suffixPattern = regexp.MustCompile(`(?m)^([.*!]*[\p{L}\p{N}_]\S*)`)

//go:embed tld_set_snapshot.dat
var snapshotData []byte

// SuffixLists is the parsed form of a suffix list document: the ICANN
// section's rules and the private-domain section's rules.
type SuffixLists struct {
	Public  []string `json:"public"`
	Private []string `json:"private"`
}

// Parse splits raw suffix list text into its public and private rule lists.
func Parse(suffixListText string) SuffixLists {
	publicText, privateText, _ := strings.Cut(suffixListText, PublicPrivateSuffixSeparator)

	return SuffixLists{
		Public:  extractSuffixes(publicText),
		Private: extractSuffixes(privateText),
	}
}

func extractSuffixes(text string) []string {
	var suffixes []string
	for _, groups := range suffixPattern.FindAllStringSubmatch(text, -1) {
		suffixes = append(suffixes, groups[1])
	}
	return suffixes
}

// GetSuffixLists fetches, parses and caches the suffix lists. The result is
// memoized on disk under a fixed namespace keyed by the mirror URL set and
// the fallback flag.
func GetSuffixLists(
	ctx context.Context,
	cache *disk_cache.Cache,
	urls []string,
	httpClient *http.Client,
	timeout time.Duration,
	fallbackToSnapshot bool,
) (SuffixLists, error) {
	suffixLists, err := disk_cache.RunAndCache(
		ctx,
		cache,
		Namespace,
		map[string]any{"urls": urls, "fallbackToSnapshot": fallbackToSnapshot},
		[]string{"urls", "fallbackToSnapshot"},
		func() (SuffixLists, error) {
			return getSuffixLists(ctx, cache, urls, httpClient, timeout, fallbackToSnapshot)
		},
	)
	if err != nil {
		return SuffixLists{}, fmt.Errorf("run and cache: %w", err)
	}

	return suffixLists, nil
}

func getSuffixLists(
	ctx context.Context,
	cache *disk_cache.Cache,
	urls []string,
	httpClient *http.Client,
	timeout time.Duration,
	fallbackToSnapshot bool,
) (SuffixLists, error) {
	text, err := findFirstResponse(ctx, cache, urls, httpClient, timeout)
	if err != nil {
		if !errors.Is(err, suffixListErrors.ErrSuffixListNotFound) || !fallbackToSnapshot {
			return SuffixLists{}, err
		}
		text = string(snapshotData)
	}

	return Parse(text), nil
}

// findFirstResponse returns the text of the first mirror that answers. A
// failing mirror is logged and skipped; a lock-acquisition failure is a hard
// error and is not retried against further mirrors.
func findFirstResponse(
	ctx context.Context,
	cache *disk_cache.Cache,
	urls []string,
	httpClient *http.Client,
	timeout time.Duration,
) (string, error) {
	for _, urlString := range urls {
		text, err := disk_cache.CachedFetchUrl(ctx, cache, httpClient, urlString, timeout)
		if err != nil {
			if errors.Is(err, diskCacheErrors.ErrLockNotAcquired) {
				return "", fmt.Errorf("cached fetch url: %w", err)
			}
			slog.Warn(fmt.Sprintf("error reading public suffix list url %s: %v", urlString, err))
			continue
		}
		return text, nil
	}

	return "", motmedelErrors.NewWithTrace(
		fmt.Errorf("%w: consider using a mirror or the bundled snapshot", suffixListErrors.ErrSuffixListNotFound),
		urls,
	)
}
