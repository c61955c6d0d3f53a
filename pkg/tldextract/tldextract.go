// Package tldextract separates a URL's hostname into its subdomain,
// registrable domain and public suffix using the Public Suffix List.
package tldextract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	motmedelErrors "github.com/Motmedel/utils_go/pkg/errors"
	"github.com/Motmedel/utils_go/pkg/sync/cache_group"

	"github.com/Motmedel/tldextract_go/pkg/disk_cache"
	"github.com/Motmedel/tldextract_go/pkg/netloc"
	"github.com/Motmedel/tldextract_go/pkg/suffix_list"
	"github.com/Motmedel/tldextract_go/pkg/suffix_trie"
	tldextractErrors "github.com/Motmedel/tldextract_go/pkg/tldextract/errors"
	"github.com/Motmedel/tldextract_go/pkg/tldextract/extractor_config"
	"github.com/Motmedel/tldextract_go/pkg/tldextract/types/extract_result"
)

// PrivateDomainsMode resolves the per-call choice of whether private-section
// entries count as suffixes; Default defers to the extractor's configured
// value.
type PrivateDomainsMode int

const (
	PrivateDomainsDefault PrivateDomainsMode = iota
	PrivateDomainsInclude
	PrivateDomainsExclude
)

const trieSetKey = "suffix lists"

// Extractor splits hostnames against a lazily obtained, memoized rule-set
// snapshot. The snapshot is computed at most once per Update cycle even
// under concurrent first use, and extraction itself is pure and lock-free.
type Extractor struct {
	Config *extractor_config.Config

	cache        *disk_cache.Cache
	trieSetGroup atomic.Pointer[cache_group.Group[*suffix_trie.Set]]
}

func New(options ...extractor_config.Option) (*Extractor, error) {
	config := extractor_config.New(options...)

	if len(config.SuffixListUrls) == 0 && config.CacheDirPath == "" && !config.FallbackToSnapshot {
		return nil, motmedelErrors.NewWithTrace(tldextractErrors.ErrNoDataSources)
	}

	extractor := &Extractor{Config: config, cache: disk_cache.New(config.CacheDirPath)}
	extractor.trieSetGroup.Store(&cache_group.Group[*suffix_trie.Set]{})

	return extractor, nil
}

func (extractor *Extractor) includePrivate(mode PrivateDomainsMode) bool {
	switch mode {
	case PrivateDomainsInclude:
		return true
	case PrivateDomainsExclude:
		return false
	default:
		return extractor.Config.IncludePslPrivateDomains
	}
}

// Extract leniently parses the hostname out of a URL-or-bare-hostname
// string and splits it.
func (extractor *Extractor) Extract(
	ctx context.Context,
	urlString string,
	mode PrivateDomainsMode,
) (extract_result.Result, error) {
	return extractor.ExtractNetloc(ctx, netloc.LenientNetloc(urlString), mode)
}

// ExtractNetloc splits an already-extracted netloc. Literal IPv4 and
// bracketed IPv6 hosts become the whole Domain with no suffix; the IP
// interpretation applies only when the entire host is address-shaped, so
// e.g. "216.22.project.coop" stays a domain.
func (extractor *Extractor) ExtractNetloc(
	ctx context.Context,
	netlocString string,
	mode PrivateDomainsMode,
) (extract_result.Result, error) {
	if extractor == nil {
		return extract_result.Result{}, motmedelErrors.NewWithTrace(tldextractErrors.ErrNilExtractor)
	}

	netlocWithAsciiDots := netloc.ReplaceUnicodeDots(netlocString)

	const minNumIpv6Chars = 4
	if len(netlocWithAsciiDots) >= minNumIpv6Chars &&
		netlocWithAsciiDots[0] == '[' &&
		netlocWithAsciiDots[len(netlocWithAsciiDots)-1] == ']' &&
		netloc.LooksLikeIpv6(netlocWithAsciiDots[1:len(netlocWithAsciiDots)-1]) {
		return extract_result.Result{Domain: netlocWithAsciiDots}, nil
	}

	labels := strings.Split(netlocWithAsciiDots, ".")
	decodedLabels := make([]string, len(labels))
	for i, label := range labels {
		decodedLabels[i] = netloc.DecodePunycode(label)
	}

	trieSet, err := extractor.trieSet(ctx)
	if err != nil {
		return extract_result.Result{}, fmt.Errorf("trie set: %w", err)
	}

	match := trieSet.Trie(extractor.includePrivate(mode)).SuffixIndex(decodedLabels)

	const numIpv4Labels = 4
	if match.PublicIndex == len(labels) && len(labels) == numIpv4Labels &&
		netloc.LooksLikeIpv4(netlocWithAsciiDots) {
		return extract_result.Result{Domain: netlocWithAsciiDots}, nil
	}

	result := extract_result.Result{
		Suffix:         strings.Join(labels[match.PublicIndex:], "."),
		RegistrySuffix: strings.Join(labels[match.RegistryIndex:], "."),
		IsPrivate:      match.Private,
	}
	if match.PublicIndex > 0 {
		result.Domain = labels[match.PublicIndex-1]
		result.Subdomain = strings.Join(labels[:match.PublicIndex-1], ".")
	}

	return result, nil
}

// trieSet returns the memoized rule-set snapshot, obtaining it on first use
// from the cache, the mirrors, or the bundled snapshot.
func (extractor *Extractor) trieSet(ctx context.Context) (*suffix_trie.Set, error) {
	group := extractor.trieSetGroup.Load()
	return group.Do(trieSetKey, func() (*suffix_trie.Set, error) {
		config := extractor.Config

		suffixLists, err := suffix_list.GetSuffixLists(
			ctx,
			extractor.cache,
			config.SuffixListUrls,
			config.HttpClient,
			config.CacheFetchTimeout,
			config.FallbackToSnapshot,
		)
		if err != nil {
			return nil, fmt.Errorf("get suffix lists: %w", err)
		}

		if len(suffixLists.Public) == 0 && len(suffixLists.Private) == 0 && len(config.ExtraSuffixes) == 0 {
			return nil, motmedelErrors.NewWithTrace(tldextractErrors.ErrNoTlds)
		}

		return suffix_trie.NewSet(suffixLists.Public, suffixLists.Private, config.ExtraSuffixes), nil
	})
}

// Update discards the in-process snapshot and the disk cache entries, and
// optionally fetches the latest suffix list definitions right away.
func (extractor *Extractor) Update(ctx context.Context, fetchNow bool) error {
	if extractor == nil {
		return motmedelErrors.NewWithTrace(tldextractErrors.ErrNilExtractor)
	}

	extractor.trieSetGroup.Store(&cache_group.Group[*suffix_trie.Set]{})
	if err := extractor.cache.Clear(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}

	if fetchNow {
		if _, err := extractor.trieSet(ctx); err != nil {
			return fmt.Errorf("trie set: %w", err)
		}
	}

	return nil
}

// Tlds returns the currently active rule strings, which vary with the
// private-domains mode and any extra suffixes.
func (extractor *Extractor) Tlds(ctx context.Context, mode PrivateDomainsMode) ([]string, error) {
	if extractor == nil {
		return nil, motmedelErrors.NewWithTrace(tldextractErrors.ErrNilExtractor)
	}

	trieSet, err := extractor.trieSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("trie set: %w", err)
	}

	return trieSet.Tlds(extractor.includePrivate(mode)), nil
}

var defaultExtractor = sync.OnceValues(func() (*Extractor, error) {
	return New()
})

// Extract splits a URL-or-hostname string using a shared default extractor.
func Extract(ctx context.Context, urlString string, mode PrivateDomainsMode) (extract_result.Result, error) {
	extractor, err := defaultExtractor()
	if err != nil {
		return extract_result.Result{}, fmt.Errorf("new extractor: %w", err)
	}
	return extractor.Extract(ctx, urlString, mode)
}

// Update refreshes the shared default extractor's suffix data.
func Update(ctx context.Context, fetchNow bool) error {
	extractor, err := defaultExtractor()
	if err != nil {
		return fmt.Errorf("new extractor: %w", err)
	}
	return extractor.Update(ctx, fetchNow)
}
