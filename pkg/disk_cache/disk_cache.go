// Package disk_cache is a process-shared, file-lock-guarded JSON memoization
// layer. Entries are one file per (namespace, hashed-arguments) pair under a
// cache root directory shared by any process pointed at it.
package disk_cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	motmedelEnv "github.com/Motmedel/utils_go/pkg/env"
	motmedelErrors "github.com/Motmedel/utils_go/pkg/errors"
	"github.com/gofrs/flock"

	diskCacheErrors "github.com/Motmedel/tldextract_go/pkg/disk_cache/errors"
)

const Version = "0.1.0"

const (
	CacheEnvironmentVariableName = "TLDEXTRACT_CACHE"
	// FileExtension is deliberately unique so that Clear on a misconfigured
	// cache directory cannot remove unrelated files.
	FileExtension      = ".tldextract.json"
	LockFileExtension  = ".lock"
	UrlsNamespace      = "urls"
	DefaultLockTimeout = 20 * time.Second

	lockRetryDelay = 100 * time.Millisecond
)

// packageUniqueIdentifier namespaces the default cache directory per Go
// toolchain and package version so differently-built programs do not corrupt
// each other's entries.
func packageUniqueIdentifier() string {
	return fmt.Sprintf("%s__tldextract_go-%s", runtime.Version(), Version)
}

// GetCacheDir resolves the default cache root: the TLDEXTRACT_CACHE
// environment variable, then an XDG_CACHE_HOME- or HOME-derived directory,
// then a temp-directory fallback when no home can be resolved.
func GetCacheDir() string {
	if cacheDirPath := motmedelEnv.GetEnvWithDefault(CacheEnvironmentVariableName, ""); cacheDirPath != "" {
		return cacheDirPath
	}

	xdgCacheHome := motmedelEnv.GetEnvWithDefault("XDG_CACHE_HOME", "")
	if xdgCacheHome == "" {
		homeDirPath, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "tldextract_go", ".suffix_cache")
		}
		xdgCacheHome = filepath.Join(homeDirPath, ".cache")
	}

	return filepath.Join(xdgCacheHome, "go-tldextract", packageUniqueIdentifier())
}

type Cache struct {
	CacheDirPath string
	LockTimeout  time.Duration

	enabled bool
	// Guards the degraded-mode warning so repeated calls cannot spam logs.
	didLogUnableToCache atomic.Bool
}

// New returns a cache rooted at cacheDirPath. An empty path disables
// caching; every lookup then misses and every computation runs directly.
func New(cacheDirPath string) *Cache {
	return &Cache{
		CacheDirPath: cacheDirPath,
		LockTimeout:  DefaultLockTimeout,
		enabled:      cacheDirPath != "",
	}
}

func (cache *Cache) Enabled() bool {
	return cache != nil && cache.enabled
}

// makeCacheKey content-addresses the filtered argument subset. json.Marshal
// writes map keys in sorted order, so the digest is deterministic.
func makeCacheKey(keyArgs map[string]any) (string, error) {
	data, err := json.Marshal(keyArgs)
	if err != nil {
		return "", motmedelErrors.NewWithTrace(fmt.Errorf("json marshal: %w", err), keyArgs)
	}

	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:]), nil
}

func (cache *Cache) entryPath(namespace string, keyArgs map[string]any) (string, error) {
	hashedKey, err := makeCacheKey(keyArgs)
	if err != nil {
		return "", fmt.Errorf("make cache key: %w", err)
	}

	return filepath.Join(cache.CacheDirPath, namespace, hashedKey+FileExtension), nil
}

// Get retrieves a value from the disk cache. A missing, unreadable or
// corrupt entry surfaces as ErrNotFound.
func Get[T any](cache *Cache, namespace string, keyArgs map[string]any) (T, error) {
	var value T

	if cache == nil {
		return value, motmedelErrors.NewWithTrace(diskCacheErrors.ErrNilCache)
	}
	if !cache.enabled {
		return value, motmedelErrors.New(
			fmt.Errorf("%w: cache is disabled", diskCacheErrors.ErrNotFound),
			namespace, keyArgs,
		)
	}

	entryPath, err := cache.entryPath(namespace, keyArgs)
	if err != nil {
		return value, fmt.Errorf("entry path: %w", err)
	}

	data, err := os.ReadFile(entryPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn(fmt.Sprintf("error reading cache file %s: %v", entryPath, err))
		}
		return value, motmedelErrors.New(fmt.Errorf("%w: %v", diskCacheErrors.ErrNotFound, err), namespace, keyArgs)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		slog.Warn(fmt.Sprintf("error reading cache file %s: %v", entryPath, err))
		return value, motmedelErrors.New(fmt.Errorf("%w: %v", diskCacheErrors.ErrNotFound, err), namespace, keyArgs)
	}

	return value, nil
}

// Set stores a value in the disk cache. Filesystem failures degrade to a
// once-per-instance warning rather than an error; correctness is preserved,
// only caching is lost.
func (cache *Cache) Set(namespace string, keyArgs map[string]any, value any) error {
	if cache == nil {
		return motmedelErrors.NewWithTrace(diskCacheErrors.ErrNilCache)
	}
	if !cache.enabled {
		return nil
	}

	entryPath, err := cache.entryPath(namespace, keyArgs)
	if err != nil {
		return fmt.Errorf("entry path: %w", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return motmedelErrors.New(fmt.Errorf("json marshal: %w", err), value)
	}

	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		cache.warnUnableToCache(namespace, keyArgs, entryPath, err)
		return nil
	}
	if err := os.WriteFile(entryPath, data, 0o644); err != nil {
		cache.warnUnableToCache(namespace, keyArgs, entryPath, err)
		return nil
	}

	return nil
}

// Clear removes every cache entry and lock file under the cache root. Other
// files are left alone.
func (cache *Cache) Clear() error {
	if cache == nil || !cache.enabled {
		return nil
	}

	walkErr := filepath.WalkDir(cache.CacheDirPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, FileExtension) && !strings.HasSuffix(path, FileExtension+LockFileExtension) {
			return nil
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		return motmedelErrors.New(fmt.Errorf("walk dir: %w", walkErr), cache.CacheDirPath)
	}

	return nil
}

func (cache *Cache) warnUnableToCache(namespace string, keyArgs map[string]any, entryPath string, err error) {
	if cache.didLogUnableToCache.CompareAndSwap(false, true) {
		slog.Warn(
			fmt.Sprintf(
				"unable to cache %s.%v in %s. This could refresh the Public Suffix List over HTTP "+
					"every app startup. Use a writable cache directory or disable caching to silence "+
					"this warning. %v",
				namespace, keyArgs, entryPath, err,
			),
		)
	}
}

// RunAndCache memoizes fn under (namespace, the args named by
// hashedArgNames). The computation runs under an exclusive file lock with a
// double-checked read, so concurrent processes racing on the same entry
// compute it once; losers of the race re-read the populated entry. Lock
// acquisition is bounded by the cache's LockTimeout and a timeout is a hard
// error for the caller. An uncreatable cache directory degrades to calling
// fn directly.
func RunAndCache[T any](
	ctx context.Context,
	cache *Cache,
	namespace string,
	args map[string]any,
	hashedArgNames []string,
	fn func() (T, error),
) (T, error) {
	var value T

	if cache == nil {
		return value, motmedelErrors.NewWithTrace(diskCacheErrors.ErrNilCache)
	}
	if !cache.enabled {
		return fn()
	}

	keyArgs := make(map[string]any, len(hashedArgNames))
	for _, name := range hashedArgNames {
		if argValue, ok := args[name]; ok {
			keyArgs[name] = argValue
		}
	}

	entryPath, err := cache.entryPath(namespace, keyArgs)
	if err != nil {
		return value, fmt.Errorf("entry path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		cache.warnUnableToCache(namespace, keyArgs, entryPath, err)
		return fn()
	}

	lockCtx := ctx
	if cache.LockTimeout > 0 {
		var cancelLockCtx context.CancelFunc
		lockCtx, cancelLockCtx = context.WithTimeout(ctx, cache.LockTimeout)
		defer cancelLockCtx()
	}

	fileLock := flock.New(entryPath + LockFileExtension)
	locked, lockErr := fileLock.TryLockContext(lockCtx, lockRetryDelay)
	if lockErr != nil {
		return value, motmedelErrors.New(
			fmt.Errorf("%w: %w", diskCacheErrors.ErrLockNotAcquired, lockErr),
			entryPath,
		)
	}
	if !locked {
		return value, motmedelErrors.NewWithTrace(diskCacheErrors.ErrLockNotAcquired, entryPath)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn(fmt.Sprintf("unlock cache lock file: %v", err))
		}
	}()

	cachedValue, err := Get[T](cache, namespace, keyArgs)
	if err == nil {
		return cachedValue, nil
	}
	if !errors.Is(err, diskCacheErrors.ErrNotFound) {
		return value, fmt.Errorf("cache get: %w", err)
	}

	value, err = fn()
	if err != nil {
		return value, err
	}

	if err := cache.Set(namespace, keyArgs, value); err != nil {
		return value, fmt.Errorf("cache set: %w", err)
	}

	return value, nil
}

// CachedFetchUrl fetches a URL's body as text, memoized in the "urls"
// namespace keyed by the URL alone.
func CachedFetchUrl(
	ctx context.Context,
	cache *Cache,
	httpClient *http.Client,
	urlString string,
	timeout time.Duration,
) (string, error) {
	return RunAndCache(
		ctx,
		cache,
		UrlsNamespace,
		map[string]any{"url": urlString},
		[]string{"url"},
		func() (string, error) {
			return fetchUrl(ctx, httpClient, urlString, timeout)
		},
	)
}

func fetchUrl(ctx context.Context, httpClient *http.Client, urlString string, timeout time.Duration) (string, error) {
	// Local suffix list documents are supported the same way remote ones
	// are, via file:// URLs.
	if path, found := strings.CutPrefix(urlString, "file://"); found {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", motmedelErrors.New(fmt.Errorf("os read file: %w", err), urlString)
		}
		return string(data), nil
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	requestCtx := ctx
	if timeout > 0 {
		var cancelRequestCtx context.CancelFunc
		requestCtx, cancelRequestCtx = context.WithTimeout(ctx, timeout)
		defer cancelRequestCtx()
	}

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, urlString, nil)
	if err != nil {
		return "", motmedelErrors.NewWithTrace(fmt.Errorf("http new request: %w", err), urlString)
	}

	response, err := httpClient.Do(request)
	if err != nil {
		return "", motmedelErrors.New(fmt.Errorf("http client do: %w", err), urlString)
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			slog.Warn(fmt.Sprintf("close response body: %v", err))
		}
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", motmedelErrors.New(
			fmt.Errorf("%w: %d", diskCacheErrors.ErrUnexpectedStatusCode, response.StatusCode),
			urlString,
		)
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return "", motmedelErrors.New(fmt.Errorf("io read all: %w", err), urlString)
	}

	return string(data), nil
}
