package disk_cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"

	diskCacheErrors "github.com/Motmedel/tldextract_go/pkg/disk_cache/errors"
)

type testEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// collectingHandler records every log message so tests can assert on the
// level and number of emitted log lines.
type collectingHandler struct {
	mutex   sync.Mutex
	records []slog.Record
}

func (handler *collectingHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (handler *collectingHandler) Handle(_ context.Context, record slog.Record) error {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()
	handler.records = append(handler.records, record)
	return nil
}

func (handler *collectingHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return handler
}

func (handler *collectingHandler) WithGroup(_ string) slog.Handler {
	return handler
}

func (handler *collectingHandler) count(level slog.Level, messageSubstring string) int {
	handler.mutex.Lock()
	defer handler.mutex.Unlock()

	numMatches := 0
	for _, record := range handler.records {
		if record.Level == level && strings.Contains(record.Message, messageSubstring) {
			numMatches++
		}
	}
	return numMatches
}

func collectLogs(t *testing.T) *collectingHandler {
	t.Helper()

	handler := &collectingHandler{}
	previousLogger := slog.Default()
	slog.SetDefault(slog.New(handler))
	t.Cleanup(func() { slog.SetDefault(previousLogger) })

	return handler
}

func TestGetCacheDir(t *testing.T) {
	t.Run("environment variable overrides", func(t *testing.T) {
		t.Setenv(CacheEnvironmentVariableName, "/custom/cache/path")
		if got := GetCacheDir(); got != "/custom/cache/path" {
			t.Errorf("GetCacheDir() = %q, want %q", got, "/custom/cache/path")
		}
	})

	t.Run("xdg cache home", func(t *testing.T) {
		t.Setenv(CacheEnvironmentVariableName, "")
		t.Setenv("XDG_CACHE_HOME", "/xdg/cache")

		want := filepath.Join("/xdg/cache", "go-tldextract", packageUniqueIdentifier())
		if got := GetCacheDir(); got != want {
			t.Errorf("GetCacheDir() = %q, want %q", got, want)
		}
	})

	t.Run("home directory fallback", func(t *testing.T) {
		t.Setenv(CacheEnvironmentVariableName, "")
		t.Setenv("XDG_CACHE_HOME", "")
		t.Setenv("HOME", "/home/someone")

		want := filepath.Join("/home/someone", ".cache", "go-tldextract", packageUniqueIdentifier())
		if got := GetCacheDir(); got != want {
			t.Errorf("GetCacheDir() = %q, want %q", got, want)
		}
	})
}

func TestSetAndGet(t *testing.T) {
	cache := New(t.TempDir())

	keyArgs := map[string]any{"url": "http://example.com"}
	value := testEntry{Name: "entry", Count: 3}

	if err := cache.Set("testing", keyArgs, value); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := Get[testEntry](cache, "testing", keyArgs)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if diff := cmp.Diff(value, got); diff != "" {
		t.Errorf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMiss(t *testing.T) {
	cache := New(t.TempDir())

	_, err := Get[testEntry](cache, "testing", map[string]any{"url": "http://example.com"})
	if !errors.Is(err, diskCacheErrors.ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, diskCacheErrors.ErrNotFound)
	}
}

func TestGetCorruptEntry(t *testing.T) {
	handler := collectLogs(t)
	cache := New(t.TempDir())

	keyArgs := map[string]any{"url": "http://example.com"}
	entryPath, err := cache.entryPath("testing", keyArgs)
	if err != nil {
		t.Fatalf("entryPath() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		t.Fatalf("os.MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(entryPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	_, err = Get[testEntry](cache, "testing", keyArgs)
	if !errors.Is(err, diskCacheErrors.ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, diskCacheErrors.ErrNotFound)
	}

	// A corrupt entry is a miss, not a failure; it must not log above warn.
	if numWarnings := handler.count(slog.LevelWarn, "error reading cache file"); numWarnings != 1 {
		t.Errorf("numWarnings = %d, want 1", numWarnings)
	}
	if numErrors := handler.count(slog.LevelError, "error reading cache file"); numErrors != 0 {
		t.Errorf("numErrors = %d, want 0", numErrors)
	}
}

func TestDisabledCache(t *testing.T) {
	cache := New("")

	if cache.Enabled() {
		t.Error("Enabled() = true, want false")
	}

	keyArgs := map[string]any{"url": "http://example.com"}

	if err := cache.Set("testing", keyArgs, testEntry{Name: "entry"}); err != nil {
		t.Errorf("Set() error = %v", err)
	}
	if _, err := Get[testEntry](cache, "testing", keyArgs); !errors.Is(err, diskCacheErrors.ErrNotFound) {
		t.Errorf("Get() error = %v, want %v", err, diskCacheErrors.ErrNotFound)
	}

	// Every run computes; nothing is memoized.
	numCalls := 0
	for range 2 {
		value, err := RunAndCache(
			t.Context(),
			cache,
			"testing",
			map[string]any{"url": "http://example.com"},
			[]string{"url"},
			func() (string, error) {
				numCalls++
				return "computed", nil
			},
		)
		if err != nil {
			t.Fatalf("RunAndCache() error = %v", err)
		}
		if value != "computed" {
			t.Errorf("RunAndCache() = %q, want %q", value, "computed")
		}
	}
	if numCalls != 2 {
		t.Errorf("numCalls = %d, want 2", numCalls)
	}
}

func TestNilCache(t *testing.T) {
	if _, err := Get[testEntry](nil, "testing", nil); !errors.Is(err, diskCacheErrors.ErrNilCache) {
		t.Errorf("Get() error = %v, want %v", err, diskCacheErrors.ErrNilCache)
	}

	var cache *Cache
	if err := cache.Set("testing", nil, nil); !errors.Is(err, diskCacheErrors.ErrNilCache) {
		t.Errorf("Set() error = %v, want %v", err, diskCacheErrors.ErrNilCache)
	}
}

func TestRunAndCache(t *testing.T) {
	cache := New(t.TempDir())

	numCalls := 0
	compute := func() (testEntry, error) {
		numCalls++
		return testEntry{Name: "computed", Count: numCalls}, nil
	}

	args := map[string]any{"url": "http://example.com", "ignored": "value"}

	first, err := RunAndCache(t.Context(), cache, "testing", args, []string{"url"}, compute)
	if err != nil {
		t.Fatalf("RunAndCache() error = %v", err)
	}

	second, err := RunAndCache(t.Context(), cache, "testing", args, []string{"url"}, compute)
	if err != nil {
		t.Fatalf("RunAndCache() error = %v", err)
	}

	if numCalls != 1 {
		t.Errorf("numCalls = %d, want 1", numCalls)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second call mismatch (-first +second):\n%s", diff)
	}

	// A different value for a hashed argument is a different entry.
	otherArgs := map[string]any{"url": "http://example.org"}
	if _, err := RunAndCache(t.Context(), cache, "testing", otherArgs, []string{"url"}, compute); err != nil {
		t.Fatalf("RunAndCache() error = %v", err)
	}
	if numCalls != 2 {
		t.Errorf("numCalls = %d, want 2", numCalls)
	}

	// A different value for an unhashed argument is the same entry.
	sameArgs := map[string]any{"url": "http://example.com", "ignored": "other"}
	if _, err := RunAndCache(t.Context(), cache, "testing", sameArgs, []string{"url"}, compute); err != nil {
		t.Fatalf("RunAndCache() error = %v", err)
	}
	if numCalls != 2 {
		t.Errorf("numCalls = %d, want 2", numCalls)
	}
}

func TestRunAndCacheErrorNotCached(t *testing.T) {
	cache := New(t.TempDir())

	computeErr := fmt.Errorf("compute failed")
	numCalls := 0
	compute := func() (string, error) {
		numCalls++
		if numCalls == 1 {
			return "", computeErr
		}
		return "recovered", nil
	}

	args := map[string]any{"url": "http://example.com"}

	if _, err := RunAndCache(t.Context(), cache, "testing", args, []string{"url"}, compute); !errors.Is(err, computeErr) {
		t.Fatalf("RunAndCache() error = %v, want %v", err, computeErr)
	}

	value, err := RunAndCache(t.Context(), cache, "testing", args, []string{"url"}, compute)
	if err != nil {
		t.Fatalf("RunAndCache() error = %v", err)
	}
	if value != "recovered" {
		t.Errorf("RunAndCache() = %q, want %q", value, "recovered")
	}
	if numCalls != 2 {
		t.Errorf("numCalls = %d, want 2", numCalls)
	}
}

func TestRunAndCacheConcurrentWriters(t *testing.T) {
	cacheDirPath := t.TempDir()

	// Separate cache instances against the same directory stand in for
	// separate processes racing to populate the same empty entry; the file
	// lock plus the double-checked read must let exactly one compute run.
	const numWriters = 8

	var numCalls atomic.Int32
	values := make([]string, numWriters)
	errs := make([]error, numWriters)

	var waitGroup sync.WaitGroup
	for i := range numWriters {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()

			cache := New(cacheDirPath)
			values[i], errs[i] = RunAndCache(
				t.Context(),
				cache,
				"testing",
				map[string]any{"url": "http://example.com"},
				[]string{"url"},
				func() (string, error) {
					numCalls.Add(1)
					time.Sleep(50 * time.Millisecond)
					return "computed", nil
				},
			)
		}()
	}
	waitGroup.Wait()

	for i := range numWriters {
		if errs[i] != nil {
			t.Fatalf("RunAndCache() error = %v", errs[i])
		}
		if values[i] != "computed" {
			t.Errorf("RunAndCache() = %q, want %q", values[i], "computed")
		}
	}
	if got := numCalls.Load(); got != 1 {
		t.Errorf("numCalls = %d, want 1", got)
	}
}

func TestRunAndCacheLockTimeout(t *testing.T) {
	cache := New(t.TempDir())
	cache.LockTimeout = 200 * time.Millisecond

	keyArgs := map[string]any{"url": "http://example.com"}
	entryPath, err := cache.entryPath("testing", keyArgs)
	if err != nil {
		t.Fatalf("entryPath() error = %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		t.Fatalf("os.MkdirAll() error = %v", err)
	}

	fileLock := flock.New(entryPath + LockFileExtension)
	if err := fileLock.Lock(); err != nil {
		t.Fatalf("flock Lock() error = %v", err)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			t.Errorf("flock Unlock() error = %v", err)
		}
	}()

	_, err = RunAndCache(
		t.Context(),
		cache,
		"testing",
		keyArgs,
		[]string{"url"},
		func() (string, error) {
			t.Error("compute function ran while the lock was held")
			return "", nil
		},
	)
	if !errors.Is(err, diskCacheErrors.ErrLockNotAcquired) {
		t.Errorf("RunAndCache() error = %v, want %v", err, diskCacheErrors.ErrLockNotAcquired)
	}
}

func TestRunAndCacheUnwritableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	handler := collectLogs(t)

	parentDirPath := t.TempDir()
	if err := os.Chmod(parentDirPath, 0o555); err != nil {
		t.Fatalf("os.Chmod() error = %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chmod(parentDirPath, 0o755); err != nil {
			t.Errorf("os.Chmod() error = %v", err)
		}
	})

	cache := New(filepath.Join(parentDirPath, "cache"))

	// The unwritable root degrades to direct computation: every call runs
	// the compute function, none fails.
	numCalls := 0
	for expectedNumCalls := 1; expectedNumCalls <= 2; expectedNumCalls++ {
		value, err := RunAndCache(
			t.Context(),
			cache,
			"testing",
			map[string]any{"url": "http://example.com"},
			[]string{"url"},
			func() (string, error) {
				numCalls++
				return "computed", nil
			},
		)
		if err != nil {
			t.Fatalf("RunAndCache() error = %v", err)
		}
		if value != "computed" {
			t.Errorf("RunAndCache() = %q, want %q", value, "computed")
		}
		if numCalls != expectedNumCalls {
			t.Errorf("numCalls = %d, want %d", numCalls, expectedNumCalls)
		}
	}

	if !cache.didLogUnableToCache.Load() {
		t.Error("didLogUnableToCache = false, want true")
	}
	if numWarnings := handler.count(slog.LevelWarn, "unable to cache"); numWarnings != 1 {
		t.Errorf("numWarnings = %d, want 1", numWarnings)
	}
}

func TestClear(t *testing.T) {
	cacheDirPath := t.TempDir()
	cache := New(cacheDirPath)

	keyArgs := map[string]any{"url": "http://example.com"}
	if err := cache.Set("testing", keyArgs, testEntry{Name: "entry"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Unrelated files must survive a clear.
	unrelatedPath := filepath.Join(cacheDirPath, "unrelated.txt")
	if err := os.WriteFile(unrelatedPath, []byte("keep"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if _, err := Get[testEntry](cache, "testing", keyArgs); !errors.Is(err, diskCacheErrors.ErrNotFound) {
		t.Errorf("Get() after Clear() error = %v, want %v", err, diskCacheErrors.ErrNotFound)
	}
	if _, err := os.Stat(unrelatedPath); err != nil {
		t.Errorf("os.Stat(%q) error = %v", unrelatedPath, err)
	}
}

func TestClearMissingDirectory(t *testing.T) {
	cache := New(filepath.Join(t.TempDir(), "does", "not", "exist"))
	if err := cache.Clear(); err != nil {
		t.Errorf("Clear() error = %v", err)
	}
}

func TestCachedFetchUrlFile(t *testing.T) {
	cache := New(t.TempDir())

	documentPath := filepath.Join(t.TempDir(), "suffix_list.dat")
	if err := os.WriteFile(documentPath, []byte("com\nnet\n"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}
	urlString := "file://" + documentPath

	text, err := CachedFetchUrl(t.Context(), cache, nil, urlString, 0)
	if err != nil {
		t.Fatalf("CachedFetchUrl() error = %v", err)
	}
	if text != "com\nnet\n" {
		t.Errorf("CachedFetchUrl() = %q, want %q", text, "com\nnet\n")
	}

	// The second fetch is served from the cache, not the file.
	if err := os.WriteFile(documentPath, []byte("changed"), 0o644); err != nil {
		t.Fatalf("os.WriteFile() error = %v", err)
	}
	text, err = CachedFetchUrl(t.Context(), cache, nil, urlString, 0)
	if err != nil {
		t.Fatalf("CachedFetchUrl() error = %v", err)
	}
	if text != "com\nnet\n" {
		t.Errorf("CachedFetchUrl() = %q, want %q", text, "com\nnet\n")
	}
}

func TestCachedFetchUrlHttp(t *testing.T) {
	numRequests := 0
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		numRequests++
		fmt.Fprint(writer, "com\nnet\n")
	}))
	defer server.Close()

	cache := New(t.TempDir())

	for range 2 {
		text, err := CachedFetchUrl(t.Context(), cache, server.Client(), server.URL, 0)
		if err != nil {
			t.Fatalf("CachedFetchUrl() error = %v", err)
		}
		if text != "com\nnet\n" {
			t.Errorf("CachedFetchUrl() = %q, want %q", text, "com\nnet\n")
		}
	}

	if numRequests != 1 {
		t.Errorf("numRequests = %d, want 1", numRequests)
	}
}

func TestCachedFetchUrlStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	cache := New(t.TempDir())

	_, err := CachedFetchUrl(t.Context(), cache, server.Client(), server.URL, 0)
	if !errors.Is(err, diskCacheErrors.ErrUnexpectedStatusCode) {
		t.Errorf("CachedFetchUrl() error = %v, want %v", err, diskCacheErrors.ErrUnexpectedStatusCode)
	}
}

func TestMakeCacheKeyDeterministic(t *testing.T) {
	first, err := makeCacheKey(map[string]any{"a": 1, "b": "two", "c": []string{"x", "y"}})
	if err != nil {
		t.Fatalf("makeCacheKey() error = %v", err)
	}
	second, err := makeCacheKey(map[string]any{"c": []string{"x", "y"}, "b": "two", "a": 1})
	if err != nil {
		t.Fatalf("makeCacheKey() error = %v", err)
	}
	if first != second {
		t.Errorf("makeCacheKey() = %q and %q, want equal", first, second)
	}
}
