package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/traditionalchinese"

	"duiwatch/internal/archive"
	"duiwatch/internal/config"
)

func testRetry() config.RetryPolicy {
	return config.RetryPolicy{
		MaxAttempts:       3,
		InitialDelayMs:    1,
		MaxDelayMs:        5,
		BackoffMultiplier: 1.0,
		TimeoutSec:        5,
	}
}

func newTestFetcher(store archive.Store) *Fetcher {
	return NewFetcherWithClient(&http.Client{Timeout: 5 * time.Second}, testRetry(), config.FetchConfig{AcceptLanguage: "zh-TW"}, store, nil)
}

func TestFetcher_RetriesOn503(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	defer server.Close()

	f := newTestFetcher(nil)

	doc, err := f.Fetch(context.Background(), server.URL+"/list.pdf", FetchOptions{SourceID: "src"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	if string(doc.Body) != "%PDF-1.4 body" {
		t.Errorf("body = %q", doc.Body)
	}

	if doc.ContentType != "application/pdf" {
		t.Errorf("content type = %q", doc.ContentType)
	}

	if len(doc.SHA256) != 64 {
		t.Errorf("expected sha256 digest, got %q", doc.SHA256)
	}

	stats := f.Attempts().Stats()
	if stats.TotalAttempts != 3 || stats.SuccessfulURLs != 1 || stats.FailedAttempts != 2 {
		t.Errorf("unexpected attempt stats: %s", stats)
	}
}

func TestFetcher_ExhaustedRetries(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), server.URL, FetchOptions{})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}

	if !errors.Is(err, ErrUnexpectedStatusCode) {
		t.Errorf("expected wrapped ErrUnexpectedStatusCode, got %v", err)
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *FetchError, got %T", err)
	}

	if fetchErr.Attempts != 3 || fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected FetchError: %+v", fetchErr)
	}

	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestFetcher_NonRetryableStatusFailsFast(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestFetcher(nil).Fetch(context.Background(), server.URL, FetchOptions{})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("404 should not be retried, got %d calls", calls)
	}
}

func TestFetcher_OversizedBodyIsFetchError(t *testing.T) {
	var calls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 " + strings.Repeat("x", 64)))
	}))
	defer server.Close()

	f := newTestFetcher(nil)
	f.maxBody = 32

	_, err := f.Fetch(context.Background(), server.URL, FetchOptions{})
	if !errors.Is(err, ErrBodyTooLarge) || !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrBodyTooLarge fetch error, got %v", err)
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusOK {
		t.Errorf("unexpected FetchError: %+v", fetchErr)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("oversized body should not be retried, got %d calls", calls)
	}

	f.maxBody = 1 << 10

	doc, err := f.Fetch(context.Background(), server.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch() under the limit error = %v", err)
	}

	if len(doc.Body) != 73 {
		t.Errorf("body length = %d, want 73", len(doc.Body))
	}
}

func TestFetcher_SendsBrowserHeadersAndReferer(t *testing.T) {
	var got http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	referer := "https://bureau.example.gov.tw/list"

	if _, err := newTestFetcher(nil).Fetch(context.Background(), server.URL, FetchOptions{Referer: referer}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if got.Get("Referer") != referer {
		t.Errorf("Referer = %q, want %q", got.Get("Referer"), referer)
	}

	if !strings.Contains(got.Get("User-Agent"), "Mozilla/5.0") {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}

	if got.Get("Accept-Language") != "zh-TW" {
		t.Errorf("Accept-Language = %q", got.Get("Accept-Language"))
	}
}

func TestFetcher_DecodesBig5HTML(t *testing.T) {
	page := "<html><body><a href=\"a.pdf\">酒駕累犯名單</a></body></html>"

	encoded, err := traditionalchinese.Big5.NewEncoder().String(page)
	if err != nil {
		t.Fatalf("encode big5: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=big5")
		_, _ = w.Write([]byte(encoded))
	}))
	defer server.Close()

	doc, err := newTestFetcher(nil).Fetch(context.Background(), server.URL, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if !strings.Contains(string(doc.Body), "酒駕累犯名單") {
		t.Errorf("body not decoded to UTF-8: %q", doc.Body)
	}

	if doc.ContentType != "text/html" {
		t.Errorf("content type = %q", doc.ContentType)
	}
}

func TestFetcher_ArchivesRawBytes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer server.Close()

	store := archive.NewFSStore(t.TempDir())

	doc, err := newTestFetcher(store).Fetch(context.Background(), server.URL+"/files/list.pdf", FetchOptions{SourceID: "taichung"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if doc.LocalPath == "" {
		t.Fatal("expected archived local path")
	}

	if !strings.Contains(doc.LocalPath, "taichung") || !strings.HasSuffix(doc.LocalPath, "_list.pdf") {
		t.Errorf("unexpected archive path %q", doc.LocalPath)
	}
}

func TestFetcher_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestFetcher(nil).Fetch(ctx, server.URL, FetchOptions{})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("expected ErrFetchFailed, got %v", err)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{503: true, 504: true, 429: true, 408: true, 500: false, 404: false, 200: false} {
		if got := isRetryableStatus(code); got != want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
