package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"duiwatch/internal/archive"
	"duiwatch/internal/config"
	"duiwatch/internal/logger"
	"duiwatch/internal/models"
	"duiwatch/pkg/metadata"
	"duiwatch/pkg/utils"
)

// Fetch errors.
var (
	ErrFetchFailed          = errors.New("fetch failed")
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	ErrBodyTooLarge         = errors.New("response body exceeds size limit")
)

// FetchError is returned once retries for a URL are exhausted.
type FetchError struct {
	Err        error
	URL        string
	StatusCode int
	Attempts   int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

// Unwrap exposes both ErrFetchFailed and the last underlying error.
func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// FetchOptions tunes a single logical fetch.
type FetchOptions struct {
	Headers  map[string]string
	Referer  string
	SourceID string
	Timeout  time.Duration
}

// Fetcher downloads documents politely: every request waits on a shared
// limiter, transient failures are retried with backoff and the raw bytes
// are archived.
type Fetcher struct {
	client   *http.Client
	retry    config.RetryPolicy
	fetch    config.FetchConfig
	limiter  *rate.Limiter
	archive  archive.Store
	attempts *AttemptLog
	log      *logger.Logger
	now      func() time.Time
	maxBody  int64
}

// NewFetcher creates a fetcher from config.
func NewFetcher(cfg *config.Config, store archive.Store, log *logger.Logger) *Fetcher {
	client := &http.Client{Timeout: cfg.Retry.GetTimeout()}

	return NewFetcherWithClient(client, cfg.Retry, cfg.Fetch, store, log)
}

// NewFetcherWithClient creates a fetcher around an existing HTTP client.
func NewFetcherWithClient(client *http.Client, retry config.RetryPolicy, fetch config.FetchConfig, store archive.Store, log *logger.Logger) *Fetcher {
	if store == nil {
		store = archive.Nop{}
	}

	if log == nil {
		log = logger.NewNop()
	}

	if fetch.UserAgent == "" {
		fetch.UserAgent = config.DefaultUserAgent
	}

	if fetch.MaxBodyMB == 0 {
		fetch.MaxBodyMB = 50
	}

	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	limit := rate.Inf
	if fetch.MinDelayMs > 0 {
		limit = rate.Every(fetch.MinDelay())
	}

	return &Fetcher{
		client:   client,
		retry:    retry,
		fetch:    fetch,
		limiter:  rate.NewLimiter(limit, 1),
		archive:  store,
		attempts: NewAttemptLog(),
		log:      log,
		now:      time.Now,
		maxBody:  fetch.MaxBodyBytes(),
	}
}

// Attempts returns the attempt log shared by every fetch of this fetcher.
func (f *Fetcher) Attempts() *AttemptLog {
	return f.attempts
}

// Fetch downloads url, retrying transient failures. HTML bodies are decoded
// to UTF-8; the archived copy keeps the original bytes.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts FetchOptions) (*models.RawDocument, error) {
	var (
		lastErr    error
		lastStatus int
	)

	attempt := 1
	for ; attempt <= f.retry.MaxAttempts; attempt++ {
		if delay := f.retry.GetRetryDelay(attempt); delay > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return nil, &FetchError{URL: url, Attempts: attempt - 1, StatusCode: lastStatus, Err: err}
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{URL: url, Attempts: attempt - 1, StatusCode: lastStatus, Err: err}
		}

		start := time.Now()
		body, resp, err := f.do(ctx, url, opts)
		duration := time.Since(start)

		if err != nil {
			lastErr = err
			f.attempts.Record(url, false, err, 0, duration)
			f.log.Warn("⚠️  Request failed", "url", url, "attempt", attempt, "error", err)

			if resp != nil {
				lastStatus = resp.StatusCode
			}

			if ctx.Err() != nil || errors.Is(err, ErrBodyTooLarge) {
				break
			}

			continue
		}

		lastStatus = resp.StatusCode
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
			f.attempts.Record(url, false, lastErr, resp.StatusCode, duration)
			f.log.Warn("⚠️  Unexpected status", "url", url, "attempt", attempt, "status", resp.StatusCode)

			if !isRetryableStatus(resp.StatusCode) {
				break
			}

			continue
		}

		f.attempts.Record(url, true, nil, resp.StatusCode, duration)

		return f.buildDocument(ctx, url, opts, resp.Header.Get("Content-Type"), body), nil
	}

	if attempt > f.retry.MaxAttempts {
		attempt = f.retry.MaxAttempts
	}

	return nil, &FetchError{URL: url, Attempts: attempt, StatusCode: lastStatus, Err: lastErr}
}

func (f *Fetcher) do(ctx context.Context, url string, opts FetchOptions) ([]byte, *http.Response, error) {
	reqCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc

		reqCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header = utils.BrowserHeaders(f.fetch.UserAgent, f.fetch.AcceptLanguage, opts.Referer, opts.Headers)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

		return nil, resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(body)) > f.maxBody {
		return nil, resp, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody)
	}

	return body, resp, nil
}

func (f *Fetcher) buildDocument(ctx context.Context, url string, opts FetchOptions, contentType string, raw []byte) *models.RawDocument {
	now := f.now()
	digest := metadata.Digest(raw)

	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}

	doc := &models.RawDocument{
		SourceID:     opts.SourceID,
		URL:          url,
		Referer:      opts.Referer,
		DownloadedAt: now,
		ContentType:  utils.MediaType(contentType),
		SHA256:       digest,
		Body:         raw,
	}

	if isHTML(doc.ContentType) {
		doc.Body = decodeHTML(raw, contentType)
	}

	key := archive.RawKey(opts.SourceID, now, utils.BaseName(url), digest)

	loc, err := f.archive.Put(ctx, key, doc.ContentType, raw)
	if err != nil {
		f.log.Warn("⚠️  Failed to archive document", "url", url, "key", key, "error", err)
	} else {
		doc.LocalPath = loc
	}

	return doc
}

// LoadLocal reads a document from disk, for offline extraction.
func LoadLocal(path, sourceID string) (*models.RawDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local file %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	contentType := http.DetectContentType(raw)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		contentType = "application/pdf"
	}

	return &models.RawDocument{
		SourceID:     sourceID,
		URL:          "file://" + path,
		LocalPath:    path,
		DownloadedAt: info.ModTime(),
		ContentType:  utils.MediaType(contentType),
		Title:        filepath.Base(path),
		SHA256:       metadata.Digest(raw),
		Body:         raw,
	}, nil
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// decodeHTML converts a Big5 or other legacy-encoded page to UTF-8 using the
// Content-Type header and <meta> hints. On failure the raw bytes are kept.
func decodeHTML(raw []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return raw
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw
	}

	return decoded
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests,
		http.StatusRequestTimeout:
		return true
	}

	return false
}
