package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/danthegoodman1/usedcars/gologger"
	"github.com/danthegoodman1/usedcars/utils"
	"github.com/rs/zerolog"
)

var (
	logger = gologger.NewComponentLogger("scraper")

	ErrFetchFailed = errors.New("request permanently failed")
)

type (
	Config struct {
		// BaseURL prefixes relative urls given to Fetch.
		BaseURL string
		// MinDelay is the least time between two requests; the actual gap is drawn from
		// [MinDelay, MaxDelay].
		MinDelay time.Duration
		MaxDelay time.Duration
		// MaxRetries is the number of retries after the first attempt.
		MaxRetries        uint64
		InitialBackoff    time.Duration
		BackoffMultiplier float64
		UserAgent         string
		Client            *http.Client
	}

	// FetchError is returned once retries are exhausted or a permanent failure was hit. It
	// matches ErrFetchFailed with errors.Is.
	FetchError struct {
		URL      string
		Attempts int
		Err      error
	}

	Stats struct {
		Total   int64
		Success int64
		Failed  int64
	}

	Page struct {
		URL         string
		Status      int
		ContentType string
		Body        []byte
		FetchedAt   time.Time
	}

	// Fetcher paces and retries GET requests. It is safe for concurrent use, but requests are
	// spaced as if they were sequential.
	Fetcher struct {
		cfg Config

		mu    sync.Mutex
		last  time.Time
		stats Stats

		sleep func(context.Context, time.Duration) error
		now   func() time.Time
	}
)

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %s", ErrFetchFailed, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

func DefaultConfig() Config {
	return Config{
		MinDelay:          time.Second,
		MaxDelay:          3 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		BackoffMultiplier: 1.5,
		UserAgent:         "usedcars-scraper/1.0",
	}
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Fetcher{
		cfg:   cfg,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Resolve prefixes BaseURL onto relative urls.
func (f *Fetcher) Resolve(url string) string {
	if f.cfg.BaseURL == "" || strings.HasPrefix(url, "http") {
		return url
	}
	return strings.TrimRight(f.cfg.BaseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

// Fetch waits out the pacing delay, then GETs url, retrying failures with exponential backoff.
// 4xx responses other than 429 are not retried.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	ctx = logger.WithContext(ctx)
	logger := zerolog.Ctx(ctx)
	url = f.Resolve(url)

	if err := f.pace(ctx); err != nil {
		return nil, err
	}

	var (
		page    *Page
		attempt int
	)
	op := func() error {
		attempt++
		p, err := f.get(ctx, url)
		if err != nil {
			return err
		}
		page = p
		return nil
	}
	notify := func(err error, d time.Duration) {
		logger.Warn().Err(err).Str("url", url).Int("attempt", attempt).Str("retryIn", d.String()).Msg("fetch failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), f.cfg.MaxRetries), ctx), notify)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.stats.Failed++
		return nil, &FetchError{URL: url, Attempts: attempt, Err: err}
	}
	f.stats.Success++
	logger.Debug().Str("url", url).Int("status", page.Status).Int("bytes", len(page.Body)).Msg("fetched page")
	return page, nil
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.Multiplier = f.cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// pace sleeps until MinDelay has passed since the previous request, plus a random share of
// the remaining window up to MaxDelay.
func (f *Fetcher) pace(ctx context.Context) error {
	f.mu.Lock()
	elapsed := f.now().Sub(f.last)
	var wait time.Duration
	if !f.last.IsZero() && elapsed < f.cfg.MinDelay {
		wait = f.cfg.MinDelay - elapsed
		if spread := f.cfg.MaxDelay - f.cfg.MinDelay; spread > 0 {
			wait += time.Duration(rand.Int63n(int64(spread)))
		}
	}
	f.last = f.now().Add(wait)
	f.stats.Total++
	f.mu.Unlock()
	return f.sleep(ctx, wait)
}

func (f *Fetcher) get(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("error in http.NewRequestWithContext: %w", err))
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	res, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error in http.Do: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading body: %w", err)
	}
	if res.StatusCode >= 400 {
		msg := fmt.Sprintf("unexpected status %d from %s", res.StatusCode, url)
		if res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(utils.PermError(msg))
		}
		return nil, errors.New(msg)
	}
	return &Page{
		URL:         url,
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   f.now(),
	}, nil
}
