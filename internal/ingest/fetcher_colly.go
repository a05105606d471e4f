package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyListingFetcher posts listing requests through a Colly collector.
type CollyListingFetcher struct {
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	// Backoff is multiplied by the attempt number between retries.
	Backoff       time.Duration
	MaxBodySize   int
	DetectCharset bool
	Logger        *zap.Logger
}

func NewCollyListingFetcher(logger *zap.Logger) *CollyListingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollyListingFetcher{
		UserAgent:      browserUserAgent,
		MaxRetries:     2,
		RequestTimeout: 30 * time.Second,
		Backoff:        time.Second,
		MaxBodySize:    16 << 20,
		DetectCharset:  true,
		Logger:         logger,
	}
}

func (f *CollyListingFetcher) buildCollector(ctx context.Context) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		// robots.txt does not describe the JSON API.
		colly.IgnoreRobotsTxt(),
		colly.StdlibContext(ctx),
	}
	if f.DetectCharset {
		opts = append(opts, colly.DetectCharset())
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(f.RequestTimeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Content-Type", "application/json;charset=utf-8")
		r.Headers.Set("Accept", "application/json, text/plain, */*")
	})
	return c
}

// FetchListing implements ListingFetcher. Errors wrap ErrNetwork.
func (f *CollyListingFetcher) FetchListing(ctx context.Context, endpoint string, body []byte) (*FetchedDocument, error) {
	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			f.Logger.Warn("retrying listing request",
				zap.String("url", endpoint), zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
			case <-time.After(time.Duration(attempt) * f.Backoff):
			}
		}

		doc, err := f.post(ctx, endpoint, body)
		if err == nil {
			return doc, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: listing %s failed after %d attempts: %v", ErrNetwork, endpoint, f.MaxRetries+1, lastErr)
}

func (f *CollyListingFetcher) post(ctx context.Context, endpoint string, body []byte) (*FetchedDocument, error) {
	c := f.buildCollector(ctx)

	var (
		result   *FetchedDocument
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
			FetchedAt:   time.Now(),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	// The collector is synchronous, so PostRaw returns after the callbacks ran.
	if err := c.PostRaw(endpoint, body); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, fmt.Errorf("no response received for %s", endpoint)
	}
	return result, nil
}
