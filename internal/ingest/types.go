package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/david/bidwatch/internal/store"
)

var (
	// ErrNetwork wraps a failed listing or detail fetch. The affected record is skipped.
	ErrNetwork = errors.New("network error")
	// ErrEmptyContent means no usable text survived any fallback step.
	ErrEmptyContent = errors.New("no usable content")
)

// RawRecord is one untrusted listing item as decoded from the portal
// (json.Number for numerics).
type RawRecord map[string]any

// FetchedDocument is the raw result of a detail or listing call.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// DetailTarget identifies a record whose detail payload should be fetched.
type DetailTarget struct {
	Kind       store.Kind
	BulletinID string
	PrjID      string
	Title      string
	// Embedded is markup already present on the record (bulletinContent).
	Embedded string
}

// DetailFetcher retrieves the per-record detail payload.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, target DetailTarget) (*FetchedDocument, error)
}

// ListingFetcher posts a listing request and returns the raw envelope.
type ListingFetcher interface {
	FetchListing(ctx context.Context, endpoint string, body []byte) (*FetchedDocument, error)
}

// StageStats is the end-of-stage summary.
type StageStats struct {
	Stage      string
	Document   store.Kind
	Considered int
	Updated    int
	Skipped    int
	Failed     int
	Duration   time.Duration
}

// Clock returns the current instant; tests pin it.
type Clock func() time.Time
