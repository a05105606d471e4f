package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MinDetailRunes is the shortest sanitized text worth sending for a synopsis.
const MinDetailRunes = 30

// PayloadKind tags how a detail response body should be read.
type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadStructured
	PayloadMarkup
	PayloadPlainText
	PayloadPDF
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadStructured:
		return "structured"
	case PayloadMarkup:
		return "markup"
	case PayloadPlainText:
		return "plain_text"
	case PayloadPDF:
		return "pdf"
	default:
		return "empty"
	}
}

// Payload is a sniffed detail body. Value is set for structured payloads,
// Text for the others.
type Payload struct {
	Kind  PayloadKind
	Value any
	Text  string
}

// SniffPayload classifies a body once, by content type and shape, so callers
// never branch on parse failures.
func SniffPayload(contentType string, body []byte) Payload {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Payload{Kind: PayloadEmpty}
	}
	ct := strings.ToLower(contentType)

	if isPDF(trimmed) || strings.Contains(ct, "application/pdf") {
		text, err := extractPDFText(trimmed)
		if err != nil || strings.TrimSpace(text) == "" {
			return Payload{Kind: PayloadEmpty}
		}
		return Payload{Kind: PayloadPDF, Text: text}
	}

	first := trimmed[0]
	if (first == '{' || first == '[' || first == '"' || strings.Contains(ct, "json")) && json.Valid(trimmed) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return Payload{Kind: PayloadStructured, Value: v}
		}
	}

	text := string(trimmed)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if first == '<' || strings.Contains(ct, "html") || strings.Contains(ct, "xml") || looksLikeMarkup(text) {
		return Payload{Kind: PayloadMarkup, Text: text}
	}
	return Payload{Kind: PayloadPlainText, Text: text}
}

func looksLikeMarkup(s string) bool {
	lower := strings.ToLower(s)
	for _, tag := range []string{"<p", "<div", "<br", "<table", "<span", "</"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	return false
}

// ContentExtractor turns a record's detail payload into sanitized text.
type ContentExtractor struct {
	Fetcher  DetailFetcher
	Resolver *DetailResolver
	Logger   *zap.Logger
	MinRunes int
}

func NewContentExtractor(fetcher DetailFetcher, resolver *DetailResolver, logger *zap.Logger) *ContentExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentExtractor{Fetcher: fetcher, Resolver: resolver, Logger: logger, MinRunes: MinDetailRunes}
}

// Extract returns sanitized detail text for target. A non-nil prefetched body
// skips the network. When the fetch fails, or yields nothing, the record's
// embedded content is used instead. ErrEmptyContent means no step produced
// enough text; it also wraps the fetch error when there was one.
func (e *ContentExtractor) Extract(ctx context.Context, target DetailTarget, prefetched []byte) (string, error) {
	var (
		text     string
		fetchErr error
	)

	switch {
	case prefetched != nil:
		text = e.textOf(SniffPayload("", prefetched))
	case e.Fetcher != nil:
		doc, err := e.Fetcher.FetchDetail(ctx, target)
		if err != nil {
			fetchErr = err
			e.Logger.Warn("detail fetch failed",
				zap.String("id", target.id()), zap.Error(err))
		} else {
			p := SniffPayload(doc.ContentType, doc.Body)
			text = e.textOf(p)
			e.Logger.Debug("detail payload",
				zap.String("id", target.id()), zap.Stringer("kind", p.Kind), zap.Int("runes", utf8.RuneCountInString(text)))
		}
	}

	if !e.usable(text) && target.Embedded != "" {
		text = Sanitize(target.Embedded)
	}
	if !e.usable(text) {
		if fetchErr != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrEmptyContent, target.id(), fetchErr)
		}
		return "", fmt.Errorf("%w: %s", ErrEmptyContent, target.id())
	}
	return text, nil
}

func (e *ContentExtractor) textOf(p Payload) string {
	switch p.Kind {
	case PayloadStructured:
		if e.Resolver == nil {
			return ""
		}
		return Sanitize(e.Resolver.Resolve(p.Value))
	case PayloadMarkup, PayloadPlainText, PayloadPDF:
		return Sanitize(p.Text)
	default:
		return ""
	}
}

func (e *ContentExtractor) usable(text string) bool {
	min := e.MinRunes
	if min <= 0 {
		min = MinDetailRunes
	}
	return utf8.RuneCountInString(text) >= min
}

func (t DetailTarget) id() string {
	if t.BulletinID != "" {
		return t.BulletinID
	}
	return t.PrjID
}
