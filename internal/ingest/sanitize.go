package ingest

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// MaxDetailRunes caps sanitized detail text handed to the classifier.
const MaxDetailRunes = 8000

var strictPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// Sanitize reduces markup or text to a single line of plain text capped at MaxDetailRunes.
func Sanitize(s string) string {
	return sanitizeN(s, MaxDetailRunes)
}

func sanitizeN(s string, max int) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	// Portals sometimes store markup entity-escaped; undo one level first.
	if !strings.Contains(s, "<") && strings.Contains(s, "&lt;") {
		s = html.UnescapeString(s)
	}
	if strings.Contains(s, "<") {
		s = dropNonContent(s)
		s = strictPolicy.Sanitize(s)
	}
	s = html.UnescapeString(s)
	return TruncateRunes(normalizeSpace(s), max)
}

// dropNonContent removes script, style and noscript blocks so their bodies
// never leak into the text.
func dropNonContent(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	doc.Find("script, style, noscript, head > title").Remove()
	out, err := doc.Html()
	if err != nil {
		return markup
	}
	return out
}

// HTMLToText converts markup to collapsed plain text without a length cap.
func HTMLToText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return normalizeSpace(markup)
	}
	doc.Find("script, style, noscript").Remove()
	return normalizeSpace(doc.Text())
}
