package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

var (
	// year, month, day with - or / separators, not glued to other digits.
	dateRegex = regexp.MustCompile(`(?:^|[^\d])(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[^\d]|$)`)
	// date plus optional T/space separated time with optional minutes and seconds.
	timestampRegex = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})(?:[ T](\d{1,2})(?::(\d{1,2}))?(?::(\d{1,2}))?)?`)
)

// NormalizeDate renders v as YYYY-MM-DD in zone, or nil when no valid date
// can be recovered. Offset-carrying timestamps are converted into zone first.
// NormalizeDate(NormalizeDate(x)) == NormalizeDate(x).
func NormalizeDate(v any, zone *time.Location) *string {
	s := scalarString(v)
	if s == "" {
		return nil
	}

	if t, ok := parseWithOffset(s); ok {
		out := t.In(zone).Format(dateLayout)
		return &out
	}

	// Strict parse of the leading date-shaped substring.
	if len(s) >= 10 {
		head := strings.ReplaceAll(s[:10], "/", "-")
		if t, err := time.Parse(dateLayout, head); err == nil {
			out := t.Format(dateLayout)
			return &out
		}
	}

	m := dateRegex.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	t, ok := civilTime(m[1], m[2], m[3], "", "", "")
	if !ok {
		return nil
	}
	out := t.Format(dateLayout)
	return &out
}

// NormalizeTimestamp renders v as YYYY-MM-DDTHH:MM:SS, zero-filling missing
// minutes or seconds, or nil when no valid instant can be recovered.
func NormalizeTimestamp(v any) *string {
	s := scalarString(v)
	if s == "" {
		return nil
	}

	if m := timestampRegex.FindStringSubmatch(s); m != nil {
		if t, ok := civilTime(m[1], m[2], m[3], m[4], m[5], m[6]); ok {
			out := t.Format(timestampLayout)
			return &out
		}
	}

	normalized := strings.ReplaceAll(strings.ReplaceAll(s, "/", "-"), " ", "T")
	for _, layout := range []string{time.RFC3339, timestampLayout, "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, normalized); err == nil {
			out := t.Format(timestampLayout)
			return &out
		}
	}
	return nil
}

// ParseDate parses an already normalized YYYY-MM-DD value as a civil date in zone.
func ParseDate(s string, zone *time.Location) (time.Time, bool) {
	t, err := time.ParseInLocation(dateLayout, s, zone)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseWithOffset(s string) (time.Time, bool) {
	if len(s) <= 10 {
		return time.Time{}, false
	}
	normalized := strings.Replace(s, " ", "T", 1)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04Z07:00"} {
		if t, err := time.Parse(layout, normalized); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// civilTime validates the components; time.Date would silently roll 2025-02-30 into March.
func civilTime(ys, mos, ds, hs, mis, ss string) (time.Time, bool) {
	parts := []string{ys, mos, ds, hs, mis, ss}
	nums := make([]int, len(parts))
	for i, p := range parts {
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	y, mo, d, h, mi, sec := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, h, mi, sec, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// scalarString narrows full-width characters (２０２５－０９－０１) and trims.
func scalarString(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case *string:
		if x == nil {
			return ""
		}
		s = *x
	case json.Number:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return strings.TrimSpace(width.Narrow.String(s))
}
