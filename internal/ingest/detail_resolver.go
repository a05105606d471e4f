package ingest

import (
	"sort"
	"strings"
)

// DetailResolver finds the detail body inside a decoded payload whose shape
// varies between endpoints and API revisions.
type DetailResolver struct {
	// KeyPaths are dotted paths tried in order, case-insensitively.
	KeyPaths []string
	// Keywords mark content-like key names for the fallback scan.
	Keywords []string
}

func NewDetailResolver(cfg DetailConfig) *DetailResolver {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &DetailResolver{KeyPaths: cfg.KeyPaths, Keywords: keywords}
}

// Resolve returns the first non-empty known path value, else every string
// under a content-like key joined by newlines, else "".
func (r *DetailResolver) Resolve(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}

	for _, path := range r.KeyPaths {
		found, ok := lookupPath(v, path, true)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(stringLeaves(found)); s != "" {
			return s
		}
	}

	var parts []string
	r.scan(v, &parts)
	return strings.Join(parts, "\n")
}

func (r *DetailResolver) scan(v any, out *[]string) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := x[k]
			if s, ok := val.(string); ok {
				if r.contentLike(k) && strings.TrimSpace(s) != "" {
					*out = append(*out, strings.TrimSpace(s))
				}
				continue
			}
			r.scan(val, out)
		}
	case []any:
		for _, item := range x {
			r.scan(item, out)
		}
	}
}

// metadataSuffixes mark keys that describe content rather than hold it,
// such as contentType or noteTitle.
var metadataSuffixes = map[string]bool{
	"type": true, "title": true, "id": true, "ids": true, "name": true,
	"url": true, "date": true, "time": true, "code": true, "size": true,
}

func (r *DetailResolver) contentLike(key string) bool {
	if metadataSuffixes[lastWord(key)] {
		return false
	}
	lower := strings.ToLower(key)
	for _, kw := range r.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// lastWord returns the lowercased final word of a camelCase, snake_case or
// kebab-case key.
func lastWord(key string) string {
	start := 0
	for i, c := range key {
		switch {
		case c == '_' || c == '-' || c == '.':
			start = i + 1
		case c >= 'A' && c <= 'Z' && i > 0:
			start = i
		}
	}
	return strings.ToLower(key[start:])
}

// stringLeaves flattens a resolved value: strings as-is, arrays and objects
// as their string leaves joined by newlines.
func stringLeaves(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := strings.TrimSpace(stringLeaves(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(x))
		for _, k := range keys {
			if s, ok := x[k].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
