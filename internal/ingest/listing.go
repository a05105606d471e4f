package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ListingRequest renders the POST body for a listing endpoint.
func ListingRequest(cfg ListingConfig) ([]byte, error) {
	body := map[string]any{
		"pageIndex": cfg.PageIndex,
		"pageSize":  cfg.PageSize,
	}
	if cfg.ClassID != "" {
		body["classID"] = cfg.ClassID
	}
	return json.Marshal(body)
}

// DecodeListing pulls the record array out of a listing envelope. The first
// item path that resolves to an array wins; non-object entries are dropped.
// An envelope with none of the paths yields an empty slice, not an error.
func DecodeListing(body []byte, itemPaths []string) ([]RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode listing envelope: %w", err)
	}

	for _, path := range itemPaths {
		v, ok := lookupPath(root, path, false)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]RawRecord, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, RawRecord(m))
			}
		}
		return out, nil
	}
	return []RawRecord{}, nil
}

// lookupPath walks a dotted key path through nested objects. With fold set,
// keys match case-insensitively.
func lookupPath(v any, path string, fold bool) (any, bool) {
	cur := v
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, found := obj[key]
		if !found && fold {
			for k, val := range obj {
				if strings.EqualFold(k, key) {
					next, found = val, true
					break
				}
			}
		}
		if !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
