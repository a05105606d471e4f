// Package store persists the openings and bulletins JSON documents.
//
// Persistence is whole-document read-modify-write: Load reads everything,
// callers mutate records in place through Merge or ResetContent, and Save
// writes everything back. There is no locking; two processes running against
// the same file can lose each other's updates.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/david/bidwatch/internal/models"
)

// ErrSourceRead marks a document that is missing or cannot be parsed.
var ErrSourceRead = errors.New("source document unreadable")

// Kind distinguishes the two persisted documents.
type Kind string

const (
	// KindOpenings is an object document with a "projects" array.
	KindOpenings Kind = "openings"
	// KindBulletins is a top-level array document.
	KindBulletins Kind = "bulletins"
)

const projectsKey = "projects"

// Document is a loaded JSON document. Records keep every field they were
// read with so fields nobody recomputes survive a save untouched.
type Document struct {
	Kind Kind
	// Envelope holds the top-level keys of an openings document other than "projects".
	Envelope map[string]any
	Records  []Record
}

// Load reads the document at path and detects its kind from its shape.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceRead, path, err)
	}
	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceRead, path, err)
	}
	return doc, nil
}

// LoadKind is Load plus a shape check against the expected kind.
func LoadKind(path string, kind Kind) (*Document, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	if doc.Kind != kind {
		return nil, fmt.Errorf("%w: %s: expected %s document, found %s", ErrSourceRead, path, kind, doc.Kind)
	}
	return doc, nil
}

func decode(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}

	switch v := root.(type) {
	case []any:
		return &Document{Kind: KindBulletins, Records: toRecords(v)}, nil
	case map[string]any:
		items, ok := v[projectsKey].([]any)
		if !ok {
			return nil, fmt.Errorf("object document has no %q array", projectsKey)
		}
		env := make(map[string]any, len(v))
		for k, val := range v {
			if k != projectsKey {
				env[k] = val
			}
		}
		return &Document{Kind: KindOpenings, Envelope: env, Records: toRecords(items)}, nil
	default:
		return nil, fmt.Errorf("unexpected top-level JSON type %T", root)
	}
}

// toRecords keeps only object entries; anything else cannot carry an id.
func toRecords(items []any) []Record {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// Save writes the whole document to path through a temp file and rename.
func Save(doc *Document, path string) error {
	var root any
	records := make([]map[string]any, len(doc.Records))
	for i, r := range doc.Records {
		records[i] = r
	}
	switch doc.Kind {
	case KindOpenings:
		obj := make(map[string]any, len(doc.Envelope)+1)
		for k, v := range doc.Envelope {
			obj[k] = v
		}
		obj[projectsKey] = records
		root = obj
	case KindBulletins:
		root = records
	default:
		return fmt.Errorf("save %s: unknown document kind %q", path, doc.Kind)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Update carries recomputed fields for one record. Nil fields are left alone.
type Update struct {
	ID         string
	PrjType    *models.ProjectType
	PrjContent *string
	// ClearContent writes null into prjContent; it wins over PrjContent.
	ClearContent bool
}

// Merge applies updates by record id and returns how many records changed.
// Only prjType and prjContent are ever written.
func Merge(doc *Document, updates []Update) int {
	byID := make(map[string]int, len(doc.Records))
	for i, r := range doc.Records {
		if id := r.ID(); id != "" {
			if _, dup := byID[id]; !dup {
				byID[id] = i
			}
		}
	}

	changed := 0
	for _, u := range updates {
		idx, ok := byID[u.ID]
		if !ok {
			continue
		}
		if applyUpdate(doc.Records[idx], u) {
			changed++
		}
	}
	return changed
}

func applyUpdate(r Record, u Update) bool {
	changed := false
	// Compare the raw stored value so out-of-taxonomy labels and missing keys get rewritten.
	if stored, _ := r["prjType"].(string); u.PrjType != nil && stored != string(*u.PrjType) {
		r["prjType"] = string(*u.PrjType)
		changed = true
	}
	switch {
	case u.ClearContent:
		if r["prjContent"] != nil {
			r["prjContent"] = nil
			changed = true
		}
	case u.PrjContent != nil:
		current := r.Content()
		if current == nil || *current != *u.PrjContent {
			r["prjContent"] = *u.PrjContent
			changed = true
		}
	}
	return changed
}

// ResetContent nulls every non-null prjContent and returns how many were changed.
func ResetContent(doc *Document) int {
	changed := 0
	for _, r := range doc.Records {
		if v, ok := r["prjContent"]; ok && v != nil {
			r["prjContent"] = nil
			changed++
		}
	}
	return changed
}

// Index maps record ids to records. The first record wins on duplicate ids.
func Index(doc *Document) map[string]Record {
	if doc == nil {
		return map[string]Record{}
	}
	out := make(map[string]Record, len(doc.Records))
	for _, r := range doc.Records {
		id := r.ID()
		if id == "" {
			continue
		}
		if _, dup := out[id]; !dup {
			out[id] = r
		}
	}
	return out
}

// Record is one persisted entry.
type Record map[string]any

// ID is the merge key: bulletinId, falling back to prjId.
func (r Record) ID() string {
	if id := r.String("bulletinId"); id != "" {
		return id
	}
	return r.String("prjId")
}

// String returns the trimmed string form of a scalar field, or "".
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	case nil:
		return ""
	default:
		return ""
	}
}

// Title is prjName for openings and bulletinTitle (or title) for bulletins.
func (r Record) Title() string {
	for _, k := range []string{"prjName", "bulletinTitle", "title"} {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

// PrjType returns the stored classification; anything outside the taxonomy reads as TypeOther.
func (r Record) PrjType() models.ProjectType {
	t := models.ProjectType(r.String("prjType"))
	if !t.Valid() {
		return models.TypeOther
	}
	return t
}

// Content returns prjContent, or nil when it is null or absent.
func (r Record) Content() *string {
	s, ok := r["prjContent"].(string)
	if !ok {
		return nil
	}
	return &s
}

// HasContent reports a non-blank prjContent.
func (r Record) HasContent() bool {
	c := r.Content()
	return c != nil && strings.TrimSpace(*c) != ""
}

// NewOpeningsDocument builds a document from freshly normalized projects.
func NewOpeningsDocument(src models.OpeningsDocument) (*Document, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode openings: %w", err)
	}
	return decode(data)
}

// NewBulletinsDocument builds a document from freshly normalized bulletins.
func NewBulletinsDocument(src []models.PurchaseBulletin) (*Document, error) {
	if src == nil {
		src = []models.PurchaseBulletin{}
	}
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("encode bulletins: %w", err)
	}
	return decode(data)
}
