// Package notify renders the daily digest and pushes it to Bark and DingTalk.
package notify

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/david/bidwatch/internal/ingest"
	"github.com/david/bidwatch/internal/models"
	"github.com/david/bidwatch/internal/store"
)

const (
	// MaxSynopsisRunes caps the synopsis quoted under each entry.
	MaxSynopsisRunes = 500
	untitled         = "未命名项目"
)

// Entry is one linked line of the digest.
type Entry struct {
	Title string
	URL   string
	// KbDate is "YYYY-MM-DD HH:MM", or empty when unknown.
	KbDate   string
	Synopsis string
}

// Group holds the entries of one project type.
type Group struct {
	Type    models.ProjectType
	Entries []Entry
}

// Digest is yesterday's accepted-type bulletins plus tomorrow's accepted-type openings.
type Digest struct {
	Today     time.Time
	Bulletins []Group
	Openings  []Group
}

// BuildDigest selects bulletins published the day before today and openings
// whose kbDate is the day after, grouped by type in taxonomy order. Either
// document may be nil.
func BuildDigest(openings, bulletins *store.Document, today time.Time, accepted map[models.ProjectType]bool, links ingest.LinksConfig) Digest {
	yesterday := today.AddDate(0, 0, -1).Format("2006-01-02")
	tomorrow := today.AddDate(0, 0, 1).Format("2006-01-02")

	d := Digest{Today: today}
	d.Bulletins = group(bulletins, accepted, func(r store.Record) bool {
		return r.String("publishDate") == yesterday
	}, func(r store.Record) Entry {
		e := entryFor(r, links)
		e.KbDate = displayTime(r.String("kbDate"))
		return e
	})
	d.Openings = group(openings, accepted, func(r store.Record) bool {
		return r.String("kbDate") == tomorrow
	}, func(r store.Record) Entry {
		return entryFor(r, links)
	})
	return d
}

func group(doc *store.Document, accepted map[models.ProjectType]bool, keep func(store.Record) bool, entry func(store.Record) Entry) []Group {
	if doc == nil {
		return nil
	}
	byType := map[models.ProjectType][]Entry{}
	for _, r := range doc.Records {
		t := r.PrjType()
		if !accepted[t] || !keep(r) {
			continue
		}
		byType[t] = append(byType[t], entry(r))
	}

	var out []Group
	for _, t := range models.ProjectTypes {
		if entries := byType[t]; len(entries) > 0 {
			out = append(out, Group{Type: t, Entries: entries})
		}
	}
	return out
}

func entryFor(r store.Record, links ingest.LinksConfig) Entry {
	title := r.Title()
	if title == "" {
		title = untitled
	}
	e := Entry{Title: title}
	if u := links.ProjectLink(r.String("prjId"), r.String("bulletinId")); u != nil {
		e.URL = *u
	}
	if c := r.Content(); c != nil {
		e.Synopsis = clip(*c)
	}
	return e
}

// clip reduces s to collapsed plain text, dropping any stored markup, and
// caps it at MaxSynopsisRunes, marking the cut.
func clip(s string) string {
	s = ingest.HTMLToText(s)
	if utf8.RuneCountInString(s) <= MaxSynopsisRunes {
		return s
	}
	return strings.TrimRight(string([]rune(s)[:MaxSynopsisRunes]), " ") + "……"
}

var displayLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// displayTime renders a stored timestamp as "YYYY-MM-DD HH:MM". A bare date
// gets 00:00; anything unparseable yields "".
func displayTime(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range displayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04")
		}
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t.Format("2006-01-02") + " 00:00"
		}
	}
	return ""
}

// Empty reports a digest with nothing to announce.
func (d Digest) Empty() bool {
	return len(d.Bulletins) == 0 && len(d.Openings) == 0
}

// Markdown renders the digest for DingTalk.
func (d Digest) Markdown() string {
	var b strings.Builder
	b.WriteString("## 阳光采购每日摘要\n\n")

	b.WriteString("### 昨日新增信息化采购公告\n")
	if len(d.Bulletins) == 0 {
		b.WriteString("- 昨日无新增采购公告\n")
	}
	writeGroups(&b, d.Bulletins)

	b.WriteString("\n### 明日信息化开标项目\n")
	if len(d.Openings) == 0 {
		b.WriteString("- 明日无开标项目\n")
	}
	writeGroups(&b, d.Openings)

	return strings.TrimRight(b.String(), "\n")
}

func writeGroups(b *strings.Builder, groups []Group) {
	for _, g := range groups {
		fmt.Fprintf(b, "#### %s\n", g.Type)
		for _, e := range g.Entries {
			line := "- " + e.Title
			if e.URL != "" {
				line = fmt.Sprintf("- [%s](%s)", e.Title, e.URL)
			}
			if e.KbDate != "" {
				line += fmt.Sprintf("（开标：%s）", e.KbDate)
			}
			b.WriteString(line + "\n")
			if e.Synopsis != "" {
				fmt.Fprintf(b, "  > %s\n", e.Synopsis)
			}
		}
		b.WriteString("\n")
	}
}

// PlainText renders a compact form for push notifications without markdown.
func (d Digest) PlainText() string {
	var b strings.Builder
	section := func(heading, none string, groups []Group) {
		b.WriteString(heading + "\n")
		if len(groups) == 0 {
			b.WriteString(none + "\n")
		}
		for _, g := range groups {
			fmt.Fprintf(&b, "%s:\n", g.Type)
			for _, e := range g.Entries {
				if e.KbDate != "" {
					fmt.Fprintf(&b, "- %s (%s)\n", e.Title, e.KbDate)
				} else {
					fmt.Fprintf(&b, "- %s\n", e.Title)
				}
			}
		}
	}
	section("昨日新增采购公告", "无", d.Bulletins)
	b.WriteString("\n")
	section("明日开标项目", "无", d.Openings)
	return strings.TrimRight(b.String(), "\n")
}
