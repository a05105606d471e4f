package ingest

import (
	"sort"
	"time"

	"github.com/david/bidwatch/internal/models"
	"github.com/david/bidwatch/internal/store"
)

// Synonym keys seen across listing API revisions, in priority order.
var (
	bulletinIDKeys  = []string{"autoId", "id", "bulletinId"}
	openingIDKeys   = []string{"bulletinId", "autoId", "id"}
	projectIDKeys   = []string{"prjId", "projectId", "prjid", "PrjId"}
	bulletinTitles  = []string{"bulletinTitle", "title", "prjName"}
	openingTitles   = []string{"prjName", "title", "bulletinTitle"}
	contentKeys     = []string{"bulletinContent", "content"}
	publishDateKeys = []string{"publishDate", "fbDate", "pubDate"}
	openDateKeys    = []string{"kbDate", "openDate", "bidOpenDate"}
	endDateKeys     = []string{"endDate", "bjEndDate", "deadline"}
	projectNoKeys   = []string{"prjNo", "projectNo", "code"}
	projectTypeKeys = []string{"prjTypeId", "projectTypeId", "typeId"}
)

// Normalizer turns raw listing items into canonical records.
type Normalizer struct {
	Zone  *time.Location
	Links LinksConfig
}

func NewNormalizer(zone *time.Location, links LinksConfig) *Normalizer {
	if zone == nil {
		zone = civilZoneFallback
	}
	return &Normalizer{Zone: zone, Links: links}
}

// NormalizeOpening maps a raw opening item. ok is false when the item carries
// neither an id nor a name, since such a record can be neither merged nor shown.
func (n *Normalizer) NormalizeOpening(raw RawRecord) (models.BiddingProject, bool) {
	id := firstString(raw, openingIDKeys...)
	prjID := firstString(raw, projectIDKeys...)
	name := normalizeSpace(firstString(raw, openingTitles...))

	p := models.BiddingProject{
		BulletinID: id,
		PrjID:      models.StringPtr(prjID),
		PrjName:    name,
		PrjType:    models.TypeOther,
		PrjURL:     n.Links.ProjectLink(prjID, id),
	}
	if v, ok := firstPresent(raw, openDateKeys...); ok {
		p.KbDate = NormalizeDate(v, n.Zone)
	}
	return p, id != "" || prjID != "" || name != ""
}

// NormalizeBulletin maps a raw bulletin item. Bulletin links always use the bulletin id.
func (n *Normalizer) NormalizeBulletin(raw RawRecord) models.PurchaseBulletin {
	id := firstString(raw, bulletinIDKeys...)

	b := models.PurchaseBulletin{
		BulletinID:      models.StringPtr(id),
		PrjID:           models.StringPtr(firstString(raw, projectIDKeys...)),
		BulletinTitle:   normalizeSpace(firstString(raw, bulletinTitles...)),
		BulletinContent: firstString(raw, contentKeys...),
		PrjNo:           models.StringPtr(firstString(raw, projectNoKeys...)),
		PrjType:         models.TypeOther,
		PrjURL:          n.Links.BulletinLink(id),
	}
	if v, ok := firstPresent(raw, projectTypeKeys...); ok {
		b.PrjTypeID = v
	}
	if v, ok := firstPresent(raw, publishDateKeys...); ok {
		b.PublishDate = NormalizeDate(v, n.Zone)
	}
	if v, ok := firstPresent(raw, openDateKeys...); ok {
		b.KbDate = NormalizeTimestamp(v)
	}
	if v, ok := firstPresent(raw, endDateKeys...); ok {
		b.EndDate = NormalizeTimestamp(v)
	}
	return b
}

// Openings normalizes, window-filters on kbDate and sorts by kbDate ascending.
// Records outside the window, or without a usable kbDate, are dropped.
func (n *Normalizer) Openings(items []RawRecord, w Window) []models.BiddingProject {
	out := make([]models.BiddingProject, 0, len(items))
	for _, raw := range items {
		p, ok := n.NormalizeOpening(raw)
		if !ok || !w.ContainsDate(p.KbDate) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].KbDate < *out[j].KbDate
	})
	return out
}

// Bulletins normalizes and window-filters on publishDate, keeping upstream order.
func (n *Normalizer) Bulletins(items []RawRecord, w Window) []models.PurchaseBulletin {
	out := make([]models.PurchaseBulletin, 0, len(items))
	for _, raw := range items {
		b := n.NormalizeBulletin(raw)
		if !w.ContainsDate(b.PublishDate) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Previous carries prjType/prjContent from the last saved document so a
// refetch does not throw away classification work.
type Previous map[string]store.Record

// PreviousFrom indexes doc by record id. A nil doc yields an empty set.
func PreviousFrom(doc *store.Document) Previous {
	if doc == nil {
		return Previous{}
	}
	return Previous(store.Index(doc))
}

// PreserveOpenings copies prior values onto projects with a matching id.
func (p Previous) PreserveOpenings(projects []models.BiddingProject) int {
	kept := 0
	for i := range projects {
		id := projects[i].BulletinID
		if id == "" && projects[i].PrjID != nil {
			id = *projects[i].PrjID
		}
		if p.carry(id, &projects[i].PrjType, &projects[i].PrjContent) {
			kept++
		}
	}
	return kept
}

// PreserveBulletins copies prior values onto bulletins with a matching id.
func (p Previous) PreserveBulletins(bulletins []models.PurchaseBulletin) int {
	kept := 0
	for i := range bulletins {
		var id string
		switch {
		case bulletins[i].BulletinID != nil:
			id = *bulletins[i].BulletinID
		case bulletins[i].PrjID != nil:
			id = *bulletins[i].PrjID
		}
		if p.carry(id, &bulletins[i].PrjType, &bulletins[i].PrjContent) {
			kept++
		}
	}
	return kept
}

func (p Previous) carry(id string, typ *models.ProjectType, content **string) bool {
	if id == "" {
		return false
	}
	prev, ok := p[id]
	if !ok {
		return false
	}
	carried := false
	if t := prev.PrjType(); t != models.TypeOther {
		*typ = t
		carried = true
	}
	if prev.HasContent() {
		*content = prev.Content()
		carried = true
	}
	return carried
}
