package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bidwatch/internal/models"
)

const openingsJSON = `{
    "today": "2025-09-01",
    "future_date": "2025-09-04",
    "projects": [
        {"kbDate": "2025-09-01", "prjName": "XX信息化系统采购", "bulletinId": "123", "prjType": "其他项目", "extra": {"keep": [1, 2]}},
        {"kbDate": "2025-09-02", "prjName": "道路维修工程", "bulletinId": "456", "prjType": "工程类项目", "prjContent": "路面修补"}
    ]
}`

const bulletinsJSON = `[
    {"bulletinId": "9001", "prjId": "P-1", "bulletinTitle": "机房设备采购", "prjType": "信息化软硬件采购类项目", "prjContent": "服务器 4 台", "autoId": 9001},
    {"bulletinId": "9002", "bulletinTitle": "食堂外包", "prjType": "其他项目", "prjContent": null},
    {"bulletinId": "9003", "bulletinTitle": "绿化养护", "prjType": "其他项目", "prjContent": ""}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDetectsKind(t *testing.T) {
	doc, err := Load(writeFile(t, "openings.json", openingsJSON))
	require.NoError(t, err)
	assert.Equal(t, KindOpenings, doc.Kind)
	assert.Len(t, doc.Records, 2)
	assert.Equal(t, "2025-09-01", doc.Envelope["today"])

	doc, err = Load(writeFile(t, "bulletins.json", bulletinsJSON))
	require.NoError(t, err)
	assert.Equal(t, KindBulletins, doc.Kind)
	assert.Len(t, doc.Records, 3)
}

func TestLoadMissingOrBroken(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceRead))

	_, err = Load(writeFile(t, "broken.json", `{"projects": [`))
	assert.True(t, errors.Is(err, ErrSourceRead))

	_, err = LoadKind(writeFile(t, "b.json", bulletinsJSON), KindOpenings)
	assert.True(t, errors.Is(err, ErrSourceRead))
}

func TestMergeOnlyTouchesMatchingRecord(t *testing.T) {
	path := writeFile(t, "openings.json", openingsJSON)
	doc, err := Load(path)
	require.NoError(t, err)

	typ := models.TypeInfoHardwareProcurement
	content := "采购信息化系统软硬件"
	changed := Merge(doc, []Update{
		{ID: "123", PrjType: &typ, PrjContent: &content},
		{ID: "does-not-exist", PrjType: &typ},
	})
	require.Equal(t, 1, changed)
	require.NoError(t, Save(doc, path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	idx := Index(reloaded)

	first := idx["123"]
	assert.Equal(t, typ, first.PrjType())
	require.NotNil(t, first.Content())
	assert.Equal(t, content, *first.Content())
	assert.Equal(t, "2025-09-01", first.String("kbDate"))
	assert.NotNil(t, first["extra"])

	sibling := idx["456"]
	assert.Equal(t, models.TypeEngineering, sibling.PrjType())
	assert.Equal(t, "路面修补", *sibling.Content())
	assert.Equal(t, "2025-09-04", reloaded.Envelope["future_date"])
}

func TestMergeUnchangedValueNotCounted(t *testing.T) {
	doc, err := Load(writeFile(t, "b.json", bulletinsJSON))
	require.NoError(t, err)

	typ := models.TypeInfoHardwareProcurement
	content := "服务器 4 台"
	assert.Equal(t, 0, Merge(doc, []Update{{ID: "9001", PrjType: &typ, PrjContent: &content}}))
}

func TestMergeRewritesOutOfTaxonomyType(t *testing.T) {
	doc := &Document{Kind: KindBulletins, Records: []Record{
		{"bulletinId": "2", "prjType": "乱写", "prjContent": nil},
		{"bulletinId": "3", "bulletinTitle": "食堂采购"},
		{"bulletinId": "4", "prjType": "其他项目"},
	}}

	typ := models.TypeOther
	changed := Merge(doc, []Update{
		{ID: "2", PrjType: &typ},
		{ID: "3", PrjType: &typ},
		{ID: "4", PrjType: &typ},
	})
	assert.Equal(t, 2, changed)
	for _, r := range doc.Records {
		assert.Equal(t, "其他项目", r["prjType"])
	}
}

func TestResetContentCountsNonNull(t *testing.T) {
	path := writeFile(t, "b.json", bulletinsJSON)
	doc, err := Load(path)
	require.NoError(t, err)

	before := 0
	for _, r := range doc.Records {
		if r["prjContent"] != nil {
			before++
		}
	}

	changed := ResetContent(doc)
	assert.Equal(t, before, changed)
	assert.Equal(t, 2, changed)
	for _, r := range doc.Records {
		assert.Nil(t, r["prjContent"])
	}
	assert.Equal(t, 0, ResetContent(doc))
}

func TestSavePreservesNumbersAndUnicode(t *testing.T) {
	path := writeFile(t, "b.json", bulletinsJSON)
	doc, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, Save(doc, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"autoId": 9001`)
	assert.Contains(t, string(raw), "机房设备采购")
	assert.Contains(t, string(raw), `"prjContent": null`)
}

func TestRecordAccessors(t *testing.T) {
	r := Record{"prjId": "P-7", "bulletinTitle": " 标题 ", "prjType": "不存在的类型"}
	assert.Equal(t, "P-7", r.ID())
	assert.Equal(t, "标题", r.Title())
	assert.Equal(t, models.TypeOther, r.PrjType())
	assert.Nil(t, r.Content())
	assert.False(t, r.HasContent())
}

func TestNewDocumentsFromModels(t *testing.T) {
	kb := "2025-09-01"
	doc, err := NewOpeningsDocument(models.OpeningsDocument{
		Today:      "2025-09-01",
		FutureDate: "2025-09-04",
		Projects: []models.BiddingProject{{
			BulletinID: "123", PrjName: "XX信息化系统采购", KbDate: &kb, PrjType: models.TypeOther,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindOpenings, doc.Kind)
	require.Len(t, doc.Records, 1)
	assert.Nil(t, doc.Records[0]["prjContent"])
	_, present := doc.Records[0]["prjContent"]
	assert.True(t, present)

	doc, err = NewBulletinsDocument(nil)
	require.NoError(t, err)
	assert.Equal(t, KindBulletins, doc.Kind)
	assert.Empty(t, doc.Records)
}
