package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bidwatch/internal/store"
)

func TestSanitizeStripsMarkup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"blank", "  \n\t", ""},
		{"plain", "采购  内容\n\n服务器", "采购 内容 服务器"},
		{"tags", "<p>第一段</p><p>第二段<br/>换行</p>", "第一段 第二段 换行"},
		{"script and style", "<style>p{color:red}</style><div>正文</div><script>alert(1)</script>", "正文"},
		{"entities", "<p>A&amp;B&nbsp;C</p>", "A&B C"},
		{"escaped markup", "&lt;p&gt;转义正文&lt;/p&gt;", "转义正文"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeCapsLength(t *testing.T) {
	long := strings.Repeat("字", MaxDetailRunes+50)
	got := Sanitize("<p>" + long + "</p>")
	assert.Equal(t, MaxDetailRunes, utf8.RuneCountInString(got))
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "标题 正文", HTMLToText("<html><body><h1>标题</h1>\n<noscript>x</noscript><p>正文</p></body></html>"))
}

func TestSniffPayload(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		body string
		want PayloadKind
	}{
		{"empty", "", "   ", PayloadEmpty},
		{"object", "application/json", `{"a":1}`, PayloadStructured},
		{"json without content type", "", `[{"a":1}]`, PayloadStructured},
		{"broken json falls to text", "application/json", `{"a":`, PayloadPlainText},
		{"html", "text/html", "<html><body>x</body></html>", PayloadMarkup},
		{"markup fragment", "", "前言<p>正文</p>", PayloadMarkup},
		{"text", "text/plain", "只是一段文字", PayloadPlainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SniffPayload(tt.ct, []byte(tt.body)).Kind)
		})
	}
}

func TestSniffPayloadBrokenPDFIsEmpty(t *testing.T) {
	p := SniffPayload("application/pdf", []byte("%PDF-1.4 truncated"))
	assert.Equal(t, PayloadEmpty, p.Kind)
}

func TestDetailResolverKeyPathsThenKeywords(t *testing.T) {
	r := NewDetailResolver(DetailConfig{
		KeyPaths: []string{"body.data.bulletinContent", "data.content"},
		Keywords: []string{"Remark", "内容"},
	})

	t.Run("first path wins", func(t *testing.T) {
		v := map[string]any{"body": map[string]any{"data": map[string]any{
			"BulletinContent": "<p>正文</p>",
			"remark":          "备注",
		}}}
		assert.Equal(t, "<p>正文</p>", r.Resolve(v))
	})

	t.Run("blank path value is skipped", func(t *testing.T) {
		v := map[string]any{
			"body": map[string]any{"data": map[string]any{"bulletinContent": "  "}},
			"data": map[string]any{"content": []any{"第一段", map[string]any{"x": "第二段"}}},
		}
		assert.Equal(t, "第一段\n第二段", r.Resolve(v))
	})

	t.Run("keyword scan in key order", func(t *testing.T) {
		v := map[string]any{"result": map[string]any{
			"zRemark":  "乙",
			"aRemark":  "甲",
			"采购内容":     "丙",
			"id":       "42",
			"children": []any{map[string]any{"itemRemark": "丁"}},
		}}
		assert.Equal(t, "甲\n丁\n乙\n丙", r.Resolve(v))
	})

	t.Run("metadata keys are ignored", func(t *testing.T) {
		kw := NewDetailResolver(DetailConfig{Keywords: []string{"content", "note", "remark"}})
		v := map[string]any{"data": map[string]any{
			"contentType": "text/html",
			"noteTitle":   "附件",
			"remark_id":   "7",
			"remarkInfo":  "<p>正文</p>",
		}}
		assert.Equal(t, "<p>正文</p>", kw.Resolve(v))
	})

	t.Run("bare string", func(t *testing.T) {
		assert.Equal(t, "正文", r.Resolve(" 正文 "))
	})

	t.Run("nothing", func(t *testing.T) {
		assert.Equal(t, "", r.Resolve(map[string]any{"id": "1"}))
	})
}

func TestContentExtractorStructuredPayload(t *testing.T) {
	fetcher := &stubDetailFetcher{body: detailBody}
	e := NewContentExtractor(fetcher, NewDetailResolver(testRegistry(t).Detail), nil)

	text, err := e.Extract(context.Background(), DetailTarget{Kind: store.KindBulletins, BulletinID: "1"}, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "采购内容：机房服务器十台"))
	assert.NotContains(t, text, "track")
}

func TestContentExtractorPrefetchedSkipsNetwork(t *testing.T) {
	fetcher := &stubDetailFetcher{err: errors.New("must not be called")}
	e := NewContentExtractor(fetcher, NewDetailResolver(testRegistry(t).Detail), nil)

	body := []byte("<html><body><p>本项目采购全市政务外网核心交换设备及配套光模块，并提供五年维保。</p></body></html>")
	text, err := e.Extract(context.Background(), DetailTarget{BulletinID: "1"}, body)
	require.NoError(t, err)
	assert.Contains(t, text, "政务外网核心交换设备")
	assert.Empty(t, fetcher.targets)
}

func TestContentExtractorShortTextIsEmpty(t *testing.T) {
	fetcher := &stubDetailFetcher{body: `{"data":{"content":"太短"}}`}
	e := NewContentExtractor(fetcher, NewDetailResolver(testRegistry(t).Detail), nil)

	_, err := e.Extract(context.Background(), DetailTarget{BulletinID: "7", Embedded: "<p>也很短</p>"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyContent))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.Contains(t, err.Error(), "7")
}

func TestContentExtractorWrapsFetchError(t *testing.T) {
	fetcher := &stubDetailFetcher{err: ErrNetwork}
	e := NewContentExtractor(fetcher, nil, nil)

	_, err := e.Extract(context.Background(), DetailTarget{PrjID: "p9"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyContent))
	assert.True(t, errors.Is(err, ErrNetwork))
}
