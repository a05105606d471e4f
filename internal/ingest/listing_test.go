package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistryEmbedded(t *testing.T) {
	reg := testRegistry(t)
	assert.Equal(t, 200, reg.Listings.Openings.PageSize)
	assert.Equal(t, "21", reg.Listings.Bulletins.ClassID)
	assert.Equal(t, "prjId", reg.Detail.ProjectParam)
	assert.Equal(t, "bulletinId", reg.Detail.BulletinField)
	assert.NotEmpty(t, reg.Detail.KeyPaths)
}

func TestLoadRegistryExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("BIDWATCH_TEST_HOST", "https://mirror.example.com")
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listings:
  openings:
    url: ${BIDWATCH_TEST_HOST}/open
detail:
  bulletin_url: ${BIDWATCH_TEST_HOST}/bulletin
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/open", reg.Listings.Openings.URL)
	assert.Equal(t, "https://mirror.example.com/bulletin", reg.Detail.BulletinURL)
	assert.Equal(t, 20, reg.Detail.TimeoutSeconds)
	assert.Equal(t, "prjId", reg.Detail.ProjectParam)
}

func TestLinks(t *testing.T) {
	assert.Nil(t, testLinks.BulletinLink(""))
	assert.Equal(t, "https://ygcg.nbcqjy.org/detail?bulletinId=42", *testLinks.BulletinLink("42"))
	assert.Equal(t, "https://ygcg.nbcqjy.org/detail?type=1&prjId=p%2F1", *testLinks.ProjectLink("p/1", "42"))
	assert.Equal(t, "https://ygcg.nbcqjy.org/detail?bulletinId=42", *testLinks.ProjectLink("", "42"))
	assert.Nil(t, testLinks.ProjectLink("", ""))
}

func TestListingRequest(t *testing.T) {
	body, err := ListingRequest(ListingConfig{PageIndex: 1, PageSize: 100, ClassID: "21"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageIndex":1,"pageSize":100,"classID":"21"}`, string(body))

	body, err = ListingRequest(ListingConfig{PageIndex: 1, PageSize: 200})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pageIndex":1,"pageSize":200}`, string(body))
}

func TestDecodeListing(t *testing.T) {
	paths := []string{"body.data.list", "body.data.rows", "body.rows"}

	t.Run("first array path wins", func(t *testing.T) {
		items, err := DecodeListing([]byte(`{"body":{"data":{"list":"oops","rows":[{"autoId":123456789012345},7]},"rows":[{"id":1}]}}`), paths)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, json.Number("123456789012345"), items[0]["autoId"])
	})

	t.Run("no known path", func(t *testing.T) {
		items, err := DecodeListing([]byte(`{"code":0,"msg":"ok"}`), paths)
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := DecodeListing([]byte(`<html>maintenance</html>`), paths)
		require.Error(t, err)
	})
}

func TestCollyListingFetcherPosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"pageIndex":1,"pageSize":200}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"body":{"data":{"projectList":[]}}}`)
	}))
	defer srv.Close()

	f := NewCollyListingFetcher(nil)
	doc, err := f.FetchListing(context.Background(), srv.URL+"/api/Portal/GetOpenList", []byte(`{"pageIndex":1,"pageSize":200}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.JSONEq(t, `{"body":{"data":{"projectList":[]}}}`, string(doc.Body))
}

func TestCollyListingFetcherGivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewCollyListingFetcher(nil)
	f.Backoff = time.Millisecond
	_, err := f.FetchListing(context.Background(), srv.URL, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, f.MaxRetries+1, calls)
}
