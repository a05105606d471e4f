package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/bidwatch/internal/store"
)

func newTestDetailFetcher(srv *httptest.Server) *HTTPDetailFetcher {
	f := NewHTTPDetailFetcher(DetailConfig{
		ProjectURL:     srv.URL + "/api/Portal/GetInquiryInfo",
		ProjectParam:   "prjId",
		BulletinURL:    srv.URL + "/api/Portal/GetBulletinInfo",
		BulletinField:  "bulletinId",
		TimeoutSeconds: 5,
	})
	// the default dialer refuses loopback
	f.Client = srv.Client()
	f.Backoff = time.Millisecond
	return f
}

func TestHTTPDetailFetcherOpeningUsesProjectGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/Portal/GetInquiryInfo", r.URL.Path)
		assert.Equal(t, "p-1", r.URL.Query().Get("prjId"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body":{"data":{"content":"ok"}}}`))
	}))
	defer srv.Close()

	doc, err := newTestDetailFetcher(srv).FetchDetail(context.Background(),
		DetailTarget{Kind: store.KindOpenings, BulletinID: "b-1", PrjID: "p-1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "application/json", doc.ContentType)
	assert.JSONEq(t, `{"body":{"data":{"content":"ok"}}}`, string(doc.Body))
}

func TestHTTPDetailFetcherBulletinUsesPost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/Portal/GetBulletinInfo", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"bulletinId": "b-2"}, body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := newTestDetailFetcher(srv).FetchDetail(context.Background(),
		DetailTarget{Kind: store.KindBulletins, BulletinID: "b-2", PrjID: "p-2"})
	require.NoError(t, err)
}

func TestHTTPDetailFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "<p>done</p>")
	}))
	defer srv.Close()

	doc, err := newTestDetailFetcher(srv).FetchDetail(context.Background(), DetailTarget{BulletinID: "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "<p>done</p>", string(doc.Body))
}

func TestHTTPDetailFetcherDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestDetailFetcher(srv).FetchDetail(context.Background(), DetailTarget{BulletinID: "b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDetailFetcherNeedsAnID(t *testing.T) {
	f := NewHTTPDetailFetcher(testRegistry(t).Detail)
	_, err := f.FetchDetail(context.Background(), DetailTarget{Kind: store.KindBulletins})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestIsPrivateIP(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.1", "169.254.1.1", "100.64.0.1", "::1", "fd00::1"} {
		assert.True(t, isPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "2001:4860:4860::8888"} {
		assert.False(t, isPrivateIP(net.ParseIP(s)), s)
	}
	assert.True(t, isPrivateIP(nil))
}
