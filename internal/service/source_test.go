package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/pawstudio/internal/apperr"
)

func newImageServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/dog.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes())
	})
	mux.HandleFunc("/mislabelled", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(pngBytes())
	})
	mux.HandleFunc("/huge.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(append(jpegBytes(), make([]byte, 4096)...))
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("<!doctype html><html><body>hi</body></html>"))
	})
	mux.HandleFunc("/missing.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken.jpg", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dog.jpg", http.StatusFound)
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHTTPFetcher(t *testing.T) {
	srv, _ := newImageServer(t)
	fetcher := newHTTPFetcher(5*time.Second, 1024, true)

	cases := []struct {
		name     string
		url      string
		wantType string
		wantKind apperr.Kind
	}{
		{name: "jpeg", url: srv.URL + "/dog.jpg", wantType: "image/jpeg"},
		{name: "header ignored", url: srv.URL + "/mislabelled", wantType: "image/png"},
		{name: "redirect followed", url: srv.URL + "/moved", wantType: "image/jpeg"},
		{name: "over size cap", url: srv.URL + "/huge.jpg", wantKind: apperr.KindValidation},
		{name: "not an image", url: srv.URL + "/page.html", wantKind: apperr.KindValidation},
		{name: "404", url: srv.URL + "/missing.jpg", wantKind: apperr.KindValidation},
		{name: "500", url: srv.URL + "/broken.jpg", wantKind: apperr.KindValidation},
		{name: "ftp scheme", url: "ftp://example.com/dog.jpg", wantKind: apperr.KindValidation},
		{name: "relative", url: "/dog.jpg", wantKind: apperr.KindValidation},
		{name: "garbage", url: "::not a url", wantKind: apperr.KindValidation},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, ct, err := fetcher.Fetch(context.Background(), c.url)
			if c.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, c.wantKind, apperr.KindOf(err))
				assert.Equal(t, 400, apperr.KindOf(err).Status())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.wantType, ct)
			assert.NotEmpty(t, data)
		})
	}
}

func TestHTTPFetcherNetworkFailureIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/dog.jpg"
	srv.Close()

	_, _, err := newHTTPFetcher(5*time.Second, 1024, true).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExternalService, apperr.KindOf(err))
	assert.Equal(t, 500, apperr.KindOf(err).Status())
	assert.Equal(t, "could not download the source image", apperr.PublicMessage(err))
}

func TestHTTPFetcherRefusesInternalHosts(t *testing.T) {
	srv, hits := newImageServer(t)
	fetcher := NewHTTPFetcher(5*time.Second, 1024)

	for _, u := range []string{srv.URL + "/dog.jpg", "http://localhost:1/dog.jpg"} {
		_, _, err := fetcher.Fetch(context.Background(), u)
		require.Error(t, err, u)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), u)
		assert.Equal(t, "imageUrl must point to a public host", apperr.PublicMessage(err), u)
	}
	assert.Zero(t, hits.Load())
}

func TestIsPublicAddr(t *testing.T) {
	cases := map[string]bool{
		"8.8.8.8":          true,
		"2606:4700::1111":  true,
		"127.0.0.1":        false,
		"10.1.2.3":         false,
		"172.16.0.1":       false,
		"192.168.1.10":     false,
		"169.254.169.254":  false,
		"0.0.0.0":          false,
		"::1":              false,
		"fe80::1":          false,
		"fd00::1":          false,
		"::ffff:127.0.0.1": false,
		"224.0.0.1":        false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, isPublicAddr(netip.MustParseAddr(raw)), raw)
	}
}
