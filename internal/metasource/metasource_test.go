package metasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fknsrs.biz/p/catalogfill/internal/ctxhttpclient"
	"fknsrs.biz/p/catalogfill/internal/metaextract"
)

func TestJSONSourceURL(t *testing.T) {
	a := assert.New(t)

	s := &JSONSource{ServiceURL: "https://meta.example/", ContentURLPrefix: "https://teraboxapp.com/s/"}

	u, err := s.URL("1abc_DEF")
	a.NoError(err)
	a.Equal("https://meta.example/?url=https%3A%2F%2Fteraboxapp.com%2Fs%2F1abc_DEF", u)
}

func TestJSONLookup(t *testing.T) {
	var gotURL string

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.Query().Get("url")
		rw.Header().Set("content-type", "application/json")
		fmt.Fprint(rw, `{"title":"Trip.mp4 - Share Files Online & Send Larges Files with TeraBox","og_image":"https://data.terabox.com/trip.jpg"}`)
	}))
	defer srv.Close()

	a := assert.New(t)

	c := New(Options{Kind: metaextract.JSON, ServiceURL: srv.URL, ContentURLPrefix: "https://teraboxapp.com/s/"})

	m, err := c.Lookup(context.Background(), "1trip")
	a.NoError(err)
	a.Equal("https://teraboxapp.com/s/1trip", gotURL)
	if a.NotNil(m) && a.NotNil(m.Title) && a.NotNil(m.PosterURL) {
		a.Equal("Trip", *m.Title)
		a.Equal("https://data.terabox.com/trip.jpg", *m.PosterURL)
	}
}

func TestHTMLLookup(t *testing.T) {
	var gotUserAgent, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("user-agent")
		gotPath = r.URL.Path
		rw.Header().Set("content-type", "text/html; charset=iso-8859-1")
		// "Café" in latin-1
		rw.Write([]byte("<html><head><title>Caf\xe9 - TeraBox</title><meta property=\"og:image\" content=\"https://x.example/c.jpg\"></head></html>"))
	}))
	defer srv.Close()

	a := assert.New(t)

	c := New(Options{Kind: metaextract.HTML, ContentURLPrefix: srv.URL + "/s/"})

	m, err := c.Lookup(context.Background(), "1cafe")
	a.NoError(err)
	a.Equal(DefaultUserAgent, gotUserAgent)
	a.Equal("/s/1cafe", gotPath)
	if a.NotNil(m) && a.NotNil(m.Title) && a.NotNil(m.PosterURL) {
		a.Equal("Café", *m.Title)
		a.Equal("https://x.example/c.jpg", *m.PosterURL)
	}
}

func TestLookupUnavailable(t *testing.T) {
	for _, tc := range []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(rw http.ResponseWriter, r *http.Request) { http.Error(rw, "boom", http.StatusInternalServerError) }},
		{"not found", func(rw http.ResponseWriter, r *http.Request) { http.NotFound(rw, r) }},
		{"malformed body", func(rw http.ResponseWriter, r *http.Request) { fmt.Fprint(rw, "not json") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := New(Options{Kind: metaextract.JSON, ServiceURL: srv.URL})

			m, err := c.Lookup(context.Background(), "1abc")
			a.Nil(m)
			a.True(errors.Is(err, metaextract.ErrUnavailable), "expected unavailable, got %v", err)
		})
	}
}

func TestLookupTimeout(t *testing.T) {
	a := assert.New(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(Options{Kind: metaextract.JSON, ServiceURL: srv.URL, Timeout: time.Millisecond * 50})

	start := time.Now()
	m, err := c.Lookup(context.Background(), "1slow")
	a.Nil(m)
	a.True(errors.Is(err, metaextract.ErrUnavailable))
	a.Less(time.Since(start), time.Second*5)
}

func TestLookupUsesContextClient(t *testing.T) {
	a := assert.New(t)

	var used bool
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		used = true
		return nil, fmt.Errorf("offline")
	})}

	c := New(Options{Kind: metaextract.HTML})

	_, err := c.Lookup(ctxhttpclient.WithHTTPClient(context.Background(), client), "1abc")
	a.Error(err)
	a.True(used)
}

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
