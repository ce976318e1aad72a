package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.etcd.io/bbolt"
)

func withTransport(t *testing.T, maxAge time.Duration, fn func(client *http.Client, tr *Transport)) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "cache.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	tr := NewTransport(nil, NewBBoltStorage(db), maxAge)

	fn(&http.Client{Transport: tr}, tr)
}

func get(ctx context.Context, client *http.Client, u string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, "", err
	}

	res, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()

	d, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, "", err
	}

	return res.StatusCode, string(d), nil
}

func TestTransportCachesSuccessfulResponses(t *testing.T) {
	var hits int32

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		fmt.Fprintf(rw, "response %d", n)
	}))
	defer srv.Close()

	withTransport(t, time.Hour, func(client *http.Client, tr *Transport) {
		a := assert.New(t)
		ctx := context.Background()

		code, body, err := get(ctx, client, srv.URL+"/a")
		a.NoError(err)
		a.Equal(http.StatusOK, code)
		a.Equal("response 1", body)

		_, body, err = get(ctx, client, srv.URL+"/a")
		a.NoError(err)
		a.Equal("response 1", body)
		a.Equal(int32(1), atomic.LoadInt32(&hits))

		_, body, err = get(WithRefresh(ctx), client, srv.URL+"/a")
		a.NoError(err)
		a.Equal("response 2", body)

		_, body, err = get(ctx, client, srv.URL+"/a")
		a.NoError(err)
		a.Equal("response 2", body)
		a.Equal(int32(2), atomic.LoadInt32(&hits))
	})
}

func TestTransportExpiresEntries(t *testing.T) {
	var hits int32

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		fmt.Fprintf(rw, "response %d", n)
	}))
	defer srv.Close()

	withTransport(t, time.Minute, func(client *http.Client, tr *Transport) {
		a := assert.New(t)
		ctx := context.Background()

		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		tr.now = func() time.Time { return now }

		_, body, err := get(ctx, client, srv.URL)
		a.NoError(err)
		a.Equal("response 1", body)

		now = now.Add(time.Minute * 2)

		_, body, err = get(ctx, client, srv.URL)
		a.NoError(err)
		a.Equal("response 2", body)
	})
}

func TestTransportDoesNotCacheErrors(t *testing.T) {
	var hits int32

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(rw, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	withTransport(t, time.Hour, func(client *http.Client, tr *Transport) {
		a := assert.New(t)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			code, _, err := get(ctx, client, srv.URL)
			a.NoError(err)
			a.Equal(http.StatusBadGateway, code)
		}

		a.Equal(int32(2), atomic.LoadInt32(&hits))
	})
}
