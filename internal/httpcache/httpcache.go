package httpcache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const DefaultMaxAge = time.Hour * 24

var refreshKey int

// WithRefresh marks outgoing requests so the transport ignores cached
// entries. Fresh responses are still stored.
func WithRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, &refreshKey, true)
}

func isRefresh(ctx context.Context) bool {
	v, _ := ctx.Value(&refreshKey).(bool)
	return v
}

type Entry struct {
	UpdatedAt  time.Time
	URL        string
	Status     string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *Entry) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        e.Status,
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

type Storage interface {
	Fetch(u *url.URL) (*Entry, error)
	Save(u *url.URL, e *Entry) error
}

var bboltBucketName = []byte("http_cache")

type BBoltStorage struct {
	db *bbolt.DB
}

func NewBBoltStorage(db *bbolt.DB) *BBoltStorage {
	return &BBoltStorage{db: db}
}

func makeBBoltKey(u *url.URL) []byte {
	h := sha1.New()
	io.WriteString(h, u.String())
	return []byte(filepath.Join(u.Host, hex.EncodeToString(h.Sum(nil))))
}

func (s *BBoltStorage) Fetch(u *url.URL) (*Entry, error) {
	var e *Entry

	if err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bboltBucketName)
		if b == nil {
			return nil
		}

		// only valid for the life of the transaction
		d := b.Get(makeBBoltKey(u))
		if d == nil {
			return nil
		}

		var r Entry
		if err := gob.NewDecoder(bytes.NewReader(d)).Decode(&r); err != nil {
			return err
		}
		e = &r

		return nil
	}); err != nil {
		return nil, fmt.Errorf("httpcache.BBoltStorage.Fetch: %w", err)
	}

	return e, nil
}

func (s *BBoltStorage) Save(u *url.URL, e *Entry) error {
	buf := bytes.NewBuffer(nil)
	if err := gob.NewEncoder(buf).Encode(e); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Save: could not encode entry: %w", err)
	}

	if err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bboltBucketName)
		if err != nil {
			return err
		}

		return b.Put(makeBBoltKey(u), buf.Bytes())
	}); err != nil {
		return fmt.Errorf("httpcache.BBoltStorage.Save: %w", err)
	}

	return nil
}

type Transport struct {
	transport http.RoundTripper
	storage   Storage
	maxAge    time.Duration
	now       func() time.Time
}

func NewTransport(transport http.RoundTripper, storage Storage, maxAge time.Duration) *Transport {
	if transport == nil {
		transport = http.DefaultTransport
	}

	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	return &Transport{
		transport: transport,
		storage:   storage,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.transport.RoundTrip(req)
	}

	if !isRefresh(req.Context()) {
		if e, err := t.storage.Fetch(req.URL); err == nil && e != nil && t.now().Sub(e.UpdatedAt) < t.maxAge {
			return e.Response(req), nil
		}
	}

	res, err := t.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return res, nil
	}

	defer res.Body.Close()

	d, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: could not read response: %w", err)
	}

	e := &Entry{
		UpdatedAt:  t.now(),
		URL:        req.URL.String(),
		Status:     res.Status,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       d,
	}

	if err := t.storage.Save(req.URL, e); err != nil {
		return nil, fmt.Errorf("httpcache.Transport.RoundTrip: %w", err)
	}

	return e.Response(req), nil
}
