package metasource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"fknsrs.biz/p/catalogfill/internal/ctxhttpclient"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
	"fknsrs.biz/p/catalogfill/internal/httpcache"
	"fknsrs.biz/p/catalogfill/internal/metaextract"
)

const (
	DefaultServiceURL       = "https://get-metadata.shraj.workers.dev/"
	DefaultContentURLPrefix = "https://teraboxapp.com/s/"
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout          = time.Second * 10

	maxBodySize = 8 << 20
)

type Source interface {
	Kind() metaextract.ContentKind
	Fetch(ctx context.Context, externalID string) ([]byte, error)
}

// JSONSource asks a metadata service to summarise the content page.
type JSONSource struct {
	ServiceURL       string
	ContentURLPrefix string
}

func (s *JSONSource) Kind() metaextract.ContentKind { return metaextract.JSON }

func (s *JSONSource) URL(externalID string) (string, error) {
	u, err := url.Parse(s.ServiceURL)
	if err != nil {
		return "", fmt.Errorf("metasource.JSONSource.URL: could not parse service url: %w", err)
	}

	q := u.Query()
	q.Set("url", s.ContentURLPrefix+externalID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (s *JSONSource) Fetch(ctx context.Context, externalID string) ([]byte, error) {
	u, err := s.URL(externalID)
	if err != nil {
		return nil, fmt.Errorf("metasource.JSONSource.Fetch: %w", err)
	}

	body, _, err := get(ctx, u, map[string]string{"accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("metasource.JSONSource.Fetch: %w", err)
	}

	return body, nil
}

// HTMLSource fetches the public content page directly.
type HTMLSource struct {
	ContentURLPrefix string
	UserAgent        string
}

func (s *HTMLSource) Kind() metaextract.ContentKind { return metaextract.HTML }

func (s *HTMLSource) URL(externalID string) string {
	return s.ContentURLPrefix + url.PathEscape(externalID)
}

func (s *HTMLSource) Fetch(ctx context.Context, externalID string) ([]byte, error) {
	userAgent := s.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	body, contentType, err := get(ctx, s.URL(externalID), map[string]string{
		"accept":     "text/html,application/xhtml+xml",
		"user-agent": userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("metasource.HTMLSource.Fetch: %w", err)
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("metasource.HTMLSource.Fetch: %w: could not determine charset: %s", metaextract.ErrUnavailable, err.Error())
	}

	d, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("metasource.HTMLSource.Fetch: %w: could not decode body: %s", metaextract.ErrUnavailable, err.Error())
	}

	return d, nil
}

func get(ctx context.Context, u string, headers map[string]string) ([]byte, string, error) {
	res, err := ctxhttpclient.Get(ctx, u, headers)
	if err != nil {
		return nil, "", fmt.Errorf("metasource.get: %w: %s", metaextract.ErrUnavailable, err.Error())
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, "", fmt.Errorf("metasource.get: %w: status code %d", metaextract.ErrUnavailable, res.StatusCode)
	}

	d, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("metasource.get: %w: could not read response: %s", metaextract.ErrUnavailable, err.Error())
	}

	return d, res.Header.Get("content-type"), nil
}

type Options struct {
	Kind             metaextract.ContentKind
	ServiceURL       string
	ContentURLPrefix string
	UserAgent        string
	Timeout          time.Duration
	Extractor        *metaextract.Extractor
}

// Client pairs one Source with the extractor for its content kind. There is
// no fallback between sources.
type Client struct {
	source    Source
	extractor *metaextract.Extractor
	timeout   time.Duration
}

func New(opts Options) *Client {
	if opts.ContentURLPrefix == "" {
		opts.ContentURLPrefix = DefaultContentURLPrefix
	}

	var source Source
	switch opts.Kind {
	case metaextract.HTML:
		source = &HTMLSource{ContentURLPrefix: opts.ContentURLPrefix, UserAgent: opts.UserAgent}
	default:
		if opts.ServiceURL == "" {
			opts.ServiceURL = DefaultServiceURL
		}
		source = &JSONSource{ServiceURL: opts.ServiceURL, ContentURLPrefix: opts.ContentURLPrefix}
	}

	return NewWithSource(source, opts.Extractor, opts.Timeout)
}

func NewWithSource(source Source, extractor *metaextract.Extractor, timeout time.Duration) *Client {
	if extractor == nil {
		extractor = metaextract.Default
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{source: source, extractor: extractor, timeout: timeout}
}

func (c *Client) Source() Source { return c.source }

func (c *Client) Lookup(ctx context.Context, externalID string) (*metaextract.Metadata, error) {
	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"metasource.kind":        c.source.Kind(),
		"metasource.external_id": externalID,
	})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.source.Fetch(ctx, externalID)
	if err != nil {
		l.WithError(err).Debug("metadata fetch failed")
		return nil, fmt.Errorf("metasource.Client.Lookup: %w", err)
	}

	m, err := c.extractor.Extract(body, c.source.Kind())
	if err != nil {
		l.WithError(err).Debug("metadata extraction failed")
		return nil, fmt.Errorf("metasource.Client.Lookup: %w", err)
	}

	l.WithFields(logrus.Fields{
		"metasource.has_title":  m.Title != nil,
		"metasource.has_poster": m.PosterURL != nil,
	}).Debug("metadata fetched")

	return m, nil
}

// WithRefresh makes lookups made with the returned context skip cached
// responses.
func WithRefresh(ctx context.Context) context.Context {
	return httpcache.WithRefresh(ctx)
}
