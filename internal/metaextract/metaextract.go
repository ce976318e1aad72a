package metaextract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
	"github.com/PuerkitoBio/goquery"
)

var (
	ErrUnavailable = fmt.Errorf("metaextract: metadata unavailable")
)

type ContentKind int

const (
	JSON ContentKind = iota
	HTML
)

func (k ContentKind) String() string {
	switch k {
	case JSON:
		return "json"
	case HTML:
		return "html"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

func (k ContentKind) MarshalText() ([]byte, error) {
	switch k {
	case JSON, HTML:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("metaextract.ContentKind.MarshalText: invalid value %d", int(k))
	}
}

func (k *ContentKind) UnmarshalText(d []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(d))) {
	case "json", "":
		*k = JSON
	case "html":
		*k = HTML
	default:
		return fmt.Errorf("metaextract.ContentKind.UnmarshalText: unrecognised input %q; valid options are json or html", string(d))
	}

	return nil
}

// Metadata is what could be recovered for one external identifier. Either
// field may be nil; an empty string is never stored.
type Metadata struct {
	Title     *string
	PosterURL *string
}

const DefaultBrand = "TeraBox"

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

var mp4Suffix = regexp.MustCompile(`(?i)\.mp4\s*$`)

type Extractor struct {
	brand       string
	brandSuffix *regexp.Regexp
}

func New(brand string) *Extractor {
	if brand == "" {
		brand = DefaultBrand
	}

	return &Extractor{
		brand: brand,
		// " - Share Files Online & Send Larges Files with TeraBox", " - TeraBox", etc
		brandSuffix: regexp.MustCompile(`(?i)\s*-\s*[^-\r\n]*` + regexp.QuoteMeta(brand) + `.*$`),
	}
}

var Default = New(DefaultBrand)

func (e *Extractor) Brand() string { return e.brand }

func (e *Extractor) Extract(body []byte, kind ContentKind) (*Metadata, error) {
	switch kind {
	case JSON:
		return e.ExtractJSON(body)
	case HTML:
		return e.ExtractHTML(body)
	default:
		return nil, fmt.Errorf("metaextract.Extractor.Extract: unsupported content kind %s", kind)
	}
}

func (e *Extractor) ExtractJSON(body []byte) (*Metadata, error) {
	j, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("metaextract.Extractor.ExtractJSON: %w: %s", ErrUnavailable, err.Error())
	}

	if _, ok := j.Data().(map[string]interface{}); !ok {
		return nil, fmt.Errorf("metaextract.Extractor.ExtractJSON: %w: top level value is %T, not an object", ErrUnavailable, j.Data())
	}

	var m Metadata

	if s, ok := j.Path("title").Data().(string); ok {
		m.Title = e.CleanTitle(s)
	}

	for _, key := range []string{"og_image", "image"} {
		if s, ok := j.Path(key).Data().(string); ok {
			if m.PosterURL = cleanURL(s); m.PosterURL != nil {
				break
			}
		}
	}

	return &m, nil
}

func (e *Extractor) ExtractHTML(body []byte) (*Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("metaextract.Extractor.ExtractHTML: %w: %s", ErrUnavailable, err.Error())
	}

	var m Metadata

	if sel := doc.Find("title").First(); sel.Length() > 0 {
		// Text has already decoded entities once.
		m.Title = e.cleanTitle(sel.Text(), false)
	}

	doc.Find("meta").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(sel.AttrOr("property", "")), "og:image") {
			return true
		}

		m.PosterURL = cleanURL(sel.AttrOr("content", ""))

		return false
	})

	return &m, nil
}

// CleanTitle strips hosting-site branding and a trailing file extension,
// decodes the common HTML entities and trims whitespace.
func (e *Extractor) CleanTitle(s string) *string {
	return e.cleanTitle(s, true)
}

func (e *Extractor) cleanTitle(s string, decode bool) *string {
	s = e.brandSuffix.ReplaceAllString(s, "")
	s = mp4Suffix.ReplaceAllString(s, "")
	if decode {
		s = entityReplacer.Replace(s)
	}
	s = strings.TrimSpace(s)

	if s == "" {
		return nil
	}

	return &s
}

func cleanURL(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	return &s
}
