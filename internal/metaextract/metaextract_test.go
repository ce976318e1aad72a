package metaextract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func str(s string) *string { return &s }

var cleanTitleTests = []struct {
	input  string
	output *string
}{
	{"My Video - Share Files Online & Send Larges Files with TeraBox", str("My Video")},
	{"My Video - TeraBox", str("My Video")},
	{"My Video-terabox.com", str("My Video")},
	{"Part 1 - Part 2 - TeraBox", str("Part 1 - Part 2")},
	{"clip.mp4", str("clip")},
	{"clip.MP4 - TeraBox", str("clip")},
	{"A &amp; B", str("A & B")},
	{"&lt;tag&gt; &quot;quoted&quot; &#39;single&#39;", str(`<tag> "quoted" 'single'`)},
	{"   padded   ", str("padded")},
	{"No branding here", str("No branding here")},
	{"", nil},
	{"   ", nil},
	{" - TeraBox", nil},
	{".mp4", nil},
}

func TestCleanTitle(t *testing.T) {
	for _, tc := range cleanTitleTests {
		t.Run(tc.input, func(t *testing.T) {
			a := assert.New(t)
			a.Equal(tc.output, Default.CleanTitle(tc.input))
		})
	}
}

func TestCleanTitleCustomBrand(t *testing.T) {
	a := assert.New(t)

	e := New("ExampleHost")
	a.Equal(str("Holiday"), e.CleanTitle("Holiday - Shared via ExampleHost"))
	a.Equal(str("Holiday - TeraBox"), e.CleanTitle("Holiday - TeraBox"))
}

func BenchmarkCleanTitle(b *testing.B) {
	for _, tc := range cleanTitleTests {
		b.Run(tc.input, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				Default.CleanTitle(tc.input)
			}
		})
	}
}

var extractJSONTests = []struct {
	name  string
	input string
	meta  *Metadata
	err   error
}{
	{
		name:  "title and og_image",
		input: `{"title":"Sunset.mp4 - Share Files Online & Send Larges Files with TeraBox","og_image":"https://data.terabox.com/thumb/1.jpg"}`,
		meta:  &Metadata{Title: str("Sunset"), PosterURL: str("https://data.terabox.com/thumb/1.jpg")},
	},
	{
		name:  "image fallback",
		input: `{"title":"Sunset","image":" https://data.terabox.com/thumb/2.jpg "}`,
		meta:  &Metadata{Title: str("Sunset"), PosterURL: str("https://data.terabox.com/thumb/2.jpg")},
	},
	{
		name:  "og_image preferred over image",
		input: `{"og_image":"https://a.example/1.jpg","image":"https://b.example/2.jpg"}`,
		meta:  &Metadata{PosterURL: str("https://a.example/1.jpg")},
	},
	{
		name:  "empty og_image falls back to image",
		input: `{"og_image":"","image":"https://b.example/2.jpg"}`,
		meta:  &Metadata{PosterURL: str("https://b.example/2.jpg")},
	},
	{
		name:  "empty object",
		input: `{}`,
		meta:  &Metadata{},
	},
	{
		name:  "non string title",
		input: `{"title":12}`,
		meta:  &Metadata{},
	},
	{
		name:  "branding only title",
		input: `{"title":" - TeraBox"}`,
		meta:  &Metadata{},
	},
	{
		name:  "invalid json",
		input: `<html>`,
		err:   ErrUnavailable,
	},
	{
		name:  "array",
		input: `[1,2]`,
		err:   ErrUnavailable,
	},
}

func TestExtractJSON(t *testing.T) {
	for _, tc := range extractJSONTests {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			m, err := Default.Extract([]byte(tc.input), JSON)
			if tc.err != nil {
				a.Nil(m)
				a.True(errors.Is(err, tc.err))
				return
			}

			a.NoError(err)
			a.Equal(tc.meta, m)
		})
	}
}

var extractHTMLTests = []struct {
	name  string
	input string
	meta  *Metadata
}{
	{
		name: "title and og:image",
		input: `<!doctype html><html><head>
<title>Beach Day.mp4 - Share Files Online &amp; Send Larges Files with TeraBox</title>
<meta property="og:image" content="https://data.terabox.com/thumb/beach.jpg">
</head><body></body></html>`,
		meta: &Metadata{Title: str("Beach Day"), PosterURL: str("https://data.terabox.com/thumb/beach.jpg")},
	},
	{
		name: "case insensitive property",
		input: `<html><head><title>Clip</title>
<meta property="OG:Image" content="https://x.example/p.jpg"></head></html>`,
		meta: &Metadata{Title: str("Clip"), PosterURL: str("https://x.example/p.jpg")},
	},
	{
		name: "first title wins",
		input: `<html><head><title>First</title></head><body><svg><title>Second</title></svg></body></html>`,
		meta: &Metadata{Title: str("First")},
	},
	{
		name: "entities decoded once",
		input: `<html><head><title>Tom &amp;amp; Jerry</title></head></html>`,
		meta: &Metadata{Title: str("Tom &amp; Jerry")},
	},
	{
		name: "no metadata",
		input: `<html><body><p>nothing</p></body></html>`,
		meta: &Metadata{},
	},
	{
		name: "meta without property is ignored",
		input: `<html><head><meta name="og:image" content="https://x.example/n.jpg"><meta property="og:image" content="https://x.example/p.jpg"></head></html>`,
		meta: &Metadata{PosterURL: str("https://x.example/p.jpg")},
	},
}

func TestExtractHTML(t *testing.T) {
	for _, tc := range extractHTMLTests {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			m, err := Default.Extract([]byte(tc.input), HTML)
			a.NoError(err)
			a.Equal(tc.meta, m)
		})
	}
}

func TestContentKindText(t *testing.T) {
	a := assert.New(t)

	var k ContentKind
	a.NoError(k.UnmarshalText([]byte("HTML")))
	a.Equal(HTML, k)
	a.NoError(k.UnmarshalText([]byte("json")))
	a.Equal(JSON, k)
	a.Error(k.UnmarshalText([]byte("xml")))

	d, err := HTML.MarshalText()
	a.NoError(err)
	a.Equal("html", string(d))
}
