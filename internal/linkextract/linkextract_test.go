package linkextract_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepharvest/crawler/internal/linkextract"
)

const samplePage = `<!DOCTYPE html>
<html lang="en">
<head>
	<title>Sample Page</title>
	<meta name="description" content="A sample page">
	<meta name="robots" content="noindex, nofollow">
	<link rel="canonical" href="/canonical-path">
	<link rel="stylesheet" href="/style.css">
</head>
<body>
	<h1>Heading One</h1>
	<p>Some paragraph text here.</p>
	<a href="/a">link a</a>
	<a href="https://other.example/b" rel="nofollow">external nofollow</a>
	<a href="javascript:void(0)">skip me</a>
	<a href="#section">skip anchor</a>
	<a href="mailto:someone@example.com">mail</a>
	<a href="tel:+15550100">call</a>
	<img src="/img.png" alt="an image">
	<img data-src="/lazy.png" alt="lazy image">
</body>
</html>`

func TestExtract_ParsesTitleAndMeta(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "Sample Page", page.Title)
	assert.Equal(t, "A sample page", page.MetaDescription)
	assert.Equal(t, "noindex, nofollow", page.MetaRobots)
	assert.Equal(t, "en", page.Language)
}

func TestExtract_ResolvesCanonicalAndStylesheet(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/canonical-path", page.Canonical)
	require.Len(t, page.Stylesheets, 1)
	assert.Equal(t, "https://example.com/style.css", page.Stylesheets[0].URL)
}

func TestExtract_SkipsJavascriptMailtoTelAndFragmentLinks(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)

	for _, link := range page.Links {
		assert.False(t, strings.HasPrefix(link.URL, "javascript:"))
	}
	assert.Len(t, page.Links, 2)
}

func TestExtract_ResolvesRelativeAndAbsoluteLinksAndMarksNoFollow(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)

	var relative, external *linkextract.Link
	for i := range page.Links {
		switch page.Links[i].URL {
		case "https://example.com/a":
			relative = &page.Links[i]
		case "https://other.example/b":
			external = &page.Links[i]
		}
	}

	require.NotNil(t, relative)
	assert.False(t, relative.NoFollow)

	require.NotNil(t, external)
	assert.True(t, external.NoFollow)
}

func TestExtract_ParsesImagesIncludingLazySrc(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)

	require.Len(t, page.Images, 2)
	assert.Equal(t, "https://example.com/img.png", page.Images[0].Src)
	assert.False(t, page.Images[0].Lazy)

	assert.Equal(t, "https://example.com/lazy.png", page.Images[1].Src)
	assert.True(t, page.Images[1].Lazy)
}

func TestExtract_CountsWords(t *testing.T) {
	page, err := linkextract.Extract("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)
	assert.Greater(t, page.WordCount, 0)
}

func TestLinks_ConvenienceWrapper(t *testing.T) {
	links, err := linkextract.Links("https://example.com/page", []byte(samplePage))
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestExtract_BaseTagOverridesResolution(t *testing.T) {
	html := `<html><head><base href="https://cdn.example.com/assets/"></head>
	<body><a href="file.html">link</a></body></html>`

	page, err := linkextract.Extract("https://example.com/page", []byte(html))
	require.NoError(t, err)
	require.Len(t, page.Links, 1)
	assert.Equal(t, "https://cdn.example.com/assets/file.html", page.Links[0].URL)
}
