// Package linkextract parses fetched HTML and extracts the outbound
// links and page metadata the frontier and dedup layers need.
package linkextract

import (
	"bytes"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Page holds everything extracted from one HTML document.
type Page struct {
	Title           string
	MetaDescription string
	MetaRobots      string
	Canonical       string

	H1 []string
	H2 []string
	H3 []string

	Links  []Link
	Images []Image

	Scripts     []Resource
	Stylesheets []Resource

	BaseURL  string
	Language string

	WordCount   int
	TextContent string
}

// Link is a discovered outbound link, prior to admission-pipeline
// normalization and filtering.
type Link struct {
	URL      string
	Text     string
	Rel      string
	NoFollow bool
}

// Image is a discovered image reference.
type Image struct {
	Src     string
	Alt     string
	Loading string
	Lazy    bool // set when the src came from a data-src attribute
}

// Resource is an external script or stylesheet reference.
type Resource struct {
	URL   string
	Type  string
	Async bool
	Defer bool
}

// Extractor parses HTML content relative to a base URL.
type Extractor struct {
	baseURL *url.URL
}

// NewExtractor creates an Extractor anchored at baseURL.
func NewExtractor(baseURL string) (*Extractor, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &Extractor{baseURL: u}, nil
}

// Parse walks the document and builds a Page.
func (e *Extractor) Parse(htmlContent []byte) (*Page, error) {
	doc, err := html.Parse(bytes.NewReader(htmlContent))
	if err != nil {
		return nil, err
	}

	page := &Page{
		H1:          make([]string, 0),
		H2:          make([]string, 0),
		H3:          make([]string, 0),
		Links:       make([]Link, 0),
		Images:      make([]Image, 0),
		Scripts:     make([]Resource, 0),
		Stylesheets: make([]Resource, 0),
	}

	var textBuilder strings.Builder
	e.traverse(doc, page, &textBuilder)

	page.TextContent = textBuilder.String()
	page.WordCount = len(strings.Fields(page.TextContent))

	return page, nil
}

func (e *Extractor) traverse(n *html.Node, page *Page, textBuilder *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "html":
			page.Language = getAttr(n, "lang")

		case "base":
			if href := getAttr(n, "href"); href != "" {
				page.BaseURL = href
				if u, err := url.Parse(href); err == nil {
					e.baseURL = e.baseURL.ResolveReference(u)
				}
			}

		case "title":
			page.Title = getTextContent(n)

		case "meta":
			e.parseMeta(n, page)

		case "link":
			e.parseLink(n, page)

		case "a":
			link := e.parseAnchor(n)
			if link.URL != "" {
				page.Links = append(page.Links, link)
			}

		case "img":
			page.Images = append(page.Images, e.parseImage(n))

		case "script":
			if src := getAttr(n, "src"); src != "" {
				page.Scripts = append(page.Scripts, Resource{
					URL:   e.resolveURL(src),
					Type:  getAttr(n, "type"),
					Async: hasAttr(n, "async"),
					Defer: hasAttr(n, "defer"),
				})
			}

		case "h1":
			if t := strings.TrimSpace(getTextContent(n)); t != "" {
				page.H1 = append(page.H1, t)
			}
		case "h2":
			if t := strings.TrimSpace(getTextContent(n)); t != "" {
				page.H2 = append(page.H2, t)
			}
		case "h3":
			if t := strings.TrimSpace(getTextContent(n)); t != "" {
				page.H3 = append(page.H3, t)
			}
		}
	}

	if n.Type == html.TextNode {
		parent := n.Parent
		if parent != nil && parent.Data != "script" && parent.Data != "style" {
			if t := strings.TrimSpace(n.Data); t != "" {
				textBuilder.WriteString(t)
				textBuilder.WriteString(" ")
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		e.traverse(c, page, textBuilder)
	}
}

func (e *Extractor) parseMeta(n *html.Node, page *Page) {
	name := strings.ToLower(getAttr(n, "name"))
	content := getAttr(n, "content")

	switch name {
	case "description":
		page.MetaDescription = content
	case "robots":
		page.MetaRobots = content
	}
}

func (e *Extractor) parseLink(n *html.Node, page *Page) {
	rel := strings.ToLower(getAttr(n, "rel"))
	href := getAttr(n, "href")

	switch rel {
	case "canonical":
		page.Canonical = e.resolveURL(href)
	case "stylesheet":
		page.Stylesheets = append(page.Stylesheets, Resource{URL: e.resolveURL(href), Type: "text/css"})
	}
}

func (e *Extractor) parseAnchor(n *html.Node) Link {
	href := getAttr(n, "href")
	rel := strings.ToLower(getAttr(n, "rel"))

	if href == "" || strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "#") {
		return Link{}
	}

	return Link{
		URL:      e.resolveURL(href),
		Text:     strings.TrimSpace(getTextContent(n)),
		Rel:      rel,
		NoFollow: strings.Contains(rel, "nofollow"),
	}
}

func (e *Extractor) parseImage(n *html.Node) Image {
	src := getAttr(n, "src")
	dataSrc := getAttr(n, "data-src")

	img := Image{
		Alt:     getAttr(n, "alt"),
		Loading: getAttr(n, "loading"),
	}

	if dataSrc != "" {
		img.Src = e.resolveURL(dataSrc)
		img.Lazy = true
	} else if src != "" {
		img.Src = e.resolveURL(src)
	}

	return img
}

func (e *Extractor) resolveURL(href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.baseURL.ResolveReference(ref).String()
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

func getTextContent(n *html.Node) string {
	var buf bytes.Buffer
	collectText(n, &buf)
	return buf.String()
}

func collectText(n *html.Node, buf *bytes.Buffer) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, buf)
	}
}

// Extract is a convenience wrapper for one-shot parsing from bytes.
func Extract(baseURL string, content []byte) (*Page, error) {
	e, err := NewExtractor(baseURL)
	if err != nil {
		return nil, err
	}
	return e.Parse(content)
}

// ExtractReader parses HTML from an io.Reader.
func ExtractReader(baseURL string, r io.Reader) (*Page, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Extract(baseURL, content)
}

// Links extracts only the outbound links from HTML content.
func Links(baseURL string, content []byte) ([]Link, error) {
	page, err := Extract(baseURL, content)
	if err != nil {
		return nil, err
	}
	return page.Links, nil
}
