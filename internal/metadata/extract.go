// Package metadata extracts Open Graph, Twitter card, and HTML title
// metadata from a fetched document.
package metadata

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nlnwa/whatwg-url/url"
)

// Metadata is the preview-relevant subset of a document's head. Empty
// strings mean the field was absent.
type Metadata struct {
	Title       string
	Description string
	Image       string
}

type metaKey struct {
	attr  string
	value string
}

var (
	titleKeys = []metaKey{
		{"property", "og:title"},
		{"name", "twitter:title"},
	}
	descriptionKeys = []metaKey{
		{"property", "og:description"},
		{"name", "twitter:description"},
		{"name", "description"},
	}
	imageKeys = []metaKey{
		{"property", "og:image"},
		{"name", "twitter:image"},
	}
)

// Extract parses html and picks each field by precedence. baseURL is the
// document's final URL and anchors relative image references.
func Extract(html string, baseURL string) Metadata {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Metadata{}
	}
	metas := doc.Find("meta")

	title := firstMeta(metas, titleKeys)
	if title == "" {
		title = NormalizeText(doc.Find("title").First().Text())
	}

	return Metadata{
		Title:       title,
		Description: firstMeta(metas, descriptionKeys),
		Image:       resolveImage(baseURL, firstMeta(metas, imageKeys)),
	}
}

func firstMeta(metas *goquery.Selection, keys []metaKey) string {
	for _, key := range keys {
		if v := metaContent(metas, key); v != "" {
			return v
		}
	}
	return ""
}

// metaContent returns the first non-empty content among meta elements whose
// key attribute matches case-insensitively.
func metaContent(metas *goquery.Selection, key metaKey) string {
	var found string
	metas.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		attr, ok := s.Attr(key.attr)
		if !ok || !strings.EqualFold(attr, key.value) {
			return true
		}
		content, ok := s.Attr("content")
		if !ok {
			return true
		}
		found = NormalizeText(content)
		return found == ""
	})
	return found
}

func resolveImage(baseURL, raw string) string {
	if raw == "" {
		return ""
	}
	if abs, err := url.Parse(raw); err == nil {
		return abs.Href(false)
	}
	joined, err := url.ParseRef(baseURL, raw)
	if err != nil {
		return ""
	}
	return joined.Href(false)
}

// NormalizeText trims s and collapses internal whitespace runs to one space.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
