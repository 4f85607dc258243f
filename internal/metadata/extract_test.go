package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_OpenGraphWins(t *testing.T) {
	t.Parallel()

	html := `<html><head>
		<title>Fallback Title</title>
		<meta name="twitter:title" content="Twitter Title">
		<meta property="og:title" content="  OG   Title ">
		<meta name="description" content="Plain description">
		<meta property="og:description" content="OG description">
		<meta property="og:image" content="/img/cover.png">
	</head><body></body></html>`

	md := Extract(html, "https://example.com/posts/1")
	assert.Equal(t, "OG Title", md.Title)
	assert.Equal(t, "OG description", md.Description)
	assert.Equal(t, "https://example.com/img/cover.png", md.Image)
}

func TestExtract_Fallbacks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		html string
		want Metadata
	}{
		{
			name: "twitter card",
			html: `<meta name="twitter:title" content="Card">
				<meta name="twitter:description" content="Card text">
				<meta name="twitter:image" content="https://cdn.example.net/card.jpg">`,
			want: Metadata{Title: "Card", Description: "Card text", Image: "https://cdn.example.net/card.jpg"},
		},
		{
			name: "title element and description",
			html: `<head><title>
				Hello
				World </title><meta name="description" content="Desc"></head>`,
			want: Metadata{Title: "Hello World", Description: "Desc"},
		},
		{
			name: "empty content skipped",
			html: `<meta property="og:title" content="   ">
				<meta property="og:title" content="Second">`,
			want: Metadata{Title: "Second"},
		},
		{
			name: "case-insensitive attribute value",
			html: `<meta property="OG:Title" content="Shouty">`,
			want: Metadata{Title: "Shouty"},
		},
		{
			name: "key on wrong attribute ignored",
			html: `<meta name="og:title" content="Wrong attr"><title>Right</title>`,
			want: Metadata{Title: "Right"},
		},
		{
			name: "nothing",
			html: `<html><body><p>no head</p></body></html>`,
			want: Metadata{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Extract(tc.html, "https://example.com/"))
		})
	}
}

func TestExtract_ImageResolution(t *testing.T) {
	t.Parallel()

	base := "https://example.com/blog/post"
	testCases := map[string]string{
		"cover.png":                  "https://example.com/blog/cover.png",
		"../cover.png":               "https://example.com/cover.png",
		"//static.example.org/a.png": "https://static.example.org/a.png",
		"http://other.example/b.png": "http://other.example/b.png",
		"  /spaced.png  ":            "https://example.com/spaced.png",
	}
	for raw, want := range testCases {
		html := `<meta property="og:image" content="` + raw + `">`
		assert.Equal(t, want, Extract(html, base).Image, raw)
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", NormalizeText("  a \n\t b   c "))
	assert.Equal(t, "", NormalizeText(" \n "))
}
