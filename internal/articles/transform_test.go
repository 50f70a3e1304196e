package articles_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/newsline/backend/internal/articles"
	"github.com/newsline/backend/internal/fetch"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestFromResultFillsDefaults(t *testing.T) {
	r := fetch.Result{
		Link: "https://example.com/story",
	}

	a := articles.FromResult(r, "technology", now)

	require.Equal(t, "Untitled", a.Title)
	require.Empty(t, a.Description)
	require.Equal(t, "2025-03-10", a.Date)
	require.Empty(t, a.Image)
	require.Equal(t, "technology", a.Query)
	require.Equal(t, now, a.FetchedAt)
}

func TestFromResultKeepsProvidedFields(t *testing.T) {
	r := fetch.Result{
		Title:     " Chips are back ",
		Snippet:   "A new fab opens.",
		Link:      "https://example.com/chips",
		Thumbnail: "https://example.com/chips.jpg",
		Source:    fetch.Source{Name: "Example Wire"},
		Date:      "2025-03-01",
	}

	a := articles.FromResult(r, "technology", now)

	require.Equal(t, "Chips are back", a.Title)
	require.Equal(t, "A new fab opens.", a.Description)
	require.Equal(t, "https://example.com/chips.jpg", a.Image)
	require.Equal(t, "Example Wire", a.Source)
	require.Equal(t, "2025-03-01", a.Date)
}

func TestFromResultDropsInvalidImage(t *testing.T) {
	tests := []struct {
		name  string
		image string
	}{
		{name: "relative path", image: "/img/logo.png"},
		{name: "wrong scheme", image: "ftp://example.com/a.jpg"},
		{name: "no host", image: "https:///a.jpg"},
		{name: "garbage", image: "::::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fetch.Result{Link: "https://example.com/x", Thumbnail: tt.image}
			a := articles.FromResult(r, "technology", now)
			require.Empty(t, a.Image)
		})
	}
}

func TestFromResultsDropsMissingLinks(t *testing.T) {
	results := []fetch.Result{
		{Title: "kept", Link: "https://example.com/a"},
		{Title: "no link"},
		{Title: "kept too", Link: "https://example.com/b"},
	}

	out := articles.FromResults(results, "sports", now)
	require.Len(t, out, 2)
	require.Equal(t, "https://example.com/a", out[0].Link)
	require.Equal(t, "https://example.com/b", out[1].Link)
}

func TestDocumentIDIsStablePerLink(t *testing.T) {
	a := articles.DocumentID("https://example.com/story")
	b := articles.DocumentID("https://example.com/story")
	c := articles.DocumentID("https://example.com/other")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 40)

	// Whitespace around the link must not change the identity.
	require.Equal(t, a, articles.DocumentID("  https://example.com/story "))
}
