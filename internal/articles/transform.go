package articles

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/newsline/backend/internal/fetch"
	"github.com/newsline/backend/internal/models"
)

// titlePlaceholder replaces a missing headline so listings never render
// an empty string.
const titlePlaceholder = "Untitled"

// DocumentID derives the storage id for an article link. Deriving the
// id from the natural key makes every write an upsert: two articles
// with the same link can never coexist in the index.
func DocumentID(link string) string {
	h := sha1.Sum([]byte(strings.TrimSpace(link)))
	return hex.EncodeToString(h[:])
}

// FromResult converts one raw search hit into an Article, filling
// defaults for missing optional fields.
func FromResult(r fetch.Result, query string, now time.Time) models.Article {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		title = titlePlaceholder
	}

	date := strings.TrimSpace(r.Date)
	if date == "" {
		date = now.UTC().Format("2006-01-02")
	}

	a := models.Article{
		Title:       title,
		Description: strings.TrimSpace(r.Snippet),
		Source:      strings.TrimSpace(r.Source.Name),
		Date:        date,
		Link:        strings.TrimSpace(r.Link),
		Query:       query,
		FetchedAt:   now.UTC(),
	}

	if img := strings.TrimSpace(r.Thumbnail); img != "" && ValidImageURL(img) {
		a.Image = img
	}

	return a
}

// FromResults converts a batch of raw hits, dropping any without a link
// since the link is the document key.
func FromResults(results []fetch.Result, query string, now time.Time) []models.Article {
	out := make([]models.Article, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Link) == "" {
			continue
		}
		out = append(out, FromResult(r, query, now))
	}
	return out
}

// ValidImageURL reports whether raw is an absolute http(s) URL.
func ValidImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
