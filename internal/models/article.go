package models

import "time"

// Article is the canonical news document stored in Elasticsearch.
// Link is the natural key: repeated fetches of the same article
// overwrite the previous document instead of creating a new one.
type Article struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Date        string    `json:"date"`
	Link        string    `json:"link"`
	Image       string    `json:"image,omitempty"`
	Query       string    `json:"query"`
	FetchedAt   time.Time `json:"fetched_at"`
}
