package models

import "strings"

// Book is a volume returned by the remote catalog. Identity is ID.
type Book struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	ThumbnailURL  string   `json:"thumbnail_url,omitempty"`
	Description   string   `json:"description,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
}

// AuthorLine joins the authors for display.
func (b Book) AuthorLine() string {
	if len(b.Authors) == 0 {
		return "Unknown author"
	}
	return strings.Join(b.Authors, ", ")
}

// SearchQuery is what the catalog is asked for.
type SearchQuery struct {
	Text     string
	Category string
}

// HasText reports whether the query has anything to search for. Whitespace
// alone does not count.
func (q SearchQuery) HasText() bool {
	return strings.TrimSpace(q.Text) != ""
}
