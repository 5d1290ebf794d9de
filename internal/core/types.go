package core

import "time"

// EmailStatus records how a journalist's email address was obtained.
type EmailStatus string

// Known email statuses.
const (
	EmailStatusNone                EmailStatus = ""
	EmailStatusGuessed             EmailStatus = "guessed"
	EmailStatusGuessedByThirdParty EmailStatus = "guessed_by_third_party"
	EmailStatusVerified            EmailStatus = "verified"
)

// Valid reports whether the status is one of the known values.
func (s EmailStatus) Valid() bool {
	switch s {
	case EmailStatusNone, EmailStatusGuessed, EmailStatusGuessedByThirdParty, EmailStatusVerified:
		return true
	default:
		return false
	}
}

// Source is a crawlable publication.
type Source struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Country     string     `json:"country,omitempty"`
	Language    string     `json:"language,omitempty"`
	Locale      string     `json:"locale,omitempty"`
	Priority    bool       `json:"priority"`
	LastCrawled *time.Time `json:"last_crawled,omitempty"`
	// Categories is derived from the source's news-article pages.
	Categories []string  `json:"categories,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Page is a fetched and normalized document belonging to a Source.
type Page struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	SourceID      int64      `json:"source_id"`
	Processed     bool       `json:"processed"`
	IsNewsArticle bool       `json:"is_news_article"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Categories    []string   `json:"categories,omitempty"`
	JournalistIDs []int64    `json:"journalist_ids,omitempty"`
	Embedding     []float32  `json:"-"`
	BlobURI       string     `json:"blob_uri,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Journalist is a byline identity.
type Journalist struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	ProfileURL  string      `json:"profile_url,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Description string      `json:"description,omitempty"`
	Country     string      `json:"country,omitempty"`
	Email       string      `json:"email,omitempty"`
	EmailStatus EmailStatus `json:"email_status,omitempty"`
	// Categories and SourceIDs are derived from authored news-article pages.
	Categories []string  `json:"categories,omitempty"`
	SourceIDs  []int64   `json:"source_ids,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category is a topical tag, unique by name and slug.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ExtractionOutcome is what the extractor persists on a page.
type ExtractionOutcome struct {
	IsNewsArticle bool
	PublishedDate *time.Time
}

// JournalistProfile carries optional fields to fill on an existing journalist.
// Empty values never overwrite stored ones.
type JournalistProfile struct {
	ProfileURL  string
	ImageURL    string
	Description string
}
