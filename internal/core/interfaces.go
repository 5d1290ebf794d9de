package core

import (
	"context"
	"time"
)

// SourceRepository persists Sources.
type SourceRepository interface {
	// FindStaleSources returns sources never crawled or crawled before cutoff,
	// priority first, then oldest crawl first with never-crawled leading.
	FindStaleSources(ctx context.Context, cutoff time.Time, limit int) ([]Source, error)
	GetSource(ctx context.Context, id int64) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	// CreateSource inserts a source, returning ErrAlreadyExists on a URL or slug collision.
	CreateSource(ctx context.Context, src Source) (Source, error)
	GetSourceByURL(ctx context.Context, url string) (Source, error)
	MarkCrawled(ctx context.Context, id int64, at time.Time) error
}

// PageRepository persists Pages.
type PageRepository interface {
	PageExists(ctx context.Context, url string) (bool, error)
	// InsertPageIfAbsent atomically inserts the page unless its URL exists.
	// created is false when another writer got there first.
	InsertPageIfAbsent(ctx context.Context, page Page) (stored Page, created bool, err error)
	GetPage(ctx context.Context, id int64) (Page, error)
	CountPages(ctx context.Context) (int, error)
	FindUnprocessedPages(ctx context.Context, limit int, reprocess bool) ([]Page, error)
	MarkProcessed(ctx context.Context, id int64, outcome ExtractionOutcome) error
	LinkJournalist(ctx context.Context, pageID, journalistID int64) error
	FindUncategorizedPages(ctx context.Context, limit int) ([]Page, error)
	AttachCategories(ctx context.Context, pageID int64, categoryIDs []int64) error
	FindPagesMissingEmbedding(ctx context.Context, limit int) ([]Page, error)
	// SetPageEmbedding writes only the embedding column.
	SetPageEmbedding(ctx context.Context, id int64, vec []float32) error
	// ListJournalistArticles returns the journalist's news-article pages, newest first.
	ListJournalistArticles(ctx context.Context, journalistID int64, limit int) ([]Page, error)
	CountJournalistArticles(ctx context.Context, journalistID int64) (int, error)
}

// JournalistRepository persists Journalists.
type JournalistRepository interface {
	GetJournalist(ctx context.Context, id int64) (Journalist, error)
	FindByProfileURL(ctx context.Context, profileURL string) (Journalist, error)
	FindBySlug(ctx context.Context, slug string) (Journalist, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	// InsertJournalist returns ErrAlreadyExists on a slug/profile/email collision.
	InsertJournalist(ctx context.Context, j Journalist) (Journalist, error)
	FillProfile(ctx context.Context, id int64, profile JournalistProfile) error
	CountJournalists(ctx context.Context) (int, error)
	ListJournalistIDs(ctx context.Context) ([]int64, error)
	FindJournalistsModifiedSince(ctx context.Context, since time.Time, limit int) ([]Journalist, error)
	FindJournalistsMissingEmbedding(ctx context.Context, limit int) ([]Journalist, error)
	// SetJournalistEmbedding writes only the embedding column and leaves updated_at alone.
	SetJournalistEmbedding(ctx context.Context, id int64, vec []float32) error
	FindJournalistsWithoutEmail(ctx context.Context, limit int) ([]Journalist, error)
	// SetEmail returns ErrAlreadyExists when the address belongs to another journalist.
	SetEmail(ctx context.Context, id int64, email string, status EmailStatus) error
	FindJournalistsByNameTerms(ctx context.Context, terms []string) ([]Journalist, error)
	DeleteJournalist(ctx context.Context, id int64) error
}

// CategoryRepository persists Categories.
type CategoryRepository interface {
	ListCategoryNames(ctx context.Context) ([]string, error)
	// EnsureCategory returns the category with the name's slug, creating it if absent.
	EnsureCategory(ctx context.Context, name string) (Category, error)
}

// DerivationRepository recomputes derived membership from authored pages.
type DerivationRepository interface {
	// RederiveJournalist sets the journalist's categories and sources to the
	// union over its news-article pages and bumps updated_at.
	RederiveJournalist(ctx context.Context, id int64) error
	// RederiveSource sets the source's categories to the union over its news-article pages.
	RederiveSource(ctx context.Context, id int64) error
}

// Store bundles every repository the pipeline needs.
type Store interface {
	SourceRepository
	PageRepository
	JournalistRepository
	CategoryRepository
	DerivationRepository
	Ping(ctx context.Context) error
	Close()
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}
