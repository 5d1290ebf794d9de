package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/JakeFAU/pressroom/internal/core"
)

// pageColumns never selects the embedding; vectors are write-only from the pipeline's side.
const pageColumns = `
SELECT p.id, p.url, p.title, p.content, p.source_id, p.processed, p.is_news_article,
       p.published_date, p.blob_uri, p.created_at,
       ARRAY(SELECT c.name FROM page_categories pc
             JOIN categories c ON c.id = pc.category_id
             WHERE pc.page_id = p.id ORDER BY c.name) AS categories,
       ARRAY(SELECT pj.journalist_id FROM page_journalists pj
             WHERE pj.page_id = p.id ORDER BY pj.journalist_id) AS journalist_ids
FROM pages p`

func scanPage(row rowScanner) (core.Page, error) {
	var p core.Page
	err := row.Scan(
		&p.ID, &p.URL, &p.Title, &p.Content, &p.SourceID, &p.Processed, &p.IsNewsArticle,
		&p.PublishedDate, &p.BlobURI, &p.CreatedAt, &p.Categories, &p.JournalistIDs,
	)
	return p, err
}

func collectPages(op string, rows pgx.Rows, err error) ([]core.Page, error) {
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	var out []core.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

// PageExists reports whether url is stored.
func (s *Store) PageExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE url = $1)`, url).Scan(&exists); err != nil {
		return false, mapErr("page exists", err)
	}
	return exists, nil
}

// InsertPageIfAbsent re-checks the URL and inserts in one transaction.
// A concurrent writer winning the race yields created=false and no error.
func (s *Store) InsertPageIfAbsent(ctx context.Context, page core.Page) (core.Page, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Page{}, false, mapErr("begin page insert", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pages WHERE url = $1)`, page.URL).Scan(&exists); err != nil {
		rollback(ctx, tx)
		return core.Page{}, false, mapErr("check page url", err)
	}
	if exists {
		rollback(ctx, tx)
		return page, false, nil
	}

	err = tx.QueryRow(ctx, `
INSERT INTO pages (url, title, content, source_id, blob_uri)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO NOTHING
RETURNING id, created_at`,
		page.URL, page.Title, page.Content, page.SourceID, page.BlobURI,
	).Scan(&page.ID, &page.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		rollback(ctx, tx)
		return page, false, nil
	}
	if err != nil {
		rollback(ctx, tx)
		return core.Page{}, false, mapErr("insert page", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.Page{}, false, mapErr("commit page insert", err)
	}
	page.Processed = false
	page.Categories = nil
	page.JournalistIDs = nil
	return page, true, nil
}

// GetPage returns a page by id.
func (s *Store) GetPage(ctx context.Context, id int64) (core.Page, error) {
	p, err := scanPage(s.pool.QueryRow(ctx, pageColumns+` WHERE p.id = $1`, id))
	if err != nil {
		return core.Page{}, mapErr("get page", err)
	}
	return p, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, mapErr("count pages", err)
	}
	return n, nil
}

// FindUnprocessedPages lists pages awaiting extraction, or all pages when reprocess is set.
func (s *Store) FindUnprocessedPages(ctx context.Context, limit int, reprocess bool) ([]core.Page, error) {
	rows, err := s.pool.Query(ctx, pageColumns+`
WHERE $1 OR NOT p.processed
ORDER BY p.id
LIMIT $2`, reprocess, limitArg(limit))
	return collectPages("find unprocessed pages", rows, err)
}

// MarkProcessed records the extraction outcome.
func (s *Store) MarkProcessed(ctx context.Context, id int64, outcome core.ExtractionOutcome) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE pages
SET processed = TRUE, is_news_article = $2, published_date = COALESCE($3, published_date)
WHERE id = $1`, id, outcome.IsNewsArticle, outcome.PublishedDate)
	return expectRow("mark page processed", tag, err)
}

// LinkJournalist records authorship idempotently.
func (s *Store) LinkJournalist(ctx context.Context, pageID, journalistID int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO page_journalists (page_id, journalist_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, pageID, journalistID)
	return mapErr("link journalist", err)
}

// FindUncategorizedPages lists pages with at least one journalist and no categories.
func (s *Store) FindUncategorizedPages(ctx context.Context, limit int) ([]core.Page, error) {
	rows, err := s.pool.Query(ctx, pageColumns+`
WHERE EXISTS (SELECT 1 FROM page_journalists pj WHERE pj.page_id = p.id)
  AND NOT EXISTS (SELECT 1 FROM page_categories pc WHERE pc.page_id = p.id)
ORDER BY p.id
LIMIT $1`, limitArg(limit))
	return collectPages("find uncategorized pages", rows, err)
}

// AttachCategories adds categories to a page.
func (s *Store) AttachCategories(ctx context.Context, pageID int64, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO page_categories (page_id, category_id)
SELECT $1, unnest($2::bigint[])
ON CONFLICT DO NOTHING`, pageID, categoryIDs)
	return mapErr("attach categories", err)
}

// FindPagesMissingEmbedding lists news articles without a vector.
func (s *Store) FindPagesMissingEmbedding(ctx context.Context, limit int) ([]core.Page, error) {
	rows, err := s.pool.Query(ctx, pageColumns+`
WHERE p.is_news_article AND p.embedding IS NULL
ORDER BY p.id
LIMIT $1`, limitArg(limit))
	return collectPages("find pages missing embedding", rows, err)
}

// SetPageEmbedding writes only the embedding column.
func (s *Store) SetPageEmbedding(ctx context.Context, id int64, vec []float32) error {
	tag, err := s.pool.Exec(ctx, `UPDATE pages SET embedding = $2 WHERE id = $1`, id, pgvector.NewVector(vec))
	return expectRow("set page embedding", tag, err)
}

// ListJournalistArticles returns the journalist's news articles, newest first.
func (s *Store) ListJournalistArticles(ctx context.Context, journalistID int64, limit int) ([]core.Page, error) {
	rows, err := s.pool.Query(ctx, pageColumns+`
JOIN page_journalists link ON link.page_id = p.id
WHERE link.journalist_id = $1 AND p.is_news_article
ORDER BY p.published_date DESC NULLS LAST, p.id DESC
LIMIT $2`, journalistID, limitArg(limit))
	return collectPages(fmt.Sprintf("list articles of journalist %d", journalistID), rows, err)
}

// CountJournalistArticles counts the journalist's news articles.
func (s *Store) CountJournalistArticles(ctx context.Context, journalistID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM page_journalists pj
JOIN pages p ON p.id = pj.page_id
WHERE pj.journalist_id = $1 AND p.is_news_article`, journalistID).Scan(&n)
	if err != nil {
		return 0, mapErr("count journalist articles", err)
	}
	return n, nil
}
