package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/pressroom/internal/core"
)

const sourceColumns = `
SELECT s.id, s.url, s.name, s.slug, s.country, s.language, s.locale, s.priority,
       s.last_crawled, s.created_at,
       ARRAY(SELECT c.name FROM source_categories sc
             JOIN categories c ON c.id = sc.category_id
             WHERE sc.source_id = s.id ORDER BY c.name) AS categories
FROM sources s`

func scanSource(row rowScanner) (core.Source, error) {
	var src core.Source
	err := row.Scan(
		&src.ID, &src.URL, &src.Name, &src.Slug, &src.Country, &src.Language, &src.Locale,
		&src.Priority, &src.LastCrawled, &src.CreatedAt, &src.Categories,
	)
	return src, err
}

func collectSources(op string, rows pgx.Rows, err error) ([]core.Source, error) {
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	var out []core.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

// FindStaleSources returns sources never crawled or crawled before cutoff.
func (s *Store) FindStaleSources(ctx context.Context, cutoff time.Time, limit int) ([]core.Source, error) {
	rows, err := s.pool.Query(ctx, sourceColumns+`
WHERE s.last_crawled IS NULL OR s.last_crawled < $1
ORDER BY s.priority DESC, s.last_crawled ASC NULLS FIRST, s.id
LIMIT $2`, cutoff, limitArg(limit))
	return collectSources("find stale sources", rows, err)
}

// GetSource returns a source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (core.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, sourceColumns+` WHERE s.id = $1`, id))
	if err != nil {
		return core.Source{}, mapErr("get source", err)
	}
	return src, nil
}

// GetSourceByURL returns the source with the exact URL.
func (s *Store) GetSourceByURL(ctx context.Context, url string) (core.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, sourceColumns+` WHERE s.url = $1`, url))
	if err != nil {
		return core.Source{}, mapErr("get source by url", err)
	}
	return src, nil
}

// ListSources returns every source ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]core.Source, error) {
	rows, err := s.pool.Query(ctx, sourceColumns+` ORDER BY s.id`)
	return collectSources("list sources", rows, err)
}

// CreateSource inserts src. URL or slug collisions return core.ErrAlreadyExists.
func (s *Store) CreateSource(ctx context.Context, src core.Source) (core.Source, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO sources (url, name, slug, country, language, locale, priority)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`,
		src.URL, src.Name, src.Slug, src.Country, src.Language, src.Locale, src.Priority,
	).Scan(&src.ID, &src.CreatedAt)
	if err != nil {
		return core.Source{}, mapErr("create source", err)
	}
	src.LastCrawled = nil
	src.Categories = nil
	return src, nil
}

// MarkCrawled stamps last_crawled.
func (s *Store) MarkCrawled(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET last_crawled = $2 WHERE id = $1`, id, at.UTC())
	return expectRow("mark source crawled", tag, err)
}

// ListCategoryNames returns every category name in order.
func (s *Store) ListCategoryNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, mapErr("list categories", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapErr("list categories", err)
	}
	return names, nil
}

// EnsureCategory inserts the category unless its name or slug exists, and returns the stored row.
func (s *Store) EnsureCategory(ctx context.Context, name string) (core.Category, error) {
	slug := core.Slugify(name)
	var c core.Category
	err := s.pool.QueryRow(ctx, `
INSERT INTO categories (name, slug) VALUES ($1, $2)
ON CONFLICT DO NOTHING
RETURNING id, name, slug`, name, slug).Scan(&c.ID, &c.Name, &c.Slug)
	if err == nil {
		return c, nil
	}
	if mapped := mapErr("ensure category", err); !isNotFound(mapped) {
		return core.Category{}, mapped
	}
	err = s.pool.QueryRow(ctx, `
SELECT id, name, slug FROM categories WHERE slug = $2 OR name = $1
ORDER BY id LIMIT 1`, name, slug).Scan(&c.ID, &c.Name, &c.Slug)
	if err != nil {
		return core.Category{}, mapErr("ensure category", err)
	}
	return c, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
