package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/pressroom/internal/core"
)

// RederiveJournalist replaces the journalist's categories and sources with
// the union over its news-article pages and bumps updated_at, in one transaction.
func (s *Store) RederiveJournalist(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin rederive journalist", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE journalists SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		rollback(ctx, tx)
		return mapErr("touch journalist", err)
	}
	if tag.RowsAffected() == 0 {
		rollback(ctx, tx)
		return fmt.Errorf("rederive journalist %d: %w", id, core.ErrNotFound)
	}
	statements := []string{
		`DELETE FROM journalist_categories WHERE journalist_id = $1`,
		`INSERT INTO journalist_categories (journalist_id, category_id)
SELECT DISTINCT $1::bigint, pc.category_id
FROM page_journalists pj
JOIN pages p ON p.id = pj.page_id AND p.is_news_article
JOIN page_categories pc ON pc.page_id = p.id
WHERE pj.journalist_id = $1`,
		`DELETE FROM journalist_sources WHERE journalist_id = $1`,
		`INSERT INTO journalist_sources (journalist_id, source_id)
SELECT DISTINCT $1::bigint, p.source_id
FROM page_journalists pj
JOIN pages p ON p.id = pj.page_id AND p.is_news_article
WHERE pj.journalist_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			rollback(ctx, tx)
			return mapErr("rederive journalist", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit rederive journalist", err)
	}
	return nil
}

// RederiveSource replaces the source's categories with the union over its news-article pages.
func (s *Store) RederiveSource(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapErr("begin rederive source", err)
	}
	statements := []string{
		`DELETE FROM source_categories WHERE source_id = $1`,
		`INSERT INTO source_categories (source_id, category_id)
SELECT DISTINCT $1::bigint, pc.category_id
FROM pages p
JOIN page_categories pc ON pc.page_id = p.id
WHERE p.source_id = $1 AND p.is_news_article`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			rollback(ctx, tx)
			return mapErr("rederive source", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("commit rederive source", err)
	}
	return nil
}
