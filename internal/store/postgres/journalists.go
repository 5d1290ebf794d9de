package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/JakeFAU/pressroom/internal/core"
)

const journalistColumns = `
SELECT j.id, j.name, j.slug, COALESCE(j.profile_url, ''), j.image_url, j.description, j.country,
       COALESCE(j.email, ''), j.email_status, j.created_at, j.updated_at,
       ARRAY(SELECT c.name FROM journalist_categories jc
             JOIN categories c ON c.id = jc.category_id
             WHERE jc.journalist_id = j.id ORDER BY c.name) AS categories,
       ARRAY(SELECT js.source_id FROM journalist_sources js
             WHERE js.journalist_id = j.id ORDER BY js.source_id) AS source_ids
FROM journalists j`

func scanJournalist(row rowScanner) (core.Journalist, error) {
	var (
		j      core.Journalist
		status string
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Slug, &j.ProfileURL, &j.ImageURL, &j.Description, &j.Country,
		&j.Email, &status, &j.CreatedAt, &j.UpdatedAt, &j.Categories, &j.SourceIDs,
	)
	j.EmailStatus = core.EmailStatus(status)
	return j, err
}

func collectJournalists(op string, rows pgx.Rows, err error) ([]core.Journalist, error) {
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()
	var out []core.Journalist
	for rows.Next() {
		j, err := scanJournalist(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}

// GetJournalist returns a journalist by id.
func (s *Store) GetJournalist(ctx context.Context, id int64) (core.Journalist, error) {
	j, err := scanJournalist(s.pool.QueryRow(ctx, journalistColumns+` WHERE j.id = $1`, id))
	if err != nil {
		return core.Journalist{}, mapErr("get journalist", err)
	}
	return j, nil
}

// FindByProfileURL returns the journalist with the given profile URL.
func (s *Store) FindByProfileURL(ctx context.Context, profileURL string) (core.Journalist, error) {
	j, err := scanJournalist(s.pool.QueryRow(ctx, journalistColumns+` WHERE j.profile_url = $1`, profileURL))
	if err != nil {
		return core.Journalist{}, mapErr("find journalist by profile", err)
	}
	return j, nil
}

// FindBySlug returns the journalist with the given slug.
func (s *Store) FindBySlug(ctx context.Context, slug string) (core.Journalist, error) {
	j, err := scanJournalist(s.pool.QueryRow(ctx, journalistColumns+` WHERE j.slug = $1`, slug))
	if err != nil {
		return core.Journalist{}, mapErr("find journalist by slug", err)
	}
	return j, nil
}

// SlugExists reports whether slug is taken.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journalists WHERE slug = $1)`, slug).Scan(&exists); err != nil {
		return false, mapErr("slug exists", err)
	}
	return exists, nil
}

// InsertJournalist stores j. Slug, profile URL or email collisions return core.ErrAlreadyExists.
func (s *Store) InsertJournalist(ctx context.Context, j core.Journalist) (core.Journalist, error) {
	err := s.pool.QueryRow(ctx, `
INSERT INTO journalists (name, slug, profile_url, image_url, description, country, email, email_status)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)
RETURNING id, created_at, updated_at`,
		j.Name, j.Slug, j.ProfileURL, j.ImageURL, j.Description, j.Country, j.Email, string(j.EmailStatus),
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return core.Journalist{}, mapErr("insert journalist", err)
	}
	j.Categories = nil
	j.SourceIDs = nil
	return j, nil
}

// FillProfile sets empty profile fields; stored values are never overwritten.
func (s *Store) FillProfile(ctx context.Context, id int64, p core.JournalistProfile) error {
	_, err := s.pool.Exec(ctx, `
UPDATE journalists
SET profile_url = COALESCE(profile_url, NULLIF($2, '')),
    image_url   = CASE WHEN image_url = '' THEN $3 ELSE image_url END,
    description = CASE WHEN description = '' THEN $4 ELSE description END,
    updated_at  = now()
WHERE id = $1
  AND ((profile_url IS NULL AND $2 <> '') OR (image_url = '' AND $3 <> '') OR (description = '' AND $4 <> ''))`,
		id, p.ProfileURL, p.ImageURL, p.Description)
	return mapErr("fill journalist profile", err)
}

// CountJournalists returns the number of journalists.
func (s *Store) CountJournalists(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM journalists`).Scan(&n); err != nil {
		return 0, mapErr("count journalists", err)
	}
	return n, nil
}

// ListJournalistIDs returns every journalist id in order.
func (s *Store) ListJournalistIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM journalists ORDER BY id`)
	if err != nil {
		return nil, mapErr("list journalist ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, mapErr("list journalist ids", err)
	}
	return ids, nil
}

// FindJournalistsModifiedSince lists journalists updated at or after since.
func (s *Store) FindJournalistsModifiedSince(ctx context.Context, since time.Time, limit int) ([]core.Journalist, error) {
	rows, err := s.pool.Query(ctx, journalistColumns+`
WHERE j.updated_at >= $1
ORDER BY j.updated_at, j.id
LIMIT $2`, since, limitArg(limit))
	return collectJournalists("find modified journalists", rows, err)
}

// FindJournalistsMissingEmbedding lists journalists without a vector.
func (s *Store) FindJournalistsMissingEmbedding(ctx context.Context, limit int) ([]core.Journalist, error) {
	rows, err := s.pool.Query(ctx, journalistColumns+`
WHERE j.embedding IS NULL
ORDER BY j.id
LIMIT $1`, limitArg(limit))
	return collectJournalists("find journalists missing embedding", rows, err)
}

// SetJournalistEmbedding writes only the embedding column and leaves updated_at alone.
func (s *Store) SetJournalistEmbedding(ctx context.Context, id int64, vec []float32) error {
	tag, err := s.pool.Exec(ctx, `UPDATE journalists SET embedding = $2 WHERE id = $1`, id, pgvector.NewVector(vec))
	return expectRow("set journalist embedding", tag, err)
}

// FindJournalistsWithoutEmail lists journalists with no email and at least one source.
func (s *Store) FindJournalistsWithoutEmail(ctx context.Context, limit int) ([]core.Journalist, error) {
	rows, err := s.pool.Query(ctx, journalistColumns+`
WHERE j.email IS NULL
  AND EXISTS (SELECT 1 FROM journalist_sources js WHERE js.journalist_id = j.id)
ORDER BY j.id
LIMIT $1`, limitArg(limit))
	return collectJournalists("find journalists without email", rows, err)
}

// SetEmail assigns an email. A collision with another journalist returns core.ErrAlreadyExists.
func (s *Store) SetEmail(ctx context.Context, id int64, email string, status core.EmailStatus) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE journalists SET email = NULLIF($2, ''), email_status = $3, updated_at = now()
WHERE id = $1`, id, strings.ToLower(email), string(status))
	return expectRow("set journalist email", tag, err)
}

// FindJournalistsByNameTerms lists journalists whose name contains any term, case-insensitively.
func (s *Store) FindJournalistsByNameTerms(ctx context.Context, terms []string) ([]core.Journalist, error) {
	patterns := make([]string, 0, len(terms))
	for _, term := range terms {
		if term = strings.TrimSpace(term); term != "" {
			patterns = append(patterns, "%"+likeEscaper.Replace(term)+"%")
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, journalistColumns+`
WHERE j.name ILIKE ANY ($1)
ORDER BY j.id`, patterns)
	return collectJournalists("find journalists by name", rows, err)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// DeleteJournalist removes the journalist; link rows cascade.
func (s *Store) DeleteJournalist(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journalists WHERE id = $1`, id)
	return expectRow("delete journalist", tag, err)
}
