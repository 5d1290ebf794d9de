package memory

import (
	"context"
	"sort"

	"github.com/JakeFAU/pressroom/internal/core"
)

// PageExists reports whether url is stored.
func (s *Store) PageExists(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pageByURL[url]
	return ok, nil
}

// InsertPageIfAbsent stores page unless its URL is already present.
func (s *Store) InsertPageIfAbsent(_ context.Context, page core.Page) (core.Page, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pageByURL[page.URL]; ok {
		return s.pageView(s.pages[id]), false, nil
	}
	if _, ok := s.sources[page.SourceID]; !ok {
		return core.Page{}, false, core.ErrNotFound
	}
	page.ID = s.id()
	page.CreatedAt = s.clock.Now()
	page.Processed = false
	page.Categories = nil
	page.JournalistIDs = nil
	row := &pageRow{
		page:        page,
		journalists: make(map[int64]struct{}),
		categories:  make(map[int64]struct{}),
	}
	s.pages[page.ID] = row
	s.pageByURL[page.URL] = page.ID
	return s.pageView(row), true, nil
}

// GetPage returns a page by id.
func (s *Store) GetPage(_ context.Context, id int64) (core.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.pages[id]
	if !ok {
		return core.Page{}, core.ErrNotFound
	}
	return s.pageView(row), nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages), nil
}

// FindUnprocessedPages lists pages awaiting extraction, or every page when reprocess is set.
func (s *Store) FindUnprocessedPages(_ context.Context, limit int, reprocess bool) ([]core.Page, error) {
	return s.selectPages(limit, func(r *pageRow) bool {
		return reprocess || !r.page.Processed
	}), nil
}

// MarkProcessed records the extraction outcome.
func (s *Store) MarkProcessed(_ context.Context, id int64, outcome core.ExtractionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pages[id]
	if !ok {
		return core.ErrNotFound
	}
	row.page.Processed = true
	row.page.IsNewsArticle = outcome.IsNewsArticle
	if outcome.PublishedDate != nil {
		d := *outcome.PublishedDate
		row.page.PublishedDate = &d
	}
	return nil
}

// LinkJournalist records authorship. Linking twice is a no-op.
func (s *Store) LinkJournalist(_ context.Context, pageID, journalistID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pages[pageID]
	if !ok {
		return core.ErrNotFound
	}
	if _, ok := s.journalists[journalistID]; !ok {
		return core.ErrNotFound
	}
	row.journalists[journalistID] = struct{}{}
	return nil
}

// FindUncategorizedPages lists pages with at least one journalist and no categories.
func (s *Store) FindUncategorizedPages(_ context.Context, limit int) ([]core.Page, error) {
	return s.selectPages(limit, func(r *pageRow) bool {
		return len(r.journalists) > 0 && len(r.categories) == 0
	}), nil
}

// AttachCategories adds categories to a page.
func (s *Store) AttachCategories(_ context.Context, pageID int64, categoryIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pages[pageID]
	if !ok {
		return core.ErrNotFound
	}
	for _, id := range categoryIDs {
		if _, ok := s.categories[id]; !ok {
			return core.ErrNotFound
		}
		row.categories[id] = struct{}{}
	}
	return nil
}

// FindPagesMissingEmbedding lists news articles without a vector.
func (s *Store) FindPagesMissingEmbedding(_ context.Context, limit int) ([]core.Page, error) {
	return s.selectPages(limit, func(r *pageRow) bool {
		return r.page.IsNewsArticle && len(r.page.Embedding) == 0
	}), nil
}

// SetPageEmbedding writes only the embedding.
func (s *Store) SetPageEmbedding(_ context.Context, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.pages[id]
	if !ok {
		return core.ErrNotFound
	}
	row.page.Embedding = append([]float32(nil), vec...)
	return nil
}

// ListJournalistArticles returns the journalist's news articles, newest first.
func (s *Store) ListJournalistArticles(_ context.Context, journalistID int64, limit int) ([]core.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Page
	for _, row := range s.pages {
		if _, ok := row.journalists[journalistID]; ok && row.page.IsNewsArticle {
			out = append(out, s.pageView(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.PublishedDate != nil && b.PublishedDate == nil:
			return true
		case a.PublishedDate == nil && b.PublishedDate != nil:
			return false
		case a.PublishedDate != nil && !a.PublishedDate.Equal(*b.PublishedDate):
			return a.PublishedDate.After(*b.PublishedDate)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountJournalistArticles counts the journalist's news articles.
func (s *Store) CountJournalistArticles(_ context.Context, journalistID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.pages {
		if _, ok := row.journalists[journalistID]; ok && row.page.IsNewsArticle {
			n++
		}
	}
	return n, nil
}

func (s *Store) selectPages(limit int, keep func(*pageRow) bool) []core.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Page
	for _, row := range s.pages {
		if keep(row) {
			out = append(out, s.pageView(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) pageView(row *pageRow) core.Page {
	p := row.page
	p.Categories = s.categoryNames(row.categories)
	p.JournalistIDs = sortedIDs(row.journalists)
	if p.PublishedDate != nil {
		d := *p.PublishedDate
		p.PublishedDate = &d
	}
	p.Embedding = append([]float32(nil), row.page.Embedding...)
	return p
}
