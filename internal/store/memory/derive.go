package memory

import (
	"context"

	"github.com/JakeFAU/pressroom/internal/core"
)

// RederiveJournalist replaces the journalist's categories and sources with
// the union over its news-article pages and bumps updated_at.
func (s *Store) RederiveJournalist(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.journalists[id]
	if !ok {
		return core.ErrNotFound
	}
	categories := make(map[int64]struct{})
	sources := make(map[int64]struct{})
	for _, p := range s.pages {
		if _, authored := p.journalists[id]; !authored || !p.page.IsNewsArticle {
			continue
		}
		sources[p.page.SourceID] = struct{}{}
		for c := range p.categories {
			categories[c] = struct{}{}
		}
	}
	row.categories = categories
	row.sources = sources
	row.j.UpdatedAt = s.clock.Now()
	return nil
}

// RederiveSource replaces the source's categories with the union over its news-article pages.
func (s *Store) RederiveSource(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sources[id]
	if !ok {
		return core.ErrNotFound
	}
	categories := make(map[int64]struct{})
	for _, p := range s.pages {
		if p.page.SourceID != id || !p.page.IsNewsArticle {
			continue
		}
		for c := range p.categories {
			categories[c] = struct{}{}
		}
	}
	row.categories = categories
	return nil
}
