package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/pressroom/internal/core"
)

// GetJournalist returns a journalist by id.
func (s *Store) GetJournalist(_ context.Context, id int64) (core.Journalist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.journalists[id]
	if !ok {
		return core.Journalist{}, core.ErrNotFound
	}
	return s.journalistView(row), nil
}

// FindByProfileURL returns the journalist with the given profile URL.
func (s *Store) FindByProfileURL(_ context.Context, profileURL string) (core.Journalist, error) {
	return s.findJournalist(func(j core.Journalist) bool {
		return profileURL != "" && j.ProfileURL == profileURL
	})
}

// FindBySlug returns the journalist with the given slug.
func (s *Store) FindBySlug(_ context.Context, slug string) (core.Journalist, error) {
	return s.findJournalist(func(j core.Journalist) bool { return j.Slug == slug })
}

// SlugExists reports whether slug is taken.
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := s.FindBySlug(ctx, slug)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) findJournalist(match func(core.Journalist) bool) (core.Journalist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.journalists {
		if match(row.j) {
			return s.journalistView(row), nil
		}
	}
	return core.Journalist{}, core.ErrNotFound
}

// InsertJournalist stores j unless its slug, profile URL or email collides.
func (s *Store) InsertJournalist(_ context.Context, j core.Journalist) (core.Journalist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.journalists {
		switch {
		case row.j.Slug == j.Slug,
			j.ProfileURL != "" && row.j.ProfileURL == j.ProfileURL,
			j.Email != "" && strings.EqualFold(row.j.Email, j.Email):
			return core.Journalist{}, core.ErrAlreadyExists
		}
	}
	now := s.clock.Now()
	j.ID = s.id()
	j.CreatedAt = now
	j.UpdatedAt = now
	j.Categories = nil
	j.SourceIDs = nil
	row := &journalistRow{
		j:          j,
		categories: make(map[int64]struct{}),
		sources:    make(map[int64]struct{}),
	}
	s.journalists[j.ID] = row
	return s.journalistView(row), nil
}

// FillProfile sets empty profile fields. Stored values are never overwritten.
func (s *Store) FillProfile(_ context.Context, id int64, p core.JournalistProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.journalists[id]
	if !ok {
		return core.ErrNotFound
	}
	changed := false
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	if p.ProfileURL != "" && row.j.ProfileURL == "" {
		for _, other := range s.journalists {
			if other.j.ID != id && other.j.ProfileURL == p.ProfileURL {
				return core.ErrAlreadyExists
			}
		}
	}
	fill(&row.j.ProfileURL, p.ProfileURL)
	fill(&row.j.ImageURL, p.ImageURL)
	fill(&row.j.Description, p.Description)
	if changed {
		row.j.UpdatedAt = s.clock.Now()
	}
	return nil
}

// CountJournalists returns the number of journalists.
func (s *Store) CountJournalists(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.journalists), nil
}

// ListJournalistIDs returns every journalist id in order.
func (s *Store) ListJournalistIDs(context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.journalists))
	for id := range s.journalists {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// FindJournalistsModifiedSince lists journalists updated at or after since.
func (s *Store) FindJournalistsModifiedSince(_ context.Context, since time.Time, limit int) ([]core.Journalist, error) {
	return s.selectJournalists(limit, func(r *journalistRow) bool {
		return !r.j.UpdatedAt.Before(since)
	}), nil
}

// FindJournalistsMissingEmbedding lists journalists without a vector.
func (s *Store) FindJournalistsMissingEmbedding(_ context.Context, limit int) ([]core.Journalist, error) {
	return s.selectJournalists(limit, func(r *journalistRow) bool {
		return len(r.j.Embedding) == 0
	}), nil
}

// SetJournalistEmbedding writes only the embedding and leaves updated_at alone.
func (s *Store) SetJournalistEmbedding(_ context.Context, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.journalists[id]
	if !ok {
		return core.ErrNotFound
	}
	row.j.Embedding = append([]float32(nil), vec...)
	return nil
}

// FindJournalistsWithoutEmail lists journalists with no email and at least one source.
func (s *Store) FindJournalistsWithoutEmail(_ context.Context, limit int) ([]core.Journalist, error) {
	return s.selectJournalists(limit, func(r *journalistRow) bool {
		return r.j.Email == "" && len(r.sources) > 0
	}), nil
}

// SetEmail assigns an email unless another journalist holds it.
func (s *Store) SetEmail(_ context.Context, id int64, email string, status core.EmailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.journalists[id]
	if !ok {
		return core.ErrNotFound
	}
	for _, other := range s.journalists {
		if other.j.ID != id && email != "" && strings.EqualFold(other.j.Email, email) {
			return core.ErrAlreadyExists
		}
	}
	row.j.Email = email
	row.j.EmailStatus = status
	row.j.UpdatedAt = s.clock.Now()
	return nil
}

// FindJournalistsByNameTerms lists journalists whose name contains any term, case-insensitively.
func (s *Store) FindJournalistsByNameTerms(_ context.Context, terms []string) ([]core.Journalist, error) {
	return s.selectJournalists(0, func(r *journalistRow) bool {
		name := strings.ToLower(r.j.Name)
		for _, term := range terms {
			if term != "" && strings.Contains(name, strings.ToLower(term)) {
				return true
			}
		}
		return false
	}), nil
}

// DeleteJournalist removes the journalist and its page links.
func (s *Store) DeleteJournalist(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.journalists[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.journalists, id)
	for _, p := range s.pages {
		delete(p.journalists, id)
	}
	return nil
}

func (s *Store) selectJournalists(limit int, keep func(*journalistRow) bool) []core.Journalist {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Journalist
	for _, row := range s.journalists {
		if keep(row) {
			out = append(out, s.journalistView(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) journalistView(row *journalistRow) core.Journalist {
	j := row.j
	j.Categories = s.categoryNames(row.categories)
	j.SourceIDs = sortedIDs(row.sources)
	j.Embedding = append([]float32(nil), row.j.Embedding...)
	return j
}
