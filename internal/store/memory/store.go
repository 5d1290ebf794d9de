// Package memory implements core.Store with mutex-guarded maps.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pressroom/internal/core"
)

type pageRow struct {
	page        core.Page
	journalists map[int64]struct{}
	categories  map[int64]struct{}
}

type journalistRow struct {
	j          core.Journalist
	categories map[int64]struct{}
	sources    map[int64]struct{}
}

type sourceRow struct {
	src        core.Source
	categories map[int64]struct{}
}

var _ core.Store = (*Store)(nil)

// Store keeps every table in memory.
type Store struct {
	mu    sync.RWMutex
	clock core.Clock

	nextID int64

	sources     map[int64]*sourceRow
	pages       map[int64]*pageRow
	pageByURL   map[string]int64
	journalists map[int64]*journalistRow
	categories  map[int64]core.Category
}

// New returns an empty Store that stamps rows using clock.
func New(clock core.Clock) *Store {
	return &Store{
		clock:       clock,
		sources:     make(map[int64]*sourceRow),
		pages:       make(map[int64]*pageRow),
		pageByURL:   make(map[string]int64),
		journalists: make(map[int64]*journalistRow),
		categories:  make(map[int64]core.Category),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// --- sources ---

// FindStaleSources returns sources never crawled or crawled before cutoff.
func (s *Store) FindStaleSources(_ context.Context, cutoff time.Time, limit int) ([]core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Source
	for _, row := range s.sources {
		if row.src.LastCrawled == nil || row.src.LastCrawled.Before(cutoff) {
			out = append(out, s.sourceView(row))
		}
	}
	sortStale(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortStale(sources []core.Source) {
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Priority != b.Priority {
			return a.Priority
		}
		switch {
		case a.LastCrawled == nil && b.LastCrawled != nil:
			return true
		case a.LastCrawled != nil && b.LastCrawled == nil:
			return false
		case a.LastCrawled != nil && !a.LastCrawled.Equal(*b.LastCrawled):
			return a.LastCrawled.Before(*b.LastCrawled)
		}
		return a.ID < b.ID
	})
}

// GetSource returns a source by id.
func (s *Store) GetSource(_ context.Context, id int64) (core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.sources[id]
	if !ok {
		return core.Source{}, core.ErrNotFound
	}
	return s.sourceView(row), nil
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources(context.Context) ([]core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Source, 0, len(s.sources))
	for _, row := range s.sources {
		out = append(out, s.sourceView(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateSource inserts src unless its URL or slug is taken.
func (s *Store) CreateSource(_ context.Context, src core.Source) (core.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.sources {
		if row.src.URL == src.URL || (src.Slug != "" && row.src.Slug == src.Slug) {
			return core.Source{}, core.ErrAlreadyExists
		}
	}
	src.ID = s.id()
	src.CreatedAt = s.clock.Now()
	src.Categories = nil
	row := &sourceRow{src: src, categories: make(map[int64]struct{})}
	s.sources[src.ID] = row
	return s.sourceView(row), nil
}

// GetSourceByURL returns the source with the exact URL.
func (s *Store) GetSourceByURL(_ context.Context, url string) (core.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.sources {
		if row.src.URL == url {
			return s.sourceView(row), nil
		}
	}
	return core.Source{}, core.ErrNotFound
}

// MarkCrawled sets last_crawled.
func (s *Store) MarkCrawled(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sources[id]
	if !ok {
		return core.ErrNotFound
	}
	at = at.UTC()
	row.src.LastCrawled = &at
	return nil
}

func (s *Store) sourceView(row *sourceRow) core.Source {
	src := row.src
	src.Categories = s.categoryNames(row.categories)
	if src.LastCrawled != nil {
		t := *src.LastCrawled
		src.LastCrawled = &t
	}
	return src
}

// --- categories ---

// ListCategoryNames returns every category name in order.
func (s *Store) ListCategoryNames(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.categories))
	for _, c := range s.categories {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names, nil
}

// EnsureCategory returns the category whose slug matches name, creating it if needed.
func (s *Store) EnsureCategory(_ context.Context, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	slug := core.Slugify(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.categories {
		if c.Slug == slug || c.Name == name {
			return c, nil
		}
	}
	c := core.Category{ID: s.id(), Name: name, Slug: slug}
	s.categories[c.ID] = c
	return c, nil
}

func (s *Store) categoryNames(ids map[int64]struct{}) []string {
	if len(ids) == 0 {
		return nil
	}
	names := make([]string, 0, len(ids))
	for id := range ids {
		if c, ok := s.categories[id]; ok {
			names = append(names, c.Name)
		}
	}
	sort.Strings(names)
	return names
}

func sortedIDs(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
