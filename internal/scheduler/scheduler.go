// Package scheduler decides which sources are due for a crawl.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/pressroom/internal/core"
)

// Store lists sources that have not been crawled since a cutoff.
type Store interface {
	FindStaleSources(ctx context.Context, cutoff time.Time, limit int) ([]core.Source, error)
}

// Config holds the selection defaults.
type Config struct {
	StalenessWindow time.Duration
	DomainLimit     int
}

// Resolver selects stale sources. It has no side effects.
type Resolver struct {
	store Store
	clock core.Clock
	cfg   Config
}

// NewResolver returns a Resolver. Zero values mean a 7 day window and 10 domains.
func NewResolver(store Store, clock core.Clock, cfg Config) *Resolver {
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 7 * 24 * time.Hour
	}
	if cfg.DomainLimit <= 0 {
		cfg.DomainLimit = 10
	}
	return &Resolver{store: store, clock: clock, cfg: cfg}
}

// Select returns up to limit sources that were never crawled or were last
// crawled before now minus the staleness window. limit <= 0 uses the
// configured domain limit.
func (r *Resolver) Select(ctx context.Context, limit int) ([]core.Source, error) {
	if limit <= 0 {
		limit = r.cfg.DomainLimit
	}
	cutoff := r.clock.Now().Add(-r.cfg.StalenessWindow)
	sources, err := r.store.FindStaleSources(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("find stale sources: %w", err)
	}
	SortCandidates(sources)
	if len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

// SortCandidates orders sources priority first, then never-crawled, then
// oldest crawl, then id.
func SortCandidates(sources []core.Source) {
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
