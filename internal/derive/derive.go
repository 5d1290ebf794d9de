// Package derive keeps journalist and source categories equal to the union
// over their news-article pages.
package derive

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
)

// Store is the repository surface the service needs.
type Store interface {
	core.DerivationRepository
	ListJournalistIDs(ctx context.Context) ([]int64, error)
	ListSources(ctx context.Context) ([]core.Source, error)
}

// Service re-derives membership when pages change.
type Service struct {
	store  Store
	bus    events.Publisher
	logger *zap.Logger
}

// New returns a Service that publishes JournalistChanged on bus.
func New(store Store, bus events.Publisher, logger *zap.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger.Named("derive")}
}

// Subscribe attaches the service to both page events.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.PageJournalistsChangedName, s.handle)
	bus.Subscribe(events.PageCategoriesChangedName, s.handle)
}

func (s *Service) handle(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.PageJournalistsChanged:
		return s.Rederive(ctx, e.SourceID, e.JournalistIDs)
	case events.PageCategoriesChanged:
		return s.Rederive(ctx, e.SourceID, e.JournalistIDs)
	default:
		return nil
	}
}

// Rederive refreshes the source and then each journalist, announcing each journalist change.
func (s *Service) Rederive(ctx context.Context, sourceID int64, journalistIDs []int64) error {
	var errs []error
	if sourceID != 0 {
		if err := s.store.RederiveSource(ctx, sourceID); err != nil {
			errs = append(errs, fmt.Errorf("rederive source %d: %w", sourceID, err))
		}
	}
	for _, id := range journalistIDs {
		if err := s.store.RederiveJournalist(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("rederive journalist %d: %w", id, err))
			continue
		}
		if err := s.bus.Publish(ctx, events.JournalistChanged{JournalistID: id}); err != nil {
			s.logger.Warn("journalist change handlers failed", zap.Int64("journalist_id", id), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// SyncAll re-derives every journalist and source and returns how many journalists were refreshed.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.store.RederiveSource(ctx, src.ID); err != nil {
			s.logger.Error("rederive source failed", zap.Int64("source_id", src.ID), zap.Error(err))
		}
	}

	ids, err := s.store.ListJournalistIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list journalists: %w", err)
	}
	synced := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.Rederive(ctx, 0, []int64{id}); err != nil {
			s.logger.Error("rederive journalist failed", zap.Int64("journalist_id", id), zap.Error(err))
			continue
		}
		synced++
	}
	s.logger.Info("derived fields synced", zap.Int("sources", len(sources)), zap.Int("journalists", synced))
	return synced, nil
}
