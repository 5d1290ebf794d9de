package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/metrics"
	"github.com/JakeFAU/pressroom/internal/retry"
)

// articleLimit bounds how many articles feed a document's content.
const articleLimit = 100

// Index is the subset of Client the synchronizer drives.
type Index interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, doc Document) error
	ForceCreate(ctx context.Context, doc Document) error
	DeleteDocument(ctx context.Context, id string) error
	CollectionStats(ctx context.Context) (Stats, error)
	Health(ctx context.Context) (bool, error)
}

// Store is the repository surface needed to build documents.
type Store interface {
	GetJournalist(ctx context.Context, id int64) (core.Journalist, error)
	GetSource(ctx context.Context, id int64) (core.Source, error)
	ListJournalistArticles(ctx context.Context, journalistID int64, limit int) ([]core.Page, error)
	CountJournalistArticles(ctx context.Context, journalistID int64) (int, error)
	FindJournalistsModifiedSince(ctx context.Context, since time.Time, limit int) ([]core.Journalist, error)
	ListJournalistIDs(ctx context.Context) ([]int64, error)
	CountJournalists(ctx context.Context) (int, error)
}

// Status reports the state of the index next to the store.
type Status struct {
	Collection       string `json:"collection"`
	Healthy          bool   `json:"healthy"`
	IndexedDocuments int64  `json:"indexed_documents"`
	StoreJournalists int    `json:"store_journalists"`
}

// Synchronizer pushes journalists from the store into the index.
type Synchronizer struct {
	index  Index
	store  Store
	clock  core.Clock
	retry  retry.Policy
	logger *zap.Logger
}

// NewSynchronizer wires a Synchronizer.
func NewSynchronizer(index Index, store Store, clock core.Clock, policy retry.Policy, logger *zap.Logger) *Synchronizer {
	logger = logger.Named("search")
	return &Synchronizer{
		index: index,
		store: store,
		clock: clock,
		retry: policy.WithOnRetry(func(err error, wait time.Duration) {
			logger.Warn("index call failed, retrying", zap.Duration("wait", wait), zap.Error(err))
		}),
		logger: logger,
	}
}

// Push syncs one journalist on a best-effort basis. Failures are logged and
// counted but never returned, so writers are not blocked by the index.
func (s *Synchronizer) Push(ctx context.Context, journalistID int64) {
	if err := s.Sync(ctx, journalistID); err != nil {
		s.logger.Error("index push failed", zap.Int64("journalist_id", journalistID), zap.String("reason", describe(err)), zap.Error(err))
	}
}

// Sync writes the journalist's current document, or removes it when the
// journalist is gone or has no articles.
func (s *Synchronizer) Sync(ctx context.Context, journalistID int64) error {
	err := s.write(ctx, journalistID, s.index.Upsert)
	metrics.ObserveIndexSync("upsert", metrics.Status(err))
	return err
}

// Delete removes the journalist's document.
func (s *Synchronizer) Delete(ctx context.Context, journalistID int64) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.index.DeleteDocument(ctx, DocumentID(journalistID))
	})
	metrics.ObserveIndexSync("delete", metrics.Status(err))
	if err != nil {
		return fmt.Errorf("delete index document %d: %w", journalistID, err)
	}
	return nil
}

// Reconcile re-syncs every journalist modified within window and returns how
// many were written.
func (s *Synchronizer) Reconcile(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		window = time.Hour
	}
	if err := s.ensure(ctx); err != nil {
		return 0, err
	}
	since := s.clock.Now().Add(-window)
	journalists, err := s.store.FindJournalistsModifiedSince(ctx, since, 0)
	if err != nil {
		return 0, fmt.Errorf("find modified journalists: %w", err)
	}
	if len(journalists) == 0 {
		s.logger.Info("no journalists modified", zap.Duration("window", window))
		return 0, nil
	}
	synced := 0
	for _, j := range journalists {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.Sync(ctx, j.ID); err != nil {
			s.logger.Error("reconcile journalist failed", zap.Int64("journalist_id", j.ID), zap.Error(err))
			continue
		}
		synced++
	}
	s.logger.Info("reconcile finished", zap.Int("candidates", len(journalists)), zap.Int("synced", synced))
	return synced, nil
}

// Rebuild force-writes every journalist in the store.
func (s *Synchronizer) Rebuild(ctx context.Context) (int, error) {
	if err := s.ensure(ctx); err != nil {
		return 0, err
	}
	ids, err := s.store.ListJournalistIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list journalists: %w", err)
	}
	written := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		err := s.write(ctx, id, s.index.ForceCreate)
		metrics.ObserveIndexSync("rebuild", metrics.Status(err))
		if err != nil {
			s.logger.Error("rebuild journalist failed", zap.Int64("journalist_id", id), zap.Error(err))
			continue
		}
		written++
	}
	s.logger.Info("rebuild finished", zap.Int("journalists", len(ids)), zap.Int("written", written))
	return written, nil
}

// Status collects index health, document count and the store's journalist count.
func (s *Synchronizer) Status(ctx context.Context) (Status, error) {
	var st Status
	healthy, err := s.index.Health(ctx)
	if err != nil {
		return st, fmt.Errorf("index health: %w", err)
	}
	st.Healthy = healthy
	stats, err := s.index.CollectionStats(ctx)
	if err != nil {
		return st, fmt.Errorf("collection stats: %w", err)
	}
	st.Collection = stats.Name
	st.IndexedDocuments = stats.NumDocuments
	if st.StoreJournalists, err = s.store.CountJournalists(ctx); err != nil {
		return st, fmt.Errorf("count journalists: %w", err)
	}
	return st, nil
}

func (s *Synchronizer) ensure(ctx context.Context) error {
	if err := s.retry.Do(ctx, s.index.EnsureCollection); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	return nil
}

func (s *Synchronizer) write(ctx context.Context, journalistID int64, put func(context.Context, Document) error) error {
	doc, ok, err := s.document(ctx, journalistID)
	if err != nil {
		return err
	}
	if !ok {
		return s.Delete(ctx, journalistID)
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return put(ctx, doc)
	})
}

// document builds the journalist's document. ok is false when the journalist
// should not be in the index.
func (s *Synchronizer) document(ctx context.Context, journalistID int64) (Document, bool, error) {
	j, err := s.store.GetJournalist(ctx, journalistID)
	if errors.Is(err, core.ErrNotFound) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("get journalist %d: %w", journalistID, err)
	}
	count, err := s.store.CountJournalistArticles(ctx, journalistID)
	if err != nil {
		return Document{}, false, fmt.Errorf("count articles of %d: %w", journalistID, err)
	}
	if count == 0 {
		return Document{}, false, nil
	}
	articles, err := s.store.ListJournalistArticles(ctx, journalistID, articleLimit)
	if err != nil {
		return Document{}, false, fmt.Errorf("list articles of %d: %w", journalistID, err)
	}
	sources := make([]string, 0, len(j.SourceIDs))
	for _, id := range j.SourceIDs {
		src, err := s.store.GetSource(ctx, id)
		if err != nil {
			return Document{}, false, fmt.Errorf("get source %d: %w", id, err)
		}
		name := src.Name
		if name == "" {
			name = src.URL
		}
		sources = append(sources, name)
	}
	return BuildDocument(j, sources, j.Categories, articles, count), true, nil
}
