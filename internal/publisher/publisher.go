// Package publisher announces pipeline milestones to downstream consumers.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
)

// Event names carried as the "event" message attribute.
const (
	EventCrawlCompleted    = "crawl.completed"
	EventJournalistChanged = "journalist.changed"
)

// Publisher sends a JSON payload tagged with an event name.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// CrawlCompleted is published after a source finishes crawling.
type CrawlCompleted struct {
	SourceID   int64     `json:"source_id"`
	SourceURL  string    `json:"source_url"`
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Rendered   int       `json:"rendered"`
	Errors     int       `json:"errors"`
	FinishedAt time.Time `json:"finished_at"`
}

// JournalistChanged is published when a journalist's directory entry changes.
type JournalistChanged struct {
	JournalistID int64     `json:"journalist_id"`
	Deleted      bool      `json:"deleted,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

// Forward relays journalist events from the in-process bus. Publish
// failures are logged; they never fail the originating write.
func Forward(bus *events.Bus, pub Publisher, clock core.Clock, logger *zap.Logger) {
	logger = logger.Named("publisher")
	send := func(ctx context.Context, payload JournalistChanged) {
		if _, err := pub.Publish(ctx, EventJournalistChanged, payload); err != nil {
			logger.Warn("publish journalist event",
				zap.Int64("journalist_id", payload.JournalistID), zap.Error(err))
		}
	}
	bus.Subscribe(events.JournalistChangedName, func(ctx context.Context, ev events.Event) error {
		if e, ok := ev.(events.JournalistChanged); ok {
			send(ctx, JournalistChanged{JournalistID: e.JournalistID, ChangedAt: clock.Now()})
		}
		return nil
	})
	bus.Subscribe(events.JournalistDeletedName, func(ctx context.Context, ev events.Event) error {
		if e, ok := ev.(events.JournalistDeleted); ok {
			send(ctx, JournalistChanged{JournalistID: e.JournalistID, Deleted: true, ChangedAt: clock.Now()})
		}
		return nil
	})
}
