// Package events is a synchronous in-process bus that keeps derived fields
// and the search index in step with page and journalist writes.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Event names.
const (
	PageJournalistsChangedName = "page.journalists_changed"
	PageCategoriesChangedName  = "page.categories_changed"
	JournalistChangedName      = "journalist.changed"
	JournalistDeletedName      = "journalist.deleted"
)

// Event is anything published on the Bus.
type Event interface {
	Name() string
}

// PageJournalistsChanged fires after journalists are linked to a page.
type PageJournalistsChanged struct {
	PageID        int64
	SourceID      int64
	JournalistIDs []int64
}

// Name implements Event.
func (PageJournalistsChanged) Name() string { return PageJournalistsChangedName }

// PageCategoriesChanged fires after categories are attached to a page.
type PageCategoriesChanged struct {
	PageID        int64
	SourceID      int64
	JournalistIDs []int64
}

// Name implements Event.
func (PageCategoriesChanged) Name() string { return PageCategoriesChangedName }

// JournalistChanged fires when a journalist's indexed fields may have changed.
type JournalistChanged struct {
	JournalistID int64
}

// Name implements Event.
func (JournalistChanged) Name() string { return JournalistChangedName }

// JournalistDeleted fires after a journalist row is removed.
type JournalistDeleted struct {
	JournalistID int64
}

// Name implements Event.
func (JournalistDeleted) Name() string { return JournalistDeletedName }

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event) error

// Publisher is the write side of the Bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus dispatches events to handlers in subscription order on the caller's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for events with the given name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], h)
	b.mu.Unlock()
}

// Publish runs every handler for ev. All handlers run even if one fails;
// their errors are joined.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Name()]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", ev.Name(), err))
		}
	}
	return errors.Join(errs...)
}
