package cache

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/pressroom/internal/core"
)

// Memory is an in-process FailedDomains.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   core.Clock
	expires map[string]time.Time
}

// NewMemory returns a Memory cache whose entries live for ttl.
func NewMemory(ttl time.Duration, clock core.Clock) *Memory {
	return &Memory{
		ttl:     ttl,
		clock:   clock,
		expires: make(map[string]time.Time),
	}
}

// MarkFailed records domain as failing until now+ttl.
func (m *Memory) MarkFailed(_ context.Context, domain string) error {
	key := normalizeDomain(domain)
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.expires[key] = m.clock.Now().Add(m.ttl)
	m.mu.Unlock()
	return nil
}

// IsFailed reports whether domain is still inside its failure window.
func (m *Memory) IsFailed(_ context.Context, domain string) (bool, error) {
	key := normalizeDomain(domain)
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.expires[key]
	if !ok {
		return false, nil
	}
	if !m.clock.Now().Before(until) {
		delete(m.expires, key)
		return false, nil
	}
	return true, nil
}
