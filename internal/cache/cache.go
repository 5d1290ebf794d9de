// Package cache remembers hosts that recently failed so crawls and lookups can skip them.
package cache

import (
	"context"
	"strings"
)

// FailedDomains tracks failing hosts for a TTL.
type FailedDomains interface {
	MarkFailed(ctx context.Context, domain string) error
	IsFailed(ctx context.Context, domain string) (bool, error)
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}
