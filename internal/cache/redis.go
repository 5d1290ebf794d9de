package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares the failed-domain set across processes.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis returns a Redis-backed FailedDomains. Keys are "<prefix>failed:<domain>".
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(domain string) string {
	return r.prefix + "failed:" + normalizeDomain(domain)
}

// MarkFailed sets the domain key with an expiry.
func (r *Redis) MarkFailed(ctx context.Context, domain string) error {
	if normalizeDomain(domain) == "" {
		return nil
	}
	if err := r.client.Set(ctx, r.key(domain), 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("mark domain failed: %w", err)
	}
	return nil
}

// IsFailed reports whether the domain key is still present.
func (r *Redis) IsFailed(ctx context.Context, domain string) (bool, error) {
	err := r.client.Get(ctx, r.key(domain)).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("check failed domain: %w", err)
	default:
		return true, nil
	}
}
