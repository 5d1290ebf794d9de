package emails

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/pressroom/internal/httpx"
	"github.com/JakeFAU/pressroom/internal/retry"
)

// HunterConfig configures a Hunter email-finder client.
type HunterConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Limiter httpx.Waiter
	HTTP    *http.Client
	Retry   retry.Policy
}

// Hunter looks addresses up through Hunter's email-finder endpoint.
type Hunter struct {
	http   *httpx.Client
	apiKey string
	retry  retry.Policy
}

// NewHunter builds a Hunter client.
func NewHunter(cfg HunterConfig) *Hunter {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.hunter.io"
	}
	return &Hunter{
		http: httpx.New(httpx.Config{
			BaseURL: base,
			Timeout: cfg.Timeout,
			Limiter: cfg.Limiter,
			HTTP:    cfg.HTTP,
		}),
		apiKey: cfg.APIKey,
		retry:  cfg.Retry,
	}
}

type hunterResponse struct {
	Data struct {
		Email *string `json:"email"`
		Score int     `json:"score"`
	} `json:"data"`
}

// Find returns the address Hunter knows for the person at domain, or "" when
// it has none.
func (h *Hunter) Find(ctx context.Context, domain, first, last string) (string, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("first_name", first)
	q.Set("last_name", last)
	q.Set("api_key", h.apiKey)
	path := "/v2/email-finder?" + q.Encode()

	resp, err := retry.DoValue(ctx, h.retry, func(ctx context.Context) (hunterResponse, error) {
		var out hunterResponse
		err := h.http.DoJSON(ctx, "hunter email-finder", http.MethodGet, path, nil, &out)
		return out, err
	})
	if err != nil {
		var se *httpx.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("find email for %s: %w", domain, err)
	}
	if resp.Data.Email == nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(*resp.Data.Email)), nil
}
