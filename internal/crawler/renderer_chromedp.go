package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// DefaultBlockedResources are skipped while rendering. Bylines and article
// text never live in them.
var DefaultBlockedResources = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.woff", "*.woff2", "*.ttf", "*.mp4", "*.webm",
}

// RendererConfig configures the headless browser.
type RendererConfig struct {
	MaxParallel int
	NavTimeout  time.Duration
	UserAgent   string
	// Settle is an extra pause after the body is ready, for scripts that
	// fill in the byline late. Zero skips it.
	Settle  time.Duration
	Blocked []string
}

// ChromedpRenderer loads JavaScript-built pages in one shared headless
// Chrome, with a tab per render.
type ChromedpRenderer struct {
	browser  context.Context
	shutdown []context.CancelFunc
	slots    *semaphore.Weighted
	cfg      RendererConfig
	logger   *zap.Logger
}

// NewChromedpRenderer starts a browser. It fails when Chrome is unavailable.
func NewChromedpRenderer(cfg RendererConfig, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrRendererDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Blocked == nil {
		cfg.Blocked = DefaultBlockedResources
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, cancelBrowser := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browser); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &ChromedpRenderer{
		browser:  browser,
		shutdown: []context.CancelFunc{cancelBrowser, cancelAlloc},
		slots:    semaphore.NewWeighted(int64(cfg.MaxParallel)),
		cfg:      cfg,
		logger:   logger.Named("renderer"),
	}, nil
}

// Close tears down the browser and allocator.
func (r *ChromedpRenderer) Close() {
	if r == nil {
		return
	}
	for _, cancel := range r.shutdown {
		cancel()
	}
}

// Render loads rawURL with JavaScript enabled and returns the resulting DOM.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	if r == nil {
		return "", ErrRendererDisabled
	}
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for render slot: %w", err)
	}
	defer r.slots.Release(1)

	tab, closeTab := chromedp.NewContext(r.browser)
	defer closeTab()
	tab, cancel := context.WithTimeout(tab, r.cfg.NavTimeout)
	defer cancel()
	// The tab belongs to the browser's context tree, so the caller's
	// cancellation has to be relayed.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()
	var html string
	if err := chromedp.Run(tab, r.actions(rawURL, &html)); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	r.logger.Debug("rendered page",
		zap.String("url", rawURL),
		zap.Int("bytes", len(html)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return html, nil
}

func (r *ChromedpRenderer) actions(rawURL string, html *string) chromedp.Tasks {
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetBlockedURLs(r.cfg.Blocked),
		emulation.SetUserAgentOverride(r.cfg.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if r.cfg.Settle > 0 {
		tasks = append(tasks, chromedp.Sleep(r.cfg.Settle))
	}
	return append(tasks, chromedp.OuterHTML("html", html, chromedp.ByQuery))
}
