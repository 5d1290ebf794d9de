// Package categorize tags authored pages with topical categories.
package categorize

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
)

// genericNames are too broad to be useful as categories.
var genericNames = map[string]bool{
	"news": true, "general": true, "other": true, "misc": true, "uncategorized": true,
}

const systemPrompt = `You assign topical categories to news articles.
Reuse an existing category name whenever one fits. Otherwise create a short,
specific English category name. Never use generic names such as "news",
"general", "other", "misc" or "uncategorized".
Respond with JSON: {"categories": ["name", ...]}`

// ChatModel answers a prompt with JSON.
type ChatModel interface {
	ChatJSON(ctx context.Context, system, user string, out any) error
}

// Store is the repository surface the categorizer needs.
type Store interface {
	ListCategoryNames(ctx context.Context) ([]string, error)
	EnsureCategory(ctx context.Context, name string) (core.Category, error)
	AttachCategories(ctx context.Context, pageID int64, categoryIDs []int64) error
	FindUncategorizedPages(ctx context.Context, limit int) ([]core.Page, error)
}

// Config tunes the prompt and sweep.
type Config struct {
	ExcerptChars int
	BatchSize    int
}

// Categorizer classifies pages.
type Categorizer struct {
	model  ChatModel
	store  Store
	bus    events.Publisher
	cfg    Config
	logger *zap.Logger
}

// New returns a Categorizer. Zero config values mean a 4000 character excerpt and batches of 100.
func New(model ChatModel, store Store, bus events.Publisher, cfg Config, logger *zap.Logger) *Categorizer {
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = 4000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Categorizer{model: model, store: store, bus: bus, cfg: cfg, logger: logger.Named("categorize")}
}

// Categorize asks the model for categories, creates missing ones, attaches
// them to page and publishes PageCategoriesChanged. A malformed answer
// returns an error wrapping core.ErrMalformedResponse and changes nothing.
func (c *Categorizer) Categorize(ctx context.Context, page core.Page, existing []string) ([]core.Category, error) {
	var resp struct {
		Categories []string `json:"categories"`
	}
	if err := c.model.ChatJSON(ctx, systemPrompt, c.prompt(page, existing), &resp); err != nil {
		return nil, fmt.Errorf("categorize page %d: %w", page.ID, err)
	}

	names := CleanNames(resp.Categories)
	if len(names) == 0 {
		c.logger.Info("no usable categories", zap.Int64("page_id", page.ID))
		return nil, nil
	}
	cats := make([]core.Category, 0, len(names))
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		cat, err := c.store.EnsureCategory(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure category %q: %w", name, err)
		}
		cats = append(cats, cat)
		ids = append(ids, cat.ID)
	}
	if err := c.store.AttachCategories(ctx, page.ID, ids); err != nil {
		return nil, fmt.Errorf("attach categories to page %d: %w", page.ID, err)
	}

	ev := events.PageCategoriesChanged{PageID: page.ID, SourceID: page.SourceID, JournalistIDs: page.JournalistIDs}
	if err := c.bus.Publish(ctx, ev); err != nil {
		c.logger.Warn("page category handlers failed", zap.Int64("page_id", page.ID), zap.Error(err))
	}
	return cats, nil
}

// Sweep categorizes up to limit uncategorized pages and returns how many were tagged.
// Per-page failures are logged and skipped.
func (c *Categorizer) Sweep(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = c.cfg.BatchSize
	}
	pages, err := c.store.FindUncategorizedPages(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find uncategorized pages: %w", err)
	}
	existing, err := c.store.ListCategoryNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list categories: %w", err)
	}
	tagged := 0
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return tagged, err
		}
		cats, err := c.Categorize(ctx, page, existing)
		if err != nil {
			c.logger.Warn("categorization failed", zap.Int64("page_id", page.ID), zap.Error(err))
			continue
		}
		if len(cats) > 0 {
			tagged++
			existing = mergeNames(existing, cats)
		}
	}
	c.logger.Info("categorization sweep finished", zap.Int("pages", len(pages)), zap.Int("tagged", tagged))
	return tagged, nil
}

func (c *Categorizer) prompt(page core.Page, existing []string) string {
	excerpt := page.Content
	if utf8.RuneCountInString(excerpt) > c.cfg.ExcerptChars {
		excerpt = string([]rune(excerpt)[:c.cfg.ExcerptChars])
	}
	list := "(none yet)"
	if len(existing) > 0 {
		list = strings.Join(existing, ", ")
	}
	return fmt.Sprintf("Existing categories: %s\n\nTitle: %s\n\nArticle:\n%s", list, page.Title, excerpt)
}

// CleanNames trims, lower-cases, de-duplicates and drops generic names.
func CleanNames(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.ToLower(strings.Join(strings.Fields(name), " "))
		if name == "" || genericNames[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func mergeNames(existing []string, cats []core.Category) []string {
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}
	for _, c := range cats {
		if !have[c.Name] {
			existing = append(existing, c.Name)
			have[c.Name] = true
		}
	}
	return existing
}
