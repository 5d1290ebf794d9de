// Package embed computes vector embeddings for pages and journalists.
package embed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/retry"
)

// Embedder turns texts into vectors, one per input and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the repository surface the generator needs. Embedding writes
// touch only the vector column and publish no events.
type Store interface {
	FindPagesMissingEmbedding(ctx context.Context, limit int) ([]core.Page, error)
	SetPageEmbedding(ctx context.Context, id int64, vec []float32) error
	FindJournalistsMissingEmbedding(ctx context.Context, limit int) ([]core.Journalist, error)
	SetJournalistEmbedding(ctx context.Context, id int64, vec []float32) error
	ListJournalistArticles(ctx context.Context, journalistID int64, limit int) ([]core.Page, error)
}

// Config holds batch and vector limits.
type Config struct {
	BatchSize  int
	MaxTokens  int
	Dimensions int
}

// recentTitles is how many article titles go into a journalist's text.
const recentTitles = 10

// Generator runs embedding sweeps.
type Generator struct {
	embedder  Embedder
	store     Store
	truncator *Truncator
	retry     retry.Policy
	cfg       Config
	logger    *zap.Logger
}

// NewGenerator returns a Generator. Zero config values mean batches of 20,
// 8000 tokens per text and 1536 dimensions.
func NewGenerator(embedder Embedder, store Store, truncator *Truncator, policy retry.Policy, cfg Config, logger *zap.Logger) *Generator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if truncator == nil {
		truncator = NewTruncator("")
	}
	return &Generator{
		embedder:  embedder,
		store:     store,
		truncator: truncator,
		retry:     policy,
		cfg:       cfg,
		logger:    logger.Named("embed"),
	}
}

// EmbedPages embeds up to limit news articles that lack a vector and returns how many were written.
func (g *Generator) EmbedPages(ctx context.Context, limit int) (int, error) {
	pages, err := g.store.FindPagesMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find pages missing embedding: %w", err)
	}
	ids := make([]int64, len(pages))
	texts := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
		texts[i] = PageText(p)
	}
	return g.sweep(ctx, "pages", ids, texts, g.store.SetPageEmbedding)
}

// EmbedJournalists embeds up to limit journalists that lack a vector and returns how many were written.
func (g *Generator) EmbedJournalists(ctx context.Context, limit int) (int, error) {
	journalists, err := g.store.FindJournalistsMissingEmbedding(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("find journalists missing embedding: %w", err)
	}
	ids := make([]int64, 0, len(journalists))
	texts := make([]string, 0, len(journalists))
	for _, j := range journalists {
		articles, err := g.store.ListJournalistArticles(ctx, j.ID, recentTitles)
		if err != nil {
			g.logger.Warn("list journalist articles failed", zap.Int64("journalist_id", j.ID), zap.Error(err))
			continue
		}
		ids = append(ids, j.ID)
		texts = append(texts, JournalistText(j, articles))
	}
	return g.sweep(ctx, "journalists", ids, texts, g.store.SetJournalistEmbedding)
}

func (g *Generator) sweep(
	ctx context.Context,
	kind string,
	ids []int64,
	texts []string,
	write func(context.Context, int64, []float32) error,
) (int, error) {
	written := 0
	for start := 0; start < len(ids); start += g.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+g.cfg.BatchSize, len(ids))
		batch := make([]string, 0, end-start)
		for _, text := range texts[start:end] {
			batch = append(batch, g.truncator.TruncateText(text, g.cfg.MaxTokens))
		}

		vecs, err := retry.DoValue(ctx, g.retry, func(ctx context.Context) ([][]float32, error) {
			return g.embedder.Embed(ctx, batch)
		})
		if err == nil {
			err = g.validate(vecs, len(batch))
		}
		if err != nil {
			g.logger.Error("embedding batch failed",
				zap.String("kind", kind), zap.Int("offset", start), zap.Int("size", len(batch)), zap.Error(err))
			continue
		}
		for i, vec := range vecs {
			id := ids[start+i]
			if err := write(ctx, id, vec); err != nil {
				g.logger.Error("store embedding failed", zap.String("kind", kind), zap.Int64("id", id), zap.Error(err))
				continue
			}
			written++
		}
	}
	g.logger.Info("embedding sweep finished", zap.String("kind", kind), zap.Int("candidates", len(ids)), zap.Int("written", written))
	return written, nil
}

func (g *Generator) validate(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("got %d vectors for %d inputs: %w", len(vecs), want, core.ErrMalformedResponse)
	}
	for i, v := range vecs {
		if len(v) != g.cfg.Dimensions {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), g.cfg.Dimensions, core.ErrMalformedResponse)
		}
	}
	return nil
}

// PageText is the text embedded for a page.
func PageText(p core.Page) string {
	return strings.TrimSpace(p.Title + "\n\n" + p.Content)
}

// JournalistText is the text embedded for a journalist.
func JournalistText(j core.Journalist, articles []core.Page) string {
	var b strings.Builder
	b.WriteString(j.Name)
	if j.Description != "" {
		b.WriteString("\n" + j.Description)
	}
	if len(j.Categories) > 0 {
		b.WriteString("\nCategories: " + strings.Join(j.Categories, ", "))
	}
	if len(articles) > 0 {
		b.WriteString("\nRecent articles:")
		for i, a := range articles {
			if i == recentTitles {
				break
			}
			b.WriteString("\n- " + a.Title)
		}
	}
	return b.String()
}
