// Package extract asks the language model who wrote a page and links the
// answer to journalist records.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
)

// UnwantedNameTerms mark bylines that name a desk or site rather than a person.
var UnwantedNameTerms = []string{".com", "staff", "team", "reporters"}

// ChatModel answers a prompt with JSON.
type ChatModel interface {
	ChatJSON(ctx context.Context, system, user string, out any) error
}

// Store is the repository surface the extractor writes through.
type Store interface {
	FindByProfileURL(ctx context.Context, profileURL string) (core.Journalist, error)
	FindBySlug(ctx context.Context, slug string) (core.Journalist, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	InsertJournalist(ctx context.Context, j core.Journalist) (core.Journalist, error)
	FillProfile(ctx context.Context, id int64, profile core.JournalistProfile) error
	LinkJournalist(ctx context.Context, pageID, journalistID int64) error
	MarkProcessed(ctx context.Context, id int64, outcome core.ExtractionOutcome) error
}

// Config tunes the prompt.
type Config struct {
	MaxContentChars int
}

// Candidate is one byline returned by the model.
type Candidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ProfileURL  string `json:"profile_url"`
	ImageURL    string `json:"image_url"`
}

// Result is the model's answer for a page.
type Result struct {
	IsNewsArticle bool
	PublishedDate string
	Journalists   []Candidate

	answered bool
}

// Empty reports whether the model gave no usable answer.
func (r Result) Empty() bool {
	return !r.answered
}

type response struct {
	ContentIsFullNewsArticle bool        `json:"content_is_full_news_article"`
	ArticlePublishedDate     string      `json:"article_published_date"`
	Journalists              []Candidate `json:"journalists"`
}

// Outcome summarizes what Process persisted.
type Outcome struct {
	PageID        int64
	IsNewsArticle bool
	JournalistIDs []int64
	Created       int
}

// Extractor runs extraction and identity resolution.
type Extractor struct {
	model  ChatModel
	store  Store
	bus    events.Publisher
	cfg    Config
	logger *zap.Logger
}

// New returns an Extractor. A zero MaxContentChars means 12000.
func New(model ChatModel, store Store, bus events.Publisher, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = 12000
	}
	return &Extractor{model: model, store: store, bus: bus, cfg: cfg, logger: logger.Named("extract")}
}

// Extract returns the model's answer, or an empty Result on any failure.
func (e *Extractor) Extract(ctx context.Context, page core.Page) Result {
	res, err := e.ExtractStrict(ctx, page)
	if err != nil {
		e.logger.Warn("extraction failed", zap.Int64("page_id", page.ID), zap.String("url", page.URL), zap.Error(err))
		return Result{}
	}
	return res
}

// ExtractStrict is Extract that surfaces the error so a queue can retry it.
func (e *Extractor) ExtractStrict(ctx context.Context, page core.Page) (Result, error) {
	var resp response
	prompt := buildUserPrompt(page.URL, page.Title, page.Content, e.cfg.MaxContentChars)
	if err := e.model.ChatJSON(ctx, systemPrompt, prompt, &resp); err != nil {
		return Result{}, fmt.Errorf("extract page %d: %w", page.ID, err)
	}
	return Result{
		IsNewsArticle: resp.ContentIsFullNewsArticle,
		PublishedDate: strings.TrimSpace(resp.ArticlePublishedDate),
		Journalists:   resp.Journalists,
		answered:      true,
	}, nil
}

// Process extracts the page, resolves every byline to a journalist, links
// them, and marks the page processed. On an extraction error the page is left
// untouched so a later sweep retries it.
func (e *Extractor) Process(ctx context.Context, page core.Page) (Outcome, error) {
	res, err := e.ExtractStrict(ctx, page)
	if err != nil {
		return Outcome{}, err
	}
	return e.Apply(ctx, page, res)
}

// Apply persists a Result for page.
func (e *Extractor) Apply(ctx context.Context, page core.Page, res Result) (Outcome, error) {
	out := Outcome{PageID: page.ID, IsNewsArticle: res.IsNewsArticle}
	seen := make(map[int64]struct{})
	for _, cand := range res.Journalists {
		id, created, err := e.resolve(ctx, cand)
		if err != nil {
			return out, fmt.Errorf("resolve journalist %q: %w", cand.Name, err)
		}
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if created {
			out.Created++
		}
		if err := e.store.LinkJournalist(ctx, page.ID, id); err != nil {
			return out, fmt.Errorf("link journalist %d to page %d: %w", id, page.ID, err)
		}
		out.JournalistIDs = append(out.JournalistIDs, id)
	}

	outcome := core.ExtractionOutcome{IsNewsArticle: res.IsNewsArticle}
	if res.PublishedDate != "" {
		d, err := time.Parse(time.DateOnly, res.PublishedDate)
		if err != nil {
			e.logger.Info("ignoring unparsable publish date",
				zap.Int64("page_id", page.ID), zap.String("date", res.PublishedDate))
		} else {
			outcome.PublishedDate = &d
		}
	}
	if err := e.store.MarkProcessed(ctx, page.ID, outcome); err != nil {
		return out, fmt.Errorf("mark page %d processed: %w", page.ID, err)
	}

	// Journalists linked by an earlier run still derive from this page, so a
	// reprocess that drops them or flips the news flag must reach them too.
	affected := unionIDs(page.JournalistIDs, out.JournalistIDs)
	flipped := page.Processed && page.IsNewsArticle != res.IsNewsArticle
	if len(affected) > 0 || flipped {
		ev := events.PageJournalistsChanged{PageID: page.ID, SourceID: page.SourceID, JournalistIDs: affected}
		if err := e.bus.Publish(ctx, ev); err != nil {
			e.logger.Warn("page journalist handlers failed", zap.Int64("page_id", page.ID), zap.Error(err))
		}
	}
	e.logger.Debug("page processed",
		zap.Int64("page_id", page.ID),
		zap.Bool("news_article", out.IsNewsArticle),
		zap.Int("journalists", len(out.JournalistIDs)),
		zap.Int("created", out.Created))
	return out, nil
}

func unionIDs(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	seen := make(map[int64]struct{}, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// resolve maps a candidate to a journalist id, creating one if needed.
// A zero id means the candidate was discarded.
func (e *Extractor) resolve(ctx context.Context, cand Candidate) (int64, bool, error) {
	name := CleanName(cand.Name)
	if name == "" || IsUnwantedName(name) {
		return 0, false, nil
	}
	profileURL := core.CleanURL(cand.ProfileURL)
	profile := core.JournalistProfile{
		ProfileURL:  profileURL,
		ImageURL:    strings.TrimSpace(cand.ImageURL),
		Description: strings.TrimSpace(cand.Description),
	}

	if profileURL != "" {
		j, err := e.store.FindByProfileURL(ctx, profileURL)
		switch {
		case err == nil:
			return j.ID, false, e.fill(ctx, j.ID, profile)
		case !errors.Is(err, core.ErrNotFound):
			return 0, false, err
		}
	}

	base := core.Slugify(name)
	j, err := e.store.FindBySlug(ctx, base)
	switch {
	case err == nil && strings.EqualFold(j.Name, name) && (j.ProfileURL == "" || j.ProfileURL == profileURL):
		return j.ID, false, e.fill(ctx, j.ID, profile)
	case err != nil && !errors.Is(err, core.ErrNotFound):
		return 0, false, err
	}

	slug, err := core.UniqueSlug(ctx, base, e.store.SlugExists)
	if err != nil {
		return 0, false, err
	}
	created, err := e.store.InsertJournalist(ctx, core.Journalist{
		Name:        name,
		Slug:        slug,
		ProfileURL:  profileURL,
		ImageURL:    profile.ImageURL,
		Description: profile.Description,
	})
	if err == nil {
		return created.ID, true, nil
	}
	if !errors.Is(err, core.ErrAlreadyExists) {
		return 0, false, err
	}
	e.logger.Info("journalist already exists, reusing", zap.String("name", name), zap.String("slug", slug))
	if profileURL != "" {
		if existing, ferr := e.store.FindByProfileURL(ctx, profileURL); ferr == nil {
			return existing.ID, false, nil
		}
	}
	existing, err := e.store.FindBySlug(ctx, slug)
	if err != nil {
		return 0, false, fmt.Errorf("fetch existing journalist %q: %w", slug, err)
	}
	return existing.ID, false, nil
}

func (e *Extractor) fill(ctx context.Context, id int64, profile core.JournalistProfile) error {
	err := e.store.FillProfile(ctx, id, profile)
	if errors.Is(err, core.ErrAlreadyExists) {
		e.logger.Info("profile url belongs to another journalist", zap.Int64("journalist_id", id))
		return nil
	}
	return err
}

// CleanName collapses whitespace and trims punctuation left over from bylines.
func CleanName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	name = strings.TrimPrefix(name, "By ")
	name = strings.TrimPrefix(name, "by ")
	name = strings.Trim(name, " ,;:|-")
	for _, p := range placeholderNames {
		if strings.EqualFold(name, p) {
			return ""
		}
	}
	return name
}

// IsUnwantedName reports whether name contains one of UnwantedNameTerms.
func IsUnwantedName(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range UnwantedNameTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
