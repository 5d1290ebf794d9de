package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
)

func newStore(t *testing.T) (*Store, *system.Manual) {
	t.Helper()
	clk := system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(clk), clk
}

func TestFindStaleSourcesOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clk := newStore(t)

	old, err := s.CreateSource(ctx, core.Source{URL: "https://old.example", Slug: "old"})
	require.NoError(t, err)
	require.NoError(t, s.MarkCrawled(ctx, old.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	never, err := s.CreateSource(ctx, core.Source{URL: "https://never.example", Slug: "never"})
	require.NoError(t, err)

	fresh, err := s.CreateSource(ctx, core.Source{URL: "https://fresh.example", Slug: "fresh"})
	require.NoError(t, err)
	require.NoError(t, s.MarkCrawled(ctx, fresh.ID, clk.Now()))

	prio, err := s.CreateSource(ctx, core.Source{URL: "https://prio.example", Slug: "prio", Priority: true})
	require.NoError(t, err)
	require.NoError(t, s.MarkCrawled(ctx, prio.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	got, err := s.FindStaleSources(ctx, clk.Now().Add(-7*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []int64{prio.ID, never.ID, old.ID}, []int64{got[0].ID, got[1].ID, got[2].ID})

	limited, err := s.FindStaleSources(ctx, clk.Now().Add(-7*24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestCreateSourceRejectsDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a"})
	require.NoError(t, err)
	_, err = s.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a2"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)
	_, err = s.CreateSource(ctx, core.Source{URL: "https://b.example", Slug: "a"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestConcurrentInsertCreatesOnePage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)
	src, err := s.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a"})
	require.NoError(t, err)

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.InsertPageIfAbsent(ctx, core.Page{URL: "https://a.example/story", SourceID: src.ID})
			require.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	n, err := s.CountPages(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestJournalistUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	a, err := s.InsertJournalist(ctx, core.Journalist{Name: "Jane Doe", Slug: "jane-doe", ProfileURL: "https://x.com/jane"})
	require.NoError(t, err)
	_, err = s.InsertJournalist(ctx, core.Journalist{Name: "Jane Doe", Slug: "jane-doe"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)
	_, err = s.InsertJournalist(ctx, core.Journalist{Name: "J Doe", Slug: "j-doe", ProfileURL: "https://x.com/jane"})
	require.ErrorIs(t, err, core.ErrAlreadyExists)

	b, err := s.InsertJournalist(ctx, core.Journalist{Name: "John Roe", Slug: "john-roe"})
	require.NoError(t, err)
	require.NoError(t, s.SetEmail(ctx, a.ID, "jane@example.com", core.EmailStatusGuessed))
	require.ErrorIs(t, s.SetEmail(ctx, b.ID, "JANE@example.com", core.EmailStatusGuessed), core.ErrAlreadyExists)

	exists, err := s.SlugExists(ctx, "jane-doe")
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = s.SlugExists(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFillProfileKeepsExistingValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clk := newStore(t)

	j, err := s.InsertJournalist(ctx, core.Journalist{Name: "Jane", Slug: "jane", Description: "Keeps this"})
	require.NoError(t, err)
	clk.Advance(time.Minute)

	require.NoError(t, s.FillProfile(ctx, j.ID, core.JournalistProfile{Description: "New", ImageURL: "https://img/j.png"}))
	got, err := s.GetJournalist(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, "Keeps this", got.Description)
	require.Equal(t, "https://img/j.png", got.ImageURL)
	require.True(t, got.UpdatedAt.After(j.UpdatedAt))
}

func TestEmbeddingWritesDoNotBumpUpdatedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, clk := newStore(t)

	j, err := s.InsertJournalist(ctx, core.Journalist{Name: "Jane", Slug: "jane"})
	require.NoError(t, err)
	clk.Advance(time.Hour)

	require.NoError(t, s.SetJournalistEmbedding(ctx, j.ID, []float32{0.1, 0.2}))
	got, err := s.GetJournalist(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, j.UpdatedAt, got.UpdatedAt)
	require.Equal(t, []float32{0.1, 0.2}, got.Embedding)

	missing, err := s.FindJournalistsMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestDerivationFollowsNewsArticles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	src, err := s.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a"})
	require.NoError(t, err)
	j, err := s.InsertJournalist(ctx, core.Journalist{Name: "Jane", Slug: "jane"})
	require.NoError(t, err)
	politics, err := s.EnsureCategory(ctx, "politics")
	require.NoError(t, err)
	sports, err := s.EnsureCategory(ctx, "sports")
	require.NoError(t, err)

	news, _, err := s.InsertPageIfAbsent(ctx, core.Page{URL: "https://a.example/news", SourceID: src.ID})
	require.NoError(t, err)
	opinion, _, err := s.InsertPageIfAbsent(ctx, core.Page{URL: "https://a.example/opinion", SourceID: src.ID})
	require.NoError(t, err)

	require.NoError(t, s.MarkProcessed(ctx, news.ID, core.ExtractionOutcome{IsNewsArticle: true}))
	require.NoError(t, s.MarkProcessed(ctx, opinion.ID, core.ExtractionOutcome{IsNewsArticle: false}))
	require.NoError(t, s.LinkJournalist(ctx, news.ID, j.ID))
	require.NoError(t, s.LinkJournalist(ctx, opinion.ID, j.ID))
	require.NoError(t, s.AttachCategories(ctx, news.ID, []int64{politics.ID}))
	require.NoError(t, s.AttachCategories(ctx, opinion.ID, []int64{sports.ID}))

	require.NoError(t, s.RederiveJournalist(ctx, j.ID))
	require.NoError(t, s.RederiveSource(ctx, src.ID))

	got, err := s.GetJournalist(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"politics"}, got.Categories)
	require.Equal(t, []int64{src.ID}, got.SourceIDs)

	gotSrc, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"politics"}, gotSrc.Categories)

	articles, err := s.ListJournalistArticles(ctx, j.ID, 10)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Equal(t, news.ID, articles[0].ID)
}

func TestEnsureCategoryIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	a, err := s.EnsureCategory(ctx, "Climate Policy")
	require.NoError(t, err)
	b, err := s.EnsureCategory(ctx, "climate policy")
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)
	require.Equal(t, "climate-policy", a.Slug)
}

func TestFindJournalistsByNameTermsAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	staff, err := s.InsertJournalist(ctx, core.Journalist{Name: "Metro Staff", Slug: "metro-staff"})
	require.NoError(t, err)
	_, err = s.InsertJournalist(ctx, core.Journalist{Name: "Jane Doe", Slug: "jane-doe"})
	require.NoError(t, err)

	found, err := s.FindJournalistsByNameTerms(ctx, []string{".com", "staff"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, staff.ID, found[0].ID)

	require.NoError(t, s.DeleteJournalist(ctx, staff.ID))
	_, err = s.GetJournalist(ctx, staff.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}
