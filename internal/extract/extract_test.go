package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/derive"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/store/memory"
)

type fixture struct {
	store *memory.Store
	bus   *events.Bus
	model *fakeModel
	ex    *Extractor
	page  core.Page
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New(system.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	src, err := st.CreateSource(ctx, core.Source{URL: "https://x.com", Slug: "x"})
	require.NoError(t, err)
	page, _, err := st.InsertPageIfAbsent(ctx, core.Page{URL: "https://x.com/story", Title: "Story", Content: "Body", SourceID: src.ID})
	require.NoError(t, err)

	bus := events.NewBus()
	model := &fakeModel{}
	return &fixture{
		store: st,
		bus:   bus,
		model: model,
		ex:    New(model, st, bus, Config{}, zap.NewNop()),
		page:  page,
	}
}

func TestProcessCleansProfileURLAndSlugs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	var published []events.PageJournalistsChanged
	f.bus.Subscribe(events.PageJournalistsChangedName, func(_ context.Context, ev events.Event) error {
		published = append(published, ev.(events.PageJournalistsChanged))
		return nil
	})

	f.model.answer = `{"content_is_full_news_article": true, "article_published_date": "2024-03-05",
		"journalists": [{"name": "Jane Doe", "profile_url": "https://x.com/jane?utm=1", "description": "Reporter"}]}`

	out, err := f.ex.Process(ctx, f.page)
	require.NoError(t, err)
	require.True(t, out.IsNewsArticle)
	require.Len(t, out.JournalistIDs, 1)
	require.Equal(t, 1, out.Created)

	j, err := f.store.GetJournalist(ctx, out.JournalistIDs[0])
	require.NoError(t, err)
	require.Equal(t, "https://x.com/jane", j.ProfileURL)
	require.Equal(t, "jane-doe", j.Slug)

	page, err := f.store.GetPage(ctx, f.page.ID)
	require.NoError(t, err)
	require.True(t, page.Processed)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *page.PublishedDate)
	require.Equal(t, []int64{j.ID}, page.JournalistIDs)

	require.Len(t, published, 1)
	require.Equal(t, f.page.SourceID, published[0].SourceID)
}

func TestProcessReusesJournalistByProfileAndFillsGaps(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	existing, err := f.store.InsertJournalist(ctx, core.Journalist{Name: "Jane Doe", Slug: "jane-doe", ProfileURL: "https://x.com/jane"})
	require.NoError(t, err)

	f.model.answer = `{"content_is_full_news_article": false, "article_published_date": "",
		"journalists": [{"name": "J. Doe", "profile_url": "https://x.com/jane#bio", "description": "Covers transit"}]}`

	out, err := f.ex.Process(ctx, f.page)
	require.NoError(t, err)
	require.Equal(t, []int64{existing.ID}, out.JournalistIDs)
	require.Zero(t, out.Created)

	j, err := f.store.GetJournalist(ctx, existing.ID)
	require.NoError(t, err)
	require.Equal(t, "Covers transit", j.Description)
	require.Equal(t, "Jane Doe", j.Name)
}

func TestProcessReusesSlugMatchWithoutProfile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	existing, err := f.store.InsertJournalist(ctx, core.Journalist{Name: "Jane Doe", Slug: "jane-doe"})
	require.NoError(t, err)

	f.model.answer = `{"content_is_full_news_article": true, "journalists": [{"name": "jane  doe"}]}`
	out, err := f.ex.Process(ctx, f.page)
	require.NoError(t, err)
	require.Equal(t, []int64{existing.ID}, out.JournalistIDs)
}

func TestSameNameDifferentProfilesGetDistinctSlugs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	const n = 5
	slugs := make(map[string]struct{})
	for i := range n {
		f.model.answer = fmt.Sprintf(`{"content_is_full_news_article": true,
			"journalists": [{"name": "Jane Doe", "profile_url": "https://paper%d.example/jane"}]}`, i)
		out, err := f.ex.Process(ctx, f.page)
		require.NoError(t, err)
		require.Len(t, out.JournalistIDs, 1)

		j, err := f.store.GetJournalist(ctx, out.JournalistIDs[0])
		require.NoError(t, err)
		slugs[j.Slug] = struct{}{}
	}
	require.Len(t, slugs, n)
	require.Contains(t, slugs, "jane-doe")
	require.Contains(t, slugs, "jane-doe-4")
}

func TestProcessSkipsUnwantedNames(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.model.answer = `{"content_is_full_news_article": true, "journalists": [
		{"name": "Metro Staff"}, {"name": "News.com Wire"}, {"name": "Placeholder Person"}, {"name": "  "}]}`
	out, err := f.ex.Process(ctx, f.page)
	require.NoError(t, err)
	require.Empty(t, out.JournalistIDs)

	n, err := f.store.CountJournalists(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	page, err := f.store.GetPage(ctx, f.page.ID)
	require.NoError(t, err)
	require.True(t, page.Processed)
}

func TestProcessIgnoresInvalidDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.model.answer = `{"content_is_full_news_article": true, "article_published_date": "March 5th", "journalists": []}`
	_, err := f.ex.Process(ctx, f.page)
	require.NoError(t, err)

	page, err := f.store.GetPage(ctx, f.page.ID)
	require.NoError(t, err)
	require.True(t, page.Processed)
	require.Nil(t, page.PublishedDate)
}

func TestMalformedAnswerLeavesPageUnprocessed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.model.err = fmt.Errorf("decode: %w", core.ErrMalformedResponse)

	require.True(t, f.ex.Extract(ctx, f.page).Empty())
	_, err := f.ex.Process(ctx, f.page)
	require.ErrorIs(t, err, core.ErrMalformedResponse)

	pending, err := f.store.FindUnprocessedPages(ctx, 10, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestReprocessRederivesPreviousAuthors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		answer         string
		wantCategories []string
	}{
		{
			name:           "no longer a news article",
			answer:         `{"content_is_full_news_article": false, "journalists": []}`,
			wantCategories: []string{},
		},
		{
			name:           "byline dropped but still news",
			answer:         `{"content_is_full_news_article": true, "journalists": []}`,
			wantCategories: []string{"space"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			derive.New(f.store, f.bus, zap.NewNop()).Subscribe(f.bus)

			f.model.answer = `{"content_is_full_news_article": true, "journalists": [{"name": "Jane Doe"}]}`
			out, err := f.ex.Process(ctx, f.page)
			require.NoError(t, err)
			require.Len(t, out.JournalistIDs, 1)
			janeID := out.JournalistIDs[0]

			cat, err := f.store.EnsureCategory(ctx, "space")
			require.NoError(t, err)
			require.NoError(t, f.store.AttachCategories(ctx, f.page.ID, []int64{cat.ID}))
			require.NoError(t, f.store.RederiveJournalist(ctx, janeID))
			jane, err := f.store.GetJournalist(ctx, janeID)
			require.NoError(t, err)
			require.Equal(t, []string{"space"}, jane.Categories)

			page, err := f.store.GetPage(ctx, f.page.ID)
			require.NoError(t, err)
			f.model.answer = tc.answer
			_, err = f.ex.Process(ctx, page)
			require.NoError(t, err)

			jane, err = f.store.GetJournalist(ctx, janeID)
			require.NoError(t, err)
			require.ElementsMatch(t, tc.wantCategories, jane.Categories)
		})
	}
}

func TestPromptTruncatesContent(t *testing.T) {
	t.Parallel()

	prompt := buildUserPrompt("https://x.com/a", "T", "ééééé", 3)
	require.Contains(t, prompt, "ééé")
	require.NotContains(t, prompt, "éééé")
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Jane Doe", CleanName("  By Jane   Doe, "))
	require.Empty(t, CleanName("placeholder person"))
	require.True(t, IsUnwantedName("The Politics TEAM"))
	require.False(t, IsUnwantedName("Jane Doe"))
}

// --- fakes ---

type fakeModel struct {
	answer string
	err    error
}

func (f *fakeModel) ChatJSON(_ context.Context, _, _ string, out any) error {
	if f.err != nil {
		return f.err
	}
	if err := json.Unmarshal([]byte(f.answer), out); err != nil {
		return fmt.Errorf("%w: %w", core.ErrMalformedResponse, err)
	}
	return nil
}
