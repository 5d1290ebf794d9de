package derive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/store/memory"
)

func TestCategoryDerivationInvariant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New(system.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	bus := events.NewBus()
	svc := New(st, bus, zap.NewNop())
	svc.Subscribe(bus)

	var changed []int64
	bus.Subscribe(events.JournalistChangedName, func(_ context.Context, ev events.Event) error {
		changed = append(changed, ev.(events.JournalistChanged).JournalistID)
		return nil
	})

	src, err := st.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a"})
	require.NoError(t, err)
	j, err := st.InsertJournalist(ctx, core.Journalist{Name: "Jane", Slug: "jane"})
	require.NoError(t, err)
	page, _, err := st.InsertPageIfAbsent(ctx, core.Page{URL: "https://a.example/1", SourceID: src.ID})
	require.NoError(t, err)

	require.NoError(t, st.MarkProcessed(ctx, page.ID, core.ExtractionOutcome{IsNewsArticle: true}))
	require.NoError(t, st.LinkJournalist(ctx, page.ID, j.ID))
	require.NoError(t, bus.Publish(ctx, events.PageJournalistsChanged{PageID: page.ID, SourceID: src.ID, JournalistIDs: []int64{j.ID}}))

	got, err := st.GetJournalist(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{src.ID}, got.SourceIDs)
	require.Empty(t, got.Categories)

	cat, err := st.EnsureCategory(ctx, "transport")
	require.NoError(t, err)
	require.NoError(t, st.AttachCategories(ctx, page.ID, []int64{cat.ID}))
	require.NoError(t, bus.Publish(ctx, events.PageCategoriesChanged{PageID: page.ID, SourceID: src.ID, JournalistIDs: []int64{j.ID}}))

	got, err = st.GetJournalist(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"transport"}, got.Categories)

	gotSrc, err := st.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"transport"}, gotSrc.Categories)
	require.Equal(t, []int64{j.ID, j.ID}, changed)
}

func TestSyncAllRederivesEveryone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New(system.New())
	bus := events.NewBus()
	svc := New(st, bus, zap.NewNop())

	src, err := st.CreateSource(ctx, core.Source{URL: "https://a.example", Slug: "a"})
	require.NoError(t, err)
	for _, slug := range []string{"a", "b", "c"} {
		j, err := st.InsertJournalist(ctx, core.Journalist{Name: slug, Slug: slug})
		require.NoError(t, err)
		p, _, err := st.InsertPageIfAbsent(ctx, core.Page{URL: "https://a.example/" + slug, SourceID: src.ID})
		require.NoError(t, err)
		require.NoError(t, st.MarkProcessed(ctx, p.ID, core.ExtractionOutcome{IsNewsArticle: true}))
		require.NoError(t, st.LinkJournalist(ctx, p.ID, j.ID))
	}

	n, err := svc.SyncAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	without, err := st.FindJournalistsWithoutEmail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, without, 3)
}
