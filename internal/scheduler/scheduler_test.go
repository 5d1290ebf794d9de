package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/store/memory"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSelectPrefersNeverCrawled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := system.NewManual(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	st := memory.New(clk)

	old, err := st.CreateSource(ctx, core.Source{URL: "https://old.example", Slug: "old"})
	require.NoError(t, err)
	require.NoError(t, st.MarkCrawled(ctx, old.ID, *at("2024-01-01")))
	fresh, err := st.CreateSource(ctx, core.Source{URL: "https://new.example", Slug: "new"})
	require.NoError(t, err)
	recent, err := st.CreateSource(ctx, core.Source{URL: "https://recent.example", Slug: "recent"})
	require.NoError(t, err)
	require.NoError(t, st.MarkCrawled(ctx, recent.ID, clk.Now().Add(-time.Hour)))

	r := NewResolver(st, clk, Config{})
	got, err := r.Select(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, fresh.ID, got[0].ID)
	require.Equal(t, old.ID, got[1].ID)

	got, err = r.Select(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, fresh.ID, got[0].ID)
}

func TestSelectHonorsWindowAndDefaultLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := system.NewManual(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	st := memory.New(clk)
	for _, u := range []string{"a", "b", "c"} {
		s, err := st.CreateSource(ctx, core.Source{URL: "https://" + u + ".example", Slug: u})
		require.NoError(t, err)
		require.NoError(t, st.MarkCrawled(ctx, s.ID, clk.Now().Add(-48*time.Hour)))
	}

	got, err := NewResolver(st, clk, Config{StalenessWindow: 72 * time.Hour}).Select(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = NewResolver(st, clk, Config{StalenessWindow: 24 * time.Hour, DomainLimit: 2}).Select(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSortCandidates(t *testing.T) {
	t.Parallel()

	sources := []core.Source{
		{ID: 1, LastCrawled: at("2024-02-01")},
		{ID: 2, LastCrawled: at("2024-01-01")},
		{ID: 3},
		{ID: 4, Priority: true, LastCrawled: at("2024-03-01")},
		{ID: 5},
	}
	SortCandidates(sources)
	ids := make([]int64, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}
	require.Equal(t, []int64{4, 3, 5, 2, 1}, ids)
}

func TestSelectWrapsStoreErrors(t *testing.T) {
	t.Parallel()
	r := NewResolver(failingStore{}, system.New(), Config{})
	_, err := r.Select(context.Background(), 1)
	require.ErrorContains(t, err, "find stale sources")
}

// --- fakes ---

type failingStore struct{}

func (failingStore) FindStaleSources(context.Context, time.Time, int) ([]core.Source, error) {
	return nil, errors.New("db down")
}
