package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Jane Doe":            "jane-doe",
		"  Jane   Doe  ":      "jane-doe",
		"José Álvarez":        "jose-alvarez",
		"O'Brien, Mary-Kate":  "o-brien-mary-kate",
		"Space & Astronomy":   "space-astronomy",
		"":                    "",
		"---":                 "",
		"Zoë Ünal 2024":       "zoe-unal-2024",
		"The Guardian (UK)":   "the-guardian-uk",
		"already-slugged-one": "already-slugged-one",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), "input %q", in)
	}
}

// TestUniqueSlugSuffixesCollisions confirms N same-name journalists get distinct slugs.
func TestUniqueSlugSuffixesCollisions(t *testing.T) {
	t.Parallel()

	taken := map[string]bool{}
	exists := func(_ context.Context, s string) (bool, error) { return taken[s], nil }

	var got []string
	for i := 0; i < 5; i++ {
		slug, err := UniqueSlug(context.Background(), Slugify("Jane Doe"), exists)
		require.NoError(t, err)
		require.False(t, taken[slug])
		taken[slug] = true
		got = append(got, slug)
	}
	require.Equal(t, []string{"jane-doe", "jane-doe-1", "jane-doe-2", "jane-doe-3", "jane-doe-4"}, got)
}

func TestUniqueSlugPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	_, err := UniqueSlug(context.Background(), "x", func(context.Context, string) (bool, error) {
		return false, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestUniqueSlugEmptyBase(t *testing.T) {
	t.Parallel()

	slug, err := UniqueSlug(context.Background(), "", func(context.Context, string) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, "n-a", slug)
}
