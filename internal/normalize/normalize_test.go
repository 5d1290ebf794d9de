package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head><title>Harbor expansion approved</title>
<style>body{color:red}</style>
<script>window.tracking = "secret-token";</script>
</head>
<body>
<nav><a href="/">Home</a> <a href="/sports">Sports</a></nav>
<article>
<h1>Harbor expansion approved</h1>
<p class="byline">By <a href="/author/jane-doe?ref=nav" rel="author">Jane Doe</a></p>
<p>The city council voted on Tuesday to approve a long-debated expansion of the
northern harbor, ending more than three years of hearings, lawsuits and public
meetings. The project will add two container berths and a new ferry terminal.</p>
<h2>What happens next</h2>
<p>Construction is expected to begin in the spring. Officials said the
<a href="https://example.com/budget">budget documents</a> would be published
within a month, and that residents could comment until the end of the year.</p>
<ul><li>Two new berths</li><li>A ferry terminal</li></ul>
<noscript>Enable JavaScript</noscript>
</article>
</body></html>`

func TestNormalizeArticle(t *testing.T) {
	t.Parallel()

	doc, err := New().Normalize(articleHTML, "https://news.example.com/2024/harbor")
	require.NoError(t, err)

	require.Equal(t, "Harbor expansion approved", doc.Title)
	require.Contains(t, doc.Content, "## What happens next")
	require.Contains(t, doc.Content, "- Two new berths")
	require.Contains(t, doc.Content, "budget documents")
	require.NotContains(t, doc.Content, "](")
	require.NotContains(t, doc.Content, "secret-token")
	require.NotContains(t, doc.Content, "Enable JavaScript")
	require.NotContains(t, doc.Content, "\n\n\n")
	require.Contains(t, doc.Content, "Author links:\n- Jane Doe: https://news.example.com/author/jane-doe?ref=nav")
}

func TestNormalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	n := New()
	first, err := n.Normalize(articleHTML, "https://news.example.com/2024/harbor")
	require.NoError(t, err)
	second, err := n.Normalize(articleHTML, "https://news.example.com/2024/harbor")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNormalizeShortPageFallsBackToBody(t *testing.T) {
	t.Parallel()

	raw := `<html><head><title>Tiny</title></head><body><p>Short text <a href="/x">here</a></p><script>bad()</script></body></html>`
	doc, err := New().Normalize(raw, "https://example.com/tiny")
	require.NoError(t, err)
	require.Equal(t, "Tiny", doc.Title)
	require.Equal(t, "Short text here", doc.Content)
}

func TestNormalizeTitleFallsBackToHeading(t *testing.T) {
	t.Parallel()

	doc, err := New().Normalize(`<html><body><h1>Only a heading</h1></body></html>`, "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "Only a heading", doc.Title)
	require.Equal(t, "# Only a heading", doc.Content)
}

func TestNormalizeEmptyInput(t *testing.T) {
	t.Parallel()

	doc, err := New().Normalize("  \n", "https://example.com")
	require.NoError(t, err)
	require.Equal(t, Document{}, doc)
}

func TestStripMarkdownLinks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in, want string
	}{
		{"see [the report](https://x.com/r) now", "see the report now"},
		{"![chart](/img.png) caption", "chart caption"},
		{"no links here", "no links here"},
		{"[a](1) and [b](2)", "a and b"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.want, StripMarkdownLinks(tc.in))
	}
}

func TestCollapseBlankLines(t *testing.T) {
	t.Parallel()

	in := "\n\nfirst\n\n\n   \nsecond  \n\t\nthird\n\n"
	require.Equal(t, "first\n\nsecond\n\nthird", CollapseBlankLines(in))
	require.Equal(t, "", CollapseBlankLines(strings.Repeat("\n", 5)))
}
