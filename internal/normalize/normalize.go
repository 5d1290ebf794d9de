// Package normalize turns raw HTML into the plain markdown-ish text the extractor reads.
package normalize

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// minArticleChars is the readability text length below which the whole body is used instead.
const minArticleChars = 200

var strippedElements = "script, style, noscript, template, svg, iframe"

var authorPathMarkers = []string{
	"/author/", "/authors/", "/profile/", "/people/",
	"/journalist/", "/staff/", "/by/", "/contributors/",
}

// Document is the normalized view of a page.
type Document struct {
	Title   string
	Content string
}

// Normalizer is stateless; the zero value is ready to use.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize cleans rawHTML fetched from pageURL. It is deterministic and has no side effects.
func (n *Normalizer) Normalize(rawHTML, pageURL string) (Document, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return Document{}, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strippedElements).Remove()

	base, _ := url.Parse(pageURL)
	authorLinks := collectAuthorLinks(doc, base)
	fallbackTitle := firstText(doc, "title", "h1")

	cleaned, err := doc.Html()
	if err != nil {
		return Document{}, fmt.Errorf("serialize html: %w", err)
	}

	var (
		title  string
		byline string
		body   *goquery.Selection
	)
	article, err := readability.FromReader(strings.NewReader(cleaned), base)
	if err == nil && len(strings.TrimSpace(article.TextContent)) >= minArticleChars {
		articleDoc, perr := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
		if perr == nil {
			body = articleDoc.Selection
			title = strings.TrimSpace(article.Title)
			byline = strings.TrimSpace(article.Byline)
		}
	}
	if body == nil {
		body = doc.Find("body")
		if body.Length() == 0 {
			body = doc.Selection
		}
	}
	if title == "" {
		title = fallbackTitle
	}

	var content strings.Builder
	if byline != "" {
		content.WriteString("By " + byline + "\n\n")
	}
	content.WriteString(render(body))
	text := CollapseBlankLines(StripMarkdownLinks(content.String()))

	if len(authorLinks) > 0 {
		text += "\n\nAuthor links:\n" + strings.Join(authorLinks, "\n")
	}
	return Document{Title: title, Content: strings.TrimSpace(text)}, nil
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); t != "" {
			return t
		}
	}
	return ""
}

// collectAuthorLinks lists "- <text>: <absolute url>" for anchors that look like author profiles.
func collectAuthorLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		rel, _ := a.Attr("rel")
		if !looksLikeAuthor(href) && !strings.Contains(strings.ToLower(rel), "author") {
			return
		}
		abs := resolve(base, href)
		if abs == "" {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		label := strings.Join(strings.Fields(a.Text()), " ")
		if label == "" {
			out = append(out, "- "+abs)
			return
		}
		out = append(out, "- "+label+": "+abs)
	})
	return out
}

func looksLikeAuthor(href string) bool {
	lower := strings.ToLower(href)
	for _, marker := range authorPathMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}
