package search

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/pressroom/internal/core"
)

const (
	maxTitles         = 10
	snippetChars      = 1000
	maxArticleContent = 100_000
)

// Document is a journalist as stored in the search collection.
type Document struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Country       string   `json:"country,omitempty"`
	Sources       []string `json:"sources"`
	Categories    []string `json:"categories"`
	ArticlesCount int32    `json:"articles_count"`
	EmailStatus   string   `json:"email_status,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	ArticleTitles []string `json:"article_titles,omitempty"`
	// ArticleContent joins article snippets and never exceeds 100,000 bytes.
	ArticleContent string `json:"article_content,omitempty"`
}

// Field is one entry of a collection schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// Schema describes a collection.
type Schema struct {
	Name                string  `json:"name"`
	Fields              []Field `json:"fields"`
	DefaultSortingField string  `json:"default_sorting_field"`
}

// JournalistSchema returns the schema for the journalists collection.
func JournalistSchema(name string) Schema {
	return Schema{
		Name: name,
		Fields: []Field{
			{Name: "id", Type: "string"},
			{Name: "name", Type: "string"},
			{Name: "description", Type: "string", Optional: true},
			{Name: "country", Type: "string", Facet: true, Optional: true},
			{Name: "sources", Type: "string[]", Facet: true, Optional: true},
			{Name: "categories", Type: "string[]", Facet: true, Optional: true},
			{Name: "articles_count", Type: "int32", Optional: true},
			{Name: "email_status", Type: "string", Optional: true},
			{Name: "created_at", Type: "int64"},
			{Name: "article_titles", Type: "string[]", Optional: true},
			{Name: "article_content", Type: "string", Optional: true},
		},
		DefaultSortingField: "created_at",
	}
}

// DocumentID is the index key of a journalist.
func DocumentID(journalistID int64) string {
	return strconv.FormatInt(journalistID, 10)
}

// BuildDocument renders a journalist and its newest-first articles.
func BuildDocument(j core.Journalist, sourceNames, categoryNames []string, articles []core.Page, articlesCount int) Document {
	doc := Document{
		ID:            DocumentID(j.ID),
		Name:          j.Name,
		Description:   j.Description,
		Country:       j.Country,
		Sources:       nonNil(sourceNames),
		Categories:    nonNil(categoryNames),
		ArticlesCount: int32(min(articlesCount, 1<<31-1)),
		EmailStatus:   string(j.EmailStatus),
		CreatedAt:     j.CreatedAt.Unix(),
	}
	var content strings.Builder
	for i, a := range articles {
		if i < maxTitles && a.Title != "" {
			doc.ArticleTitles = append(doc.ArticleTitles, a.Title)
		}
		s := Snippet(a.Content, snippetChars)
		if s == "" {
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n\n")
		}
		content.WriteString(s)
		if content.Len() >= maxArticleContent {
			break
		}
	}
	doc.ArticleContent = truncateBytes(content.String(), maxArticleContent)
	return doc
}

// Snippet returns the first maxChars runes of content cut back to the last
// full word, with "..." appended when anything was dropped.
func Snippet(content string, maxChars int) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= maxChars {
		return content
	}
	cut := string([]rune(content)[:maxChars])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// truncateBytes returns at most n bytes of s without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
