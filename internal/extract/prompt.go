package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const systemPrompt = `You extract bylines from news web pages.
Return only JSON that matches the requested schema.
Only list people credited as authors of the page. Never invent people, and never
return the placeholder names from the schema example.`

const schemaExample = `{
  "content_is_full_news_article": true,
  "article_published_date": "2024-01-31",
  "journalists": [
    {
      "name": "Placeholder Person",
      "description": "Short bio from the page, or empty",
      "profile_url": "https://publication.example/author/placeholder-person",
      "image_url": ""
    }
  ]
}`

// placeholderNames are the example names the model is told not to echo back.
var placeholderNames = []string{"placeholder person"}

func buildUserPrompt(url, title, content string, maxChars int) string {
	return fmt.Sprintf(`Page URL: %s
Page title: %s

Decide whether the content is a complete news article (not a listing, index,
tag page or teaser). Give the publication date as YYYY-MM-DD when the page
states one, otherwise an empty string. List every credited author with any
profile link, photo and description shown on the page.

Respond with JSON shaped like this example:
%s

Content:
%s`, url, title, schemaExample, truncateRunes(content, maxChars))
}

func truncateRunes(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxChars]))
}
