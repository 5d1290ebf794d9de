package normalize

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"header": true, "footer": true, "blockquote": true, "figure": true,
	"figcaption": true, "table": true, "tr": true, "ul": true, "ol": true,
	"pre": true, "aside": true, "body": true, "html": true, "dl": true,
}

// render walks sel and emits headings as "#", list items as "- ", and anchors as text only.
func render(sel *goquery.Selection) string {
	var b strings.Builder
	walk(&b, sel)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

func walk(b *strings.Builder, sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(strings.ReplaceAll(c.Text(), "\n", " "))
		case len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6':
			heading := strings.Join(strings.Fields(c.Text()), " ")
			if heading != "" {
				b.WriteString("\n\n" + strings.Repeat("#", int(name[1]-'0')) + " " + heading + "\n\n")
			}
		case name == "li":
			b.WriteString("\n- ")
			walk(b, c)
			b.WriteString("\n")
		case name == "br":
			b.WriteString("\n")
		case name == "img", name == "#comment", name == "head":
		case blockElements[name]:
			b.WriteString("\n\n")
			walk(b, c)
			b.WriteString("\n\n")
		default:
			walk(b, c)
		}
	})
}

var markdownLink = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)

// StripMarkdownLinks rewrites [text](url) and ![alt](src) to their text.
func StripMarkdownLinks(s string) string {
	return markdownLink.ReplaceAllString(s, "$1")
}

// CollapseBlankLines trims whitespace-only lines and keeps at most one blank line in a row.
func CollapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
