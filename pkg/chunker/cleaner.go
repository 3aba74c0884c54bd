package chunker

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText flattens markup into line-oriented text suitable as a
// page-level embedding input: script and style contents are stripped,
// headings, paragraphs, list items and table rows each become one line,
// and whitespace inside a line is collapsed.
func PlainText(markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("failed to parse markup: %w", err)
	}

	doc.Find("script, style").Remove()

	var lines []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, tr, pre").Each(func(_ int, sel *goquery.Selection) {
		name := goquery.NodeName(sel)
		if text := extractText(sel, name); text != "" {
			lines = append(lines, text)
		}
	})

	if len(lines) == 0 {
		// Markup without block structure still yields its bare text.
		if text := collapseWhitespace(doc.Text()); text != "" {
			lines = append(lines, text)
		}
	}

	return strings.Join(lines, "\n"), nil
}

// LeadingText returns at most max characters from the front of text,
// cut on a rune boundary.
func LeadingText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
