package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Flatten converts an HTML fragment to readable plain text. Line breaks
// and block boundaries become newlines, inline markup is dropped and
// entities are decoded. Plain text passes through with whitespace
// collapsed.
func Flatten(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseLines(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseLines(fragment)
	}

	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li").AfterHtml("\n")

	return collapseLines(doc.Text())
}

// collapseLines squeezes runs of whitespace within each line and drops
// blank lines.
func collapseLines(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
