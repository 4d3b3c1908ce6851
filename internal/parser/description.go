package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var (
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)

	descriptionPolicy = newDescriptionPolicy()
)

// newDescriptionPolicy allows the handful of tags the catalog uses in descriptions.
func newDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "i", "em", "strong", "ul", "ol", "li")
	return p
}

// PlainText turns a catalog description (which may contain HTML) into text
// suitable for a Telegram caption or a terminal.
func PlainText(description string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		return ""
	}
	if !strings.ContainsAny(description, "<&") {
		return description
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
	if err != nil {
		// Not parseable as HTML: fall back to stripping everything.
		return strings.TrimSpace(bluemonday.StrictPolicy().Sanitize(description))
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, li").Each(func(_ int, s *goquery.Selection) {
		if s.Is("li") {
			s.PrependHtml("• ")
		}
		s.AppendHtml("\n")
	})

	text := doc.Text()
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spacesRe.ReplaceAllString(l, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// SafeHTML keeps basic formatting tags and drops everything else (scripts,
// links, attributes). Used when the description is rendered by the Mini App.
func SafeHTML(description string) string {
	return strings.TrimSpace(descriptionPolicy.Sanitize(description))
}

// Truncate cuts s to at most n runes, adding an ellipsis when it had to cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
