// Package cleaner turns extracted chapter markup into readable plain text.
// Clean is pure and idempotent, so re-running it over already-clean text
// is a no-op; the pipeline relies on that when it stitches bundles.
package cleaner

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Clean applies the three normalization stages in order: line-break markup
// becomes hard newlines, navigation boilerplate is dropped, and whitespace
// collapses while paragraph boundaries survive.
func Clean(markup string) string {
	text := extractText(markup)
	text = stripBoilerplate(text)
	return normalize(text)
}

// Elements whose content never belongs in chapter text.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"template": true,
	"head":     true,
}

// Elements that end a paragraph.
var paragraphTags = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"blockquote": true, "figure": true, "header": true, "footer": true,
	"ul": true, "ol": true, "table": true, "pre": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

// Elements that end a line within a paragraph.
var lineTags = map[string]bool{"li": true, "tr": true}

// Elements whose boundary is just a gap.
var spacerTags = map[string]bool{"td": true, "th": true}

func extractText(markup string) string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// The HTML5 parser recovers from nearly anything; a hard failure
		// means there is nothing to render.
		return ""
	}
	var sb strings.Builder
	walk(doc, &sb)
	// Line endings are unified here so the boilerplate pass already sees
	// the final line boundaries.
	text := strings.ReplaceAll(sb.String(), "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func walk(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(strings.ReplaceAll(n.Data, "\u00a0", " "))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		name := n.Data
		if skipTags[name] {
			return
		}
		if name == "br" {
			sb.WriteString("\n")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, sb)
		}
		switch {
		case paragraphTags[name]:
			sb.WriteString("\n\n")
		case lineTags[name]:
			sb.WriteString("\n")
		case spacerTags[name]:
			sb.WriteString(" ")
		}
		return
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, sb)
		}
	}
}

// Navigation fragments the host injects around chapter text. Only short
// lines are dropped so prose that happens to mention these words survives.
var boilerplateMarkers = []string{"previous", "next", "index", "advertisement", "shortcut"}

const boilerplateMaxLen = 30

func stripBoilerplate(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isBoilerplate(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// isBoilerplate judges the whitespace-collapsed form of the line, so the
// verdict cannot flip once normalize collapses the same runs.
func isBoilerplate(line string) bool {
	collapsed := strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	if collapsed == "" || utf8.RuneCountInString(collapsed) > boilerplateMaxLen {
		return false
	}
	lower := strings.ToLower(collapsed)
	for _, marker := range boilerplateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var (
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	manyNewlines = regexp.MustCompile(`\n{3,}`)
)

func normalize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")

	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
