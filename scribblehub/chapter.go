package scribblehub

import (
	"bytes"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content node candidates, tried in order. The body fallback keeps a run
// alive when the host shuffles its markup, at the cost of dragging page
// chrome into the cleaner.
var contentSelectors = []string{
	"#chp_raw",
	"#chapter-content",
	"div.chapter-content",
	"#chp_contents",
}

// Page titles end with the site name; the bundle header wants it gone.
const siteTitleSuffix = " – Scribble Hub"

// ExtractChapter locates the content node and the display title in a
// chapter page. The body comes back as markup, destined for the cleaner;
// the title is empty when the page offers nothing usable.
func ExtractChapter(page []byte, pageURL string, logger *slog.Logger) (title, bodyHTML string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", "", &ParseError{Stage: "chapter page", URL: pageURL, Detail: err.Error()}
	}

	// A present but empty container does not win; the next candidate may
	// hold the real text.
	var node *goquery.Selection
	for _, sel := range contentSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 && strings.TrimSpace(found.Text()) != "" {
			node = found
			break
		}
	}
	if node == nil {
		node = doc.Find("body").First()
		if logger != nil {
			logger.Warn("no known content container, falling back to page body", "url", pageURL)
		}
	}
	if node.Length() == 0 {
		return "", "", &ParseError{Stage: "chapter page", URL: pageURL, Detail: "no content node"}
	}

	bodyHTML, err = node.Html()
	if err != nil {
		return "", "", &ParseError{Stage: "chapter page", URL: pageURL, Detail: err.Error()}
	}

	title = collapseSpace(doc.Find("title").First().Text())
	title = strings.TrimSpace(strings.TrimSuffix(title, siteTitleSuffix))
	return title, bodyHTML, nil
}
