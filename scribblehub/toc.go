package scribblehub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scribdl/models"
	"scribdl/session"
)

// The WordPress admin-ajax action behind the "show all chapters" widget.
// pagenum -1 asks for the entire listing in one response instead of a page
// at a time.
const (
	tocAction  = "wi_getreleases_pagination"
	tocAllPage = "-1"
)

// FetchTOC issues the single all-at-once release listing request and
// returns the raw fragment markup. An empty body counts as a failed
// attempt, the endpoint answers that way while the host is shedding load.
func FetchTOC(ctx context.Context, c *session.Client, series *Series) ([]byte, error) {
	endpoint := series.URL.Scheme + "://" + series.URL.Host + "/wp-admin/admin-ajax.php"
	form := url.Values{
		"action":   {tocAction},
		"pagenum":  {tocAllPage},
		"mypostid": {strconv.Itoa(series.PostID)},
	}

	body, err := c.Fetch(ctx, session.Request{
		URL:     endpoint,
		Referer: series.URL.String(),
		Form:    form,
		Validate: func(b []byte) error {
			if len(bytes.TrimSpace(b)) == 0 {
				return errors.New("empty release listing response")
			}
			return nil
		},
	})
	if err != nil {
		return nil, &FetchError{Stage: "table of contents", URL: endpoint, Err: err}
	}
	return body, nil
}

// tocShape is one markup layout the release listing can arrive in. extract
// pulls (order, title, url) stubs out of the fragment, resolving links
// against base; an empty result means the shape does not apply. New layouts
// slot in by appending to tocShapes, call sites never change.
type tocShape interface {
	extract(root *goquery.Selection, base *url.URL) []models.ChapterStub
}

var tocShapes = []tocShape{listShape{}, tableShape{}}

// ParseTOC turns the raw listing fragment into chapter stubs. The listing
// sits in div.wi_fic_table.main when the host wraps it; bare fragments are
// parsed as-is. Shapes are tried in order and the first one that yields
// entries wins; if none do, the source layout changed and that is a
// ParseError.
func ParseTOC(markup []byte, base *url.URL) ([]models.ChapterStub, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, &ParseError{Stage: "table of contents", Detail: err.Error()}
	}

	root := doc.Find("div.wi_fic_table.main").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	for _, shape := range tocShapes {
		if stubs := shape.extract(root, base); len(stubs) > 0 {
			return stubs, nil
		}
	}
	return nil, &ParseError{
		Stage:  "table of contents",
		Detail: "no chapter entries in any supported layout",
	}
}

// listShape handles the widget layout: <li order="N"><a href="…">title</a>.
// Items occasionally ship without an order attribute; those keep Order -1
// and sort after the ordered ones.
type listShape struct{}

func (listShape) extract(root *goquery.Selection, base *url.URL) []models.ChapterStub {
	var stubs []models.ChapterStub
	root.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a[href]").First()
		if a.Length() == 0 {
			return
		}
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		stubs = append(stubs, models.ChapterStub{
			Order: firstInt(li.AttrOr("order", "")),
			Title: collapseSpace(a.Text()),
			URL:   absoluteURL(base, href),
		})
	})
	return stubs
}

// tableShape handles the tabular layout: one row per chapter under
// table#myTable, the first cell leading with the chapter number.
type tableShape struct{}

func (tableShape) extract(root *goquery.Selection, base *url.URL) []models.ChapterStub {
	var stubs []models.ChapterStub
	root.Find("table#myTable tbody tr").Each(func(_ int, tr *goquery.Selection) {
		a := tr.Find("a[href]").First()
		if a.Length() == 0 {
			return
		}
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		stubs = append(stubs, models.ChapterStub{
			Order: firstInt(tr.Find("td").First().Text()),
			Title: collapseSpace(a.Text()),
			URL:   absoluteURL(base, href),
		})
	})
	return stubs
}

// Canonicalize is the pure dedup/sort step between parsing and
// downloading: drop duplicate links keeping the first occurrence (title
// included), order ascending by source order with discovery order breaking
// ties, push order-less entries to the end, then stamp canonical 1-based
// indices. The input slice is not modified.
func Canonicalize(stubs []models.ChapterStub) []models.ChapterStub {
	seen := make(map[string]bool, len(stubs))
	out := make([]models.ChapterStub, 0, len(stubs))
	for _, s := range stubs {
		key := s.URL
		if key == "" {
			// Extraction never emits empty links, but keep dedup total.
			key = fmt.Sprintf("order:%d", s.Order)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Order, out[j].Order
		if a < 0 || b < 0 {
			return a >= 0 && b < 0
		}
		return a < b
	})

	for i := range out {
		out[i].Index = i + 1
	}
	return out
}

var (
	digitsRe = regexp.MustCompile(`\d+`)
	spacesRe = regexp.MustCompile(`\s+`)
)

// firstInt pulls the first run of digits out of a string, -1 when there is
// none. Listing cells say things like "103." or "Ch. 103".
func firstInt(s string) int {
	m := digitsRe.FindString(s)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}

func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
