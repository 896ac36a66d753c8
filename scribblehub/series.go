// Package scribblehub knows the markup of one host: how a series page
// exposes its post id, how the release listing endpoint is called, and the
// two layouts that listing arrives in. Everything else in the tool is
// host-agnostic.
package scribblehub

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"scribdl/session"
)

// Series is the resolved identity of one publication on the host.
type Series struct {
	URL           *url.URL
	PostID        int
	ExpectedTotal int // chapter count advertised on the page, 0 when absent
}

// ResolveSeries fetches the landing page and pulls out the numeric post id
// the release endpoint keys on. The page also advertises a chapter total
// in a hidden counter; it is carried along so the pipeline can warn when
// the listing disagrees.
func ResolveSeries(ctx context.Context, c *session.Client, rawURL string, logger *slog.Logger) (*Series, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ResolutionError{URL: rawURL}
	}

	page, err := c.Fetch(ctx, session.Request{URL: rawURL})
	if err != nil {
		return nil, &FetchError{Stage: "series page", URL: rawURL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &ParseError{Stage: "series page", URL: rawURL, Detail: err.Error()}
	}

	rawID := strings.TrimSpace(doc.Find("#mypostid").AttrOr("value", ""))
	id, err := strconv.Atoi(rawID)
	if rawID == "" || err != nil {
		return nil, &ResolutionError{URL: rawURL}
	}

	series := &Series{URL: base, PostID: id}

	counter := doc.Find("#chpcounter").First()
	if counter.Length() > 0 {
		raw := counter.AttrOr("value", "")
		if raw == "" {
			raw = counter.Text()
		}
		if total := firstInt(raw); total > 0 {
			series.ExpectedTotal = total
		}
	}

	if logger != nil {
		logger.Debug("series resolved",
			"url", rawURL, "post_id", id, "expected_total", series.ExpectedTotal)
	}
	return series, nil
}
