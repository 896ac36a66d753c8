package scribblehub

import "fmt"

// ResolutionError means the series page no longer carries the post id
// marker the release endpoint needs. That is a site layout change, not a
// transient failure, so it is never retried.
type ResolutionError struct {
	URL string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no post id on series page %s, site layout may have changed", e.URL)
}

// FetchError means a request gave up after exhausting its retry budget.
type FetchError struct {
	Stage string // what the request was after, e.g. "series page"
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s from %s: %v", e.Stage, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError means markup arrived but the expected structure was not in
// it. Like ResolutionError it signals the source changed shape and the
// extraction rules need adapting.
type ParseError struct {
	Stage  string
	URL    string
	Detail string
}

func (e *ParseError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("parsing %s at %s: %s", e.Stage, e.URL, e.Detail)
	}
	return fmt.Sprintf("parsing %s: %s", e.Stage, e.Detail)
}
