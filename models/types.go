package models

import (
	"math"
	"time"
)

// ChapterStub is a single table-of-contents entry before its body has been
// downloaded. The TOC parser fills in Order, Title and URL; Canonicalize
// assigns Index once the listing has been deduplicated and sorted.
type ChapterStub struct {
	Index int    // Canonical 1-based position, 0 until canonicalized
	Order int    // Ordinal supplied by the listing, -1 when absent
	Title string // Title as it appears in the listing
	URL   string // Absolute chapter link, uniqueness key for dedup
}

// Chapter is a downloaded and cleaned chapter, ready for bundling.
type Chapter struct {
	Stub  ChapterStub
	Title string // Title from the chapter page, falls back to the stub title
	Body  string // Cleaned plain text, no markup
}

// Bundle is one contiguous run of chapters destined for a single output
// file. Bundles are assembled and flushed immediately, never held across
// write cycles.
type Bundle struct {
	StartIndex int
	EndIndex   int
	Chapters   []Chapter
}

// RetryPolicy bounds how often a failed request is reissued and how long
// the waits between attempts grow. MaxAttempts counts the initial try.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase float64 // Base wait in seconds, doubled after each failure
}

// Delay returns BackoffBase as a duration. This is the wait before the
// second attempt; later attempts double it each time.
func (p RetryPolicy) Delay() time.Duration {
	return time.Duration(p.BackoffBase * float64(time.Second))
}

// WaitBefore returns the backoff wait applied before the given 1-based
// attempt: BackoffBase * 2^(attempt-2) seconds. The first attempt starts
// immediately.
func (p RetryPolicy) WaitBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(p.BackoffBase * math.Pow(2, float64(attempt-2)) * float64(time.Second))
}
