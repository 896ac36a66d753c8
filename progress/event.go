// Package progress carries pipeline notifications to whoever is watching
// and folds them into display state (percent, elapsed, ETA). The pipeline
// only ever emits events; reading the derived state back is the
// reporter's business.
package progress

import "time"

// Kind discriminates pipeline events.
type Kind int

const (
	KindResolved Kind = iota
	KindTOCFetched
	KindChapterStarted
	KindChapterRetrying
	KindChapterDone
	KindBundleWritten
	KindError
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindTOCFetched:
		return "tocFetched"
	case KindChapterStarted:
		return "chapterStarted"
	case KindChapterRetrying:
		return "chapterRetrying"
	case KindChapterDone:
		return "chapterDone"
	case KindBundleWritten:
		return "bundleWritten"
	case KindError:
		return "error"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Event is one pipeline notification. Only the fields meaningful for its
// Kind are populated.
type Event struct {
	Kind    Kind
	Index   int           // chapter index for started/retrying/done
	Title   string        // chapter title for started
	Total   int           // listing size for tocFetched
	Attempt int           // failed attempt count for retrying
	Wait    time.Duration // backoff before the next attempt
	Start   int           // bundle span for bundleWritten
	End     int
	Path    string // bundle file for bundleWritten
	Stage   string // failing stage for error
	Message string // detail for error
}

// Notifier receives events in emission order. Implementations must return
// quickly and never fail; the pipeline blocks on each call.
type Notifier interface {
	Notify(Event)
}

// Nop discards everything. Useful for headless runs and tests.
type Nop struct{}

func (Nop) Notify(Event) {}
