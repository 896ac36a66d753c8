package progress

import "time"

const (
	// etaWindow is how many recent chapter durations feed the moving
	// average.
	etaWindow = 10
	// etaMinSamples gates the estimate until it has something to stand on.
	etaMinSamples = 3
)

// Tracker folds events into run state and derives the numbers a reporter
// displays. The clock is injectable so tests can drive time by hand.
type Tracker struct {
	now func() time.Time

	Total     int
	Done      int
	Current   int
	LastTitle string
	StartedAt time.Time

	recent   []time.Duration
	lastMark time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Observe updates the state for one event. Events the tracker does not
// care about pass through untouched.
func (t *Tracker) Observe(ev Event) {
	switch ev.Kind {
	case KindTOCFetched:
		t.Total = ev.Total
		t.StartedAt = t.now()
		t.lastMark = t.StartedAt
	case KindChapterStarted:
		t.Current = ev.Index
		t.LastTitle = ev.Title
	case KindChapterDone:
		now := t.now()
		if !t.lastMark.IsZero() {
			t.recent = append(t.recent, now.Sub(t.lastMark))
			if len(t.recent) > etaWindow {
				t.recent = t.recent[1:]
			}
		}
		t.lastMark = now
		t.Done++
	}
}

// Percent complete, 0 to 100.
func (t *Tracker) Percent() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Done) / float64(t.Total) * 100
}

// Remaining chapters.
func (t *Tracker) Remaining() int {
	if t.Total < t.Done {
		return 0
	}
	return t.Total - t.Done
}

// Elapsed since the listing arrived.
func (t *Tracker) Elapsed() time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	return t.now().Sub(t.StartedAt)
}

// ETA projects the moving average of recent chapter durations, politeness
// waits included, over the remaining count. ok is false until enough
// samples exist or when nothing remains.
func (t *Tracker) ETA() (time.Duration, bool) {
	if len(t.recent) < etaMinSamples || t.Remaining() == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range t.recent {
		sum += d
	}
	avg := sum / time.Duration(len(t.recent))
	return avg * time.Duration(t.Remaining()), true
}
