package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scribdl/config"
	"scribdl/progress"
	"scribdl/scribblehub"
	"scribdl/session"
)

// testSite fakes the host: a series landing page, the admin-ajax release
// listing, and one page per chapter. Failures are injected per path.
type testSite struct {
	mu   sync.Mutex
	hits map[string]int
	fail map[string]int // 500s to serve before succeeding, -1 for always

	total        int
	advertised   int
	postID       int
	brokenSeries bool
	garbageTOC   bool
	noTitles     bool

	srv *httptest.Server
}

func newTestSite(t *testing.T, chapters int) *testSite {
	s := &testSite{
		hits:       map[string]int{},
		fail:       map[string]int{},
		total:      chapters,
		advertised: chapters,
		postID:     4242,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/series/", s.serveSeries)
	mux.HandleFunc("/wp-admin/admin-ajax.php", s.serveTOC)
	mux.HandleFunc("/read/", s.serveChapter)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testSite) seriesURL() string { return s.srv.URL + "/series/4242/test-serial/" }

func (s *testSite) failFirst(path string, n int) { s.fail[path] = n }

func (s *testSite) failAlways(path string) { s.fail[path] = -1 }

func (s *testSite) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// record counts the hit and reports whether this request should fail.
func (s *testSite) record(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[path]++
	left, ok := s.fail[path]
	if !ok || left == 0 {
		return false
	}
	if left > 0 {
		s.fail[path] = left - 1
	}
	return true
}

func (s *testSite) serveSeries(w http.ResponseWriter, r *http.Request) {
	if s.record(r.URL.Path) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
		return
	}
	if s.brokenSeries {
		fmt.Fprint(w, `<html><body><h1>Test Serial</h1></body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><body>
<h1>Test Serial</h1>
<input type="hidden" id="mypostid" value="%d">
<input type="hidden" id="chpcounter" value="%d">
</body></html>`, s.postID, s.advertised)
}

func (s *testSite) serveTOC(w http.ResponseWriter, r *http.Request) {
	if s.record(r.URL.Path) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost ||
		r.PostFormValue("action") != "wi_getreleases_pagination" ||
		r.PostFormValue("mypostid") != strconv.Itoa(s.postID) {
		http.NotFound(w, r)
		return
	}
	if s.garbageTOC {
		fmt.Fprint(w, `<div class="wi_fic_table main"><p>nothing here</p></div>`)
		return
	}
	var sb strings.Builder
	sb.WriteString(`<div class="wi_fic_table main"><ul>`)
	for i := 1; i <= s.total; i++ {
		fmt.Fprintf(&sb, `<li order="%d"><a href="/read/%d-chapter-%d">Chapter %d</a></li>`,
			i*10, s.postID, i, i)
	}
	// the widget repeats the first entry in its footer strip
	fmt.Fprintf(&sb, `<li order="10"><a href="/read/%d-chapter-1">Chapter 1 again</a></li>`, s.postID)
	sb.WriteString(`</ul></div>`)
	fmt.Fprint(w, sb.String())
}

func (s *testSite) serveChapter(w http.ResponseWriter, r *http.Request) {
	if s.record(r.URL.Path) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
		return
	}
	var i int
	fmt.Sscanf(r.URL.Path, "/read/4242-chapter-%d", &i)
	if s.noTitles {
		fmt.Fprintf(w, `<html><body><div id="chp_raw"><p>Words of chapter %d.</p></div></body></html>`, i)
		return
	}
	fmt.Fprintf(w, `<html><head><title>Chapter %d – Test Serial – Scribble Hub</title></head>
<body><div id="chp_raw"><p>Words of chapter %d.</p><p>Second paragraph.</p></div></body></html>`, i, i)
}

// recorder captures events in emission order; onEvent lets a test react
// mid-run (interrupt injection).
type recorder struct {
	events  []progress.Event
	onEvent func(progress.Event)
}

func (r *recorder) Notify(ev progress.Event) {
	r.events = append(r.events, ev)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *recorder) byKind(k progress.Kind) []progress.Event {
	var out []progress.Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func testSettings(site *testSite, dir string) config.Settings {
	return config.Settings{
		SeriesURL:   site.seriesURL(),
		OutputDir:   dir,
		GroupSize:   10,
		MaxAttempts: 3,
		BackoffBase: 0,
		Timeout:     5,
	}
}

func newTestManager(t *testing.T, settings config.Settings, rec *recorder) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.New(settings.RequestTimeout(), settings.RetryPolicy(), logger)
	return NewManager(settings, sess, rec, logger)
}

func TestRunDownloadsAndBundles(t *testing.T) {
	site := newTestSite(t, 23)
	dir := t.TempDir()
	rec := &recorder{}
	m := newTestManager(t, testSettings(site, dir), rec)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, res.Chapters)
	assert.Equal(t, 3, res.Bundles)
	assert.False(t, res.Interrupted)

	for _, name := range []string{"0001-0010.txt", "0011-0020.txt", "0021-0023.txt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "0001-0010.txt"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, "Chapter 1: Chapter 1 – Test Serial\n"), content[:80])
	assert.Contains(t, content, "URL: "+site.srv.URL+"/read/4242-chapter-1\n")
	assert.Contains(t, content, "Words of chapter 1.\n\nSecond paragraph.")
	assert.Contains(t, content, "Chapter 10: ")
	assert.NotContains(t, content, "Chapter 11:")

	require.GreaterOrEqual(t, len(rec.events), 2)
	assert.Equal(t, progress.KindResolved, rec.events[0].Kind)
	assert.Equal(t, progress.KindTOCFetched, rec.events[1].Kind)
	assert.Equal(t, 23, rec.events[1].Total)
	assert.Len(t, rec.byKind(progress.KindChapterStarted), 23)
	assert.Len(t, rec.byKind(progress.KindChapterDone), 23)
	assert.Empty(t, rec.byKind(progress.KindChapterRetrying))

	written := rec.byKind(progress.KindBundleWritten)
	require.Len(t, written, 3)
	assert.Equal(t, 1, written[0].Start)
	assert.Equal(t, 10, written[0].End)
	assert.Equal(t, 21, written[2].Start)
	assert.Equal(t, 23, written[2].End)
	assert.Equal(t, filepath.Join(dir, "0021-0023.txt"), written[2].Path)

	assert.Equal(t, 1, site.count("/read/4242-chapter-1"),
		"the duplicated listing entry must not trigger a second fetch")
}

func TestRunRecoversFromTransientChapterFailures(t *testing.T) {
	site := newTestSite(t, 3)
	site.failFirst("/read/4242-chapter-2", 2)
	settings := testSettings(site, t.TempDir())
	settings.GroupSize = 3
	rec := &recorder{}
	m := newTestManager(t, settings, rec)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chapters)

	retries := rec.byKind(progress.KindChapterRetrying)
	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].Index)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, 2, retries[1].Attempt)
	assert.Equal(t, 3, site.count("/read/4242-chapter-2"))
}

func TestRunAbortsAfterRetryBudget(t *testing.T) {
	site := newTestSite(t, 3)
	site.failAlways("/read/4242-chapter-2")
	dir := t.TempDir()
	rec := &recorder{}
	m := newTestManager(t, testSettings(site, dir), rec)

	res, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)

	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, 2, dlErr.Index)
	assert.Equal(t, 3, site.count("/read/4242-chapter-2"), "exactly the attempt budget, then stop")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed runs do not flush the open group")

	assert.Len(t, rec.byKind(progress.KindChapterRetrying), 2,
		"the final failure is a verdict, not a retry")
	errs := rec.byKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "download", errs[0].Stage)
}

func TestRunInterruptFlushesPartialBundle(t *testing.T) {
	site := newTestSite(t, 23)
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	rec.onEvent = func(ev progress.Event) {
		if ev.Kind == progress.KindChapterDone && ev.Index == 12 {
			cancel()
		}
	}
	m := newTestManager(t, testSettings(site, dir), rec)

	res, err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 12, res.Chapters)
	assert.Equal(t, 2, res.Bundles)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "nothing past the interruption point")
	_, err = os.Stat(filepath.Join(dir, "0001-0010.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "0011-0012.txt"))
	assert.NoError(t, err)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, progress.KindInterrupted, last.Kind)
	written := rec.byKind(progress.KindBundleWritten)
	require.Len(t, written, 2)
	assert.Equal(t, 11, written[1].Start)
	assert.Equal(t, 12, written[1].End)
	assert.Equal(t, 0, site.count("/read/4242-chapter-13"))
}

func TestRunInterruptDuringTOCFetchReportsInterrupted(t *testing.T) {
	site := newTestSite(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	rec.onEvent = func(ev progress.Event) {
		if ev.Kind == progress.KindResolved {
			cancel()
		}
	}
	m := newTestManager(t, testSettings(site, t.TempDir()), rec)

	res, err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	assert.Empty(t, rec.byKind(progress.KindError),
		"an interrupt before the first chapter is not a failure")
	assert.Empty(t, rec.byKind(progress.KindTOCFetched))
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, progress.KindInterrupted, last.Kind)
}

func TestRunResolutionErrorSurfaces(t *testing.T) {
	site := newTestSite(t, 3)
	site.brokenSeries = true
	rec := &recorder{}
	m := newTestManager(t, testSettings(site, t.TempDir()), rec)

	res, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)

	var resErr *scribblehub.ResolutionError
	assert.ErrorAs(t, err, &resErr)
	errs := rec.byKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "resolve", errs[0].Stage)
}

func TestRunGarbageTOCIsParseError(t *testing.T) {
	site := newTestSite(t, 3)
	site.garbageTOC = true
	rec := &recorder{}
	m := newTestManager(t, testSettings(site, t.TempDir()), rec)

	_, err := m.Run(context.Background())
	require.Error(t, err)

	var parseErr *scribblehub.ParseError
	assert.ErrorAs(t, err, &parseErr)
	errs := rec.byKind(progress.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "table of contents", errs[0].Stage)
}

func TestRunPolitenessDelayBetweenChapters(t *testing.T) {
	site := newTestSite(t, 3)
	settings := testSettings(site, t.TempDir())
	settings.GroupSize = 3
	settings.ChapterDelay = 5
	rec := &recorder{}
	m := newTestManager(t, settings, rec)

	var waits []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, waits,
		"a wait after every chapter except the last")
}

func TestRunFallsBackToListingTitle(t *testing.T) {
	site := newTestSite(t, 2)
	site.noTitles = true
	dir := t.TempDir()
	settings := testSettings(site, dir)
	settings.GroupSize = 2
	m := newTestManager(t, settings, &recorder{})

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "0001-0002.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Chapter 1: Chapter 1\n"),
		"listing title stands in when the page has none")
}

func TestRunWarnsOnAdvertisedTotalMismatch(t *testing.T) {
	site := newTestSite(t, 3)
	site.advertised = 99
	settings := testSettings(site, t.TempDir())
	settings.GroupSize = 3

	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	sess := session.New(settings.RequestTimeout(), settings.RetryPolicy(), logger)
	m := NewManager(settings, sess, &recorder{}, logger)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chapters, "a mismatch warns but never aborts")
	assert.Contains(t, logBuf.String(), "listing size differs")
}
