// Package downloader drives the acquisition pipeline in one sequential
// pass: resolve the series, fetch and parse the chapter listing, then walk
// the canonical order downloading, cleaning and bundling, reporting every
// step as progress events.
package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"scribdl/bundle"
	"scribdl/cleaner"
	"scribdl/config"
	"scribdl/models"
	"scribdl/progress"
	"scribdl/scribblehub"
	"scribdl/session"
)

// DownloadError marks one chapter as permanently unobtainable after the
// whole retry budget ran out. The run aborts rather than leave a silent
// gap in the output.
type DownloadError struct {
	Index int
	URL   string
	Err   error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("chapter %d (%s) failed permanently: %v", e.Index, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Result is what a finished run hands back to the caller.
type Result struct {
	Chapters    int
	Bundles     int
	Elapsed     time.Duration
	Interrupted bool
}

// Manager owns one run of the pipeline.
type Manager struct {
	settings config.Settings
	session  *session.Client
	notify   progress.Notifier
	log      *slog.Logger

	// sleep is the politeness wait between chapters, swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(settings config.Settings, sess *session.Client, notify progress.Notifier, logger *slog.Logger) *Manager {
	if notify == nil {
		notify = progress.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings: settings,
		session:  sess,
		notify:   notify,
		log:      logger.With("component", "downloader"),
		sleep:    waitCtx,
	}
}

// Run executes one full pass. On interrupt it flushes whatever the writer
// holds into a final short bundle and returns the partial Result alongside
// context.Canceled, so the caller can tell the interrupted outcome apart
// from real failures.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	series, err := scribblehub.ResolveSeries(ctx, m.session, m.settings.SeriesURL, m.log)
	if err != nil {
		return nil, m.fail("resolve", err)
	}
	m.notify.Notify(progress.Event{Kind: progress.KindResolved})
	m.log.Info("series resolved", "post_id", series.PostID, "url", m.settings.SeriesURL)

	markup, err := scribblehub.FetchTOC(ctx, m.session, series)
	if err != nil {
		return nil, m.fail("table of contents", err)
	}
	stubs, err := scribblehub.ParseTOC(markup, series.URL)
	if err != nil {
		return nil, m.fail("table of contents", err)
	}
	chapters := scribblehub.Canonicalize(stubs)
	if series.ExpectedTotal > 0 && series.ExpectedTotal != len(chapters) {
		m.log.Warn("listing size differs from advertised total",
			"listed", len(chapters), "advertised", series.ExpectedTotal)
	}
	m.notify.Notify(progress.Event{Kind: progress.KindTOCFetched, Total: len(chapters)})
	m.log.Info("table of contents ready", "chapters", len(chapters))

	writer := bundle.NewWriter(m.settings.OutputDir, m.settings.GroupSize, m.log)
	result := &Result{}

	for i, stub := range chapters {
		if ctx.Err() != nil {
			return m.interrupted(result, writer, started)
		}

		m.notify.Notify(progress.Event{Kind: progress.KindChapterStarted, Index: stub.Index, Title: stub.Title})
		m.log.Debug("chapter started", "index", stub.Index, "url", stub.URL)

		chapter, err := m.fetchChapter(ctx, stub)
		if err != nil {
			if ctx.Err() != nil {
				return m.interrupted(result, writer, started)
			}
			return nil, m.fail("download", err)
		}

		result.Chapters++
		m.notify.Notify(progress.Event{Kind: progress.KindChapterDone, Index: stub.Index})

		b, err := writer.Add(chapter)
		if err != nil {
			return nil, m.fail("storage", err)
		}
		if b != nil {
			result.Bundles++
			m.notifyBundle(b)
		}

		if i < len(chapters)-1 && m.settings.ChapterDelay > 0 {
			if err := m.sleep(ctx, m.settings.DelayDuration()); err != nil {
				return m.interrupted(result, writer, started)
			}
		}
	}

	b, err := writer.Flush()
	if err != nil {
		return nil, m.fail("storage", err)
	}
	if b != nil {
		result.Bundles++
		m.notifyBundle(b)
	}

	result.Elapsed = time.Since(started)
	m.log.Info("run complete", "chapters", result.Chapters, "bundles", result.Bundles)
	return result, nil
}

// fetchChapter runs the per-chapter retry state machine, then extracts and
// cleans the body. The retry callback surfaces each failed attempt as an
// event before the backoff sleep begins.
func (m *Manager) fetchChapter(ctx context.Context, stub models.ChapterStub) (models.Chapter, error) {
	page, err := m.session.Fetch(ctx, session.Request{
		URL: stub.URL,
		Validate: func(body []byte) error {
			if len(bytes.TrimSpace(body)) == 0 {
				return errors.New("empty response body")
			}
			return nil
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			m.notify.Notify(progress.Event{
				Kind:    progress.KindChapterRetrying,
				Index:   stub.Index,
				Attempt: attempt,
				Wait:    wait,
			})
		},
	})
	if err != nil {
		return models.Chapter{}, &DownloadError{Index: stub.Index, URL: stub.URL, Err: err}
	}

	title, bodyHTML, err := scribblehub.ExtractChapter(page, stub.URL, m.log)
	if err != nil {
		return models.Chapter{}, err
	}

	text := cleaner.Clean(bodyHTML)
	if text == "" {
		return models.Chapter{}, &scribblehub.ParseError{
			Stage:  "chapter content",
			URL:    stub.URL,
			Detail: "no readable text after cleaning",
		}
	}

	if title == "" {
		title = stub.Title
	}
	if title == "" {
		title = fmt.Sprintf("Chapter %d", stub.Index)
	}
	return models.Chapter{Stub: stub, Title: title, Body: text}, nil
}

// interrupted salvages pending chapters into a final short bundle and
// reports the distinct outcome.
func (m *Manager) interrupted(result *Result, writer *bundle.Writer, started time.Time) (*Result, error) {
	m.log.Warn("interrupt received, flushing partial bundle", "pending", writer.Pending())
	if b, err := writer.Flush(); err != nil {
		m.log.Error("partial flush failed", "err", err)
	} else if b != nil {
		result.Bundles++
		m.notifyBundle(b)
	}
	m.notify.Notify(progress.Event{Kind: progress.KindInterrupted})
	result.Interrupted = true
	result.Elapsed = time.Since(started)
	return result, context.Canceled
}

func (m *Manager) notifyBundle(b *models.Bundle) {
	m.notify.Notify(progress.Event{
		Kind:  progress.KindBundleWritten,
		Start: b.StartIndex,
		End:   b.EndIndex,
		Path:  filepath.Join(m.settings.OutputDir, bundle.Filename(b.StartIndex, b.EndIndex)),
	})
}

// fail reports a terminal error for stage. A cancellation is the user's
// interrupt rather than a failure and surfaces as the interrupted outcome,
// even when it lands before any chapter was downloaded.
func (m *Manager) fail(stage string, err error) error {
	if errors.Is(err, context.Canceled) {
		m.log.Warn("interrupt received", "stage", stage)
		m.notify.Notify(progress.Event{Kind: progress.KindInterrupted})
		return err
	}
	m.log.Error("run failed", "stage", stage, "err", err)
	m.notify.Notify(progress.Event{Kind: progress.KindError, Stage: stage, Message: err.Error()})
	return err
}

// waitCtx blocks for d unless the context ends first.
func waitCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
