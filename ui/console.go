// Package ui renders run progress on the terminal: a single rewritten
// status line when stdout is interactive, plain lines otherwise, and a
// closing summary table.
package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"scribdl/progress"
)

const (
	barWidth   = 20
	titleWidth = 36
)

// Console implements progress.Notifier for a human watching the run.
type Console struct {
	out     io.Writer
	tracker *progress.Tracker
	ansi    bool
	active  bool // a status line currently occupies the cursor row
}

func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{
		out:     out,
		tracker: progress.NewTracker(nil),
		ansi:    interactive(out),
	}
}

func (c *Console) Notify(ev progress.Event) {
	c.tracker.Observe(ev)
	switch ev.Kind {
	case progress.KindResolved:
		c.println("series resolved")
	case progress.KindTOCFetched:
		c.println(fmt.Sprintf("found %d chapters", ev.Total))
	case progress.KindChapterStarted:
		if c.ansi {
			c.redraw()
		} else {
			c.println(fmt.Sprintf("[%d/%d] %s", ev.Index, c.tracker.Total, truncate(ev.Title, titleWidth)))
		}
	case progress.KindChapterRetrying:
		c.println(fmt.Sprintf("chapter %d: attempt %d failed, retrying in %s", ev.Index, ev.Attempt, ev.Wait))
		if c.ansi {
			c.redraw()
		}
	case progress.KindChapterDone:
		if c.ansi {
			c.redraw()
		}
	case progress.KindBundleWritten:
		c.println(fmt.Sprintf("saved %s (chapters %d-%d)", filepath.Base(ev.Path), ev.Start, ev.End))
		if c.ansi {
			c.redraw()
		}
	case progress.KindError:
		c.println(fmt.Sprintf("error at %s: %s", ev.Stage, ev.Message))
	case progress.KindInterrupted:
		if c.tracker.Done > 0 {
			c.println("interrupted, partial bundle flushed")
		} else {
			c.println("interrupted")
		}
	}
}

// Finish steps off the status line so later output starts on a fresh row.
func (c *Console) Finish() {
	if c.ansi && c.active {
		fmt.Fprintln(c.out)
		c.active = false
	}
}

// Summary prints the end-of-run table.
func (c *Console) Summary(chapters, bundles int, elapsed time.Duration, outputDir string) {
	c.Finish()
	tbl := table.NewWriter()
	tbl.SetOutputMirror(c.out)
	tbl.SetStyle(table.StyleRounded)
	tbl.AppendHeader(table.Row{"Chapters", "Bundles", "Elapsed", "Output"})
	tbl.AppendRow(table.Row{chapters, bundles, elapsed.Round(time.Second), outputDir})
	tbl.Render()
}

func (c *Console) println(line string) {
	if c.ansi && c.active {
		fmt.Fprint(c.out, "\r\x1b[2K")
		c.active = false
	}
	fmt.Fprintln(c.out, line)
}

func (c *Console) redraw() {
	fmt.Fprint(c.out, "\r\x1b[2K"+c.statusLine())
	c.active = true
}

func (c *Console) statusLine() string {
	t := c.tracker
	line := fmt.Sprintf("[%s] %3.0f%% %d/%d", bar(t.Percent()), t.Percent(), t.Done, t.Total)
	if eta, ok := t.ETA(); ok {
		line += fmt.Sprintf(" eta %s", eta.Round(time.Second))
	}
	if t.LastTitle != "" {
		line += " | " + truncate(t.LastTitle, titleWidth)
	}
	return line
}

func interactive(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func bar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
}

// truncate keeps at most width runes, ellipsizing longer titles.
func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-3]) + "..."
}
