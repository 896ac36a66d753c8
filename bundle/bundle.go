// Package bundle accumulates cleaned chapters and writes them to disk in
// fixed-size groups, one file per group, each file committed atomically so
// readers polling the output directory never see a truncated bundle.
package bundle

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"scribdl/models"
)

// StorageError wraps any filesystem failure around the output directory.
type StorageError struct {
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure at %s: %v", e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EnsureDir creates the output directory when it does not exist yet.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &StorageError{Path: dir, Err: err}
	}
	return nil
}

// Writer groups chapters into bundles of groupSize and flushes each group
// the moment it fills. Whatever remains at the end of the stream, or at an
// interrupt, goes out through Flush as a smaller final bundle.
type Writer struct {
	dir       string
	groupSize int
	pending   []models.Chapter
	log       *slog.Logger
}

func NewWriter(dir string, groupSize int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dir:       dir,
		groupSize: groupSize,
		log:       logger.With("component", "bundle"),
	}
}

// Add appends one chapter, writing out a bundle when the group fills. The
// returned bundle is nil while the group is still accumulating.
func (w *Writer) Add(ch models.Chapter) (*models.Bundle, error) {
	w.pending = append(w.pending, ch)
	if len(w.pending) < w.groupSize {
		return nil, nil
	}
	return w.Flush()
}

// Flush writes everything pending as one bundle. Nil means there was
// nothing to write.
func (w *Writer) Flush() (*models.Bundle, error) {
	if len(w.pending) == 0 {
		return nil, nil
	}

	b := &models.Bundle{
		StartIndex: w.pending[0].Stub.Index,
		EndIndex:   w.pending[len(w.pending)-1].Stub.Index,
		Chapters:   w.pending,
	}
	w.pending = nil

	path := filepath.Join(w.dir, Filename(b.StartIndex, b.EndIndex))
	if err := writeFileAtomic(path, []byte(Render(b.Chapters))); err != nil {
		return nil, &StorageError{Path: path, Err: err}
	}

	w.log.Info("bundle written",
		"path", path, "chapters", len(b.Chapters),
		"start", b.StartIndex, "end", b.EndIndex)
	return b, nil
}

// Pending reports how many chapters sit in the unflushed group.
func (w *Writer) Pending() int { return len(w.pending) }

// Filename encodes the canonical index span, zero-padded to four digits.
func Filename(start, end int) string {
	return fmt.Sprintf("%04d-%04d.txt", start, end)
}

var separator = strings.Repeat("-", 80)

// Render produces the file body: a header and cleaned text per chapter,
// the dashed separator between chapters but not after the last one, and a
// single trailing newline.
func Render(chapters []models.Chapter) string {
	var sb strings.Builder
	for i, ch := range chapters {
		if i > 0 {
			sb.WriteString("\n\n")
			sb.WriteString(separator)
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Chapter %d: %s\nURL: %s\n\n", ch.Stub.Index, ch.Title, ch.Stub.URL)
		sb.WriteString(strings.TrimSpace(ch.Body))
	}
	return strings.TrimSpace(sb.String()) + "\n"
}

// writeFileAtomic stages the content in a temp file beside the target and
// renames it into place. The rename is the commit point; a crash before it
// leaves at most a stray temp file, never a truncated bundle.
func writeFileAtomic(path string, content []byte) error {
	temp := path + ".tmp." + randomSuffix()
	if err := writeSync(temp, content); err != nil {
		return err
	}
	if err := os.Rename(temp, path); err != nil {
		os.Remove(temp)
		return err
	}
	return nil
}

func writeSync(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func randomSuffix() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
