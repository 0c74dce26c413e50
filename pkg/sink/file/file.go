// Package file implements a quill.Sink that appends events to an XML log
// file, rotating (archiving the old file under a timestamped name) once it
// would exceed a configured size. Grounded on original_source's
// output_stream_file.cpp/.h.
package file

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/user/quill"
	"github.com/user/quill/internal/timeutil"
	"github.com/user/quill/internal/xmlutil"
)

// Sink writes events as a sequence of <message> elements wrapped in a
// single <logfile> root, matching the original's streamed-XML format.
// Because the root element is only closed on Close, a crash leaves behind
// a file lacking its closing tag — callers that need to read a live log
// file should tolerate that, exactly as the original does.
type Sink struct {
	quill.BaseSink

	mu         sync.Mutex
	filename   string
	maxSize    int64
	maxBackups int
	gzip       bool
	file       *os.File
	size       int64
}

// defaultMaxSize is the rotation threshold applied when New is given a
// non-positive maxSize.
const defaultMaxSize = 10 * 1024 * 1024

// New opens (or creates) filename, archiving any existing file at that
// path first, and returns a Sink that rotates once the file would grow
// past maxSize bytes. maxSize <= 0 selects the default of 10 MiB.
func New(filename string, maxSize int64) (*Sink, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	s := &Sink{filename: filename, maxSize: maxSize}
	s.SetMinLevel(quill.Finest)
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) Name() string { return fmt.Sprintf("file: '%s'", s.filename) }

// CompressArchives enables or disables gzip compression of files rotated
// out by Write, taking effect from the next rotation onward.
func (s *Sink) CompressArchives(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gzip = on
}

// SetMaxBackups caps the number of archived rotations kept alongside the
// active file; the oldest archives beyond the cap are deleted after each
// rotation. n <= 0 keeps every archive, matching the original's unbounded
// accumulation (it never pruned old files itself -- that was left to
// external log rotation).
func (s *Sink) SetMaxBackups(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBackups = n
}

func (s *Sink) open() error {
	if st, err := os.Stat(s.filename); err == nil {
		if err := s.archive(st.ModTime()); err != nil {
			return err
		}
	}
	return s.createFresh()
}

func (s *Sink) createFresh() error {
	f, err := os.Create(s.filename)
	if err != nil {
		return fmt.Errorf("file sink: open %s: %w", s.filename, err)
	}
	n, err := io.WriteString(f, "<logfile>\n")
	if err != nil {
		f.Close()
		return fmt.Errorf("file sink: write header: %w", err)
	}
	s.file = f
	s.size = int64(n)
	return nil
}

// archive renames the current file to "<path>-<epoch>.<ms>", stamped by
// stamp, matching the original's archive-on-(re)open/rotate naming. When
// gzip compression is enabled, the renamed file is additionally compressed
// in place and the uncompressed copy removed; the original's naming
// convention is preserved, with a ".gz" suffix appended.
func (s *Sink) archive(stamp time.Time) error {
	target := fmt.Sprintf("%s-%s", s.filename, timeutil.FormatTimestamp(stamp))
	if err := os.Rename(s.filename, target); err != nil {
		return err
	}
	if !s.gzip {
		return nil
	}
	return gzipAndRemove(target)
}

// gzipAndRemove compresses src to src+".gz" and removes src on success.
func gzipAndRemove(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(src + ".gz")
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(src + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(src + ".gz")
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(src + ".gz")
		return err
	}
	return os.Remove(src)
}

func (s *Sink) rotate() error {
	s.closeLocked()
	if err := s.archive(time.Now()); err != nil {
		return err
	}
	s.pruneBackups()
	return s.createFresh()
}

// pruneBackups deletes the oldest archived rotations once their count
// exceeds maxBackups. Archive names sort lexically in creation order
// since they are stamped "<path>-<epoch>.<ms>[.gz]".
func (s *Sink) pruneBackups() {
	if s.maxBackups <= 0 {
		return
	}
	matches, err := filepath.Glob(s.filename + "-*")
	if err != nil || len(matches) <= s.maxBackups {
		return
	}
	sort.Strings(matches)
	for _, stale := range matches[:len(matches)-s.maxBackups] {
		os.Remove(stale)
	}
}

// Write appends _e as a <message> element, rotating first if it would
// push the file past maxSize.
func (s *Sink) Write(e quill.Event) bool {
	if !s.Admits(e.Level) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := s.open(); err != nil {
			return false
		}
	}

	line := fmt.Sprintf("<message level=\"%s\"><time>%s</time><subsystem>%s</subsystem>"+
		"<function>%s</function><text>%s</text></message>\n",
		e.Level, e.TimeString(), xmlutil.Sanitize(e.SubsystemName()),
		xmlutil.Sanitize(e.Function), xmlutil.CData(e.Message))

	const closingTagReserve = 11 // "</logfile>\n"
	if s.maxSize > 0 && s.size+int64(len(line))+closingTagReserve > s.maxSize {
		if err := s.rotate(); err != nil {
			return false
		}
	}

	n, err := io.WriteString(s.file, line)
	if err != nil {
		return false
	}
	s.size += int64(n)
	return true
}

func (s *Sink) RetrySeconds() int { return 30 }

func (s *Sink) closeLocked() error {
	if s.file == nil {
		return nil
	}
	io.WriteString(s.file, "</logfile>\n")
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Sink) Dump(w io.Writer) {
	fmt.Fprintf(w, "     min. log level: %s\n", s.MinLevel())
}
