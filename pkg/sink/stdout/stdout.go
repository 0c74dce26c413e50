// Package stdout implements a quill.Sink that writes one colored line per
// event to a terminal. Grounded on original_source/output_stream_stdout.cpp
// (the three-palette scheme and TERM/COLORFGBG capability probe) and the
// teacher's use of github.com/fatih/color + github.com/mattn/go-colorable
// for cross-platform ANSI writing.
package stdout

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"

	"github.com/user/quill"
)

// palette maps a level to the ANSI color code sequence prefixed to the
// whole line (not just the level field), matching the original's
// COLOR_ENTIRE_LINE build option.
type palette map[quill.Level]string

var (
	plain = palette{
		quill.Finest:  "\033[37m",
		quill.Finer:   "\033[37m",
		quill.Fine:    "",
		quill.Config:  "\033[32m",
		quill.Info:    "\033[33m",
		quill.Warning: "\033[31m",
		quill.Severe:  "\033[1;31m",
	}
	dark256 = palette{
		quill.Finest:  "\033[38;5;240m",
		quill.Finer:   "\033[38;5;244m",
		quill.Fine:    "\033[38;5;248m",
		quill.Config:  "\033[32m",
		quill.Info:    "\033[33m",
		quill.Warning: "\033[31m",
		quill.Severe:  "\033[1;31m",
	}
	light256 = palette{
		quill.Finest:  "\033[38;5;248m",
		quill.Finer:   "\033[38;5;244m",
		quill.Fine:    "\033[38;5;240m",
		quill.Config:  "\033[32m",
		quill.Info:    "\033[33m",
		quill.Warning: "\033[31m",
		quill.Severe:  "\033[1;31m",
	}
)

const resetCode = "\033[0m"

// Sink writes "<time> [<level,width 7>] [<subsystem,width 8>] <message>"
// lines to an io.Writer (os.Stdout by default), wrapped in a palette's
// ANSI color codes when the output is a color-capable terminal.
type Sink struct {
	quill.BaseSink

	name    string
	w       io.Writer
	colored bool
	colors  palette
}

// New returns a stdout sink named "stdout" writing to a colorable wrapper
// of os.Stdout, with its palette selected by the current process
// environment (TERM, COLORFGBG), matching output_stream_stdout's
// constructor-time init_colors().
func New() *Sink {
	return NewWithWriter("", colorable.NewColorableStdout())
}

// NewWithWriter returns a stdout sink named name (defaulting to "stdout")
// writing to w. Color is auto-detected from the environment the same way
// as New; pass a non-TTY writer (e.g. a bytes.Buffer in a test) and
// DetectColor(false) afterwards to force plain output.
func NewWithWriter(name string, w io.Writer) *Sink {
	if name == "" {
		name = "stdout"
	}
	s := &Sink{name: name, w: w}
	s.SetMinLevel(quill.Finest)
	s.colored, s.colors = detectPalette()
	return s
}

// DetectColor overrides the sink's color decision, e.g. to force plain
// output in a test or when piping to a file.
func (s *Sink) DetectColor(on bool) {
	s.colored = on
	if on && s.colors == nil {
		s.colors = plain
	}
}

func (s *Sink) Name() string      { return s.name }
func (s *Sink) RetrySeconds() int { return 10 }
func (s *Sink) Close() error      { return nil }

func (s *Sink) Dump(w io.Writer) {
	fmt.Fprintf(w, "     min. log level: %s\n     color: %v\n", s.MinLevel(), s.colored)
}

// Write formats and writes one line for _e, returning false only if the
// underlying writer reports an error (mirrors do_write's m_stream.good()
// check).
func (s *Sink) Write(e quill.Event) bool {
	if !s.Admits(e.Level) {
		return true
	}

	subsystem := e.SubsystemName()
	if len(subsystem) < 8 {
		subsystem += strings.Repeat(" ", 8-len(subsystem))
	}
	line := fmt.Sprintf("%s [%-7s] [%s] %s", e.TimeString(), e.Level, subsystem, e.Message)

	var err error
	if s.colored {
		prefix := s.colors[e.Level]
		_, err = fmt.Fprintf(s.w, "%s%s%s\n", prefix, line, resetCode)
	} else {
		_, err = fmt.Fprintln(s.w, line)
	}
	return err == nil
}

// detectPalette mirrors output_stream_stdout::init_colors: color is
// off entirely unless running on a color-capable OS (here: assumed true,
// since github.com/mattn/go-colorable already handles the Windows-vs-Unix
// distinction for us); the 256-color palettes additionally require a TERM
// ending in "-256color" and, for the light variant, a COLORFGBG whose
// background component selects a light background.
func detectPalette() (bool, palette) {
	if color.NoColor {
		return false, plain
	}

	term := os.Getenv("TERM")
	if !strings.HasSuffix(term, "-256color") {
		return true, plain
	}

	colors := dark256
	fgbg := os.Getenv("COLORFGBG")
	if fgbg == "" {
		return true, colors
	}

	parts := strings.SplitN(fgbg, ";", 2)
	if len(parts) != 2 {
		return true, colors
	}
	fg, errFg := strconv.Atoi(strings.TrimSpace(parts[0]))
	bg, errBg := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errFg != nil || errBg != nil || fg < 0 || bg < 0 {
		return true, colors
	}
	if bg == 7 || bg > 9 {
		colors = light256
	}
	return true, colors
}
