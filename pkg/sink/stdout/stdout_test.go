package stdout

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/user/quill"
)

func TestWriteFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithWriter("stdout", &buf)
	s.DetectColor(false)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ok := s.Write(quill.Event{Level: quill.Warning, Message: "disk full", Time: ts})
	if !ok {
		t.Fatal("Write returned false")
	}

	got := buf.String()
	if !strings.Contains(got, "warning") {
		t.Errorf("missing level: %q", got)
	}
	if !strings.Contains(got, "disk full") {
		t.Errorf("missing message: %q", got)
	}
}

func TestWriteWithColorWrapsEntireLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithWriter("stdout", &buf)
	s.DetectColor(true)

	s.Write(quill.Event{Level: quill.Severe, Message: "boom", Time: time.Now()})
	got := buf.String()
	if !strings.HasPrefix(got, "\033[") {
		t.Errorf("expected line to start with an ANSI escape, got %q", got)
	}
	if !strings.Contains(got, "\033[0m") {
		t.Errorf("expected line to end with a reset code, got %q", got)
	}
}

func TestWriteBelowMinLevelNeverTouchesWriter(t *testing.T) {
	var buf bytes.Buffer
	s := NewWithWriter("stdout", &buf)
	s.DetectColor(false)
	s.SetMinLevel(quill.Warning)

	ok := s.Write(quill.Event{Level: quill.Info, Message: "should be filtered", Time: time.Now()})
	if !ok {
		t.Fatal("Write of a below-threshold event should report success")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written to the underlying writer, got %q", buf.String())
	}
}

func TestNameDefaultsToStdout(t *testing.T) {
	s := NewWithWriter("", &bytes.Buffer{})
	if s.Name() != "stdout" {
		t.Errorf("expected default name 'stdout', got %q", s.Name())
	}
}
