package timeutil

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	tm := time.Date(2026, 7, 31, 9, 5, 3, 123_000_000, time.UTC)
	got := FormatTime(tm.UTC())
	want := "2026-07-31 09:05:03.123"
	if got != want {
		t.Errorf("FormatTime = %q, want %q", got, want)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tm := time.Unix(1000, 7_000_000)
	got := FormatTimestamp(tm)
	want := "1000.007"
	if got != want {
		t.Errorf("FormatTimestamp = %q, want %q", got, want)
	}
}
