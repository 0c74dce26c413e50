// Package timeutil provides the two timestamp formatters events and file
// sinks need: a human-readable form and a filesystem-safe form.
package timeutil

import (
	"fmt"
	"sync/atomic"
	"time"
)

// utcMode, when set, makes FormatTime render in UTC with a trailing " GMT"
// marker instead of unmarked local time.
var utcMode atomic.Bool

// SetUTC selects whether FormatTime renders local time (the default) or
// UTC with a " GMT" suffix, mirroring the original's g_useGMT switch.
func SetUTC(on bool) {
	utcMode.Store(on)
}

// FormatTime renders _t as "YYYY-MM-DD HH:MM:SS.mmm", in local time unless
// SetUTC(true) was called, in which case it is rendered in UTC with a
// trailing " GMT".
func FormatTime(t time.Time) string {
	if utcMode.Load() {
		return t.UTC().Format("2006-01-02 15:04:05.000") + " GMT"
	}
	return t.Format("2006-01-02 15:04:05.000")
}

// FormatTimestamp renders _t as "<epoch-seconds>.<ms>", suitable for use in
// a filename (e.g. archived rotated log files).
func FormatTimestamp(t time.Time) string {
	ms := t.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("%d.%03d", t.Unix(), ms)
}
