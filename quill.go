// Package quill is a process-embedded, asynchronous, structured logging
// library. Application code submits events through the package-level
// facade; a background delivery pipeline fans them out to pluggable sinks
// without blocking the caller.
package quill

import (
	"errors"
	"io"
	"strings"
	"time"
)

// Level is the severity of a log event, ordered ascending.
type Level int

const (
	Finest Level = iota
	Finer
	Fine
	Config
	Info
	Warning
	Severe
)

var levelNames = map[Level]string{
	Finest:  "finest",
	Finer:   "finer",
	Fine:    "fine",
	Config:  "config",
	Info:    "info",
	Warning: "warning",
	Severe:  "severe",
}

// String returns the canonical lower-case name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// LevelByName returns the Level whose name matches _name, or ok=false.
func LevelByName(name string) (Level, bool) {
	for l, n := range levelNames {
		if n == name {
			return l, true
		}
	}
	return 0, false
}

// AllLevels returns every level, ordered from least to most severe.
func AllLevels() []Level {
	return []Level{Finest, Finer, Fine, Config, Info, Warning, Severe}
}

// SubsystemID identifies a registered logging subsystem.
type SubsystemID uint

// ErrUnknownSubsystem is returned by FindSubsystem when no subsystem has
// been registered under the requested name.
var ErrUnknownSubsystem = errors.New("quill: unknown subsystem")

// Event is a single log record as delivered to sinks.
type Event struct {
	Level     Level
	Subsystem SubsystemID
	Message   string
	Function  string
	Time      time.Time
	subsystem string // resolved name, filled in by Log at submission
	timeStr   string // rendered once by the delivery worker, shared by every sink
}

// SubsystemName returns the human-readable subsystem name this event was
// logged under. Only valid once the event has passed through the delivery
// worker (i.e. inside a Sink's Write).
func (e Event) SubsystemName() string {
	return e.subsystem
}

// TimeString returns Time rendered as "YYYY-MM-DD HH:MM:SS.mmm" (see
// internal/timeutil.FormatTime), computed once by the delivery worker
// before fanout so every sink renders the identical string for a given
// event rather than each formatting it independently. Only valid once
// the event has passed through the delivery worker.
func (e Event) TimeString() string {
	return e.timeStr
}

// Sink is a pluggable delivery target for log events. Write must not block
// indefinitely; a sink that cannot currently accept an event should return
// false promptly so the delivery worker can hand the event to a retry
// worker instead of stalling the whole pipeline.
type Sink interface {
	// Name identifies the sink, e.g. for DumpConfiguration output and as
	// the default registry key.
	Name() string
	// Write delivers one event. It returns false on failure; the caller
	// is then responsible for retrying.
	Write(Event) bool
	// RetrySeconds is the delay a retry worker sleeps between delivery
	// attempts for this sink.
	RetrySeconds() int
	// MinLevel is the minimum level this sink currently accepts.
	MinLevel() Level
	// SetMinLevel changes the minimum level accepted by the sink.
	SetMinLevel(Level)
	// Close releases any resources held by the sink (connections, open
	// files). RemoveSink calls it once; Shutdown does not close sinks.
	Close() error
	// Dump writes a human-readable one- or two-line configuration summary
	// to w, mirroring output_stream::dump.
	Dump(w io.Writer)
}

// baseSink implements the MinLevel/SetMinLevel bookkeeping shared by every
// concrete sink, mirroring output_stream's m_minLogLevel field.
type baseSink struct {
	minLevel Level
}

func (b *baseSink) MinLevel() Level     { return b.minLevel }
func (b *baseSink) SetMinLevel(l Level) { b.minLevel = l }

// Admits reports whether l meets the sink's configured minimum level. A
// concrete sink's Write checks this first and returns true (as if
// delivered) for an event that doesn't, mirroring output_stream::do_write's
// own "below m_minLogLevel, nothing to do" short-circuit.
func (b *baseSink) Admits(l Level) bool { return l >= b.minLevel }

// BaseSink exposes the shared min-level gating logic so concrete sink
// packages (stdout, file, stomp, amqp, mqtt) don't each reimplement it.
type BaseSink = baseSink

func normalizeSubsystemName(name string) string {
	return strings.TrimSpace(name)
}
