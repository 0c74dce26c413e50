// Package linesplit turns a stream of byte chunks into complete lines,
// buffering a partial trailing line across calls. Used by the STOMP sink's
// reader goroutine to forward ERROR frame bodies one line at a time.
package linesplit

import "strings"

// Splitter accumulates a partial line across Feed calls and forwards each
// complete line (without its trailing '\n') to Sink.
type Splitter struct {
	active string
	Sink   func(line string)
}

// New returns a Splitter that calls sink for every complete line found.
func New(sink func(line string)) *Splitter {
	return &Splitter{Sink: sink}
}

// Feed processes _buf, forwarding every complete line it contains and
// buffering any trailing partial line for the next call.
func (s *Splitter) Feed(buf []byte) {
	data := string(buf)
	for {
		i := strings.IndexByte(data, '\n')
		if i == -1 {
			s.active += data
			return
		}
		s.Sink(s.active + data[:i])
		s.active = ""
		data = data[i+1:]
	}
}

// Flush forwards any buffered partial line, matching the original's
// destructor behavior of not silently dropping a trailing unterminated
// line.
func (s *Splitter) Flush() {
	if s.active != "" {
		s.Sink(s.active)
		s.active = ""
	}
}
