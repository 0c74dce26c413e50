// Package stomp implements a quill.Sink that publishes events as STOMP
// 1.1 SEND frames over a single long-lived connection. Grounded on
// original_source/output_stream_stomp.cpp, structurally patterned after
// the teacher's pkg/sink/mqtt/mqtt.go (lazy connect, context/select-based
// wait for an asynchronous reply) rather than a line-by-line port.
package stomp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/quill"
	"github.com/user/quill/internal/linesplit"
	"github.com/user/quill/internal/obslog"
	"github.com/user/quill/internal/urlutil"
	"github.com/user/quill/internal/xmlutil"
	"github.com/user/quill/pkg/transport"
)

const (
	handshakeTimeout = 5 * time.Second
	receiptTimeout   = 6 * time.Second
)

// reply is one parsed STOMP frame received by the reader goroutine.
type reply struct {
	command string
	headers map[string]string
	body    string
}

// Sink publishes each event as a STOMP SEND frame with an
// application/jms-map-xml body, to /topic/<path> on the configured
// broker. Connection state transitions Disconnected -> Connecting ->
// Connected exactly as in the original: a Write against a disconnected
// sink spawns a background connect attempt and returns false immediately,
// so the delivery worker routes the event (and everything behind it)
// through a retry worker until the connection comes up.
type Sink struct {
	quill.BaseSink

	appName      string
	url          urlutil.Info
	selfSignedOK bool
	socksHost    string
	socksPort    uint16
	host         string
	user         string
	levelStrings map[quill.Level]string
	sessionID    string

	mu         sync.Mutex
	connected  bool
	connecting bool
	connectDone chan struct{}
	sock       *transport.Socket

	receipt     uint64
	heartbeatMs int64

	replies chan reply
}

// New builds a Sink for appName, targeting rawURL (defaults:
// stomp://_:_@_:61613/LOG). Connection is established lazily on first
// Write, not here.
func New(appName, rawURL string) (*Sink, error) {
	info := urlutil.Info{Protocol: "stomp", Port: 61613, Path: "LOG"}
	if err := urlutil.Parse(rawURL, &info); err != nil {
		return nil, fmt.Errorf("stomp: %w", err)
	}
	if info.Protocol != "stomp" && info.Protocol != "stomp+ssl" {
		return nil, fmt.Errorf("stomp: only stomp and stomp+ssl protocols are supported, got %q", info.Protocol)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "/UNKNOWN/"
	}
	userName := "/UNKNOWN/"
	if u, err := user.Current(); err == nil && u.Username != "" {
		userName = u.Username
	}

	levelStrings := make(map[quill.Level]string, len(quill.AllLevels()))
	for _, l := range quill.AllLevels() {
		levelStrings[l] = strings.ToUpper(strings.ReplaceAll(l.String(), " ", ""))
	}

	s := &Sink{
		appName:      xmlutil.Sanitize(appName),
		url:          info,
		selfSignedOK: false,
		host:         xmlutil.Sanitize(hostname),
		user:         xmlutil.Sanitize(userName),
		levelStrings: levelStrings,
		sessionID:    uuid.NewString(),
		replies:      make(chan reply, 8),
	}
	s.SetMinLevel(quill.Finest)
	return s, nil
}

// UseSocks routes the STOMP connection through a SOCKS5 proxy at
// host:port. Must be called before the first Write.
func (s *Sink) UseSocks(host string, port uint16) {
	s.socksHost = host
	s.socksPort = port
}

// AcceptSelfSigned allows the TLS handshake (stomp+ssl only) to accept a
// self-signed certificate.
func (s *Sink) AcceptSelfSigned(ok bool) {
	s.selfSignedOK = ok
}

// Name identifies the sink for DumpConfiguration and default sink-map
// registration, matching output_stream_stomp::name.
func (s *Sink) Name() string {
	return "stomp: " + s.url.Host
}

// RetrySeconds returns 2 while a connection attempt is outstanding (fast
// retry during startup) and 30 once steady-state, matching
// output_stream_stomp::retry_time.
func (s *Sink) RetrySeconds() int {
	s.mu.Lock()
	connecting := s.connecting
	s.mu.Unlock()
	if connecting {
		return 2
	}
	return 30
}

func (s *Sink) Dump(w io.Writer) {
	fmt.Fprintf(w, "     min. log level: %s\n     destination: /topic/%s on %s:%d\n",
		s.MinLevel(), s.url.Path, s.url.Host, s.url.Port)
}

// Close tears down any live connection. Safe to call even when
// disconnected.
func (s *Sink) Close() error {
	s.disconnect()
	return nil
}

// connectedForTest reports the current connection state. Exported only
// to this package's tests, which need to observe the Connected ->
// Disconnected transition directly rather than through Write's retry
// semantics.
func (s *Sink) connectedForTest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// connect implements the Disconnected/Connecting/Connected state machine:
// if already connected, returns true immediately; if a connect attempt is
// in flight, returns false unless it has just finished (in which case the
// outcome is adopted and reported); otherwise starts a new attempt in the
// background and returns false, exactly like output_stream_stomp::connect.
func (s *Sink) connect() bool {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return true
	}
	if s.connecting {
		done := s.connectDone
		s.mu.Unlock()
		select {
		case <-done:
			s.mu.Lock()
			s.connecting = false
			ok := s.connected
			s.mu.Unlock()
			return ok
		default:
			return false
		}
	}
	s.connecting = true
	s.connectDone = make(chan struct{})
	s.mu.Unlock()

	go s.connectThread()
	return false
}

func (s *Sink) finishConnect(ok bool) {
	s.mu.Lock()
	s.connected = ok
	done := s.connectDone
	s.mu.Unlock()
	close(done)
}

func (s *Sink) disconnect() {
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.connected = false
	s.mu.Unlock()
	if sock != nil {
		sock.Disconnect()
	}
}

func (s *Sink) connectThread() {
	log := obslog.Named("stomp").With().Str("session", s.sessionID).Logger()

	sock := transport.New(s.url.Host, s.url.Port)
	if s.url.Protocol == "stomp+ssl" {
		sock.UseTLS(s.selfSignedOK)
	}
	if s.socksHost != "" {
		sock.UseSocks(s.socksHost, s.socksPort)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := sock.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("connection failed")
		s.finishConnect(false)
		return
	}

	var b strings.Builder
	b.WriteString("CONNECT\naccept-version:1.1\nheart-beat:0,5000\nhost:")
	b.WriteString(s.url.Host)
	b.WriteByte('\n')
	if s.url.Login != "" {
		fmt.Fprintf(&b, "login:%s\npasscode:%s\n", s.url.Login, s.url.Password)
	}
	b.WriteByte('\n')
	packet := b.String() + "\x00"

	if err := sock.Write([]byte(packet)); err != nil {
		log.Warn().Err(err).Msg("CONNECT write failed")
		sock.Disconnect()
		s.finishConnect(false)
		return
	}

	log.Debug().Msg("starting reader goroutine")
	go s.readerLoop(sock)

	rep, ok := s.waitReply(handshakeTimeout)
	if !ok {
		log.Warn().Msg("STOMP handshake timed out")
		sock.Disconnect()
		s.finishConnect(false)
		return
	}
	if rep.command != "CONNECTED" {
		log.Warn().Str("command", rep.command).Msg("unexpected reply to CONNECT")
		sock.Disconnect()
		s.finishConnect(false)
		return
	}
	if ver := rep.headers["version"]; ver != "1.1" {
		log.Warn().Str("version", ver).Msg("unsupported STOMP server version")
		sock.Disconnect()
		s.finishConnect(false)
		return
	}

	sx, ok := parseHeartbeat(rep.headers["heart-beat"])
	if !ok {
		log.Warn().Str("heart-beat", rep.headers["heart-beat"]).Msg("cannot parse heart-beat header")
		sock.Disconnect()
		s.finishConnect(false)
		return
	}
	atomic.StoreInt64(&s.heartbeatMs, sx)
	if sx > 0 {
		log.Debug().Int64("heartbeat_ms", sx).Msg("heartbeat negotiated")
	}

	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	s.finishConnect(true)
}

// parseHeartbeat validates a CONNECTED frame's heart-beat header
// "<sx>,<sy>" and returns sx (the server's own heartbeat interval in
// milliseconds). sy (the server-requested client-to-server heartbeat)
// must be 0, since this client never sends heartbeats -- a nonzero sy is
// unsupported and rejected, matching output_stream_stomp::parse_heartbeat.
// A missing header is treated as "no heartbeat" (sx=0), also matching
// the original.
func parseHeartbeat(hb string) (int64, bool) {
	if hb == "" {
		return 0, true
	}
	comma := strings.IndexByte(hb, ',')
	if comma == -1 {
		return 0, false
	}
	sy := hb[comma+1:]
	if sy != "0" {
		return 0, false
	}
	sx, err := strconv.ParseInt(hb[:comma], 10, 64)
	if err != nil {
		return 0, false
	}
	return sx, true
}

// waitReply blocks for the next frame from the reader goroutine, up to
// timeout.
func (s *Sink) waitReply(timeout time.Duration) (reply, bool) {
	select {
	case r := <-s.replies:
		return r, true
	case <-time.After(timeout):
		return reply{}, false
	}
}

// Write publishes _e as a SEND frame and blocks for its RECEIPT,
// matching output_stream_stomp::do_write.
func (s *Sink) Write(e quill.Event) bool {
	if !s.Admits(e.Level) {
		return true
	}

	if !s.connect() {
		return false
	}

	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return false
	}

	s.mu.Lock()
	s.receipt++
	n := s.receipt
	s.mu.Unlock()

	body := fmt.Sprintf("<map>\n"+
		"<entry><string>APPLICATION-ID</string><string>%s</string></entry>\n"+
		"<entry><string>CREATETIME</string><string>%s</string></entry>\n"+
		"<entry><string>HOST</string><string>%s</string></entry>\n"+
		"<entry><string>NAME</string><string>%s</string></entry>\n"+
		"<entry><string>SEVERITY</string><string>%s</string></entry>\n"+
		"<entry><string>TEXT</string><string>%s</string></entry>\n"+
		"<entry><string>TYPE</string><string>log</string></entry>\n"+
		"<entry><string>USER</string><string>%s</string></entry>\n"+
		"<entry><string>CLASS</string><string>%s</string></entry>\n"+
		"</map>\n",
		s.appName,
		xmlutil.Sanitize(e.TimeString()),
		s.host,
		xmlutil.Sanitize(e.Function),
		s.levelStrings[e.Level],
		xmlutil.Sanitize(e.Message),
		s.user,
		xmlutil.Sanitize(e.SubsystemName()),
	)

	header := fmt.Sprintf("SEND\ndestination:/topic/%s\ntransformation:jms-map-xml\nreceipt:%d\n\n",
		s.url.Path, n)
	packet := header + body + "\x00"

	log := obslog.Named("stomp")
	if err := sock.Write([]byte(packet)); err != nil {
		log.Warn().Err(err).Msg("SEND write failed")
		s.disconnect()
		return false
	}

	rep, ok := s.waitReply(receiptTimeout)
	if !ok {
		log.Warn().Msg("receipt timeout")
		s.disconnect()
		return false
	}
	if rep.command != "RECEIPT" {
		// an ERROR frame has already been logged by the reader.
		s.disconnect()
		return false
	}
	if rep.headers["receipt-id"] != strconv.FormatUint(n, 10) {
		log.Warn().Str("receipt-id", rep.headers["receipt-id"]).Msg("receipt-id mismatch")
		s.disconnect()
		return false
	}
	return true
}

// readerLoop reads frames off sock until a heartbeat is missed or the
// connection fails, handing each complete frame to handleFrame. Mirrors
// output_stream_stomp::reader_thread, minus the manual pointer arithmetic
// -- Go's slices and bytes.Buffer do the equivalent job.
func (s *Sink) readerLoop(sock *transport.Socket) {
	log := obslog.Named("stomp")
	buf := make([]byte, 1536)
	var partial bytes.Buffer

	for {
		// hbMs is 0 until the handshake has stored the negotiated value
		// (and stays 0 when the server sends no heartbeats): poll with a
		// short timeout then, so a newly negotiated interval takes effect.
		hbMs := atomic.LoadInt64(&s.heartbeatMs)
		timeout := 100 * time.Millisecond
		if hbMs > 0 {
			timeout = time.Duration(float64(hbMs)*1.5) * time.Millisecond
		}

		ok, err := sock.SelectRead(timeout)
		if err != nil {
			log.Warn().Err(err).Msg("reader: select failed")
			s.disconnect()
			return
		}
		if !ok {
			if hbMs == 0 {
				continue
			}
			log.Warn().Msg("reader: heartbeat lost")
			s.disconnect()
			return
		}

		n, err := sock.Read(buf)
		if err != nil || n == 0 {
			log.Warn().Msg("reader: connection closed")
			s.disconnect()
			return
		}

		data := buf[:n]
		for len(data) > 0 {
			if partial.Len() == 0 {
				i := 0
				for i < len(data) && data[i] == '\n' {
					i++
				}
				data = data[i:]
				if len(data) == 0 {
					break
				}
			}
			nul := bytes.IndexByte(data, 0)
			if nul == -1 {
				partial.Write(data)
				break
			}
			partial.Write(data[:nul])
			frame := partial.String()
			partial.Reset()
			if !s.handleFrame(frame) {
				s.disconnect()
				return
			}
			data = data[nul+1:]
		}
	}
}

// handleFrame parses one complete STOMP frame (command line, headers,
// blank line, body) and enqueues it for the writer side. ERROR frames are
// additionally logged locally, matching output_stream_stomp::handle_reply.
func (s *Sink) handleFrame(frame string) bool {
	nl := strings.IndexByte(frame, '\n')
	if nl == -1 {
		return false
	}
	cmd := frame[:nl]
	rest := frame[nl+1:]

	headers := make(map[string]string)
	for {
		nl2 := strings.IndexByte(rest, '\n')
		if nl2 == -1 {
			return false
		}
		if nl2 == 0 {
			rest = rest[1:]
			break
		}
		line := rest[:nl2]
		rest = rest[nl2+1:]
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			return false
		}
		key, val := line[:colon], line[colon+1:]
		if _, exists := headers[key]; !exists {
			headers[key] = val
		}
	}

	r := reply{command: cmd, headers: headers, body: rest}

	if cmd == "ERROR" {
		log := obslog.Named("stomp")
		msg := "ERROR from server"
		if m, ok := headers["message"]; ok {
			msg += ": " + m
		}
		log.Warn().Msg(msg)
		ls := linesplit.New(func(line string) { log.Debug().Msg(line) })
		ls.Feed([]byte(r.body))
		ls.Flush()
	}

	select {
	case s.replies <- r:
	default:
		// writer side hasn't consumed the previous reply (should not
		// happen in normal operation, since at most one SEND/CONNECT is
		// outstanding at a time); drop the oldest rather than block the
		// reader goroutine forever.
		select {
		case <-s.replies:
		default:
		}
		s.replies <- r
	}
	return true
}
