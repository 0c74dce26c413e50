// Package transport implements the blocking TCP client the STOMP sink
// dials through (the AMQP and MQTT sinks use their client libraries' own
// connections instead): a plain TCP connection, optionally
// tunneled through an unauthenticated SOCKS5 proxy, optionally upgraded to
// TLS. Grounded on original_source/tcp_client_socket.cpp.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/user/quill/internal/obslog"
)

// socksReplyMessages maps a SOCKS5 reply status byte to a human-readable
// message, per RFC1928 section 6. The original looks this table up by
// the wrong byte of the reply (the reserved byte, connect_reply[2],
// instead of the status byte, connect_reply[1]) -- see DESIGN.md's Open
// Question on this discrepancy. This table is indexed correctly, by the
// status byte.
var socksReplyMessages = map[byte]string{
	0x00: "succeeded",
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// Error kinds surfaced by Socket, matching spec.md section 7's error
// table for C6.
var (
	ErrConnectFailed = errors.New("transport: connect failed")
	ErrWriteFailed   = errors.New("transport: write failed")
	ErrReadFailed    = errors.New("transport: read failed")
	ErrSocksFailed   = errors.New("transport: SOCKS5 handshake failed")
	ErrTLSFailed     = errors.New("transport: TLS handshake failed")
	ErrNotConnected  = errors.New("transport: not connected")
)

// SocksError wraps ErrSocksFailed with the server's reply message.
type SocksError struct {
	Code    byte
	Message string
}

func (e *SocksError) Error() string {
	return fmt.Sprintf("transport: SOCKS5 handshake failed: %s (code %#02x)", e.Message, e.Code)
}

func (e *SocksError) Unwrap() error { return ErrSocksFailed }

// Socket is a blocking TCP client with optional SOCKS5 tunneling and TLS
// upgrade, mirroring tcp_client_socket's capability set. It is safe for
// concurrent Read and Write from different goroutines (one reader, one
// writer), matching the STOMP sink's reader/writer goroutine split; it is
// not safe for concurrent Connect/Disconnect calls.
type Socket struct {
	host string
	port uint16

	useSocks  bool
	socksHost string
	socksPort uint16

	useTLS         bool
	selfSignedOK   bool

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

// New returns a Socket that will connect to host:port once Connect is
// called.
func New(host string, port uint16) *Socket {
	return &Socket{host: host, port: port}
}

// UseSocks redirects Connect's TCP target to the given SOCKS5 proxy;
// after the TCP handshake, Connect performs the unauthenticated SOCKS5
// CONNECT negotiation to the original host:port before returning.
func (s *Socket) UseSocks(host string, port uint16) {
	if host == "" {
		s.useSocks = false
		return
	}
	s.useSocks = true
	s.socksHost = host
	s.socksPort = port
}

// UseTLS enables a TLS upgrade once the (optionally SOCKS-tunneled) TCP
// connection is established. When acceptSelfSigned is true, a
// self-signed or otherwise-untrusted-root certificate is accepted as
// long as the chain is otherwise well-formed; any other verification
// failure is still rejected.
func (s *Socket) UseTLS(acceptSelfSigned bool) {
	s.useTLS = true
	s.selfSignedOK = acceptSelfSigned
}

// Connect dials the target (or the SOCKS proxy, if configured), performs
// the SOCKS5 negotiation and/or TLS handshake as configured, relying on
// net.Dialer's own dual-stack (Happy Eyeballs) address resolution rather
// than iterating getaddrinfo results by hand -- the stdlib dialer already
// implements exactly the "try each returned address, accept the first
// success" behavior the original's connect() hand-rolls.
func (s *Socket) Connect(ctx context.Context) error {
	host, port := s.host, s.port
	if s.useSocks {
		host, port = s.socksHost, s.socksPort
	}

	log := obslog.Named("transport")
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		log.Warn().Err(err).Str("host", host).Msg("connect failed")
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	log.Debug().Str("host", host).Int("port", int(port)).Msg("connected")

	s.mu.Lock()
	s.conn = conn
	s.br = bufio.NewReaderSize(conn, 1536)
	s.mu.Unlock()

	if s.useSocks {
		if err := s.startSocks(); err != nil {
			s.Disconnect()
			return err
		}
	}

	if s.useTLS {
		if err := s.startTLS(ctx); err != nil {
			s.Disconnect()
			return err
		}
	}

	return nil
}

// startSocks performs the unauthenticated SOCKS5 CONNECT handshake
// (version negotiation, then a domain-name CONNECT request to the
// original host:port), per RFC1928.
func (s *Socket) startSocks() error {
	hello := []byte{0x05, 0x01, 0x00}
	if err := s.rawWrite(hello); err != nil {
		return fmt.Errorf("%w: method negotiation: %v", ErrSocksFailed, err)
	}
	sel := make([]byte, 2)
	if err := s.rawReadFull(sel); err != nil {
		return fmt.Errorf("%w: method negotiation: %v", ErrSocksFailed, err)
	}
	if sel[0] != 0x05 || sel[1] != 0x00 {
		return fmt.Errorf("%w: server rejected unauthenticated method", ErrSocksFailed)
	}

	if len(s.host) > 255 {
		return fmt.Errorf("%w: host name too long for SOCKS request", ErrSocksFailed)
	}
	req := make([]byte, 0, 7+len(s.host))
	req = append(req, 0x05, 0x01, 0x00, 0x03, byte(len(s.host)))
	req = append(req, s.host...)
	req = append(req, byte(s.port>>8), byte(s.port&0xFF))
	if err := s.rawWrite(req); err != nil {
		return fmt.Errorf("%w: CONNECT request: %v", ErrSocksFailed, err)
	}

	reply := make([]byte, 10)
	if err := s.rawReadFull(reply); err != nil {
		return fmt.Errorf("%w: CONNECT reply: %v", ErrSocksFailed, err)
	}
	if reply[0] != 0x05 || reply[2] != 0x00 {
		return fmt.Errorf("%w: malformed reply", ErrSocksFailed)
	}
	if reply[1] != 0x00 {
		msg, ok := socksReplyMessages[reply[1]]
		if !ok {
			msg = "unknown SOCKS error"
		}
		return &SocksError{Code: reply[1], Message: msg}
	}
	obslog.Named("transport").Debug().Msg("SOCKS5 connection established")
	return nil
}

// startTLS upgrades the raw connection to TLS using the system trust
// roots, requiring TLS 1.2 or newer (the original explicitly disables
// SSLv2; Go's tls package never speaks SSLv2 or SSLv3 at all, and
// MinVersion additionally rejects TLS 1.0 and 1.1).
func (s *Socket) startTLS(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	cfg := &tls.Config{
		ServerName: s.host,
		MinVersion: tls.VersionTLS12,
	}
	if s.selfSignedOK {
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			return verifyAllowingSelfSigned(cs, s.host)
		}
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTLSFailed, err)
	}

	s.mu.Lock()
	s.conn = tlsConn
	s.br = bufio.NewReaderSize(tlsConn, 1536)
	s.mu.Unlock()
	obslog.Named("transport").Debug().Str("host", s.host).Msg("TLS connection established")
	return nil
}

// verifyAllowingSelfSigned re-runs certificate verification and accepts
// the result only if it failed purely because the chain terminates in an
// unknown (e.g. self-signed) root; any other failure is still rejected.
func verifyAllowingSelfSigned(cs tls.ConnectionState, host string) error {
	if len(cs.PeerCertificates) == 0 {
		return errors.New("transport: no peer certificate presented")
	}
	roots, _ := x509.SystemCertPool()
	if roots == nil {
		roots = x509.NewCertPool()
	}
	intermediates := x509.NewCertPool()
	for _, c := range cs.PeerCertificates[1:] {
		intermediates.AddCert(c)
	}
	_, err := cs.PeerCertificates[0].Verify(x509.VerifyOptions{
		DNSName:       host,
		Roots:         roots,
		Intermediates: intermediates,
	})
	if err == nil {
		return nil
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		obslog.Named("transport").Debug().Msg("accepting self-signed certificate")
		return nil
	}
	return err
}

// Read blocks until at least one byte is available and returns it,
// mirroring tcp_client_socket::read. Any read error, peer close included,
// is returned as an error wrapping ErrReadFailed; the underlying io.EOF
// appears only in its text and is not itself wrapped.
func (s *Socket) Read(buf []byte) (int, error) {
	s.mu.Lock()
	br := s.br
	s.mu.Unlock()
	if br == nil {
		return 0, ErrNotConnected
	}
	n, err := br.Read(buf)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return n, nil
}

// Write blocks until every byte of buf has been delivered to the kernel
// send buffer, matching tcp_client_socket::write's all-or-error contract.
func (s *Socket) Write(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	n, err := conn.Write(buf)
	if err != nil || n != len(buf) {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// SelectRead blocks until data is available to Read or timeout elapses,
// returning false on timeout. timeout == 0 waits forever, matching
// select_read's treatment of a zero timeout. Any already-buffered bytes
// (from bufio's own read-ahead, which plays the role of OpenSSL's
// SSL_pending for a buffered TLS stream) are reported immediately without
// touching the network.
func (s *Socket) SelectRead(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	conn := s.conn
	br := s.br
	s.mu.Unlock()
	if conn == nil || br == nil {
		return false, ErrNotConnected
	}
	if br.Buffered() > 0 {
		return true, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}
	defer conn.SetReadDeadline(time.Time{})

	_, err := br.Peek(1)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	return true, nil
}

// Disconnect closes the underlying connection, ignoring any error, since
// the caller wants to be rid of the connection unconditionally -- mirrors
// tcp_client_socket::disconnect.
func (s *Socket) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.br = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Connected reports whether the socket currently holds a live connection.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Socket) rawWrite(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	n, err := conn.Write(buf)
	if err != nil || n != len(buf) {
		return ErrWriteFailed
	}
	return nil
}

func (s *Socket) rawReadFull(buf []byte) error {
	s.mu.Lock()
	br := s.br
	s.mu.Unlock()
	if br == nil {
		return ErrNotConnected
	}
	_, err := readFull(br, buf)
	return err
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
