// Package amqp implements a quill.Sink that publishes events to a topic
// exchange via github.com/rabbitmq/amqp091-go, grounded on the teacher's
// pkg/sink/rabbitmq/rabbitmq_queue.go (Dial/Channel/PublishWithContext
// lifecycle), adapted from a durable-queue sink to a topic-exchange one
// since a log fan-out naturally has multiple independent consumers.
package amqp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	rabbitmq "github.com/rabbitmq/amqp091-go"

	"github.com/user/quill"
)

// Sink publishes each event as a JSON body to a topic exchange, with the
// routing key derived from the event's level (e.g. "log.warning").
type Sink struct {
	quill.BaseSink

	url      string
	exchange string

	mu   sync.Mutex
	conn *rabbitmq.Connection
	ch   *rabbitmq.Channel
}

// New dials url and declares exchange as a durable topic exchange. The
// connection is kept open for the sink's lifetime; Write redials lazily
// if the connection has dropped.
func New(url, exchange string) (*Sink, error) {
	if exchange == "" {
		exchange = "quill.log"
	}
	s := &Sink{url: url, exchange: exchange}
	s.SetMinLevel(quill.Finest)
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) connect() error {
	conn, err := rabbitmq.Dial(s.url)
	if err != nil {
		return fmt.Errorf("amqp: failed to connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp: failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		s.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("amqp: failed to declare exchange: %w", err)
	}

	s.mu.Lock()
	s.conn, s.ch = conn, ch
	s.mu.Unlock()
	return nil
}

func (s *Sink) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.conn.IsClosed()
}

func (s *Sink) Name() string      { return "amqp: " + s.exchange }
func (s *Sink) RetrySeconds() int { return 20 }

// Write publishes e to the topic exchange under routing key
// "log.<level>", returning false (caller retries) on any connection or
// publish error, redialing first if the connection dropped since the
// last call.
func (s *Sink) Write(e quill.Event) bool {
	if !s.Admits(e.Level) {
		return true
	}

	if !s.connected() {
		if err := s.connect(); err != nil {
			return false
		}
	}

	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return false
	}

	body := fmt.Sprintf(`{"time":%q,"level":%q,"subsystem":%q,"message":"%s"}`,
		e.TimeString(), e.Level.String(), e.SubsystemName(), jsonEscape(e.Message))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := ch.PublishWithContext(ctx,
		s.exchange,
		"log."+e.Level.String(),
		false,
		false,
		rabbitmq.Publishing{
			ContentType:  "application/json",
			Body:         []byte(body),
			DeliveryMode: rabbitmq.Persistent,
			Timestamp:    e.Time,
		},
	)
	return err == nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *Sink) Dump(w io.Writer) {
	fmt.Fprintf(w, "     min. log level: %s\n     exchange: %s\n     connected: %v\n", s.MinLevel(), s.exchange, s.connected())
}

// jsonEscape escapes the minimal set of characters that would otherwise
// break the hand-built JSON body above.
func jsonEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
