// Package mqtt implements a quill.Sink that publishes events to an MQTT
// topic via Eclipse Paho. Adapted from the teacher's own
// pkg/sink/mqtt/mqtt.go (lazy client construction, context-aware publish
// wait), supplemental to the core STOMP sink per SPEC_FULL.md's C9.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/user/quill"
)

// Sink publishes each event as a one-line text payload to a fixed MQTT
// topic, using a single lazily-established client connection shared
// across writes.
type Sink struct {
	quill.BaseSink

	brokerURL string
	topic     string
	qos       byte
	retain    bool

	opts   *paho.ClientOptions
	client paho.Client
}

// Config holds the connection parameters for New, mirroring the
// teacher's map[string]string-driven constructor but with named fields
// (quill's config package fills this from YAML instead of a raw map).
type Config struct {
	BrokerURL            string
	Topic                string
	ClientID             string
	Username, Password   string
	QoS                  byte
	Retain               bool
	CleanSession         bool
	KeepAlive            time.Duration
	TLSInsecureSkipVerify bool
}

// New builds an MQTT sink from cfg. The client is not connected until
// the first Write.
func New(cfg Config) (*Sink, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("mqtt: broker URL is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt: topic is required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "quill-" + uuid.NewString()
	}

	opts := paho.NewClientOptions().AddBroker(cfg.BrokerURL).SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cleanSession := cfg.CleanSession
	opts.SetCleanSession(cleanSession)

	keepAlive := cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30 * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if strings.HasPrefix(cfg.BrokerURL, "ssl://") || strings.HasPrefix(cfg.BrokerURL, "tls://") ||
		strings.HasPrefix(cfg.BrokerURL, "wss://") {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if roots, err := x509.SystemCertPool(); err == nil && roots != nil {
			tlsCfg.RootCAs = roots
		}
		tlsCfg.InsecureSkipVerify = cfg.TLSInsecureSkipVerify
		opts.SetTLSConfig(tlsCfg)
	}

	qos := cfg.QoS
	if qos > 2 {
		qos = 1
	}

	s := &Sink{
		brokerURL: cfg.BrokerURL,
		topic:     cfg.Topic,
		qos:       qos,
		retain:    cfg.Retain,
		opts:      opts,
	}
	s.SetMinLevel(quill.Finest)
	return s, nil
}

func (s *Sink) Name() string      { return "mqtt: " + s.brokerURL }
func (s *Sink) RetrySeconds() int { return 15 }

func (s *Sink) ensureClient() error {
	if s.client != nil && s.client.IsConnectionOpen() {
		return nil
	}
	c := paho.NewClient(s.opts)
	token := c.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}
	s.client = c
	return nil
}

// Write publishes _e as a single-line payload, waiting for the broker's
// PUBACK (for QoS > 0) before reporting success, matching the sink
// contract's "false means transient failure, caller retries" semantics.
func (s *Sink) Write(e quill.Event) bool {
	if !s.Admits(e.Level) {
		return true
	}

	if err := s.ensureClient(); err != nil {
		return false
	}

	payload := fmt.Sprintf("%s [%s] [%s] %s", e.TimeString(), e.Level, e.SubsystemName(), e.Message)
	token := s.client.Publish(s.topic, s.qos, s.retain, payload)

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error() == nil
	case <-time.After(10 * time.Second):
		return false
	}
}

func (s *Sink) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
		s.client = nil
	}
	return nil
}

func (s *Sink) Dump(w io.Writer) {
	fmt.Fprintf(w, "     min. log level: %s\n     broker: %s\n     topic: %s\n", s.MinLevel(), s.brokerURL, s.topic)
}
