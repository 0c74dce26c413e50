package mqtt

import (
	"testing"

	"github.com/user/quill"
)

func TestNewRequiresBrokerURLAndTopic(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error when BrokerURL and Topic are both empty")
	}
	if _, err := New(Config{BrokerURL: "tcp://localhost:1883"}); err == nil {
		t.Fatal("expected an error when Topic is empty")
	}
	if _, err := New(Config{Topic: "quill/log"}); err == nil {
		t.Fatal("expected an error when BrokerURL is empty")
	}
}

func TestNewDefaultsClientIDAndClampsQoS(t *testing.T) {
	sink, err := New(Config{BrokerURL: "tcp://localhost:1883", Topic: "quill/log", QoS: 7})
	if err != nil {
		t.Fatal(err)
	}
	if sink.qos != 1 {
		t.Errorf("expected out-of-range QoS to clamp to 1, got %d", sink.qos)
	}
	if sink.opts.ClientID == "" {
		t.Error("expected a generated client id when none was supplied")
	}
}

func TestNewUsesTLSConfigForSecureSchemes(t *testing.T) {
	sink, err := New(Config{BrokerURL: "ssl://localhost:8883", Topic: "quill/log"})
	if err != nil {
		t.Fatal(err)
	}
	if sink.opts.TLSConfig.MinVersion == 0 {
		t.Error("expected a TLS config to be set for an ssl:// broker URL")
	}
}

func TestWriteBelowMinLevelNeverConnects(t *testing.T) {
	sink, err := New(Config{BrokerURL: "tcp://localhost:1883", Topic: "quill/log"})
	if err != nil {
		t.Fatal(err)
	}
	sink.SetMinLevel(quill.Warning)

	ok := sink.Write(quill.Event{Level: quill.Info, Message: "should be filtered"})
	if !ok {
		t.Fatal("Write of a below-threshold event should report success")
	}
	if sink.client != nil {
		t.Error("expected ensureClient to never run for a filtered event")
	}
}

func TestNameAndRetrySeconds(t *testing.T) {
	sink, err := New(Config{BrokerURL: "tcp://localhost:1883", Topic: "quill/log"})
	if err != nil {
		t.Fatal(err)
	}
	if sink.Name() != "mqtt: tcp://localhost:1883" {
		t.Errorf("unexpected Name(): %s", sink.Name())
	}
	if sink.RetrySeconds() != 15 {
		t.Errorf("expected RetrySeconds() == 15, got %d", sink.RetrySeconds())
	}
}
