package main

import (
	"fmt"

	"github.com/user/quill"
	"github.com/user/quill/internal/config"
	"github.com/user/quill/pkg/sink/amqp"
	"github.com/user/quill/pkg/sink/file"
	"github.com/user/quill/pkg/sink/mqtt"
	"github.com/user/quill/pkg/sink/stdout"
	"github.com/user/quill/pkg/sink/stomp"
)

// buildFromConfig registers cfg's subsystems and sinks against the
// quill package-level facade, returning the constructed sinks so the
// caller can Close them on exit.
func buildFromConfig(cfg *config.Config) ([]quill.Sink, error) {
	for _, sc := range cfg.Subsystems {
		id := quill.Register(sc.Name)
		if sc.MinLevel != "" {
			level, ok := quill.LevelByName(sc.MinLevel)
			if !ok {
				return nil, fmt.Errorf("subsystem %q: unknown min_level %q", sc.Name, sc.MinLevel)
			}
			quill.SetSubsystemMinLevel(id, level)
		}
	}

	var built []quill.Sink
	for _, sk := range cfg.Sinks {
		sink, err := buildSink(sk)
		if err != nil {
			for _, b := range built {
				b.Close()
			}
			return nil, fmt.Errorf("sink %q: %w", sk.Name, err)
		}
		if sk.MinLevel != "" {
			level, ok := quill.LevelByName(sk.MinLevel)
			if !ok {
				return nil, fmt.Errorf("sink %q: unknown min_level %q", sk.Name, sk.MinLevel)
			}
			sink.SetMinLevel(level)
		}
		quill.AddSink(sink, sk.Name)
		built = append(built, sink)
	}
	return built, nil
}

func buildSink(sk config.SinkConfig) (quill.Sink, error) {
	switch sk.Type {
	case "stdout":
		return stdout.New(), nil
	case "file":
		f, err := file.New(sk.Path, int64(sk.MaxSizeMB)*1024*1024)
		if err != nil {
			return nil, err
		}
		if sk.MaxBackups > 0 {
			f.SetMaxBackups(sk.MaxBackups)
		}
		return f, nil
	case "stomp":
		s, err := stomp.New(sk.Name, sk.URL)
		if err != nil {
			return nil, err
		}
		if sk.SocksHost != "" {
			s.UseSocks(sk.SocksHost, sk.SocksPort)
		}
		s.AcceptSelfSigned(sk.AcceptSelfSigned)
		return s, nil
	case "amqp":
		return amqp.New(sk.URL, sk.Topic)
	case "mqtt":
		return mqtt.New(mqtt.Config{
			BrokerURL:    sk.URL,
			Topic:        sk.Topic,
			ClientID:     sk.ClientID,
			Username:     sk.Username,
			Password:     sk.Password,
			QoS:          sk.QoS,
			Retain:       sk.Retain,
			CleanSession: sk.CleanSession,
		})
	default:
		return nil, fmt.Errorf("unknown sink type %q", sk.Type)
	}
}
