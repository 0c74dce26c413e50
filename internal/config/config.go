// Package config loads the YAML file that describes which subsystems and
// sinks a quillctl-driven process should run, grounded on the teacher's
// internal/config/config.go (YAML-first decode with environment variable
// substitution, kept as a repo-internal concern of the CLI rather than
// the quill library itself).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a quillctl config file.
type Config struct {
	Observability ObservabilityConfig `yaml:"observability"`
	Subsystems    []SubsystemConfig   `yaml:"subsystems"`
	Sinks         []SinkConfig        `yaml:"sinks"`
}

// ObservabilityConfig controls the library's own internal diagnostics,
// separate from the quill.Event pipeline it instruments.
type ObservabilityConfig struct {
	// MetricsAddr is a listen address such as ":9090". It is decoded and
	// saved with the file; quillctl does not read it and serves no
	// /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
	// LogLevel is a zerolog level name such as "debug" or "info". It is
	// decoded and saved with the file; nothing applies it to the internal
	// diagnostic logger, which logs at every level.
	LogLevel string `yaml:"log_level"`
}

// SubsystemConfig registers one logging subsystem and its minimum level.
type SubsystemConfig struct {
	Name     string `yaml:"name"`
	MinLevel string `yaml:"min_level"`
}

// SinkConfig describes one sink to construct and register. Type selects
// which pkg/sink/* constructor is used; the remaining fields are
// interpreted according to Type and left zero-valued otherwise.
type SinkConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // stdout, file, stomp, amqp, mqtt
	MinLevel string `yaml:"min_level"`

	// file
	Path        string `yaml:"path,omitempty"`
	MaxSizeMB   int    `yaml:"max_size_mb,omitempty"`
	MaxBackups  int    `yaml:"max_backups,omitempty"`

	// stomp, amqp, mqtt
	URL   string `yaml:"url,omitempty"`
	Topic string `yaml:"topic,omitempty"` // amqp exchange / mqtt topic

	// stomp only
	SocksHost        string `yaml:"socks_host,omitempty"`
	SocksPort        uint16 `yaml:"socks_port,omitempty"`
	AcceptSelfSigned bool   `yaml:"accept_self_signed,omitempty"`

	// mqtt only
	ClientID     string `yaml:"client_id,omitempty"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	QoS          byte   `yaml:"qos,omitempty"`
	Retain       bool   `yaml:"retain,omitempty"`
	CleanSession bool   `yaml:"clean_session,omitempty"`
}

// Load reads and decodes the config file at path, substituting
// ${VAR}/${VAR:-default} environment references before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	content := SubstituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} with the environment value of VAR,
// or ${VAR:-default} with default when VAR is unset. References to
// variables that are unset and carry no default are left untouched.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
