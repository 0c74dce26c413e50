package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("QUILL_HOST", "broker.example.com")

	in := "url: stomp://${QUILL_HOST}:61613/LOG\ntopic: ${QUILL_TOPIC:-default.topic}"
	got := SubstituteEnvVars(in)
	want := "url: stomp://broker.example.com:61613/LOG\ntopic: default.topic"
	if got != want {
		t.Errorf("SubstituteEnvVars:\n got:  %q\n want: %q", got, want)
	}
}

func TestSubstituteEnvVarsLeavesUnsetWithoutDefault(t *testing.T) {
	os.Unsetenv("QUILL_UNSET_VAR")
	in := "${QUILL_UNSET_VAR}"
	if got := SubstituteEnvVars(in); got != in {
		t.Errorf("expected unresolved reference left untouched, got %q", got)
	}
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")

	cfg := &Config{
		Observability: ObservabilityConfig{MetricsAddr: ":9090", LogLevel: "info"},
		Subsystems: []SubsystemConfig{
			{Name: "core", MinLevel: "info"},
		},
		Sinks: []SinkConfig{
			{Name: "primary", Type: "stomp", MinLevel: "warning", URL: "stomp://localhost:61613/LOG"},
		},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Subsystems) != 1 || loaded.Subsystems[0].Name != "core" {
		t.Errorf("subsystems not round-tripped: %+v", loaded.Subsystems)
	}
	if len(loaded.Sinks) != 1 || loaded.Sinks[0].URL != "stomp://localhost:61613/LOG" {
		t.Errorf("sinks not round-tripped: %+v", loaded.Sinks)
	}
}

func TestLoadSubstitutesBeforeParsing(t *testing.T) {
	t.Setenv("QUILL_MIN_LEVEL", "warning")
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.yaml")
	body := "subsystems:\n  - name: core\n    min_level: ${QUILL_MIN_LEVEL}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Subsystems) != 1 || cfg.Subsystems[0].MinLevel != "warning" {
		t.Errorf("expected env substitution before YAML parse, got %+v", cfg.Subsystems)
	}
}
