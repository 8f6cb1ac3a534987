package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name string `yaml:"name"`
	Port int    `yaml:"port"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("ANKIPORT_TEST_NAME", "deck")
	path := writeConfig(t, "name: ${ANKIPORT_TEST_NAME}\nport: ${ANKIPORT_TEST_PORT:-8080}\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "deck" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadRunsValidation(t *testing.T) {
	path := writeConfig(t, "name: x\nport: 0\n")
	var s sample
	if err := Load(path, &s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadOptionalMissingFileKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("defaults overwritten: %+v", s)
	}

	var bad sample
	if err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &bad); err == nil {
		t.Fatal("defaults are still validated")
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("ANKIPORT_SET", "v")
	tests := map[string]string{
		"$ANKIPORT_SET":               "v",
		"${ANKIPORT_SET:-x}":          "v",
		"${ANKIPORT_UNSET:-fallback}": "fallback",
		"${ANKIPORT_UNSET}":           "",
	}
	for in, want := range tests {
		if got := Expand(in); got != want {
			t.Errorf("Expand(%q) = %q, want %q", in, got, want)
		}
	}
}
