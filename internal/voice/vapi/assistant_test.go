package vapi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const testScript = `name: Test Script
model:
  provider: openai
  model: gpt-4o-mini
system_prompt: Call reportStatus.
first_messages:
  en: "Hello {{name}}"
  es: "Hola {{name}}"
`

func TestDefaultScript(t *testing.T) {
	t.Parallel()

	s := DefaultScript()
	if s.Model.Provider == "" || s.SystemPrompt == "" {
		t.Fatalf("default script incomplete: %+v", s)
	}
	if !strings.Contains(s.SystemPrompt, "reportStatus") {
		t.Error("system prompt does not mention reportStatus")
	}
	for _, lang := range []string{"en", "es", "zh"} {
		if s.FirstMessages[lang] == "" {
			t.Errorf("missing first message for %s", lang)
		}
	}
}

func TestParseScript_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"valid", testScript, ""},
		{"unknown key", testScript + "colour: blue\n", "colour"},
		{"missing model", "system_prompt: x\nfirst_messages:\n  en: hi\n", "model.provider"},
		{"missing prompt", "model:\n  provider: openai\n  model: m\nfirst_messages:\n  en: hi\n", "system_prompt"},
		{"missing english", "model:\n  provider: openai\n  model: m\nsystem_prompt: x\nfirst_messages:\n  es: hola\n", "first_messages.en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseScript([]byte(tt.yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestScript_FirstMessage(t *testing.T) {
	t.Parallel()

	s, err := ParseScript([]byte(testScript))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		lang, name, want string
	}{
		{"en", "Maria", "Hello Maria"},
		{"es", "Maria", "Hola Maria"},
		{"es-MX", "Maria", "Hola Maria"},
		{"Spanish", "Maria", "Hola Maria"},
		{"fr", "Jean", "Hello Jean"},
		{"", "", "Hello there"},
	}
	for _, tt := range tests {
		if got := s.FirstMessage(tt.lang, tt.name); got != tt.want {
			t.Errorf("FirstMessage(%q, %q) = %q, want %q", tt.lang, tt.name, got, tt.want)
		}
	}
}

func TestLoadScript(t *testing.T) {
	t.Parallel()

	s, err := LoadScript("")
	if err != nil || s == nil {
		t.Fatalf("LoadScript(\"\") = %v, %v", s, err)
	}

	if _, err := LoadScript(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWatchScript_Reload(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "assistant.yaml")
	if err := os.WriteFile(path, []byte(testScript), 0o600); err != nil {
		t.Fatal(err)
	}

	w, err := WatchScript(ctx, path, log.Nop())
	if err != nil {
		t.Fatalf("WatchScript: %v", err)
	}
	if w.Current().Name != "Test Script" {
		t.Fatalf("initial name = %q", w.Current().Name)
	}

	// a broken file keeps the previous script
	if err := os.WriteFile(path, []byte("model: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if w.Current().Name != "Test Script" {
		t.Fatalf("name after bad write = %q", w.Current().Name)
	}

	updated := strings.Replace(testScript, "Test Script", "Updated Script", 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for w.Current().Name != "Updated Script" {
		if time.Now().After(deadline) {
			t.Fatalf("script not reloaded, name = %q", w.Current().Name)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if w.Reloads() < 1 {
		t.Errorf("reloads = %d", w.Reloads())
	}
}

func TestWatchScript_InvalidInitial(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "assistant.yaml")
	if err := os.WriteFile(path, []byte("nope: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := WatchScript(context.Background(), path, log.Nop()); err == nil {
		t.Fatal("expected error for invalid script")
	}
}
