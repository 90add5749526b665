package vapi

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"
)

//go:embed assistant.yaml
var defaultScript []byte

const defaultLanguage = "en"

// Script is the assistant configuration sent with every outbound call.
type Script struct {
	Name  string `yaml:"name"`
	Model struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"model"`
	Voice struct {
		Provider string `yaml:"provider"`
		VoiceID  string `yaml:"voice_id"`
	} `yaml:"voice"`
	MaxDurationSeconds int               `yaml:"max_duration_seconds"`
	SystemPrompt       string            `yaml:"system_prompt"`
	FirstMessages      map[string]string `yaml:"first_messages"`
	EndCallPhrases     []string          `yaml:"end_call_phrases"`
}

// FirstMessage returns the greeting for lang (falling back to English) with the
// resident's name filled in.
func (s *Script) FirstMessage(lang, name string) string {
	msg, ok := s.FirstMessages[normalizeLanguage(lang)]
	if !ok {
		msg = s.FirstMessages[defaultLanguage]
	}
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	return strings.ReplaceAll(msg, "{{name}}", name)
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	base, _, _ := strings.Cut(lang, "-")
	switch base {
	case "spanish", "español":
		return "es"
	case "english":
		return defaultLanguage
	case "chinese", "mandarin", "cantonese":
		return "zh"
	}
	return base
}

// ParseScript decodes and validates a YAML script. Unknown keys are rejected.
func ParseScript(b []byte) (*Script, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var s Script
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode assistant script: %w", err)
	}

	var errs []error
	if s.Model.Provider == "" || s.Model.Model == "" {
		errs = append(errs, errors.New("model.provider and model.model are required"))
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		errs = append(errs, errors.New("system_prompt is required"))
	}
	if s.FirstMessages[defaultLanguage] == "" {
		errs = append(errs, fmt.Errorf("first_messages.%s is required", defaultLanguage))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid assistant script: %w", errors.Join(errs...))
	}
	return &s, nil
}

// DefaultScript returns the built-in script.
func DefaultScript() *Script {
	s, err := ParseScript(defaultScript)
	if err != nil {
		panic(err)
	}
	return s
}

// LoadScript reads a script from path, or returns the built-in one when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript(), nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // operator-provided config path
	if err != nil {
		return nil, fmt.Errorf("read assistant script: %w", err)
	}
	return ParseScript(b)
}

// ScriptSource yields the script to use for the next call.
type ScriptSource interface {
	Current() *Script
}

// StaticScript is a ScriptSource that never changes.
type StaticScript struct{ S *Script }

// Current implements ScriptSource.
func (s StaticScript) Current() *Script { return s.S }

// ScriptWatcher reloads a script file whenever it changes on disk. A reload that
// fails to parse keeps the previous script.
type ScriptWatcher struct {
	path    string
	current atomic.Pointer[Script]
	reloads atomic.Int64
	logger  log.Logger
}

// WatchScript loads path and keeps it fresh until ctx is cancelled.
func WatchScript(ctx context.Context, path string, logger log.Logger) (*ScriptWatcher, error) {
	s, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	w := &ScriptWatcher{path: filepath.Clean(path), logger: logger}
	w.current.Store(s)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	// watch the directory so editors that replace the file by rename are seen
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != w.path || !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
					continue
				}
				w.reload(ctx)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error(ctx, err, "assistant script watcher error", "path", w.path)
			}
		}
	}()
	return w, nil
}

func (w *ScriptWatcher) reload(ctx context.Context) {
	s, err := LoadScript(w.path)
	if err != nil {
		w.logger.Warn(ctx, "assistant script reload failed, keeping previous", "path", w.path, "error", err)
		return
	}
	w.current.Store(s)
	w.reloads.Add(1)
	w.logger.Info(ctx, "assistant script reloaded", "path", w.path, "name", s.Name)
}

// Current implements ScriptSource.
func (w *ScriptWatcher) Current() *Script { return w.current.Load() }

// Reloads counts successful reloads since start.
func (w *ScriptWatcher) Reloads() int64 { return w.reloads.Load() }
