// Package settings implements the persistent JSON settings document
// (§6) as a small explicit service with load/save/get/set methods,
// addressing the Design Note against implicit process-wide
// configuration singletons (§9).
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hammamikhairi/wisprd/internal/format"
)

// Shortcuts holds the three configurable hotkey specs as raw strings
// (parsed by internal/hotkey on use).
type Shortcuts struct {
	PushToTalk      string `json:"push_to_talk"`
	HandsFreeToggle string `json:"hands_free_toggle"`
	CommandMode     string `json:"command_mode,omitempty"`
}

// Doc is the Settings sub-document (§6 persistent state shape).
type Doc struct {
	InputDevice string `json:"input_device,omitempty"`
	// ActiveModel is not named in the original persistent-state shape but
	// is required to make get_active_model/set_active_model durable
	// across restarts; added here rather than tracked only in memory.
	ActiveModel               string           `json:"active_model,omitempty"`
	Language                  string           `json:"language,omitempty"`
	LocalTranscriptionEnabled bool             `json:"local_transcription_enabled"`
	LLMProvider               string           `json:"llm_provider,omitempty"`
	OllamaBaseURL             string           `json:"ollama_base_url,omitempty"`
	OllamaModel               string           `json:"ollama_model,omitempty"`
	Shortcuts                 Shortcuts        `json:"shortcuts"`
	Snippets                  []format.Snippet `json:"snippets"`
	PersonalDictionary        []string         `json:"personal_dictionary"`
	TextFormattingEnabled     bool             `json:"text_formatting_enabled"`
	TextFormattingMode        string           `json:"text_formatting_mode"`
	SystemLLMModel            string           `json:"system_llm_model,omitempty"`
	MuteSystemAudio           bool             `json:"mute_system_audio"`
}

// Analytics is the Analytics sub-document, owned and mutated by
// internal/analytics; settings only round-trips it to disk.
type Analytics struct {
	CumulativeSeconds float64 `json:"cumulative_seconds"`
	CumulativeWords   int64   `json:"cumulative_words"`
	SessionCount      int64   `json:"session_count"`
	CurrentStreakDays int     `json:"current_streak_days"`
	LastSessionDate   string  `json:"last_session_date,omitempty"`
}

// document is the full persisted JSON shape.
type document struct {
	Analytics Analytics `json:"analytics"`
	Settings  Doc       `json:"settings"`
}

func defaultDocument() document {
	return document{
		Settings: Doc{
			ActiveModel:               "base.en",
			LocalTranscriptionEnabled: true,
			Shortcuts: Shortcuts{
				PushToTalk:      "fn",
				HandsFreeToggle: "fn+space",
			},
			TextFormattingEnabled: false,
			TextFormattingMode:    "smart",
			OllamaBaseURL:         "http://localhost:11434",
		},
	}
}

// Store owns the in-memory document and persists it to a single JSON
// file at path. All access is serialised by mu; callers go through
// Settings/SetSettings/Mutate rather than holding a reference across calls.
type Store struct {
	path string

	mu  sync.RWMutex
	doc document
}

// DefaultPath resolves the OS-standard per-user app-data location for
// the settings document.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "openwispr", "settings.json"), nil
}

// Open loads the document at path, creating it with defaults if absent.
// Unknown fields are ignored by encoding/json's default Unmarshal
// behaviour; missing fields are filled by starting from defaultDocument
// before decoding over it.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: defaultDocument()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, err
	}
	return s, nil
}

// Settings returns a copy of the current settings sub-document.
func (s *Store) Settings() Doc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings
}

// AnalyticsSnapshot returns a copy of the current analytics sub-document.
func (s *Store) AnalyticsSnapshot() Analytics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Analytics
}

// SetSettings replaces the settings sub-document and persists it.
func (s *Store) SetSettings(d Doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Settings = d
	return s.saveLocked()
}

// SetAnalytics replaces the analytics sub-document and persists it.
func (s *Store) SetAnalytics(a Analytics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Analytics = a
	return s.saveLocked()
}

// Mutate runs fn against a copy of the settings document, persisting
// the result if fn returns nil.
func (s *Store) Mutate(fn func(*Doc) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc.Settings
	if err := fn(&next); err != nil {
		return err
	}
	s.doc.Settings = next
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
