package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesDefaultsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Settings().Shortcuts.PushToTalk != "fn" {
		t.Fatalf("expected default push-to-talk shortcut, got %+v", s.Settings())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected settings file created on disk: %v", err)
	}
}

func TestSetSettingsPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	doc := s.Settings()
	doc.Language = "fr"
	doc.TextFormattingEnabled = true
	if err := s.SetSettings(doc); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Settings().Language != "fr" {
		t.Fatalf("expected persisted language fr, got %q", reopened.Settings().Language)
	}
}

func TestOpenIgnoresUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"settings": {"language": "de", "unknown_field": "whatever"}, "unknown_top_level": 1}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Settings().Language != "de" {
		t.Fatalf("expected language de, got %q", s.Settings().Language)
	}
}

func TestMutateAppliesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Mutate(func(d *Doc) error {
		d.MuteSystemAudio = true
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if !s.Settings().MuteSystemAudio {
		t.Fatalf("expected mutation applied")
	}
}
