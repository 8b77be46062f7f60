package stt

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

type fakeBackend struct {
	loadErr     error
	loadedPath  string
	primaryText string
	primaryConf *float32
	permissive  string
	closeCalls  int

	calls []struct {
		profile string
		lang    string
	}
}

func (f *fakeBackend) Load(path string, _ int) error {
	f.loadedPath = path
	return f.loadErr
}

func (f *fakeBackend) Decode(_ context.Context, _ []float32, cfg domain.STTConfig, profile DecodeProfile) (domain.Transcription, error) {
	f.calls = append(f.calls, struct {
		profile string
		lang    string
	}{profile.Name, cfg.LanguageHint})
	if profile.Name == "primary" {
		return domain.Transcription{Text: f.primaryText, Confidence: f.primaryConf, Segments: segmentsFor(f.primaryText)}, nil
	}
	return domain.Transcription{Text: f.permissive, Segments: segmentsFor(f.permissive)}, nil
}

func (f *fakeBackend) Close() error {
	f.closeCalls++
	return nil
}

func segmentsFor(text string) []domain.Segment {
	if text == "" {
		return nil
	}
	return []domain.Segment{{Text: text}}
}

func seedReadyWhisperModel(t *testing.T, r *Registry, name string) {
	t.Helper()
	path := r.ArtifactPath(name, domain.FamilyWhisper)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func f32(v float32) *float32 { return &v }

func TestDecoderUsesPrimaryWhenConfident(t *testing.T) {
	r := testRegistry(t)
	seedReadyWhisperModel(t, r, "base.en")

	backend := &fakeBackend{primaryText: "hello world", primaryConf: f32(0.9)}
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) { return backend, nil },
	})

	got, err := d.Transcribe(context.Background(), "base.en", []float32{0.1, 0.2}, domain.STTConfig{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" {
		t.Fatalf("expected primary result, got %q", got.Text)
	}
}

func TestDecoderFallsBackToPermissiveOnEmptyPrimary(t *testing.T) {
	r := testRegistry(t)
	seedReadyWhisperModel(t, r, "base.en")

	backend := &fakeBackend{primaryText: "", permissive: "recovered text"}
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) { return backend, nil },
	})

	got, err := d.Transcribe(context.Background(), "base.en", []float32{0.1}, domain.STTConfig{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "recovered text" {
		t.Fatalf("expected permissive fallback, got %q", got.Text)
	}
}

func TestDecoderRetriesAutoDetectWhenLanguageUnpinned(t *testing.T) {
	r := testRegistry(t)
	seedReadyWhisperModel(t, r, "base.en")

	backend := &fakeBackend{primaryText: "", permissive: "recovered text"}
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) { return backend, nil },
	})

	if _, err := d.Transcribe(context.Background(), "base.en", []float32{0.1}, domain.STTConfig{}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(backend.calls) != 3 {
		t.Fatalf("expected 3 decode calls (biased primary, auto primary, permissive), got %d: %+v", len(backend.calls), backend.calls)
	}
	if backend.calls[0].profile != "primary" || backend.calls[0].lang != "en" {
		t.Errorf("first call = %+v, want primary/en", backend.calls[0])
	}
	if backend.calls[1].profile != "primary" || backend.calls[1].lang != "" {
		t.Errorf("second call = %+v, want primary/auto-detect", backend.calls[1])
	}
	if backend.calls[2].profile != "permissive" {
		t.Errorf("third call = %+v, want permissive", backend.calls[2])
	}
}

func TestDecoderSkipsAutoDetectWhenLanguagePinned(t *testing.T) {
	r := testRegistry(t)
	seedReadyWhisperModel(t, r, "base.en")

	backend := &fakeBackend{primaryText: "", permissive: "recovered text"}
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) { return backend, nil },
	})

	if _, err := d.Transcribe(context.Background(), "base.en", []float32{0.1}, domain.STTConfig{LanguageHint: "fr"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if len(backend.calls) != 2 {
		t.Fatalf("expected 2 decode calls (biased primary, permissive — no auto-detect retry), got %d: %+v", len(backend.calls), backend.calls)
	}
	if backend.calls[0].lang != "fr" || backend.calls[1].lang != "fr" {
		t.Errorf("expected both calls biased to fr, got %+v", backend.calls)
	}
}

func TestDecoderRejectsMissingModel(t *testing.T) {
	r := testRegistry(t)
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) { return &fakeBackend{}, nil },
	})

	_, err := d.Transcribe(context.Background(), "base.en", []float32{0.1}, domain.STTConfig{})
	if err != domain.ErrModelNotFound {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}

func TestDecoderSwitchesModelsClosesPrevious(t *testing.T) {
	r := testRegistry(t)
	seedReadyWhisperModel(t, r, "base.en")
	seedReadyWhisperModel(t, r, "small.en")

	first := &fakeBackend{primaryText: "a", primaryConf: f32(0.9)}
	second := &fakeBackend{primaryText: "b", primaryConf: f32(0.9)}
	calls := 0
	d := NewDecoder(logger.New(logger.LevelOff, io.Discard), r, map[domain.BackendFamily]BackendFactory{
		domain.FamilyWhisper: func(string) (Backend, error) {
			calls++
			if calls == 1 {
				return first, nil
			}
			return second, nil
		},
	})

	if _, err := d.Transcribe(context.Background(), "base.en", nil, domain.STTConfig{}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Transcribe(context.Background(), "small.en", nil, domain.STTConfig{}); err != nil {
		t.Fatal(err)
	}

	if first.closeCalls != 1 {
		t.Fatalf("expected previous backend closed exactly once, got %d", first.closeCalls)
	}
	if d.CurrentModel() != "small.en" {
		t.Fatalf("expected current model small.en, got %q", d.CurrentModel())
	}
}

func TestThreadsWithinBounds(t *testing.T) {
	n := Threads()
	if n < 4 || n > 8 {
		t.Fatalf("Threads() = %d, want in [4,8]", n)
	}
}
