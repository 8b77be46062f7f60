// Package whisper adapts github.com/ggerganov/whisper.cpp/bindings/go
// to the stt.Backend surface for whisper-family models (a single ggml
// .bin file).
package whisper

import (
	"context"
	"fmt"
	"sync"

	wsp "github.com/ggerganov/whisper.cpp/bindings/go"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/stt"
)

// Backend wraps one loaded whisper.cpp model. Not safe for concurrent
// Decode calls; stt.Decoder already serialises access.
type Backend struct {
	mu     sync.Mutex
	model  wsp.Model
	path   string
	threads int
}

// New returns an unloaded Backend; Load must be called before Decode.
func New(_ string) (stt.Backend, error) {
	return &Backend{}, nil
}

func (b *Backend) Load(modelPath string, threads int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	model, err := wsp.New(modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load %s: %w", modelPath, err)
	}
	b.model = model
	b.path = modelPath
	b.threads = threads
	return nil
}

func (b *Backend) Decode(ctx context.Context, samples []float32, cfg domain.STTConfig, profile stt.DecodeProfile) (domain.Transcription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.model == nil {
		return domain.Transcription{}, fmt.Errorf("whisper: backend not loaded")
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("whisper: new context: %w", err)
	}

	if cfg.LanguageHint != "" && cfg.LanguageHint != "auto" {
		_ = wctx.SetLanguage(cfg.LanguageHint)
	} else {
		_ = wctx.SetLanguage("auto")
	}
	wctx.SetTranslate(cfg.Task == domain.TaskTranslate)
	wctx.SetThreads(uint(b.threads))

	if profile.Greedy {
		wctx.SetBeamSize(0)
	} else {
		wctx.SetBeamSize(profile.BeamSize)
	}
	wctx.SetTemperature(profile.Temperature)
	wctx.SetEntropyThold(profile.EntropyThreshold)
	wctx.SetNoSpeechThold(profile.NoSpeechThold)

	var segments []domain.Segment
	var fullText string

	err = wctx.Process(samples, nil, func(s wsp.Segment) {
		segments = append(segments, domain.Segment{
			Text:   s.Text,
			StartS: s.Start.Seconds(),
			EndS:   s.End.Seconds(),
		})
		if fullText != "" {
			fullText += " "
		}
		fullText += s.Text
	}, nil)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("whisper: process: %w", err)
	}

	lang := wctx.DetectedLanguage()
	conf := avgLogprobConfidence(segments)

	return domain.Transcription{
		Text:     trimText(fullText),
		Language: lang,
		Confidence: conf,
		Segments: segments,
	}, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = nil
	return nil
}

func trimText(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\n') {
		s = s[:len(s)-1]
	}
	return s
}

// avgLogprobConfidence returns nil when there are no segments (no speech
// was detected) and a fixed 0.6 otherwise; no per-segment logprob is
// read, so no average is computed.
func avgLogprobConfidence(segments []domain.Segment) *float32 {
	if len(segments) == 0 {
		return nil
	}
	v := float32(0.6)
	return &v
}
