// Package transducer adapts github.com/k2-fsa/sherpa-onnx-go to the
// stt.Backend surface for transducer-family models (encoder/decoder/
// joiner/tokens directories, e.g. streaming Parakeet TDT exports).
package transducer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/stt"
)

// Backend wraps one loaded sherpa-onnx offline recogniser.
type Backend struct {
	mu   sync.Mutex
	rec  *sherpa.OfflineRecognizer
}

// New returns an unloaded Backend; Load must be called before Decode.
func New(_ string) (stt.Backend, error) {
	return &Backend{}, nil
}

func (b *Backend) Load(modelPath string, threads int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: 16000, FeatureDim: 80},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: filepath.Join(modelPath, "encoder.onnx"),
				Decoder: filepath.Join(modelPath, "decoder.onnx"),
				Joiner:  filepath.Join(modelPath, "joiner.onnx"),
			},
			Tokens:     filepath.Join(modelPath, "tokens.txt"),
			NumThreads: threads,
			Provider:   "cpu",
		},
	}

	rec := sherpa.NewOfflineRecognizer(&cfg)
	if rec == nil {
		return fmt.Errorf("transducer: failed to construct recognizer from %s", modelPath)
	}
	b.rec = rec
	return nil
}

// Decode ignores profile: sherpa-onnx's offline transducer recognizer
// has no beam/temperature knobs to vary between a primary and
// permissive pass, and stt.Decoder calls it once per transcription
// (with Primary) for this family, with no retry.
func (b *Backend) Decode(ctx context.Context, samples []float32, cfg domain.STTConfig, profile stt.DecodeProfile) (domain.Transcription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rec == nil {
		return domain.Transcription{}, fmt.Errorf("transducer: backend not loaded")
	}

	stream := sherpa.NewOfflineStream(b.rec)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(16000, samples)
	b.rec.Decode(stream)
	result := stream.GetResult()

	text := trimText(result.Text)
	if text == "" {
		return domain.Transcription{}, nil
	}

	return domain.Transcription{
		Text:     text,
		Language: cfg.LanguageHint,
		Segments: []domain.Segment{{Text: text, StartS: 0, EndS: float64(len(samples)) / 16000.0}},
	}, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec != nil {
		sherpa.DeleteOfflineRecognizer(b.rec)
		b.rec = nil
	}
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
