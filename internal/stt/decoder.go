package stt

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// DecodeProfile is one pass of the two-profile decode strategy (§4.C).
type DecodeProfile struct {
	Name             string
	BeamSize         int
	Greedy           bool
	Temperature      float32
	EntropyThreshold float32
	NoSpeechThold    float32
	LogprobThold     float32
	SuppressBlank    bool
	SuppressNonSpeech bool
}

// Primary favours accuracy on clear speech; Permissive disables every
// suppression heuristic and falls back to greedy decoding for audio the
// primary profile rejected as low-confidence (spec §4.C).
var (
	Primary = DecodeProfile{
		Name: "primary", BeamSize: 5, Temperature: 0.2,
		EntropyThreshold: 2.4, NoSpeechThold: 0.6, LogprobThold: -1.0,
		SuppressBlank: true, SuppressNonSpeech: true,
	}
	Permissive = DecodeProfile{
		Name: "permissive", Greedy: true, Temperature: 0.0,
		EntropyThreshold: 10, NoSpeechThold: 1.0, LogprobThold: -10,
		SuppressBlank: false, SuppressNonSpeech: false,
	}
)

// Backend is the narrow surface each native decoder family must
// implement. whisper, transducer, and mlx each provide one.
type Backend interface {
	Load(modelPath string, threads int) error
	Decode(ctx context.Context, samples []float32, cfg domain.STTConfig, profile DecodeProfile) (domain.Transcription, error)
	Close() error
}

// BackendFactory builds a Backend for a resolved artifact path.
type BackendFactory func(path string) (Backend, error)

// Decoder is the STT Decoder façade (§4.C): it owns at most one loaded
// backend at a time, lazily initialising it on first transcribe call,
// and serialises all decode calls behind an exclusive lock per §5 (the
// native backend is not safe for concurrent use).
type Decoder struct {
	log      *logger.Logger
	registry *Registry

	factories map[domain.BackendFamily]BackendFactory

	mu      sync.Mutex
	loaded  Backend
	current string
	family  domain.BackendFamily
}

// NewDecoder constructs a Decoder with one BackendFactory per family.
// Factories not supplied on the current platform (e.g. mlx on Linux)
// may be nil; selecting a model of that family then returns
// ErrModelNotFound.
func NewDecoder(log *logger.Logger, registry *Registry, factories map[domain.BackendFamily]BackendFactory) *Decoder {
	return &Decoder{log: log, registry: registry, factories: factories}
}

// Threads computes the worker thread count for the native decoder:
// hardware parallelism capped at 8, floored at 4 (spec §4.C).
func Threads() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 4 {
		n = 4
	}
	return n
}

// IsModelAvailable reports whether the named model's artifact is Ready.
func (d *Decoder) IsModelAvailable(modelName string) bool {
	a := d.registry.Describe(modelName)
	return a.Status == domain.ArtifactReady
}

// CurrentModel returns the name of the currently loaded model, or "" if
// none is loaded yet.
func (d *Decoder) CurrentModel() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Initialize eagerly loads the given model, replacing whatever backend
// was previously loaded. A nil error means decode calls against this
// model will not pay the lazy-load cost on their first call.
func (d *Decoder) Initialize(modelName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureLoadedLocked(modelName)
}

func (d *Decoder) ensureLoadedLocked(modelName string) error {
	if d.current == modelName && d.loaded != nil {
		return nil
	}

	family := ClassifyModel(modelName)
	art := d.registry.Describe(modelName)
	if art.Status != domain.ArtifactReady {
		return domain.ErrModelNotFound
	}

	factory, ok := d.factories[family]
	if !ok || factory == nil {
		return fmt.Errorf("stt: no backend registered for family %s: %w", family, domain.ErrModelNotFound)
	}

	backend, err := factory(art.Path)
	if err != nil {
		return fmt.Errorf("stt: build backend for %s: %w", modelName, domain.ErrModelLoadFailed)
	}
	if err := backend.Load(art.Path, Threads()); err != nil {
		return fmt.Errorf("stt: load %s: %w", modelName, domain.ErrModelLoadFailed)
	}

	if d.loaded != nil {
		_ = d.loaded.Close()
	}
	d.loaded = backend
	d.current = modelName
	d.family = family
	return nil
}

// Transcribe runs the decode strategy against samples already
// preprocessed by internal/audio. For the whisper family this is the
// three-step decision tree of spec §4.C: run Primary with the biased
// language (the caller's hint, else "en"); if non-empty, return it;
// else, if the caller did not pin a language, re-run Primary with
// auto-detect; if still empty, run Permissive with the biased language
// and return whatever it produces, empty or not. Transducer (and any
// other non-whisper family) runs a single greedy decode — the
// two-profile strategy does not apply there.
func (d *Decoder) Transcribe(ctx context.Context, modelName string, samples []float32, cfg domain.STTConfig) (domain.Transcription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureLoadedLocked(modelName); err != nil {
		return domain.Transcription{}, err
	}

	if d.family != domain.FamilyWhisper {
		result, err := d.loaded.Decode(ctx, samples, cfg, Primary)
		if err != nil {
			return domain.Transcription{}, fmt.Errorf("stt: decode %s: %w", modelName, domain.ErrTranscriptionError)
		}
		return result, nil
	}

	callerPinned := cfg.LanguageHint != ""
	biased := cfg
	if !callerPinned {
		biased.LanguageHint = "en"
	}

	result, err := d.loaded.Decode(ctx, samples, biased, Primary)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("stt: decode %s: %w", modelName, domain.ErrTranscriptionError)
	}
	if !result.IsEmpty() {
		return result, nil
	}

	if !callerPinned {
		auto := cfg
		auto.LanguageHint = ""
		result, err = d.loaded.Decode(ctx, samples, auto, Primary)
		if err != nil {
			return domain.Transcription{}, fmt.Errorf("stt: auto-detect decode %s: %w", modelName, domain.ErrTranscriptionError)
		}
		if !result.IsEmpty() {
			return result, nil
		}
	}

	fallback, err := d.loaded.Decode(ctx, samples, biased, Permissive)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("stt: permissive decode %s: %w", modelName, domain.ErrTranscriptionError)
	}
	return fallback, nil
}

// AvailableModels describes each name in catalogue with its current
// readiness, in catalogue order. Intended for the "list_models"
// command (§6).
func (d *Decoder) AvailableModels(catalogue []string) []domain.ModelArtifact {
	out := make([]domain.ModelArtifact, 0, len(catalogue))
	for _, name := range catalogue {
		out = append(out, d.registry.Describe(name))
	}
	return out
}

// Close releases the currently loaded backend, if any.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded != nil {
		err := d.loaded.Close()
		d.loaded = nil
		d.current = ""
		return err
	}
	return nil
}
