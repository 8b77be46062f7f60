// Package session implements the Session Orchestrator (§4.G): the
// component that owns the single active dictation session, wiring
// together capture, decode, formatting, and injection on start/stop.
package session

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/hammamikhairi/wisprd/internal/analytics"
	"github.com/hammamikhairi/wisprd/internal/audio"
	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/format"
	"github.com/hammamikhairi/wisprd/internal/logger"
	"github.com/hammamikhairi/wisprd/internal/settings"
)

const (
	silenceFloorRMS     = 0.003
	partialMinSeconds   = 2.0
	partialLoopInterval = 1500 * time.Millisecond
)

// capturer is the narrow surface the orchestrator needs from
// *audio.Capture. Its own type satisfies this implicitly; tests supply
// a fake so Start/Stop never touch a real device.
type capturer interface {
	ResolveDevice(configuredID string) (audio.Device, error)
	Start(ctx context.Context, device audio.Device, onSample func([]float32)) (audio.StartResult, error)
	Stop()
}

// decoderEngine is the narrow surface the orchestrator needs from
// *stt.Decoder.
type decoderEngine interface {
	Initialize(modelName string) error
	Transcribe(ctx context.Context, modelName string, samples []float32, cfg domain.STTConfig) (domain.Transcription, error)
	CurrentModel() string
}

// textFormatter is the narrow surface the orchestrator needs from
// *format.Formatter.
type textFormatter interface {
	Format(ctx context.Context, raw string, mode format.Mode, baseURL, model string, dictionary []string, clipboardContext string) string
}

// snippetExpander is the narrow surface the orchestrator needs from
// *format.SnippetExpander.
type snippetExpander interface {
	Expand(text string, now time.Time) string
}

// textInjector is the narrow surface the orchestrator needs from
// *inject.Injector.
type textInjector interface {
	Inject(ctx context.Context, text string, target domain.ForegroundTarget) error
	PeekClipboardText(ctx context.Context) string
}

// Recorder is the narrow surface the orchestrator needs from
// *analytics.Counter.
type Recorder interface {
	Record(durationSeconds float64, wordCount int) analytics.Stats
}

// Orchestrator owns the single active Session (invariant I1) and
// drives the start/stop sequence described in §4.G.
type Orchestrator struct {
	log       *logger.Logger
	capture   capturer
	decoder   decoderEngine
	formatter textFormatter
	snippets  snippetExpander
	injector  textInjector
	platform  domain.Platform
	notifier  domain.Notifier
	store     *settings.Store
	recorder  Recorder
	ffmpegBin string

	mu            sync.Mutex
	session       *domain.Session
	bufMu         sync.Mutex
	buf           []float32
	audioFormat   domain.AudioFormat
	cancelPartial context.CancelFunc

	clock func() time.Time
}

// New constructs an Orchestrator. ffmpegBin names the external ffmpeg
// binary (a path, or a bare name looked up on PATH at normalisation
// time); "" skips the ffmpeg attempt (spec §4.G step 6, §6).
func New(log *logger.Logger, capture capturer, decoder decoderEngine, formatter textFormatter, snippets snippetExpander, injector textInjector, platform domain.Platform, notifier domain.Notifier, store *settings.Store, rec Recorder, ffmpegBin string) *Orchestrator {
	return &Orchestrator{
		log: log, capture: capture, decoder: decoder, formatter: formatter,
		snippets: snippets, injector: injector, platform: platform,
		notifier: notifier, store: store, recorder: rec, ffmpegBin: ffmpegBin,
		clock: time.Now,
	}
}

// Start begins a new dictation session. Returns domain.ErrSessionActive
// if one is already running (invariant I1).
func (o *Orchestrator) Start(ctx context.Context, handsFree, commandArmed bool) error {
	o.mu.Lock()
	if o.session != nil {
		o.mu.Unlock()
		return domain.ErrSessionActive
	}

	target, err := o.platform.CaptureForeground(ctx)
	if err != nil {
		o.log.Warn("session: capture foreground failed: %v", err)
		target = domain.ForegroundTarget{}
	}

	o.notifier.StatusChanged(ctx, "listening", "")

	cfg := o.store.Settings()
	device, err := o.capture.ResolveDevice(cfg.InputDevice)
	if err != nil {
		o.mu.Unlock()
		o.notifier.StatusChanged(ctx, "error", err.Error())
		return fmt.Errorf("session: resolve device: %w", domain.ErrAudioError)
	}
	if cfg.InputDevice == "" {
		_ = o.store.Mutate(func(d *settings.Doc) error { d.InputDevice = device.ID; return nil })
	}

	o.bufMu.Lock()
	o.buf = o.buf[:0]
	o.bufMu.Unlock()

	result, err := o.capture.Start(ctx, device, o.onSample(ctx))
	if err != nil {
		o.mu.Unlock()
		o.notifier.StatusChanged(ctx, "error", err.Error())
		return fmt.Errorf("session: start capture: %w", domain.ErrAudioError)
	}
	o.audioFormat = result.Format

	o.session = &domain.Session{
		StartTime:        o.clock(),
		IsHandsFree:      handsFree,
		CaptureFormat:    result.Format,
		ForegroundTarget: target,
		RecordingActive:  true,
		ArmedCommandMode: commandArmed,
	}
	o.mu.Unlock()

	partialCtx, cancel := context.WithCancel(ctx)
	o.cancelPartial = cancel
	go o.partialTranscriptionLoop(partialCtx, cfg.ActiveModel)

	return nil
}

// onSample returns the audio-thread callback: append samples, compute a
// level, and notify. Must not block or allocate beyond the simple
// slice append once the buffer has warmed up (spec §5).
func (o *Orchestrator) onSample(ctx context.Context) func([]float32) {
	return func(frame []float32) {
		o.bufMu.Lock()
		o.buf = append(o.buf, frame...)
		o.bufMu.Unlock()

		rms := audio.RMS(frame)
		o.notifier.AudioLevel(ctx, audio.Level(rms))
	}
}

func (o *Orchestrator) partialTranscriptionLoop(ctx context.Context, modelName string) {
	ticker := time.NewTicker(partialLoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.emitPartialIfReady(ctx, modelName)
		}
	}
}

func (o *Orchestrator) emitPartialIfReady(ctx context.Context, modelName string) {
	if o.decoder.CurrentModel() != modelName {
		return
	}
	o.bufMu.Lock()
	n := len(o.buf)
	samples := make([]float32, n)
	copy(samples, o.buf)
	o.bufMu.Unlock()

	seconds := float64(n) / float64(sampleRateOrDefault(o.audioFormat.SampleRateHz))
	if seconds < partialMinSeconds {
		return
	}

	clean := audio.Preprocess(samples, o.audioFormat, audio.TrimDisabled)
	result, err := o.decoder.Transcribe(ctx, modelName, clean, domain.STTConfig{ModelName: modelName})
	if err != nil {
		return
	}
	o.notifier.TranscriptionResult(ctx, result.Text, result.Language, result.Confidence, false)
}

func sampleRateOrDefault(rate uint32) uint32 {
	if rate == 0 {
		return 16000
	}
	return rate
}

// Stop ends the active session, running the decode/format/inject
// pipeline per §4.G. Returns domain.ErrNoSession if none is active.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	sess := o.session
	if sess == nil {
		o.mu.Unlock()
		return domain.ErrNoSession
	}
	o.mu.Unlock()

	if o.cancelPartial != nil {
		o.cancelPartial()
	}
	o.capture.Stop()
	o.notifier.StatusChanged(ctx, "processing", "")

	o.bufMu.Lock()
	captured := o.buf
	o.buf = nil
	o.bufMu.Unlock()

	if len(captured) == 0 || audio.RMS(captured) < silenceFloorRMS {
		o.notifier.StatusChanged(ctx, "idle", "")
		o.clearSession()
		return nil
	}

	cfg := o.store.Settings()
	if err := o.decoder.Initialize(cfg.ActiveModel); err != nil {
		o.notifier.StatusChanged(ctx, "error", err.Error())
		o.clearSession()
		return fmt.Errorf("session: initialize decoder: %w", err)
	}

	clean := o.normalize(ctx, captured, sess.CaptureFormat)

	result, err := o.decoder.Transcribe(ctx, cfg.ActiveModel, clean, domain.STTConfig{ModelName: cfg.ActiveModel, LanguageHint: cfg.Language})
	if err != nil {
		o.notifier.StatusChanged(ctx, "error", err.Error())
		o.clearSession()
		return fmt.Errorf("session: transcribe: %w", err)
	}

	durationSeconds := o.clock().Sub(sess.StartTime).Seconds()
	wordCount := len(strings.Fields(result.Text))
	o.recorder.Record(durationSeconds, wordCount)
	o.notifier.AnalyticsUpdate(ctx, durationSeconds, wordCount)

	text := result.Text
	if cfg.TextFormattingEnabled {
		mode := format.ParseMode(cfg.TextFormattingMode)
		if sess.ArmedCommandMode {
			mode = format.ModeGrammar
		}
		var clipboardContext string
		if mode == format.ModeRewrite {
			clipboardContext = o.injector.PeekClipboardText(ctx)
		}
		text = o.formatter.Format(ctx, text, mode, cfg.OllamaBaseURL, cfg.OllamaModel, cfg.PersonalDictionary, clipboardContext)
	}
	text = o.snippets.Expand(text, o.clock())

	if err := o.injector.Inject(ctx, text, sess.ForegroundTarget); err != nil {
		o.log.Warn("session: injector error (non-fatal): %v", err)
	}

	o.notifier.TranscriptionResult(ctx, text, result.Language, result.Confidence, true)
	o.notifier.StatusChanged(ctx, "idle", "")
	o.clearSession()
	return nil
}

func (o *Orchestrator) clearSession() {
	o.mu.Lock()
	o.session = nil
	o.mu.Unlock()
}

// normalize tries the ffmpeg path first when ffmpegBin is set (spec
// §4.G step 6) and falls back to the internal preprocessor on any
// failure. The ffmpeg path only checks that the binary is on PATH and
// then reports its pipe as not implemented, so every session is
// normalised by audio.Preprocess; ffmpeg itself is never run.
func (o *Orchestrator) normalize(ctx context.Context, samples []float32, afmt domain.AudioFormat) []float32 {
	if o.ffmpegBin == "" {
		return audio.Preprocess(samples, afmt, audio.TrimEnabled)
	}
	out, err := normalizeViaFFmpeg(ctx, o.ffmpegBin, samples, afmt)
	if err != nil {
		o.log.Warn("session: ffmpeg normalisation failed, falling back to internal preprocessor: %v", err)
		return audio.Preprocess(samples, afmt, audio.TrimEnabled)
	}
	return out
}

func normalizeViaFFmpeg(_ context.Context, bin string, _ []float32, _ domain.AudioFormat) ([]float32, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, err
	}
	// A full ffmpeg pipe implementation shells PCM through stdin/stdout
	// with -f f32le framing; omitted here beyond the lookup because the
	// internal preprocessor already satisfies every correctness
	// invariant ffmpeg would, and ffmpeg is strictly a quality-of-life
	// fast path per spec §4.G step 6.
	return nil, fmt.Errorf("session: ffmpeg pipe not implemented, falling back")
}
