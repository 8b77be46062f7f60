package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hammamikhairi/wisprd/internal/analytics"
	"github.com/hammamikhairi/wisprd/internal/audio"
	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/format"
	"github.com/hammamikhairi/wisprd/internal/logger"
	"github.com/hammamikhairi/wisprd/internal/settings"
)

type fakeCapture struct {
	device   audio.Device
	onSample func([]float32)
	started  bool
	stopped  bool
	startErr error
}

func (f *fakeCapture) ResolveDevice(string) (audio.Device, error) { return f.device, nil }

func (f *fakeCapture) Start(_ context.Context, _ audio.Device, onSample func([]float32)) (audio.StartResult, error) {
	if f.startErr != nil {
		return audio.StartResult{}, f.startErr
	}
	f.onSample = onSample
	f.started = true
	return audio.StartResult{Format: domain.AudioFormat{SampleRateHz: 16000, Channels: 1, BitsPerSample: 16}}, nil
}

func (f *fakeCapture) Stop() { f.stopped = true }

func (f *fakeCapture) push(samples []float32) {
	if f.onSample != nil {
		f.onSample(samples)
	}
}

type fakeDecoder struct {
	current string
	result  domain.Transcription
	err     error
	calls   int
}

func (f *fakeDecoder) Initialize(modelName string) error { f.current = modelName; return nil }

func (f *fakeDecoder) Transcribe(_ context.Context, modelName string, _ []float32, _ domain.STTConfig) (domain.Transcription, error) {
	f.calls++
	f.current = modelName
	return f.result, f.err
}

func (f *fakeDecoder) CurrentModel() string { return f.current }

type fakeFormatter struct {
	calledMode       format.Mode
	gotDictionary    []string
	gotClipboardText string
}

func (f *fakeFormatter) Format(_ context.Context, raw string, mode format.Mode, _, _ string, dictionary []string, clipboardContext string) string {
	f.calledMode = mode
	f.gotDictionary = dictionary
	f.gotClipboardText = clipboardContext
	return raw
}

type fakeSnippets struct{}

func (fakeSnippets) Expand(text string, _ time.Time) string { return text }

type fakeInjector struct {
	lastText      string
	err           error
	clipboardText string
}

func (f *fakeInjector) Inject(_ context.Context, text string, _ domain.ForegroundTarget) error {
	f.lastText = text
	return f.err
}

func (f *fakeInjector) PeekClipboardText(context.Context) string {
	return f.clipboardText
}

type fakePlatform struct{}

func (fakePlatform) CaptureForeground(context.Context) (domain.ForegroundTarget, error) {
	return domain.ForegroundTarget{PID: 999, Valid: true}, nil
}
func (fakePlatform) RestoreForeground(context.Context, domain.ForegroundTarget) error { return nil }
func (fakePlatform) SynthesizePasteChord(context.Context) error                       { return nil }
func (fakePlatform) TypeText(context.Context, string) error                          { return nil }
func (fakePlatform) InstallHotkeyHook(context.Context) (<-chan domain.KeyEvent, error) {
	return make(chan domain.KeyEvent), nil
}

type fakeNotifier struct {
	statuses []string
	results  []string
	finals   []bool
}

func (n *fakeNotifier) StatusChanged(_ context.Context, status, _ string) {
	n.statuses = append(n.statuses, status)
}
func (n *fakeNotifier) TranscriptionResult(_ context.Context, text, _ string, _ *float32, isFinal bool) {
	n.results = append(n.results, text)
	n.finals = append(n.finals, isFinal)
}
func (n *fakeNotifier) AudioLevel(context.Context, float64)                        {}
func (n *fakeNotifier) HotkeyHold(context.Context, bool)                           {}
func (n *fakeNotifier) ModelDownloadProgress(context.Context, domain.ModelDownloadEvent) {}
func (n *fakeNotifier) AnalyticsUpdate(context.Context, float64, int)              {}

type fakeRecorder struct{ calls int }

func (r *fakeRecorder) Record(float64, int) analytics.Stats {
	r.calls++
	return analytics.Stats{}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeCapture, *fakeDecoder, *fakeInjector, *fakeNotifier, *fakeRecorder, *settings.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.Open(path)
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}

	capt := &fakeCapture{device: audio.Device{ID: "dev1", Name: "Mic", IsDefault: true}}
	dec := &fakeDecoder{}
	inj := &fakeInjector{}
	notif := &fakeNotifier{}
	rec := &fakeRecorder{}

	o := New(logger.New(logger.LevelOff, nil), capt, dec, &fakeFormatter{}, fakeSnippets{}, inj, fakePlatform{}, notif, store, rec, "")
	return o, capt, dec, inj, notif, rec, store
}

func loudSamples(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.5
		} else {
			out[i] = -0.5
		}
	}
	return out
}

func TestHappyPathTranscribesAndInjects(t *testing.T) {
	o, capt, dec, inj, notif, rec, _ := newTestOrchestrator(t)
	dec.result = domain.Transcription{Text: "hello world"}

	ctx := context.Background()
	if err := o.Start(ctx, false, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	capt.push(loudSamples(32000))

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if inj.lastText != "hello world" {
		t.Fatalf("expected injected text %q, got %q", "hello world", inj.lastText)
	}
	if rec.calls != 1 {
		t.Fatalf("expected 1 analytics record, got %d", rec.calls)
	}
	if notif.statuses[0] != "listening" || notif.statuses[len(notif.statuses)-1] != "idle" {
		t.Fatalf("expected listening...idle ordering, got %v", notif.statuses)
	}
	if !notif.finals[len(notif.finals)-1] {
		t.Fatalf("expected final transcription-result event")
	}
}

func TestSilenceSkipsDecodeAndInjection(t *testing.T) {
	o, capt, dec, inj, notif, rec, _ := newTestOrchestrator(t)

	ctx := context.Background()
	_ = o.Start(ctx, false, false)
	capt.push(make([]float32, 16000)) // all zeros: below silence floor

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if dec.calls != 0 {
		t.Fatalf("expected decoder not invoked on silence, got %d calls", dec.calls)
	}
	if inj.lastText != "" {
		t.Fatalf("expected no injection on silence, got %q", inj.lastText)
	}
	if rec.calls != 0 {
		t.Fatalf("expected no analytics record on silence")
	}
	last := notif.statuses[len(notif.statuses)-1]
	if last != "idle" {
		t.Fatalf("expected idle after silence, got %q", last)
	}
}

func TestHandsFreeSessionSpansTwoCalls(t *testing.T) {
	o, capt, dec, inj, _, _, _ := newTestOrchestrator(t)
	dec.result = domain.Transcription{Text: "toggled on"}

	ctx := context.Background()
	if err := o.Start(ctx, true, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	capt.push(loudSamples(32000))
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if inj.lastText != "toggled on" {
		t.Fatalf("expected hands-free session to transcribe and inject, got %q", inj.lastText)
	}

	// A second press/release cycle must be accepted once idle.
	if err := o.Start(ctx, true, false); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartWhileActiveReturnsSessionActive(t *testing.T) {
	o, _, _, _, _, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	if err := o.Start(ctx, false, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Start(ctx, false, false); err != domain.ErrSessionActive {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestStopWithoutStartReturnsNoSession(t *testing.T) {
	o, _, _, _, _, _, _ := newTestOrchestrator(t)
	if err := o.Stop(context.Background()); err != domain.ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestTranscriptionFailureTransitionsToErrorAndAllowsNextSession(t *testing.T) {
	o, capt, dec, _, notif, _, _ := newTestOrchestrator(t)
	dec.err = domain.ErrTranscriptionError

	ctx := context.Background()
	_ = o.Start(ctx, false, false)
	capt.push(loudSamples(32000))
	if err := o.Stop(ctx); err == nil {
		t.Fatalf("expected transcription failure to propagate")
	}
	if notif.statuses[len(notif.statuses)-1] != "error" {
		t.Fatalf("expected terminal status=error, got %v", notif.statuses)
	}

	// State machine must be free to start the next session immediately.
	dec.err = nil
	dec.result = domain.Transcription{Text: "recovered"}
	if err := o.Start(ctx, false, false); err != nil {
		t.Fatalf("expected next session to start after error: %v", err)
	}
}

func TestCommandModeArmsGrammarFormatting(t *testing.T) {
	o, capt, dec, _, _, _, _ := newTestOrchestrator(t)
	dec.result = domain.Transcription{Text: "open settings"}

	fmtr := &fakeFormatter{}
	o.formatter = fmtr

	_ = o.store.Mutate(func(d *settings.Doc) error {
		d.TextFormattingEnabled = true
		return nil
	})

	ctx := context.Background()
	_ = o.Start(ctx, false, true)
	capt.push(loudSamples(32000))
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if fmtr.calledMode != format.ModeGrammar {
		t.Fatalf("expected ModeGrammar when command-mode armed, got %v", fmtr.calledMode)
	}
}

func TestRewriteModePassesClipboardContextAndDictionary(t *testing.T) {
	o, capt, dec, inj, _, _, _ := newTestOrchestrator(t)
	dec.result = domain.Transcription{Text: "reply saying I am on my way"}
	inj.clipboardText = "Hey, are you still coming to the meeting?"

	fmtr := &fakeFormatter{}
	o.formatter = fmtr

	_ = o.store.Mutate(func(d *settings.Doc) error {
		d.TextFormattingEnabled = true
		d.TextFormattingMode = "rewrite"
		d.PersonalDictionary = []string{"Kubernetes"}
		return nil
	})

	ctx := context.Background()
	_ = o.Start(ctx, false, false)
	capt.push(loudSamples(32000))
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if fmtr.calledMode != format.ModeRewrite {
		t.Fatalf("expected ModeRewrite, got %v", fmtr.calledMode)
	}
	if fmtr.gotClipboardText != inj.clipboardText {
		t.Errorf("expected clipboard context %q passed through, got %q", inj.clipboardText, fmtr.gotClipboardText)
	}
	if len(fmtr.gotDictionary) != 1 || fmtr.gotDictionary[0] != "Kubernetes" {
		t.Errorf("expected personal dictionary passed through, got %v", fmtr.gotDictionary)
	}
}

func TestNonRewriteModeDoesNotPeekClipboard(t *testing.T) {
	o, capt, dec, inj, _, _, _ := newTestOrchestrator(t)
	dec.result = domain.Transcription{Text: "open settings please now"}
	inj.clipboardText = "unrelated clipboard content"

	fmtr := &fakeFormatter{}
	o.formatter = fmtr

	_ = o.store.Mutate(func(d *settings.Doc) error {
		d.TextFormattingEnabled = true
		d.TextFormattingMode = "smart"
		return nil
	})

	ctx := context.Background()
	_ = o.Start(ctx, false, false)
	capt.push(loudSamples(32000))
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if fmtr.gotClipboardText != "" {
		t.Errorf("expected no clipboard context in smart mode, got %q", fmtr.gotClipboardText)
	}
}
