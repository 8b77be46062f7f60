// wisprd — a push-to-talk dictation daemon.
//
// Usage:
//
//	wisprd [-verbose] [-quiet]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hammamikhairi/wisprd/internal/analytics"
	"github.com/hammamikhairi/wisprd/internal/audio"
	"github.com/hammamikhairi/wisprd/internal/display"
	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/format"
	"github.com/hammamikhairi/wisprd/internal/hotkey"
	"github.com/hammamikhairi/wisprd/internal/inject"
	"github.com/hammamikhairi/wisprd/internal/ipc"
	"github.com/hammamikhairi/wisprd/internal/logger"
	"github.com/hammamikhairi/wisprd/internal/platform"
	"github.com/hammamikhairi/wisprd/internal/session"
	"github.com/hammamikhairi/wisprd/internal/settings"
	"github.com/hammamikhairi/wisprd/internal/stt"
	"github.com/hammamikhairi/wisprd/internal/stt/mlx"
	"github.com/hammamikhairi/wisprd/internal/stt/transducer"
	"github.com/hammamikhairi/wisprd/internal/stt/whisper"
)

const (
	envFFmpegBin = "OPENWISPR_FFMPEG_BIN"
	envVerbose   = "OPENWISPR_VERBOSE_LOGS"
)

func main() {
	_ = godotenv.Load()

	verbose := flag.Bool("verbose", os.Getenv(envVerbose) == "1", "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	logFile := flag.String("log-file", ".wisprd-logs/wisprd.log", "file to write logs to (use \"stderr\" to log to console)")
	noOverlay := flag.Bool("no-overlay", false, "disable the status overlay window; log events instead")
	ffmpegBin := flag.String("ffmpeg-bin", firstNonEmpty(os.Getenv(envFFmpegBin), "ffmpeg"), "ffmpeg binary used for audio normalisation, if present")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}

	var logOut io.Writer = os.Stderr
	if *logFile != "" && *logFile != "stderr" {
		dir := filepath.Dir(*logFile)
		if dir != "" && dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v (falling back to stderr)\n", *logFile, err)
		} else {
			logOut = f
			defer f.Close()
		}
	}

	// Redirect Go's default log package (used by malgo and other
	// third-party libs) to the same output so it doesn't spam the
	// overlay's terminal.
	stdlog.SetOutput(logOut)
	stdlog.SetFlags(stdlog.Ltime)

	log := logger.New(logLevel, logOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := wire(log, *ffmpegBin)
	if err != nil {
		log.Error("startup: %v", err)
		os.Exit(1)
	}
	defer app.capture.Close()
	defer app.decoder.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	hookCh, err := app.platform.InstallHotkeyHook(ctx)
	if err != nil {
		log.Error("hotkey hook: %v", err)
		os.Exit(1)
	}
	go app.runHotkeyLoop(ctx, hookCh)

	ipcServer := ipc.New(log, app.orchestrator, app.capture, app.registry, app.decoder,
		app.store, app.counter, app.reconfigureHotkey, os.Stdout)
	go func() {
		if err := ipcServer.Serve(ctx, os.Stdin); err != nil && err != io.EOF {
			log.Warn("ipc: serve stdin: %v", err)
		}
	}()

	if *noOverlay {
		log.Info("wisprd running (overlay disabled); press ctrl+c to quit")
		<-ctx.Done()
		return
	}

	go func() {
		app.overlay.WaitReady()
		<-ctx.Done()
		app.overlay.Quit()
	}()

	if err := app.overlay.Run(); err != nil {
		log.Error("display: %v", err)
	}
	cancel()
}

// app bundles every wired component main needs to reach after startup:
// the hotkey loop feeding the orchestrator, and the IPC server fielding
// commands from the UI layer.
type app struct {
	log          *logger.Logger
	store        *settings.Store
	platform     domain.Platform
	capture      *audio.Capture
	registry     *stt.Registry
	decoder      *stt.Decoder
	formatter    *format.Formatter
	injector     *inject.Injector
	counter      *analytics.Counter
	overlay      *display.Overlay
	orchestrator *session.Orchestrator

	hkMu sync.Mutex
	hk   *hotkey.StateMachine
}

func wire(log *logger.Logger, ffmpegBin string) (*app, error) {
	settingsPath, err := settings.DefaultPath()
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	store, err := settings.Open(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	plat, err := platform.New(log)
	if err != nil {
		return nil, fmt.Errorf("init platform: %w", err)
	}

	capture, err := audio.NewCapture(log)
	if err != nil {
		return nil, fmt.Errorf("init audio capture: %w", err)
	}

	registry, err := stt.NewRegistry(log)
	if err != nil {
		return nil, fmt.Errorf("init model registry: %w", err)
	}

	factories := map[domain.BackendFamily]stt.BackendFactory{
		domain.FamilyWhisper:    whisper.New,
		domain.FamilyTransducer: transducer.New,
		domain.FamilyMLX:        mlx.New,
	}
	decoder := stt.NewDecoder(log, registry, factories)

	llmFactory := func(baseURL, model string) *format.LLMClient {
		return format.NewLLMClient(baseURL, model, log)
	}
	formatter := format.NewFormatter(log, llmFactory)

	clip := inject.NewSystemClipboard()
	injector := inject.NewInjector(log, plat, clip, int32(os.Getpid()))

	counter := analytics.NewCounter(store)

	overlay := display.New()
	var notifier domain.Notifier = overlay

	cfg := store.Settings()
	snippets := format.NewSnippetExpander(cfg.Snippets)

	orchestrator := session.New(log, capture, decoder, formatter, snippets, injector, plat, notifier, store, counter, ffmpegBin)

	a := &app{
		log: log, store: store, platform: plat, capture: capture, registry: registry,
		decoder: decoder, formatter: formatter, injector: injector, counter: counter,
		overlay: overlay, orchestrator: orchestrator,
	}
	a.hk = a.buildHotkeyStateMachine(cfg)
	return a, nil
}

// buildHotkeyStateMachine parses the persisted shortcut strings into
// HotkeySpecs and wires its callbacks to the orchestrator and overlay.
// Falls back to the built-in defaults (fn push-to-talk, fn+space
// hands-free) if a persisted spec fails to parse — a corrupt settings
// file must never leave the daemon with no way to start a session.
func (a *app) buildHotkeyStateMachine(cfg settings.Doc) *hotkey.StateMachine {
	pushToTalk, err := hotkey.Parse(cfg.Shortcuts.PushToTalk)
	if err != nil {
		a.log.Warn("hotkey: invalid push_to_talk %q, using default: %v", cfg.Shortcuts.PushToTalk, err)
		pushToTalk, _ = hotkey.Parse("fn")
	}
	handsFree, err := hotkey.Parse(cfg.Shortcuts.HandsFreeToggle)
	if err != nil {
		a.log.Warn("hotkey: invalid hands_free_toggle %q, using default: %v", cfg.Shortcuts.HandsFreeToggle, err)
		handsFree, _ = hotkey.Parse("fn+space")
	}
	var commandMode domain.HotkeySpec
	hasCommand := cfg.Shortcuts.CommandMode != ""
	if hasCommand {
		commandMode, err = hotkey.Parse(cfg.Shortcuts.CommandMode)
		if err != nil {
			a.log.Warn("hotkey: invalid command_mode %q, disabling: %v", cfg.Shortcuts.CommandMode, err)
			hasCommand = false
		}
	}

	return a.newStateMachine(pushToTalk, handsFree, commandMode, hasCommand)
}

func (a *app) newStateMachine(pushToTalk, handsFree, commandMode domain.HotkeySpec, hasCommand bool) *hotkey.StateMachine {
	return hotkey.NewStateMachine(a.log, pushToTalk, handsFree, commandMode, hasCommand, hotkey.Callbacks{
		Start: func(ctx context.Context, handsFree, commandArmed bool) {
			if err := a.orchestrator.Start(ctx, handsFree, commandArmed); err != nil {
				a.log.Warn("orchestrator: start: %v", err)
			}
		},
		Stop: func(ctx context.Context) {
			if err := a.orchestrator.Stop(ctx); err != nil {
				a.log.Warn("orchestrator: stop: %v", err)
			}
		},
		Hold: func(ctx context.Context, held bool) {
			a.overlay.HotkeyHold(ctx, held)
		},
	})
}

// reconfigureHotkey implements ipc.HotkeyReconfigurer: it rebuilds the
// StateMachine with fresh specs and swaps it in under hkMu so the
// hotkey loop (reading a.currentHotkey) never observes a half-built
// machine.
func (a *app) reconfigureHotkey(pushToTalk, handsFree, commandMode domain.HotkeySpec, hasCommand bool) *hotkey.StateMachine {
	next := a.newStateMachine(pushToTalk, handsFree, commandMode, hasCommand)
	a.hkMu.Lock()
	a.hk = next
	a.hkMu.Unlock()
	return next
}

func (a *app) currentHotkey() *hotkey.StateMachine {
	a.hkMu.Lock()
	defer a.hkMu.Unlock()
	return a.hk
}

// runHotkeyLoop feeds every observed KeyEvent to whichever StateMachine
// is current at the time (set_shortcuts can swap it mid-flight).
func (a *app) runHotkeyLoop(ctx context.Context, events <-chan domain.KeyEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.currentHotkey().Observe(ctx, ev)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
