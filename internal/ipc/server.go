// Package ipc speaks the newline-delimited JSON protocol of the
// External Interfaces (§6): one events.Command object per input line,
// one event object per output line. It is the thin wire adapter
// between the UI layer (whatever process owns the tray icon / overlay
// window) and the core components; it holds no decision logic of its
// own beyond what command maps to what method call.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hammamikhairi/wisprd/internal/analytics"
	"github.com/hammamikhairi/wisprd/internal/audio"
	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/events"
	"github.com/hammamikhairi/wisprd/internal/hotkey"
	"github.com/hammamikhairi/wisprd/internal/logger"
	"github.com/hammamikhairi/wisprd/internal/settings"
	"github.com/hammamikhairi/wisprd/internal/stt"
)

// reply is one response object written back for a processed Command.
// Only the fields relevant to the originating command are populated.
type reply struct {
	OK       bool                   `json:"ok"`
	Error    string                 `json:"error,omitempty"`
	Devices  []audio.Device         `json:"devices,omitempty"`
	Models   []domain.ModelArtifact `json:"models,omitempty"`
	Model    string                 `json:"model,omitempty"`
	Settings *settings.Doc          `json:"settings,omitempty"`
	Stats    *analytics.Stats       `json:"stats,omitempty"`
}

// HotkeyReconfigurer rebuilds the hotkey StateMachine when shortcuts
// change via set_shortcuts; main owns the callback wiring (hook
// channel, Observe loop) that a fresh StateMachine needs to be fed
// into, so the Server only asks for a new one.
type HotkeyReconfigurer func(pushToTalk, handsFree, commandMode domain.HotkeySpec, hasCommand bool) *hotkey.StateMachine

// recorder is the narrow surface the Server needs from
// *session.Orchestrator.
type recorder interface {
	Start(ctx context.Context, handsFree, commandArmed bool) error
	Stop(ctx context.Context) error
}

// deviceLister is the narrow surface the Server needs from
// *audio.Capture.
type deviceLister interface {
	ListDevices() ([]audio.Device, error)
}

// modelRegistry is the narrow surface the Server needs from
// *stt.Registry.
type modelRegistry interface {
	Download(ctx context.Context, modelName string, src stt.DownloadSource, onProgress func(domain.ModelDownloadEvent)) error
	Delete(modelName string, isActive bool) error
}

// modelDecoder is the narrow surface the Server needs from
// *stt.Decoder.
type modelDecoder interface {
	AvailableModels(catalogue []string) []domain.ModelArtifact
	CurrentModel() string
}

// Server dispatches incoming Commands against the wired components and
// streams outgoing events to w as it goes (run alongside, not through,
// the Notifier the orchestrator already calls — see cmd/wisprd). The
// collaborators are narrow interfaces rather than concrete types so
// tests can exercise dispatch without real audio hardware or a loaded
// decoder, matching internal/session's testability pattern.
type Server struct {
	log          *logger.Logger
	orchestrator recorder
	capture      deviceLister
	registry     modelRegistry
	decoder      modelDecoder
	store        *settings.Store
	counter      *analytics.Counter
	reconfigure  HotkeyReconfigurer

	w   io.Writer
	enc *json.Encoder
}

// New constructs a Server. w receives one JSON reply object per line
// per processed command.
func New(log *logger.Logger, orch recorder, capture deviceLister, registry modelRegistry, decoder modelDecoder, store *settings.Store, counter *analytics.Counter, reconfigure HotkeyReconfigurer, w io.Writer) *Server {
	return &Server{
		log: log, orchestrator: orch, capture: capture, registry: registry,
		decoder: decoder, store: store, counter: counter, reconfigure: reconfigure,
		w: w, enc: json.NewEncoder(w),
	}
}

// Serve reads newline-delimited JSON events.Command values from r until
// EOF, ctx cancellation, or a read error, dispatching each in turn.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd events.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.write(reply{OK: false, Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		s.dispatch(ctx, cmd)
	}
	return scanner.Err()
}

func (s *Server) write(r reply) {
	if err := s.enc.Encode(r); err != nil {
		s.log.Warn("ipc: write reply: %v", err)
	}
}

func (s *Server) dispatch(ctx context.Context, cmd events.Command) {
	switch cmd.Name {
	case events.CmdStartRecording:
		s.startRecording(ctx)
	case events.CmdStopRecording:
		s.stopRecording(ctx)
	case events.CmdListInputDevices:
		s.listInputDevices()
	case events.CmdSetInputDevice:
		s.setInputDevice(cmd.DeviceID)
	case events.CmdListModels:
		s.listModels()
	case events.CmdDownloadModel:
		s.downloadModel(ctx, cmd.ModelName)
	case events.CmdGetActiveModel:
		s.getActiveModel()
	case events.CmdSetActiveModel:
		s.setActiveModel(cmd.ModelName)
	case events.CmdDeleteModel:
		s.deleteModel(cmd.ModelName)
	case events.CmdGetSettings:
		s.getSettings()
	case events.CmdSetShortcuts:
		s.setShortcuts(cmd.PushToTalk, cmd.HandsFreeToggle, cmd.CommandModeToggle)
	case events.CmdGetAnalyticsStats:
		s.getAnalyticsStats()
	default:
		s.write(reply{OK: false, Error: fmt.Sprintf("unknown command %q", cmd.Name)})
	}
}

func (s *Server) startRecording(ctx context.Context) {
	handsFree := false
	if err := s.orchestrator.Start(ctx, handsFree, false); err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true})
}

func (s *Server) stopRecording(ctx context.Context) {
	if err := s.orchestrator.Stop(ctx); err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true})
}

func (s *Server) listInputDevices() {
	devices, err := s.capture.ListDevices()
	if err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true, Devices: devices})
}

func (s *Server) setInputDevice(id string) {
	err := s.store.Mutate(func(d *settings.Doc) error {
		d.InputDevice = id
		return nil
	})
	if err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true})
}

func (s *Server) listModels() {
	models := s.decoder.AvailableModels(stt.KnownModels)
	s.write(reply{OK: true, Models: models})
}

func (s *Server) downloadModel(ctx context.Context, name string) {
	src := defaultDownloadSource(name)
	err := s.registry.Download(ctx, name, src, func(ev domain.ModelDownloadEvent) {
		s.write(reply{OK: ev.Error == "", Model: ev.Model, Error: ev.Error})
	})
	if err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true, Model: name})
}

// defaultDownloadSource resolves the public mirror URL for a model name
// per spec §6: whisper models come from the ggml single-file mirror,
// transducer models from the k2-fsa release tarball, MLX models carry
// only the repo id and Registry.Download fetches them through its
// Python-managed MLX path.
func defaultDownloadSource(modelName string) stt.DownloadSource {
	switch stt.ClassifyModel(modelName) {
	case domain.FamilyTransducer:
		return stt.DownloadSource{URL: "https://github.com/k2-fsa/sherpa-onnx/releases/download/asr-models/sherpa-onnx-nemo-" + modelName + ".tar.bz2"}
	case domain.FamilyMLX:
		return stt.DownloadSource{RepoID: modelName}
	default:
		return stt.DownloadSource{URL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-" + modelName + ".bin"}
	}
}

func (s *Server) getActiveModel() {
	s.write(reply{OK: true, Model: s.store.Settings().ActiveModel})
}

func (s *Server) setActiveModel(name string) {
	err := s.store.Mutate(func(d *settings.Doc) error {
		d.ActiveModel = name
		return nil
	})
	if err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true, Model: name})
}

func (s *Server) deleteModel(name string) {
	active := s.decoder.CurrentModel() == name
	if err := s.registry.Delete(name, active); err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	s.write(reply{OK: true, Model: name})
}

func (s *Server) getSettings() {
	d := s.store.Settings()
	s.write(reply{OK: true, Settings: &d})
}

func (s *Server) setShortcuts(pushToTalk, handsFree, commandMode string) {
	if _, err := hotkey.Normalise(pushToTalk); err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	if _, err := hotkey.Normalise(handsFree); err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}
	hasCommand := commandMode != ""
	if hasCommand {
		if _, err := hotkey.Normalise(commandMode); err != nil {
			s.write(reply{OK: false, Error: err.Error()})
			return
		}
	}

	err := s.store.Mutate(func(d *settings.Doc) error {
		d.Shortcuts = settings.Shortcuts{
			PushToTalk:      pushToTalk,
			HandsFreeToggle: handsFree,
			CommandMode:     commandMode,
		}
		return nil
	})
	if err != nil {
		s.write(reply{OK: false, Error: err.Error()})
		return
	}

	ptSpec, _ := hotkey.Parse(pushToTalk)
	hfSpec, _ := hotkey.Parse(handsFree)
	var cmSpec domain.HotkeySpec
	if hasCommand {
		cmSpec, _ = hotkey.Parse(commandMode)
	}
	if s.reconfigure != nil {
		s.reconfigure(ptSpec, hfSpec, cmSpec, hasCommand)
	}
	s.write(reply{OK: true})
}

func (s *Server) getAnalyticsStats() {
	stats := s.counter.Snapshot()
	s.write(reply{OK: true, Stats: &stats})
}
