package domain

import "context"

// Platform abstracts the OS-specific primitives the core needs: capturing
// and restoring keyboard focus, synthesizing a paste chord or raw
// keystrokes, and installing the global hotkey hook. One implementation
// exists per target OS (internal/platform); the core is otherwise
// platform-agnostic (Design Note §9).
type Platform interface {
	// CaptureForeground snapshots whichever window/process currently
	// holds keyboard focus. Must reject the core's own process (self-paste
	// guard).
	CaptureForeground(ctx context.Context) (ForegroundTarget, error)
	// RestoreForeground re-focuses the given target. Implementations
	// should sleep briefly afterwards to let the OS apply the change.
	RestoreForeground(ctx context.Context, target ForegroundTarget) error
	// SynthesizePasteChord sends the platform paste chord (Cmd+V / Ctrl+V)
	// to whichever window currently has focus.
	SynthesizePasteChord(ctx context.Context) error
	// TypeText synthesizes individual keystrokes for the given text, used
	// as a last-resort injection path when the clipboard is unavailable.
	TypeText(ctx context.Context, text string) error
	// InstallHotkeyHook starts the OS-level raw input tap and delivers
	// KeyEvent values on the returned channel until ctx is cancelled.
	InstallHotkeyHook(ctx context.Context) (<-chan KeyEvent, error)
}

// KeyEvent is one observed transition from the OS-level raw input hook.
type KeyEvent struct {
	Fn      bool
	Ctrl    bool
	Shift   bool
	Alt     bool
	Meta    bool
	Key     KeyToken
	Pressed bool // true = key down, false = key up
}

// Notifier delivers UI-facing events. The core only ever calls this; how
// the events reach a tray icon, overlay window, or log file is the
// collaborator's business.
type Notifier interface {
	StatusChanged(ctx context.Context, status string, errMsg string)
	TranscriptionResult(ctx context.Context, text, language string, confidence *float32, isFinal bool)
	AudioLevel(ctx context.Context, level float64)
	HotkeyHold(ctx context.Context, held bool)
	ModelDownloadProgress(ctx context.Context, ev ModelDownloadEvent)
	AnalyticsUpdate(ctx context.Context, durationSeconds float64, wordCount int)
}

// ModelDownloadEvent is one progress tick of a model download (§6).
type ModelDownloadEvent struct {
	Model           string
	Stage           string // "downloading", "unpacking", "venv", "installing", "converting", "ready", "error"
	DownloadedBytes int64
	TotalBytes      int64 // 0 if unknown
	Percent         float64
	Done            bool
	Error           string
	Message         string
}
