package domain

// ClipboardKind tags the variant held by a ClipboardSnapshot.
type ClipboardKind int

const (
	ClipboardCleared ClipboardKind = iota
	ClipboardText
	ClipboardHTML
	ClipboardImage
	ClipboardFileList
)

// ClipboardSnapshot is a tagged union over the clipboard content types the
// injector knows how to preserve. Exactly one of the payload fields is
// populated, selected by Kind.
type ClipboardSnapshot struct {
	Kind ClipboardKind

	Text string // ClipboardText

	HTML    string // ClipboardHTML
	AltText string // ClipboardHTML fallback plain text

	ImageWidth  int    // ClipboardImage
	ImageHeight int    // ClipboardImage
	ImageBytes  []byte // ClipboardImage, raw (e.g. PNG)

	FilePaths []string // ClipboardFileList
}

// ForegroundTarget is an OS-specific opaque handle to the process/window
// that held keyboard focus when dictation began. Captured on hotkey
// press; remains valid until session end or OS invalidation.
type ForegroundTarget struct {
	// PID identifies the owning process (used for the macOS self-paste guard).
	PID int32
	// WindowHandle is an opaque per-OS window identifier (HWND on Windows,
	// AXUIElement-backed id on macOS, window id on X11/Wayland).
	WindowHandle uint64
	// ProcessName is informational, for logs only.
	ProcessName string
	// Valid is false for the zero value (no target captured yet).
	Valid bool
}
