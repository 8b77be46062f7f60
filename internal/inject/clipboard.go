package inject

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
	xclipboard "golang.design/x/clipboard"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

// ClipboardIO abstracts the host clipboard. One implementation
// (systemClipboard) wraps atotto/clipboard for the plain-text fast
// path and golang.design/x/clipboard for image payloads — the teacher
// only ever needed text, so this is a new surface grounded on the rest
// of the example corpus's clipboard usage.
type ClipboardIO interface {
	Snapshot(ctx context.Context) (domain.ClipboardSnapshot, error)
	Restore(ctx context.Context, snap domain.ClipboardSnapshot) error
	SetText(ctx context.Context, text string) error
}

type systemClipboard struct {
	imageSupported bool
}

// NewSystemClipboard probes golang.design/x/clipboard's native image
// backend once at startup; if unavailable (headless/CI, missing X11
// libs) image snapshot/restore degenerates to text-only, matching the
// injector's no-op-on-unsupported-format rule (spec §4.E).
func NewSystemClipboard() ClipboardIO {
	err := xclipboard.Init()
	return &systemClipboard{imageSupported: err == nil}
}

// Snapshot reads whatever is currently on the clipboard. Text is
// authoritative when present (the overwhelmingly common case); image
// bytes are captured only when the text slot is empty and the native
// image backend is available. HTML and file-list clipboard formats
// have no portable cross-platform Go reader in the example corpus, so
// a clipboard holding only one of those comes back as ClipboardCleared
// — restoring it later is then a no-op rather than a corrupting write.
func (s *systemClipboard) Snapshot(ctx context.Context) (domain.ClipboardSnapshot, error) {
	text, err := clipboard.ReadAll()
	if err == nil && text != "" {
		return domain.ClipboardSnapshot{Kind: domain.ClipboardText, Text: text}, nil
	}

	if s.imageSupported {
		if img := xclipboard.Read(xclipboard.FmtImage); len(img) > 0 {
			return domain.ClipboardSnapshot{Kind: domain.ClipboardImage, ImageBytes: img}, nil
		}
	}

	return domain.ClipboardSnapshot{Kind: domain.ClipboardCleared}, nil
}

// Restore writes a previously captured snapshot back to the clipboard.
// ClipboardCleared is a deliberate no-op: clearing the clipboard on
// restore would be more surprising than leaving whatever the paste
// left behind.
func (s *systemClipboard) Restore(ctx context.Context, snap domain.ClipboardSnapshot) error {
	switch snap.Kind {
	case domain.ClipboardCleared:
		return nil
	case domain.ClipboardText:
		return clipboard.WriteAll(snap.Text)
	case domain.ClipboardImage:
		if !s.imageSupported {
			return fmt.Errorf("inject: image clipboard restore unsupported on this host")
		}
		<-xclipboard.Write(xclipboard.FmtImage, snap.ImageBytes)
		return nil
	case domain.ClipboardHTML:
		return clipboard.WriteAll(snap.AltText)
	case domain.ClipboardFileList:
		return nil
	default:
		return nil
	}
}

// SetText stages text to paste (spec §4.E step 2).
func (s *systemClipboard) SetText(ctx context.Context, text string) error {
	return clipboard.WriteAll(text)
}
