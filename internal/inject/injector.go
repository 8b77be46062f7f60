// Package inject implements the Clipboard-Preserving Injector (§4.E):
// staging transcribed text onto the clipboard, pasting it into
// whatever window held focus when dictation started, and restoring the
// clipboard's prior contents afterwards.
package inject

import (
	"context"
	"strings"
	"time"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

const (
	focusRestoreDelay  = 45 * time.Millisecond
	pasteSettleDelay   = 120 * time.Millisecond
	restoreRetryDelay  = 80 * time.Millisecond
	restoreMaxRetries  = 10
)

// Injector carries out the paste-and-restore sequence against a
// Platform implementation and a ClipboardIO.
type Injector struct {
	log       *logger.Logger
	platform  domain.Platform
	clipboard ClipboardIO
	selfPID   int32
}

// NewInjector constructs an Injector. selfPID is this process's own
// PID, used by the self-paste guard to reject a captured foreground
// target that is actually the daemon's own overlay window.
func NewInjector(log *logger.Logger, platform domain.Platform, clip ClipboardIO, selfPID int32) *Injector {
	return &Injector{log: log, platform: platform, clipboard: clip, selfPID: selfPID}
}

// Inject types or pastes text into target. Empty or whitespace-only
// text is a silent no-op (spec §4.E). The sequence is: snapshot the
// current clipboard, stage text onto it, restore keyboard focus to
// target, synthesize the paste chord, wait for the paste to land, then
// restore the original clipboard contents with bounded retries — a
// paste can itself briefly hold the clipboard lock, so a single
// attempt is not reliable (spec §4.E, §8).
func (i *Injector) Inject(ctx context.Context, text string, target domain.ForegroundTarget) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !target.Valid || target.PID == i.selfPID {
		i.log.Warn("inject: no valid foreground target (or self-paste guard tripped), typing instead")
		return i.platform.TypeText(ctx, text)
	}

	snapshot, err := i.clipboard.Snapshot(ctx)
	if err != nil {
		i.log.Warn("inject: clipboard snapshot failed, typing instead: %v", err)
		return i.platform.TypeText(ctx, text)
	}

	if err := i.clipboard.SetText(ctx, text); err != nil {
		i.log.Warn("inject: stage text on clipboard failed, typing instead: %v", err)
		return i.platform.TypeText(ctx, text)
	}

	if err := i.platform.RestoreForeground(ctx, target); err != nil {
		i.log.Warn("inject: restore foreground failed: %v", err)
	}
	sleep(ctx, focusRestoreDelay)

	if err := i.platform.SynthesizePasteChord(ctx); err != nil {
		i.log.Warn("inject: paste chord failed, falling back to typing: %v", err)
		return i.platform.TypeText(ctx, text)
	}
	sleep(ctx, pasteSettleDelay)

	i.restoreClipboardWithRetry(ctx, snapshot)
	return nil
}

// PeekClipboardText returns whatever plain text currently sits on the
// clipboard, or "" if the clipboard holds something else (image, HTML,
// file list) or nothing at all. Used by the Text Post-Formatter's
// rewrite mode to constrain a rewrite against clipboard context (spec
// §4.D) — a read-only peek, independent of Inject's own snapshot/
// restore cycle.
func (i *Injector) PeekClipboardText(ctx context.Context) string {
	snap, err := i.clipboard.Snapshot(ctx)
	if err != nil || snap.Kind != domain.ClipboardText {
		return ""
	}
	return snap.Text
}

func (i *Injector) restoreClipboardWithRetry(ctx context.Context, snapshot domain.ClipboardSnapshot) {
	var err error
	for attempt := 0; attempt < restoreMaxRetries; attempt++ {
		if err = i.clipboard.Restore(ctx, snapshot); err == nil {
			return
		}
		sleep(ctx, restoreRetryDelay)
	}
	i.log.Warn("inject: clipboard restore failed after %d attempts: %v", restoreMaxRetries, err)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
