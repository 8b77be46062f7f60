//go:build linux

package platform

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/micmonay/keybd_event"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// linuxPlatform shells out to xdotool for window focus capture/restore
// and paste synthesis (the approach the corpus's other speak-to-ai
// config names as its ClipboardTool/TypeTool integration points).
// Polling /proc/bus/input/devices + evtest-style key-state reads for the
// hotkey hook is impractical without root, so the hook instead reads
// X11 key events from a long-running `xinput test-xi2 --root` process.
type linuxPlatform struct {
	log     *logger.Logger
	selfPID int32
}

func newLinuxPlatform(log *logger.Logger) (domain.Platform, error) {
	if _, err := exec.LookPath("xdotool"); err != nil {
		log.Warn("platform: xdotool not found on PATH; focus capture/paste will degrade to typing")
	}
	return &linuxPlatform{log: log, selfPID: int32(os.Getpid())}, nil
}

func (p *linuxPlatform) CaptureForeground(ctx context.Context) (domain.ForegroundTarget, error) {
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow").Output()
	if err != nil {
		return domain.ForegroundTarget{}, fmt.Errorf("platform: xdotool getactivewindow: %w", err)
	}
	winID, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return domain.ForegroundTarget{}, fmt.Errorf("platform: parse window id: %w", err)
	}

	pidOut, _ := exec.CommandContext(ctx, "xdotool", "getwindowpid", strings.TrimSpace(string(out))).Output()
	pid, _ := strconv.Atoi(strings.TrimSpace(string(pidOut)))
	if int32(pid) == p.selfPID {
		return domain.ForegroundTarget{}, fmt.Errorf("platform: refusing to target our own process: %w", domain.ErrPasteTargetInvalid)
	}

	return domain.ForegroundTarget{
		WindowHandle: winID,
		PID:          int32(pid),
		Valid:        true,
	}, nil
}

func (p *linuxPlatform) RestoreForeground(ctx context.Context, target domain.ForegroundTarget) error {
	if !target.Valid {
		return fmt.Errorf("platform: %w", domain.ErrPasteTargetInvalid)
	}
	id := strconv.FormatUint(target.WindowHandle, 10)
	if err := exec.CommandContext(ctx, "xdotool", "windowactivate", "--sync", id).Run(); err != nil {
		return fmt.Errorf("platform: xdotool windowactivate: %w", err)
	}
	return nil
}

func (p *linuxPlatform) SynthesizePasteChord(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "xdotool", "key", "--clearmodifiers", "ctrl+v").Run(); err == nil {
		return nil
	}
	return p.synthesizeKeyEvent(keybd_event.VK_V, true)
}

func (p *linuxPlatform) TypeText(ctx context.Context, text string) error {
	if err := exec.CommandContext(ctx, "xdotool", "type", "--clearmodifiers", "--", text).Run(); err == nil {
		return nil
	}
	return p.typeViaKeybd(text)
}

func (p *linuxPlatform) synthesizeKeyEvent(vk int, withCtrl bool) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("platform: keybd init: %w", err)
	}
	if withCtrl {
		kb.HasCTRL(true)
	}
	kb.SetKeys(vk)
	time.Sleep(10 * time.Millisecond)
	return kb.Launching()
}

func (p *linuxPlatform) typeViaKeybd(_ string) error {
	return fmt.Errorf("platform: keybd fallback typing unavailable for arbitrary unicode, install xdotool")
}

// InstallHotkeyHook polls xdotool's key event stream via `xdotool
// behave_screen_edge`-style long-running process is not suitable for
// modifier-only keys; instead this shells out to `xinput test-xi2
// --root` and parses raw key press/release lines, translating them
// into domain.KeyEvent values. The tap only ever reads events
// (listen-only); it never consumes them.
func (p *linuxPlatform) InstallHotkeyHook(ctx context.Context) (<-chan domain.KeyEvent, error) {
	cmd := exec.CommandContext(ctx, "xinput", "test-xi2", "--root")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("platform: xinput stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("platform: start xinput: %w", err)
	}

	ch := make(chan domain.KeyEvent, 16)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(stdout)
		var modifiers domain.KeyEvent
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			ev, ok := parseXInputLine(scanner.Text(), &modifiers)
			if ok {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// parseXInputLine is a narrow parser for the subset of xinput's
// human-readable event stream this daemon cares about (key press/
// release lines); it returns a copy of *modifiers with Pressed set, or
// ok=false if the line carried no key transition. modifiers is never
// updated and the returned event carries no Key.
func parseXInputLine(line string, modifiers *domain.KeyEvent) (domain.KeyEvent, bool) {
	line = strings.TrimSpace(line)
	pressed := strings.HasPrefix(line, "EVENT type 2")  // KeyPress
	released := strings.HasPrefix(line, "EVENT type 3") // KeyRelease
	if !pressed && !released {
		return domain.KeyEvent{}, false
	}
	// No keycode-to-token mapping is done (that needs an XKB keymap
	// lookup), so only the press/release transition is reported.
	ev := *modifiers
	ev.Pressed = pressed
	return ev, true
}
