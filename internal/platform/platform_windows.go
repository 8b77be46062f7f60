//go:build windows

package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
	"unsafe"

	"github.com/micmonay/keybd_event"
	"golang.org/x/sys/windows"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow  = user32.NewProc("GetForegroundWindow")
	procSetForegroundWindow  = user32.NewProc("SetForegroundWindow")
	procGetWindowThreadPID   = user32.NewProc("GetWindowThreadProcessId")
	procSetWindowsHookExW    = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx       = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx  = user32.NewProc("UnhookWindowsHookEx")
	procGetMessageW          = user32.NewProc("GetMessageW")
	procTranslateMessage     = user32.NewProc("TranslateMessage")
	procDispatchMessageW     = user32.NewProc("DispatchMessageW")
)

const whKeyboardLL = 13
const (
	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
)

// defaultFnVKey is Microsoft Surface-family hardware's reported virtual
// key for the Fn modifier; most OEM keyboards never surface Fn to the
// OS at all, hence the OPENWISPR_FN_VKEY override. Fn is matched by
// virtual key only; OPENWISPR_FN_MAKECODE is not read.
const defaultFnVKey = 0xFF

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

var (
	hookMu    sync.Mutex
	hookChans []chan<- domain.KeyEvent
	fnVKey    uint32 = defaultFnVKey
	ctrlDown, shiftDown, altDown, metaDown bool
)

// windowsPlatform implements the Platform interface via user32's
// low-level keyboard hook (WH_KEYBOARD_LL, installed listen-only by
// simply never swallowing events — always calling CallNextHookEx) and
// SetForegroundWindow/GetForegroundWindow for focus capture/restore.
type windowsPlatform struct {
	log     *logger.Logger
	selfPID int32
}

func newWindowsPlatform(log *logger.Logger) (domain.Platform, error) {
	if v := os.Getenv("OPENWISPR_FN_VKEY"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 32); err == nil {
			fnVKey = uint32(n)
		}
	}
	return &windowsPlatform{log: log, selfPID: int32(os.Getpid())}, nil
}

func (p *windowsPlatform) CaptureForeground(ctx context.Context) (domain.ForegroundTarget, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return domain.ForegroundTarget{}, fmt.Errorf("platform: no foreground window")
	}
	var pid uint32
	procGetWindowThreadPID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if int32(pid) == p.selfPID {
		return domain.ForegroundTarget{}, fmt.Errorf("platform: refusing to target our own process: %w", domain.ErrPasteTargetInvalid)
	}
	return domain.ForegroundTarget{WindowHandle: uint64(hwnd), PID: int32(pid), Valid: true}, nil
}

func (p *windowsPlatform) RestoreForeground(ctx context.Context, target domain.ForegroundTarget) error {
	if !target.Valid {
		return fmt.Errorf("platform: %w", domain.ErrPasteTargetInvalid)
	}
	ok, _, err := procSetForegroundWindow.Call(uintptr(target.WindowHandle))
	if ok == 0 {
		return fmt.Errorf("platform: SetForegroundWindow failed: %w", err)
	}
	return nil
}

func (p *windowsPlatform) SynthesizePasteChord(ctx context.Context) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("platform: keybd init: %w", err)
	}
	kb.HasCTRL(true)
	kb.SetKeys(keybd_event.VK_V)
	time.Sleep(10 * time.Millisecond)
	return kb.Launching()
}

func (p *windowsPlatform) TypeText(ctx context.Context, text string) error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return fmt.Errorf("platform: keybd init: %w", err)
	}
	for _, r := range text {
		if vk, ok := runeToVK(r); ok {
			kb.SetKeys(vk)
			if err := kb.Launching(); err != nil {
				return fmt.Errorf("platform: type keystroke %q: %w", r, err)
			}
			time.Sleep(4 * time.Millisecond)
		}
	}
	return nil
}

func runeToVK(r rune) (int, bool) {
	if r >= 'a' && r <= 'z' {
		return int(keybd_event.VK_A + (r - 'a')), true
	}
	if r >= 'A' && r <= 'Z' {
		return int(keybd_event.VK_A + (r - 'A')), true
	}
	if r == ' ' {
		return keybd_event.VK_SPACE, true
	}
	return 0, false
}

func (p *windowsPlatform) InstallHotkeyHook(ctx context.Context) (<-chan domain.KeyEvent, error) {
	ch := make(chan domain.KeyEvent, 16)
	hookMu.Lock()
	hookChans = append(hookChans, ch)
	hookMu.Unlock()

	started := make(chan error, 1)
	go runHookMessageLoop(ctx, started)
	if err := <-started; err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		hookMu.Lock()
		defer hookMu.Unlock()
		for i, c := range hookChans {
			if c == (chan<- domain.KeyEvent)(ch) {
				hookChans = append(hookChans[:i], hookChans[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func runHookMessageLoop(ctx context.Context, started chan<- error) {
	hookProc := windows.NewCallback(lowLevelKeyboardProc)
	hHook, _, _ := procSetWindowsHookExW.Call(uintptr(whKeyboardLL), hookProc, 0, 0)
	if hHook == 0 {
		started <- fmt.Errorf("platform: SetWindowsHookExW failed")
		return
	}
	started <- nil
	defer procUnhookWindowsHookEx.Call(hHook)

	var msg struct {
		hwnd    uintptr
		message uint32
		wParam  uintptr
		lParam  uintptr
		time    uint32
		pt      struct{ x, y int32 }
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(ret) <= 0 {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

// lowLevelKeyboardProc never swallows an event (always defers to
// CallNextHookEx) — the spec requires the tap stay listen-only so
// synthetic paste keystrokes from the Injector remain observable
// without the hook accidentally eating real input.
func lowLevelKeyboardProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode >= 0 {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		pressed := wParam == wmKeyDown || wParam == wmSysKeyDown
		released := wParam == wmKeyUp || wParam == wmSysKeyUp
		if pressed || released {
			dispatchKeyEvent(kb.VkCode, pressed)
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func dispatchKeyEvent(vkCode uint32, pressed bool) {
	hookMu.Lock()
	switch vkCode {
	case 0x11:
		ctrlDown = pressed
	case 0x10:
		shiftDown = pressed
	case 0x12:
		altDown = pressed
	case 0x5B, 0x5C:
		metaDown = pressed
	}
	ev := domain.KeyEvent{
		Ctrl: ctrlDown, Shift: shiftDown, Alt: altDown, Meta: metaDown,
		Fn:      vkCode == fnVKey && pressed,
		Key:     vkTokenFor(vkCode),
		Pressed: pressed,
	}
	chans := append([]chan<- domain.KeyEvent(nil), hookChans...)
	hookMu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

func vkTokenFor(vkCode uint32) domain.KeyToken {
	switch {
	case vkCode == fnVKey:
		return "fn"
	case vkCode == 0x20:
		return "space"
	case vkCode >= 'A' && vkCode <= 'Z':
		return domain.KeyToken(string(rune('a' + (vkCode - 'A'))))
	case vkCode >= 0x70 && vkCode <= 0x87:
		return domain.KeyToken(fmt.Sprintf("f%d", vkCode-0x70+1))
	default:
		return ""
	}
}
