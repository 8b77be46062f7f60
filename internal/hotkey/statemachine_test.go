package hotkey

import (
	"context"
	"io"
	"testing"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

func mustParse(t *testing.T, raw string) domain.HotkeySpec {
	t.Helper()
	s, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return s
}

func TestStateMachinePushToTalkStartStop(t *testing.T) {
	var starts, stops, holds []bool
	sm := NewStateMachine(logger.New(logger.LevelOff, io.Discard),
		mustParse(t, "fn"), mustParse(t, "fn+space"), domain.HotkeySpec{}, false,
		Callbacks{
			Start: func(ctx context.Context, handsFree, cmd bool) { starts = append(starts, handsFree) },
			Stop:  func(ctx context.Context) { stops = append(stops, true) },
			Hold:  func(ctx context.Context, held bool) { holds = append(holds, held) },
		})

	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "fn", Pressed: true})
	if len(starts) != 1 {
		t.Fatalf("expected one start, got %d", len(starts))
	}
	if starts[0] != false {
		t.Fatalf("expected push-to-talk (handsFree=false), got %v", starts[0])
	}

	sm.Observe(context.Background(), domain.KeyEvent{Fn: false, Key: "fn", Pressed: false})
	if len(stops) != 1 {
		t.Fatalf("expected one stop, got %d", len(stops))
	}
	if len(holds) != 2 {
		t.Fatalf("expected hold toggled twice, got %d", len(holds))
	}
}

func TestStateMachineHandsFreeToggleSpansTwoPresses(t *testing.T) {
	var starts, stops int
	sm := NewStateMachine(logger.New(logger.LevelOff, io.Discard),
		mustParse(t, "fn"), mustParse(t, "fn+space"), domain.HotkeySpec{}, false,
		Callbacks{
			Start: func(ctx context.Context, handsFree, cmd bool) { starts++ },
			Stop:  func(ctx context.Context) { stops++ },
		})

	// Press Fn+Space: Fn alone starts push-to-talk, then the hands-free rising edge toggles on and keeps should_record true.
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "fn", Pressed: true})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "space", Pressed: true})
	if starts != 1 {
		t.Fatalf("expected 1 start after first hands-free activation, got %d", starts)
	}

	// Release both keys: hands-free stays on (no toggle on release), recording continues.
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "space", Pressed: false})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: false, Key: "fn", Pressed: false})
	if stops != 0 {
		t.Fatalf("expected recording to continue across the release, got %d stops", stops)
	}

	// Press Fn+Space again: second rising edge toggles hands-free off; push-to-talk
	// keeps recording while Fn is held, so the single stop comes on release.
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "fn", Pressed: true})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "space", Pressed: true})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "space", Pressed: false})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: false, Key: "fn", Pressed: false})
	if stops != 1 {
		t.Fatalf("expected exactly one stop after second toggle, got %d", stops)
	}
	if starts != 1 {
		t.Fatalf("expected exactly one start across the whole scenario, got %d", starts)
	}
}

func TestStateMachineFnReleaseClearsCompanionKeys(t *testing.T) {
	var stops int
	sm := NewStateMachine(logger.New(logger.LevelOff, io.Discard),
		mustParse(t, "fn+a"), mustParse(t, "fn+space"), domain.HotkeySpec{}, false,
		Callbacks{Stop: func(ctx context.Context) { stops++ }})

	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "fn", Pressed: true})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Key: "a", Pressed: true})
	// Fn releases first while "a" is still (erroneously) reported held.
	sm.Observe(context.Background(), domain.KeyEvent{Fn: false, Key: "fn", Pressed: false})

	if sm.pressed["a"] {
		t.Fatalf("expected companion key 'a' cleared after Fn release")
	}
}

func TestStateMachineCommandModeArmsNextSession(t *testing.T) {
	var armedOnStart bool
	sm := NewStateMachine(logger.New(logger.LevelOff, io.Discard),
		mustParse(t, "fn"), mustParse(t, "fn+space"), mustParse(t, "ctrl+fn"), true,
		Callbacks{Start: func(ctx context.Context, handsFree, cmd bool) { armedOnStart = cmd }})

	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Ctrl: true, Key: "fn", Pressed: true})
	sm.Observe(context.Background(), domain.KeyEvent{Fn: true, Ctrl: false, Key: "ctrl", Pressed: false})

	if !armedOnStart {
		t.Fatalf("expected command mode armed for the push-to-talk session that followed")
	}
}
