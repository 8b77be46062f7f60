package hotkey

import (
	"context"

	"github.com/hammamikhairi/wisprd/internal/domain"
	"github.com/hammamikhairi/wisprd/internal/logger"
)

// Callbacks are invoked by the StateMachine on recording state changes
// and hold-indicator changes. They are called synchronously from
// whatever goroutine feeds Observe, matching the hook's "owned by a
// single thread" discipline (spec §5) — callers that need to act
// elsewhere should hand off to a channel themselves.
type Callbacks struct {
	Start func(ctx context.Context, handsFree, commandMode bool)
	Stop  func(ctx context.Context)
	Hold  func(ctx context.Context, held bool)
}

// StateMachine tracks modifier flags and pressed-key tokens and
// derives push-to-talk / hands-free / command-mode transitions from
// them (spec §4.F).
type StateMachine struct {
	log *logger.Logger
	cb  Callbacks

	pushToTalk  domain.HotkeySpec
	handsFree   domain.HotkeySpec
	commandMode domain.HotkeySpec
	hasCommand  bool

	modifiers   domain.HotkeySpec // Fn/Ctrl/Shift/Alt/Meta only, Key always ""
	pressed     map[domain.KeyToken]bool

	isHandsFree        bool
	wasHandsFreeActive bool
	wasCommandActive   bool
	recordingActive    bool
	commandArmed       bool
}

// NewStateMachine constructs a StateMachine. pushToTalk and handsFree
// must be distinct after normalisation; commandMode is optional (pass
// the zero value to disable it).
func NewStateMachine(log *logger.Logger, pushToTalk, handsFree, commandMode domain.HotkeySpec, hasCommand bool, cb Callbacks) *StateMachine {
	return &StateMachine{
		log:         log,
		cb:          cb,
		pushToTalk:  pushToTalk,
		handsFree:   handsFree,
		commandMode: commandMode,
		hasCommand:  hasCommand,
		pressed:     make(map[domain.KeyToken]bool),
	}
}

// CommandArmed reports whether the command-mode shortcut fired for the
// session about to start. Observe clears it via ConsumeCommandArmed when
// a session starts and passes the value to Callbacks.Start.
func (m *StateMachine) CommandArmed() bool {
	return m.commandArmed
}

// ConsumeCommandArmed reads and clears the command-armed flag.
func (m *StateMachine) ConsumeCommandArmed() bool {
	v := m.commandArmed
	m.commandArmed = false
	return v
}

// Observe processes one OS-level key event, updating internal state and
// invoking callbacks on edge transitions (spec §4.F transitions 1-5).
func (m *StateMachine) Observe(ctx context.Context, ev domain.KeyEvent) {
	prevModifiers := m.modifiers
	m.modifiers = domain.HotkeySpec{Fn: ev.Fn, Ctrl: ev.Ctrl, Shift: ev.Shift, Alt: ev.Alt, Meta: ev.Meta}

	if ev.Key != "" {
		if ev.Pressed {
			m.pressed[ev.Key] = true
		} else {
			delete(m.pressed, ev.Key)
		}
	}

	// Release-ordering robustness: if Fn just went from down to up, drop
	// every other pressed key too — a companion key left in the set after
	// Fn releases would otherwise wedge is_active() permanently true for
	// any spec keyed off that companion alone.
	if prevModifiers.Fn && !m.modifiers.Fn {
		for k := range m.pressed {
			delete(m.pressed, k)
		}
	}

	handsFreeActive := m.isActive(m.handsFree)
	if handsFreeActive && !m.wasHandsFreeActive {
		m.isHandsFree = !m.isHandsFree
	}
	m.wasHandsFreeActive = handsFreeActive

	if m.hasCommand && m.isActive(m.commandMode) && !m.wasCommandActive {
		m.commandArmed = true
	}
	m.wasCommandActive = m.hasCommand && m.isActive(m.commandMode)

	pushActive := false
	if !m.isHandsFree {
		pushActive = m.isActive(m.pushToTalk)
	}
	shouldRecord := m.isHandsFree || pushActive

	if shouldRecord != m.recordingActive {
		m.recordingActive = shouldRecord
		if m.cb.Hold != nil {
			m.cb.Hold(ctx, shouldRecord)
		}
		if shouldRecord {
			if m.cb.Start != nil {
				m.cb.Start(ctx, m.isHandsFree, m.ConsumeCommandArmed())
			}
		} else {
			if m.cb.Stop != nil {
				m.cb.Stop(ctx)
			}
		}
	}
}

// isActive reports whether spec's modifiers are all down and, if it
// names a key, exactly that key token is in the pressed set.
func (m *StateMachine) isActive(spec domain.HotkeySpec) bool {
	if spec.Fn && !m.modifiers.Fn {
		return false
	}
	if spec.Ctrl && !m.modifiers.Ctrl {
		return false
	}
	if spec.Shift && !m.modifiers.Shift {
		return false
	}
	if spec.Alt && !m.modifiers.Alt {
		return false
	}
	if spec.Meta && !m.modifiers.Meta {
		return false
	}
	if spec.HasKey() {
		return m.pressed[spec.Key]
	}
	return true
}
