// Package hotkey implements HotkeySpec parsing/formatting and the
// push-to-talk/hands-free/command-mode state machine (§4.F).
package hotkey

import (
	"fmt"
	"strings"

	"github.com/hammamikhairi/wisprd/internal/domain"
)

var modifierTokens = map[string]func(*domain.HotkeySpec){
	"fn":      func(s *domain.HotkeySpec) { s.Fn = true },
	"ctrl":    func(s *domain.HotkeySpec) { s.Ctrl = true },
	"control": func(s *domain.HotkeySpec) { s.Ctrl = true },
	"shift":   func(s *domain.HotkeySpec) { s.Shift = true },
	"alt":     func(s *domain.HotkeySpec) { s.Alt = true },
	"option":  func(s *domain.HotkeySpec) { s.Alt = true },
	"meta":    func(s *domain.HotkeySpec) { s.Meta = true },
	"cmd":     func(s *domain.HotkeySpec) { s.Meta = true },
	"super":   func(s *domain.HotkeySpec) { s.Meta = true },
	"win":     func(s *domain.HotkeySpec) { s.Meta = true },
}

// Parse normalises a "+"-joined shortcut string (e.g. "Fn", "Ctrl +
// Shift + Space") into a HotkeySpec. Whitespace around tokens and
// token case are both ignored. A spec with no modifiers and no key is
// rejected; a spec naming more than one non-modifier key is rejected
// (spec §4.F, §3 HotkeySpec).
func Parse(raw string) (domain.HotkeySpec, error) {
	tokens := strings.Split(raw, "+")
	var spec domain.HotkeySpec
	var keyToken string
	sawAny := false

	for _, tok := range tokens {
		t := strings.ToLower(strings.TrimSpace(tok))
		if t == "" {
			continue
		}
		sawAny = true
		if setter, ok := modifierTokens[t]; ok {
			setter(&spec)
			continue
		}
		if keyToken != "" {
			return domain.HotkeySpec{}, fmt.Errorf("hotkey: multiple non-modifier keys in %q", raw)
		}
		keyToken = t
	}

	if !sawAny {
		return domain.HotkeySpec{}, fmt.Errorf("hotkey: empty hotkey spec")
	}
	spec.Key = domain.KeyToken(keyToken)
	if !hasAnyModifier(spec) && !spec.HasKey() {
		return domain.HotkeySpec{}, fmt.Errorf("hotkey: empty hotkey spec")
	}
	return spec, nil
}

func hasAnyModifier(s domain.HotkeySpec) bool {
	return s.Fn || s.Ctrl || s.Shift || s.Alt || s.Meta
}

// Format renders a HotkeySpec back to its canonical "+"-joined string,
// modifiers first in a fixed order, then the key if present.
func Format(spec domain.HotkeySpec) string {
	var parts []string
	if spec.Fn {
		parts = append(parts, "fn")
	}
	if spec.Ctrl {
		parts = append(parts, "ctrl")
	}
	if spec.Shift {
		parts = append(parts, "shift")
	}
	if spec.Alt {
		parts = append(parts, "alt")
	}
	if spec.Meta {
		parts = append(parts, "meta")
	}
	if spec.HasKey() {
		parts = append(parts, string(spec.Key))
	}
	return strings.Join(parts, "+")
}

// Normalise is Format(Parse(raw)) in one step, for callers that just
// want a canonical form without needing the parsed struct.
func Normalise(raw string) (string, error) {
	spec, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return Format(spec), nil
}
