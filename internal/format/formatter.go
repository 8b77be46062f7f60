// Package format implements the Text Post-Formatter (§4.D): optional
// local-LM cleanup of a raw transcription (smart punctuation/casing,
// full rewrite, or grammar-only correction), plus snippet expansion.
package format

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hammamikhairi/wisprd/internal/logger"
)

// clientCacheSize bounds how many distinct (baseURL, model) LLMClients
// the Formatter keeps warm at once. Every Format call names its own
// target, so a change of Ollama URL or model adds a client instead of
// replacing the only one.
const clientCacheSize = 4

// Mode selects how aggressively the formatter rewrites raw text.
type Mode int

const (
	ModeOff Mode = iota
	ModeSmart
	ModeRewrite
	ModeGrammar
)

// ParseMode maps a settings-document string to a Mode, defaulting to
// ModeOff for anything unrecognised so a corrupt config never crashes
// the pipeline, it just disables formatting.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "smart":
		return ModeSmart
	case "rewrite":
		return ModeRewrite
	case "grammar":
		return ModeGrammar
	default:
		return ModeOff
	}
}

// minWordCount is the gate below which formatting is skipped outright:
// a one- or two-word utterance has nothing for a rewrite pass to fix
// and risks the LM inventing content (spec §4.D).
const minWordCount = 3

var prompts = map[Mode]string{
	ModeSmart:   "Clean up the following dictated text: remove filler words (um, uh, like, you know), remove false starts and repeated words, add punctuation and fix capitalization, and normalise spoken numbers and dates into standard written form. Preserve the speaker's intended meaning. Reply with only the corrected text.",
	ModeRewrite: "Rewrite the following dictated text to be clear and well-formed prose, preserving its meaning. Reply with only the rewritten text.",
	ModeGrammar: "Correct only the grammar and punctuation of the following dictated text, changing as little else as possible. Reply with only the corrected text.",
}

// Formatter applies Mode-specific prompts to raw transcriptions,
// reusing one LLMClient per distinct (baseURL, model) target via a
// bounded LRU cache.
type Formatter struct {
	log     *logger.Logger
	factory func(baseURL, model string) *LLMClient

	clients *lru.Cache[string, *LLMClient]
}

// NewFormatter constructs a Formatter. factory is injected so tests can
// substitute a fake LLMClient constructor.
func NewFormatter(log *logger.Logger, factory func(baseURL, model string) *LLMClient) *Formatter {
	cache, _ := lru.New[string, *LLMClient](clientCacheSize)
	return &Formatter{log: log, factory: factory, clients: cache}
}

func (f *Formatter) clientFor(baseURL, model string) *LLMClient {
	key := baseURL + "|" + model
	if c, ok := f.clients.Get(key); ok {
		return c
	}
	c := f.factory(baseURL, model)
	f.clients.Add(key, c)
	return c
}

// Format applies mode to raw text, building the prompt from
// (mode, text, user_dictionary, optional_clipboard_context) per spec
// §4.D. dictionary is a list of preferred spellings injected verbatim
// into the prompt; clipboardContext, used only in ModeRewrite, is
// whatever text sat on the clipboard before dictation started, letting
// the LM constrain a rewrite against it (e.g. replying in the voice of
// a quoted message). It returns raw unchanged when mode is ModeOff,
// when raw has fewer than minWordCount words, when the LM call errors,
// or when the LM's reply is empty after trimming — a formatting
// failure must never erase a successful transcription (spec §4.D, §7).
func (f *Formatter) Format(ctx context.Context, raw string, mode Mode, baseURL, model string, dictionary []string, clipboardContext string) string {
	if mode == ModeOff {
		return raw
	}
	if wordCount(raw) < minWordCount {
		return raw
	}

	base, ok := prompts[mode]
	if !ok {
		return raw
	}
	prompt := buildPrompt(base, mode, dictionary, clipboardContext)

	client := f.clientFor(baseURL, model)
	reply, err := client.Chat(ctx, []Message{
		{Role: RoleSystem, Content: prompt},
		{Role: RoleUser, Content: raw},
	})
	if err != nil {
		f.log.Warn("format: llm call failed, falling back to raw text: %v", err)
		return raw
	}

	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		f.log.Warn("format: llm returned empty reply, falling back to raw text")
		return raw
	}
	return trimmed
}

// buildPrompt appends the user dictionary and (for ModeRewrite only)
// the clipboard context to the mode's base instruction.
func buildPrompt(base string, mode Mode, dictionary []string, clipboardContext string) string {
	var b strings.Builder
	b.WriteString(base)
	if len(dictionary) > 0 {
		b.WriteString("\nPreferred spellings, use these exactly wherever they apply: ")
		b.WriteString(strings.Join(dictionary, ", "))
		b.WriteString(".")
	}
	if mode == ModeRewrite && strings.TrimSpace(clipboardContext) != "" {
		b.WriteString("\nConstrain the rewrite using this clipboard context:\n")
		b.WriteString(clipboardContext)
	}
	return b.String()
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
