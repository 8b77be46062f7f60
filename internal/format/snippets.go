package format

import (
	"sort"
	"strings"
	"time"
)

// Snippet is one trigger/expansion pair from the settings document's
// snippets list (spec §6).
type Snippet struct {
	Trigger   string
	Expansion string
}

// SnippetExpander applies the user's configured trigger phrases to a
// formatted transcription before injection.
type SnippetExpander struct {
	snippets []Snippet
}

// NewSnippetExpander sorts snippets by trigger length descending so a
// longer trigger is matched before a shorter one it contains (e.g.
// "my email address" before "my email"), per spec §4.D.
func NewSnippetExpander(snippets []Snippet) *SnippetExpander {
	sorted := make([]Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Trigger) > len(sorted[j].Trigger)
	})
	return &SnippetExpander{snippets: sorted}
}

// Expand replaces every case-insensitive trigger occurrence in text
// with its expansion, substituting {{date}}/{{time}} in the expansion
// at the moment of substitution. now is injected so callers control
// the clock the substitution uses.
func (e *SnippetExpander) Expand(text string, now time.Time) string {
	if len(e.snippets) == 0 || text == "" {
		return text
	}

	out := text
	for _, s := range e.snippets {
		if s.Trigger == "" {
			continue
		}
		expansion := substituteDateTime(s.Expansion, now)
		out = replaceCaseInsensitive(out, s.Trigger, expansion)
	}
	return out
}

func substituteDateTime(s string, now time.Time) string {
	s = strings.ReplaceAll(s, "{{date}}", now.Format("2006-01-02"))
	s = strings.ReplaceAll(s, "{{time}}", now.Format("15:04"))
	return s
}

func replaceCaseInsensitive(text, trigger, replacement string) string {
	lowerText := strings.ToLower(text)
	lowerTrigger := strings.ToLower(trigger)

	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lowerText[i:], lowerTrigger)
		if idx == -1 {
			b.WriteString(text[i:])
			break
		}
		start := i + idx
		b.WriteString(text[i:start])
		b.WriteString(replacement)
		i = start + len(trigger)
	}
	return b.String()
}
