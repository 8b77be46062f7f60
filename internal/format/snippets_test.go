package format

import (
	"testing"
	"time"
)

func TestSnippetExpandBasic(t *testing.T) {
	e := NewSnippetExpander([]Snippet{
		{Trigger: "my email", Expansion: "jane@example.com"},
	})
	got := e.Expand("send it to my email please", time.Time{})
	want := "send it to jane@example.com please"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSnippetExpandLongestTriggerWins(t *testing.T) {
	e := NewSnippetExpander([]Snippet{
		{Trigger: "my email", Expansion: "SHORT"},
		{Trigger: "my email address", Expansion: "LONG"},
	})
	got := e.Expand("here is my email address", time.Time{})
	if got != "here is LONG" {
		t.Fatalf("expected longest trigger to win, got %q", got)
	}
}

func TestSnippetExpandCaseInsensitive(t *testing.T) {
	e := NewSnippetExpander([]Snippet{{Trigger: "sig block", Expansion: "Best, Jane"}})
	got := e.Expand("add my SIG BLOCK here", time.Time{})
	if got != "add my Best, Jane here" {
		t.Fatalf("got %q", got)
	}
}

func TestSnippetExpandDateTimeSubstitution(t *testing.T) {
	e := NewSnippetExpander([]Snippet{{Trigger: "today", Expansion: "{{date}}"}})
	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	got := e.Expand("meeting today", now)
	if got != "meeting 2026-03-05" {
		t.Fatalf("got %q", got)
	}
}

func TestSnippetExpandNoSnippetsIsNoop(t *testing.T) {
	e := NewSnippetExpander(nil)
	if got := e.Expand("unchanged text", time.Time{}); got != "unchanged text" {
		t.Fatalf("expected no-op, got %q", got)
	}
}
