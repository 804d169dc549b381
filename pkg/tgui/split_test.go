package tgui

import (
	"strings"
	"testing"
)

func TestSplitLinesSingleChunkNoMarker(t *testing.T) {
	got := SplitLines([]string{"a", "b", "c"}, 100)
	if len(got) != 1 {
		t.Fatalf("chunks = %d, want 1", len(got))
	}
	if got[0] != "a\nb\nc" {
		t.Fatalf("chunk = %q", got[0])
	}
	if strings.Contains(got[0], "part ") {
		t.Fatalf("single chunk should carry no part marker: %q", got[0])
	}
}

func TestSplitLinesMarksParts(t *testing.T) {
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 20)
	}
	got := SplitLines(lines, 120)
	if len(got) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(got))
	}
	for i, c := range got {
		want := "part "
		if !strings.Contains(c, want) {
			t.Fatalf("chunk %d missing marker: %q", i, c)
		}
		if rl := runeLen(c); rl > 120 {
			t.Fatalf("chunk %d is %d runes, over limit", i, rl)
		}
	}
}

func TestSplitLinesNeverBreaksALine(t *testing.T) {
	lines := []string{"first-line", "second-line", "third-line"}
	got := SplitLines(lines, 30)
	for _, c := range got {
		for _, l := range strings.Split(c, "\n") {
			if l == "" || strings.HasPrefix(l, "part ") {
				continue
			}
			found := false
			for _, orig := range lines {
				if l == orig {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("line %q was split or mangled", l)
			}
		}
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("héllo wörld", 5); got != "héll…" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := TruncRunes("abc", 0); got != "" {
		t.Fatalf("got %q", got)
	}
}
