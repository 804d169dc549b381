package tgui

import "fmt"

// SplitLines packs lines into messages no longer than limit runes each,
// never breaking a line across messages. A single line longer than the
// limit is truncated. When more than one message results, each one is
// suffixed with a "part i/n" marker so readers can tell the pieces apart.
func SplitLines(lines []string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLen
	}
	const marker = "\n\npart %d/%d"
	// Reserve room for the widest plausible marker.
	reserve := len("\n\npart 99/99")
	body := limit - reserve
	if body < 1 {
		body = 1
	}

	var chunks []string
	cur := ""
	curLen := 0
	flush := func() {
		if cur != "" {
			chunks = append(chunks, cur)
			cur = ""
			curLen = 0
		}
	}
	for _, line := range lines {
		ln := runeLen(line)
		if ln > body {
			line = TruncRunes(line, body)
			ln = runeLen(line)
		}
		add := ln
		if cur != "" {
			add++ // newline separator
		}
		if curLen+add > body {
			flush()
			add = ln
		}
		if cur != "" {
			cur += "\n"
		}
		cur += line
		curLen += add
	}
	flush()

	if len(chunks) <= 1 {
		return chunks
	}
	for i := range chunks {
		chunks[i] += fmt.Sprintf(marker, i+1, len(chunks))
	}
	return chunks
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
