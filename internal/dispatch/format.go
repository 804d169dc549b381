package dispatch

import (
	"fmt"
	"strings"

	"slotwatch/internal/diff"
	"slotwatch/internal/provider"
	"slotwatch/pkg/tgui"
)

func formatChanges(course string, ch diff.Changes) []string {
	lines := []string{fmt.Sprintf("%s changed:", tgui.B(course))}

	for _, s := range ch.Added {
		lines = append(lines, fmt.Sprintf("➕ %s now offered (%s)", sectionLabel(s), seats(s)))
	}
	for _, s := range ch.Removed {
		lines = append(lines, fmt.Sprintf("➖ %s no longer offered", sectionLabel(s)))
	}
	for _, e := range ch.Enrollment {
		s := e.Section
		if e.Opened {
			lines = append(lines, fmt.Sprintf("🟢 %s OPENED, %d seat(s) free", sectionLabel(s), s.EnrlCap-s.Enrolled))
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s enrollment %d to %d (%s)",
			sectionLabel(s), e.OldEnrolled, e.NewEnrolled, seats(s)))
	}
	return lines
}

func formatStatus(course string, snap diff.Snapshot) []string {
	secs := snap.Sections()
	if len(secs) == 0 {
		return []string{fmt.Sprintf("%s: no sections offered", tgui.B(course))}
	}
	open := 0
	lines := make([]string, 0, len(secs)+1)
	for _, s := range secs {
		mark := "🔴"
		if s.Open() {
			mark = "🟢"
			open++
		}
		lines = append(lines, statusLine(mark, s))
	}
	head := fmt.Sprintf("%s: %d/%d sections open", tgui.B(course), open, len(secs))
	return append([]string{head}, lines...)
}

func statusLine(mark string, s provider.Section) string {
	parts := []string{mark, sectionLabel(s), seats(s)}
	if s.Instructor != "" {
		parts = append(parts, string(tgui.I(s.Instructor)))
	}
	for _, m := range s.Meetings {
		mt := m.Day + " " + m.Time
		if m.Room != "" {
			mt += " " + m.Room
		}
		parts = append(parts, string(tgui.Esc(mt)))
	}
	return strings.Join(parts, " ")
}

func sectionLabel(s provider.Section) string {
	return fmt.Sprintf("%s [%s]", tgui.Code(fmt.Sprint(s.ClassNbr)), tgui.Esc(s.Section))
}

func seats(s provider.Section) string {
	return fmt.Sprintf("%d/%d", s.Enrolled, s.EnrlCap)
}
