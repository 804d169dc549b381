// Package diff compares two snapshots of a tracked course and reports what
// changed: sections appearing or disappearing from the offering list, and
// enrollment movement, including the full-to-open transitions subscribers
// actually care about.
package diff

import (
	"sort"

	"slotwatch/internal/provider"
)

// Snapshot indexes the sections of one tracking key by class number.
type Snapshot map[int]provider.Section

// Build indexes sections into a snapshot. Later duplicates win; the
// provider rejects duplicate class numbers upstream, so this is only a
// guard against stale persisted state.
func Build(secs []provider.Section) Snapshot {
	snap := make(Snapshot, len(secs))
	for _, s := range secs {
		snap[s.ClassNbr] = s
	}
	return snap
}

// Sections returns the snapshot's sections sorted by class number, the
// form used for persistence.
func (s Snapshot) Sections() []provider.Section {
	out := make([]provider.Section, 0, len(s))
	for _, sec := range s {
		out = append(out, sec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassNbr < out[j].ClassNbr })
	return out
}

// EnrollmentChange is one section whose enrolled count moved between
// snapshots.
type EnrollmentChange struct {
	Section     provider.Section
	OldEnrolled int
	NewEnrolled int

	// Opened marks the full-to-open transition: the section had no free
	// seats before and has at least one now. Sections with a zero cap
	// never open.
	Opened bool
}

// Changes is the result of comparing two snapshots.
type Changes struct {
	Added      []provider.Section
	Removed    []provider.Section
	Enrollment []EnrollmentChange
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Enrollment) == 0
}

// Opened returns the class numbers that transitioned full-to-open, sorted.
func (c Changes) Opened() []int {
	var out []int
	for _, e := range c.Enrollment {
		if e.Opened {
			out = append(out, e.Section.ClassNbr)
		}
	}
	sort.Ints(out)
	return out
}

// Compute diffs cur against old. All result slices are sorted by class
// number so downstream formatting is deterministic.
func Compute(old, cur Snapshot) Changes {
	var ch Changes
	for nbr, sec := range cur {
		prev, ok := old[nbr]
		if !ok {
			ch.Added = append(ch.Added, sec)
			continue
		}
		if prev.Enrolled != sec.Enrolled {
			ch.Enrollment = append(ch.Enrollment, EnrollmentChange{
				Section:     sec,
				OldEnrolled: prev.Enrolled,
				NewEnrolled: sec.Enrolled,
				Opened:      opened(prev, sec),
			})
		}
	}
	for nbr, sec := range old {
		if _, ok := cur[nbr]; !ok {
			ch.Removed = append(ch.Removed, sec)
		}
	}

	sort.Slice(ch.Added, func(i, j int) bool { return ch.Added[i].ClassNbr < ch.Added[j].ClassNbr })
	sort.Slice(ch.Removed, func(i, j int) bool { return ch.Removed[i].ClassNbr < ch.Removed[j].ClassNbr })
	sort.Slice(ch.Enrollment, func(i, j int) bool {
		return ch.Enrollment[i].Section.ClassNbr < ch.Enrollment[j].Section.ClassNbr
	})
	return ch
}

func opened(prev, cur provider.Section) bool {
	if cur.EnrlCap <= 0 {
		return false
	}
	return prev.Enrolled >= prev.EnrlCap && cur.Enrolled < cur.EnrlCap
}
