package diff

import (
	"reflect"
	"testing"

	"slotwatch/internal/provider"
)

func sec(nbr, cap, enrolled int) provider.Section {
	return provider.Section{ClassNbr: nbr, Course: "CSOPESY", Section: "S11", EnrlCap: cap, Enrolled: enrolled}
}

func TestComputeNoChanges(t *testing.T) {
	old := Build([]provider.Section{sec(101, 30, 30), sec(102, 20, 5)})
	cur := Build([]provider.Section{sec(101, 30, 30), sec(102, 20, 5)})
	if ch := Compute(old, cur); !ch.Empty() {
		t.Fatalf("expected empty changes, got %+v", ch)
	}
}

func TestComputeOrderIndependent(t *testing.T) {
	old := Build([]provider.Section{sec(101, 30, 30), sec(102, 20, 5), sec(103, 40, 40)})
	a := []provider.Section{sec(101, 30, 29), sec(103, 40, 39), sec(104, 25, 0)}
	b := []provider.Section{sec(104, 25, 0), sec(101, 30, 29), sec(103, 40, 39)}
	if !reflect.DeepEqual(Compute(old, Build(a)), Compute(old, Build(b))) {
		t.Fatal("result depends on input order")
	}
}

func TestComputeFullToOpen(t *testing.T) {
	old := Build([]provider.Section{sec(101, 30, 30)})
	cur := Build([]provider.Section{sec(101, 30, 29)})
	ch := Compute(old, cur)
	if len(ch.Enrollment) != 1 {
		t.Fatalf("enrollment changes = %d", len(ch.Enrollment))
	}
	e := ch.Enrollment[0]
	if !e.Opened {
		t.Fatal("30/30 -> 29/30 must be an opened transition")
	}
	if e.OldEnrolled != 30 || e.NewEnrolled != 29 {
		t.Fatalf("counts = %d -> %d", e.OldEnrolled, e.NewEnrolled)
	}
	if got := ch.Opened(); !reflect.DeepEqual(got, []int{101}) {
		t.Fatalf("Opened() = %v", got)
	}
}

func TestComputeOpenToMoreOpenIsNotOpened(t *testing.T) {
	old := Build([]provider.Section{sec(101, 30, 20)})
	cur := Build([]provider.Section{sec(101, 30, 19)})
	ch := Compute(old, cur)
	if len(ch.Enrollment) != 1 || ch.Enrollment[0].Opened {
		t.Fatalf("already-open section must not re-open: %+v", ch.Enrollment)
	}
}

func TestComputeZeroCapNeverOpens(t *testing.T) {
	old := Build([]provider.Section{sec(101, 0, 1)})
	cur := Build([]provider.Section{sec(101, 0, 0)})
	ch := Compute(old, cur)
	if len(ch.Enrollment) != 1 {
		t.Fatalf("enrollment changes = %d", len(ch.Enrollment))
	}
	if ch.Enrollment[0].Opened {
		t.Fatal("zero-cap section must never be reported as opened")
	}
}

func TestComputeAddedRemoved(t *testing.T) {
	old := Build([]provider.Section{sec(101, 30, 30), sec(103, 10, 2)})
	cur := Build([]provider.Section{sec(101, 30, 30), sec(102, 25, 0)})
	ch := Compute(old, cur)
	if len(ch.Added) != 1 || ch.Added[0].ClassNbr != 102 {
		t.Fatalf("added = %+v", ch.Added)
	}
	if len(ch.Removed) != 1 || ch.Removed[0].ClassNbr != 103 {
		t.Fatalf("removed = %+v", ch.Removed)
	}
	if len(ch.Enrollment) != 0 {
		t.Fatalf("enrollment = %+v", ch.Enrollment)
	}
}

func TestComputeResultsSortedByClassNbr(t *testing.T) {
	old := Build([]provider.Section{sec(300, 30, 30), sec(100, 30, 30), sec(200, 30, 30)})
	cur := Build([]provider.Section{sec(300, 30, 29), sec(100, 30, 28), sec(200, 30, 27)})
	ch := Compute(old, cur)
	var nbrs []int
	for _, e := range ch.Enrollment {
		nbrs = append(nbrs, e.Section.ClassNbr)
	}
	if !reflect.DeepEqual(nbrs, []int{100, 200, 300}) {
		t.Fatalf("enrollment order = %v", nbrs)
	}
}

func TestSnapshotSectionsSorted(t *testing.T) {
	snap := Build([]provider.Section{sec(5, 1, 0), sec(1, 1, 0), sec(3, 1, 0)})
	secs := snap.Sections()
	if secs[0].ClassNbr != 1 || secs[1].ClassNbr != 3 || secs[2].ClassNbr != 5 {
		t.Fatalf("order = %v %v %v", secs[0].ClassNbr, secs[1].ClassNbr, secs[2].ClassNbr)
	}
}

func TestComputeAgainstEmptyBaseline(t *testing.T) {
	cur := Build([]provider.Section{sec(101, 30, 12)})
	ch := Compute(Snapshot{}, cur)
	if len(ch.Added) != 1 || len(ch.Enrollment) != 0 {
		t.Fatalf("first observation should only add: %+v", ch)
	}
}
