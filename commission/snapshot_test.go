package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelkins10/kin-people-sub003/commission"
	memstore "github.com/avelkins10/kin-people-sub003/commission/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedPerson(t *testing.T, m *memstore.Memory, id, role string, reportsTo *string) {
	t.Helper()
	p := commission.Person{
		ID:        commission.PersonID(id),
		Name:      id,
		RoleID:    commission.RoleID(role),
		CreatedAt: time.Now(),
	}
	if reportsTo != nil {
		mgr := commission.PersonID(*reportsTo)
		p.ReportsTo = &mgr
	}
	if err := m.SavePerson(context.Background(), p); err != nil {
		t.Fatalf("failed to save person %s: %v", id, err)
	}
}

func strp(s string) *string { return &s }

// =============================================================================
// CHAIN WALK TESTS
// =============================================================================

func TestSnapshotBuilder_LinearChain(t *testing.T) {
	// GIVEN: rep -> manager -> regional, regional at the top
	// WHEN: Building a snapshot rooted at rep
	// THEN: Chain has rep at level 0, manager at 1, regional at 2

	m := memstore.NewMemory()
	seedPerson(t, m, "regional", "regional", nil)
	seedPerson(t, m, "manager", "manager", strp("regional"))
	seedPerson(t, m, "rep", "closer", strp("manager"))

	builder := &commission.SnapshotBuilder{People: m}
	asOf := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)

	snap, err := builder.Build(context.Background(), "rep", asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if snap.RootPersonID != "rep" {
		t.Errorf("expected root rep, got %s", snap.RootPersonID)
	}
	if !snap.CapturedAt.Equal(asOf) {
		t.Errorf("expected capture time %v, got %v", asOf, snap.CapturedAt)
	}
	if len(snap.Chain) != 3 {
		t.Fatalf("expected 3 chain links, got %d", len(snap.Chain))
	}
	want := []struct {
		id    commission.PersonID
		level int
	}{
		{"rep", 0}, {"manager", 1}, {"regional", 2},
	}
	for i, w := range want {
		if snap.Chain[i].PersonID != w.id || snap.Chain[i].Level != w.level {
			t.Errorf("link %d: expected %s@%d, got %s@%d",
				i, w.id, w.level, snap.Chain[i].PersonID, snap.Chain[i].Level)
		}
	}
}

func TestSnapshotBuilder_TopOfChain(t *testing.T) {
	// GIVEN: A person with no manager
	// WHEN: Building their snapshot
	// THEN: Chain contains only themselves at level 0

	m := memstore.NewMemory()
	seedPerson(t, m, "owner", "owner", nil)

	builder := &commission.SnapshotBuilder{People: m}
	snap, err := builder.Build(context.Background(), "owner", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Chain) != 1 {
		t.Fatalf("expected 1 link, got %d", len(snap.Chain))
	}
	if snap.Depth() != 0 {
		t.Errorf("expected depth 0, got %d", snap.Depth())
	}
}

func TestSnapshotBuilder_RootNotFound(t *testing.T) {
	// GIVEN: An empty hierarchy
	// WHEN: Building a snapshot for an unknown person
	// THEN: ErrPersonNotFound

	m := memstore.NewMemory()
	builder := &commission.SnapshotBuilder{People: m}

	_, err := builder.Build(context.Background(), "ghost", time.Now())
	if !errors.Is(err, commission.ErrPersonNotFound) {
		t.Errorf("expected ErrPersonNotFound, got %v", err)
	}
}

func TestSnapshotBuilder_CycleDetected(t *testing.T) {
	// GIVEN: a -> b -> c -> a (corrupt hierarchy)
	// WHEN: Building a snapshot rooted at a
	// THEN: CyclicHierarchyError, no silent truncation

	m := memstore.NewMemory()
	seedPerson(t, m, "a", "closer", strp("b"))
	seedPerson(t, m, "b", "manager", strp("c"))
	seedPerson(t, m, "c", "regional", strp("a"))

	builder := &commission.SnapshotBuilder{People: m}
	_, err := builder.Build(context.Background(), "a", time.Now())

	if !errors.Is(err, commission.ErrCyclicHierarchy) {
		t.Fatalf("expected ErrCyclicHierarchy, got %v", err)
	}

	var cycErr *commission.CyclicHierarchyError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CyclicHierarchyError, got %T", err)
	}
	if cycErr.RootPersonID != "a" {
		t.Errorf("expected root a in error, got %s", cycErr.RootPersonID)
	}
	if cycErr.AtPersonID != "a" {
		t.Errorf("expected cycle detected at a, got %s", cycErr.AtPersonID)
	}
	if len(cycErr.Walked) != 3 {
		t.Errorf("expected 3 walked entries, got %d", len(cycErr.Walked))
	}
}

func TestSnapshotBuilder_SelfReference(t *testing.T) {
	// GIVEN: A person who reports to themselves
	// WHEN: Building their snapshot
	// THEN: CyclicHierarchyError on the first revisit

	m := memstore.NewMemory()
	seedPerson(t, m, "loop", "manager", strp("loop"))

	builder := &commission.SnapshotBuilder{People: m}
	_, err := builder.Build(context.Background(), "loop", time.Now())
	if !errors.Is(err, commission.ErrCyclicHierarchy) {
		t.Errorf("expected ErrCyclicHierarchy, got %v", err)
	}
}

func TestSnapshotBuilder_DepthCap(t *testing.T) {
	// GIVEN: A chain deeper than the configured cap
	// WHEN: Building with MaxDepth 3
	// THEN: CyclicHierarchyError instead of an endless or truncated walk

	m := memstore.NewMemory()
	seedPerson(t, m, "p5", "vp", nil)
	seedPerson(t, m, "p4", "director", strp("p5"))
	seedPerson(t, m, "p3", "manager", strp("p4"))
	seedPerson(t, m, "p2", "lead", strp("p3"))
	seedPerson(t, m, "p1", "closer", strp("p2"))

	builder := &commission.SnapshotBuilder{People: m, MaxDepth: 3}
	_, err := builder.Build(context.Background(), "p1", time.Now())
	if !errors.Is(err, commission.ErrCyclicHierarchy) {
		t.Errorf("expected ErrCyclicHierarchy at depth cap, got %v", err)
	}
}

func TestSnapshotBuilder_DistinctSnapshotIDs(t *testing.T) {
	// GIVEN: The same person
	// WHEN: Building two snapshots
	// THEN: Each gets a distinct ID; snapshots are never deduplicated

	m := memstore.NewMemory()
	seedPerson(t, m, "solo", "closer", nil)

	builder := &commission.SnapshotBuilder{People: m}
	first, err := builder.Build(context.Background(), "solo", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := builder.Build(context.Background(), "solo", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected distinct snapshot IDs across builds")
	}
}
