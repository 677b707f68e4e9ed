/*
snapshot.go - Org snapshot builder

PURPOSE:
  Materializes a person's chain of command at a point in time as an
  immutable record, so later disputes can see exactly who was in the
  chain when the deal closed.

WALK SEMANTICS:
  Iterative traversal over Person.ReportsTo with an explicit visited set
  and a hard depth cap. The hierarchy data is untrusted: a cycle must be
  an error, never a silent truncation, because a truncated chain would
  silently under- or over-pay override recipients.

LIFECYCLE:
  Build() only reads; the snapshot is persisted by the recalculation
  coordinator inside its transaction, so a failed calculation leaves no
  dangling audit rows. Snapshots are never deduplicated across runs.
*/
package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxChainDepth bounds the reportsTo walk. No real sales org is
// 32 levels deep; exceeding this means the data contains a cycle.
const DefaultMaxChainDepth = 32

// SnapshotBuilder walks the reporting hierarchy and produces OrgSnapshots.
type SnapshotBuilder struct {
	People   PersonStore
	MaxDepth int // 0 = DefaultMaxChainDepth
}

// Build walks reportsTo upward from root, recording each person at
// increasing levels until a nil ReportsTo is reached.
//
// Returns ErrPersonNotFound if the root doesn't exist, and a
// CyclicHierarchyError if the walk revisits a person or exceeds the
// depth cap. The returned snapshot is NOT persisted.
func (b *SnapshotBuilder) Build(ctx context.Context, root PersonID, asOf time.Time) (*OrgSnapshot, error) {
	maxDepth := b.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}

	snapshot := &OrgSnapshot{
		ID:           SnapshotID(uuid.NewString()),
		RootPersonID: root,
		CapturedAt:   asOf,
	}

	visited := make(map[PersonID]bool)
	var walked []PersonID

	current := root
	for level := 0; ; level++ {
		if visited[current] || level > maxDepth {
			return nil, &CyclicHierarchyError{
				RootPersonID: root,
				AtPersonID:   current,
				Depth:        maxDepth,
				Walked:       walked,
			}
		}
		visited[current] = true
		walked = append(walked, current)

		person, err := b.People.GetPerson(ctx, current)
		if err != nil {
			return nil, err
		}

		snapshot.Chain = append(snapshot.Chain, ChainLink{PersonID: person.ID, Level: level})

		if person.ReportsTo == nil {
			return snapshot, nil
		}
		current = *person.ReportsTo
	}
}
