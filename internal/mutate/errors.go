package mutate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStructural       = errors.New("structural violation")
	ErrConflict         = errors.New("concurrency conflict")
	ErrOrphanedChildren = errors.New("orphaned children")
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StructuralError rejects a change that would break the forest shape (cycles,
// self-parenting, cross-project moves). Nothing has been mutated when it is returned.
type StructuralError struct {
	Op       string
	ItemID   string
	TargetID string
	Reason   string
}

func (e *StructuralError) Error() string {
	if e.TargetID != "" {
		return fmt.Sprintf("%s %s -> %s: %s", e.Op, e.ItemID, e.TargetID, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.ItemID, e.Reason)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// ConflictError reports a stale checkVersion. Actual is the version the
// writer should re-read from.
type ConflictError struct {
	ItemID   string
	Expected time.Time
	Actual   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: checkVersion %s does not match %s",
		e.ItemID, e.Expected.UTC().Format(time.RFC3339Nano), e.Actual.UTC().Format(time.RFC3339Nano))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type OrphanedChildrenError struct {
	ItemID   string
	ChildIDs []string
}

func (e *OrphanedChildrenError) Error() string {
	return fmt.Sprintf("item %s has %d children (%s); reparent or cascade before deleting",
		e.ItemID, len(e.ChildIDs), strings.Join(e.ChildIDs, ", "))
}

func (e *OrphanedChildrenError) Is(target error) bool { return target == ErrOrphanedChildren }
