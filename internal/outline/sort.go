package outline

import (
	"sort"

	"minder-cli/internal/model"
	"minder-cli/internal/statusutil"
)

// CompareItems is the display order for mixed lists: parents first (newest
// created first), then leaves by state priority, most recently updated first.
// isParent may be nil when every item is a leaf.
func CompareItems(a, b model.Item, isParent func(id string) bool) int {
	pa, pb := false, false
	if isParent != nil {
		pa, pb = isParent(a.ID), isParent(b.ID)
	}
	switch {
	case pa && !pb:
		return -1
	case !pa && pb:
		return 1
	case pa && pb:
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	}
	if c := statusutil.Priority(a.State) - statusutil.Priority(b.State); c != 0 {
		if c < 0 {
			return -1
		}
		return 1
	}
	if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
		return c
	}
	return compareIDs(a.ID, b.ID)
}

func SortItems(xs []model.Item, isParent func(id string) bool) {
	sort.SliceStable(xs, func(i, j int) bool {
		return CompareItems(xs[i], xs[j], isParent) < 0
	})
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
