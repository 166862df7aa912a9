package store

import (
	"errors"
	"sort"
	"strings"

	"minder-cli/internal/model"
)

// ReorderResult is the set of rank rewrites that realize an index-based move.
// RankByID holds only ranks that change.
type ReorderResult struct {
	RankByID     map[string]string
	WindowIDs    []string // ids re-ranked by the fallback path, in final order
	UsedFallback bool
}

// CompareByRank orders siblings: rank, then CreatedAt, then ID. Items without a
// rank fall back to CreatedAt/ID so equal ranks never reshuffle between renders.
func CompareByRank(a, b model.Item) int {
	ra, rb := strings.TrimSpace(a.Rank), strings.TrimSpace(b.Rank)
	if ra != "" && rb != "" && ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// SortItemsByRankOrder sorts items in place by CompareByRank.
func SortItemsByRankOrder(items []*model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return CompareByRank(*items[i], *items[j]) < 0
	})
}

// PlanReorderRanks plans rank updates that move movedID to insertAt, an index
// into the sibling list with the moved item removed.
//
// Only the moved item is re-ranked when its new neighbors leave room. Otherwise
// the smallest contiguous window around the insertion point whose outer bounds
// are usable is re-ranked.
func PlanReorderRanks(sibs []*model.Item, movedID string, insertAt int) (ReorderResult, error) {
	movedID = strings.TrimSpace(movedID)
	if movedID == "" {
		return ReorderResult{}, errors.New("reorder: missing moved id")
	}
	empty := ReorderResult{RankByID: map[string]string{}}
	if len(sibs) == 0 {
		return empty, nil
	}

	cur := append([]*model.Item{}, sibs...)
	SortItemsByRankOrder(cur)

	movedIdx := -1
	for i := range cur {
		if cur[i].ID == movedID {
			movedIdx = i
			break
		}
	}
	if movedIdx < 0 {
		return ReorderResult{}, errors.New("reorder: moved item not in sibling set")
	}
	moved := cur[movedIdx]

	rest := make([]*model.Item, 0, len(cur)-1)
	rest = append(rest, cur[:movedIdx]...)
	rest = append(rest, cur[movedIdx+1:]...)

	insertAt = max(0, min(insertAt, len(rest)))
	if insertAt == movedIdx {
		return empty, nil
	}
	// Moving up rebalances toward the displaced neighbors, not earlier siblings.
	preferRight := insertAt < movedIdx

	final := make([]*model.Item, 0, len(cur))
	final = append(final, rest[:insertAt]...)
	final = append(final, moved)
	final = append(final, rest[insertAt:]...)

	existing := ranksExcluding(final, map[string]bool{movedID: true})
	if r, ok := rankBetweenNeighbors(existing, final, insertAt); ok {
		if strings.TrimSpace(moved.Rank) == r {
			return empty, nil
		}
		return ReorderResult{RankByID: map[string]string{movedID: r}}, nil
	}

	lo, hi := minimalValidWindow(final, insertAt, preferRight)
	lower, upper := outerBounds(final, lo, hi)

	excl := map[string]bool{}
	for i := lo; i <= hi; i++ {
		excl[final[i].ID] = true
	}
	existing = ranksExcluding(final, excl)

	res := ReorderResult{
		RankByID:     map[string]string{},
		WindowIDs:    make([]string, 0, hi-lo+1),
		UsedFallback: true,
	}
	for i := lo; i <= hi; i++ {
		r, err := RankBetweenUnique(existing, lower, upper)
		if err != nil {
			return ReorderResult{}, err
		}
		existing[r] = true
		res.RankByID[final[i].ID] = r
		res.WindowIDs = append(res.WindowIDs, final[i].ID)
		lower = r
	}
	return res, nil
}

func ranksExcluding(items []*model.Item, exclude map[string]bool) map[string]bool {
	out := map[string]bool{}
	for _, it := range items {
		if it == nil || exclude[it.ID] {
			continue
		}
		if r := normRank(it.Rank); r != "" {
			out[r] = true
		}
	}
	return out
}

func outerBounds(final []*model.Item, lo, hi int) (lower, upper string) {
	if lo > 0 {
		lower = strings.TrimSpace(final[lo-1].Rank)
	}
	if hi+1 < len(final) {
		upper = strings.TrimSpace(final[hi+1].Rank)
	}
	return lower, upper
}

func boundsUsable(lower, upper string) bool {
	return lower == "" || upper == "" || lower < upper
}

func rankBetweenNeighbors(existing map[string]bool, final []*model.Item, idx int) (string, bool) {
	lower, upper := outerBounds(final, idx, idx)
	if !boundsUsable(lower, upper) {
		return "", false
	}
	r, err := RankBetweenUnique(existing, lower, upper)
	if err != nil {
		return "", false
	}
	return r, true
}

// minimalValidWindow returns the smallest [lo, hi] containing idx whose outer
// bounds leave room for a new rank. preferRight breaks ties toward
// windows that extend past idx.
func minimalValidWindow(final []*model.Item, idx int, preferRight bool) (lo, hi int) {
	n := len(final)
	if idx < 0 || idx >= n {
		return 0, n - 1
	}
	valid := func(lo, hi int) bool {
		lower, upper := outerBounds(final, lo, hi)
		if !boundsUsable(lower, upper) {
			return false
		}
		// Bounds can be ordered and still leave no room ("" before "0").
		_, err := RankBetween(lower, upper)
		return err == nil
	}
	for size := 1; size <= n; size++ {
		startMin := max(0, idx-(size-1))
		startMax := min(idx, n-size)
		if preferRight {
			for lo := startMax; lo >= startMin; lo-- {
				if valid(lo, lo+size-1) {
					return lo, lo + size - 1
				}
			}
		} else {
			for lo := startMin; lo <= startMax; lo++ {
				if valid(lo, lo+size-1) {
					return lo, lo + size - 1
				}
			}
		}
	}
	return 0, n - 1
}
