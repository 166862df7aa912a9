package outline

import (
	"fmt"
	"sort"

	"minder-cli/internal/model"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one problem found by Check.
type Issue struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Kind     string   `json:"kind" yaml:"kind"`
	ItemID   string   `json:"itemId" yaml:"itemId"`
	Detail   string   `json:"detail" yaml:"detail"`
}

type Report struct {
	Items  int     `json:"items" yaml:"items"`
	Issues []Issue `json:"issues" yaml:"issues"`
}

func (r Report) HasErrors() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Check inspects a loaded tree for stored states the engine never produces:
// dangling parents, parent cycles, sibling rank ties and stray snooze fields.
func Check(t *Tree) Report {
	r := Report{Items: t.Len(), Issues: []Issue{}}
	add := func(sev Severity, kind, id, format string, args ...any) {
		r.Issues = append(r.Issues, Issue{Severity: sev, Kind: kind, ItemID: id, Detail: fmt.Sprintf(format, args...)})
	}

	for _, id := range t.Orphans() {
		add(SeverityError, "orphan", id, "parent %s does not exist", t.items[id].Parent())
	}

	onCycle := map[string]bool{}
	for _, id := range t.sortedIDs() {
		if onCycle[id] {
			continue
		}
		seen := map[string]bool{}
		for cur := id; cur != "" && t.items[cur] != nil; cur = t.items[cur].Parent() {
			if seen[cur] {
				add(SeverityError, "cycle", cur, "parent chain returns to %s", cur)
				for c := t.items[cur].Parent(); c != cur; c = t.items[c].Parent() {
					onCycle[c] = true
				}
				onCycle[cur] = true
				break
			}
			seen[cur] = true
		}
	}

	parents := make([]string, 0, len(t.kids))
	for p := range t.kids {
		parents = append(parents, p)
	}
	sort.Strings(parents)
	for _, p := range parents {
		kids := t.kids[p]
		for i, k := range kids {
			it := t.items[k]
			if it.Rank == "" {
				add(SeverityWarn, "rank", k, "empty rank")
				continue
			}
			if i > 0 && t.items[kids[i-1]].Rank == it.Rank {
				add(SeverityWarn, "rank", k, "same rank %q as sibling %s", it.Rank, kids[i-1])
			}
		}
	}

	for _, id := range t.sortedIDs() {
		it := t.items[id]
		if it.SnoozeTil != nil && it.State != model.StateWaiting {
			add(SeverityWarn, "snooze", id, "wake time set on a %s item", it.State)
		}
		if it.UnsnoozedState != nil && it.State != model.StateWaiting {
			add(SeverityWarn, "snooze", id, "unsnoozed state %s kept on a %s item", *it.UnsnoozedState, it.State)
		}
	}
	return r
}

func (t *Tree) sortedIDs() []string {
	out := make([]string, 0, len(t.items))
	for id := range t.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
