package outline

import (
	"sort"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/statusutil"
)

// Flags is the aggregate visibility of a parent item under one filter.
type Flags struct {
	// Hidden: every descendant is done and the filter does not show done items.
	Hidden bool `json:"hidden" yaml:"hidden"`
	// KidsHidden: no descendant is visible.
	KidsHidden bool `json:"kidsHidden" yaml:"kidsHidden"`
	AllDone    bool `json:"allDone" yaml:"allDone"`
}

// Propagate computes the flags of id from scratch by recursing through its
// subtree. Leaves have no flags and report the zero value.
func Propagate(t *Tree, id string, f model.Filter, now time.Time) Flags {
	var rec func(string) Flags
	rec = func(cur string) Flags {
		return computeFlags(t, cur, f, now, rec)
	}
	if !t.IsParent(id) {
		return Flags{}
	}
	return rec(id)
}

// computeFlags derives the flags of parent id from its children; sub supplies
// the flags of children that are themselves parents.
func computeFlags(t *Tree, id string, f model.Filter, now time.Time, sub func(string) Flags) Flags {
	allDone := true
	visible := 0
	for _, kid := range t.childIDs(id) {
		if t.IsParent(kid) {
			kf := sub(kid)
			if !kf.AllDone {
				allDone = false
			}
			if !kf.Hidden && !kf.KidsHidden {
				visible++
			}
			continue
		}
		it := t.item(kid)
		if it.State != model.StateDone {
			allDone = false
		}
		if IsVisible(*it, f, now) {
			visible++
		}
	}
	return Flags{
		Hidden:     allDone && !statusutil.InVisibleSet(f, model.StateDone),
		KidsHidden: visible == 0,
		AllDone:    allDone,
	}
}

// flagCache memoizes Flags per parent so a mutation only recomputes the path
// from the changed node to the root. due is the earliest instant at which a
// cached leaf's visibility can flip on its own; zero means never.
type flagCache struct {
	m   map[string]Flags
	due time.Time
}

func newFlagCache() *flagCache { return &flagCache{m: map[string]Flags{}} }

func (c *flagCache) get(t *Tree, id string, f model.Filter, now time.Time) Flags {
	if fl, ok := c.m[id]; ok {
		return fl
	}
	if !t.IsParent(id) {
		return Flags{}
	}
	fl := c.compute(t, id, f, now)
	c.m[id] = fl
	return fl
}

func (c *flagCache) compute(t *Tree, id string, f model.Filter, now time.Time) Flags {
	fl := computeFlags(t, id, f, now, func(kid string) Flags { return c.get(t, kid, f, now) })
	for _, kid := range t.childIDs(id) {
		if t.IsParent(kid) {
			continue
		}
		if it := t.item(kid); it != nil {
			c.note(nextFlip(*it, f, now))
		}
	}
	return fl
}

func (c *flagCache) note(at time.Time) {
	if !at.IsZero() && (c.due.IsZero() || at.Before(c.due)) {
		c.due = at
	}
}

// expired reports whether some cached flags may no longer hold at now.
func (c *flagCache) expired(now time.Time) bool {
	return !c.due.IsZero() && !now.Before(c.due)
}

// rebuild recomputes every parent and returns the ids whose flags changed.
func (c *flagCache) rebuild(t *Tree, f model.Filter, now time.Time) []string {
	prev := c.m
	c.m = map[string]Flags{}
	c.due = time.Time{}
	for id := range t.items {
		if t.IsParent(id) {
			c.get(t, id, f, now)
		}
	}
	var changed []string
	for id, fl := range c.m {
		if old, ok := prev[id]; !ok || old != fl {
			changed = append(changed, id)
		}
	}
	for id := range prev {
		if _, ok := c.m[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// recomputePaths refreshes each start node and its ancestors, deepest first so
// converging paths see up-to-date children. It returns the ids whose flags changed.
func (c *flagCache) recomputePaths(t *Tree, starts []string, f model.Filter, now time.Time) []string {
	depth := map[string]int{}
	for _, s := range starts {
		if s == "" {
			continue
		}
		if _, ok := depth[s]; !ok {
			depth[s] = t.Depth(s)
		}
		for i, a := range t.Ancestors(s) {
			if _, ok := depth[a]; ok {
				continue
			}
			depth[a] = depth[s] - i - 1
		}
	}
	nodes := make([]string, 0, len(depth))
	for id := range depth {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if depth[nodes[i]] != depth[nodes[j]] {
			return depth[nodes[i]] > depth[nodes[j]]
		}
		return nodes[i] < nodes[j]
	})

	var changed []string
	for _, id := range nodes {
		old, had := c.m[id]
		if t.item(id) == nil || !t.IsParent(id) {
			if had {
				delete(c.m, id)
				changed = append(changed, id)
			}
			continue
		}
		fl := c.compute(t, id, f, now)
		c.m[id] = fl
		if !had || old != fl {
			changed = append(changed, id)
		}
	}
	return changed
}

func (c *flagCache) forget(id string) { delete(c.m, id) }
