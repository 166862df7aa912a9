package outline

import (
	"sort"

	"minder-cli/internal/model"
	"minder-cli/internal/store"
)

// Tree is an arena of items keyed by id. ParentID is the only stored relation;
// child lists are an index rebuilt from it. Items whose parent is missing are
// indexed under the project root ("").
type Tree struct {
	items map[string]*model.Item
	kids  map[string][]string
}

func NewTree(items []model.Item) *Tree {
	t := &Tree{items: map[string]*model.Item{}, kids: map[string][]string{}}
	for _, it := range items {
		c := it.Clone()
		t.items[c.ID] = &c
	}
	for id := range t.items {
		p := t.ParentOf(id)
		t.kids[p] = append(t.kids[p], id)
	}
	for p := range t.kids {
		t.sortKids(p)
	}
	return t
}

func (t *Tree) Len() int { return len(t.items) }

func (t *Tree) item(id string) *model.Item { return t.items[id] }

// Get returns a copy of the item.
func (t *Tree) Get(id string) (model.Item, bool) {
	it := t.items[id]
	if it == nil {
		return model.Item{}, false
	}
	return it.Clone(), true
}

// ParentOf returns the effective parent id: "" for top-level items and for
// items whose parent is not in the tree.
func (t *Tree) ParentOf(id string) string {
	it := t.items[id]
	if it == nil {
		return ""
	}
	p := it.Parent()
	if p == "" || t.items[p] == nil {
		return ""
	}
	return p
}

// Orphans lists items whose stored parent is missing from the tree.
func (t *Tree) Orphans() []string {
	var out []string
	for id, it := range t.items {
		if p := it.Parent(); p != "" && t.items[p] == nil {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// childIDs returns the child ids of id ("" for roots) in rank order. The slice
// is shared; callers must not modify it.
func (t *Tree) childIDs(id string) []string { return t.kids[id] }

// Children returns copies of the children of id in rank order.
func (t *Tree) Children(id string) []model.Item {
	ids := t.kids[id]
	out := make([]model.Item, 0, len(ids))
	for _, cid := range ids {
		out = append(out, t.items[cid].Clone())
	}
	return out
}

func (t *Tree) IsParent(id string) bool { return id != "" && len(t.kids[id]) > 0 }

// Ancestors returns the parent chain of id, nearest first. The walk stops on a
// repeated id so a corrupt chain cannot loop.
func (t *Tree) Ancestors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	for p := t.ParentOf(id); p != ""; p = t.ParentOf(p) {
		if seen[p] {
			break
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Depth is the number of ancestors of id.
func (t *Tree) Depth(id string) int { return len(t.Ancestors(id)) }

// IsDescendant reports whether id lies strictly below ancestor.
func (t *Tree) IsDescendant(id, ancestor string) bool {
	if ancestor == "" {
		return t.items[id] != nil
	}
	for _, a := range t.Ancestors(id) {
		if a == ancestor {
			return true
		}
	}
	return false
}

// Subtree returns id and all its descendants, leaves first.
func (t *Tree) Subtree(id string) []string {
	var out []string
	var walk func(string)
	walk = func(cur string) {
		for _, k := range t.kids[cur] {
			walk(k)
		}
		out = append(out, cur)
	}
	if t.items[id] != nil {
		walk(id)
	}
	return out
}

// Put inserts or replaces an item and relinks it under its (possibly new) parent.
func (t *Tree) Put(it model.Item) {
	c := it.Clone()
	oldParent, existed := "", false
	if t.items[c.ID] != nil {
		oldParent, existed = t.ParentOf(c.ID), true
	}
	t.items[c.ID] = &c
	newParent := t.ParentOf(c.ID)
	if existed && oldParent != newParent {
		t.unlink(oldParent, c.ID)
	}
	if !existed || oldParent != newParent {
		t.kids[newParent] = append(t.kids[newParent], c.ID)
	}
	t.sortKids(newParent)
	// Items that named c as parent before it arrived move out of the root list.
	if !existed {
		for _, rid := range append([]string(nil), t.kids[""]...) {
			if rid != c.ID && t.items[rid].Parent() == c.ID {
				t.unlink("", rid)
				t.kids[c.ID] = append(t.kids[c.ID], rid)
			}
		}
		t.sortKids(c.ID)
	}
}

// Remove drops id from the arena. Its children, if any, become root-level orphans.
func (t *Tree) Remove(id string) {
	if t.items[id] == nil {
		return
	}
	t.unlink(t.ParentOf(id), id)
	orphans := t.kids[id]
	delete(t.kids, id)
	delete(t.items, id)
	if len(orphans) > 0 {
		t.kids[""] = append(t.kids[""], orphans...)
		t.sortKids("")
	}
}

// Items returns copies of every item in no particular order.
func (t *Tree) Items() []model.Item {
	out := make([]model.Item, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it.Clone())
	}
	return out
}

func (t *Tree) unlink(parent, id string) {
	xs := t.kids[parent]
	for i, x := range xs {
		if x == id {
			t.kids[parent] = append(xs[:i:i], xs[i+1:]...)
			break
		}
	}
	if len(t.kids[parent]) == 0 {
		delete(t.kids, parent)
	}
}

func (t *Tree) sortKids(parent string) {
	xs := t.kids[parent]
	sort.SliceStable(xs, func(i, j int) bool {
		return store.CompareByRank(*t.items[xs[i]], *t.items[xs[j]]) < 0
	})
}
