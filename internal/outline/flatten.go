package outline

import (
	"sort"

	"minder-cli/internal/model"
)

// Row is one line of the outline projection.
type Row struct {
	Item     model.Item `json:"item" yaml:"item"`
	Depth    int        `json:"depth" yaml:"depth"`
	IsParent bool       `json:"isParent" yaml:"isParent"`
	Flags    *Flags     `json:"flags,omitempty" yaml:"flags,omitempty"`
	Pinned   bool       `json:"pinnedRoot,omitempty" yaml:"pinnedRoot,omitempty"`
}

// Roots returns the top-level item ids in rank order followed by pinned
// parents, which surface as extra roots while pinned.
func (e *Engine) Roots() []string {
	out := append([]string(nil), e.tree.childIDs("")...)
	var pinned []model.Item
	for _, it := range e.tree.items {
		if it.Pinned && e.tree.ParentOf(it.ID) != "" && e.tree.IsParent(it.ID) {
			pinned = append(pinned, *it)
		}
	}
	sort.Slice(pinned, func(i, j int) bool {
		if !pinned[i].CreatedAt.Equal(pinned[j].CreatedAt) {
			return pinned[i].CreatedAt.Before(pinned[j].CreatedAt)
		}
		return pinned[i].ID < pinned[j].ID
	})
	for _, it := range pinned {
		out = append(out, it.ID)
	}
	return out
}

// FlatList returns the visible leaves below rootID ("" for the whole project),
// depth first, sorted with CompareItems. Hidden parents are not descended.
func (e *Engine) FlatList(rootID string) []model.Item {
	now := e.now()
	e.expire(now)
	var out []model.Item
	var walk func(string)
	walk = func(id string) {
		if e.tree.IsParent(id) {
			if e.flags.get(e.tree, id, e.filter, now).Hidden {
				return
			}
			for _, k := range e.tree.childIDs(id) {
				walk(k)
			}
			return
		}
		it := e.tree.item(id)
		if IsVisible(*it, e.filter, now) {
			out = append(out, it.Clone())
		}
	}
	if rootID == "" {
		for _, id := range e.tree.childIDs("") {
			walk(id)
		}
	} else if e.tree.item(rootID) != nil {
		walk(rootID)
	}
	SortItems(out, nil)
	if out == nil {
		out = []model.Item{}
	}
	return out
}

// Rows projects the outline under the active filter in rank order. Children
// of collapsed parents are omitted; pinned roots are always listed.
func (e *Engine) Rows() []Row {
	now := e.now()
	e.expire(now)
	out := []Row{}
	var walk func(id string, depth int, pinnedRoot bool)
	walk = func(id string, depth int, pinnedRoot bool) {
		if !pinnedRoot && !e.IsVisible(id) {
			return
		}
		it := e.tree.item(id)
		row := Row{Item: it.Clone(), Depth: depth, IsParent: e.tree.IsParent(id), Pinned: pinnedRoot}
		if row.IsParent {
			fl := e.flags.get(e.tree, id, e.filter, now)
			row.Flags = &fl
		}
		out = append(out, row)
		if !row.IsParent || it.Collapsed {
			return
		}
		for _, k := range e.tree.childIDs(id) {
			walk(k, depth+1, false)
		}
	}
	top := len(e.tree.childIDs(""))
	for i, id := range e.Roots() {
		walk(id, 0, i >= top)
	}
	return out
}
