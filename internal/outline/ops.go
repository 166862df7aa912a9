package outline

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/store"
)

// DeleteMode says what happens to the children of a deleted item.
type DeleteMode int

const (
	// DeleteReject refuses to delete an item that still has children.
	DeleteReject DeleteMode = iota
	// DeleteReparent hands the children to the deleted item's parent, in its place.
	DeleteReparent
	// DeleteCascade removes the whole subtree.
	DeleteCascade
)

func (m DeleteMode) String() string {
	switch m {
	case DeleteReparent:
		return "reparent"
	case DeleteCascade:
		return "cascade"
	default:
		return "reject"
	}
}

// ParseDeleteMode accepts reject, reparent and cascade ("" means reject).
func ParseDeleteMode(s string) (DeleteMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return DeleteReject, true
	case "reparent":
		return DeleteReparent, true
	case "cascade":
		return DeleteCascade, true
	}
	return DeleteReject, false
}

// PlaceholderText is the text of a parent synthesized by Nest.
const PlaceholderText = "-"

func parentPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func parentField(id string) mutate.Opt[string] {
	if id == "" {
		return mutate.Delete[string]()
	}
	return mutate.Set(id)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func indexOf(ids []string, id string) int {
	for i, x := range ids {
		if x == id {
			return i
		}
	}
	return -1
}

// checkMove rejects a reparent onto the item itself or one of its descendants.
func (e *Engine) checkMove(op, id, newParent string) error {
	if e.tree.item(id) == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	if newParent == "" {
		return nil
	}
	if e.tree.item(newParent) == nil {
		return mutate.NotFoundError{Kind: "item", ID: newParent}
	}
	if newParent == id {
		return &mutate.StructuralError{Op: op, ItemID: id, TargetID: newParent, Reason: "item cannot be its own parent"}
	}
	if e.tree.IsDescendant(newParent, id) {
		return &mutate.StructuralError{Op: op, ItemID: id, TargetID: newParent, Reason: "target is a descendant of the item"}
	}
	return nil
}

// placeAt returns rank rewrites that put moving at insertAt within sibs
// (rank-ordered, moving excluded). Usually only moving is re-ranked; when its
// neighbours leave no room the smallest window around it is rebalanced.
func placeAt(sibs []model.Item, moving model.Item, insertAt int) (map[string]string, error) {
	insertAt = max(0, min(insertAt, len(sibs)))
	lower, upper := "", ""
	if insertAt > 0 {
		lower = sibs[insertAt-1].Rank
	}
	if insertAt < len(sibs) {
		upper = sibs[insertAt].Rank
	}
	if r, err := store.RankBetween(lower, upper); err == nil {
		return map[string]string{moving.ID: r}, nil
	}

	ptrs := make([]*model.Item, 0, len(sibs)+1)
	for i := range sibs {
		c := sibs[i].Clone()
		ptrs = append(ptrs, &c)
	}
	last := ""
	if len(sibs) > 0 {
		last = sibs[len(sibs)-1].Rank
	}
	tail := moving.Clone()
	r, err := store.RankAfter(last)
	if err != nil {
		return nil, err
	}
	tail.Rank = r
	ptrs = append(ptrs, &tail)
	res, err := store.PlanReorderRanks(ptrs, moving.ID, insertAt)
	if err != nil {
		return nil, err
	}
	if _, ok := res.RankByID[moving.ID]; !ok {
		res.RankByID[moving.ID] = tail.Rank
	}
	return res.RankByID, nil
}

// rankChanges turns a rank plan into field changes. The moved item's change
// carries extra fields (a new parent); the others only get a rank.
func rankChanges(ranks map[string]string, movedID string, moved mutate.Fields) []change {
	out := []change{}
	if r, ok := ranks[movedID]; ok {
		moved.Rank = mutate.Set(r)
	}
	if !moved.IsEmpty() {
		out = append(out, change{id: movedID, fields: moved})
	}
	for _, id := range sortedKeys(boolSet(ranks)) {
		if id == movedID {
			continue
		}
		out = append(out, change{id: id, fields: mutate.Fields{Rank: mutate.Set(ranks[id])}})
	}
	return out
}

func boolSet(m map[string]string) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// endRank is the rank after the last child of parent.
func (e *Engine) endRank(parent string) (string, error) {
	kids := e.tree.childIDs(parent)
	if len(kids) == 0 {
		return store.RankInitial()
	}
	return store.RankAfter(e.tree.item(kids[len(kids)-1]).Rank)
}

func (e *Engine) siblingsExcluding(parent, id string) []model.Item {
	out := []model.Item{}
	for _, it := range e.tree.Children(parent) {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

// CreateAfter inserts a sibling directly after afterID and selects it. Empty
// text starts the item as new; otherwise it takes the sibling's state. A
// waiting sibling yields new, since a created item has no state to wake into.
func (e *Engine) CreateAfter(ctx context.Context, afterID, text string) (model.Item, error) {
	after := e.tree.item(afterID)
	if after == nil {
		return model.Item{}, mutate.NotFoundError{Kind: "item", ID: afterID}
	}
	parent := e.tree.ParentOf(afterID)
	state := model.StateNew
	if text != "" && after.State != model.StateWaiting {
		state = after.State
	}

	sibs := e.tree.childIDs(parent)
	idx := indexOf(sibs, afterID)
	upper := ""
	if idx+1 < len(sibs) {
		upper = e.tree.item(sibs[idx+1]).Rank
	}
	rank, rerr := store.RankBetween(after.Rank, upper)
	if rerr != nil {
		rank = ""
	}
	it, err := e.create(ctx, "create-after", model.NewItem{
		ParentID: parentPtr(parent),
		Rank:     rank,
		Text:     text,
		State:    state,
	})
	if err != nil {
		return model.Item{}, err
	}
	if rerr != nil {
		// No room between the neighbours: the store appended it, move it into place.
		if err := e.Reorder(ctx, it.ID, afterID, true); err != nil {
			return it, err
		}
		it, _ = e.tree.Get(it.ID)
	}
	e.setSelected(it.ID)
	return it, nil
}

// CreateChild inserts a new item as the first child of parentID ("" for the
// top level) and selects it.
func (e *Engine) CreateChild(ctx context.Context, parentID, text string) (model.Item, error) {
	if parentID != "" && e.tree.item(parentID) == nil {
		return model.Item{}, mutate.NotFoundError{Kind: "item", ID: parentID}
	}
	kids := e.tree.childIDs(parentID)
	rank, rerr := store.RankInitial()
	if len(kids) > 0 {
		rank, rerr = store.RankBefore(e.tree.item(kids[0]).Rank)
	}
	first := ""
	if len(kids) > 0 {
		first = kids[0]
	}
	if rerr != nil {
		rank = ""
	}
	it, err := e.create(ctx, "create-child", model.NewItem{
		ParentID: parentPtr(parentID),
		Rank:     rank,
		Text:     text,
		State:    model.StateNew,
	})
	if err != nil {
		return model.Item{}, err
	}
	if rerr != nil && first != "" {
		if err := e.Reorder(ctx, it.ID, first, false); err != nil {
			return it, err
		}
		it, _ = e.tree.Get(it.ID)
	}
	e.setSelected(it.ID)
	return it, nil
}

// Nest makes id the last child of its nearest preceding visible sibling. With
// no such sibling a placeholder parent is created in id's place first.
func (e *Engine) Nest(ctx context.Context, id string) error {
	cur := e.tree.item(id)
	if cur == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	parent := e.tree.ParentOf(id)
	sibs := e.tree.childIDs(parent)
	target := ""
	for j := indexOf(sibs, id) - 1; j >= 0; j-- {
		if e.IsVisible(sibs[j]) {
			target = sibs[j]
			break
		}
	}
	placeholder := ""
	if target == "" {
		ph, err := e.create(ctx, "nest", model.NewItem{
			ParentID: parentPtr(parent),
			Rank:     cur.Rank,
			Text:     PlaceholderText,
			State:    model.StateCur,
		})
		if err != nil {
			return err
		}
		target, placeholder = ph.ID, ph.ID
	}
	orig := cur.Clone()
	prevPending, hadPending := e.pending[id]
	rank, err := e.endRank(target)
	if err == nil {
		err = e.run(ctx, plan{
			op:      "nest",
			changes: []change{{id: id, fields: mutate.Fields{ParentID: mutate.Set(target), Rank: mutate.Set(rank)}}},
			items:   []string{id, target},
		})
	}
	if err != nil && placeholder != "" {
		e.dropPlaceholder(ctx, placeholder, orig)
		if hadPending {
			e.pending[id] = prevPending
		}
	}
	return err
}

// dropPlaceholder undoes a nest that failed after its placeholder parent was
// created: orig goes back to its old place and the placeholder is removed.
func (e *Engine) dropPlaceholder(ctx context.Context, ph string, orig model.Item) {
	if e.tree.ParentOf(orig.ID) == ph {
		e.tree.Put(orig)
		delete(e.pending, orig.ID)
	}
	parent := e.tree.ParentOf(ph)
	e.tree.Remove(ph)
	e.flags.forget(ph)
	parents := map[string]bool{parent: true}
	for _, id := range e.flags.recomputePaths(e.tree, []string{parent, orig.ID}, e.filter, e.now()) {
		parents[id] = true
	}
	e.emit([]string{orig.ID, ph}, parents)
	if err := e.store.Remove(ctx, ph); err != nil && !errors.Is(err, mutate.ErrNotFound) {
		e.log.Error("store remove placeholder failed", "id", ph, "err", err)
	}
}

// Unnest moves id out of its parent to sit right after it. Top-level items
// are left alone.
func (e *Engine) Unnest(ctx context.Context, id string) error {
	cur := e.tree.item(id)
	if cur == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	parent := e.tree.ParentOf(id)
	if parent == "" {
		e.log.Debug("unnest: already top level", "id", id)
		return nil
	}
	grand := e.tree.ParentOf(parent)
	sibs := e.siblingsExcluding(grand, id)
	idx := 0
	for i, s := range sibs {
		if s.ID == parent {
			idx = i + 1
			break
		}
	}
	ranks, err := placeAt(sibs, *cur, idx)
	if err != nil {
		return err
	}
	return e.run(ctx, plan{
		op:      "unnest",
		changes: rankChanges(ranks, id, mutate.Fields{ParentID: parentField(grand)}),
		items:   []string{id, parent, grand},
	})
}

// Move reparents id as the last child of newParent ("" for the top level).
func (e *Engine) Move(ctx context.Context, id, newParent string) error {
	if err := e.checkMove("move", id, newParent); err != nil {
		return err
	}
	old := e.tree.ParentOf(id)
	if old == newParent {
		return nil
	}
	rank, err := e.endRank(newParent)
	if err != nil {
		return err
	}
	return e.run(ctx, plan{
		op:      "move",
		changes: []change{{id: id, fields: mutate.Fields{ParentID: parentField(newParent), Rank: mutate.Set(rank)}}},
		items:   []string{id, old, newParent},
	})
}

// Bump moves id to the front of its siblings. Only id and its old and new
// neighbours are notified.
func (e *Engine) Bump(ctx context.Context, id string) error {
	if e.tree.item(id) == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	parent := e.tree.ParentOf(id)
	sibIDs := e.tree.childIDs(parent)
	idx := indexOf(sibIDs, id)
	if idx <= 0 {
		return nil
	}
	notifyIDs := []string{id, sibIDs[idx-1]}
	if idx+1 < len(sibIDs) {
		notifyIDs = append(notifyIDs, sibIDs[idx+1])
	}
	notifyIDs = append(notifyIDs, sibIDs[0])

	sibs := e.tree.Children(parent)
	ptrs := make([]*model.Item, len(sibs))
	for i := range sibs {
		ptrs[i] = &sibs[i]
	}
	res, err := store.PlanReorderRanks(ptrs, id, 0)
	if err != nil {
		return err
	}
	return e.run(ctx, plan{
		op:      "bump",
		changes: rankChanges(res.RankByID, id, mutate.Fields{}),
		items:   notifyIDs,
	})
}

// Reorder places id directly before (or after) targetID, adopting the
// target's parent when it differs.
func (e *Engine) Reorder(ctx context.Context, id, targetID string, after bool) error {
	if e.tree.item(targetID) == nil {
		return mutate.NotFoundError{Kind: "item", ID: targetID}
	}
	if id == targetID {
		return nil
	}
	newParent := e.tree.ParentOf(targetID)
	if err := e.checkMove("reorder", id, newParent); err != nil {
		return err
	}
	old := e.tree.ParentOf(id)
	rest := e.siblingsExcluding(newParent, id)
	insertAt := 0
	for i, s := range rest {
		if s.ID == targetID {
			insertAt = i
			if after {
				insertAt++
			}
			break
		}
	}

	var ranks map[string]string
	if old == newParent {
		sibs := e.tree.Children(newParent)
		ptrs := make([]*model.Item, len(sibs))
		for i := range sibs {
			ptrs[i] = &sibs[i]
		}
		res, err := store.PlanReorderRanks(ptrs, id, insertAt)
		if err != nil {
			return err
		}
		ranks = res.RankByID
	} else {
		cur, _ := e.tree.Get(id)
		var err error
		if ranks, err = placeAt(rest, cur, insertAt); err != nil {
			return err
		}
	}
	moved := mutate.Fields{}
	if old != newParent {
		moved.ParentID = parentField(newParent)
	}
	changes := rankChanges(ranks, id, moved)
	if len(changes) == 0 {
		return nil
	}
	return e.run(ctx, plan{
		op:      "reorder",
		changes: changes,
		items:   []string{id, targetID, old, newParent},
	})
}

// Delete removes id. Selection on a removed item moves to the nearest
// preceding visible sibling, else to the parent.
func (e *Engine) Delete(ctx context.Context, id string, mode DeleteMode) error {
	if e.tree.item(id) == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	parent := e.tree.ParentOf(id)
	kids := append([]string(nil), e.tree.childIDs(id)...)

	p := plan{op: "delete", items: []string{id}}
	switch {
	case len(kids) == 0:
		p.removals = []string{id}
	case mode == DeleteReparent:
		sibs := e.tree.childIDs(parent)
		idx := indexOf(sibs, id)
		lower, upper := "", ""
		if idx > 0 {
			lower = e.tree.item(sibs[idx-1]).Rank
		}
		if idx+1 < len(sibs) {
			upper = e.tree.item(sibs[idx+1]).Rank
		}
		ranks, err := ranksBetween(lower, upper, len(kids))
		if err != nil {
			// No room in the gap: append after the last sibling instead.
			last := e.tree.item(sibs[len(sibs)-1]).Rank
			if ranks, err = ranksBetween(last, "", len(kids)); err != nil {
				return err
			}
		}
		for i, k := range kids {
			p.changes = append(p.changes, change{id: k, fields: mutate.Fields{ParentID: parentField(parent), Rank: mutate.Set(ranks[i])}})
		}
		p.items = append(p.items, kids...)
		p.removals = []string{id}
	case mode == DeleteCascade:
		p.removals = e.tree.Subtree(id)
		p.items = append(p.items, kids...)
	default:
		e.log.Warn("delete would orphan children", "id", id, "children", len(kids))
		return &mutate.OrphanedChildrenError{ItemID: id, ChildIDs: kids}
	}

	nextSel := e.selected
	if nextSel != "" && indexOf(p.removals, nextSel) >= 0 {
		nextSel = e.selectionAfterDelete(id, parent)
	}
	if err := e.run(ctx, p); err != nil {
		e.setSelected(nextSel)
		return err
	}
	e.setSelected(nextSel)
	return nil
}

func (e *Engine) selectionAfterDelete(id, parent string) string {
	sibs := e.tree.childIDs(parent)
	for j := indexOf(sibs, id) - 1; j >= 0; j-- {
		if e.IsVisible(sibs[j]) {
			return sibs[j]
		}
	}
	return parent
}

// ranksBetween returns n increasing ranks inside (lower, upper).
func ranksBetween(lower, upper string, n int) ([]string, error) {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		r, err := store.RankBetween(lower, upper)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		lower = r
	}
	return out, nil
}

// Update applies f to id if checkVersion matches the item's current version.
// A stale token fails before anything is changed.
func (e *Engine) Update(ctx context.Context, id string, f mutate.Fields, checkVersion time.Time) (model.Item, error) {
	cur := e.tree.item(id)
	if cur == nil {
		return model.Item{}, mutate.NotFoundError{Kind: "item", ID: id}
	}
	if !cur.UpdatedAt.Equal(checkVersion) {
		e.log.Warn("update rejected: stale version", "id", id, "expected", checkVersion, "actual", cur.UpdatedAt)
		return model.Item{}, &mutate.ConflictError{ItemID: id, Expected: checkVersion, Actual: cur.UpdatedAt}
	}
	if f.IsEmpty() {
		return cur.Clone(), nil
	}
	items := []string{id}
	if f.ParentID.Touched() {
		target := ""
		if f.ParentID.IsSet() {
			target = f.ParentID.Value
		}
		if err := e.checkMove("update", id, target); err != nil {
			return model.Item{}, err
		}
		items = append(items, e.tree.ParentOf(id), target)
	}
	if err := e.run(ctx, plan{op: "update", changes: []change{{id: id, fields: f}}, items: items}); err != nil {
		return model.Item{}, err
	}
	return e.Item(id)
}

// touch runs Update against the version currently held in memory.
func (e *Engine) touch(ctx context.Context, id string, f mutate.Fields) (model.Item, error) {
	cur := e.tree.item(id)
	if cur == nil {
		return model.Item{}, mutate.NotFoundError{Kind: "item", ID: id}
	}
	return e.Update(ctx, id, f, cur.UpdatedAt)
}

func (e *Engine) SetText(ctx context.Context, id, text string) (model.Item, error) {
	return e.touch(ctx, id, mutate.Fields{Text: mutate.Set(text)})
}

func (e *Engine) SetState(ctx context.Context, id string, s model.State) (model.Item, error) {
	return e.touch(ctx, id, mutate.Fields{}.WithState(s))
}

// Snooze parks id in waiting until now+d.
func (e *Engine) Snooze(ctx context.Context, id string, d time.Duration) (model.Item, error) {
	return e.touch(ctx, id, mutate.Fields{}.WithSnooze(d))
}

func (e *Engine) SetPinned(ctx context.Context, id string, pinned bool) (model.Item, error) {
	return e.touch(ctx, id, mutate.Fields{Pinned: mutate.Set(pinned)})
}

func (e *Engine) SetCollapsed(ctx context.Context, id string, collapsed bool) (model.Item, error) {
	return e.touch(ctx, id, mutate.Fields{Collapsed: mutate.Set(collapsed)})
}
