package outline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/notify"
	"minder-cli/internal/statusutil"
	"minder-cli/internal/store"
)

// ItemStore is the persistence boundary. Update must compare checkVersion with
// the stored UpdatedAt and return *mutate.ConflictError on mismatch.
type ItemStore interface {
	Get(ctx context.Context, id string) (model.Item, error)
	Create(ctx context.Context, n model.NewItem) (model.Item, error)
	Update(ctx context.Context, id string, f mutate.Fields, checkVersion time.Time) (model.Item, error)
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, q model.Query) ([]model.Item, error)
}

// Notification namespaces.
const (
	NSItem      = "item"
	NSParent    = "parent"
	NSSelection = "selection"
	NSView      = "view"
)

var errNotLoaded = errors.New("outline: no project loaded")

// Engine holds one project's items in memory, keeps per-parent visibility
// flags current, and writes mutations through to an ItemStore.
//
// Mutations are applied to the in-memory tree first, observers are notified,
// and then the store is written. A failed write leaves the optimistic state in
// place and records the edit as pending; Reconcile reloads the item and
// optionally re-applies it.
//
// An Engine is not safe for concurrent use. Listeners may call back into the
// engine, including mutations.
type Engine struct {
	store  ItemStore
	hub    *notify.Hub
	log    *slog.Logger
	now    func() time.Time
	filter model.Filter

	projectID string
	tree      *Tree
	flags     *flagCache
	selected  string
	pending   map[string]mutate.Fields
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithHub shares a notification hub; by default each engine owns its own.
func WithHub(h *notify.Hub) Option {
	return func(e *Engine) {
		if h != nil {
			e.hub = h
		}
	}
}

func WithFilter(f model.Filter) Option {
	return func(e *Engine) {
		if nf, err := statusutil.NormalizeFilter(string(f)); err == nil {
			e.filter = nf
		}
	}
}

func NewEngine(s ItemStore, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		hub:     notify.NewHub(),
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
		filter:  model.FilterAll,
		tree:    NewTree(nil),
		flags:   newFlagCache(),
		pending: map[string]mutate.Fields{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Hub() *notify.Hub     { return e.hub }
func (e *Engine) Filter() model.Filter { return e.filter }
func (e *Engine) ProjectID() string    { return e.projectID }
func (e *Engine) Tree() *Tree          { return e.tree }
func (e *Engine) Now() time.Time       { return e.now() }
func (e *Engine) Selected() string     { return e.selected }

func (e *Engine) Listen(ns string, keys []string, cb notify.Callback) func() {
	return e.hub.Listen(ns, keys, cb)
}

// Load replaces the in-memory tree with every item of projectID.
func (e *Engine) Load(ctx context.Context, projectID string) error {
	items, err := e.store.Query(ctx, model.Query{ProjectID: projectID})
	if err != nil {
		e.log.Error("load failed", "project", projectID, "err", err)
		return fmt.Errorf("load project %s: %w", projectID, err)
	}
	e.projectID = projectID
	e.tree = NewTree(items)
	e.flags = newFlagCache()
	e.flags.rebuild(e.tree, e.filter, e.now())
	e.pending = map[string]mutate.Fields{}
	e.selected = ""
	if orphans := e.tree.Orphans(); len(orphans) > 0 {
		e.log.Warn("items reference missing parents", "project", projectID, "ids", orphans)
	}
	e.log.Debug("project loaded", "project", projectID, "items", e.tree.Len())
	e.hub.Trigger(NSView, projectID)
	return nil
}

// SetFilter switches the active filter and recomputes every parent.
func (e *Engine) SetFilter(f model.Filter) error {
	nf, err := statusutil.NormalizeFilter(string(f))
	if err != nil {
		return err
	}
	e.filter = nf
	e.flags.rebuild(e.tree, e.filter, e.now())
	e.hub.Trigger(NSView, e.projectID)
	return nil
}

// Refresh re-evaluates time-dependent visibility (grace windows, snooze
// wake-ups, review decay) against the current clock.
func (e *Engine) Refresh() {
	changed := e.flags.rebuild(e.tree, e.filter, e.now())
	for _, id := range changed {
		e.hub.Trigger(NSParent, id)
	}
	e.hub.Trigger(NSView, e.projectID)
}

// expire rebuilds the parent flags once the clock has passed the next
// grace expiry, snooze wake-up or review decay of any leaf.
func (e *Engine) expire(now time.Time) {
	if !e.flags.expired(now) {
		return
	}
	changed := e.flags.rebuild(e.tree, e.filter, now)
	e.log.Debug("time-dependent flags expired", "changed", len(changed))
	for _, id := range changed {
		e.hub.Trigger(NSParent, id)
	}
}

func (e *Engine) Item(id string) (model.Item, error) {
	it, ok := e.tree.Get(id)
	if !ok {
		return model.Item{}, mutate.NotFoundError{Kind: "item", ID: id}
	}
	return it, nil
}

// Children returns the children of id ("" for top-level items) in rank order.
func (e *Engine) Children(id string) []model.Item { return e.tree.Children(id) }

func (e *Engine) IsParent(id string) bool { return e.tree.IsParent(id) }

// Flags returns the aggregate flags of a parent; ok is false for leaves.
func (e *Engine) Flags(id string) (Flags, bool) {
	if !e.tree.IsParent(id) {
		return Flags{}, false
	}
	now := e.now()
	e.expire(now)
	return e.flags.get(e.tree, id, e.filter, now), true
}

func (e *Engine) HasVisibleKids(id string) bool {
	fl, ok := e.Flags(id)
	return ok && !fl.KidsHidden
}

// IsVisible reports whether id is shown under the active filter. Leaves use
// the item rule; parents are shown unless hidden, and need either a visible
// descendant or their own state to be visible.
func (e *Engine) IsVisible(id string) bool {
	it := e.tree.item(id)
	if it == nil {
		return false
	}
	now := e.now()
	if !e.tree.IsParent(id) {
		return IsVisible(*it, e.filter, now)
	}
	e.expire(now)
	fl := e.flags.get(e.tree, id, e.filter, now)
	if fl.Hidden {
		return false
	}
	return !fl.KidsHidden || IsVisible(*it, e.filter, now)
}

// Select moves the selection to id ("" clears it).
func (e *Engine) Select(id string) error {
	if id != "" && e.tree.item(id) == nil {
		return mutate.NotFoundError{Kind: "item", ID: id}
	}
	e.setSelected(id)
	return nil
}

func (e *Engine) setSelected(id string) {
	if id == e.selected {
		return
	}
	prev := e.selected
	e.selected = id
	if prev != "" {
		e.hub.Trigger(NSSelection, prev)
	}
	if id != "" {
		e.hub.Trigger(NSSelection, id)
	}
}

// Pending returns the local edit that failed to persist for id, if any.
func (e *Engine) Pending(id string) (mutate.Fields, bool) {
	f, ok := e.pending[id]
	return f, ok
}

// change is one field update inside a plan.
type change struct {
	id     string
	fields mutate.Fields
}

// plan is the unit of work behind every mutation: field changes applied in
// order, then removals (leaf-first), then notifications for items.
type plan struct {
	op       string
	changes  []change
	removals []string
	items    []string
}

type staged struct {
	change
	resolved mutate.Fields
	version  time.Time
}

func (e *Engine) run(ctx context.Context, p plan) error {
	now := e.now()
	e.expire(now)

	// Resolve everything before touching the tree so a validation error leaves it unchanged.
	steps := make([]staged, 0, len(p.changes))
	nexts := make([]model.Item, 0, len(p.changes))
	for _, c := range p.changes {
		cur, ok := e.tree.Get(c.id)
		if !ok {
			return mutate.NotFoundError{Kind: "item", ID: c.id}
		}
		rf, err := c.fields.Resolve(cur, now)
		if err != nil {
			return fmt.Errorf("%s %s: %w", p.op, c.id, err)
		}
		next := cur.Clone()
		rf.Apply(&next)
		next.UpdatedAt = store.NextVersion(cur.UpdatedAt, now)
		steps = append(steps, staged{change: c, resolved: rf, version: cur.UpdatedAt})
		nexts = append(nexts, next)
	}
	for _, id := range p.removals {
		if e.tree.item(id) == nil {
			return mutate.NotFoundError{Kind: "item", ID: id}
		}
	}

	// Optimistic in-memory apply.
	var dirty []string
	parents := map[string]bool{}
	for _, next := range nexts {
		old := e.tree.ParentOf(next.ID)
		e.tree.Put(next)
		if nw := e.tree.ParentOf(next.ID); nw != old {
			parents[old], parents[nw] = true, true
			dirty = append(dirty, old)
		}
		dirty = append(dirty, next.ID)
	}
	for _, id := range p.removals {
		old := e.tree.ParentOf(id)
		e.tree.Remove(id)
		e.flags.forget(id)
		delete(e.pending, id)
		parents[old] = true
		dirty = append(dirty, old)
	}
	changed := e.flags.recomputePaths(e.tree, dirty, e.filter, now)
	for _, id := range changed {
		parents[id] = true
	}
	e.emit(p.items, parents)
	e.log.Debug("mutation applied", "op", p.op, "changes", len(steps), "removals", len(p.removals))

	// Write-through.
	for i, s := range steps {
		stored, err := e.store.Update(ctx, s.id, s.resolved, s.version)
		if err != nil {
			e.stash(steps[i:])
			if errors.Is(err, mutate.ErrConflict) {
				e.log.Warn("store rejected stale write", "op", p.op, "id", s.id, "err", err)
			} else {
				e.log.Error("store write failed", "op", p.op, "id", s.id, "err", err)
			}
			return fmt.Errorf("%s %s: %w", p.op, s.id, err)
		}
		e.settle(stored)
	}
	for _, id := range p.removals {
		if err := e.store.Remove(ctx, id); err != nil && !errors.Is(err, mutate.ErrNotFound) {
			e.log.Error("store remove failed", "op", p.op, "id", id, "err", err)
			return fmt.Errorf("%s %s: %w", p.op, id, err)
		}
	}
	return nil
}

func (e *Engine) stash(steps []staged) {
	for _, s := range steps {
		e.pending[s.id] = e.pending[s.id].Merge(s.fields)
	}
}

// settle replaces the optimistic copy with the stored one; the stored version
// is the token for the next write.
func (e *Engine) settle(stored model.Item) {
	old := e.tree.ParentOf(stored.ID)
	e.tree.Put(stored)
	changed := e.flags.recomputePaths(e.tree, []string{old, stored.ID}, e.filter, e.now())
	for _, id := range changed {
		e.hub.Trigger(NSParent, id)
	}
}

// emit fires item keys in order (deduplicated), then parent keys.
func (e *Engine) emit(items []string, parents map[string]bool) {
	seen := map[string]bool{}
	for _, id := range items {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		e.hub.Trigger(NSItem, id)
	}
	for _, id := range sortedKeys(parents) {
		if id == "" {
			continue
		}
		e.hub.Trigger(NSParent, id)
	}
}

// create persists first since the store assigns the id, then inserts the item.
func (e *Engine) create(ctx context.Context, op string, n model.NewItem) (model.Item, error) {
	if e.projectID == "" {
		return model.Item{}, errNotLoaded
	}
	n.ProjectID = e.projectID
	it, err := e.store.Create(ctx, n)
	if err != nil {
		e.log.Error("store create failed", "op", op, "err", err)
		return model.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	e.tree.Put(it)
	parent := e.tree.ParentOf(it.ID)
	parents := map[string]bool{parent: true}
	for _, id := range e.flags.recomputePaths(e.tree, []string{parent}, e.filter, e.now()) {
		parents[id] = true
	}
	e.emit([]string{it.ID}, parents)
	e.log.Debug("item created", "op", op, "id", it.ID, "parent", parent)
	return it, nil
}

// Reconcile reloads id from the store, discarding the optimistic copy. With
// reapply set, a pending local edit is applied again on top of the fresh item.
func (e *Engine) Reconcile(ctx context.Context, id string, reapply bool) (model.Item, error) {
	fresh, err := e.store.Get(ctx, id)
	if errors.Is(err, mutate.ErrNotFound) {
		if e.tree.item(id) != nil {
			old := e.tree.ParentOf(id)
			e.tree.Remove(id)
			e.flags.forget(id)
			parents := map[string]bool{old: true}
			for _, pid := range e.flags.recomputePaths(e.tree, []string{old}, e.filter, e.now()) {
				parents[pid] = true
			}
			e.emit([]string{id}, parents)
		}
		delete(e.pending, id)
		return model.Item{}, err
	}
	if err != nil {
		return model.Item{}, fmt.Errorf("reconcile %s: %w", id, err)
	}
	old := e.tree.ParentOf(id)
	e.tree.Put(fresh)
	parents := map[string]bool{old: true, e.tree.ParentOf(id): true}
	for _, pid := range e.flags.recomputePaths(e.tree, []string{old, id}, e.filter, e.now()) {
		parents[pid] = true
	}
	e.emit([]string{id}, parents)

	pf, ok := e.pending[id]
	delete(e.pending, id)
	if !reapply || !ok || pf.IsEmpty() {
		return fresh, nil
	}
	if pf.ParentID.IsSet() {
		if err := e.checkMove("reconcile", id, pf.ParentID.Value); err != nil {
			return fresh, err
		}
	}
	if err := e.run(ctx, plan{op: "reconcile", changes: []change{{id: id, fields: pf}}, items: []string{id}}); err != nil {
		return fresh, err
	}
	return e.Item(id)
}
