package outline

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minder-cli/internal/model"
	"minder-cli/internal/mutate"
	"minder-cli/internal/notify"
	"minder-cli/internal/store"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	ctx     context.Context
	clk     *testClock
	db      *store.SQLite
	project string
	e       *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := &testClock{t: t0}
	db, err := store.Store{Dir: t.TempDir()}.Open(ctx, store.WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	p, err := db.CreateProject(ctx, "test")
	require.NoError(t, err)
	f := &fixture{ctx: ctx, clk: clk, db: db, project: p.ID}
	f.e = f.engine(t, db, opts...)
	return f
}

func (f *fixture) engine(t *testing.T, s ItemStore, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(s, append([]Option{WithClock(f.clk.Now)}, opts...)...)
	require.NoError(t, e.Load(f.ctx, f.project))
	return e
}

// top creates top-level items in the given order.
func (f *fixture) top(t *testing.T, texts ...string) []model.Item {
	t.Helper()
	var out []model.Item
	for i, text := range texts {
		var it model.Item
		var err error
		if i == 0 {
			if kids := f.e.Children(""); len(kids) > 0 {
				it, err = f.e.CreateAfter(f.ctx, kids[len(kids)-1].ID, text)
			} else {
				it, err = f.e.CreateChild(f.ctx, "", text)
			}
		} else {
			it, err = f.e.CreateAfter(f.ctx, out[i-1].ID, text)
		}
		require.NoError(t, err)
		out = append(out, it)
	}
	return out
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

type recorder struct{ got []string }

func (r *recorder) listen(e *Engine, namespaces ...string) {
	for _, ns := range namespaces {
		e.Listen(ns, []string{notify.Wildcard}, func(ns, key string) {
			r.got = append(r.got, ns+":"+key)
		})
	}
}

func (r *recorder) reset() { r.got = nil }

func TestEngine_BumpNotifiesOnlyNeighbours(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B", "C")
	a, b, c := items[0], items[1], items[2]

	rec := &recorder{}
	rec.listen(f.e, NSItem, NSParent)
	require.NoError(t, f.e.Bump(f.ctx, c.ID))

	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(f.e.Children("")))
	assert.Equal(t, []string{"item:" + c.ID, "item:" + b.ID, "item:" + a.ID}, rec.got)

	stored, err := f.db.Query(f.ctx, model.Query{ProjectID: f.project, TopLevel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, ids(stored))

	rec.reset()
	require.NoError(t, f.e.Bump(f.ctx, c.ID))
	assert.Empty(t, rec.got, "bumping the first sibling is a no-op")
}

func TestEngine_UnnestTopLevelIsNoop(t *testing.T) {
	f := newFixture(t)
	a := f.top(t, "A")[0]
	rec := &recorder{}
	rec.listen(f.e, NSItem, NSParent, NSSelection)

	require.NoError(t, f.e.Unnest(f.ctx, a.ID))
	assert.Empty(t, rec.got)
	got, err := f.e.Item(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.UpdatedAt, got.UpdatedAt)
}

func TestEngine_NestUnderPrecedingSibling(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B", "C")
	a, b, c := items[0], items[1], items[2]

	rec := &recorder{}
	rec.listen(f.e, NSParent)
	require.NoError(t, f.e.Nest(f.ctx, b.ID))
	assert.Equal(t, []string{b.ID}, ids(f.e.Children(a.ID)))
	assert.True(t, f.e.IsParent(a.ID))
	assert.Contains(t, rec.got, "parent:"+a.ID)

	require.NoError(t, f.e.Nest(f.ctx, c.ID))
	assert.Equal(t, []string{b.ID, c.ID}, ids(f.e.Children(a.ID)), "nested items are appended")

	stored, err := f.db.Get(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, stored.Parent())

	require.NoError(t, f.e.Unnest(f.ctx, b.ID))
	assert.Equal(t, []string{a.ID, b.ID}, ids(f.e.Children("")), "unnested item sits right after its old parent")
	assert.Equal(t, []string{c.ID}, ids(f.e.Children(a.ID)))
}

func TestEngine_NestSkipsHiddenSiblingsAndCreatesPlaceholder(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B", "C")
	a, b, c := items[0], items[1], items[2]
	_, err := f.e.SetState(f.ctx, a.ID, model.StateLater)
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, b.ID, model.StateCur)
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, c.ID, model.StateCur)
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterFocus))

	require.NoError(t, f.e.Nest(f.ctx, c.ID))
	assert.Equal(t, b.ID, f.e.Tree().ParentOf(c.ID))

	require.NoError(t, f.e.Nest(f.ctx, b.ID))
	ph := f.e.Tree().ParentOf(b.ID)
	require.NotEmpty(t, ph)
	require.NotEqual(t, a.ID, ph, "hidden sibling is not a nest target")
	pi, err := f.e.Item(ph)
	require.NoError(t, err)
	assert.Equal(t, PlaceholderText, pi.Text)
	assert.Equal(t, model.StateCur, pi.State)
	assert.Equal(t, []string{a.ID, ph}, ids(f.e.Children("")))
	assert.Equal(t, []string{c.ID}, ids(f.e.Children(b.ID)))
}

func TestEngine_MoveRejectsCycles(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B")
	a, b := items[0], items[1]
	require.NoError(t, f.e.Nest(f.ctx, b.ID))

	err := f.e.Move(f.ctx, a.ID, b.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutate.ErrStructural))
	var se *mutate.StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, a.ID, se.ItemID)

	err = f.e.Move(f.ctx, a.ID, a.ID)
	assert.True(t, errors.Is(err, mutate.ErrStructural))
	assert.Equal(t, "", f.e.Tree().ParentOf(a.ID))

	err = f.e.Move(f.ctx, a.ID, "missing")
	assert.True(t, errors.Is(err, mutate.ErrNotFound))

	require.NoError(t, f.e.Move(f.ctx, b.ID, ""))
	assert.Equal(t, []string{a.ID, b.ID}, ids(f.e.Children("")))
	assert.False(t, f.e.IsParent(a.ID))
}

func TestEngine_ReorderAcrossParents(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B", "C")
	a, b, c := items[0], items[1], items[2]
	k, err := f.e.CreateChild(f.ctx, a.ID, "K")
	require.NoError(t, err)

	require.NoError(t, f.e.Reorder(f.ctx, k.ID, c.ID, false))
	assert.Equal(t, []string{a.ID, b.ID, k.ID, c.ID}, ids(f.e.Children("")))
	assert.False(t, f.e.IsParent(a.ID))

	require.NoError(t, f.e.Reorder(f.ctx, a.ID, c.ID, true))
	assert.Equal(t, []string{b.ID, k.ID, c.ID, a.ID}, ids(f.e.Children("")))

	stored, err := f.db.Query(f.ctx, model.Query{ProjectID: f.project, TopLevel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, k.ID, c.ID, a.ID}, ids(stored))
}

func TestEngine_CreateAfterInheritsState(t *testing.T) {
	f := newFixture(t)
	a := f.top(t, "A")[0]
	_, err := f.e.SetState(f.ctx, a.ID, model.StateSoon)
	require.NoError(t, err)

	withText, err := f.e.CreateAfter(f.ctx, a.ID, "next")
	require.NoError(t, err)
	assert.Equal(t, model.StateSoon, withText.State)
	assert.Equal(t, withText.ID, f.e.Selected())

	blank, err := f.e.CreateAfter(f.ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, blank.State)
	assert.Equal(t, []string{a.ID, blank.ID, withText.ID}, ids(f.e.Children("")))

	_, err = f.e.SetState(f.ctx, a.ID, model.StateDone)
	require.NoError(t, err)
	afterDone, err := f.e.CreateAfter(f.ctx, a.ID, "x")
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, afterDone.State)

	_, err = f.e.Snooze(f.ctx, a.ID, time.Hour)
	require.NoError(t, err)
	afterWaiting, err := f.e.CreateAfter(f.ctx, a.ID, "y")
	require.NoError(t, err)
	assert.Equal(t, model.StateNew, afterWaiting.State, "a new item is never born snoozed")
	assert.Nil(t, afterWaiting.UnsnoozedState)
	assert.Nil(t, afterWaiting.SnoozeTil)
}

func TestEngine_CreateChildIsFirst(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	k1, err := f.e.CreateChild(f.ctx, p.ID, "k1")
	require.NoError(t, err)
	k2, err := f.e.CreateChild(f.ctx, p.ID, "k2")
	require.NoError(t, err)
	assert.Equal(t, []string{k2.ID, k1.ID}, ids(f.e.Children(p.ID)))

	_, err = f.e.CreateChild(f.ctx, "missing", "x")
	assert.True(t, errors.Is(err, mutate.ErrNotFound))
}

func deleteFixture(t *testing.T) (*fixture, model.Item, model.Item, model.Item, model.Item, model.Item) {
	f := newFixture(t)
	items := f.top(t, "X", "P", "Y")
	k1, err := f.e.CreateChild(f.ctx, items[1].ID, "K1")
	require.NoError(t, err)
	k2, err := f.e.CreateAfter(f.ctx, k1.ID, "K2")
	require.NoError(t, err)
	return f, items[0], items[1], items[2], k1, k2
}

func TestEngine_DeleteRejectsParents(t *testing.T) {
	f, _, p, _, k1, k2 := deleteFixture(t)
	err := f.e.Delete(f.ctx, p.ID, DeleteReject)
	require.Error(t, err)
	var oe *mutate.OrphanedChildrenError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, []string{k1.ID, k2.ID}, oe.ChildIDs)
	_, err = f.db.Get(f.ctx, p.ID)
	assert.NoError(t, err)
}

func TestEngine_DeleteReparent(t *testing.T) {
	f, x, p, y, k1, k2 := deleteFixture(t)
	require.NoError(t, f.e.Delete(f.ctx, p.ID, DeleteReparent))
	assert.Equal(t, []string{x.ID, k1.ID, k2.ID, y.ID}, ids(f.e.Children("")))

	_, err := f.db.Get(f.ctx, p.ID)
	assert.True(t, errors.Is(err, mutate.ErrNotFound))
	stored, err := f.db.Query(f.ctx, model.Query{ProjectID: f.project, TopLevel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{x.ID, k1.ID, k2.ID, y.ID}, ids(stored))
}

func TestEngine_DeleteCascade(t *testing.T) {
	f, x, p, y, _, _ := deleteFixture(t)
	require.NoError(t, f.e.Delete(f.ctx, p.ID, DeleteCascade))
	assert.Equal(t, []string{x.ID, y.ID}, ids(f.e.Children("")))
	assert.Equal(t, 2, f.e.Tree().Len())
	all, err := f.db.Query(f.ctx, model.Query{ProjectID: f.project})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEngine_SelectionAfterDelete(t *testing.T) {
	f, x, p, y, k1, _ := deleteFixture(t)

	require.NoError(t, f.e.Select(y.ID))
	require.NoError(t, f.e.Delete(f.ctx, y.ID, DeleteReject))
	assert.Equal(t, p.ID, f.e.Selected(), "nearest preceding visible sibling")

	require.NoError(t, f.e.Select(k1.ID))
	require.NoError(t, f.e.Delete(f.ctx, k1.ID, DeleteReject))
	assert.Equal(t, p.ID, f.e.Selected(), "first child falls back to the parent")

	require.NoError(t, f.e.Select(x.ID))
	require.NoError(t, f.e.Delete(f.ctx, x.ID, DeleteReject))
	assert.Equal(t, "", f.e.Selected())
}

func TestEngine_UpdateCheckVersion(t *testing.T) {
	f := newFixture(t)
	it := f.top(t, "draft")[0]
	v0 := it.UpdatedAt

	f.clk.Advance(time.Second)
	got, err := f.e.Update(f.ctx, it.ID, mutate.Fields{Text: mutate.Set("x")}, v0)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(v0))

	_, err = f.e.Update(f.ctx, it.ID, mutate.Fields{Text: mutate.Set("y")}, v0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mutate.ErrConflict))

	stored, err := f.db.Get(f.ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", stored.Text)
	assert.Equal(t, "x", mustItem(t, f.e, it.ID).Text, "rejected edit leaves memory untouched")
}

func TestEngine_ConcurrentWritersReconcile(t *testing.T) {
	f := newFixture(t)
	it := f.top(t, "draft")[0]
	other := f.engine(t, f.db)

	f.clk.Advance(time.Second)
	_, err := f.e.SetText(f.ctx, it.ID, "from A")
	require.NoError(t, err)

	_, err = other.SetText(f.ctx, it.ID, "from B")
	require.Error(t, err)
	var ce *mutate.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "from B", mustItem(t, other, it.ID).Text, "optimistic copy stays until reconciled")
	_, pending := other.Pending(it.ID)
	assert.True(t, pending)

	fresh, err := other.Reconcile(f.ctx, it.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "from A", fresh.Text)
	assert.Equal(t, "from A", mustItem(t, other, it.ID).Text)
	_, pending = other.Pending(it.ID)
	assert.False(t, pending)
}

func TestEngine_ReconcileReapplies(t *testing.T) {
	f := newFixture(t)
	it := f.top(t, "draft")[0]
	other := f.engine(t, f.db)

	f.clk.Advance(time.Second)
	_, err := f.e.SetState(f.ctx, it.ID, model.StateCur)
	require.NoError(t, err)
	_, err = other.SetText(f.ctx, it.ID, "from B")
	require.Error(t, err)

	got, err := other.Reconcile(f.ctx, it.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "from B", got.Text)
	assert.Equal(t, model.StateCur, got.State, "concurrent state change is kept")

	stored, err := f.db.Get(f.ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "from B", stored.Text)
}

func TestEngine_ReconcileRemovedItem(t *testing.T) {
	f := newFixture(t)
	it := f.top(t, "gone")[0]
	other := f.engine(t, f.db)
	require.NoError(t, f.e.Delete(f.ctx, it.ID, DeleteReject))

	_, err := other.Reconcile(f.ctx, it.ID, true)
	assert.True(t, errors.Is(err, mutate.ErrNotFound))
	assert.Equal(t, 0, other.Tree().Len())
}

type flakyStore struct {
	*store.SQLite
	failUpdates bool
}

func (s *flakyStore) Update(ctx context.Context, id string, f mutate.Fields, v time.Time) (model.Item, error) {
	if s.failUpdates {
		return model.Item{}, errors.New("disk full")
	}
	return s.SQLite.Update(ctx, id, f, v)
}

func TestEngine_FailedWriteIsPending(t *testing.T) {
	f := newFixture(t)
	it := f.top(t, "keep")[0]
	fs := &flakyStore{SQLite: f.db}
	e := f.engine(t, fs)

	fs.failUpdates = true
	_, err := e.SetText(f.ctx, it.ID, "lost")
	require.Error(t, err)
	assert.Equal(t, "lost", mustItem(t, e, it.ID).Text)
	pf, ok := e.Pending(it.ID)
	require.True(t, ok)
	assert.Equal(t, "lost", pf.Text.Value)

	fs.failUpdates = false
	got, err := e.Reconcile(f.ctx, it.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Text)
	assert.Equal(t, "keep", mustItem(t, e, it.ID).Text)
}

func TestEngine_FailedNestDropsPlaceholder(t *testing.T) {
	f := newFixture(t)
	solo := f.top(t, "solo")[0]
	fs := &flakyStore{SQLite: f.db}
	e := f.engine(t, fs)

	fs.failUpdates = true
	require.Error(t, e.Nest(f.ctx, solo.ID))
	assert.Equal(t, []string{solo.ID}, ids(e.Children("")))
	assert.False(t, e.IsParent(solo.ID))
	_, pending := e.Pending(solo.ID)
	assert.False(t, pending)

	stored, err := f.db.Query(f.ctx, model.Query{ProjectID: f.project})
	require.NoError(t, err)
	assert.Equal(t, []string{solo.ID}, ids(stored))
	assert.False(t, Check(e.Tree()).HasErrors())
}

func TestEngine_StateChangeNotifiesParent(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	k, err := f.e.CreateChild(f.ctx, p.ID, "K")
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterFocus))

	rec := &recorder{}
	rec.listen(f.e, NSParent)
	_, err = f.e.SetState(f.ctx, k.ID, model.StateDone)
	require.NoError(t, err)
	assert.Contains(t, rec.got, "parent:"+p.ID)

	fl, ok := f.e.Flags(p.ID)
	require.True(t, ok)
	assert.Equal(t, Flags{Hidden: true, KidsHidden: true, AllDone: true}, fl)
	assert.False(t, f.e.IsVisible(p.ID))
	assert.Empty(t, f.e.FlatList(""))
}

func TestEngine_RefreshWakesSnoozed(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	k, err := f.e.CreateChild(f.ctx, p.ID, "K")
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, p.ID, model.StateCur)
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, k.ID, model.StateCur)
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterFocus))

	snoozed, err := f.e.Snooze(f.ctx, k.ID, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, model.StateWaiting, snoozed.State)
	require.NotNil(t, snoozed.SnoozeTil)
	assert.True(t, t0.Add(time.Hour).Equal(*snoozed.SnoozeTil))
	assert.False(t, f.e.HasVisibleKids(p.ID))
	assert.True(t, f.e.IsVisible(p.ID), "own state keeps the parent visible")

	rec := &recorder{}
	rec.listen(f.e, NSParent)
	f.clk.Advance(2 * time.Hour)
	f.e.Refresh()
	assert.True(t, f.e.HasVisibleKids(p.ID))
	assert.Contains(t, rec.got, "parent:"+p.ID)
	assert.Equal(t, []string{k.ID}, ids(f.e.FlatList("")))
}

func TestEngine_GraceExpiryWithoutRefresh(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	_, err := f.e.SetState(f.ctx, p.ID, model.StateLater)
	require.NoError(t, err)
	_, err = f.e.CreateChild(f.ctx, p.ID, "fresh")
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterFocus))
	require.True(t, f.e.HasVisibleKids(p.ID))
	require.True(t, f.e.IsVisible(p.ID))

	rec := &recorder{}
	rec.listen(f.e, NSParent)
	f.clk.Advance(6 * time.Minute)
	assert.Empty(t, f.e.FlatList(""))
	assert.False(t, f.e.HasVisibleKids(p.ID))
	assert.False(t, f.e.IsVisible(p.ID))
	assert.Empty(t, f.e.Rows())
	assert.Contains(t, rec.got, "parent:"+p.ID)
}

func TestEngine_SnoozeWakesWithoutRefresh(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	k, err := f.e.CreateChild(f.ctx, p.ID, "K")
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, p.ID, model.StateLater)
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, k.ID, model.StateCur)
	require.NoError(t, err)
	_, err = f.e.Snooze(f.ctx, k.ID, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterFocus))
	require.False(t, f.e.IsVisible(p.ID))

	f.clk.Advance(time.Hour)
	assert.True(t, f.e.HasVisibleKids(p.ID))
	assert.True(t, f.e.IsVisible(p.ID))
	rows := f.e.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, k.ID, rows[1].Item.ID)
}

func TestEngine_ReviewDecayWithoutRefresh(t *testing.T) {
	f := newFixture(t)
	p := f.top(t, "P")[0]
	k, err := f.e.CreateChild(f.ctx, p.ID, "K")
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, p.ID, model.StateCur)
	require.NoError(t, err)
	_, err = f.e.SetState(f.ctx, k.ID, model.StateSoon)
	require.NoError(t, err)
	require.NoError(t, f.e.SetFilter(model.FilterReview))
	require.True(t, f.e.HasVisibleKids(p.ID))

	f.clk.Advance(ReviewDecay)
	assert.True(t, f.e.HasVisibleKids(p.ID), "decay is strict at the boundary")
	f.clk.Advance(time.Second)
	assert.False(t, f.e.HasVisibleKids(p.ID))
	assert.Empty(t, f.e.FlatList(""))
}

func TestEngine_RowsRespectCollapseAndPins(t *testing.T) {
	f := newFixture(t)
	items := f.top(t, "A", "B")
	a, b := items[0], items[1]
	k, err := f.e.CreateChild(f.ctx, a.ID, "K")
	require.NoError(t, err)
	g, err := f.e.CreateChild(f.ctx, k.ID, "G")
	require.NoError(t, err)

	rows := f.e.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, []int{0, 1, 2, 0}, []int{rows[0].Depth, rows[1].Depth, rows[2].Depth, rows[3].Depth})
	assert.NotNil(t, rows[0].Flags)
	assert.Nil(t, rows[2].Flags)

	_, err = f.e.SetCollapsed(f.ctx, a.ID, true)
	require.NoError(t, err)
	_, err = f.e.SetPinned(f.ctx, k.ID, true)
	require.NoError(t, err)
	rows = f.e.Rows()
	var got []string
	for _, r := range rows {
		got = append(got, r.Item.ID)
	}
	assert.Equal(t, []string{a.ID, b.ID, k.ID, g.ID}, got)
	assert.True(t, rows[2].Pinned)
	assert.Equal(t, []string{a.ID, b.ID, k.ID}, f.e.Roots())
}

func TestEngine_ListenersMayReenter(t *testing.T) {
	f := newFixture(t)
	a := f.top(t, "A")[0]
	var seen string
	f.e.Listen(NSItem, []string{a.ID}, func(_, key string) {
		it, err := f.e.Item(key)
		if err == nil {
			seen = it.Text
		}
	})
	_, err := f.e.SetText(f.ctx, a.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", seen)
}

func TestEngine_RandomTreeOpsKeepForest(t *testing.T) {
	f := newFixture(t)
	f.top(t, "a", "b", "c", "d", "e", "f")
	rng := rand.New(rand.NewSource(7))

	pick := func() string {
		all := ids(f.e.Tree().Items())
		sort.Strings(all)
		return all[rng.Intn(len(all))]
	}
	for i := 0; i < 150; i++ {
		id := pick()
		var err error
		switch rng.Intn(3) {
		case 0:
			target := ""
			if rng.Intn(4) > 0 {
				target = pick()
			}
			err = f.e.Move(f.ctx, id, target)
		case 1:
			err = f.e.Nest(f.ctx, id)
		case 2:
			err = f.e.Unnest(f.ctx, id)
		}
		if err != nil {
			require.True(t, errors.Is(err, mutate.ErrStructural), "step %d: unexpected error %v", i, err)
		}
		assertForest(t, f.e)
	}

	reloaded := f.engine(t, f.db)
	for _, it := range f.e.Tree().Items() {
		assert.Equal(t, f.e.Tree().ParentOf(it.ID), reloaded.Tree().ParentOf(it.ID), "parent of %s", it.ID)
		assert.Equal(t, ids(f.e.Children(it.ID)), ids(reloaded.Children(it.ID)), "children of %s", it.ID)
	}
	assert.Equal(t, ids(f.e.Children("")), ids(reloaded.Children("")))
}

func assertForest(t *testing.T, e *Engine) {
	t.Helper()
	tr := e.Tree()
	for _, it := range tr.Items() {
		seen := map[string]bool{it.ID: true}
		for p := tr.ParentOf(it.ID); p != ""; p = tr.ParentOf(p) {
			require.False(t, seen[p], "cycle through %s", it.ID)
			seen[p] = true
		}
		if tr.IsParent(it.ID) {
			fl, _ := e.Flags(it.ID)
			require.Equal(t, Propagate(tr, it.ID, e.Filter(), e.Now()), fl, "cached flags of %s", it.ID)
		}
	}
}

func mustItem(t *testing.T, e *Engine, id string) model.Item {
	t.Helper()
	it, err := e.Item(id)
	require.NoError(t, err)
	return it
}
