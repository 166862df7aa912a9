package outline

import (
	"testing"
	"time"

	"minder-cli/internal/model"
)

func mkItem(id, parent, rank string, st model.State) model.Item {
	old := t0.Add(-24 * time.Hour)
	it := model.Item{ID: id, ProjectID: "proj-1", Rank: rank, Text: id, State: st, CreatedAt: old, UpdatedAt: old}
	if parent != "" {
		it.ParentID = &parent
	}
	return it
}

func TestPropagate_AllDoneParentHiddenUnlessDoneShown(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("p", "", "h", model.StateCur),
		mkItem("a", "p", "h", model.StateDone),
		mkItem("b", "p", "p", model.StateDone),
	})
	fl := Propagate(tr, "p", model.FilterFocus, t0)
	if !fl.Hidden || !fl.AllDone || !fl.KidsHidden {
		t.Fatalf("focus: expected hidden/allDone/kidsHidden, got %+v", fl)
	}
	fl = Propagate(tr, "p", model.FilterDone, t0)
	if fl.Hidden || !fl.AllDone || fl.KidsHidden {
		t.Fatalf("done: expected visible all-done parent, got %+v", fl)
	}
}

func TestPropagate_KidsHiddenWithoutAllDone(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("p", "", "h", model.StateCur),
		mkItem("a", "p", "h", model.StateLater),
		mkItem("b", "p", "p", model.StateDone),
	})
	fl := Propagate(tr, "p", model.FilterFocus, t0)
	if fl.Hidden || fl.AllDone || !fl.KidsHidden {
		t.Fatalf("expected kidsHidden only, got %+v", fl)
	}
}

func TestPropagate_Recursive(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("g", "", "h", model.StateCur),
		mkItem("p", "g", "h", model.StateCur),
		mkItem("x", "p", "h", model.StateDone),
		mkItem("l", "g", "p", model.StateDone),
	})
	fl := Propagate(tr, "g", model.FilterFocus, t0)
	if !fl.Hidden || !fl.AllDone {
		t.Fatalf("expected grandparent of only done leaves hidden, got %+v", fl)
	}

	tr.Put(mkItem("x", "p", "h", model.StateCur))
	fl = Propagate(tr, "g", model.FilterFocus, t0)
	if fl.Hidden || fl.AllDone || fl.KidsHidden {
		t.Fatalf("expected a cur grandchild to surface the grandparent, got %+v", fl)
	}
	if leaf := Propagate(tr, "x", model.FilterFocus, t0); leaf != (Flags{}) {
		t.Fatalf("expected zero flags for a leaf, got %+v", leaf)
	}
}

func TestPropagate_Idempotent(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("g", "", "h", model.StateCur),
		mkItem("p", "g", "h", model.StateCur),
		mkItem("x", "p", "h", model.StateDone),
		mkItem("y", "p", "p", model.StateSoon),
		mkItem("l", "g", "p", model.StateLater),
	})
	for _, f := range []model.Filter{model.FilterFocus, model.FilterReview, model.FilterPile, model.FilterDone} {
		a := Propagate(tr, "g", f, t0)
		b := Propagate(tr, "g", f, t0)
		if a != b {
			t.Fatalf("%s: recompute changed flags: %+v vs %+v", f, a, b)
		}
		c := newFlagCache()
		c.rebuild(tr, f, t0)
		if changed := c.rebuild(tr, f, t0); len(changed) != 0 {
			t.Fatalf("%s: second rebuild reported changes: %v", f, changed)
		}
		if changed := c.recomputePaths(tr, []string{"x", "l"}, f, t0); len(changed) != 0 {
			t.Fatalf("%s: path recompute without mutation reported changes: %v", f, changed)
		}
	}
}

func TestFlagCache_PathRecomputeMatchesFullPass(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("g", "", "h", model.StateCur),
		mkItem("p", "g", "h", model.StateCur),
		mkItem("x", "p", "h", model.StateCur),
		mkItem("q", "", "p", model.StateCur),
		mkItem("z", "q", "h", model.StateDone),
	})
	c := newFlagCache()
	c.rebuild(tr, model.FilterFocus, t0)

	tr.Put(mkItem("x", "p", "h", model.StateDone))
	changed := c.recomputePaths(tr, []string{"x"}, model.FilterFocus, t0)
	if len(changed) != 2 {
		t.Fatalf("expected p and g to change, got %v", changed)
	}
	if _, ok := c.m["q"]; !ok {
		t.Fatalf("expected untouched branch to stay cached")
	}
	for _, id := range []string{"g", "p", "q"} {
		if got, want := c.m[id], Propagate(tr, id, model.FilterFocus, t0); got != want {
			t.Fatalf("%s: cached %+v, full pass %+v", id, got, want)
		}
	}
}
