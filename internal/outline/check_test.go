package outline

import (
	"testing"

	"minder-cli/internal/model"
)

func TestCheckCleanTree(t *testing.T) {
	tr := NewTree([]model.Item{
		mkItem("a", "", "b", model.StateCur),
		mkItem("b", "", "c", model.StateNew),
		mkItem("a1", "a", "b", model.StateDone),
	})
	r := Check(tr)
	if r.Items != 3 || len(r.Issues) != 0 || r.HasErrors() {
		t.Fatalf("Check = %+v, want no issues", r)
	}
}

func TestCheckFindsStoredDamage(t *testing.T) {
	cur := model.StateCur
	snoozed := mkItem("s", "", "e", model.StateDone)
	snoozed.SnoozeTil = timePtr(t0)
	snoozed.UnsnoozedState = &cur

	tr := NewTree([]model.Item{
		mkItem("a", "", "b", model.StateCur),
		mkItem("tie", "", "b", model.StateCur),
		mkItem("lost", "gone", "c", model.StateCur),
		mkItem("x", "y", "d", model.StateCur),
		mkItem("y", "x", "d", model.StateCur),
		snoozed,
	})
	r := Check(tr)
	if !r.HasErrors() {
		t.Fatalf("expected errors, got %+v", r)
	}

	kinds := map[string][]string{}
	for _, is := range r.Issues {
		kinds[is.Kind] = append(kinds[is.Kind], is.ItemID)
	}
	if got := kinds["orphan"]; len(got) != 1 || got[0] != "lost" {
		t.Fatalf("orphan issues = %v, want [lost]", got)
	}
	if got := kinds["cycle"]; len(got) != 1 {
		t.Fatalf("cycle issues = %v, want one report for the x/y loop", got)
	}
	if got := kinds["rank"]; len(got) != 1 {
		t.Fatalf("rank issues = %v, want one tie", got)
	}
	if got := kinds["snooze"]; len(got) != 2 {
		t.Fatalf("snooze issues = %v, want wake time and unsnoozed state on s", got)
	}
}
