package statusutil

import (
	"testing"

	"minder-cli/internal/model"
)

func TestNormalizeState(t *testing.T) {
	cases := []struct {
		in      string
		want    model.State
		wantErr bool
	}{
		{"new", model.StateNew, false},
		{"CUR", model.StateCur, false},
		{"  waiting ", model.StateWaiting, false},
		{"done", model.StateDone, false},
		{"backlog", "", true},
		{"", "", true},
		{"   ", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeState(tc.in)
		if tc.wantErr && err == nil {
			t.Fatalf("NormalizeState(%q): expected error", tc.in)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("NormalizeState(%q): unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeState(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeFilter(t *testing.T) {
	if f, err := NormalizeFilter(""); err != nil || f != model.FilterAll {
		t.Fatalf("expected empty filter to default to all; got %q (%v)", f, err)
	}
	if f, err := NormalizeFilter("Focus"); err != nil || f != model.FilterFocus {
		t.Fatalf("expected focus; got %q (%v)", f, err)
	}
	if _, err := NormalizeFilter("outline"); err == nil {
		t.Fatalf("expected error for unknown filter")
	}
}

func TestPriorityOrder(t *testing.T) {
	want := []model.State{model.StateWaiting, model.StateNew, model.StateTop, model.StateCur, model.StateSoon, model.StateLater, model.StateDone}
	for i, s := range want {
		if got := Priority(s); got != i {
			t.Fatalf("Priority(%q): expected %d, got %d", s, i, got)
		}
	}
	if Priority("bogus") != -1 {
		t.Fatalf("expected -1 for unknown state")
	}
}

func TestInVisibleSet(t *testing.T) {
	cases := []struct {
		f    model.Filter
		s    model.State
		want bool
	}{
		{model.FilterFocus, model.StateTop, true},
		{model.FilterFocus, model.StateCur, true},
		{model.FilterFocus, model.StateNew, false},
		{model.FilterReview, model.StateWaiting, true},
		{model.FilterReview, model.StateLater, false},
		{model.FilterPile, model.StateLater, true},
		{model.FilterPile, model.StateNew, false},
		{model.FilterWaiting, model.StateWaiting, true},
		{model.FilterDone, model.StateDone, true},
		{model.FilterNotDone, model.StateDone, false},
		{model.FilterNotDone, model.StateWaiting, false},
		{model.FilterAll, model.StateDone, true},
		{model.Filter("nope"), model.StateDone, false},
	}
	for _, tc := range cases {
		if got := InVisibleSet(tc.f, tc.s); got != tc.want {
			t.Fatalf("InVisibleSet(%q, %q): expected %v, got %v", tc.f, tc.s, tc.want, got)
		}
	}
}

func TestVisibleStatesReturnsCopy(t *testing.T) {
	xs := VisibleStates(model.FilterFocus)
	xs[0] = model.StateDone
	if InVisibleSet(model.FilterFocus, model.StateDone) {
		t.Fatalf("expected VisibleStates to return a copy")
	}
}
