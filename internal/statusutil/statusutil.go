package statusutil

import (
	"fmt"
	"strings"

	"minder-cli/internal/model"
)

// visibleStates is the fixed filter -> visible-state table.
var visibleStates = map[model.Filter][]model.State{
	model.FilterFocus:   {model.StateTop, model.StateCur},
	model.FilterReview:  {model.StateNew, model.StateWaiting, model.StateSoon},
	model.FilterPile:    {model.StateSoon, model.StateLater},
	model.FilterWaiting: {model.StateWaiting},
	model.FilterDone:    {model.StateDone},
	model.FilterNotDone: {model.StateTop, model.StateCur, model.StateNew, model.StateSoon, model.StateLater},
	model.FilterAll:     {model.StateTop, model.StateCur, model.StateWaiting, model.StateNew, model.StateSoon, model.StateLater, model.StateDone},
}

func NormalizeState(s string) (model.State, error) {
	st := model.State(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return "", fmt.Errorf("invalid state: empty")
	}
	if !ValidState(st) {
		return "", fmt.Errorf("invalid state: %q (expected one of %s)", s, joinStates(model.StatePriority))
	}
	return st, nil
}

func ValidState(s model.State) bool {
	return Priority(s) >= 0
}

// Priority returns the position of s in model.StatePriority, or -1 if unknown.
func Priority(s model.State) int {
	for i, x := range model.StatePriority {
		if x == s {
			return i
		}
	}
	return -1
}

func NormalizeFilter(s string) (model.Filter, error) {
	f := model.Filter(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return model.FilterAll, nil
	}
	if _, ok := visibleStates[f]; !ok {
		return "", fmt.Errorf("invalid filter: %q (expected focus|review|pile|waiting|done|notdone|all)", s)
	}
	return f, nil
}

// VisibleStates returns a copy of the visible-state set for f. Unknown filters see nothing.
func VisibleStates(f model.Filter) []model.State {
	xs := visibleStates[f]
	return append([]model.State(nil), xs...)
}

// InVisibleSet reports whether s is a member of the visible-state set for f.
func InVisibleSet(f model.Filter, s model.State) bool {
	for _, x := range visibleStates[f] {
		if x == s {
			return true
		}
	}
	return false
}

func IsEndState(s model.State) bool {
	return s == model.StateDone
}

func joinStates(xs []model.State) string {
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		parts = append(parts, string(x))
	}
	return strings.Join(parts, "|")
}
