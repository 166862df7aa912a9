package mutate

import (
	"sort"
	"time"

	"minder-cli/internal/model"
)

type Op uint8

const (
	OpKeep Op = iota
	OpSet
	OpDelete
)

// Opt is a single field change. The zero value leaves the field untouched;
// OpDelete removes optional fields so absence stays distinguishable from zero.
type Opt[T any] struct {
	Op    Op
	Value T
}

func Set[T any](v T) Opt[T]  { return Opt[T]{Op: OpSet, Value: v} }
func Delete[T any]() Opt[T] { return Opt[T]{Op: OpDelete} }

func (o Opt[T]) IsSet() bool    { return o.Op == OpSet }
func (o Opt[T]) IsDelete() bool { return o.Op == OpDelete }
func (o Opt[T]) Touched() bool  { return o.Op != OpKeep }

// Fields is the typed change set for one item update.
//
// State and the snooze bookkeeping are not directly assignable: callers use
// WithState / WithSnooze and Resolve derives snoozeTil and unsnoozedState from
// the item's current state.
type Fields struct {
	Text      Opt[string]
	ParentID  Opt[string] // OpDelete moves the item to top level
	Rank      Opt[string]
	Pinned    Opt[bool]
	Collapsed Opt[bool]

	state          Opt[model.State]
	snoozeFor      time.Duration
	snoozeTil      Opt[time.Time]
	unsnoozedState Opt[model.State]
	stateFrom      Opt[model.State]
	resolved       bool
}

func (f Fields) WithState(s model.State) Fields {
	f.state = Set(s)
	f.snoozeFor = 0
	f.resolved = false
	return f
}

// WithSnooze moves the item to waiting until now+d.
func (f Fields) WithSnooze(d time.Duration) Fields {
	f.state = Set(model.StateWaiting)
	f.snoozeFor = d
	f.resolved = false
	return f
}

func (f Fields) State() Opt[model.State]          { return f.state }
func (f Fields) SnoozeTil() Opt[time.Time]        { return f.snoozeTil }
func (f Fields) UnsnoozedState() Opt[model.State] { return f.unsnoozedState }
func (f Fields) SnoozeFor() time.Duration         { return f.snoozeFor }
func (f Fields) Resolved() bool                   { return f.resolved }

func (f Fields) IsEmpty() bool {
	return !f.Text.Touched() && !f.ParentID.Touched() && !f.Rank.Touched() &&
		!f.Pinned.Touched() && !f.Collapsed.Touched() && !f.state.Touched() &&
		!f.snoozeTil.Touched() && !f.unsnoozedState.Touched()
}

// Resolve validates f and applies the snooze state machine against cur.
// Resolving an already-resolved change set is a no-op.
func (f Fields) Resolve(cur model.Item, now time.Time) (Fields, error) {
	if f.resolved {
		return f, nil
	}
	if err := Validate(f); err != nil {
		return Fields{}, err
	}
	if f.state.IsSet() {
		tr := StateTransition(cur, f.state.Value, f.snoozeFor, now)
		f.snoozeTil = tr.SnoozeTil
		f.unsnoozedState = tr.UnsnoozedState
		f.stateFrom = Set(cur.State)
	}
	f.resolved = true
	return f, nil
}

// Apply writes the change set onto it. UpdatedAt is owned by the caller.
func (f Fields) Apply(it *model.Item) {
	if it == nil {
		return
	}
	if f.Text.IsSet() {
		it.Text = f.Text.Value
	}
	switch f.ParentID.Op {
	case OpSet:
		p := f.ParentID.Value
		it.ParentID = &p
	case OpDelete:
		it.ParentID = nil
	}
	if f.Rank.IsSet() {
		it.Rank = f.Rank.Value
	}
	if f.Pinned.IsSet() {
		it.Pinned = f.Pinned.Value
	}
	if f.Collapsed.IsSet() {
		it.Collapsed = f.Collapsed.Value
	}
	if f.state.IsSet() {
		it.State = f.state.Value
	}
	switch f.snoozeTil.Op {
	case OpSet:
		t := f.snoozeTil.Value
		it.SnoozeTil = &t
	case OpDelete:
		it.SnoozeTil = nil
	}
	switch f.unsnoozedState.Op {
	case OpSet:
		s := f.unsnoozedState.Value
		it.UnsnoozedState = &s
	case OpDelete:
		it.UnsnoozedState = nil
	}
}

// Names lists the touched field names in stable order.
func (f Fields) Names() []string {
	var out []string
	add := func(name string, touched bool) {
		if touched {
			out = append(out, name)
		}
	}
	add("text", f.Text.Touched())
	add("parentId", f.ParentID.Touched())
	add("rank", f.Rank.Touched())
	add("pinned", f.Pinned.Touched())
	add("collapsed", f.Collapsed.Touched())
	add("state", f.state.Touched())
	add("snoozeTil", f.snoozeTil.Touched())
	add("unsnoozedState", f.unsnoozedState.Touched())
	sort.Strings(out)
	return out
}

// Payload renders the change set for the event log. Deleted fields map to nil;
// a resolved state change also records the state it left as stateFrom.
func (f Fields) Payload() map[string]any {
	out := map[string]any{}
	put := func(name string, op Op, v any) {
		switch op {
		case OpSet:
			out[name] = v
		case OpDelete:
			out[name] = nil
		}
	}
	put("text", f.Text.Op, f.Text.Value)
	put("parentId", f.ParentID.Op, f.ParentID.Value)
	put("rank", f.Rank.Op, f.Rank.Value)
	put("pinned", f.Pinned.Op, f.Pinned.Value)
	put("collapsed", f.Collapsed.Op, f.Collapsed.Value)
	put("state", f.state.Op, f.state.Value)
	put("snoozeTil", f.snoozeTil.Op, f.snoozeTil.Value)
	put("unsnoozedState", f.unsnoozedState.Op, f.unsnoozedState.Value)
	put("stateFrom", f.stateFrom.Op, f.stateFrom.Value)
	return out
}

// Merge overlays later on top of f. Used to keep one pending local edit per item.
func (f Fields) Merge(later Fields) Fields {
	if later.Text.Touched() {
		f.Text = later.Text
	}
	if later.ParentID.Touched() {
		f.ParentID = later.ParentID
	}
	if later.Rank.Touched() {
		f.Rank = later.Rank
	}
	if later.Pinned.Touched() {
		f.Pinned = later.Pinned
	}
	if later.Collapsed.Touched() {
		f.Collapsed = later.Collapsed
	}
	if later.state.Touched() {
		f.state = later.state
		f.snoozeFor = later.snoozeFor
	}
	f.snoozeTil = Opt[time.Time]{}
	f.unsnoozedState = Opt[model.State]{}
	f.stateFrom = Opt[model.State]{}
	f.resolved = false
	return f
}
