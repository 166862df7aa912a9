package model

import "time"

// State is the lifecycle state of an item.
type State string

const (
	StateNew     State = "new"
	StateTop     State = "top"
	StateCur     State = "cur"
	StateSoon    State = "soon"
	StateLater   State = "later"
	StateWaiting State = "waiting"
	StateDone    State = "done"
)

// StatePriority is the fixed ordering used for sorting and visible-set membership.
var StatePriority = []State{StateWaiting, StateNew, StateTop, StateCur, StateSoon, StateLater, StateDone}

// Filter names a visibility mode.
type Filter string

const (
	FilterFocus   Filter = "focus"
	FilterReview  Filter = "review"
	FilterPile    Filter = "pile"
	FilterWaiting Filter = "waiting"
	FilterDone    Filter = "done"
	FilterNotDone Filter = "notdone"
	FilterAll     Filter = "all"
)

type Project struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	Archived  bool      `json:"archived" yaml:"archived"`
}

// Item is a single outline node. Parent/children are never stored on the
// item; they are derived from ParentID by the outline tree.
type Item struct {
	ID        string  `json:"id" yaml:"id"`
	ProjectID string  `json:"projectId" yaml:"projectId"`
	ParentID  *string `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Rank      string  `json:"rank,omitempty" yaml:"rank,omitempty"`

	Text  string `json:"text" yaml:"text"`
	State State  `json:"state" yaml:"state"`

	// Snooze bookkeeping. Both are absent unless State is waiting.
	SnoozeTil      *time.Time `json:"snoozeTil,omitempty" yaml:"snoozeTil,omitempty"`
	UnsnoozedState *State     `json:"unsnoozedState,omitempty" yaml:"unsnoozedState,omitempty"`

	Pinned    bool `json:"pinned" yaml:"pinned"`
	Collapsed bool `json:"collapsed" yaml:"collapsed"`

	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	// UpdatedAt doubles as the optimistic-concurrency token.
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Parent returns the parent id, or "" for top-level items.
func (it Item) Parent() string {
	if it.ParentID == nil {
		return ""
	}
	return *it.ParentID
}

// IsSnoozed reports whether the item is waiting with a wake time still ahead of now.
func (it Item) IsSnoozed(now time.Time) bool {
	return it.State == StateWaiting && it.SnoozeTil != nil && now.Before(*it.SnoozeTil)
}

// Clone returns a deep copy so pointer fields are not shared.
func (it Item) Clone() Item {
	out := it
	if it.ParentID != nil {
		p := *it.ParentID
		out.ParentID = &p
	}
	if it.SnoozeTil != nil {
		t := *it.SnoozeTil
		out.SnoozeTil = &t
	}
	if it.UnsnoozedState != nil {
		s := *it.UnsnoozedState
		out.UnsnoozedState = &s
	}
	return out
}

// NewItem carries the caller-supplied fields for a create; the store assigns
// ID, CreatedAt and UpdatedAt.
type NewItem struct {
	ProjectID string
	ParentID  *string
	Rank      string
	Text      string
	State     State
	Pinned    bool
}

// Query selects items from a store. Zero values mean "any".
type Query struct {
	ProjectID string
	// ParentID restricts to direct children; TopLevel restricts to items without a parent.
	ParentID *string
	TopLevel bool
	States   []State
}

// Event is one entry of the append-only change log. Seq is the log position.
type Event struct {
	Seq      int64     `json:"seq" yaml:"seq"`
	ID       string    `json:"id" yaml:"id"`
	TS       time.Time `json:"ts" yaml:"ts"`
	Type     string    `json:"type" yaml:"type"`
	EntityID string    `json:"entityId" yaml:"entityId"`
	Payload  any       `json:"payload" yaml:"payload"`
}
