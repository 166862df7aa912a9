package mutate

import (
	"time"

	"minder-cli/internal/model"
)

// StateChange is the field set a state change resolves to.
type StateChange struct {
	State          model.State
	SnoozeTil      Opt[time.Time]
	UnsnoozedState Opt[model.State]
}

// StateTransition applies the snooze rules for moving cur to next:
//
//   - entering waiting remembers the previous state in unsnoozedState; re-snoozing
//     an item that is already waiting keeps the original unsnoozedState
//   - snoozeFor > 0 sets snoozeTil = now + snoozeFor; waiting without a duration has no snoozeTil
//   - leaving waiting deletes both snoozeTil and unsnoozedState
//
// Waking is not a transition: a waiting item past snoozeTil stays waiting until
// someone changes it.
func StateTransition(cur model.Item, next model.State, snoozeFor time.Duration, now time.Time) StateChange {
	prev := cur.State
	out := StateChange{State: next}

	if next == model.StateWaiting {
		if prev != model.StateWaiting {
			out.UnsnoozedState = Set(prev)
		}
		switch {
		case snoozeFor > 0:
			out.SnoozeTil = Set(now.Add(snoozeFor))
		case prev != model.StateWaiting && cur.SnoozeTil != nil:
			out.SnoozeTil = Delete[time.Time]()
		}
	} else if prev == model.StateWaiting || cur.SnoozeTil != nil || cur.UnsnoozedState != nil {
		out.SnoozeTil = Delete[time.Time]()
		out.UnsnoozedState = Delete[model.State]()
	}
	return out
}
