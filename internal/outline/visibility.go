package outline

import (
	"time"

	"minder-cli/internal/model"
	"minder-cli/internal/statusutil"
)

const (
	// NewItemGrace keeps a just-created item on screen under every filter.
	NewItemGrace = 5 * time.Minute
	// ReviewDecay drops "soon" items from review once they have gone untouched this long.
	ReviewDecay = 60 * 24 * time.Hour
)

// IsVisible reports whether a single item passes filter f at now. Overrides
// apply in order: new-item grace, snooze, review decay, then plain membership
// in the filter's visible-state set.
func IsVisible(it model.Item, f model.Filter, now time.Time) bool {
	if it.State == model.StateNew && now.Sub(it.CreatedAt) < NewItemGrace {
		return true
	}
	if it.State == model.StateWaiting {
		if f == model.FilterWaiting {
			return true
		}
		if it.SnoozeTil != nil {
			if now.Before(*it.SnoozeTil) {
				return false
			}
			// Awake: show it where it was before it was snoozed.
			if it.UnsnoozedState != nil {
				return statusutil.InVisibleSet(f, *it.UnsnoozedState)
			}
		}
	}
	if f == model.FilterReview && it.State == model.StateSoon && now.Sub(it.UpdatedAt) > ReviewDecay {
		return false
	}
	return statusutil.InVisibleSet(f, it.State)
}

// nextFlip returns the first instant after now at which IsVisible(it, f, ·)
// can change without the item being written, or zero if it never does.
func nextFlip(it model.Item, f model.Filter, now time.Time) time.Time {
	var at time.Time
	switch it.State {
	case model.StateNew:
		at = it.CreatedAt.Add(NewItemGrace)
	case model.StateWaiting:
		if it.SnoozeTil != nil && f != model.FilterWaiting {
			at = *it.SnoozeTil
		}
	case model.StateSoon:
		if f == model.FilterReview {
			// Decay is strict: the item is still shown at exactly UpdatedAt+ReviewDecay.
			at = it.UpdatedAt.Add(ReviewDecay + time.Nanosecond)
		}
	}
	if !at.After(now) {
		return time.Time{}
	}
	return at
}
