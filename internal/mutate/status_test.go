package mutate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minder-cli/internal/model"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func statePtr(s model.State) *model.State { return &s }

func TestStateTransition_EnterWaitingRemembersPreviousState(t *testing.T) {
	cur := model.Item{ID: "item-1", State: model.StateSoon}

	tr := StateTransition(cur, model.StateWaiting, 2*time.Hour, t0)

	require.True(t, tr.UnsnoozedState.IsSet())
	assert.Equal(t, model.StateSoon, tr.UnsnoozedState.Value)
	require.True(t, tr.SnoozeTil.IsSet())
	assert.Equal(t, t0.Add(2*time.Hour), tr.SnoozeTil.Value)
}

func TestStateTransition_ResnoozeKeepsOriginalUnsnoozedState(t *testing.T) {
	til := t0.Add(time.Hour)
	cur := model.Item{ID: "item-1", State: model.StateWaiting, SnoozeTil: &til, UnsnoozedState: statePtr(model.StateCur)}

	tr := StateTransition(cur, model.StateWaiting, 24*time.Hour, t0)

	assert.False(t, tr.UnsnoozedState.Touched(), "re-snooze must not overwrite unsnoozedState")
	require.True(t, tr.SnoozeTil.IsSet())
	assert.Equal(t, t0.Add(24*time.Hour), tr.SnoozeTil.Value)
}

func TestStateTransition_LeavingWaitingDeletesSnoozeFields(t *testing.T) {
	til := t0.Add(time.Hour)
	cur := model.Item{ID: "item-1", State: model.StateWaiting, SnoozeTil: &til, UnsnoozedState: statePtr(model.StateCur)}

	tr := StateTransition(cur, model.StateTop, 0, t0)

	assert.Equal(t, model.StateTop, tr.State)
	assert.True(t, tr.SnoozeTil.IsDelete())
	assert.True(t, tr.UnsnoozedState.IsDelete())
}

func TestStateTransition_WaitingWithoutDurationHasNoSnoozeTil(t *testing.T) {
	cur := model.Item{ID: "item-1", State: model.StateNew}

	tr := StateTransition(cur, model.StateWaiting, 0, t0)

	assert.False(t, tr.SnoozeTil.Touched())
	assert.Equal(t, model.StateNew, tr.UnsnoozedState.Value)
}

func TestStateTransition_PlainChangeIsUntouched(t *testing.T) {
	cur := model.Item{ID: "item-1", State: model.StateNew}

	tr := StateTransition(cur, model.StateCur, 0, t0)

	assert.Equal(t, model.StateCur, tr.State)
	assert.False(t, tr.SnoozeTil.Touched())
	assert.False(t, tr.UnsnoozedState.Touched())
}

func TestSnoozeRoundTrip(t *testing.T) {
	it := model.Item{ID: "item-1", State: model.StateLater}

	f, err := Fields{}.WithSnooze(time.Hour).Resolve(it, t0)
	require.NoError(t, err)
	f.Apply(&it)
	require.Equal(t, model.StateWaiting, it.State)
	require.NotNil(t, it.UnsnoozedState)
	require.NotNil(t, it.SnoozeTil)

	// Snooze again before waking: the first unsnoozedState survives.
	f, err = Fields{}.WithSnooze(3*time.Hour).Resolve(it, t0.Add(10*time.Minute))
	require.NoError(t, err)
	f.Apply(&it)
	assert.Equal(t, model.StateLater, *it.UnsnoozedState)
	assert.Equal(t, t0.Add(10*time.Minute+3*time.Hour), *it.SnoozeTil)

	// Explicit state change before snoozeTil clears both fields.
	f, err = Fields{}.WithState(model.StateCur).Resolve(it, t0.Add(20*time.Minute))
	require.NoError(t, err)
	f.Apply(&it)
	assert.Equal(t, model.StateCur, it.State)
	assert.Nil(t, it.SnoozeTil)
	assert.Nil(t, it.UnsnoozedState)
}
