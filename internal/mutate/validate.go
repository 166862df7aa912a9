package mutate

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"minder-cli/internal/model"
)

const MaxTextLength = 4000

func stateValues() []interface{} {
	out := make([]interface{}, 0, len(model.StatePriority))
	for _, s := range model.StatePriority {
		out = append(out, s)
	}
	return out
}

// Validate checks the caller-supplied values of f.
func Validate(f Fields) error {
	errs := validation.Errors{}
	if f.Text.IsSet() {
		errs["text"] = validation.Validate(f.Text.Value, validation.RuneLength(0, MaxTextLength))
	}
	if f.ParentID.IsSet() {
		errs["parentId"] = validation.Validate(f.ParentID.Value, validation.Required)
	}
	if f.Rank.IsSet() {
		errs["rank"] = validation.Validate(f.Rank.Value, validation.Required)
	}
	if f.state.IsSet() {
		errs["state"] = validation.Validate(f.state.Value, validation.Required, validation.In(stateValues()...))
	}
	if f.state.IsDelete() {
		errs["state"] = validation.NewError("validation_state_required", "state cannot be removed")
	}
	errs["snoozeFor"] = validation.Validate(f.snoozeFor, validation.Min(time.Duration(0)))
	return errs.Filter()
}

// ValidateNewItem checks a create request.
func ValidateNewItem(n model.NewItem) error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ProjectID, validation.Required),
		validation.Field(&n.Text, validation.RuneLength(0, MaxTextLength)),
		validation.Field(&n.State, validation.Required, validation.In(stateValues()...)),
	)
}
