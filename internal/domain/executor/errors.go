package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedAction indicates an action type the executor can't run.
	ErrUnsupportedAction = errors.New("unsupported action")
	// ErrMissingProduct indicates an action without a product id.
	ErrMissingProduct = errors.New("missing product id")
	// ErrNoChanges indicates an action with nothing to change.
	ErrNoChanges = errors.New("no changes")
	// ErrFieldNotAllowed indicates a change outside the field allowlist.
	ErrFieldNotAllowed = errors.New("field not allowed")
	// ErrInvalidValue indicates a change value that fails validation.
	ErrInvalidValue = errors.New("invalid value")
	// ErrVariablePrice indicates a price write on a variable parent.
	ErrVariablePrice = errors.New("variable products keep prices on their variations")
)

var validationErrors = []struct {
	err  error
	code string
}{
	{ErrUnsupportedAction, "unsupported_action"},
	{ErrMissingProduct, "missing_product"},
	{ErrNoChanges, "no_changes"},
	{ErrFieldNotAllowed, "field_not_allowed"},
	{ErrInvalidValue, "invalid_value"},
	{ErrVariablePrice, "variable_price"},
}

// IsValidation reports whether err is a validation rejection.
func IsValidation(err error) bool {
	return ValidationCode(err) != ""
}

// ValidationCode returns the stable code of a validation error, or "".
func ValidationCode(err error) string {
	for _, v := range validationErrors {
		if errors.Is(err, v.err) {
			return v.code
		}
	}
	return ""
}

func fieldError(base error, field string, value any) error {
	return fmt.Errorf("%w: %s=%v", base, field, value)
}
