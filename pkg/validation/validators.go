package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

// Regular expressions for validating Zulip data formats
var (
	// eventTypeRegex matches event type names (lowercase words joined by underscores)
	eventTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	// narrowOperatorRegex matches narrow operators, optionally negated ("-stream")
	narrowOperatorRegex = regexp.MustCompile(`^-?[a-z][a-z_-]*$`)

	// emailRegex is deliberately loose: one @, something on both sides, no whitespace
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
)

// IsValidEventType checks if a string looks like a Zulip event type name
func IsValidEventType(s string) bool {
	return eventTypeRegex.MatchString(s)
}

// IsValidNarrowOperator checks if a string looks like a narrow operator
func IsValidNarrowOperator(s string) bool {
	return narrowOperatorRegex.MatchString(s)
}

// IsValidEmail checks if a string is plausibly an account email
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// ParseNarrow splits "operator:operand" into a narrow filter. The operand may
// itself contain colons.
func ParseNarrow(s string) (types.NarrowFilter, error) {
	operator, operand, ok := strings.Cut(s, ":")
	if !ok {
		return types.NarrowFilter{}, fmt.Errorf("narrow %q must have the form operator:operand", s)
	}
	if !IsValidNarrowOperator(operator) {
		return types.NarrowFilter{}, fmt.Errorf("narrow operator %q is invalid", operator)
	}
	if operand == "" {
		return types.NarrowFilter{}, fmt.Errorf("narrow %q has an empty operand", s)
	}
	return types.NarrowFilter{Condition: operator, Value: operand}, nil
}

// ValidateEvent checks the fields every event carries.
func ValidateEvent(e types.Event) error {
	var errs []error

	if e.Type == "" {
		errs = append(errs, fmt.Errorf("type is required"))
	}
	if e.ID < -1 {
		errs = append(errs, fmt.Errorf("id %d is below the initial cursor", e.ID))
	}
	if e.Op != nil && *e.Op == "" {
		errs = append(errs, fmt.Errorf("op is present but empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("event %d validation failed: %w", e.ID, errors.Join(errs...))
	}
	return nil
}

// ValidateBatch checks that a batch polled after cursor is well formed: every
// event is valid, ids increase strictly, and none is at or below cursor.
//
// The server guarantees these properties. The client never rejects a batch
// that violates them; callers use this to log anomalies.
func ValidateBatch(cursor int64, events []types.Event) error {
	var errs []error

	prev := cursor
	for i, e := range events {
		if err := ValidateEvent(e); err != nil {
			errs = append(errs, err)
		}
		if e.ID <= prev {
			if i == 0 {
				errs = append(errs, fmt.Errorf("event %d is not after cursor %d", e.ID, cursor))
			} else {
				errs = append(errs, fmt.Errorf("event %d at position %d does not follow %d", e.ID, i, prev))
			}
		}
		prev = e.ID
	}

	if len(errs) > 0 {
		return fmt.Errorf("batch validation failed: %w", errors.Join(errs...))
	}
	return nil
}
