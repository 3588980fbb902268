package circulation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/availability"
)

// Check names reported in violations.
const (
	CheckItems            = "items"
	CheckItemsStatus      = "items_status"
	CheckUser             = "user"
	CheckUsers            = "users"
	CheckStartDate        = "start_date"
	CheckDate             = "date"
	CheckDuration         = "duration"
	CheckDateSuggestion   = "date_suggestion"
	CheckLoanCycle        = "loan_cycle"
	CheckLoanCycleStatus  = "loan_cycle_status"
	CheckAlreadyOverdue   = "already_overdue"
	CheckOverdue          = "overdue"
	CheckExtensionShorter = "extension"
)

// ErrOverlap means an operation would leave two active reservations of one
// item on overlapping dates. The unit of work is rolled back.
var ErrOverlap = errors.New("active reservations overlap")

// ErrUnknownList is returned by DeskList for a name it does not know.
var ErrUnknownList = errors.New("unknown list")

type Violation struct {
	Check string
	Err   error
}

// ValidationError collects every failed precondition of one operation.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Check + ": " + v.Err.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v.Err
	}
	return errs
}

// Only reports whether check is the single failed precondition.
func (e *ValidationError) Only(check string) bool {
	return len(e.Violations) == 1 && e.Violations[0].Check == check
}

// Conflict returns the date conflict among the violations, if any.
func (e *ValidationError) Conflict() *availability.ConflictError {
	for _, v := range e.Violations {
		var c *availability.ConflictError
		if errors.As(v.Err, &c) {
			return c
		}
	}
	return nil
}

type checks struct {
	violations []Violation
}

func (c *checks) fail(check string, format string, args ...any) {
	c.violations = append(c.violations, Violation{Check: check, Err: fmt.Errorf(format, args...)})
}

func (c *checks) add(check string, err error) {
	if err != nil {
		c.violations = append(c.violations, Violation{Check: check, Err: err})
	}
}

func (c *checks) err() *ValidationError {
	if len(c.violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: c.violations}
}
