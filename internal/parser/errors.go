package parser

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDocument indicates the input contained no JSON value.
	ErrEmptyDocument = errors.New("empty document")
	// ErrMalformed indicates the input is not valid JSON.
	ErrMalformed = errors.New("malformed json")
	// ErrNotObject indicates a value that must be an object was something else.
	ErrNotObject = errors.New("not an object")
	// ErrMissingPlan indicates the root object has no Plan field.
	ErrMissingPlan = errors.New("missing Plan root")
	// ErrMissingNodeType indicates a plan node without a Node Type.
	ErrMissingNodeType = errors.New("missing Node Type")
)

// PlanParseError describes why a plan document could not be parsed.
// Path is the pre-order node path ("0", "0.1", ...) or empty for document-level failures.
type PlanParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PlanParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("explain json: %s", e.Reason)
	}
	return fmt.Sprintf("explain json: node %s: %s", e.Path, e.Reason)
}

func (e *PlanParseError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &PlanParseError{}) match any parse error.
func (e *PlanParseError) Is(target error) bool {
	_, ok := target.(*PlanParseError)
	return ok
}

func parseErr(path string, err error, format string, args ...any) *PlanParseError {
	return &PlanParseError{Path: path, Reason: fmt.Sprintf(format, args...), Err: err}
}
