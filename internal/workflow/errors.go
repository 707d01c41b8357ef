package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when a user sends step input without a live workflow
	ErrNoSession = errors.New("no active workflow")
	// ErrUnknownWorkflow is returned by Start for an unregistered kind
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// ValidationError rejects step input. The same prompt is issued again.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError
func Invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AbortError ends the workflow immediately, discarding the session
type AbortError struct {
	Message string
}

func (e *AbortError) Error() string {
	return e.Message
}

// Abort builds an AbortError
func Abort(format string, args ...interface{}) error {
	return &AbortError{Message: fmt.Sprintf(format, args...)}
}

// BranchSignal is returned by a step parser to divert into a named branch before the
// parsed value is stored. The value is held as pending until the branch resumes.
type BranchSignal struct {
	Branch  string
	Value   string
	Payload json.RawMessage
}

func (b *BranchSignal) Error() string {
	return "branch " + b.Branch
}
