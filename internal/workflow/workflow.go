// Package workflow drives multi-turn chat interactions as per-user step machines.
package workflow

import (
	"context"

	"pharmacy-service/internal/models"
)

// Input is one user reply to a step
type Input struct {
	Text     string
	File     []byte
	FileName string
}

// Choice is a selectable answer rendered as a button
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Prompt asks the user for the next piece of input
type Prompt struct {
	Text    string   `json:"text"`
	Choices []Choice `json:"choices,omitempty"`
}

// PromptFunc renders a prompt from the current session
type PromptFunc func(ctx context.Context, ws *models.WorkflowSession) (Prompt, error)

// ParseFunc validates raw input and returns the canonical value stored under the step's field
type ParseFunc func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error)

// Step is one question of a workflow
type Step struct {
	Field  string
	Prompt PromptFunc
	Parse  ParseFunc
	// Optional steps accept "skip" and store an empty value
	Optional bool
	// When, if set, decides whether the step applies to this session
	When func(ws *models.WorkflowSession) bool
}

// BranchAction tells the engine what to do after a branch handled input
type BranchAction int

const (
	// Stay keeps the session in the branch and shows the returned prompt
	Stay BranchAction = iota
	// Resume stores the pending value and continues with the next step
	Resume
	// Retry drops the pending value and asks the branching step again
	Retry
	// Finish completes the workflow immediately
	Finish
	// End discards the session with the returned message
	End
)

// BranchResult is the outcome of one branch turn
type BranchResult struct {
	Action  BranchAction
	Prompt  Prompt
	Message string
}

// Branch is a sub-flow entered when a step parser returns a BranchSignal
type Branch struct {
	Prompt PromptFunc
	Handle func(ctx context.Context, ws *models.WorkflowSession, in Input) (BranchResult, error)
}

// Definition describes a workflow kind
type Definition struct {
	Kind     string
	Steps    []Step
	Branches map[string]*Branch
	// Init runs before the session is created and may refuse to start
	Init func(ctx context.Context, ws *models.WorkflowSession) error
	// Complete runs once every step has a value
	Complete func(ctx context.Context, ws *models.WorkflowSession) (interface{}, error)
	// OnCancel runs when the user cancels explicitly
	OnCancel func(ctx context.Context, ws *models.WorkflowSession) error
}

// Outcome is what the caller renders after Start or Advance
type Outcome struct {
	Kind string
	// Prompt is the next question; nil once the workflow ended
	Prompt *Prompt
	// Branch is set while the session is inside a branch
	Branch string
	// Rejected holds the validation error when input was refused
	Rejected error
	// Done is set when Complete succeeded; Result is its return value
	Done   bool
	Result interface{}
	Fields map[string]string
	// Ended is set when the session no longer exists
	Ended bool
	// Err is a terminal error that ended the workflow, or a retryable one that kept it
	Err     error
	Message string
}

// Static returns a PromptFunc that always renders the same prompt
func Static(text string, choices ...Choice) PromptFunc {
	return func(ctx context.Context, ws *models.WorkflowSession) (Prompt, error) {
		return Prompt{Text: text, Choices: choices}, nil
	}
}

// FieldEquals returns a When predicate matching a stored field value
func FieldEquals(field, value string) func(ws *models.WorkflowSession) bool {
	return func(ws *models.WorkflowSession) bool {
		return ws.Fields[field] == value
	}
}
