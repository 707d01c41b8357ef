package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/session"
	"pharmacy-service/internal/util"

	"go.uber.org/zap"
)

// SkipToken is the reply that leaves an optional step empty
const SkipToken = "skip"

// Engine runs registered workflow definitions against per-user sessions
type Engine struct {
	sessions session.Store
	defs     map[string]*Definition
	logger   *zap.Logger
}

// NewEngine creates a new workflow engine
func NewEngine(sessions session.Store) *Engine {
	return &Engine{
		sessions: sessions,
		defs:     make(map[string]*Definition),
		logger:   util.GetLogger(),
	}
}

// Register adds workflow definitions. A later definition replaces an earlier one of the same kind.
func (e *Engine) Register(defs ...*Definition) {
	for _, d := range defs {
		e.defs[d.Kind] = d
	}
}

// Definition returns the registered definition for kind
func (e *Engine) Definition(kind string) (*Definition, bool) {
	d, ok := e.defs[kind]
	return d, ok
}

// Active returns the user's live session, or nil
func (e *Engine) Active(ctx context.Context, userID int64) (*models.WorkflowSession, error) {
	return e.sessions.GetWorkflow(ctx, userID)
}

// Start discards any previous session of the user and begins kind at its first applicable step
func (e *Engine) Start(ctx context.Context, kind string, userID int64) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "workflow.Start")
	defer span.End()

	def, ok := e.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, kind)
	}

	if err := e.sessions.DeleteWorkflow(ctx, userID); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to discard previous workflow: %w", err)
	}

	ws := models.NewWorkflowSession(userID, kind)
	if def.Init != nil {
		if err := def.Init(ctx, ws); err != nil {
			if isTerminal(err) || isRejection(err) {
				util.WorkflowStepsTotal.WithLabelValues(kind, "refused").Inc()
				return &Outcome{Kind: kind, Ended: true, Err: err, Message: err.Error()}, nil
			}
			util.RecordError(span, err)
			return nil, err
		}
	}

	util.WorkflowStepsTotal.WithLabelValues(kind, "started").Inc()
	e.logger.Debug("Workflow started", zap.String("kind", kind), zap.Int64("user_id", userID))

	next, ok := nextStep(def, ws, 0)
	if !ok {
		return e.complete(ctx, def, ws)
	}
	ws.Step = next
	return e.prompt(ctx, def, ws, nil)
}

// Advance feeds one reply into the user's live session
func (e *Engine) Advance(ctx context.Context, userID int64, in Input) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "workflow.Advance")
	defer span.End()

	ws, err := e.sessions.GetWorkflow(ctx, userID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if ws == nil {
		return nil, ErrNoSession
	}

	def, ok := e.defs[ws.Kind]
	if !ok {
		_ = e.sessions.DeleteWorkflow(ctx, userID)
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, ws.Kind)
	}

	if ws.Branch != "" {
		return e.advanceBranch(ctx, def, ws, in)
	}

	if ws.Step < 0 || ws.Step >= len(def.Steps) {
		return e.complete(ctx, def, ws)
	}
	step := def.Steps[ws.Step]

	var value string
	if step.Optional && strings.EqualFold(strings.TrimSpace(in.Text), SkipToken) {
		value = ""
	} else {
		value, err = step.Parse(ctx, ws, in)
	}
	if err != nil {
		var signal *BranchSignal
		if errors.As(err, &signal) {
			return e.enterBranch(ctx, def, ws, signal)
		}
		return e.fail(ctx, def, ws, err)
	}

	ws.Fields[step.Field] = value
	util.WorkflowStepsTotal.WithLabelValues(def.Kind, "accepted").Inc()
	return e.forward(ctx, def, ws)
}

// Cancel destroys the user's live session and returns it, or nil when there was none
func (e *Engine) Cancel(ctx context.Context, userID int64) (*models.WorkflowSession, error) {
	ws, err := e.sessions.GetWorkflow(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	if ws == nil {
		return nil, nil
	}

	if def, ok := e.defs[ws.Kind]; ok && def.OnCancel != nil {
		if err := def.OnCancel(ctx, ws); err != nil {
			e.logger.Warn("Workflow cancel hook failed",
				zap.String("kind", ws.Kind),
				zap.Int64("user_id", userID),
				zap.Error(err))
		}
	}

	if err := e.sessions.DeleteWorkflow(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to delete workflow: %w", err)
	}
	util.WorkflowStepsTotal.WithLabelValues(ws.Kind, "cancelled").Inc()
	return ws, nil
}

// forward moves past the current step, completing the workflow when none is left.
// The step index stays on the last step until completion succeeds so a retryable
// failure resubmits it.
func (e *Engine) forward(ctx context.Context, def *Definition, ws *models.WorkflowSession) (*Outcome, error) {
	next, ok := nextStep(def, ws, ws.Step+1)
	if !ok {
		return e.complete(ctx, def, ws)
	}
	ws.Step = next
	return e.prompt(ctx, def, ws, nil)
}

func nextStep(def *Definition, ws *models.WorkflowSession, from int) (int, bool) {
	for i := from; i < len(def.Steps); i++ {
		if def.Steps[i].When == nil || def.Steps[i].When(ws) {
			return i, true
		}
	}
	return 0, false
}

func (e *Engine) complete(ctx context.Context, def *Definition, ws *models.WorkflowSession) (*Outcome, error) {
	var result interface{}
	if def.Complete != nil {
		var err error
		result, err = def.Complete(ctx, ws)
		if err != nil {
			return e.fail(ctx, def, ws, err)
		}
	}

	if err := e.sessions.DeleteWorkflow(ctx, ws.UserID); err != nil {
		e.logger.Warn("Failed to delete completed workflow", zap.Int64("user_id", ws.UserID), zap.Error(err))
	}
	util.WorkflowStepsTotal.WithLabelValues(def.Kind, "completed").Inc()
	e.logger.Info("Workflow completed", zap.String("kind", def.Kind), zap.Int64("user_id", ws.UserID))

	return &Outcome{Kind: def.Kind, Done: true, Result: result, Fields: ws.Fields, Ended: true}, nil
}

// prompt saves the session and renders the question for its current position
func (e *Engine) prompt(ctx context.Context, def *Definition, ws *models.WorkflowSession, rejected error) (*Outcome, error) {
	var (
		p   Prompt
		err error
	)
	if ws.Branch != "" {
		p, err = e.branchPrompt(ctx, def, ws)
	} else {
		step := def.Steps[ws.Step]
		p, err = step.Prompt(ctx, ws)
		if err == nil && step.Optional {
			p.Choices = append(p.Choices, Choice{Label: "Skip", Value: SkipToken})
		}
	}
	if err != nil {
		return e.fail(ctx, def, ws, err)
	}

	if err := e.sessions.SaveWorkflow(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}
	return &Outcome{Kind: def.Kind, Prompt: &p, Branch: ws.Branch, Rejected: rejected, Fields: ws.Fields}, nil
}

func (e *Engine) branchPrompt(ctx context.Context, def *Definition, ws *models.WorkflowSession) (Prompt, error) {
	b, ok := def.Branches[ws.Branch]
	if !ok || b.Prompt == nil {
		return Prompt{}, fmt.Errorf("workflow %s has no branch %q", def.Kind, ws.Branch)
	}
	return b.Prompt(ctx, ws)
}

func (e *Engine) enterBranch(ctx context.Context, def *Definition, ws *models.WorkflowSession, signal *BranchSignal) (*Outcome, error) {
	if _, ok := def.Branches[signal.Branch]; !ok {
		return nil, fmt.Errorf("workflow %s has no branch %q", def.Kind, signal.Branch)
	}
	ws.Branch = signal.Branch
	ws.Pending = signal.Value
	ws.Payload = signal.Payload
	util.WorkflowStepsTotal.WithLabelValues(def.Kind, "branched").Inc()
	return e.prompt(ctx, def, ws, nil)
}

func (e *Engine) advanceBranch(ctx context.Context, def *Definition, ws *models.WorkflowSession, in Input) (*Outcome, error) {
	b, ok := def.Branches[ws.Branch]
	if !ok {
		clearBranch(ws)
		return e.prompt(ctx, def, ws, nil)
	}

	res, err := b.Handle(ctx, ws, in)
	if err != nil {
		return e.fail(ctx, def, ws, err)
	}

	switch res.Action {
	case Resume:
		if ws.Step < len(def.Steps) {
			ws.Fields[def.Steps[ws.Step].Field] = ws.Pending
		}
		clearBranch(ws)
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "accepted").Inc()
		return e.forward(ctx, def, ws)
	case Retry:
		clearBranch(ws)
		out, err := e.prompt(ctx, def, ws, nil)
		if out != nil {
			out.Message = res.Message
		}
		return out, err
	case Finish:
		clearBranch(ws)
		return e.complete(ctx, def, ws)
	case End:
		if err := e.sessions.DeleteWorkflow(ctx, ws.UserID); err != nil {
			return nil, fmt.Errorf("failed to delete workflow: %w", err)
		}
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "ended").Inc()
		return &Outcome{Kind: def.Kind, Ended: true, Fields: ws.Fields, Message: res.Message}, nil
	default:
		if err := e.sessions.SaveWorkflow(ctx, ws); err != nil {
			return nil, fmt.Errorf("failed to save workflow: %w", err)
		}
		p := res.Prompt
		if p.Text == "" {
			if p, err = b.Prompt(ctx, ws); err != nil {
				return e.fail(ctx, def, ws, err)
			}
		}
		return &Outcome{Kind: def.Kind, Prompt: &p, Branch: ws.Branch, Fields: ws.Fields, Message: res.Message}, nil
	}
}

func clearBranch(ws *models.WorkflowSession) {
	ws.Branch = ""
	ws.Pending = ""
	ws.Payload = nil
}

// fail classifies an error raised by a step, a branch or completion.
// Rejections re-prompt, persistence failures keep the session for resubmission,
// everything else ends the workflow.
func (e *Engine) fail(ctx context.Context, def *Definition, ws *models.WorkflowSession, err error) (*Outcome, error) {
	switch {
	case isRejection(err):
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "rejected").Inc()
		return e.prompt(ctx, def, ws, err)

	case isRetryable(err):
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "retry").Inc()
		e.logger.Error("Workflow step failed, session kept",
			zap.String("kind", def.Kind),
			zap.Int64("user_id", ws.UserID),
			zap.Int("step", ws.Step),
			zap.Error(err))
		out, perr := e.prompt(ctx, def, ws, nil)
		if out != nil {
			out.Err = err
		}
		return out, perr

	case isTerminal(err):
		if derr := e.sessions.DeleteWorkflow(ctx, ws.UserID); derr != nil {
			e.logger.Warn("Failed to delete ended workflow", zap.Int64("user_id", ws.UserID), zap.Error(derr))
		}
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "aborted").Inc()
		e.logger.Info("Workflow ended",
			zap.String("kind", def.Kind),
			zap.Int64("user_id", ws.UserID),
			zap.String("reason", err.Error()))
		return &Outcome{Kind: def.Kind, Ended: true, Err: err, Fields: ws.Fields, Message: err.Error()}, nil

	default:
		util.WorkflowStepsTotal.WithLabelValues(def.Kind, "error").Inc()
		return nil, err
	}
}

func isRejection(err error) bool {
	var verr *ValidationError
	var sverr *service.ValidationError
	var dup *service.DuplicateDetectedError
	return errors.As(err, &verr) || errors.As(err, &sverr) || errors.As(err, &dup)
}

func isRetryable(err error) bool {
	var perr *service.PersistenceError
	return errors.As(err, &perr)
}

func isTerminal(err error) bool {
	var (
		abort *AbortError
		nf    *service.NotFoundError
		perm  *service.PermissionError
	)
	return errors.As(err, &abort) ||
		errors.As(err, &nf) ||
		errors.As(err, &perm) ||
		errors.Is(err, service.ErrEmptyOrder) ||
		errors.Is(err, service.ErrInvalidTransition)
}
