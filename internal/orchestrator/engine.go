package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine runs turns. It holds no per-session state and is safe for
// concurrent use across sessions; a single SessionContext must not be shared
// between concurrent RunTurn calls.
type Engine struct {
	policy   Policy
	catalog  Catalog
	limits   Limits
	timeouts Timeouts
	sink     TrailSink
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	d        *dispatcher
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLimits sets the iteration and clarification ceilings.
func WithLimits(l Limits) EngineOption {
	return func(e *Engine) { e.limits = l }
}

// WithTimeouts sets per-call timeouts.
func WithTimeouts(t Timeouts) EngineOption {
	return func(e *Engine) { e.timeouts = t }
}

// WithClarifier sets the collaborator used when no question is supplied.
func WithClarifier(c Clarifier) EngineOption {
	return func(e *Engine) { e.d.clarifier = c }
}

// WithCatalog replaces the default action catalog.
func WithCatalog(c Catalog) EngineOption {
	return func(e *Engine) { e.catalog = c }
}

// WithTrailSink sets the cross-session trail sink.
func WithTrailSink(s TrailSink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. Planner, executor and responder are required.
func NewEngine(policy Policy, planner Planner, executor Executor, responder Responder, opts ...EngineOption) (*Engine, error) {
	if policy == nil {
		return nil, errors.New("policy is required")
	}
	if planner == nil || executor == nil || responder == nil {
		return nil, errors.New("planner, executor and responder are required")
	}

	e := &Engine{
		policy:   policy,
		catalog:  DefaultCatalog(),
		limits:   DefaultLimits(),
		timeouts: DefaultTimeouts(),
		sink:     nopSink{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(instrumentationName),
		d:        &dispatcher{planner: planner, executor: executor, responder: responder},
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil, e.logger)
	}
	e.d.timeouts = e.timeouts
	e.d.tracer = e.tracer
	e.d.metrics = e.metrics
	return e, nil
}

// Limits returns the configured ceilings.
func (e *Engine) Limits() Limits { return e.limits }

// NewContext starts a fresh conversation.
func (e *Engine) NewContext(sessionID, turnID, query string) *SessionContext {
	return NewSessionContext(sessionID, turnID, query, e.limits)
}

// RunTurn drives c until it reaches a state terminal for the turn.
// Policy and collaborator failures end up in the returned result; the error
// return is reserved for consistency violations and invalid input.
func (e *Engine) RunTurn(ctx context.Context, c *SessionContext) (*TurnResult, error) {
	if c == nil {
		return nil, errors.New("session context is nil")
	}
	if c.State.Terminal() {
		return nil, fmt.Errorf("session %s: turn already ended in state %s", c.SessionID, c.State)
	}

	ctx, span := e.tracer.Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", c.SessionID),
		attribute.String("turn.id", c.TurnID),
	)

	started := time.Now()
	for !c.State.Terminal() {
		if c.IterationCount >= c.Limits.MaxIterations {
			info := Describe(&CeilingExceededError{Ceiling: CeilingIterations, Limit: c.Limits.MaxIterations})
			if err := apply(c, Fail{Err: *info}); err != nil {
				return nil, e.fatal(span, c, err)
			}
			break
		}
		if err := ctx.Err(); err != nil {
			if ferr := e.cancelled(ctx, c, time.Now(), err); ferr != nil {
				return nil, e.fatal(span, c, ferr)
			}
			break
		}
		if err := e.iterate(ctx, c); err != nil {
			return nil, e.fatal(span, c, err)
		}
	}

	result := e.result(c)
	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("iterations", c.IterationCount),
	)
	e.metrics.recordTurn(ctx, result.Outcome)
	e.logger.Info("turn finished",
		zap.String("session_id", c.SessionID),
		zap.String("turn_id", c.TurnID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("state", string(c.State)),
		zap.Int("iterations", c.IterationCount),
		zap.Int("clarification_round", c.ClarificationRound),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// iterate runs one loop pass: decide, validate, dispatch, record.
func (e *Engine) iterate(ctx context.Context, c *SessionContext) error {
	start := time.Now()
	entry := TrailEntry{Iteration: c.IterationCount + 1, TurnID: c.TurnID}

	dec, err := e.decide(ctx, c.Snapshot())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.cancelled(ctx, c, start, ctxErr)
		}
		decodeErr := asPolicyDecodeError(err)
		e.logger.Warn("policy decision rejected",
			zap.String("session_id", c.SessionID), zap.Error(decodeErr))
		return e.forceAbort(ctx, c, entry, start, decodeErr)
	}

	entry.Proposed = dec.Action
	entry.Rationale = dec.Rationale
	entry.Parameters = dec.Parameters
	entry.ProposedNextState = dec.ProposedNextState

	if err := validateTransition(c, dec.Action); err != nil {
		e.logger.Warn("policy proposed invalid transition",
			zap.String("session_id", c.SessionID), zap.Error(err))
		return e.forceAbort(ctx, c, entry, start, err)
	}
	if dec.Action == ActionRequestClarification && c.ClarificationRound >= c.Limits.MaxClarificationRounds {
		return e.forceAbort(ctx, c, entry, start,
			&CeilingExceededError{Ceiling: CeilingClarificationRounds, Limit: c.Limits.MaxClarificationRounds})
	}

	entry.Action = dec.Action
	info, err := e.d.dispatch(ctx, c, dec)
	if err != nil {
		return err
	}
	entry.Error = info
	return e.record(ctx, c, entry, start)
}

func (e *Engine) decide(ctx context.Context, snap Snapshot) (Decision, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.policy")
	defer span.End()
	span.SetAttributes(attribute.String("state", string(snap.State)))

	if e.timeouts.Policy > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeouts.Policy)
		defer cancel()
	}

	dec, err := e.policy.Decide(ctx, snap, e.catalog)
	if err == nil && !validAction(dec.Action) {
		err = &PolicyDecodeError{Reason: "unknown action " + string(dec.Action)}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	span.SetAttributes(attribute.String("action", string(dec.Action)))
	return dec.clone(), nil
}

// forceAbort ends the turn with cause, recording the pass as a forced abort.
func (e *Engine) forceAbort(ctx context.Context, c *SessionContext, entry TrailEntry, start time.Time, cause error) error {
	info := Describe(cause)
	if info.Kind == KindPolicyDecode || info.Kind == KindInvalidTransition {
		e.metrics.recordPolicyError(ctx, info.Kind)
	}
	entry.Action = ActionAbort
	entry.Forced = true
	entry.Error = info
	if err := apply(c, Fail{Err: *info}); err != nil {
		return err
	}
	return e.record(ctx, c, entry, start)
}

// cancelled appends the cancellation marker and fails the turn. The context
// keeps every mutation applied before cancellation was observed.
func (e *Engine) cancelled(ctx context.Context, c *SessionContext, start time.Time, cause error) error {
	info := Describe(&CancelledError{Cause: cause})
	entry := TrailEntry{
		Iteration: c.IterationCount + 1,
		TurnID:    c.TurnID,
		Action:    ActionAbort,
		Forced:    true,
		Cancelled: true,
		Error:     info,
	}
	if err := apply(c, Fail{Err: *info}); err != nil {
		return err
	}
	// The caller's context is done; bookkeeping must not inherit it.
	return e.record(context.WithoutCancel(ctx), c, entry, start)
}

// record closes the pass: append the trail entry and count the iteration.
func (e *Engine) record(ctx context.Context, c *SessionContext, entry TrailEntry, start time.Time) error {
	entry.ResultingState = c.State
	entry.Duration = time.Since(start)
	entry.RecordedAt = time.Now()
	if err := apply(c, AppendDecision{Entry: entry}, IncrementIteration{}); err != nil {
		return err
	}

	e.metrics.recordIteration(ctx, entry)
	e.logger.Debug("decision recorded",
		zap.String("session_id", c.SessionID),
		zap.Int("iteration", entry.Iteration),
		zap.String("proposed", string(entry.Proposed)),
		zap.String("action", string(entry.Action)),
		zap.String("resulting_state", string(entry.ResultingState)),
		zap.Bool("forced", entry.Forced),
	)
	if err := e.sink.Record(ctx, c.SessionID, entry.clone()); err != nil {
		e.logger.Warn("trail sink rejected entry",
			zap.String("session_id", c.SessionID), zap.Int("iteration", entry.Iteration), zap.Error(err))
	}
	return nil
}

// fatal logs a consistency violation with the full context for postmortem.
func (e *Engine) fatal(span trace.Span, c *SessionContext, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("orchestration consistency violation",
		zap.String("session_id", c.SessionID),
		zap.String("turn_id", c.TurnID),
		zap.Any("snapshot", c.Snapshot()),
		zap.Error(err),
	)
	return fmt.Errorf("session %s turn %s: %w", c.SessionID, c.TurnID, err)
}

func (e *Engine) result(c *SessionContext) *TurnResult {
	trail := c.Snapshot().DecisionTrail
	switch c.State {
	case StateDone:
		res := c.ExecutionResult
		summary := res.SQL
		if summary == "" {
			summary = c.Plan.Summary()
		}
		return &TurnResult{
			Outcome: OutcomeAnswered,
			Answered: &Answer{
				SQLOrPlanSummary: summary,
				RowsSummary:      rowsSummary(res),
				Explanation:      c.FormattedResponse.Explanation,
				Summary:          c.FormattedResponse.Summary,
				Methodology:      c.FormattedResponse.Methodology,
				Metadata:         res.Metadata,
				DecisionTrail:    trail,
			},
			Context: c,
		}
	case StateAwaitingClarification:
		q, _ := c.PendingQuestion()
		return &TurnResult{
			Outcome:       OutcomeNeedsClarification,
			Clarification: &Clarification{Question: q.Question, Round: c.ClarificationRound},
			Context:       c,
		}
	default:
		info := c.Err
		if info == nil {
			info = Describe(&AbortedError{})
		}
		return &TurnResult{
			Outcome: OutcomeFailed,
			Failed: &Failure{
				ErrorKind:     info.Kind,
				Message:       userMessage(info, c.Limits),
				DecisionTrail: trail,
			},
			Context: c,
		}
	}
}

func rowsSummary(r *ExecutionResult) string {
	s := fmt.Sprintf("%d rows", r.Metadata.RowCount)
	if r.Metadata.RowCount == 1 {
		s = "1 row"
	}
	if r.Metadata.Truncated {
		s += " (truncated)"
	}
	if r.Partial {
		s += " (partial)"
	}
	return s
}

// userMessage is the single clear message shown for a failed turn.
func userMessage(info *ErrorInfo, limits Limits) string {
	switch {
	case info.Kind == KindCeilingExceeded && info.Ceiling == CeilingIterations:
		return "Workflow exceeded maximum iterations. Please try a simpler query."
	case info.Kind == KindCeilingExceeded && info.Ceiling == CeilingClarificationRounds:
		return fmt.Sprintf("I've asked for clarification %d times but still need more information. "+
			"Please try rephrasing your question with more specific details.", limits.MaxClarificationRounds)
	case info.Kind == KindCancelled:
		return "The request was cancelled."
	case info.Kind == KindPolicyDecode || info.Kind == KindInvalidTransition:
		return "I couldn't decide how to proceed with your question. Please try rephrasing it."
	}
	return info.Message
}

func validAction(a Action) bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}
