package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultClarificationQuestion is asked when neither the policy, the planner
// nor a clarifier supplies one.
const DefaultClarificationQuestion = "Could you provide more details?"

// Timeouts bound each collaborator call. Zero disables the bound.
type Timeouts struct {
	Policy    time.Duration
	Planner   time.Duration
	Executor  time.Duration
	Clarifier time.Duration
	Responder time.Duration
}

// DefaultTimeouts returns 30s for the policy and 60s for each collaborator.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Policy:    30 * time.Second,
		Planner:   60 * time.Second,
		Executor:  60 * time.Second,
		Clarifier: 60 * time.Second,
		Responder: 60 * time.Second,
	}
}

// dispatcher performs exactly one effect per action. It never retries a
// failed collaborator; retrying is a policy decision.
type dispatcher struct {
	planner   Planner
	executor  Executor
	clarifier Clarifier
	responder Responder
	timeouts  Timeouts
	tracer    trace.Tracer
	metrics   *Metrics
}

// dispatch applies d to c. The returned ErrorInfo is the failure raised by
// this pass, if any. A non-nil error is a ConsistencyError and is fatal.
func (d *dispatcher) dispatch(ctx context.Context, c *SessionContext, dec Decision) (*ErrorInfo, error) {
	switch dec.Action {
	case ActionRequestPlan:
		return d.requestPlan(ctx, c, dec, nil)
	case ActionRetryPlan:
		return d.retryPlan(ctx, c, dec)
	case ActionRequestClarification:
		return d.requestClarification(ctx, c, dec, nil)
	case ActionRequestExecution:
		return d.requestExecution(ctx, c)
	case ActionRequestFormatting:
		return d.requestFormatting(ctx, c)
	case ActionAbort:
		return d.abort(c, dec)
	case ActionFinish:
		return nil, apply(c, SetState{State: StateDone})
	}
	return nil, &ConsistencyError{Mutation: "dispatch", State: c.State, Reason: "no handler for action " + string(dec.Action)}
}

func (d *dispatcher) requestPlan(ctx context.Context, c *SessionContext, dec Decision, priorErrors []ErrorInfo) (*ErrorInfo, error) {
	req := PlanRequest{
		SessionID:      c.SessionID,
		Query:          c.OriginalQuery,
		LatestInput:    c.UserQuery,
		Clarifications: append([]ClarificationExchange(nil), c.ClarificationHistory...),
		PriorErrors:    priorErrors,
	}

	var out *PlanOutcome
	err := d.call(ctx, CollaboratorPlanner, d.timeouts.Planner, func(ctx context.Context) error {
		var err error
		out, err = d.planner.Plan(ctx, req)
		return err
	})
	if err == nil && (out == nil || (out.Plan == nil && out.Clarification == nil)) {
		err = NewCollaboratorError(CollaboratorPlanner, "empty_outcome", "planner returned neither a plan nor a question", nil)
	}
	if err != nil {
		info := Describe(asCollaboratorError(CollaboratorPlanner, err))
		muts := []Mutation{AttachError{Err: *info}}
		if c.State == StateNewQuery {
			muts = append(muts, SetState{State: StatePlanningComplete})
		}
		return info, apply(c, muts...)
	}

	if out.Clarification != nil {
		return d.requestClarification(ctx, c, dec, out.Clarification)
	}
	return nil, apply(c, ClearError{}, SetPlan{Plan: *out.Plan}, SetState{State: StatePlanningComplete})
}

func (d *dispatcher) retryPlan(ctx context.Context, c *SessionContext, dec Decision) (*ErrorInfo, error) {
	prior := append([]ErrorInfo(nil), c.ErrorHistory...)
	if err := apply(c, ClearPlan{}, ClearError{}); err != nil {
		return nil, err
	}
	return d.requestPlan(ctx, c, dec, prior)
}

// requestClarification asks one question and ends the turn. marker is set
// when the planner declared the question; its question wins over any the
// policy supplied.
func (d *dispatcher) requestClarification(ctx context.Context, c *SessionContext, dec Decision, marker *ClarificationMarker) (*ErrorInfo, error) {
	if c.ClarificationRound >= c.Limits.MaxClarificationRounds {
		info := Describe(&CeilingExceededError{Ceiling: CeilingClarificationRounds, Limit: c.Limits.MaxClarificationRounds})
		return info, apply(c, Fail{Err: *info})
	}

	var question, ambiguity string
	if marker != nil {
		question = strings.TrimSpace(marker.Question)
		ambiguity = marker.Ambiguity
	}
	if question == "" {
		question = dec.Param("question")
	}
	if question == "" && d.clarifier != nil {
		if ambiguity == "" {
			ambiguity = dec.Param("ambiguity")
		}
		if ambiguity == "" {
			ambiguity = dec.Rationale
		}
		req := ClarifyRequest{
			SessionID: c.SessionID,
			Query:     c.OriginalQuery,
			Ambiguity: ambiguity,
			History:   append([]ClarificationExchange(nil), c.ClarificationHistory...),
		}
		err := d.call(ctx, CollaboratorClarifier, d.timeouts.Clarifier, func(ctx context.Context) error {
			var err error
			question, err = d.clarifier.Clarify(ctx, req)
			question = strings.TrimSpace(question)
			return err
		})
		if err == nil && question == "" {
			err = NewCollaboratorError(CollaboratorClarifier, "empty_question", "clarifier returned no question", nil)
		}
		if err != nil {
			info := Describe(asCollaboratorError(CollaboratorClarifier, err))
			return info, apply(c, AttachError{Err: *info})
		}
	}
	if question == "" {
		question = DefaultClarificationQuestion
	}

	exchange := ClarificationExchange{
		Round:    c.ClarificationRound + 1,
		Query:    c.UserQuery,
		Question: question,
		AskedAt:  time.Now(),
	}
	return nil, apply(c,
		AppendClarification{Exchange: exchange},
		IncrementClarificationRound{},
		SetState{State: StateAwaitingClarification},
	)
}

func (d *dispatcher) requestExecution(ctx context.Context, c *SessionContext) (*ErrorInfo, error) {
	req := ExecuteRequest{SessionID: c.SessionID, Query: c.OriginalQuery, Plan: *c.Plan.clone()}

	var res *ExecutionResult
	err := d.call(ctx, CollaboratorExecutor, d.timeouts.Executor, func(ctx context.Context) error {
		var err error
		res, err = d.executor.Execute(ctx, req)
		return err
	})
	if err == nil && res == nil {
		err = NewCollaboratorError(CollaboratorExecutor, "empty_result", "executor returned no result", nil)
	}
	if err != nil {
		info := Describe(asCollaboratorError(CollaboratorExecutor, err))
		return info, apply(c, AttachError{Err: *info})
	}
	return nil, apply(c, ClearError{}, SetExecutionResult{Result: *res}, SetState{State: StateExecutionComplete})
}

func (d *dispatcher) requestFormatting(ctx context.Context, c *SessionContext) (*ErrorInfo, error) {
	req := RespondRequest{
		SessionID: c.SessionID,
		Query:     c.OriginalQuery,
		Plan:      c.Plan.clone(),
		Result:    *c.ExecutionResult.clone(),
	}

	var resp *FormattedResponse
	err := d.call(ctx, CollaboratorResponder, d.timeouts.Responder, func(ctx context.Context) error {
		var err error
		resp, err = d.responder.Respond(ctx, req)
		return err
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Explanation) == "") {
		err = NewCollaboratorError(CollaboratorResponder, "empty_response", "responder returned no explanation", nil)
	}
	if err != nil {
		info := Describe(asCollaboratorError(CollaboratorResponder, err))
		return info, apply(c, AttachError{Err: *info})
	}
	return nil, apply(c, ClearError{}, SetFormattedResponse{Response: *resp}, SetState{State: StateResponseComplete})
}

func (d *dispatcher) abort(c *SessionContext, dec Decision) (*ErrorInfo, error) {
	info := c.Err
	if info == nil {
		info = Describe(&AbortedError{Rationale: dec.Rationale})
	}
	return info, apply(c, Fail{Err: *info})
}

// call runs fn under its own timeout and span.
func (d *dispatcher) call(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, "orchestrator.collaborator."+name)
	defer span.End()
	span.SetAttributes(attribute.String("collaborator", name))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	d.metrics.recordCollaborator(ctx, name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// apply applies mutations in order, stopping at the first violation.
func apply(c *SessionContext, muts ...Mutation) error {
	for _, m := range muts {
		if _, err := c.Apply(m); err != nil {
			return err
		}
	}
	return nil
}
