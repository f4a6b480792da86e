// Package orchestrator implements the bounded control loop that turns a
// natural-language question into an answer, a clarification question or a
// typed failure.
//
// # Overview
//
// Each turn repeatedly asks a Policy what should happen next, validates the
// proposed Action against the current State, dispatches it to one of four
// collaborators and records the pass in an append-only decision trail:
//
//	NEW_QUERY → PLANNING_COMPLETE → EXECUTION_COMPLETE → RESPONSE_COMPLETE → DONE
//
// AWAITING_CLARIFICATION ends the turn with a question; the next turn resumes
// the conversation with ResumeSessionContext. FAILED ends the turn with
// exactly one error.
//
// # Key Components
//
//   - SessionContext: per-turn state, changed only through the closed set of
//     Mutation values passed to Apply. Violations are ConsistencyErrors.
//   - Policy: opaque, possibly non-deterministic oracle. Any failure to
//     produce a known Action is a PolicyDecodeError and forces ABORT.
//   - Planner, Executor, Clarifier, Responder: collaborator contracts. Their
//     failures are attached to the context for the next decision and never
//     retried by the dispatcher itself.
//   - Engine: the loop. Iteration and clarification ceilings are checked
//     before an action is applied.
//
// # Usage Example
//
//	engine, err := orchestrator.NewEngine(policy, planner, executor, responder,
//	    orchestrator.WithClarifier(clarifier),
//	    orchestrator.WithLogger(logger),
//	)
//	sc := engine.NewContext(sessionID, turnID, "count rows in table X")
//	result, err := engine.RunTurn(ctx, sc)
//
// A non-nil error from RunTurn means an internal invariant was broken; every
// runtime failure is reported as an OutcomeFailed result instead.
package orchestrator
