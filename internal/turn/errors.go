package turn

import "errors"

// ErrPolicyBlock marks a guard rejection. Expected, user visible, terminal
// for the turn.
var ErrPolicyBlock = errors.New("blocked by policy")

// ErrApprovalRejected marks a human denial of a sensitive action. Expected,
// terminal for the turn.
var ErrApprovalRejected = errors.New("approval rejected")

// ErrCollaborator wraps a model, evaluator, or tool call failure after the
// retry budget is exhausted.
var ErrCollaborator = errors.New("collaborator call failed")

// ErrIterationLimit marks a regenerate loop that exceeded its configured cap.
var ErrIterationLimit = errors.New("iteration limit exceeded")

// ErrTurnNotFound is returned for unknown turn ids.
var ErrTurnNotFound = errors.New("turn not found")

// ErrTerminal is returned when an operation targets a turn that already
// reached a terminal phase.
var ErrTerminal = errors.New("turn is in a terminal phase")

// ErrNotSuspended is returned when resuming a turn that is not awaiting
// approval.
var ErrNotSuspended = errors.New("turn is not suspended")
