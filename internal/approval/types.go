package approval

import (
	"errors"
	"time"
)

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusExpired  RequestStatus = "expired"
	// StatusMoot marks a request whose turn was cancelled while the
	// decision was still pending. Moot requests can never be resolved.
	StatusMoot RequestStatus = "moot"
)

// ErrInvalidState is returned when resolving a request that is unknown or no
// longer pending. Exactly one resolution wins; every other resolver sees this
// error.
var ErrInvalidState = errors.New("approval request is not pending")

// ErrNotFound is returned for unknown request ids.
var ErrNotFound = errors.New("approval request not found")

// ErrExpired is returned when a decision arrives after the request's TTL has
// elapsed. The request is transitioned to Expired; a stale decision never
// releases the tool call.
var ErrExpired = errors.New("approval request expired")

// Request is a persisted approval request record, one per sensitive tool
// call per turn.
type Request struct {
	ID           string        `json:"id"`
	TurnID       string        `json:"turn_id"`
	CallID       string        `json:"call_id"`
	ToolName     string        `json:"tool_name"`
	ArgsJSON     string        `json:"args_json"`
	Reason       string        `json:"reason,omitempty"`
	DecisionNote string        `json:"decision_note,omitempty"`
	Status       RequestStatus `json:"status"`
	RequestedAt  time.Time     `json:"requested_at"`
	ExpiresAt    time.Time     `json:"expires_at,omitempty"`
	DecidedAt    time.Time     `json:"decided_at,omitempty"`
	DecidedBy    string        `json:"decided_by,omitempty"`
}

// Resolved reports whether the request reached a final state.
func (r Request) Resolved() bool {
	return r.Status != StatusPending
}

// CreateInput contains fields needed to create an approval request.
type CreateInput struct {
	TurnID   string
	CallID   string
	ToolName string
	ArgsJSON string
	Reason   string
	TTL      time.Duration
}

// DecisionInput contains fields needed to approve/reject a request.
type DecisionInput struct {
	DecidedBy string
	Note      string
}

// Query filters approval requests when listing.
type Query struct {
	ID       string
	TurnID   string
	Status   RequestStatus
	ToolName string
}
