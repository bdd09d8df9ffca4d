// Package turn implements the guardrail orchestration state machine. One
// Turn carries a single user request through input checking, generation,
// output checking, approval, and tool execution until a terminal phase.
package turn

import (
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Phase is the current position of a turn in the pipeline.
type Phase string

const (
	PhaseCreated          Phase = "created"
	PhaseInputChecked     Phase = "input_checked"
	PhaseGenerating       Phase = "generating"
	PhaseOutputChecked    Phase = "output_checked"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseCompleted        Phase = "completed"
	PhaseBlocked          Phase = "blocked"
	PhaseFailed           Phase = "failed"
	PhaseCancelled        Phase = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseBlocked, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Message is one transcript entry. Roles follow the model wire format:
// user, assistant, tool.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is a model-requested tool invocation. Args is the raw JSON
// argument string the model produced.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// Suspension records why a turn is parked in AwaitingApproval.
type Suspension struct {
	RequestIDs  []string  `json:"request_ids"`
	SuspendedAt time.Time `json:"suspended_at"`
}

// ResultKind classifies the outcome reported to the caller.
type ResultKind string

const (
	ResultAnswer    ResultKind = "answer"
	ResultBlocked   ResultKind = "blocked"
	ResultAwaiting  ResultKind = "awaiting_approval"
	ResultRejected  ResultKind = "rejected"
	ResultFailed    ResultKind = "failed"
	ResultCancelled ResultKind = "cancelled"
)

// Result is the caller-visible outcome of a turn, set when the turn reaches a
// terminal phase or suspends.
type Result struct {
	Kind       ResultKind `json:"kind"`
	Answer     string     `json:"answer,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Rule       string     `json:"rule,omitempty"`
	RequestIDs []string   `json:"request_ids,omitempty"`
}

// Err maps a terminal result to the package error taxonomy. Answer and
// awaiting results map to nil; callers that treat blocks or rejections as
// errors can branch with errors.Is.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case ResultBlocked:
		return fmt.Errorf("%w: %s", ErrPolicyBlock, r.Reason)
	case ResultRejected:
		return fmt.Errorf("%w: %s", ErrApprovalRejected, r.Reason)
	case ResultFailed:
		return errors.New(r.Reason)
	default:
		return nil
	}
}

// Turn is the serializable state of one user request. Owned exclusively by
// the orchestrator; persisted on every phase transition so a suspended turn
// survives a restart.
type Turn struct {
	ID            string            `json:"id"`
	Phase         Phase             `json:"phase"`
	Transcript    []Message         `json:"transcript"`
	PendingCalls  []ToolCall        `json:"pending_calls,omitempty"`
	ExecutedCalls map[string]string `json:"executed_calls,omitempty"`
	Iteration     int               `json:"iteration"`
	Suspension    *Suspension       `json:"suspension,omitempty"`
	Result        *Result           `json:"result,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// UserText returns the first user message of the transcript.
func (t *Turn) UserText() string {
	for _, msg := range t.Transcript {
		if msg.Role == "user" {
			return msg.Content
		}
	}
	return ""
}

// RecordExecuted marks a tool call id as executed with its redacted result.
// Recorded ids are never re-executed.
func (t *Turn) RecordExecuted(callID, result string) {
	if t.ExecutedCalls == nil {
		t.ExecutedCalls = make(map[string]string)
	}
	t.ExecutedCalls[callID] = result
}

// Executed reports whether a tool call id already ran, and its result.
func (t *Turn) Executed(callID string) (string, bool) {
	result, ok := t.ExecutedCalls[callID]
	return result, ok
}

// SchemaMessages converts the transcript tail into eino messages for the
// model call. limit <= 0 means the full transcript.
func (t *Turn) SchemaMessages(limit int) []*schema.Message {
	transcript := t.Transcript
	if limit > 0 && len(transcript) > limit {
		transcript = transcript[len(transcript)-limit:]
	}

	messages := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		converted := &schema.Message{
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		switch msg.Role {
		case "assistant":
			converted.Role = schema.Assistant
			for _, call := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, schema.ToolCall{
					ID: call.ID,
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: call.Args,
					},
				})
			}
		case "tool":
			converted.Role = schema.Tool
		case "system":
			converted.Role = schema.System
		default:
			converted.Role = schema.User
		}
		messages = append(messages, converted)
	}
	return messages
}

// CallsFromResponse extracts tool calls from a model response message.
func CallsFromResponse(resp *schema.Message) []ToolCall {
	if resp == nil || len(resp.ToolCalls) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: tc.Function.Arguments,
		})
	}
	return calls
}
