package turn

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/medsentry/medsentry/internal/redact"
	"github.com/medsentry/medsentry/internal/tools"
)

type failingTool struct{ name string }

func (t *failingTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "always fails"}, nil
}

func (t *failingTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	return "", errors.New("backend unavailable")
}

func TestExecuteBatch_RedactsAndPreservesOrder(t *testing.T) {
	registry := tools.NewRegistry()
	first := &countingTool{name: "search_patient", result: "contact: jane@example.com"}
	second := &countingTool{name: "search_medical_literature", result: "GINA 2024 update"}
	for _, tl := range []tools.Tool{first, second} {
		if err := registry.Register(tl); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	executor := NewExecutor(registry, redact.NewRedactor(), nil)
	tn := &Turn{ID: "turn-1"}
	calls := []ToolCall{
		{ID: "call_1", Name: "search_patient", Args: "{}"},
		{ID: "call_2", Name: "search_medical_literature", Args: "{}"},
	}

	messages, err := executor.ExecuteBatch(context.Background(), tn, calls)
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if messages[0].ToolCallID != "call_1" || messages[1].ToolCallID != "call_2" {
		t.Errorf("order = %s, %s", messages[0].ToolCallID, messages[1].ToolCallID)
	}
	if strings.Contains(messages[0].Content, "jane@example.com") {
		t.Errorf("raw email in result: %q", messages[0].Content)
	}
	if !strings.Contains(messages[0].Content, "[EMAIL REDACTED]") {
		t.Errorf("mask missing: %q", messages[0].Content)
	}
}

func TestExecuteBatch_SkipsRecordedCalls(t *testing.T) {
	registry := tools.NewRegistry()
	tl := &countingTool{name: "send_email", result: "sent"}
	if err := registry.Register(tl); err != nil {
		t.Fatalf("register: %v", err)
	}

	executor := NewExecutor(registry, nil, nil)
	tn := &Turn{ID: "turn-1"}
	tn.RecordExecuted("call_1", "sent")

	messages, err := executor.ExecuteBatch(context.Background(), tn, []ToolCall{{ID: "call_1", Name: "send_email", Args: "{}"}})
	if err != nil {
		t.Fatalf("execute batch: %v", err)
	}
	if tl.runCount() != 0 {
		t.Fatalf("recorded call re-executed %d times", tl.runCount())
	}
	if len(messages) != 1 || messages[0].Content != "sent" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
}

func TestExecuteBatch_FailureRecordsCompletedSideEffects(t *testing.T) {
	registry := tools.NewRegistry()
	ok := &countingTool{name: "search_patient", result: "found"}
	bad := &failingTool{name: "delete_record"}
	if err := registry.Register(ok); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(bad); err != nil {
		t.Fatalf("register: %v", err)
	}

	executor := NewExecutor(registry, nil, nil)
	tn := &Turn{ID: "turn-1"}
	calls := []ToolCall{
		{ID: "call_1", Name: "search_patient", Args: "{}"},
		{ID: "call_2", Name: "delete_record", Args: "{}"},
	}

	_, err := executor.ExecuteBatch(context.Background(), tn, calls)
	if !errors.Is(err, ErrCollaborator) {
		t.Fatalf("error = %v, want ErrCollaborator", err)
	}
	if _, done := tn.Executed("call_1"); !done {
		t.Error("successful call not recorded in executed set")
	}
	if _, done := tn.Executed("call_2"); done {
		t.Error("failed call recorded as executed")
	}
}
