package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRuntimeMetrics_AggregatesTurnAndToolStats(t *testing.T) {
	workspace := t.TempDir()
	recorder := NewRuntimeMetrics(workspace)

	if _, err := recorder.RecordTurnStarted(); err != nil {
		t.Fatalf("RecordTurnStarted error: %v", err)
	}
	_, _ = recorder.RecordTurnStarted()
	_, _ = recorder.RecordTurnOutcome(OutcomeCompleted)
	_, _ = recorder.RecordTurnOutcome(OutcomeBlocked)
	_, _ = recorder.RecordInputBlock()
	snap, _ := recorder.RecordRedactions(2)

	if snap.Turn.Started != 2 || snap.Turn.Completed != 1 || snap.Turn.Blocked != 1 {
		t.Fatalf("unexpected turn snapshot: %+v", snap.Turn)
	}
	if got := snap.Turn.BlockRatio(); got < 0.49 || got > 0.51 {
		t.Fatalf("expected block ratio about 0.5, got %.4f", got)
	}
	if snap.Guard.InputBlocks != 1 || snap.Guard.Redactions != 2 {
		t.Fatalf("unexpected guard snapshot: %+v", snap.Guard)
	}

	snap, err := recorder.RecordToolExecution(120*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("RecordToolExecution success error: %v", err)
	}
	if snap.Tool.Total != 1 || snap.Tool.Errors != 0 {
		t.Fatalf("unexpected first tool snapshot: %+v", snap.Tool)
	}

	_, _ = recorder.RecordToolExecution(250*time.Millisecond, errors.New("exec failed"))
	snap, _ = recorder.RecordToolExecution(2*time.Second, context.DeadlineExceeded)

	if snap.Tool.Total != 3 || snap.Tool.Errors != 2 || snap.Tool.Timeouts != 1 {
		t.Fatalf("unexpected tool snapshot: %+v", snap.Tool)
	}
	if snap.Tool.P95ProxyLatencyMs <= 0 {
		t.Fatalf("expected p95 proxy latency > 0, got %d", snap.Tool.P95ProxyLatencyMs)
	}
	if !snap.HasData() {
		t.Fatal("expected HasData to be true")
	}
}

func TestRuntimeMetrics_ReadRuntimeSnapshot(t *testing.T) {
	workspace := t.TempDir()
	recorder := NewRuntimeMetrics(workspace)
	if _, err := recorder.RecordTurnStarted(); err != nil {
		t.Fatalf("RecordTurnStarted error: %v", err)
	}
	if _, err := recorder.RecordToolExecution(99*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordToolExecution error: %v", err)
	}

	snap, err := ReadRuntimeSnapshot(workspace)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if snap.Turn.Started != 1 || snap.Tool.Total != 1 {
		t.Fatalf("unexpected loaded snapshot: %+v", snap)
	}
}

func TestReadRuntimeSnapshot_MissingFile(t *testing.T) {
	snap, err := ReadRuntimeSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if snap.HasData() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestRuntimeMetrics_ApprovalLifecycle(t *testing.T) {
	workspace := t.TempDir()
	recorder := NewRuntimeMetrics(workspace)

	_, _ = recorder.RecordApprovalRequested()
	_, _ = recorder.RecordApprovalRequested()
	_, _ = recorder.RecordApprovalRequested()
	_, _ = recorder.RecordApprovalOutcome(ApprovalApproved)
	_, _ = recorder.RecordApprovalOutcome(ApprovalRejected)
	snap, err := recorder.RecordApprovalOutcome(ApprovalExpired)
	if err != nil {
		t.Fatalf("RecordApprovalOutcome error: %v", err)
	}

	if snap.Approval.Requested != 3 {
		t.Fatalf("requested = %d, want 3", snap.Approval.Requested)
	}
	if snap.Approval.Approved != 1 || snap.Approval.Rejected != 1 || snap.Approval.Expired != 1 {
		t.Fatalf("unexpected approval snapshot: %+v", snap.Approval)
	}

	persisted, err := ReadRuntimeSnapshot(workspace)
	if err != nil {
		t.Fatalf("ReadRuntimeSnapshot error: %v", err)
	}
	if persisted.Approval != snap.Approval {
		t.Fatalf("persisted approval stats %+v differ from %+v", persisted.Approval, snap.Approval)
	}
}
