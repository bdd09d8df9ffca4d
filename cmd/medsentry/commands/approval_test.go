package commands

import (
	"strings"
	"testing"

	"github.com/medsentry/medsentry/internal/approval"
	"github.com/medsentry/medsentry/internal/config"
)

func TestApprovalList_Empty(t *testing.T) {
	prepareApprovalWorkspace(t)

	output := captureOutput(t, func() {
		if err := runApprovalList(nil, nil); err != nil {
			t.Errorf("runApprovalList error: %v", err)
		}
	})
	if !strings.Contains(output, "No pending approvals.") {
		t.Errorf("expected empty notice, got: %s", output)
	}
}

func TestApprovalList_ShowsPendingRequest(t *testing.T) {
	workspacePath := prepareApprovalWorkspace(t)

	svc := approval.NewService(workspacePath, 0)
	req, err := svc.Create(approval.CreateInput{
		TurnID:   "turn-list",
		CallID:   "call-1",
		ToolName: "send_email",
		ArgsJSON: `{"to":"a@b.org"}`,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	output := captureOutput(t, func() {
		if err := runApprovalList(nil, nil); err != nil {
			t.Errorf("runApprovalList error: %v", err)
		}
	})
	if !strings.Contains(output, req.ID) {
		t.Errorf("expected request id in output, got: %s", output)
	}
	if !strings.Contains(output, "send_email") {
		t.Errorf("expected tool name in output, got: %s", output)
	}
}

func TestApprovalApprove_NoModelFallsBackToService(t *testing.T) {
	workspacePath := prepareApprovalWorkspace(t)

	svc := approval.NewService(workspacePath, 0)
	req, err := svc.Create(approval.CreateInput{
		TurnID:   "turn-approve",
		CallID:   "call-1",
		ToolName: "delete_record",
		ArgsJSON: `{"patient_id":"P001"}`,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cmd := newApprovalApproveCmd()
	if err := cmd.Flags().Set("by", "tester"); err != nil {
		t.Fatalf("set --by: %v", err)
	}

	output := captureOutput(t, func() {
		if err := runApprovalApprove(cmd, []string{req.ID}); err != nil {
			t.Errorf("runApprovalApprove error: %v", err)
		}
	})
	if !strings.Contains(output, "approved") {
		t.Errorf("expected approved notice, got: %s", output)
	}

	updated, err := svc.Get(req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != approval.StatusApproved {
		t.Errorf("status = %s, want %s", updated.Status, approval.StatusApproved)
	}
	if updated.DecidedBy != "tester" {
		t.Errorf("decided by = %q, want tester", updated.DecidedBy)
	}
}

func TestApprovalReject_RecordsNote(t *testing.T) {
	workspacePath := prepareApprovalWorkspace(t)

	svc := approval.NewService(workspacePath, 0)
	req, err := svc.Create(approval.CreateInput{
		TurnID:   "turn-reject",
		CallID:   "call-1",
		ToolName: "send_email",
		ArgsJSON: `{}`,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cmd := newApprovalRejectCmd()
	if err := cmd.Flags().Set("by", "tester"); err != nil {
		t.Fatalf("set --by: %v", err)
	}
	if err := cmd.Flags().Set("note", "wrong recipient"); err != nil {
		t.Fatalf("set --note: %v", err)
	}

	if err := runApprovalReject(cmd, []string{req.ID}); err != nil {
		t.Fatalf("runApprovalReject error: %v", err)
	}

	updated, err := svc.Get(req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Status != approval.StatusRejected {
		t.Errorf("status = %s, want %s", updated.Status, approval.StatusRejected)
	}
	if updated.DecisionNote != "wrong recipient" {
		t.Errorf("note = %q, want wrong recipient", updated.DecisionNote)
	}
}

func prepareApprovalWorkspace(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("USERPROFILE", tmpDir)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	workspacePath, err := cfg.WorkspacePathChecked()
	if err != nil {
		t.Fatalf("WorkspacePathChecked: %v", err)
	}
	return workspacePath
}
